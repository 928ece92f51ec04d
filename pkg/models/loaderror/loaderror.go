package loaderror

import (
	"errors"
	"fmt"
)

const (
	LOAD_UNEXPECTED  = "LOADU"
	LOAD_NOT_FOUND   = "LOADN"
	LOAD_UNSUPPORTED = "LOADS"
	LOAD_VALIDATION  = "LOADV"
	LOAD_SUBMIT      = "LOADX"
	LOAD_INVARIANT   = "LOADI"
	LOAD_CANCELLED   = "LOADC"
)

var existingErrorCodeMap = map[string]string{
	LOAD_UNEXPECTED:  "Unexpected error",
	LOAD_NOT_FOUND:   "Object not found",
	LOAD_UNSUPPORTED: "Unsupported",
	LOAD_VALIDATION:  "Validation error",
	LOAD_SUBMIT:      "Submit error",
	LOAD_INVARIANT:   "Invariant violation",
	LOAD_CANCELLED:   "Cancelled",
}

// GetMessageByCode returns the human readable name of the error code.
func GetMessageByCode(errorCode string) string {
	rep, ok := existingErrorCodeMap[errorCode]
	if ok {
		return rep
	}
	return "Unexpected error"
}

var _ error = &LoadError{}

type LoadError struct {
	Err error

	ErrorCode string
}

// New creates a LoadError with the given code and message.
func New(errorCode string, msg string) *LoadError {
	return &LoadError{
		Err:       errors.New(msg),
		ErrorCode: errorCode,
	}
}

// Newf creates a LoadError with the given code and a formatted message.
// %w verbs keep the wrapped error reachable through errors.Is / errors.As.
func Newf(errorCode string, format string, a ...any) *LoadError {
	return &LoadError{
		Err:       fmt.Errorf(format, a...),
		ErrorCode: errorCode,
	}
}

func (er *LoadError) Error() string {
	return er.Err.Error()
}

func (er *LoadError) Unwrap() error {
	return er.Err
}

// CodeOf returns the code of the outermost LoadError in the chain,
// LOAD_UNEXPECTED for foreign errors and an empty string for nil.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var le *LoadError
	if errors.As(err, &le) {
		return le.ErrorCode
	}
	return LOAD_UNEXPECTED
}

// Is reports whether err carries the given code.
func Is(err error, errorCode string) bool {
	return err != nil && CodeOf(err) == errorCode
}

// IsRetryable reports whether a new attempt may succeed: vanished catalog
// objects are re-read by a fresh snapshot and submit failures are transient.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case LOAD_NOT_FOUND, LOAD_SUBMIT:
		return true
	default:
		return false
	}
}
