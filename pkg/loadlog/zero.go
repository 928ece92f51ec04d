package loadlog

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var Zero = NewZeroLogger("", "info", false)

// logFile is the file currently backing Zero, nil when writing to stdout.
var logFile *os.File

// NewZeroLogger creates a zerolog logger writing JSON lines to filepath
// (stdout when empty). Pretty switches to the human readable console writer.
func NewZeroLogger(filepath string, logLevel string, pretty bool) *zerolog.Logger {
	file, writer, err := newWriter(filepath)
	if err != nil {
		fmt.Printf("FAILED TO INITIALIZE LOGGER: %v", err)
		writer = os.Stdout
	}
	logFile = file

	if pretty {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}
	}
	logger := zerolog.New(writer).With().Timestamp().Logger().Level(parseLevel(logLevel))

	return &logger
}

// ReloadLogger replaces Zero, closing the previously opened log file if any.
func ReloadLogger(filepath string, logLevel string, pretty bool) {
	oldFile := logFile
	Zero = NewZeroLogger(filepath, logLevel, pretty)
	if oldFile != nil && oldFile != logFile {
		_ = oldFile.Close()
	}
}

func UpdateZeroLogLevel(logLevel string) error {
	level := parseLevel(logLevel)
	zeroLogger := Zero.With().Logger().Level(level)
	Zero = &zeroLogger
	return nil
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "disabled":
		return zerolog.Disabled
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
