// Package engine describes the boundary to the execution engine running
// an assembled job.
package engine

import (
	"context"

	"github.com/pg-sharding/bulkload/pkg/jobspec"
)

type AppState string

const (
	AppRunning  = AppState("RUNNING")
	AppFinished = AppState("FINISHED")
	AppFailed   = AppState("FAILED")
)

// Request is one submission. The config has already been written to
// ConfigPath when Submit is called.
type Request struct {
	Config     *jobspec.JobConfig
	ConfigPath string
}

// AppHandle identifies a submitted application.
type AppHandle struct {
	AppID      string `json:"app_id"`
	ConfigPath string `json:"config_path"`
	OutputPath string `json:"output_path"`
}

// Status is the result of a poll. Manifest maps output file paths to
// their sizes and is set once the application finished.
type Status struct {
	State      AppState
	Progress   int
	Manifest   map[string]int64
	FailReason string
}

//go:generate mockgen -source=./engine.go -destination=./mock/mock_engine.go -package=mock
type Submitter interface {
	Submit(ctx context.Context, req *Request) (*AppHandle, error)
	Poll(ctx context.Context, h *AppHandle) (*Status, error)
	Kill(ctx context.Context, h *AppHandle) error
}
