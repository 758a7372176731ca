package process

import (
	"context"
	"time"
)

// StepTraceEntry records one step dispatch for the execution trace.
type StepTraceEntry struct {
	ExecutionID string         `json:"execution_id"`
	ProcessID   string         `json:"process_id"`
	StepID      string         `json:"step_id"`
	StepName    string         `json:"step_name"`
	StepType    StepType       `json:"step_type"`
	Status      StepStatus     `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	Attempts    int            `json:"attempts,omitempty"`
	StartTime   time.Time      `json:"start_time"`
	Duration    float64        `json:"duration"`
}

// TraceLogger is the engine's step-level observability sink.
type TraceLogger interface {
	// LogStep records a finished step dispatch (completed, failed or skipped)
	LogStep(ctx context.Context, entry *StepTraceEntry) error

	// GetTrace retrieves the recorded trace for an execution
	GetTrace(ctx context.Context, executionID string) ([]*StepTraceEntry, error)
}
