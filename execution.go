package process

import (
	"time"

	"go.jetify.com/typeid"
)

// NewExecutionID returns a new unique execution identifier
func NewExecutionID() string {
	id, err := typeid.WithPrefix("exec")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// ExecutionStatus represents the execution status
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusPartial   ExecutionStatus = "partial"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed,
		ExecutionStatusPartial, ExecutionStatusCancelled:
		return true
	}
	return false
}

// StepStatus represents the status of a single step record
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepRecord captures one step's run within an execution. This struct is
// designed to be fully JSON serializable.
type StepRecord struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        StepType       `json:"type"`
	Status      StepStatus     `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	Attempts    int            `json:"attempts,omitempty"`
	StartedAt   time.Time      `json:"started_at,omitzero"`
	CompletedAt time.Time      `json:"completed_at,omitzero"`
}

// Execution is one run of a process definition against a specific payload.
// The engine mutates it during the step loop; ExecutionStore holds copies for
// status queries and cancellation.
type Execution struct {
	ID             string          `json:"id"`
	ProcessID      string          `json:"process_id"`
	ProcessName    string          `json:"process_name,omitempty"`
	Status         ExecutionStatus `json:"status"`
	Steps          []StepRecord    `json:"steps"`
	Errors         []string        `json:"errors,omitempty"`
	Warnings       []string        `json:"warnings,omitempty"`
	Payload        map[string]any  `json:"payload"`
	UserID         string          `json:"user_id,omitempty"`
	CompanyID      string          `json:"company_id,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    time.Time       `json:"completed_at,omitzero"`
	StepsCompleted int             `json:"steps_completed"`
	TotalSteps     int             `json:"total_steps"`
}

// Copy returns a deep-enough copy for snapshot reads: slices and the top
// level of the payload are copied, nested values are shared (readers must
// not mutate them).
func (e *Execution) Copy() *Execution {
	dup := *e
	dup.Steps = make([]StepRecord, len(e.Steps))
	copy(dup.Steps, e.Steps)
	dup.Errors = append([]string(nil), e.Errors...)
	dup.Warnings = append([]string(nil), e.Warnings...)
	dup.Payload = copyMap(e.Payload)
	return &dup
}

// Summary returns a compact view of the execution.
func (e *Execution) Summary() ExecutionSummary {
	var duration time.Duration
	if !e.CompletedAt.IsZero() {
		duration = e.CompletedAt.Sub(e.StartedAt)
	}
	var errMsg string
	if len(e.Errors) > 0 {
		errMsg = e.Errors[0]
	}
	return ExecutionSummary{
		ExecutionID:    e.ID,
		ProcessID:      e.ProcessID,
		ProcessName:    e.ProcessName,
		Status:         string(e.Status),
		StartedAt:      e.StartedAt,
		CompletedAt:    e.CompletedAt,
		Duration:       duration,
		StepsCompleted: e.StepsCompleted,
		TotalSteps:     e.TotalSteps,
		Error:          errMsg,
	}
}

// ExecutionSummary provides a summary view of an execution
type ExecutionSummary struct {
	ExecutionID    string        `json:"execution_id"`
	ProcessID      string        `json:"process_id"`
	ProcessName    string        `json:"process_name,omitempty"`
	Status         string        `json:"status"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    time.Time     `json:"completed_at,omitzero"`
	Duration       time.Duration `json:"duration"`
	StepsCompleted int           `json:"steps_completed"`
	TotalSteps     int           `json:"total_steps"`
	Error          string        `json:"error,omitempty"`
}

// Result is returned to the caller of ExecuteProcess.
type Result struct {
	ExecutionID    string          `json:"execution_id"`
	Status         ExecutionStatus `json:"status"`
	StepsCompleted int             `json:"steps_completed"`
	TotalSteps     int             `json:"total_steps"`
	Errors         []string        `json:"errors,omitempty"`
	Warnings       []string        `json:"warnings,omitempty"`
	Payload        map[string]any  `json:"payload"`
	Duration       time.Duration   `json:"duration"`
}
