package process

import (
	"context"
	"time"
)

// ExecutionCallbacks defines the callback interface for process execution events
type ExecutionCallbacks interface {
	// Process-level callbacks
	BeforeProcessExecution(ctx context.Context, event *ProcessExecutionEvent)
	AfterProcessExecution(ctx context.Context, event *ProcessExecutionEvent)

	// Step-level callbacks
	BeforeStepExecution(ctx context.Context, event *StepExecutionEvent)
	AfterStepExecution(ctx context.Context, event *StepExecutionEvent)
}

// ProcessExecutionEvent provides context for process-level execution events
type ProcessExecutionEvent struct {
	ExecutionID    string
	ProcessID      string
	ProcessName    string
	Status         ExecutionStatus
	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	Payload        map[string]any
	StepsCompleted int
	TotalSteps     int
	Error          error
}

// StepExecutionEvent provides context for step-level execution events
type StepExecutionEvent struct {
	ExecutionID string
	ProcessID   string
	StepID      string
	StepName    string
	StepType    StepType
	Status      StepStatus
	Input       map[string]any
	Output      map[string]any
	Attempts    int
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
	Error       error
}

// BaseExecutionCallbacks provides a default implementation that does nothing.
// Embed this in your own callbacks to implement only the events you need.
type BaseExecutionCallbacks struct{}

func (n *BaseExecutionCallbacks) BeforeProcessExecution(ctx context.Context, event *ProcessExecutionEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) AfterProcessExecution(ctx context.Context, event *ProcessExecutionEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) BeforeStepExecution(ctx context.Context, event *StepExecutionEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) AfterStepExecution(ctx context.Context, event *StepExecutionEvent) {
	// noop
}

// CallbackChain allows chaining multiple callback implementations
type CallbackChain struct {
	callbacks []ExecutionCallbacks
}

// NewCallbackChain creates a new callback chain
func NewCallbackChain(callbacks ...ExecutionCallbacks) *CallbackChain {
	return &CallbackChain{callbacks: callbacks}
}

// Add adds a callback to the chain
func (c *CallbackChain) Add(callback ExecutionCallbacks) {
	c.callbacks = append(c.callbacks, callback)
}

func (c *CallbackChain) BeforeProcessExecution(ctx context.Context, event *ProcessExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeProcessExecution(ctx, event)
	}
}

func (c *CallbackChain) AfterProcessExecution(ctx context.Context, event *ProcessExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.AfterProcessExecution(ctx, event)
	}
}

func (c *CallbackChain) BeforeStepExecution(ctx context.Context, event *StepExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeStepExecution(ctx, event)
	}
}

func (c *CallbackChain) AfterStepExecution(ctx context.Context, event *StepExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.AfterStepExecution(ctx, event)
	}
}
