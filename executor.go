package process

import (
	"context"
	"sort"
)

// StepRequest carries everything a handler needs for one dispatch.
type StepRequest struct {
	ExecutionID string
	ProcessID   string
	Step        *StepDefinition
	Input       map[string]any
}

// StepHandler executes steps of one type. Handlers receive the step input
// (the current payload unless an input mapping narrows it) and return the
// step output.
type StepHandler interface {

	// Type returns the step type this handler serves.
	Type() StepType

	// Execute runs one step. The context carries the step timeout and the
	// execution's cancellation signal.
	Execute(ctx context.Context, req *StepRequest) (map[string]any, error)
}

// StepHandlerFunc is a function adapter for StepHandler
type StepHandlerFunc struct {
	stepType StepType
	fn       func(ctx context.Context, req *StepRequest) (map[string]any, error)
}

// NewStepHandlerFunc creates a new StepHandlerFunc
func NewStepHandlerFunc(stepType StepType, fn func(ctx context.Context, req *StepRequest) (map[string]any, error)) *StepHandlerFunc {
	return &StepHandlerFunc{stepType: stepType, fn: fn}
}

func (h *StepHandlerFunc) Type() StepType {
	return h.stepType
}

func (h *StepHandlerFunc) Execute(ctx context.Context, req *StepRequest) (map[string]any, error) {
	return h.fn(ctx, req)
}

// Executor dispatches steps to handlers keyed by step type.
type Executor struct {
	handlers map[StepType]StepHandler
}

// NewExecutor creates an executor from the given handlers. Registering two
// handlers for the same type keeps the last one.
func NewExecutor(handlers ...StepHandler) *Executor {
	table := make(map[StepType]StepHandler, len(handlers))
	for _, handler := range handlers {
		table[handler.Type()] = handler
	}
	return &Executor{handlers: table}
}

// Execute dispatches one step. A step type with no registered handler is an
// unsupported-step-type error, which the engine treats as fatal.
func (e *Executor) Execute(ctx context.Context, req *StepRequest) (map[string]any, error) {
	handler, ok := e.handlers[req.Step.Type]
	if !ok {
		return nil, NewUnsupportedStepTypeError(req.Step.ID, req.Step.Type)
	}
	return handler.Execute(ctx, req)
}

// Types returns the registered step types, sorted.
func (e *Executor) Types() []StepType {
	types := make([]StepType, 0, len(e.handlers))
	for t := range e.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
