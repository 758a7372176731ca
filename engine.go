package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/deepnoodle-ai/process/retry"
)

// Request asks the engine to run one process against a payload.
type Request struct {
	ProcessID   string         `json:"process_id"`
	ProcessType ProcessType    `json:"process_type,omitempty"`
	Data        map[string]any `json:"data"`
	UserID      string         `json:"user_id"`
	CompanyID   string         `json:"company_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Priority    string         `json:"priority,omitempty"`
	Timeout     time.Duration  `json:"timeout,omitempty"`
}

// Validate checks the request shape. A malformed request is rejected before
// any execution state is created.
func (r *Request) Validate() error {
	if r.ProcessID == "" {
		return NewValidationError("process id required")
	}
	if r.Data == nil {
		return NewValidationError("request data required")
	}
	if r.UserID == "" {
		return NewValidationError("user id required")
	}
	if r.CompanyID == "" {
		return NewValidationError("company id required")
	}
	return nil
}

// EngineOptions configures a new Engine
type EngineOptions struct {
	Registry    *Registry
	Store       ExecutionStore
	Handlers    []StepHandler
	Logger      *slog.Logger
	Config      Config
	TraceLogger TraceLogger
	Callbacks   ExecutionCallbacks
}

// Engine orchestrates process executions: it resolves definitions, walks the
// ordered step chain, dispatches steps through the handler table, threads the
// payload between steps, and records the execution in the store.
type Engine struct {
	registry    *Registry
	store       ExecutionStore
	executor    *Executor
	logger      *slog.Logger
	config      Config
	retryPolicy retry.Policy
	trace       TraceLogger
	callbacks   ExecutionCallbacks

	mutex   sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewEngine creates an engine from the given options. Handlers are required;
// everything else has working defaults.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if len(opts.Handlers) == 0 {
		return nil, fmt.Errorf("step handlers are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry(opts.Logger)
	}
	if opts.Store == nil {
		opts.Store = NewMemoryExecutionStore()
	}
	if opts.TraceLogger == nil {
		opts.TraceLogger = NewNullTraceLogger()
	}
	if opts.Callbacks == nil {
		opts.Callbacks = &BaseExecutionCallbacks{}
	}
	opts.Config.ApplyDefaults()

	return &Engine{
		registry:    opts.Registry,
		store:       opts.Store,
		executor:    NewExecutor(opts.Handlers...),
		logger:      opts.Logger,
		config:      opts.Config,
		retryPolicy: opts.Config.RetryPolicy(),
		trace:       opts.TraceLogger,
		callbacks:   opts.Callbacks,
		cancels:     map[string]context.CancelFunc{},
	}, nil
}

// Registry returns the engine's process definition registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// RegisterProcess validates and registers a process definition.
func (e *Engine) RegisterProcess(def *ProcessDefinition) error {
	return e.registry.Register(def)
}

// GetExecutionStatus returns a snapshot of an execution, or a not-found
// error for an unknown ID.
func (e *Engine) GetExecutionStatus(ctx context.Context, executionID string) (*Execution, error) {
	return e.store.Get(ctx, executionID)
}

// CancelExecution cancels a running execution. The stored record transitions
// to cancelled and the execution's context is cancelled, which aborts any
// in-flight remote call. Cancelling an already-terminal execution fails with
// an "already completed" error and mutates nothing.
func (e *Engine) CancelExecution(ctx context.Context, executionID string) error {
	if _, err := e.store.Cancel(ctx, executionID); err != nil {
		return err
	}

	e.mutex.Lock()
	cancel, ok := e.cancels[executionID]
	e.mutex.Unlock()
	if ok {
		cancel()
	}

	e.logger.Info("execution cancelled", "execution_id", executionID)
	return nil
}

// ExecuteProcess runs the named process against the request payload,
// blocking until the chain finishes. Steps run strictly sequentially. The
// returned Result reflects the final execution state; for a fatal abort the
// fatal error is also returned.
func (e *Engine) ExecuteProcess(ctx context.Context, request *Request) (*Result, error) {
	if request == nil {
		return nil, NewValidationError("request required")
	}
	if err := request.Validate(); err != nil {
		return nil, err
	}

	definition, err := e.registry.Get(request.ProcessID)
	if err != nil {
		return nil, err
	}

	steps := definition.SortedSteps()
	execution := &Execution{
		ID:          NewExecutionID(),
		ProcessID:   definition.ID,
		ProcessName: definition.Name,
		Status:      ExecutionStatusRunning,
		Payload:     copyMap(request.Data),
		UserID:      request.UserID,
		CompanyID:   request.CompanyID,
		StartedAt:   time.Now(),
		TotalSteps:  len(steps),
	}

	ctx, cancel := context.WithTimeout(ctx, e.processTimeout(definition, request))
	defer cancel()
	e.registerCancel(execution.ID, cancel)
	defer e.unregisterCancel(execution.ID)

	if err := e.store.Save(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to store execution: %w", err)
	}

	logger := e.logger.With("execution_id", execution.ID, "process_id", definition.ID)
	logger.Info("starting process execution",
		"process_name", definition.Name,
		"total_steps", execution.TotalSteps)

	e.callbacks.BeforeProcessExecution(ctx, &ProcessExecutionEvent{
		ExecutionID: execution.ID,
		ProcessID:   definition.ID,
		ProcessName: definition.Name,
		Status:      execution.Status,
		StartTime:   execution.StartedAt,
		Payload:     copyMap(execution.Payload),
		TotalSteps:  execution.TotalSteps,
	})

	var fatalErr error
	for i := range steps {
		if ctx.Err() != nil {
			break
		}
		step := &steps[i]
		record := e.runStep(ctx, logger, definition, execution, step)
		execution.Steps = append(execution.Steps, record.StepRecord)

		switch record.Status {
		case StepStatusCompleted:
			execution.StepsCompleted++
		case StepStatusFailed:
			execution.Errors = append(execution.Errors,
				fmt.Sprintf("step %q: %s", step.Name, record.Error))
		}

		if record.fatal != nil {
			fatalErr = record.fatal
			break
		}

		if err := e.syncExecution(ctx, execution); err != nil {
			logger.Error("failed to persist execution progress", "error", err)
		}
		if execution.Status == ExecutionStatusCancelled {
			break
		}
	}

	e.finalize(ctx, logger, execution, fatalErr)

	result := &Result{
		ExecutionID:    execution.ID,
		Status:         execution.Status,
		StepsCompleted: execution.StepsCompleted,
		TotalSteps:     execution.TotalSteps,
		Errors:         append([]string(nil), execution.Errors...),
		Warnings:       append([]string(nil), execution.Warnings...),
		Payload:        execution.Payload,
		Duration:       execution.CompletedAt.Sub(execution.StartedAt),
	}
	return result, fatalErr
}

// stepOutcome augments a StepRecord with the fatal error, if any, that must
// abort the loop.
type stepOutcome struct {
	StepRecord
	fatal error
}

func (e *Engine) runStep(ctx context.Context, logger *slog.Logger, definition *ProcessDefinition, execution *Execution, step *StepDefinition) *stepOutcome {
	record := &stepOutcome{StepRecord: StepRecord{
		ID:        step.ID,
		Name:      step.Name,
		Type:      step.Type,
		Status:    StepStatusPending,
		StartedAt: time.Now(),
	}}

	if len(step.Conditions) > 0 && !EvaluateConditions(step.Conditions, execution.Payload) {
		record.Status = StepStatusSkipped
		record.CompletedAt = time.Now()
		logger.Info("step skipped", "step_id", step.ID, "step_name", step.Name)
		e.logTrace(ctx, logger, execution, record)
		return record
	}

	input := BuildStepInput(execution.Payload, step.InputMapping)
	record.Input = copyMap(input)
	record.Status = StepStatusRunning

	e.callbacks.BeforeStepExecution(ctx, &StepExecutionEvent{
		ExecutionID: execution.ID,
		ProcessID:   execution.ProcessID,
		StepID:      step.ID,
		StepName:    step.Name,
		StepType:    step.Type,
		Status:      record.Status,
		Input:       record.Input,
		StartTime:   record.StartedAt,
	})

	stepRequest := &StepRequest{
		ExecutionID: execution.ID,
		ProcessID:   execution.ProcessID,
		Step:        step,
		Input:       input,
	}

	var output map[string]any
	attempt := func() error {
		record.Attempts++
		stepCtx, cancelStep := context.WithTimeout(ctx, e.stepTimeout(step))
		defer cancelStep()
		var err error
		output, err = e.executor.Execute(stepCtx, stepRequest)
		return err
	}

	var err error
	if step.RetryOnFailure {
		err = retry.DoWithPolicy(ctx, e.stepRetryPolicy(definition), attempt)
	} else {
		err = attempt()
	}

	record.CompletedAt = time.Now()
	if err != nil {
		record.Status = StepStatusFailed
		record.Error = err.Error()
		if IsFatalStepError(err) {
			record.fatal = err
		}
		logger.Error("step failed",
			"step_id", step.ID,
			"step_name", step.Name,
			"attempts", record.Attempts,
			"error", err)
	} else {
		record.Status = StepStatusCompleted
		record.Output = output
		var warnings []string
		execution.Payload, warnings = ApplyStepOutput(execution.Payload, output, step.OutputMapping)
		execution.Warnings = append(execution.Warnings, warnings...)
		logger.Info("step completed",
			"step_id", step.ID,
			"step_name", step.Name,
			"attempts", record.Attempts)
	}

	duration := record.CompletedAt.Sub(record.StartedAt)
	e.callbacks.AfterStepExecution(ctx, &StepExecutionEvent{
		ExecutionID: execution.ID,
		ProcessID:   execution.ProcessID,
		StepID:      step.ID,
		StepName:    step.Name,
		StepType:    step.Type,
		Status:      record.Status,
		Input:       record.Input,
		Output:      record.Output,
		Attempts:    record.Attempts,
		StartTime:   record.StartedAt,
		EndTime:     record.CompletedAt,
		Duration:    duration,
		Error:       err,
	})
	e.logTrace(ctx, logger, execution, record)
	return record
}

// finalize settles the terminal status. Status is a pure function of the
// step records plus how the loop ended: completed when every non-skipped
// step succeeded, partial when failures were recorded but the loop ran to
// completion, failed on a fatal abort, cancelled on cooperative cancellation.
func (e *Engine) finalize(ctx context.Context, logger *slog.Logger, execution *Execution, fatalErr error) {
	execution.CompletedAt = time.Now()

	switch {
	case execution.Status == ExecutionStatusCancelled:
		// A concurrent cancel already settled the status.
	case errors.Is(ctx.Err(), context.Canceled):
		execution.Status = ExecutionStatusCancelled
	case fatalErr != nil:
		execution.Status = ExecutionStatusFailed
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		execution.Status = ExecutionStatusFailed
		execution.Errors = append(execution.Errors, "process timeout exceeded")
	case len(execution.Errors) > 0:
		execution.Status = ExecutionStatusPartial
	default:
		execution.Status = ExecutionStatusCompleted
	}

	// Persist with a background context: the execution context may already
	// be cancelled or expired.
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.syncExecution(saveCtx, execution); err != nil {
		logger.Error("failed to persist final execution state", "error", err)
	}

	duration := execution.CompletedAt.Sub(execution.StartedAt)
	logger.Info("process execution finished",
		"status", execution.Status,
		"steps_completed", execution.StepsCompleted,
		"total_steps", execution.TotalSteps,
		"duration", duration)

	var callbackErr error
	if fatalErr != nil {
		callbackErr = fatalErr
	} else if len(execution.Errors) > 0 {
		callbackErr = errors.New(execution.Errors[0])
	}
	e.callbacks.AfterProcessExecution(saveCtx, &ProcessExecutionEvent{
		ExecutionID:    execution.ID,
		ProcessID:      execution.ProcessID,
		ProcessName:    execution.ProcessName,
		Status:         execution.Status,
		StartTime:      execution.StartedAt,
		EndTime:        execution.CompletedAt,
		Duration:       duration,
		Payload:        copyMap(execution.Payload),
		StepsCompleted: execution.StepsCompleted,
		TotalSteps:     execution.TotalSteps,
		Error:          callbackErr,
	})
}

func (e *Engine) logTrace(ctx context.Context, logger *slog.Logger, execution *Execution, record *stepOutcome) {
	entry := &StepTraceEntry{
		ExecutionID: execution.ID,
		ProcessID:   execution.ProcessID,
		StepID:      record.ID,
		StepName:    record.Name,
		StepType:    record.Type,
		Status:      record.Status,
		Input:       record.Input,
		Output:      record.Output,
		Error:       record.Error,
		Attempts:    record.Attempts,
		StartTime:   record.StartedAt,
		Duration:    record.CompletedAt.Sub(record.StartedAt).Seconds(),
	}
	if err := e.trace.LogStep(ctx, entry); err != nil {
		logger.Error("failed to log step trace", "error", err)
	}
}

func (e *Engine) processTimeout(definition *ProcessDefinition, request *Request) time.Duration {
	if request.Timeout > 0 {
		return request.Timeout
	}
	if definition.Timeout > 0 {
		return definition.Timeout
	}
	return e.config.ProcessTimeout.Std()
}

func (e *Engine) stepTimeout(step *StepDefinition) time.Duration {
	if step.Timeout > 0 {
		return step.Timeout
	}
	return e.config.StepTimeout.Std()
}

func (e *Engine) stepRetryPolicy(definition *ProcessDefinition) retry.Policy {
	if definition.Retry != nil {
		return retry.Policy{
			MaxAttempts: definition.Retry.MaxAttempts,
			BaseDelay:   definition.Retry.BaseDelay,
			MaxDelay:    definition.Retry.MaxDelay,
		}.Normalize()
	}
	return e.retryPolicy
}

// syncExecution persists the execution through a guarded store update so a
// concurrently recorded cancellation is never overwritten. When the stored
// record is already cancelled, the in-memory execution adopts that status
// before being written back.
func (e *Engine) syncExecution(ctx context.Context, execution *Execution) error {
	err := e.store.Update(ctx, execution.ID, func(stored *Execution) error {
		if stored.Status == ExecutionStatusCancelled {
			execution.Status = ExecutionStatusCancelled
			if execution.CompletedAt.IsZero() {
				execution.CompletedAt = stored.CompletedAt
			}
		}
		*stored = *execution.Copy()
		return nil
	})
	if IsNotFoundError(err) {
		return e.store.Save(ctx, execution)
	}
	return err
}

func (e *Engine) registerCancel(executionID string, cancel context.CancelFunc) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.cancels[executionID] = cancel
}

func (e *Engine) unregisterCancel(executionID string) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	delete(e.cancels, executionID)
}
