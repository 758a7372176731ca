package process

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingHandler dispatches internal_service steps to in-test functions and
// records the order in which targets were invoked.
type recordingHandler struct {
	mutex    sync.Mutex
	services map[string]func(ctx context.Context, input map[string]any) (map[string]any, error)
	invoked  []string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		services: map[string]func(ctx context.Context, input map[string]any) (map[string]any, error){},
	}
}

func (h *recordingHandler) register(name string, fn func(ctx context.Context, input map[string]any) (map[string]any, error)) {
	h.services[name] = fn
}

func (h *recordingHandler) Type() StepType { return StepTypeInternalService }

func (h *recordingHandler) Execute(ctx context.Context, req *StepRequest) (map[string]any, error) {
	h.mutex.Lock()
	h.invoked = append(h.invoked, req.Step.Target)
	h.mutex.Unlock()

	fn, ok := h.services[req.Step.Target]
	if !ok {
		return nil, fmt.Errorf("service %q not registered", req.Step.Target)
	}
	return fn(ctx, req.Input)
}

func (h *recordingHandler) invocations() []string {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return append([]string(nil), h.invoked...)
}

func newTestEngine(t *testing.T, opts EngineOptions) *Engine {
	t.Helper()
	engine, err := NewEngine(opts)
	require.NoError(t, err)
	return engine
}

func testRequest(processID string, data map[string]any) *Request {
	return &Request{
		ProcessID: processID,
		Data:      data,
		UserID:    "user-1",
		CompanyID: "company-1",
	}
}

func TestEngineRunsStepsInAscendingOrder(t *testing.T) {
	handler := newRecordingHandler()
	for _, name := range []string{"First", "Second", "Third"} {
		handler.register(name, func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return input, nil
		})
	}
	engine := newTestEngine(t, EngineOptions{Handlers: []StepHandler{handler}})

	// Steps declared out of order; the engine must sort by order before
	// dispatching.
	require.NoError(t, engine.RegisterProcess(&ProcessDefinition{
		ID:   "ordered",
		Name: "Ordered",
		Steps: []StepDefinition{
			{ID: "s3", Name: "Third", Type: StepTypeInternalService, Target: "Third", Order: 30},
			{ID: "s1", Name: "First", Type: StepTypeInternalService, Target: "First", Order: 10},
			{ID: "s2", Name: "Second", Type: StepTypeInternalService, Target: "Second", Order: 20},
		},
	}))

	result, err := engine.ExecuteProcess(context.Background(), testRequest("ordered", map[string]any{}))
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusCompleted, result.Status)
	assert.Equal(t, 3, result.StepsCompleted)
	assert.Equal(t, []string{"First", "Second", "Third"}, handler.invocations())
}

func TestEnginePayloadThreading(t *testing.T) {
	handler := newRecordingHandler()
	handler.register("Greeter", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return map[string]any{"message": fmt.Sprintf("hello %v", input["name"])}, nil
	})
	handler.register("Shouter", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return map[string]any{"loud": fmt.Sprintf("%v!!", input["text"])}, nil
	})
	engine := newTestEngine(t, EngineOptions{Handlers: []StepHandler{handler}})

	require.NoError(t, engine.RegisterProcess(&ProcessDefinition{
		ID:   "greeting",
		Name: "Greeting",
		Steps: []StepDefinition{
			{
				ID:     "greet",
				Name:   "Greet",
				Type:   StepTypeInternalService,
				Target: "Greeter",
				Order:  1,
				// With an output mapping the payload is extended, not replaced.
				InputMapping:  map[string]string{"name": "user.name"},
				OutputMapping: map[string]string{"message": "greeting"},
			},
			{
				ID:            "shout",
				Name:          "Shout",
				Type:          StepTypeInternalService,
				Target:        "Shouter",
				Order:         2,
				InputMapping:  map[string]string{"text": "greeting"},
				OutputMapping: map[string]string{"loud": "shouted"},
			},
		},
	}))

	result, err := engine.ExecuteProcess(context.Background(), testRequest("greeting", map[string]any{
		"user": map[string]any{"name": "ada"},
	}))
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusCompleted, result.Status)
	assert.Equal(t, "hello ada", result.Payload["greeting"])
	assert.Equal(t, "hello ada!!", result.Payload["shouted"])
	// Original payload keys survive mapped outputs.
	assert.Contains(t, result.Payload, "user")
}

func TestEngineOutputReplacesPayloadWithoutMapping(t *testing.T) {
	handler := newRecordingHandler()
	handler.register("Replacer", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return map[string]any{"only": "this"}, nil
	})
	engine := newTestEngine(t, EngineOptions{Handlers: []StepHandler{handler}})

	require.NoError(t, engine.RegisterProcess(&ProcessDefinition{
		ID:   "replace",
		Name: "Replace",
		Steps: []StepDefinition{
			{ID: "r", Name: "Replace", Type: StepTypeInternalService, Target: "Replacer", Order: 1},
		},
	}))

	result, err := engine.ExecuteProcess(context.Background(), testRequest("replace", map[string]any{
		"original": "gone",
	}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"only": "this"}, result.Payload)
}

func TestEngineConditionGatesStep(t *testing.T) {
	definition := &ProcessDefinition{
		ID:   "onboarding",
		Name: "Onboarding",
		Steps: []StepDefinition{
			{ID: "welcome", Name: "Welcome", Type: StepTypeInternalService, Target: "Welcome", Order: 1},
			{
				ID:     "vip-welcome",
				Name:   "VIP Welcome",
				Type:   StepTypeInternalService,
				Target: "VipWelcome",
				Order:  2,
				Conditions: []Condition{
					{Field: "vip", Operator: OperatorEquals, Value: true},
				},
			},
		},
	}

	build := func(t *testing.T) (*Engine, *recordingHandler) {
		handler := newRecordingHandler()
		passthrough := func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return input, nil
		}
		handler.register("Welcome", passthrough)
		handler.register("VipWelcome", passthrough)
		engine := newTestEngine(t, EngineOptions{Handlers: []StepHandler{handler}})
		require.NoError(t, engine.RegisterProcess(definition))
		return engine, handler
	}

	t.Run("condition false skips the step", func(t *testing.T) {
		engine, handler := build(t)
		result, err := engine.ExecuteProcess(context.Background(),
			testRequest("onboarding", map[string]any{"vip": false}))
		require.NoError(t, err)
		assert.Equal(t, ExecutionStatusCompleted, result.Status)
		assert.Equal(t, 1, result.StepsCompleted)
		assert.Equal(t, []string{"Welcome"}, handler.invocations())

		execution, err := engine.GetExecutionStatus(context.Background(), result.ExecutionID)
		require.NoError(t, err)
		require.Len(t, execution.Steps, 2)
		assert.Equal(t, StepStatusSkipped, execution.Steps[1].Status)
	})

	t.Run("condition true runs the step", func(t *testing.T) {
		engine, handler := build(t)
		result, err := engine.ExecuteProcess(context.Background(),
			testRequest("onboarding", map[string]any{"vip": true}))
		require.NoError(t, err)
		assert.Equal(t, ExecutionStatusCompleted, result.Status)
		assert.Equal(t, 2, result.StepsCompleted)
		assert.Equal(t, []string{"Welcome", "VipWelcome"}, handler.invocations())
	})

	t.Run("missing field fails closed", func(t *testing.T) {
		engine, handler := build(t)
		result, err := engine.ExecuteProcess(context.Background(),
			testRequest("onboarding", map[string]any{}))
		require.NoError(t, err)
		assert.Equal(t, ExecutionStatusCompleted, result.Status)
		assert.Equal(t, []string{"Welcome"}, handler.invocations())
	})
}

func TestEngineStepFailureYieldsPartial(t *testing.T) {
	handler := newRecordingHandler()
	passthrough := func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return input, nil
	}
	handler.register("Ok", passthrough)
	handler.register("AlsoOk", passthrough)
	engine := newTestEngine(t, EngineOptions{Handlers: []StepHandler{handler}})

	require.NoError(t, engine.RegisterProcess(&ProcessDefinition{
		ID:   "partial",
		Name: "Partial",
		Steps: []StepDefinition{
			{ID: "a", Name: "A", Type: StepTypeInternalService, Target: "Ok", Order: 1},
			{ID: "b", Name: "B", Type: StepTypeInternalService, Target: "Missing", Order: 2},
			{ID: "c", Name: "C", Type: StepTypeInternalService, Target: "AlsoOk", Order: 3},
		},
	}))

	result, err := engine.ExecuteProcess(context.Background(), testRequest("partial", map[string]any{"in": 1}))
	require.NoError(t, err)

	// The failing middle step is recorded but remaining steps still run.
	assert.Equal(t, ExecutionStatusPartial, result.Status)
	assert.Equal(t, 2, result.StepsCompleted)
	assert.Equal(t, 3, result.TotalSteps)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `step "B"`)
	assert.Equal(t, []string{"Ok", "Missing", "AlsoOk"}, handler.invocations())

	execution, err := engine.GetExecutionStatus(context.Background(), result.ExecutionID)
	require.NoError(t, err)
	require.Len(t, execution.Steps, 3)
	assert.Equal(t, StepStatusCompleted, execution.Steps[0].Status)
	assert.Equal(t, StepStatusFailed, execution.Steps[1].Status)
	assert.Equal(t, StepStatusCompleted, execution.Steps[2].Status)
}

func TestEngineUnsupportedStepTypeAborts(t *testing.T) {
	handler := newRecordingHandler()
	handler.register("Ok", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return input, nil
	})
	engine := newTestEngine(t, EngineOptions{Handlers: []StepHandler{handler}})

	require.NoError(t, engine.RegisterProcess(&ProcessDefinition{
		ID:   "bad-type",
		Name: "Bad Type",
		Steps: []StepDefinition{
			{ID: "a", Name: "A", Type: StepTypeInternalService, Target: "Ok", Order: 1},
			{ID: "b", Name: "B", Type: StepType("telepathy"), Order: 2},
			{ID: "c", Name: "C", Type: StepTypeInternalService, Target: "Ok", Order: 3},
		},
	}))

	result, err := engine.ExecuteProcess(context.Background(), testRequest("bad-type", map[string]any{}))
	require.Error(t, err)
	assert.True(t, IsFatalStepError(err))

	// The abort is immediate: step C never runs.
	assert.Equal(t, ExecutionStatusFailed, result.Status)
	assert.Equal(t, 1, result.StepsCompleted)
	assert.Equal(t, []string{"Ok"}, handler.invocations())
}

func TestEngineUnknownProcess(t *testing.T) {
	handler := newRecordingHandler()
	store := NewMemoryExecutionStore()
	engine := newTestEngine(t, EngineOptions{Handlers: []StepHandler{handler}, Store: store})

	result, err := engine.ExecuteProcess(context.Background(), testRequest("nope", map[string]any{}))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, IsNotFoundError(err))

	// No execution record is created for an unknown process.
	summaries, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestEngineRequestValidation(t *testing.T) {
	engine := newTestEngine(t, EngineOptions{Handlers: []StepHandler{newRecordingHandler()}})

	tests := []struct {
		name    string
		request *Request
	}{
		{"nil request", nil},
		{"missing process id", &Request{Data: map[string]any{}, UserID: "u", CompanyID: "c"}},
		{"missing data", &Request{ProcessID: "p", UserID: "u", CompanyID: "c"}},
		{"missing user", &Request{ProcessID: "p", Data: map[string]any{}, CompanyID: "c"}},
		{"missing company", &Request{ProcessID: "p", Data: map[string]any{}, UserID: "u"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.ExecuteProcess(context.Background(), tt.request)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestEngineRetriesFailingStep(t *testing.T) {
	var calls int
	handler := newRecordingHandler()
	handler.register("Flaky", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("connection refused")
		}
		return map[string]any{"ok": true}, nil
	})
	engine := newTestEngine(t, EngineOptions{Handlers: []StepHandler{handler}})

	require.NoError(t, engine.RegisterProcess(&ProcessDefinition{
		ID:    "flaky",
		Name:  "Flaky",
		Retry: &RetrySettings{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		Steps: []StepDefinition{
			{ID: "f", Name: "Flaky", Type: StepTypeInternalService, Target: "Flaky", Order: 1, RetryOnFailure: true},
		},
	}))

	result, err := engine.ExecuteProcess(context.Background(), testRequest("flaky", map[string]any{}))
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusCompleted, result.Status)
	assert.Equal(t, 3, calls)

	execution, err := engine.GetExecutionStatus(context.Background(), result.ExecutionID)
	require.NoError(t, err)
	require.Len(t, execution.Steps, 1)
	assert.Equal(t, 3, execution.Steps[0].Attempts)
}

func TestEngineDoesNotRetryWithoutFlag(t *testing.T) {
	var calls int
	handler := newRecordingHandler()
	handler.register("Flaky", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		calls++
		return nil, errors.New("connection refused")
	})
	engine := newTestEngine(t, EngineOptions{Handlers: []StepHandler{handler}})

	require.NoError(t, engine.RegisterProcess(&ProcessDefinition{
		ID:   "no-retry",
		Name: "No Retry",
		Steps: []StepDefinition{
			{ID: "f", Name: "Flaky", Type: StepTypeInternalService, Target: "Flaky", Order: 1},
		},
	}))

	result, err := engine.ExecuteProcess(context.Background(), testRequest("no-retry", map[string]any{}))
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusPartial, result.Status)
	assert.Equal(t, 1, calls)
}

func TestEngineCancellation(t *testing.T) {
	started := make(chan string, 1)
	handler := newRecordingHandler()
	handler.register("Slow", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	callbacks := &capturingCallbacks{started: started}
	engine := newTestEngine(t, EngineOptions{
		Handlers:  []StepHandler{handler},
		Callbacks: callbacks,
	})

	require.NoError(t, engine.RegisterProcess(&ProcessDefinition{
		ID:   "slow",
		Name: "Slow",
		Steps: []StepDefinition{
			{ID: "s1", Name: "Slow", Type: StepTypeInternalService, Target: "Slow", Order: 1},
			{ID: "s2", Name: "Never", Type: StepTypeInternalService, Target: "Slow", Order: 2},
		},
	}))

	done := make(chan *Result, 1)
	go func() {
		result, _ := engine.ExecuteProcess(context.Background(), testRequest("slow", map[string]any{}))
		done <- result
	}()

	var executionID string
	select {
	case executionID = <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("execution never started")
	}
	require.NoError(t, engine.CancelExecution(context.Background(), executionID))

	var result *Result
	select {
	case result = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("execution never finished")
	}
	assert.Equal(t, ExecutionStatusCancelled, result.Status)
	assert.Less(t, result.StepsCompleted, 2)

	execution, err := engine.GetExecutionStatus(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusCancelled, execution.Status)

	// A second cancel of the now-terminal execution is rejected.
	err = engine.CancelExecution(context.Background(), executionID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already completed")
}

func TestEngineCancelDuringStepWins(t *testing.T) {
	// A cancellation recorded in the store while a step is still running
	// must survive the engine's later writes, even when the execution
	// context was never cancelled.
	store := NewMemoryExecutionStore()
	started := make(chan string, 1)

	handler := newRecordingHandler()
	handler.register("CancelSelf", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		executionID := <-started
		if _, err := store.Cancel(ctx, executionID); err != nil {
			return nil, err
		}
		return map[string]any{"done": true}, nil
	})
	handler.register("Never", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return nil, errors.New("step ran after cancellation")
	})

	engine := newTestEngine(t, EngineOptions{
		Store:     store,
		Handlers:  []StepHandler{handler},
		Callbacks: &capturingCallbacks{started: started},
	})

	require.NoError(t, engine.RegisterProcess(&ProcessDefinition{
		ID:   "cancel-race",
		Name: "Cancel Race",
		Steps: []StepDefinition{
			{ID: "s1", Name: "Cancel Self", Type: StepTypeInternalService, Target: "CancelSelf", Order: 1},
			{ID: "s2", Name: "Never", Type: StepTypeInternalService, Target: "Never", Order: 2},
		},
	}))

	result, err := engine.ExecuteProcess(context.Background(), testRequest("cancel-race", map[string]any{}))
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusCancelled, result.Status)

	execution, err := store.Get(context.Background(), result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusCancelled, execution.Status)
	assert.False(t, execution.CompletedAt.IsZero())

	// The first step still ran and its record is preserved.
	require.Len(t, execution.Steps, 1)
	assert.Equal(t, "s1", execution.Steps[0].ID)
}

func TestEngineProcessTimeout(t *testing.T) {
	handler := newRecordingHandler()
	handler.register("Slow", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	engine := newTestEngine(t, EngineOptions{Handlers: []StepHandler{handler}})

	require.NoError(t, engine.RegisterProcess(&ProcessDefinition{
		ID:   "timeout",
		Name: "Timeout",
		Steps: []StepDefinition{
			{ID: "s1", Name: "Slow", Type: StepTypeInternalService, Target: "Slow", Order: 1},
		},
	}))

	request := testRequest("timeout", map[string]any{})
	request.Timeout = 50 * time.Millisecond
	result, err := engine.ExecuteProcess(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusFailed, result.Status)
	assert.Contains(t, result.Errors, "process timeout exceeded")
}

func TestEngineStepCallbacks(t *testing.T) {
	handler := newRecordingHandler()
	handler.register("Ok", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return input, nil
	})
	callbacks := &capturingCallbacks{started: make(chan string, 1)}
	engine := newTestEngine(t, EngineOptions{Handlers: []StepHandler{handler}, Callbacks: callbacks})

	require.NoError(t, engine.RegisterProcess(&ProcessDefinition{
		ID:   "cb",
		Name: "Callbacks",
		Steps: []StepDefinition{
			{ID: "s1", Name: "One", Type: StepTypeInternalService, Target: "Ok", Order: 1},
			{ID: "s2", Name: "Two", Type: StepTypeInternalService, Target: "Ok", Order: 2},
		},
	}))

	_, err := engine.ExecuteProcess(context.Background(), testRequest("cb", map[string]any{}))
	require.NoError(t, err)

	assert.Equal(t, []string{"s1", "s2"}, callbacks.stepIDs())
	require.NotNil(t, callbacks.finished)
	assert.Equal(t, ExecutionStatusCompleted, callbacks.finished.Status)
	assert.Equal(t, 2, callbacks.finished.StepsCompleted)
}

// capturingCallbacks records lifecycle events for assertions.
type capturingCallbacks struct {
	BaseExecutionCallbacks

	mutex    sync.Mutex
	started  chan string
	steps    []string
	finished *ProcessExecutionEvent
}

func (c *capturingCallbacks) BeforeProcessExecution(ctx context.Context, event *ProcessExecutionEvent) {
	select {
	case c.started <- event.ExecutionID:
	default:
	}
}

func (c *capturingCallbacks) AfterStepExecution(ctx context.Context, event *StepExecutionEvent) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.steps = append(c.steps, event.StepID)
}

func (c *capturingCallbacks) AfterProcessExecution(ctx context.Context, event *ProcessExecutionEvent) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.finished = event
}

func (c *capturingCallbacks) stepIDs() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]string(nil), c.steps...)
}

