package process

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTraceLogger(t *testing.T) {
	logger := NewFileTraceLogger(t.TempDir())
	ctx := context.Background()

	entries := []*StepTraceEntry{
		{
			ExecutionID: "exec-1",
			ProcessID:   "proc",
			StepID:      "a",
			StepName:    "A",
			StepType:    StepTypeInternalService,
			Status:      StepStatusCompleted,
			Input:       map[string]any{"k": "v"},
			Output:      map[string]any{"r": "done"},
			Attempts:    1,
			StartTime:   time.Now().UTC(),
			Duration:    0.25,
		},
		{
			ExecutionID: "exec-1",
			ProcessID:   "proc",
			StepID:      "b",
			StepName:    "B",
			StepType:    StepTypeRemoteWorkflow,
			Status:      StepStatusFailed,
			Error:       "status 500",
			Attempts:    3,
			StartTime:   time.Now().UTC(),
		},
	}
	for _, entry := range entries {
		require.NoError(t, logger.LogStep(ctx, entry))
	}

	// Traces of a different execution land in a different file.
	require.NoError(t, logger.LogStep(ctx, &StepTraceEntry{
		ExecutionID: "exec-2", StepID: "other", Status: StepStatusSkipped,
	}))

	trace, err := logger.GetTrace(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, trace, 2)
	assert.Equal(t, "a", trace[0].StepID)
	assert.Equal(t, StepStatusCompleted, trace[0].Status)
	assert.Equal(t, map[string]any{"r": "done"}, trace[0].Output)
	assert.Equal(t, "b", trace[1].StepID)
	assert.Equal(t, "status 500", trace[1].Error)
	assert.Equal(t, 3, trace[1].Attempts)
}

func TestFileTraceLoggerUnknownExecution(t *testing.T) {
	logger := NewFileTraceLogger(t.TempDir())

	_, err := logger.GetTrace(context.Background(), "never-ran")
	assert.Error(t, err)
}

func TestNullTraceLogger(t *testing.T) {
	logger := NewNullTraceLogger()
	require.NoError(t, logger.LogStep(context.Background(), &StepTraceEntry{ExecutionID: "x"}))

	trace, err := logger.GetTrace(context.Background(), "x")
	require.NoError(t, err)
	assert.Nil(t, trace)
}
