package process

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorDispatchesByType(t *testing.T) {
	executor := NewExecutor(
		NewStepHandlerFunc(StepTypeTransform, func(ctx context.Context, req *StepRequest) (map[string]any, error) {
			return map[string]any{"handled": "transform"}, nil
		}),
		NewStepHandlerFunc(StepTypeNotification, func(ctx context.Context, req *StepRequest) (map[string]any, error) {
			return map[string]any{"handled": "notification"}, nil
		}),
	)

	output, err := executor.Execute(context.Background(), &StepRequest{
		Step: &StepDefinition{ID: "s", Type: StepTypeTransform},
	})
	require.NoError(t, err)
	assert.Equal(t, "transform", output["handled"])

	assert.Equal(t, []StepType{StepTypeNotification, StepTypeTransform}, executor.Types())
}

func TestExecutorUnsupportedStepType(t *testing.T) {
	executor := NewExecutor(
		NewStepHandlerFunc(StepTypeTransform, func(ctx context.Context, req *StepRequest) (map[string]any, error) {
			return nil, nil
		}),
	)

	_, err := executor.Execute(context.Background(), &StepRequest{
		Step: &StepDefinition{ID: "s", Type: StepType("carrier-pigeon")},
	})
	require.Error(t, err)
	assert.True(t, IsFatalStepError(err))
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestExecutorLastHandlerWins(t *testing.T) {
	executor := NewExecutor(
		NewStepHandlerFunc(StepTypeTransform, func(ctx context.Context, req *StepRequest) (map[string]any, error) {
			return map[string]any{"which": "first"}, nil
		}),
		NewStepHandlerFunc(StepTypeTransform, func(ctx context.Context, req *StepRequest) (map[string]any, error) {
			return map[string]any{"which": "second"}, nil
		}),
	)

	output, err := executor.Execute(context.Background(), &StepRequest{
		Step: &StepDefinition{ID: "s", Type: StepTypeTransform},
	})
	require.NoError(t, err)
	assert.Equal(t, "second", output["which"])
}
