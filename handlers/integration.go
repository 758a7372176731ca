package handlers

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/process"
	"github.com/deepnoodle-ai/process/retry"
)

// IntegrationFunc implements one named integration. The business logic lives
// with the caller; the engine only guarantees the function receives the
// current payload and its return value becomes the step output.
type IntegrationFunc func(ctx context.Context, input map[string]any) (map[string]any, error)

// IntegrationHandler dispatches integration steps to registered functions
// keyed by the step target.
type IntegrationHandler struct {
	integrations map[string]IntegrationFunc
}

func NewIntegrationHandler(integrations map[string]IntegrationFunc) *IntegrationHandler {
	if integrations == nil {
		integrations = map[string]IntegrationFunc{}
	}
	return &IntegrationHandler{integrations: integrations}
}

// Register adds or replaces an integration by name.
func (h *IntegrationHandler) Register(name string, fn IntegrationFunc) {
	h.integrations[name] = fn
}

func (h *IntegrationHandler) Type() process.StepType {
	return process.StepTypeIntegration
}

func (h *IntegrationHandler) Execute(ctx context.Context, req *process.StepRequest) (map[string]any, error) {
	fn, ok := h.integrations[req.Step.Target]
	if !ok {
		return nil, retry.NonRecoverable(fmt.Errorf("integration %q not registered", req.Step.Target))
	}
	return fn(ctx, req.Input)
}
