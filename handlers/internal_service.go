package handlers

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/process"
	"github.com/deepnoodle-ai/process/retry"
)

// InternalServiceHandler dispatches internal_service steps to a named
// service registry and invokes the target synchronously with the step input.
type InternalServiceHandler struct {
	registry *process.ServiceRegistry
}

func NewInternalServiceHandler(registry *process.ServiceRegistry) *InternalServiceHandler {
	return &InternalServiceHandler{registry: registry}
}

func (h *InternalServiceHandler) Type() process.StepType {
	return process.StepTypeInternalService
}

func (h *InternalServiceHandler) Execute(ctx context.Context, req *process.StepRequest) (map[string]any, error) {
	if req.Step.Target == "" {
		return nil, retry.NonRecoverable(fmt.Errorf("step %q has no service target", req.Step.ID))
	}
	service, ok := h.registry.Get(req.Step.Target)
	if !ok {
		return nil, retry.NonRecoverable(fmt.Errorf("service %q not registered", req.Step.Target))
	}
	return service.Invoke(ctx, req.Input)
}
