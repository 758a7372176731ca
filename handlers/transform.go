package handlers

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/process"
	"github.com/deepnoodle-ai/process/retry"
	"github.com/deepnoodle-ai/process/script"
)

// ScriptTransformHandler runs transform steps as Risor scripts. The script
// receives the step input as the "payload" global; its result becomes the
// step output. A script returning a map replaces the payload wholesale
// (unless the step declares an output mapping), so transforms that only
// amend a field should return the full payload.
type ScriptTransformHandler struct {
	compiler script.Compiler
}

func NewScriptTransformHandler(compiler script.Compiler) *ScriptTransformHandler {
	if compiler == nil {
		compiler = script.NewRisorEngine(script.DefaultGlobals())
	}
	return &ScriptTransformHandler{compiler: compiler}
}

func (h *ScriptTransformHandler) Type() process.StepType {
	return process.StepTypeTransform
}

func (h *ScriptTransformHandler) Execute(ctx context.Context, req *process.StepRequest) (map[string]any, error) {
	code, ok := req.Step.Parameters["code"].(string)
	if !ok || code == "" {
		return nil, retry.NonRecoverable(fmt.Errorf("transform step %q missing 'code' parameter", req.Step.ID))
	}

	compiled, err := h.compiler.Compile(ctx, code)
	if err != nil {
		return nil, retry.NonRecoverable(fmt.Errorf("failed to compile transform: %w", err))
	}

	result, err := compiled.Evaluate(ctx, map[string]any{"payload": req.Input})
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate transform: %w", err)
	}

	switch value := result.Value().(type) {
	case map[string]any:
		return value, nil
	case nil:
		return map[string]any{}, nil
	default:
		// Scalar results are wrapped so the output stays a payload map
		return map[string]any{"result": value}, nil
	}
}
