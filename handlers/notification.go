package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deepnoodle-ai/process"
	"github.com/deepnoodle-ai/process/retry"
	"github.com/deepnoodle-ai/process/script"
)

// Notifier delivers a rendered notification somewhere.
type Notifier interface {
	Notify(ctx context.Context, channel, message string) error
}

// SlogNotifier writes notifications to a structured logger.
type SlogNotifier struct {
	logger *slog.Logger
}

func NewSlogNotifier(logger *slog.Logger) *SlogNotifier {
	return &SlogNotifier{logger: logger}
}

func (n *SlogNotifier) Notify(ctx context.Context, channel, message string) error {
	n.logger.Info("notification", "channel", channel, "message", message)
	return nil
}

// NotificationHandler runs notification steps: it renders the step's
// "message" parameter as a ${...} template against the payload and hands it
// to the notifier. The channel is the step target. The payload passes
// through unchanged.
type NotificationHandler struct {
	compiler script.Compiler
	notifier Notifier
}

func NewNotificationHandler(compiler script.Compiler, notifier Notifier) *NotificationHandler {
	if compiler == nil {
		compiler = script.NewRisorEngine(script.DefaultGlobals())
	}
	return &NotificationHandler{compiler: compiler, notifier: notifier}
}

func (h *NotificationHandler) Type() process.StepType {
	return process.StepTypeNotification
}

func (h *NotificationHandler) Execute(ctx context.Context, req *process.StepRequest) (map[string]any, error) {
	message, _ := req.Step.Parameters["message"].(string)
	if message == "" {
		return nil, retry.NonRecoverable(fmt.Errorf("notification step %q missing 'message' parameter", req.Step.ID))
	}

	template, err := script.NewTemplate(h.compiler, message)
	if err != nil {
		return nil, retry.NonRecoverable(fmt.Errorf("failed to compile notification message: %w", err))
	}
	rendered, err := template.Eval(ctx, map[string]any{"payload": req.Input})
	if err != nil {
		return nil, fmt.Errorf("failed to render notification message: %w", err)
	}

	if err := h.notifier.Notify(ctx, req.Step.Target, rendered); err != nil {
		return nil, fmt.Errorf("failed to deliver notification: %w", err)
	}
	return req.Input, nil
}
