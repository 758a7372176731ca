package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/deepnoodle-ai/process"
	"github.com/deepnoodle-ai/process/retry"
)

// RemoteWorkflowOptions configures the remote workflow handler.
type RemoteWorkflowOptions struct {
	// BaseURL of the remote workflow engine, e.g. "https://n8n.example.com".
	BaseURL string

	// AuthToken, when set, is sent as a bearer token.
	AuthToken string

	// Client defaults to http.DefaultClient. Timeouts come from the request
	// context, not the client, so cancellation aborts in-flight calls.
	Client *http.Client
}

// RemoteWorkflowHandler dispatches remote_workflow steps to a workflow
// engine's webhook endpoint: POST {baseURL}/webhook/{workflowID} with the
// step input as the JSON body. A 2xx response body is parsed as JSON and
// becomes the step output.
type RemoteWorkflowHandler struct {
	baseURL   string
	authToken string
	client    *http.Client
}

func NewRemoteWorkflowHandler(opts RemoteWorkflowOptions) (*RemoteWorkflowHandler, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("remote workflow base URL required")
	}
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteWorkflowHandler{
		baseURL:   strings.TrimSuffix(opts.BaseURL, "/"),
		authToken: opts.AuthToken,
		client:    client,
	}, nil
}

func (h *RemoteWorkflowHandler) Type() process.StepType {
	return process.StepTypeRemoteWorkflow
}

func (h *RemoteWorkflowHandler) Execute(ctx context.Context, req *process.StepRequest) (map[string]any, error) {
	workflowID := req.Step.Target
	if workflowID == "" {
		return nil, retry.NonRecoverable(fmt.Errorf("step %q has no remote workflow id", req.Step.ID))
	}

	body, err := json.Marshal(req.Input)
	if err != nil {
		return nil, retry.NonRecoverable(fmt.Errorf("failed to marshal payload: %w", err))
	}

	webhookURL := h.baseURL + "/webhook/" + url.PathEscape(workflowID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, retry.NonRecoverable(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.authToken)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		// Transport failures (timeouts included) are retryable
		return nil, retry.Recoverable(fmt.Errorf("webhook request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.Recoverable(fmt.Errorf("failed to read webhook response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("remote workflow %q returned status %d: %s",
			workflowID, resp.StatusCode, strings.TrimSpace(string(respBody)))
		if resp.StatusCode >= 500 {
			return nil, retry.Recoverable(err)
		}
		return nil, retry.NonRecoverable(err)
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return map[string]any{}, nil
	}
	var output map[string]any
	if err := json.Unmarshal(respBody, &output); err != nil {
		return nil, retry.NonRecoverable(fmt.Errorf("remote workflow %q returned invalid JSON: %w", workflowID, err))
	}
	return output, nil
}
