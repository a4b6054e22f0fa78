package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TaskRef identifies a unit of work the executor knows how to run.
type TaskRef struct {
	StepRef string `json:"step_ref"`
	Kind    string `json:"kind"`
}

// DispatchRequest is sent to the executor when a token is marked for dispatch.
type DispatchRequest struct {
	TaskRef     TaskRef         `json:"task_ref"`
	Input       json.RawMessage `json:"input"`
	Correlation string          `json:"correlation"` // token id
	TimeoutMS   int64           `json:"timeout_ms,omitempty"`
}

// Executor is the outbound collaborator that runs tasks on behalf of a run.
// It is out of scope per the purpose statement; only the call shape is owned
// here. Results arrive later via the run actor's onTaskResult entry point,
// not as a return value of Dispatch.
type Executor interface {
	Dispatch(ctx context.Context, req DispatchRequest) error
}

// HTTPExecutor calls a task executor service over HTTP.
type HTTPExecutor struct {
	baseURL string
	http    *HTTPClient
	logger  Logger
}

// NewHTTPExecutor creates an Executor backed by an HTTP task executor service.
func NewHTTPExecutor(baseURL string, logger Logger) *HTTPExecutor {
	return &HTTPExecutor{
		baseURL: baseURL,
		http:    NewHTTPClient(&http.Client{Timeout: 30 * time.Second}, logger),
		logger:  logger,
	}
}

// Dispatch posts a task dispatch request to the executor service.
func (e *HTTPExecutor) Dispatch(ctx context.Context, req DispatchRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal dispatch request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/tasks/dispatch", e.baseURL)
	resp, err := e.http.DoJSON(ctx, "POST", url, body)
	if err != nil {
		return fmt.Errorf("dispatch request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("executor dispatch rejected: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	e.logger.Debug("dispatched task to executor", "correlation", req.Correlation, "step_ref", req.TaskRef.StepRef)
	return nil
}
