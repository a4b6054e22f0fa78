package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WorkflowDef is the workflow graph definition fetched from the resource
// catalog on cold start. Persistence of the catalog itself is out of scope;
// only the read shape the run actor needs is modeled here.
type WorkflowDef struct {
	ID            string          `json:"id"`
	Version       string          `json:"version"`
	InitialNodeID string          `json:"initial_node_id"`
	Nodes         json.RawMessage `json:"nodes"`
	Transitions   json.RawMessage `json:"transitions"`
	InputSchema   json.RawMessage `json:"input_schema"`
	OutputMapping json.RawMessage `json:"output_mapping"`
}

// WorkflowRun is the run-level metadata (parent linkage for subworkflows,
// requested input) fetched alongside the definition.
type WorkflowRun struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	Input       json.RawMessage `json:"input"`
	ParentRunID string          `json:"parent_run_id,omitempty"`
}

// ResourceCatalog is the outbound collaborator that stores workflow
// definitions and run metadata. The run actor consults it only once, on
// cold start.
type ResourceCatalog interface {
	GetWorkflowDef(ctx context.Context, id, version string) (*WorkflowDef, error)
	GetWorkflowRun(ctx context.Context, id string) (*WorkflowRun, error)
}

// HTTPResourceCatalog calls a resource catalog service over HTTP.
type HTTPResourceCatalog struct {
	baseURL string
	http    *HTTPClient
	logger  Logger
}

// NewHTTPResourceCatalog creates a ResourceCatalog backed by an HTTP service.
func NewHTTPResourceCatalog(baseURL string, logger Logger) *HTTPResourceCatalog {
	return &HTTPResourceCatalog{
		baseURL: baseURL,
		http:    NewHTTPClient(&http.Client{Timeout: 15 * time.Second}, logger),
		logger:  logger,
	}
}

// GetWorkflowDef fetches a workflow definition by id and optional version.
func (c *HTTPResourceCatalog) GetWorkflowDef(ctx context.Context, id, version string) (*WorkflowDef, error) {
	url := fmt.Sprintf("%s/v1/workflows/%s", c.baseURL, id)
	if version != "" {
		url = fmt.Sprintf("%s?version=%s", url, version)
	}

	resp, err := c.http.DoRequest(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch workflow def: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("workflow def request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var def WorkflowDef
	if err := json.NewDecoder(resp.Body).Decode(&def); err != nil {
		return nil, fmt.Errorf("decode workflow def: %w", err)
	}

	c.logger.Debug("fetched workflow def", "workflow_id", def.ID, "version", def.Version)
	return &def, nil
}

// GetWorkflowRun fetches run metadata by id.
func (c *HTTPResourceCatalog) GetWorkflowRun(ctx context.Context, id string) (*WorkflowRun, error) {
	url := fmt.Sprintf("%s/v1/runs/%s", c.baseURL, id)

	resp, err := c.http.DoRequest(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch workflow run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("workflow run request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var run WorkflowRun
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, fmt.Errorf("decode workflow run: %w", err)
	}

	return &run, nil
}
