// Package parallel is a client for the Parallel task API: task run creation,
// the blocking result accessor, and the SSE event stream.
package parallel

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const betaHeader = "events-sse-2025-07-24"

// TaskRun is the handle returned when a task run is created
type TaskRun struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// TaskOutput is the output payload of a terminal task run. Fields absent from
// the response decode to their zero values; callers apply defaults explicitly.
type TaskOutput struct {
	Content string       `json:"content"`
	Basis   []FieldBasis `json:"basis"`
}

// FieldBasis is the structured citation/evidence data attached to an output field
type FieldBasis struct {
	Field      string     `json:"field"`
	Reasoning  string     `json:"reasoning"`
	Confidence *float64   `json:"confidence,omitempty"`
	Citations  []Citation `json:"citations"`
}

// Citation is a single source reference inside a FieldBasis
type Citation struct {
	URL      string   `json:"url"`
	Excerpts []string `json:"excerpts"`
}

// TaskResult is the terminal result of a task run
type TaskResult struct {
	RunID  string     `json:"run_id"`
	Output TaskOutput `json:"output"`
}

type createTaskRunRequest struct {
	Input     string         `json:"input"`
	Processor string         `json:"processor"`
	TaskSpec  map[string]any `json:"task_spec"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

func (e *apiError) text() string {
	if e.Error.Message != "" {
		return e.Error.Message
	}
	return e.Message
}

// Client talks to the Parallel task API
type Client struct {
	apiKey  string
	baseURL string
	rest    *resty.Client

	connectTimeout time.Duration
	readTimeout    time.Duration
}

// NewClient creates a new Parallel API client. The REST client carries no
// overall timeout: the result accessor blocks until the task is terminal and
// is bounded server-side; callers bound probes via context instead.
func NewClient(apiKey, baseURL string) *Client {
	rest := resty.New().
		SetBaseURL(baseURL).
		SetHeader("x-api-key", apiKey).
		SetHeader("Content-Type", "application/json")

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		rest:    rest,
	}
}

// CreateTaskRun submits a new research task and returns its run handle
func (c *Client) CreateTaskRun(ctx context.Context, input, processor string) (*TaskRun, error) {
	var run TaskRun
	var apiErr apiError

	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(createTaskRunRequest{
			Input:     input,
			Processor: processor,
			TaskSpec:  map[string]any{"output_schema": map[string]any{"type": "text"}},
		}).
		SetResult(&run).
		SetError(&apiErr).
		Post("/v1/tasks/runs")
	if err != nil {
		return nil, fmt.Errorf("create task run: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("create task run: %s: %s", resp.Status(), apiErr.text())
	}
	if run.RunID == "" {
		return nil, fmt.Errorf("create task run: response missing run_id")
	}
	return &run, nil
}

// Result is the blocking result accessor: it returns only once the task run is
// terminal, or fails. An error is the only failure signal this endpoint has.
func (c *Client) Result(ctx context.Context, taskRunID string) (*TaskResult, error) {
	var result TaskResult
	var apiErr apiError

	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&result).
		SetError(&apiErr).
		Get(fmt.Sprintf("/v1/tasks/runs/%s/result", taskRunID))
	if err != nil {
		return nil, fmt.Errorf("task run result: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("task run result: %s: %s", resp.Status(), apiErr.text())
	}
	return &result, nil
}
