package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrExecutorUnavailable is returned when no execution service is configured.
var ErrExecutorUnavailable = errors.New("code execution service unavailable")

const maxRunOutput = 1 << 20

type RunRequest struct {
	Language string `json:"language" validate:"required"`
	Code     string `json:"code" validate:"required"`
}

type RunResult struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// CodeExecutor runs submitted code somewhere other than this process.
type CodeExecutor interface {
	Run(ctx context.Context, req RunRequest) (RunResult, error)
}

// HTTPExecutor posts run requests to a sandbox service and relays its answer.
type HTTPExecutor struct {
	endpoint string
	client   *http.Client
}

// NewHTTPExecutor returns nil when endpoint is empty.
func NewHTTPExecutor(endpoint string, timeout time.Duration) *HTTPExecutor {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPExecutor{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

func (e *HTTPExecutor) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	if e == nil {
		return RunResult{}, ErrExecutorUnavailable
	}
	body, err := json.Marshal(req)
	if err != nil {
		return RunResult{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return RunResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return RunResult{}, fmt.Errorf("%w: %v", ErrExecutorUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return RunResult{}, fmt.Errorf("sandbox returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	var result RunResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRunOutput)).Decode(&result); err != nil {
		return RunResult{}, fmt.Errorf("decode sandbox response: %w", err)
	}
	return result, nil
}
