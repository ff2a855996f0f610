// Package engine talks to the external analysis engine that produces
// findings for a set of files.
package engine

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

	"github.com/ritzau/deps-validator/pkg/logging"
	"github.com/ritzau/deps-validator/pkg/model"
)

var log = logging.New("engine")

// Engine analyzes a file set. Implementations are stateless per call.
type Engine interface {
	Analyze(ctx context.Context, req Request) (*Response, error)
}

// Request asks the engine to analyze files relative to RootPath
type Request struct {
	RootPath      string   `json:"rootPath"`
	RelativePaths []string `json:"relativePaths"`
	Incremental   bool     `json:"incremental"`
	Modes         []string `json:"modes"`
}

// Response is the engine's answer. Violations may cover files that were
// not requested.
type Response struct {
	Violations       []Violation `json:"violations"`
	ProcessingTimeMs int64       `json:"processingTimeMs"`
}

// HTTPClient is an Engine reached over HTTP
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a client for the engine at baseURL. Deadlines come
// from the caller's context.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// Analyze posts the request to /analyze. Every failure is a *model.EngineError.
func (c *HTTPClient) Analyze(ctx context.Context, req Request) (*Response, error) {
	if req.Modes == nil {
		req.Modes = []string{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &model.EngineError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, &model.EngineError{Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if id := logging.GetRunID(ctx); id != "" {
		httpReq.Header.Set("X-Run-ID", id)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &model.EngineError{
			Timeout: errors.Is(err, context.DeadlineExceeded),
			Err:     fmt.Errorf("http request: %w", err),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &model.EngineError{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s", strings.TrimSpace(string(msg))),
		}
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &model.EngineError{
			Timeout: errors.Is(err, context.DeadlineExceeded),
			Err:     fmt.Errorf("decode response: %w", err),
		}
	}

	log.DebugContext(ctx, "Engine responded",
		"files", len(req.RelativePaths),
		"violations", len(out.Violations),
		"engineMs", out.ProcessingTimeMs,
		"took", time.Since(start))
	return &out, nil
}
