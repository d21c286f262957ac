// Package http provides an evaluator backed by a remote evaluation service
// speaking a small JSON protocol: POST /validate and POST /query.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/tabwright-labs/tabwright/pkg/core"
	"github.com/tabwright-labs/tabwright/pkg/evaluator"
)

// Default client settings, used when the config leaves them zero.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 2

	retryBase = 500 * time.Millisecond
)

// Evaluator implements evaluator.Evaluator against a remote evaluation
// service. Transient failures (network errors and 5xx responses) are retried
// with fibonacci backoff; evaluation failures are reported in the result and
// never retried.
type Evaluator struct {
	logger *slog.Logger

	endpoint   string
	client     *http.Client
	maxRetries uint64
}

// New creates a new HTTP evaluator instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Evaluator{logger: logger}
}

// Connect validates the endpoint and builds the underlying HTTP client.
func (e *Evaluator) Connect(_ context.Context, cfg core.EvaluatorConfig) error {
	if cfg.Endpoint == "" {
		return fmt.Errorf("evaluator endpoint not specified")
	}
	timeout := DefaultTimeout
	if cfg.TimeoutMS > 0 {
		timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	maxRetries := uint64(DefaultMaxRetries)
	if cfg.MaxRetries > 0 {
		maxRetries = uint64(cfg.MaxRetries)
	}

	e.endpoint = strings.TrimRight(cfg.Endpoint, "/")
	e.client = &http.Client{Timeout: timeout}
	e.maxRetries = maxRetries

	e.logger.Debug("connected http evaluator",
		slog.String("endpoint", e.endpoint),
		slog.Duration("timeout", timeout))
	return nil
}

// Close releases idle connections.
func (e *Evaluator) Close() error {
	if e.client != nil {
		e.client.CloseIdleConnections()
	}
	return nil
}

type validateRequest struct {
	Expression string `json:"expression"`
}

type validateResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse struct {
	Rows        []core.Row `json:"rows"`
	ExecutionMS int64      `json:"execution_ms"`
	Error       string     `json:"error"`
}

// ValidateSyntax checks an expression against the service's /validate endpoint.
func (e *Evaluator) ValidateSyntax(ctx context.Context, expression string) (*core.SyntaxResult, error) {
	var out validateResponse
	if err := e.post(ctx, "/validate", validateRequest{Expression: expression}, &out); err != nil {
		return nil, err
	}
	return &core.SyntaxResult{Valid: out.Valid, Message: out.Message}, nil
}

// RunQuery executes a query via the service's /query endpoint.
func (e *Evaluator) RunQuery(ctx context.Context, query string) (*core.QueryResult, error) {
	started := time.Now()
	var out queryResponse
	if err := e.post(ctx, "/query", queryRequest{Query: query}, &out); err != nil {
		return nil, err
	}
	if out.ExecutionMS == 0 {
		out.ExecutionMS = time.Since(started).Milliseconds()
	}
	e.logger.Debug("query executed",
		slog.Int64("execution_ms", out.ExecutionMS),
		slog.Int("rows", len(out.Rows)))
	return &core.QueryResult{Rows: out.Rows, ExecutionMS: out.ExecutionMS, EvalError: out.Error}, nil
}

// post sends one JSON request, retrying transient failures.
func (e *Evaluator) post(ctx context.Context, path string, in, out any) error {
	if e.client == nil {
		return fmt.Errorf("evaluator not connected")
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	backoff := retry.WithMaxRetries(e.maxRetries, retry.NewFibonacci(retryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 500 {
			payload, _ := io.ReadAll(resp.Body)
			e.logger.Debug("evaluator returned server error",
				slog.Int("status", resp.StatusCode),
				slog.String("path", path))
			return retry.RetryableError(fmt.Errorf("evaluator returned status %d: %s", resp.StatusCode, string(payload)))
		}
		if resp.StatusCode != http.StatusOK {
			payload, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("evaluator returned status %d: %s", resp.StatusCode, string(payload))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
}

// Ensure Evaluator implements evaluator.Evaluator interface
var _ evaluator.Evaluator = (*Evaluator)(nil)
