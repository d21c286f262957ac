// Package openai provides a diagnoser backed by an OpenAI-compatible chat
// completion endpoint.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tabwright-labs/tabwright/pkg/core"
	"github.com/tabwright-labs/tabwright/pkg/diagnose"
)

const (
	// DefaultModel is used when the configuration does not name a model.
	DefaultModel = "gpt-4o-mini"
	// DefaultAPIKeyEnv is the environment variable read for the API key
	// when the configuration does not name one.
	DefaultAPIKeyEnv = "OPENAI_API_KEY"
	// DefaultTimeout bounds a completion call when the configuration does
	// not set one.
	DefaultTimeout = 30 * time.Second
)

const systemPrompt = `You diagnose failing DAX measures in a tabular semantic model. ` +
	`Given a measure expression and its failing test output, respond with a single JSON object ` +
	`with exactly these keys: "root_cause" (one short sentence), "corrected_expression" ` +
	`(the full corrected DAX expression, or an empty string when no safe correction exists), ` +
	`and "confidence" (a number between 0 and 1 for how certain you are the correction resolves ` +
	`the failure without changing the measure's intent). Respond with JSON only, no prose.`

// Diagnoser implements diagnose.Diagnoser using a chat completion model.
type Diagnoser struct {
	logger *slog.Logger
	client *openai.Client
	model  string
}

// New creates a new openai diagnoser instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Diagnoser {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Diagnoser{logger: logger}
}

// Configure builds the API client. The key is read from the environment
// variable named by the configuration, never from the configuration itself.
func (d *Diagnoser) Configure(cfg core.DiagnoserConfig) error {
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = DefaultAPIKeyEnv
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return fmt.Errorf("environment variable %s not set", keyEnv)
	}

	config := openai.DefaultConfig(apiKey)
	if cfg.Endpoint != "" {
		config.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
	}
	timeout := DefaultTimeout
	if cfg.TimeoutMS > 0 {
		timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	config.HTTPClient = &http.Client{Timeout: timeout}
	d.model = cfg.Model
	if d.model == "" {
		d.model = DefaultModel
	}
	d.client = openai.NewClientWithConfig(config)

	d.logger.Debug("configured openai diagnoser",
		slog.String("model", d.model),
		slog.String("endpoint", cfg.Endpoint),
		slog.Duration("timeout", timeout))
	return nil
}

// Close is a no-op; the underlying client holds no connections of its own.
func (d *Diagnoser) Close() error { return nil }

// diagnosis is the JSON shape the model is asked to produce.
type diagnosis struct {
	RootCause           string  `json:"root_cause"`
	CorrectedExpression string  `json:"corrected_expression"`
	Confidence          float64 `json:"confidence"`
}

// Diagnose sends the failure to the model and parses its JSON verdict.
func (d *Diagnoser) Diagnose(ctx context.Context, failure diagnose.Failure) (*core.DiagnosisRecord, error) {
	if d.client == nil {
		return nil, fmt.Errorf("diagnoser not configured")
	}

	req := openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(failure)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := d.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	content := resp.Choices[0].Message.Content
	var parsed diagnosis
	if err := json.Unmarshal([]byte(stripFences(content)), &parsed); err != nil {
		// An unparseable reply is a verdict the model failed to deliver,
		// not a transport failure.
		return nil, &core.DiagnosisInconclusiveError{RootCause: "model reply was not a parseable diagnosis"}
	}
	if strings.TrimSpace(parsed.RootCause) == "" {
		return nil, &core.DiagnosisInconclusiveError{RootCause: "model returned no root cause"}
	}

	d.logger.Debug("model diagnosis",
		slog.String("root_cause", parsed.RootCause),
		slog.Float64("confidence", parsed.Confidence))

	return &core.DiagnosisRecord{
		RootCause:           strings.TrimSpace(parsed.RootCause),
		CorrectedExpression: strings.TrimSpace(parsed.CorrectedExpression),
		Confidence:          clamp(parsed.Confidence),
	}, nil
}

func buildPrompt(failure diagnose.Failure) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table: %s\nMeasure: %s\nExpression:\n%s\n\nFailing tests:\n",
		failure.Table, failure.Measure, failure.Expression)
	for _, t := range failure.Tests {
		if t.Passed {
			continue
		}
		msg := t.Message
		if msg == "" {
			msg = "(no message)"
		}
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, msg)
	}
	return b.String()
}

// stripFences removes a markdown code fence around the payload. Models add
// one even when asked for bare JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Ensure Diagnoser implements diagnose.Diagnoser interface
var _ diagnose.Diagnoser = (*Diagnoser)(nil)
