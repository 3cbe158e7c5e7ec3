// Package local implements llm.Provider against unauthenticated local
// inference servers speaking the Ollama-style HTTP API: JSON
// request/response with NDJSON streaming.
package local

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kbukum/llmgate/httpclient"
	"github.com/kbukum/llmgate/llm"
	"github.com/kbukum/llmgate/tokens"
)

const (
	chatPath = "/api/chat"
	tagsPath = "/api/tags"

	defaultID      = "ollama"
	defaultBaseURL = "http://localhost:11434"

	// Local servers load models on first use; a cold start can take
	// minutes on large models.
	defaultTimeout = 600 * time.Second

	// maxLineSize bounds one NDJSON line.
	maxLineSize = 1024 * 1024
)

// Config holds configuration for a local provider endpoint.
type Config struct {
	// ID identifies this provider in routing order and attempt records.
	ID string `json:"id" yaml:"id"`
	// BaseURL is the server's base endpoint. Defaults to the standard
	// local port.
	BaseURL string `json:"base_url" yaml:"base_url"`
	// Timeout bounds each non-streaming attempt. Defaults to 600s.
	// Streaming attempts are bounded by context only.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// ContextWindow is the model's combined prompt+completion token limit.
	// Zero disables local admission checks for this provider.
	ContextWindow int `json:"context_window" yaml:"context_window"`
}

// Adapter implements llm.Provider for the local wire protocol. No
// credential is attached to any request.
type Adapter struct {
	cfg    Config
	client *httpclient.Client
}

// New creates a local adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.ID == "" {
		cfg.ID = defaultID
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	client, err := httpclient.New(httpclient.Config{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("local: %w", err)
	}

	return &Adapter{cfg: cfg, client: client}, nil
}

// Name returns the configured provider identifier.
func (a *Adapter) Name() string { return a.cfg.ID }

// Describe returns the provider descriptor.
func (a *Adapter) Describe() llm.Descriptor {
	return llm.Descriptor{
		ID:                 a.cfg.ID,
		Kind:               llm.KindLocal,
		BaseURL:            a.cfg.BaseURL,
		ContextWindow:      a.cfg.ContextWindow,
		SupportsStreaming:  true,
		SupportsSystemRole: true,
	}
}

// IsAvailable checks if the server is reachable.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	_, err := a.client.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		Path:   tagsPath,
	})
	return err == nil
}

// CountTokens estimates the prompt-side token count.
func (a *Adapter) CountTokens(msgs []llm.Message, cfg llm.RequestConfig) int {
	return tokens.Estimate(msgs, cfg)
}

// Complete sends a completion request and returns the full response.
func (a *Adapter) Complete(ctx context.Context, msgs []llm.Message, cfg llm.RequestConfig) (*llm.CompletionResult, error) {
	resp, err := a.client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   chatPath,
		Body:   a.buildChatRequest(msgs, cfg, false),
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, llm.NewCancelled(a.cfg.ID, ctx.Err())
		}
		return nil, a.classify(err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, llm.NewMalformed(a.cfg.ID, "decode completion response", err)
	}
	if !parsed.Done && parsed.Message.Role == "" {
		return nil, llm.NewMalformed(a.cfg.ID, "response carries no message", nil)
	}

	result := &llm.CompletionResult{
		Content:      parsed.Message.Content,
		Model:        parsed.Model,
		FinishReason: llm.FinishStop,
		Provider:     a.cfg.ID,
	}
	if parsed.PromptEvalCount > 0 || parsed.EvalCount > 0 {
		result.Usage = llm.Usage{
			PromptTokens:     parsed.PromptEvalCount,
			CompletionTokens: parsed.EvalCount,
			TotalTokens:      parsed.PromptEvalCount + parsed.EvalCount,
		}
	} else {
		prompt := a.CountTokens(msgs, cfg)
		completion := tokens.EstimateText(parsed.Message.Content)
		result.Usage = llm.Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		}
	}
	if meta := parsed.metadata(); meta != nil {
		result.Metadata = meta
	}
	return result, nil
}

// Stream sends a streaming completion request. Events arrive on the
// returned channel in upstream order; the channel closes after the
// terminal event.
func (a *Adapter) Stream(ctx context.Context, msgs []llm.Message, cfg llm.RequestConfig) (<-chan llm.StreamEvent, error) {
	stream, err := a.client.DoStream(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   chatPath,
		Body:   a.buildChatRequest(msgs, cfg, true),
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, llm.NewCancelled(a.cfg.ID, ctx.Err())
		}
		return nil, a.classify(err)
	}

	body := stream.Body
	if body == nil {
		_ = stream.Close()
		return nil, llm.NewMalformed(a.cfg.ID, "backend did not open a line stream", nil)
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	promptTokens := a.CountTokens(msgs, cfg)
	completionChars := 0

	parse := func(data []byte) (llm.Frame, error) {
		frame, err := parseStreamLine(data)
		if err == nil {
			completionChars += len(frame.Delta)
		}
		return frame, err
	}

	next := func() ([]byte, error) {
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			return line, nil
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		// The only clean end of this protocol is a done:true line, which
		// stops the pump before another read.
		return nil, io.ErrUnexpectedEOF
	}

	mux := &llm.Multiplexer{
		Provider: a.cfg.ID,
		Estimate: func() *llm.Usage {
			completion := tokens.EstimateChars(completionChars)
			return &llm.Usage{
				PromptTokens:     promptTokens,
				CompletionTokens: completion,
				TotalTokens:      promptTokens + completion,
			}
		},
	}

	ch := make(chan llm.StreamEvent)
	go func() {
		defer stream.Close() //nolint:errcheck // Error on close is safe to ignore for read operations
		mux.Pump(ctx, next, parse, ch)
	}()

	return ch, nil
}

// Close releases idle connections held by the adapter.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// classify maps transport errors to the taxonomy. Connection refusal and
// timeouts are the normal failure mode for a stopped or cold local server.
func (a *Adapter) classify(err error) error {
	var herr *httpclient.Error
	if !errors.As(err, &herr) {
		return llm.NewTransient(a.cfg.ID, "request failed", 0, err)
	}

	switch herr.Code {
	case httpclient.ErrCodeTimeout:
		return llm.NewTransient(a.cfg.ID, "request timed out", 0, err)
	case httpclient.ErrCodeConnection:
		return llm.NewTransient(a.cfg.ID, "connection failed", 0, err)
	case httpclient.ErrCodeRateLimit:
		return llm.NewTransient(a.cfg.ID, "rate limited", herr.RetryAfter, err)
	case httpclient.ErrCodeServer:
		return llm.NewTransient(a.cfg.ID, fmt.Sprintf("backend error (HTTP %d)", herr.StatusCode), 0, err)
	default:
		return llm.NewMalformed(a.cfg.ID, fmt.Sprintf("unexpected status %d", herr.StatusCode), err)
	}
}

// --- wire types ---

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	TotalDuration   int64       `json:"total_duration,omitempty"`
	EvalDuration    int64       `json:"eval_duration,omitempty"`
	PromptEvalCount int         `json:"prompt_eval_count,omitempty"`
	EvalCount       int         `json:"eval_count,omitempty"`
}

// metadata converts the terminal frame's nanosecond timings, or nil when
// the backend reported none.
func (r *chatResponse) metadata() *llm.GenerationMetadata {
	if r.TotalDuration == 0 && r.EvalDuration == 0 {
		return nil
	}
	return &llm.GenerationMetadata{
		TotalDuration: time.Duration(r.TotalDuration),
		EvalDuration:  time.Duration(r.EvalDuration),
	}
}

// buildChatRequest creates a wire request from universal messages and config.
func (a *Adapter) buildChatRequest(msgs []llm.Message, cfg llm.RequestConfig, stream bool) chatRequest {
	wire := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		wire = append(wire, chatMessage{Role: m.Role, Content: m.Content})
	}

	opts := map[string]any{"num_predict": cfg.MaxTokens}
	if cfg.Temperature != 0 {
		opts["temperature"] = cfg.Temperature
	}
	if cfg.TopP != 0 {
		opts["top_p"] = cfg.TopP
	}
	if len(cfg.Stop) > 0 {
		opts["stop"] = cfg.Stop
	}
	for k, v := range cfg.ProviderOptions(a.cfg.ID) {
		opts[k] = v
	}

	return chatRequest{
		Model:    cfg.Model,
		Messages: wire,
		Stream:   stream,
		Format:   cfg.Format,
		Options:  opts,
	}
}

// parseStreamLine interprets one NDJSON line.
func parseStreamLine(data []byte) (llm.Frame, error) {
	var f chatResponse
	if err := json.Unmarshal(data, &f); err != nil {
		return llm.Frame{}, err
	}

	frame := llm.Frame{
		Delta: f.Message.Content,
		Done:  f.Done,
	}
	if f.Done {
		frame.FinishReason = llm.FinishStop
		if f.PromptEvalCount > 0 || f.EvalCount > 0 {
			frame.Usage = &llm.Usage{
				PromptTokens:     f.PromptEvalCount,
				CompletionTokens: f.EvalCount,
				TotalTokens:      f.PromptEvalCount + f.EvalCount,
			}
		}
		frame.Metadata = f.metadata()
	}
	return frame, nil
}
