// Package cloud implements llm.Provider against key-authenticated chat
// completion APIs: JSON request/response over HTTPS with SSE streaming.
package cloud

import (
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
	completionsPath = "/v1/chat/completions"
	modelsPath      = "/v1/models"

	// doneSentinel terminates an SSE completion stream.
	doneSentinel = "[DONE]"

	defaultID      = "cloud"
	defaultTimeout = 120 * time.Second
)

// Config holds configuration for a cloud provider endpoint.
type Config struct {
	// ID identifies this provider in routing order and attempt records.
	ID string `json:"id" yaml:"id"`
	// BaseURL is the API base endpoint. Required.
	BaseURL string `json:"base_url" yaml:"base_url"`
	// APIKey is the bearer credential. Required. It is written to the
	// Authorization header and nowhere else.
	APIKey string `json:"-" yaml:"-"`
	// Timeout bounds each non-streaming attempt. Defaults to 120s.
	// Streaming attempts are bounded by context only.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// ContextWindow is the model's combined prompt+completion token limit.
	// Zero disables local admission checks for this provider.
	ContextWindow int `json:"context_window" yaml:"context_window"`
	// Headers are extra headers sent with every request (organization
	// identifiers and the like).
	Headers map[string]string `json:"headers" yaml:"headers"`
}

// Adapter implements llm.Provider for the cloud wire protocol.
type Adapter struct {
	cfg    Config
	client *httpclient.Client
}

// New creates a cloud adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.ID == "" {
		cfg.ID = defaultID
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("cloud: base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("cloud: API key is required")
	}

	client, err := httpclient.New(httpclient.Config{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Auth:    httpclient.BearerAuth(cfg.APIKey),
		Headers: cfg.Headers,
	})
	if err != nil {
		return nil, fmt.Errorf("cloud: %w", err)
	}

	return &Adapter{cfg: cfg, client: client}, nil
}

// Name returns the configured provider identifier.
func (a *Adapter) Name() string { return a.cfg.ID }

// Describe returns the provider descriptor.
func (a *Adapter) Describe() llm.Descriptor {
	return llm.Descriptor{
		ID:                 a.cfg.ID,
		Kind:               llm.KindCloud,
		BaseURL:            a.cfg.BaseURL,
		ContextWindow:      a.cfg.ContextWindow,
		SupportsStreaming:  true,
		SupportsSystemRole: true,
	}
}

// IsAvailable probes the models index.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	_, err := a.client.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		Path:   modelsPath,
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
		Path:   completionsPath,
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
	if parsed.Message.Role == "" && parsed.FinishReason == "" {
		return nil, llm.NewMalformed(a.cfg.ID, "response carries no message", nil)
	}

	result := &llm.CompletionResult{
		Content:      parsed.Message.Content,
		Model:        parsed.Model,
		FinishReason: finishReason(parsed.FinishReason),
		Provider:     a.cfg.ID,
	}
	if parsed.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
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
	return result, nil
}

// Stream sends a streaming completion request. Events arrive on the
// returned channel in upstream order; the channel closes after the
// terminal event.
func (a *Adapter) Stream(ctx context.Context, msgs []llm.Message, cfg llm.RequestConfig) (<-chan llm.StreamEvent, error) {
	stream, err := a.client.DoStream(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   completionsPath,
		Body:   a.buildChatRequest(msgs, cfg, true),
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, llm.NewCancelled(a.cfg.ID, ctx.Err())
		}
		return nil, a.classify(err)
	}
	if stream.SSE == nil {
		_ = stream.Close()
		return nil, llm.NewMalformed(a.cfg.ID, "backend did not open an event stream", nil)
	}

	promptTokens := a.CountTokens(msgs, cfg)
	completionChars := 0

	parse := func(data []byte) (llm.Frame, error) {
		frame, err := parseStreamFrame(data)
		if err == nil {
			completionChars += len(frame.Delta)
		}
		return frame, err
	}

	next := func() ([]byte, error) {
		ev, err := stream.SSE.Next()
		if err == io.EOF {
			// The transport ended before the protocol's sentinel arrived.
			return nil, io.ErrUnexpectedEOF
		}
		if err != nil {
			return nil, err
		}
		if ev.Data == doneSentinel {
			return nil, io.EOF
		}
		return []byte(ev.Data), nil
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

// classify maps transport errors to the taxonomy.
func (a *Adapter) classify(err error) error {
	var herr *httpclient.Error
	if !errors.As(err, &herr) {
		return llm.NewTransient(a.cfg.ID, "request failed", 0, err)
	}

	switch herr.Code {
	case httpclient.ErrCodeAuth:
		return llm.NewAuthenticationFailed(a.cfg.ID, fmt.Sprintf("credential rejected (HTTP %d)", herr.StatusCode), err)
	case httpclient.ErrCodeRateLimit:
		return llm.NewTransient(a.cfg.ID, "rate limited", herr.RetryAfter, err)
	case httpclient.ErrCodeTimeout:
		return llm.NewTransient(a.cfg.ID, "request timed out", 0, err)
	case httpclient.ErrCodeConnection:
		return llm.NewTransient(a.cfg.ID, "connection failed", 0, err)
	case httpclient.ErrCodeServer:
		return llm.NewTransient(a.cfg.ID, fmt.Sprintf("backend error (HTTP %d)", herr.StatusCode), herr.RetryAfter, err)
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
	Options  map[string]any `json:"options"`
}

type usagePayload struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	Model        string        `json:"model"`
	Message      chatMessage   `json:"message"`
	FinishReason string        `json:"finish_reason"`
	Usage        *usagePayload `json:"usage"`
}

type streamFrame struct {
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	FinishReason string        `json:"finish_reason"`
	Usage        *usagePayload `json:"usage"`
}

// buildChatRequest creates a wire request from universal messages and config.
func (a *Adapter) buildChatRequest(msgs []llm.Message, cfg llm.RequestConfig, stream bool) chatRequest {
	wire := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		wire = append(wire, chatMessage{Role: m.Role, Content: m.Content})
	}

	opts := map[string]any{"max_tokens": cfg.MaxTokens}
	if cfg.Temperature != 0 {
		opts["temperature"] = cfg.Temperature
	}
	if cfg.TopP != 0 {
		opts["top_p"] = cfg.TopP
	}
	if len(cfg.Stop) > 0 {
		opts["stop"] = cfg.Stop
	}
	if cfg.Format != "" {
		opts["format"] = cfg.Format
	}
	for k, v := range cfg.ProviderOptions(a.cfg.ID) {
		opts[k] = v
	}

	return chatRequest{
		Model:    cfg.Model,
		Messages: wire,
		Stream:   stream,
		Options:  opts,
	}
}

// parseStreamFrame interprets one SSE data payload.
func parseStreamFrame(data []byte) (llm.Frame, error) {
	var f streamFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return llm.Frame{}, err
	}

	frame := llm.Frame{
		Delta: f.Delta.Content,
		Done:  f.FinishReason != "",
	}
	if frame.Done {
		frame.FinishReason = finishReason(f.FinishReason)
		if f.Usage != nil {
			frame.Usage = &llm.Usage{
				PromptTokens:     f.Usage.PromptTokens,
				CompletionTokens: f.Usage.CompletionTokens,
				TotalTokens:      f.Usage.TotalTokens,
			}
		}
	}
	return frame, nil
}

func finishReason(v string) llm.FinishReason {
	if v == "" {
		return llm.FinishStop
	}
	return llm.FinishReason(v)
}
