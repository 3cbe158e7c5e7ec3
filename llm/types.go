package llm

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message roles. Order within a conversation is chronological and must be
// preserved end-to-end.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolCall is an optional structured payload attached to a message.
type ToolCall struct {
	Name      string          `json:"name" yaml:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}

// Message represents a single chat message.
type Message struct {
	Role     string    `json:"role" yaml:"role"` // "system", "user", "assistant"
	Content  string    `json:"content" yaml:"content"`
	ToolCall *ToolCall `json:"tool_call,omitempty" yaml:"tool_call,omitempty"`
}

// ValidateMessages checks that a conversation is usable: non-empty, known
// roles only, and at least one user message.
func ValidateMessages(msgs []Message) error {
	if len(msgs) == 0 {
		return fmt.Errorf("llm: message list is empty")
	}
	hasUser := false
	for i, m := range msgs {
		switch m.Role {
		case RoleSystem, RoleAssistant:
		case RoleUser:
			hasUser = true
		default:
			return fmt.Errorf("llm: message %d has unknown role %q", i, m.Role)
		}
	}
	if !hasUser {
		return fmt.Errorf("llm: message list has no user message")
	}
	return nil
}

// RequestConfig is the immutable per-call configuration bundle. A new
// RequestConfig is built per call and never mutated mid-flight; providers
// read it but do not change it.
type RequestConfig struct {
	// Model is the model identifier sent to the backend. Required.
	Model string `json:"model" yaml:"model"`

	// Temperature controls sampling randomness, in [0, 2].
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature"`

	// TopP is the nucleus sampling cutoff, in (0, 1]. Zero means unset:
	// the field is omitted from the wire and the backend default applies.
	TopP float64 `json:"top_p,omitempty" yaml:"top_p"`

	// MaxTokens bounds the response length. Required, > 0; it is also the
	// reply budget used for context-window admission.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`

	// Stop lists sequences that end generation early. Optional.
	Stop []string `json:"stop,omitempty" yaml:"stop,omitempty"`

	// Format hints at the output format. Empty or "json".
	Format string `json:"format,omitempty" yaml:"format,omitempty"`

	// Overrides carries provider-specific options that do not fit the
	// universal schema, keyed by provider identifier then option name.
	Overrides map[string]map[string]any `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

// FormatJSON requests that the backend emit a single JSON object.
const FormatJSON = "json"

// Validate checks the configuration bounds. Violations never reach the
// network; they are reported before any provider is contacted.
func (c RequestConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("llm: model is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("llm: temperature %v out of range [0, 2]", c.Temperature)
	}
	if c.TopP < 0 || c.TopP > 1 {
		return fmt.Errorf("llm: top_p %v out of range (0, 1]", c.TopP)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("llm: max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.Format != "" && c.Format != FormatJSON {
		return fmt.Errorf("llm: unsupported format %q", c.Format)
	}
	return nil
}

// Clone returns a deep copy. Callers that derive a variant of a config do
// so on a clone; the original stays untouched for the duration of its call.
func (c RequestConfig) Clone() RequestConfig {
	out := c
	if c.Stop != nil {
		out.Stop = make([]string, len(c.Stop))
		copy(out.Stop, c.Stop)
	}
	if c.Overrides != nil {
		out.Overrides = make(map[string]map[string]any, len(c.Overrides))
		for provider, opts := range c.Overrides {
			m := make(map[string]any, len(opts))
			for k, v := range opts {
				m[k] = v
			}
			out.Overrides[provider] = m
		}
	}
	return out
}

// ProviderOptions returns the override map for one provider, or nil.
func (c RequestConfig) ProviderOptions(providerID string) map[string]any {
	if c.Overrides == nil {
		return nil
	}
	return c.Overrides[providerID]
}

// Kind distinguishes the two backend families.
type Kind string

const (
	// KindCloud is a key-authenticated hosted HTTP API.
	KindCloud Kind = "cloud"
	// KindLocal is an unauthenticated HTTP API on a local network.
	KindLocal Kind = "local"
)

// Descriptor describes a provider's identity and limits. Created at
// configuration time and read-only thereafter.
type Descriptor struct {
	// ID uniquely identifies the provider (e.g. "openai", "ollama-desk").
	ID string `json:"id" yaml:"id"`
	// Kind is the backend family.
	Kind Kind `json:"kind" yaml:"kind"`
	// BaseURL is the backend's base endpoint.
	BaseURL string `json:"base_url" yaml:"base_url"`
	// ContextWindow is the maximum combined prompt+completion token count
	// the backend accepts for one request.
	ContextWindow int `json:"context_window" yaml:"context_window"`
	// SupportsStreaming reports whether the backend can stream responses.
	SupportsStreaming bool `json:"supports_streaming" yaml:"supports_streaming"`
	// SupportsSystemRole reports whether the backend accepts system messages.
	SupportsSystemRole bool `json:"supports_system_role" yaml:"supports_system_role"`
}

// Usage reports token consumption for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FinishReason explains why generation stopped.
type FinishReason string

const (
	// FinishStop means the model completed naturally or hit a stop sequence.
	FinishStop FinishReason = "stop"
	// FinishLength means the max_tokens budget was reached.
	FinishLength FinishReason = "length"
	// FinishError means generation was cut short by an error.
	FinishError FinishReason = "error"
)

// GenerationMetadata carries optional backend-reported generation timings.
// Local backends report wall-clock and evaluation durations on their
// terminal frame.
type GenerationMetadata struct {
	TotalDuration time.Duration `json:"total_duration"`
	EvalDuration  time.Duration `json:"eval_duration"`
}

// CompletionResult is the universal output of a successful call. Produced
// once per call; immutable.
type CompletionResult struct {
	// Content is the generated text.
	Content string `json:"content"`
	// Model is the model that produced the response.
	Model string `json:"model"`
	// FinishReason explains why generation stopped.
	FinishReason FinishReason `json:"finish_reason"`
	// Usage reports token consumption. Backend-reported counters are
	// authoritative here; pre-flight estimates are never written back.
	Usage Usage `json:"usage"`
	// Provider identifies the provider that served the call.
	Provider string `json:"provider"`
	// Metadata carries optional generation timings. Nil when the backend
	// reports none.
	Metadata *GenerationMetadata `json:"metadata,omitempty"`
}

// Outcome classifies how an attempt ended.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeTransientError Outcome = "transient_error"
	OutcomeFatalError     Outcome = "fatal_error"
)

// AttemptRecord documents one attempt against one provider. Records are
// appended by the router for observability; a bounded rolling window keeps
// process-lifetime memory flat.
type AttemptRecord struct {
	// CallID correlates all attempts of one call.
	CallID string `json:"call_id"`
	// Provider is the provider identifier the attempt targeted.
	Provider string `json:"provider"`
	// Attempt is the 1-based attempt ordinal on this provider within the call.
	Attempt int `json:"attempt"`
	// Outcome classifies the attempt result.
	Outcome Outcome `json:"outcome"`
	// ErrorKind is set when the attempt failed.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	// Latency is how long the attempt took.
	Latency time.Duration `json:"latency"`
	// Timestamp is when the attempt started.
	Timestamp time.Time `json:"timestamp"`
}
