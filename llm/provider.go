package llm

import "context"

// Provider is the capability set every LLM backend adapter implements.
// Implementations perform outbound network calls only; they hold no disk
// or process-global state.
type Provider interface {
	// Name returns the provider identifier (Describe().ID).
	Name() string

	// Describe returns the provider's descriptor: kind, endpoint, and
	// limits. Bound at construction, read-only thereafter.
	Describe() Descriptor

	// IsAvailable reports whether the backend is currently reachable.
	// Informational: routing order never depends on it.
	IsAvailable(ctx context.Context) bool

	// Complete sends a completion request and returns the full response.
	// Failures are classified Error values from the taxonomy.
	Complete(ctx context.Context, msgs []Message, cfg RequestConfig) (*CompletionResult, error)

	// Stream sends a completion request and returns the canonical event
	// sequence. The returned channel is closed after the terminal Done or
	// Error event. An error return means the stream could not be
	// established; no events were emitted.
	Stream(ctx context.Context, msgs []Message, cfg RequestConfig) (<-chan StreamEvent, error)

	// CountTokens estimates the prompt token usage of a message list.
	// Estimates never undercount; the backend's own counters remain
	// authoritative for reporting.
	CountTokens(msgs []Message, cfg RequestConfig) int
}
