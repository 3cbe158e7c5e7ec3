package router

import (
	"time"

	"github.com/kbukum/llmgate/llm"
	"github.com/kbukum/llmgate/logger"
	"github.com/kbukum/llmgate/resilience"
	"github.com/kbukum/llmgate/tokens"
)

const (
	defaultHistorySize = 256

	// Per-attempt timeouts applied when an Entry sets none. Local
	// backends get a long leash because cold model loads are slow.
	defaultCloudTimeout = 120 * time.Second
	defaultLocalTimeout = 600 * time.Second
)

// RetryPolicy bounds how often one provider is retried within a single
// call before the router falls over to the next candidate.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts per provider,
	// including the first. Defaults to 3.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`

	// InitialBackoff seeds the exponential delay schedule. Defaults
	// to 100ms.
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff" mapstructure:"initial_backoff"`

	// MaxBackoff caps every delay, including backend-supplied hints.
	// Defaults to 10s.
	MaxBackoff time.Duration `json:"max_backoff" yaml:"max_backoff" mapstructure:"max_backoff"`

	// BackoffFactor is the exponential multiplier. Defaults to 2.
	BackoffFactor float64 `json:"backoff_factor" yaml:"backoff_factor" mapstructure:"backoff_factor"`

	// Jitter randomizes each delay by the given fraction (0 to 1).
	// Zero means deterministic delays.
	Jitter float64 `json:"jitter" yaml:"jitter" mapstructure:"jitter"`
}

// DefaultRetryPolicy returns the standard per-provider policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.1,
	}
}

// ApplyDefaults fills unset fields. Jitter is left as given.
func (p *RetryPolicy) ApplyDefaults() {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 100 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 10 * time.Second
	}
	if p.BackoffFactor <= 0 {
		p.BackoffFactor = 2.0
	}
}

// retryConfig converts the policy for the resilience backoff helpers.
func (p RetryPolicy) retryConfig() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    p.MaxAttempts,
		InitialBackoff: p.InitialBackoff,
		MaxBackoff:     p.MaxBackoff,
		BackoffFactor:  p.BackoffFactor,
		Jitter:         p.Jitter,
	}
}

// Entry is one provider in the fallback order, with optional per-provider
// protections. The zero value of everything but Provider is usable.
type Entry struct {
	// Provider serves the attempts.
	Provider llm.Provider

	// Retry overrides the router's default policy for this provider.
	Retry *RetryPolicy

	// Timeout bounds each completion attempt. Zero applies the kind
	// default: 120s for cloud backends, 600s for local ones.
	Timeout time.Duration

	// Breaker short-circuits attempts while open. Rejections count as
	// transient failures, so the provider keeps its place in the order.
	Breaker *resilience.CircuitBreaker

	// Limiter paces outbound attempts. Waits are bounded by the call
	// context.
	Limiter *resilience.RateLimiter
}

// attemptTimeout resolves the per-attempt deadline for this entry.
func (e Entry) attemptTimeout(kind llm.Kind) time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	if kind == llm.KindLocal {
		return defaultLocalTimeout
	}
	return defaultCloudTimeout
}

// Config configures a Router.
type Config struct {
	// Providers is the fallback order, tried strictly first to last.
	Providers []Entry

	// Retry is the default per-provider policy. Zero fields take the
	// documented defaults.
	Retry RetryPolicy

	// Accountant performs pre-flight context-window checks. Nil gets a
	// default heuristic accountant.
	Accountant *tokens.Accountant

	// Recorder receives attempt and completion telemetry. Nil discards.
	Recorder Recorder

	// Logger overrides the router's structured logger.
	Logger *logger.Logger

	// HistorySize bounds the rolling attempt log. Defaults to 256.
	HistorySize int
}
