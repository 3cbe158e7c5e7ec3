package llm

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies failures across the layer.
type ErrorKind string

const (
	// ValidationRejected means the request failed a local admission check
	// (token budget exceeded, malformed configuration). Never sent over
	// the network.
	ValidationRejected ErrorKind = "validation_rejected"
	// AuthenticationFailed is a provider-specific credential failure.
	// Fatal for the provider; recoverable only by provider substitution.
	AuthenticationFailed ErrorKind = "authentication_failed"
	// TransientBackendError covers timeouts, connection refusal, and rate
	// limits. Retryable.
	TransientBackendError ErrorKind = "transient_backend_error"
	// MalformedResponse means the backend's payload could not be parsed.
	// Fatal for the attempt.
	MalformedResponse ErrorKind = "malformed_response"
	// AllProvidersExhausted is the terminal aggregate failure after every
	// configured provider has been exhausted.
	AllProvidersExhausted ErrorKind = "all_providers_exhausted"
	// Cancelled is a caller-initiated termination.
	Cancelled ErrorKind = "cancelled"
)

// Error is a classified failure from a provider attempt or a local
// admission check.
type Error struct {
	// Kind classifies the failure.
	Kind ErrorKind
	// Provider identifies the provider involved, when any.
	Provider string
	// Message describes the failure. Adapters never echo credentials here.
	Message string
	// Hint is a backend-suggested minimum delay before the next attempt
	// (rate limiting). Zero when the backend supplied none.
	Hint time.Duration
	// Estimated and Limit are set on ValidationRejected: the token
	// estimate that was rejected and the context window it exceeded.
	Estimated int
	Limit     int
	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("llm: %s: %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("llm: %s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewValidationRejected creates a token-budget rejection for a provider.
func NewValidationRejected(provider string, estimated, limit int) *Error {
	return &Error{
		Kind:      ValidationRejected,
		Provider:  provider,
		Message:   fmt.Sprintf("estimated %d tokens exceeds context window %d", estimated, limit),
		Estimated: estimated,
		Limit:     limit,
	}
}

// NewAuthenticationFailed creates a credential failure for a provider.
func NewAuthenticationFailed(provider, message string, cause error) *Error {
	return &Error{
		Kind:     AuthenticationFailed,
		Provider: provider,
		Message:  message,
		Cause:    cause,
	}
}

// NewTransient creates a retryable backend failure. hint carries the
// backend's suggested backoff when it supplied one.
func NewTransient(provider, message string, hint time.Duration, cause error) *Error {
	return &Error{
		Kind:     TransientBackendError,
		Provider: provider,
		Message:  message,
		Hint:     hint,
		Cause:    cause,
	}
}

// NewMalformed creates an unparseable-response failure.
func NewMalformed(provider, message string, cause error) *Error {
	return &Error{
		Kind:     MalformedResponse,
		Provider: provider,
		Message:  message,
		Cause:    cause,
	}
}

// NewCancelled creates a caller-initiated termination.
func NewCancelled(provider string, cause error) *Error {
	msg := "call cancelled"
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Kind:     Cancelled,
		Provider: provider,
		Message:  msg,
		Cause:    cause,
	}
}

// ProviderOutcome is one provider's final outcome within a call.
type ProviderOutcome struct {
	Provider string  `json:"provider"`
	Outcome  Outcome `json:"outcome"`
	Err      error   `json:"-"`
}

// ExhaustedError is the terminal aggregate failure: every configured
// provider was exhausted. It enumerates each provider's final outcome and
// carries the call's full attempt history.
type ExhaustedError struct {
	// Outcomes holds each tried provider's final outcome, in attempt order.
	Outcomes []ProviderOutcome
	// Attempts is the complete attempt history for the call.
	Attempts []AttemptRecord
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	if len(e.Outcomes) == 0 {
		return "llm: all providers exhausted: no providers configured"
	}
	parts := make([]string, 0, len(e.Outcomes))
	for _, o := range e.Outcomes {
		kind := KindOf(o.Err)
		if kind == "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", o.Provider, o.Outcome))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", o.Provider, kind))
	}
	return "llm: all providers exhausted: " + strings.Join(parts, ", ")
}

// KindOf returns the taxonomy kind carried by an error, unwrapping as
// needed. Returns the empty kind for unclassified errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		return AllProvidersExhausted
	}
	return ""
}

// IsValidationRejected checks for a local admission rejection.
func IsValidationRejected(err error) bool {
	return KindOf(err) == ValidationRejected
}

// IsAuthenticationFailed checks for a credential failure.
func IsAuthenticationFailed(err error) bool {
	return KindOf(err) == AuthenticationFailed
}

// IsTransient checks whether an error is retryable.
func IsTransient(err error) bool {
	return KindOf(err) == TransientBackendError
}

// IsMalformed checks for an unparseable backend response.
func IsMalformed(err error) bool {
	return KindOf(err) == MalformedResponse
}

// IsExhausted checks for the terminal aggregate failure.
func IsExhausted(err error) bool {
	return KindOf(err) == AllProvidersExhausted
}

// IsCancelled checks for caller-initiated termination.
func IsCancelled(err error) bool {
	return KindOf(err) == Cancelled
}

// BackoffHint returns the backend-suggested retry delay carried by an
// error, or 0 when it carries none.
func BackoffHint(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.Hint
	}
	return 0
}
