package router

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/llmgate/llm"
	"github.com/kbukum/llmgate/logger"
	"github.com/kbukum/llmgate/resilience"
	"github.com/kbukum/llmgate/tokens"
)

// Router tries providers in configured order until one succeeds. It is
// safe for concurrent use; the provider order can be swapped at runtime
// without affecting calls already in flight.
type Router struct {
	mu      sync.RWMutex
	entries []Entry

	policy  RetryPolicy
	acct    *tokens.Accountant
	rec     Recorder
	log     *logger.Logger
	history *history
}

// New creates a router from the configuration.
func New(cfg Config) *Router {
	cfg.Retry.ApplyDefaults()

	acct := cfg.Accountant
	if acct == nil {
		acct = tokens.NewAccountant()
	}
	rec := cfg.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("router")
	}

	return &Router{
		entries: append([]Entry(nil), cfg.Providers...),
		policy:  cfg.Retry,
		acct:    acct,
		rec:     rec,
		log:     log,
		history: newHistory(cfg.HistorySize),
	}
}

// SetProviders replaces the fallback order. Calls already in flight keep
// the order they started with.
func (r *Router) SetProviders(entries ...Entry) {
	snapshot := append([]Entry(nil), entries...)
	r.mu.Lock()
	r.entries = snapshot
	r.mu.Unlock()
}

// Providers returns the identifiers of the current order.
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Provider.Name()
	}
	return out
}

// History returns the retained attempt records, oldest first.
func (r *Router) History() []llm.AttemptRecord {
	return r.history.snapshot()
}

// Complete routes a completion through the fallback order and returns the
// first success. WithProviderOrder narrows the order for this call only.
// It returns a ValidationRejected error for malformed input, a Cancelled
// error when the context ends the call, and otherwise an ExhaustedError
// enumerating every provider's final outcome.
func (r *Router) Complete(ctx context.Context, msgs []llm.Message, cfg llm.RequestConfig, opts ...CallOption) (*llm.CompletionResult, error) {
	if err := validateInput(msgs, cfg); err != nil {
		return nil, err
	}

	entries, err := r.entriesFor(opts)
	if err != nil {
		return nil, err
	}
	c := newCall()

	for _, entry := range entries {
		id := entry.Provider.Name()
		desc := entry.Provider.Describe()

		if err := r.admit(ctx, c, id, desc, msgs, cfg); err != nil {
			continue
		}

		result, err := r.completeOn(ctx, c, entry, desc, msgs, cfg)
		if err == nil {
			return result, nil
		}
		if llm.IsCancelled(err) {
			return nil, err
		}
		r.log.Warn("provider exhausted, falling over", logger.Fields(
			"call_id", c.id,
			"provider", id,
			"error", err.Error(),
		))
	}

	r.log.Warn("all providers exhausted", logger.Fields(
		"call_id", c.id,
		"providers", len(entries),
	))
	return nil, &llm.ExhaustedError{Outcomes: c.outcomes, Attempts: c.attempts}
}

// completeOn runs the bounded attempt loop on one provider. A nil error
// is success. A Cancelled error ends the whole call; any other error
// means this provider is done and the next candidate should be tried.
func (r *Router) completeOn(ctx context.Context, c *call, entry Entry, desc llm.Descriptor, msgs []llm.Message, cfg llm.RequestConfig) (*llm.CompletionResult, error) {
	id := entry.Provider.Name()
	policy := r.policyFor(entry)
	rcfg := policy.retryConfig()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, r.cancelCall(c, id, err)
		}

		started := time.Now()

		if entry.Breaker != nil && !entry.Breaker.Allow() {
			lastErr = llm.NewTransient(id, "circuit open", 0, resilience.ErrCircuitOpen)
			r.record(ctx, c, attemptRecord(c, id, attempt, started, llm.OutcomeTransientError, llm.TransientBackendError))
			if attempt == policy.MaxAttempts {
				break
			}
			if werr := r.backoff(ctx, rcfg, attempt, lastErr); werr != nil {
				return nil, r.cancelCall(c, id, werr)
			}
			continue
		}

		if entry.Limiter != nil {
			if err := entry.Limiter.Wait(ctx); err != nil {
				return nil, r.cancelCall(c, id, err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, entry.attemptTimeout(desc.Kind))
		result, err := entry.Provider.Complete(attemptCtx, msgs, cfg)
		cancel()

		if entry.Breaker != nil {
			entry.Breaker.Record(err)
		}

		if err == nil {
			r.record(ctx, c, attemptRecord(c, id, attempt, started, llm.OutcomeSuccess, ""))
			r.rec.RecordCompletion(ctx, id, result.Usage, result.Metadata)
			return result, nil
		}

		kind := llm.KindOf(err)
		if kind != llm.TransientBackendError {
			r.record(ctx, c, attemptRecord(c, id, attempt, started, llm.OutcomeFatalError, kind))
			c.fail(id, llm.OutcomeFatalError, err)
			return nil, err
		}

		lastErr = err
		r.record(ctx, c, attemptRecord(c, id, attempt, started, llm.OutcomeTransientError, kind))
		if attempt == policy.MaxAttempts {
			break
		}
		if werr := r.backoff(ctx, rcfg, attempt, err); werr != nil {
			return nil, r.cancelCall(c, id, werr)
		}
	}

	c.fail(id, llm.OutcomeTransientError, lastErr)
	return nil, lastErr
}

// admit runs the pre-flight context-window check. A rejection is recorded
// as an immediate fatal attempt; no network traffic happens.
func (r *Router) admit(ctx context.Context, c *call, id string, desc llm.Descriptor, msgs []llm.Message, cfg llm.RequestConfig) error {
	err := r.acct.Validate(msgs, cfg, desc)
	if err == nil {
		return nil
	}
	r.record(ctx, c, attemptRecord(c, id, 1, time.Now(), llm.OutcomeFatalError, llm.KindOf(err)))
	c.fail(id, llm.OutcomeFatalError, err)
	return err
}

// backoff sleeps before the next attempt on the same provider. A backend
// hint overrides the computed delay but stays capped at MaxBackoff.
func (r *Router) backoff(ctx context.Context, rcfg resilience.RetryConfig, attempt int, err error) error {
	delay := resilience.BackoffDelay(attempt, rcfg)
	if hint := llm.BackoffHint(err); hint > 0 {
		delay = hint
		if delay > rcfg.MaxBackoff {
			delay = rcfg.MaxBackoff
		}
	}
	return resilience.Wait(ctx, delay)
}

// cancelCall marks the provider's outcome and builds the terminal
// Cancelled error. Cancellations between attempts record no attempt of
// their own; only issued attempts appear in the history.
func (r *Router) cancelCall(c *call, id string, cause error) error {
	err := llm.NewCancelled(id, cause)
	c.fail(id, llm.OutcomeFatalError, err)
	return err
}

func (r *Router) policyFor(entry Entry) RetryPolicy {
	if entry.Retry != nil {
		p := *entry.Retry
		p.ApplyDefaults()
		return p
	}
	return r.policy
}

func (r *Router) snapshotEntries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries
}

// record appends the attempt to the call, the rolling history, and the
// telemetry recorder.
func (r *Router) record(ctx context.Context, c *call, rec llm.AttemptRecord) {
	c.attempts = append(c.attempts, rec)
	r.history.append(rec)
	r.rec.RecordAttempt(ctx, rec)
	r.log.Debug("attempt finished", logger.Fields(
		"call_id", rec.CallID,
		"provider", rec.Provider,
		"attempt", rec.Attempt,
		"outcome", string(rec.Outcome),
		"error_kind", string(rec.ErrorKind),
		"latency", rec.Latency.String(),
	))
}

// validateInput rejects malformed requests before provider selection.
func validateInput(msgs []llm.Message, cfg llm.RequestConfig) error {
	if err := llm.ValidateMessages(msgs); err != nil {
		return &llm.Error{Kind: llm.ValidationRejected, Message: err.Error(), Cause: err}
	}
	if err := cfg.Validate(); err != nil {
		return &llm.Error{Kind: llm.ValidationRejected, Message: err.Error(), Cause: err}
	}
	return nil
}

// call accumulates the state of one routed call.
type call struct {
	id       string
	outcomes []llm.ProviderOutcome
	attempts []llm.AttemptRecord
}

func newCall() *call {
	return &call{id: uuid.NewString()}
}

// fail records the provider's final outcome within this call.
func (c *call) fail(id string, outcome llm.Outcome, err error) {
	c.outcomes = append(c.outcomes, llm.ProviderOutcome{Provider: id, Outcome: outcome, Err: err})
}

func attemptRecord(c *call, provider string, attempt int, started time.Time, outcome llm.Outcome, kind llm.ErrorKind) llm.AttemptRecord {
	return llm.AttemptRecord{
		CallID:    c.id,
		Provider:  provider,
		Attempt:   attempt,
		Outcome:   outcome,
		ErrorKind: kind,
		Latency:   time.Since(started),
		Timestamp: started,
	}
}
