package router

import (
	"context"
	"time"

	"github.com/kbukum/llmgate/llm"
	"github.com/kbukum/llmgate/logger"
	"github.com/kbukum/llmgate/resilience"
)

// forwardOutcome classifies how relaying one upstream attempt ended.
type forwardOutcome int

const (
	// forwardDone means the attempt succeeded and the terminal Done
	// event reached the caller.
	forwardDone forwardOutcome = iota
	// forwardAborted means a terminal Error event reached the caller;
	// the call is over.
	forwardAborted
	// forwardRetry means the attempt failed transiently before any
	// content reached the caller; nothing was emitted.
	forwardRetry
	// forwardFailover means the attempt failed fatally before any
	// content reached the caller; nothing was emitted.
	forwardFailover
)

// Stream routes a streaming request through the fallback order. Until the
// first content delta reaches the caller, failed attempts are retried and
// fall over exactly as Complete does; once content has flowed, a failure
// terminates the sequence with an Error event instead of switching
// providers mid-answer. WithProviderOrder narrows the order for this
// call only.
//
// The returned channel closes after a terminal Done or Error event. The
// caller must drain it until it closes, including after cancelling ctx.
func (r *Router) Stream(ctx context.Context, msgs []llm.Message, cfg llm.RequestConfig, opts ...CallOption) (<-chan llm.StreamEvent, error) {
	if err := validateInput(msgs, cfg); err != nil {
		return nil, err
	}

	entries, err := r.entriesFor(opts)
	if err != nil {
		return nil, err
	}
	c := newCall()
	out := make(chan llm.StreamEvent)

	go r.runStream(ctx, c, entries, msgs, cfg, out)
	return out, nil
}

func (r *Router) runStream(ctx context.Context, c *call, entries []Entry, msgs []llm.Message, cfg llm.RequestConfig, out chan<- llm.StreamEvent) {
	defer close(out)

	for _, entry := range entries {
		id := entry.Provider.Name()
		desc := entry.Provider.Describe()

		if err := r.admit(ctx, c, id, desc, msgs, cfg); err != nil {
			continue
		}

		if r.streamOn(ctx, c, entry, msgs, cfg, out) {
			return
		}
		r.log.Warn("provider exhausted, falling over", logger.Fields(
			"call_id", c.id,
			"provider", id,
		))
	}

	r.log.Warn("all providers exhausted", logger.Fields(
		"call_id", c.id,
		"providers", len(entries),
	))
	out <- llm.ErrorEvent(&llm.ExhaustedError{Outcomes: c.outcomes, Attempts: c.attempts})
}

// streamOn runs the bounded attempt loop on one provider. It reports true
// when a terminal event has been emitted; false means the provider is
// exhausted before any content was delivered and the next candidate
// should be tried.
func (r *Router) streamOn(ctx context.Context, c *call, entry Entry, msgs []llm.Message, cfg llm.RequestConfig, out chan<- llm.StreamEvent) bool {
	id := entry.Provider.Name()
	policy := r.policyFor(entry)
	rcfg := policy.retryConfig()

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			out <- llm.ErrorEvent(r.cancelCall(c, id, err))
			return true
		}

		started := time.Now()

		if entry.Breaker != nil && !entry.Breaker.Allow() {
			transient := llm.NewTransient(id, "circuit open", 0, resilience.ErrCircuitOpen)
			r.record(ctx, c, attemptRecord(c, id, attempt, started, llm.OutcomeTransientError, llm.TransientBackendError))
			if attempt == policy.MaxAttempts {
				c.fail(id, llm.OutcomeTransientError, transient)
				return false
			}
			if werr := r.backoff(ctx, rcfg, attempt, transient); werr != nil {
				out <- llm.ErrorEvent(r.cancelCall(c, id, werr))
				return true
			}
			continue
		}

		if entry.Limiter != nil {
			if err := entry.Limiter.Wait(ctx); err != nil {
				out <- llm.ErrorEvent(r.cancelCall(c, id, err))
				return true
			}
		}

		upstream, err := entry.Provider.Stream(ctx, msgs, cfg)
		if err != nil {
			if entry.Breaker != nil {
				entry.Breaker.Record(err)
			}
			kind := llm.KindOf(err)
			r.record(ctx, c, attemptRecord(c, id, attempt, started, outcomeOf(kind), kind))

			switch {
			case kind == llm.Cancelled:
				c.fail(id, llm.OutcomeFatalError, err)
				out <- llm.ErrorEvent(err)
				return true
			case kind == llm.TransientBackendError:
				if attempt == policy.MaxAttempts {
					c.fail(id, llm.OutcomeTransientError, err)
					return false
				}
				if werr := r.backoff(ctx, rcfg, attempt, err); werr != nil {
					out <- llm.ErrorEvent(r.cancelCall(c, id, werr))
					return true
				}
				continue
			default:
				c.fail(id, llm.OutcomeFatalError, err)
				return false
			}
		}

		fwd, ferr := r.forward(ctx, c, id, attempt, started, upstream, out)
		switch fwd {
		case forwardDone:
			if entry.Breaker != nil {
				entry.Breaker.Record(nil)
			}
			return true

		case forwardAborted:
			if entry.Breaker != nil && ferr != nil && !llm.IsCancelled(ferr) {
				entry.Breaker.Record(ferr)
			}
			return true

		case forwardRetry:
			if entry.Breaker != nil {
				entry.Breaker.Record(ferr)
			}
			if attempt == policy.MaxAttempts {
				c.fail(id, llm.OutcomeTransientError, ferr)
				return false
			}
			if werr := r.backoff(ctx, rcfg, attempt, ferr); werr != nil {
				out <- llm.ErrorEvent(r.cancelCall(c, id, werr))
				return true
			}

		case forwardFailover:
			if entry.Breaker != nil {
				entry.Breaker.Record(ferr)
			}
			c.fail(id, llm.OutcomeFatalError, ferr)
			return false
		}
	}
	return false
}

// forward relays upstream events to the caller. Failures before the first
// delivered delta are swallowed so the attempt loop can retry or fall
// over; after content has flowed, terminal events are relayed as-is.
func (r *Router) forward(ctx context.Context, c *call, id string, attempt int, started time.Time, upstream <-chan llm.StreamEvent, out chan<- llm.StreamEvent) (forwardOutcome, error) {
	delivered := false
	var finalUsage llm.Usage

	// cancelTerminal drains the adapter so its goroutine can finish,
	// then reports the cancellation to the caller.
	cancelTerminal := func() (forwardOutcome, error) {
		for range upstream {
		}
		err := llm.NewCancelled(id, ctx.Err())
		r.record(ctx, c, attemptRecord(c, id, attempt, started, llm.OutcomeFatalError, llm.Cancelled))
		c.fail(id, llm.OutcomeFatalError, err)
		out <- llm.ErrorEvent(err)
		return forwardAborted, err
	}

	relay := func(ev llm.StreamEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for ev := range upstream {
		switch ev.Type {
		case llm.EventDelta:
			if !relay(ev) {
				return cancelTerminal()
			}
			delivered = true

		case llm.EventUsage:
			if ev.Usage != nil {
				finalUsage = *ev.Usage
			}
			if !relay(ev) {
				return cancelTerminal()
			}

		case llm.EventDone:
			if ev.Usage != nil {
				finalUsage = *ev.Usage
			}
			r.record(ctx, c, attemptRecord(c, id, attempt, started, llm.OutcomeSuccess, ""))
			r.rec.RecordCompletion(ctx, id, finalUsage, ev.Metadata)
			out <- ev
			return forwardDone, nil

		case llm.EventError:
			kind := llm.KindOf(ev.Err)

			// Once content has flowed, or on cancellation, the failure
			// ends the call; switching providers mid-answer would splice
			// two generations together.
			if kind == llm.Cancelled || delivered {
				r.record(ctx, c, attemptRecord(c, id, attempt, started, llm.OutcomeFatalError, kind))
				c.fail(id, llm.OutcomeFatalError, ev.Err)
				out <- ev
				return forwardAborted, ev.Err
			}
			if kind == llm.TransientBackendError {
				r.record(ctx, c, attemptRecord(c, id, attempt, started, llm.OutcomeTransientError, kind))
				return forwardRetry, ev.Err
			}
			r.record(ctx, c, attemptRecord(c, id, attempt, started, llm.OutcomeFatalError, kind))
			return forwardFailover, ev.Err
		}
	}

	// The adapter closed its channel without a terminal event. Treat the
	// stream as broken.
	err := llm.NewMalformed(id, "stream ended without a terminal event", nil)
	r.record(ctx, c, attemptRecord(c, id, attempt, started, llm.OutcomeFatalError, llm.MalformedResponse))
	if delivered {
		c.fail(id, llm.OutcomeFatalError, err)
		out <- llm.ErrorEvent(err)
		return forwardAborted, err
	}
	return forwardFailover, err
}

// outcomeOf maps an error kind to the attempt outcome it records.
func outcomeOf(kind llm.ErrorKind) llm.Outcome {
	if kind == llm.TransientBackendError {
		return llm.OutcomeTransientError
	}
	return llm.OutcomeFatalError
}
