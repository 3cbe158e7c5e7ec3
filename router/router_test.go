package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/llmgate/llm"
	"github.com/kbukum/llmgate/resilience"
)

func testPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func testConfig() llm.RequestConfig {
	return llm.RequestConfig{Model: "m", MaxTokens: 64}
}

func testMessages() []llm.Message {
	return []llm.Message{{Role: llm.RoleUser, Content: "hi"}}
}

func failTransient(id string) func(context.Context, []llm.Message, llm.RequestConfig) (*llm.CompletionResult, error) {
	return func(context.Context, []llm.Message, llm.RequestConfig) (*llm.CompletionResult, error) {
		return nil, llm.NewTransient(id, "backend down", 0, nil)
	}
}

func TestComplete_FirstProviderServes(t *testing.T) {
	r := New(Config{
		Providers: []Entry{{Provider: &fakeProvider{id: "primary"}}},
		Retry:     testPolicy(),
	})

	result, err := r.Complete(context.Background(), testMessages(), testConfig())
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if result.Provider != "primary" {
		t.Fatalf("Provider = %q, want primary", result.Provider)
	}

	recs := r.History()
	if len(recs) != 1 {
		t.Fatalf("history length = %d, want 1", len(recs))
	}
	if recs[0].Outcome != llm.OutcomeSuccess || recs[0].Attempt != 1 {
		t.Fatalf("history[0] = %+v, want success attempt 1", recs[0])
	}
}

func TestComplete_FallbackOrder(t *testing.T) {
	a := &fakeProvider{id: "a", completeFn: failTransient("a")}
	b := &fakeProvider{id: "b", completeFn: failTransient("b")}
	c := &fakeProvider{id: "c"}

	r := New(Config{
		Providers: []Entry{{Provider: a}, {Provider: b}, {Provider: c}},
		Retry:     testPolicy(),
	})

	result, err := r.Complete(context.Background(), testMessages(), testConfig())
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if result.Provider != "c" {
		t.Fatalf("Provider = %q, want c", result.Provider)
	}

	want := []struct {
		provider string
		attempt  int
		outcome  llm.Outcome
	}{
		{"a", 1, llm.OutcomeTransientError},
		{"a", 2, llm.OutcomeTransientError},
		{"b", 1, llm.OutcomeTransientError},
		{"b", 2, llm.OutcomeTransientError},
		{"c", 1, llm.OutcomeSuccess},
	}
	recs := r.History()
	if len(recs) != len(want) {
		t.Fatalf("history length = %d, want %d", len(recs), len(want))
	}
	for i, w := range want {
		got := recs[i]
		if got.Provider != w.provider || got.Attempt != w.attempt || got.Outcome != w.outcome {
			t.Errorf("history[%d] = %s #%d %s, want %s #%d %s",
				i, got.Provider, got.Attempt, got.Outcome, w.provider, w.attempt, w.outcome)
		}
		if got.CallID != recs[0].CallID {
			t.Errorf("history[%d] carries a different call id", i)
		}
	}
}

func TestComplete_OverBudgetProviderSkippedWithoutNetwork(t *testing.T) {
	var called bool
	small := &fakeProvider{id: "small", window: 10, completeFn: func(context.Context, []llm.Message, llm.RequestConfig) (*llm.CompletionResult, error) {
		called = true
		return &llm.CompletionResult{Content: "ok", Provider: "small"}, nil
	}}
	big := &fakeProvider{id: "big"}

	r := New(Config{
		Providers: []Entry{{Provider: small}, {Provider: big}},
		Retry:     testPolicy(),
	})

	result, err := r.Complete(context.Background(), testMessages(), testConfig())
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if called {
		t.Fatal("over-budget provider performed a network call")
	}
	if result.Provider != "big" {
		t.Fatalf("Provider = %q, want big", result.Provider)
	}

	recs := r.History()
	if len(recs) != 2 {
		t.Fatalf("history length = %d, want 2", len(recs))
	}
	if recs[0].Provider != "small" || recs[0].Outcome != llm.OutcomeFatalError || recs[0].ErrorKind != llm.ValidationRejected {
		t.Fatalf("history[0] = %+v, want small fatal validation_rejected", recs[0])
	}
}

func TestComplete_AuthFailureNotRetried(t *testing.T) {
	var calls int
	locked := &fakeProvider{id: "locked", completeFn: func(context.Context, []llm.Message, llm.RequestConfig) (*llm.CompletionResult, error) {
		calls++
		return nil, llm.NewAuthenticationFailed("locked", "credential rejected", nil)
	}}
	open := &fakeProvider{id: "open"}

	r := New(Config{
		Providers: []Entry{{Provider: locked}, {Provider: open}},
		Retry:     testPolicy(),
	})

	result, err := r.Complete(context.Background(), testMessages(), testConfig())
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("locked provider called %d times, want 1", calls)
	}
	if result.Provider != "open" {
		t.Fatalf("Provider = %q, want open", result.Provider)
	}
}

func TestComplete_AllProvidersExhausted(t *testing.T) {
	a := &fakeProvider{id: "a", completeFn: failTransient("a")}
	b := &fakeProvider{id: "b", completeFn: func(context.Context, []llm.Message, llm.RequestConfig) (*llm.CompletionResult, error) {
		return nil, llm.NewAuthenticationFailed("b", "credential rejected", nil)
	}}

	r := New(Config{
		Providers: []Entry{{Provider: a}, {Provider: b}},
		Retry:     testPolicy(),
	})

	_, err := r.Complete(context.Background(), testMessages(), testConfig())
	if !llm.IsExhausted(err) {
		t.Fatalf("error = %v, want exhausted", err)
	}

	var ex *llm.ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("error %T does not unwrap to ExhaustedError", err)
	}
	if len(ex.Outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(ex.Outcomes))
	}
	if ex.Outcomes[0].Provider != "a" || ex.Outcomes[0].Outcome != llm.OutcomeTransientError {
		t.Errorf("outcome[0] = %+v, want a transient_error", ex.Outcomes[0])
	}
	if ex.Outcomes[1].Provider != "b" || ex.Outcomes[1].Outcome != llm.OutcomeFatalError {
		t.Errorf("outcome[1] = %+v, want b fatal_error", ex.Outcomes[1])
	}
	if len(ex.Attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(ex.Attempts))
	}
	for _, part := range []string{"a (transient_backend_error)", "b (authentication_failed)"} {
		if !strings.Contains(err.Error(), part) {
			t.Errorf("error %q missing %q", err.Error(), part)
		}
	}
}

func TestComplete_NoProviders(t *testing.T) {
	r := New(Config{Retry: testPolicy()})

	_, err := r.Complete(context.Background(), testMessages(), testConfig())
	var ex *llm.ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("error = %v, want ExhaustedError", err)
	}
	if len(ex.Outcomes) != 0 {
		t.Fatalf("outcomes = %d, want 0", len(ex.Outcomes))
	}
	if !strings.Contains(err.Error(), "no providers configured") {
		t.Fatalf("error %q missing empty-registry note", err.Error())
	}
}

func TestComplete_RejectsInvalidInput(t *testing.T) {
	var called bool
	p := &fakeProvider{id: "p", completeFn: func(context.Context, []llm.Message, llm.RequestConfig) (*llm.CompletionResult, error) {
		called = true
		return nil, nil
	}}
	r := New(Config{Providers: []Entry{{Provider: p}}, Retry: testPolicy()})

	if _, err := r.Complete(context.Background(), testMessages(), llm.RequestConfig{}); !llm.IsValidationRejected(err) {
		t.Fatalf("bad config error = %v, want validation_rejected", err)
	}
	if _, err := r.Complete(context.Background(), nil, testConfig()); !llm.IsValidationRejected(err) {
		t.Fatalf("empty messages error = %v, want validation_rejected", err)
	}
	if called {
		t.Fatal("provider called for invalid input")
	}
	if len(r.History()) != 0 {
		t.Fatal("invalid input produced attempt records")
	}
}

func TestComplete_BackoffHintOverridesSchedule(t *testing.T) {
	var calls int
	p := &fakeProvider{id: "hinted", completeFn: func(context.Context, []llm.Message, llm.RequestConfig) (*llm.CompletionResult, error) {
		calls++
		if calls == 1 {
			return nil, llm.NewTransient("hinted", "rate limited", 60*time.Millisecond, nil)
		}
		return &llm.CompletionResult{Content: "ok", Provider: "hinted"}, nil
	}}
	r := New(Config{
		Providers: []Entry{{Provider: p}},
		Retry: RetryPolicy{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Second,
			BackoffFactor:  2.0,
		},
	})

	start := time.Now()
	if _, err := r.Complete(context.Background(), testMessages(), testConfig()); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Fatalf("elapsed = %v, want at least the 60ms hint", elapsed)
	}
}

func TestComplete_BackoffHintClampedToMax(t *testing.T) {
	var calls int
	p := &fakeProvider{id: "hinted", completeFn: func(context.Context, []llm.Message, llm.RequestConfig) (*llm.CompletionResult, error) {
		calls++
		if calls == 1 {
			return nil, llm.NewTransient("hinted", "rate limited", time.Hour, nil)
		}
		return &llm.CompletionResult{Content: "ok", Provider: "hinted"}, nil
	}}
	r := New(Config{
		Providers: []Entry{{Provider: p}},
		Retry: RetryPolicy{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     30 * time.Millisecond,
			BackoffFactor:  2.0,
		},
	})

	start := time.Now()
	if _, err := r.Complete(context.Background(), testMessages(), testConfig()); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 30*time.Millisecond {
		t.Fatalf("elapsed = %v, want at least the 30ms cap", elapsed)
	}
	if elapsed > 5*time.Second {
		t.Fatalf("elapsed = %v, hour-long hint was not clamped", elapsed)
	}
}

func TestComplete_CancelDuringBackoff(t *testing.T) {
	p := &fakeProvider{id: "slow", completeFn: func(context.Context, []llm.Message, llm.RequestConfig) (*llm.CompletionResult, error) {
		return nil, llm.NewTransient("slow", "rate limited", 10*time.Second, nil)
	}}
	r := New(Config{
		Providers: []Entry{{Provider: p}},
		Retry: RetryPolicy{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Minute,
			BackoffFactor:  2.0,
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := r.Complete(ctx, testMessages(), testConfig())
	if !llm.IsCancelled(err) {
		t.Fatalf("error = %v, want cancelled", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("elapsed = %v, backoff ignored cancellation", elapsed)
	}
}

func TestComplete_CancelledContextBeforeAttempt(t *testing.T) {
	var called bool
	p := &fakeProvider{id: "p", completeFn: func(context.Context, []llm.Message, llm.RequestConfig) (*llm.CompletionResult, error) {
		called = true
		return nil, nil
	}}
	r := New(Config{Providers: []Entry{{Provider: p}}, Retry: testPolicy()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Complete(ctx, testMessages(), testConfig())
	if !llm.IsCancelled(err) {
		t.Fatalf("error = %v, want cancelled", err)
	}
	if called {
		t.Fatal("provider called after cancellation")
	}
}

func TestComplete_PerProviderRetryOverride(t *testing.T) {
	var calls int
	a := &fakeProvider{id: "a", completeFn: func(context.Context, []llm.Message, llm.RequestConfig) (*llm.CompletionResult, error) {
		calls++
		return nil, llm.NewTransient("a", "backend down", 0, nil)
	}}
	b := &fakeProvider{id: "b"}

	r := New(Config{
		Providers: []Entry{
			{Provider: a, Retry: &RetryPolicy{MaxAttempts: 1}},
			{Provider: b},
		},
		Retry: testPolicy(),
	})

	result, err := r.Complete(context.Background(), testMessages(), testConfig())
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("a called %d times, want 1 under its override", calls)
	}
	if result.Provider != "b" {
		t.Fatalf("Provider = %q, want b", result.Provider)
	}
}

func TestComplete_BreakerShortCircuits(t *testing.T) {
	var calls int
	p := &fakeProvider{id: "flaky", completeFn: func(context.Context, []llm.Message, llm.RequestConfig) (*llm.CompletionResult, error) {
		calls++
		return nil, llm.NewTransient("flaky", "backend down", 0, nil)
	}}
	br := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        "flaky",
		MaxFailures: 1,
		Timeout:     time.Minute,
	})

	r := New(Config{
		Providers: []Entry{{Provider: p, Breaker: br}},
		Retry: RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     10 * time.Millisecond,
			BackoffFactor:  2.0,
		},
	})

	_, err := r.Complete(context.Background(), testMessages(), testConfig())
	if !llm.IsExhausted(err) {
		t.Fatalf("error = %v, want exhausted", err)
	}
	if calls != 1 {
		t.Fatalf("provider called %d times, want 1 before the circuit opened", calls)
	}
	recs := r.History()
	if len(recs) != 3 {
		t.Fatalf("history length = %d, want 3", len(recs))
	}
	for i, rec := range recs {
		if rec.Outcome != llm.OutcomeTransientError {
			t.Errorf("history[%d].Outcome = %s, want transient_error", i, rec.Outcome)
		}
	}
}

func TestSetProviders(t *testing.T) {
	a := &fakeProvider{id: "a"}
	b := &fakeProvider{id: "b"}

	r := New(Config{Providers: []Entry{{Provider: a}}, Retry: testPolicy()})
	if got := r.Providers(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("Providers() = %v, want [a]", got)
	}

	r.SetProviders(Entry{Provider: b})
	if got := r.Providers(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("Providers() = %v after swap, want [b]", got)
	}

	result, err := r.Complete(context.Background(), testMessages(), testConfig())
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if result.Provider != "b" {
		t.Fatalf("Provider = %q, want b", result.Provider)
	}
}

func TestComplete_ProviderOrderOverride(t *testing.T) {
	var aCalled bool
	a := &fakeProvider{id: "a", completeFn: func(context.Context, []llm.Message, llm.RequestConfig) (*llm.CompletionResult, error) {
		aCalled = true
		return &llm.CompletionResult{Content: "ok", Provider: "a"}, nil
	}}
	b := &fakeProvider{id: "b"}

	r := New(Config{
		Providers: []Entry{{Provider: a}, {Provider: b}},
		Retry:     testPolicy(),
	})

	result, err := r.Complete(context.Background(), testMessages(), testConfig(), WithProviderOrder("b"))
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if result.Provider != "b" {
		t.Fatalf("Provider = %q, want b", result.Provider)
	}
	if aCalled {
		t.Fatal("provider outside the call order was contacted")
	}
	if got := r.Providers(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Providers() = %v, per-call order changed the registry", got)
	}
}

func TestComplete_ProviderOrderFallsOver(t *testing.T) {
	cloud := &fakeProvider{id: "cloud"}
	local := &fakeProvider{id: "local", completeFn: failTransient("local")}

	r := New(Config{
		Providers: []Entry{{Provider: cloud}, {Provider: local}},
		Retry:     RetryPolicy{MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 2.0},
	})

	result, err := r.Complete(context.Background(), testMessages(), testConfig(), WithProviderOrder("local", "cloud"))
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if result.Provider != "cloud" {
		t.Fatalf("Provider = %q, want cloud", result.Provider)
	}

	recs := r.History()
	if len(recs) != 2 {
		t.Fatalf("history length = %d, want 2", len(recs))
	}
	if recs[0].Provider != "local" || recs[0].ErrorKind != llm.TransientBackendError {
		t.Fatalf("history[0] = %+v, want local transient_backend_error", recs[0])
	}
	if recs[1].Provider != "cloud" || recs[1].Outcome != llm.OutcomeSuccess {
		t.Fatalf("history[1] = %+v, want cloud success", recs[1])
	}
}

func TestComplete_ProviderOrderUnknownProvider(t *testing.T) {
	var called bool
	p := &fakeProvider{id: "a", completeFn: func(context.Context, []llm.Message, llm.RequestConfig) (*llm.CompletionResult, error) {
		called = true
		return nil, nil
	}}
	r := New(Config{Providers: []Entry{{Provider: p}}, Retry: testPolicy()})

	_, err := r.Complete(context.Background(), testMessages(), testConfig(), WithProviderOrder("ghost"))
	if !llm.IsValidationRejected(err) {
		t.Fatalf("error = %v, want validation_rejected", err)
	}
	if !strings.Contains(err.Error(), "ghost") {
		t.Fatalf("error %q does not name the unknown provider", err.Error())
	}
	if called {
		t.Fatal("provider called despite the rejected order")
	}
	if len(r.History()) != 0 {
		t.Fatal("rejected order produced attempt records")
	}
}

type captureRecorder struct {
	mu          sync.Mutex
	attempts    []llm.AttemptRecord
	completions []string
	usage       llm.Usage
}

func (c *captureRecorder) RecordAttempt(_ context.Context, rec llm.AttemptRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = append(c.attempts, rec)
}

func (c *captureRecorder) RecordCompletion(_ context.Context, provider string, usage llm.Usage, _ *llm.GenerationMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completions = append(c.completions, provider)
	c.usage = usage
}

func TestRecorderReceivesTelemetry(t *testing.T) {
	p := &fakeProvider{id: "p", completeFn: func(ctx context.Context, msgs []llm.Message, cfg llm.RequestConfig) (*llm.CompletionResult, error) {
		return &llm.CompletionResult{
			Content:  "ok",
			Provider: "p",
			Usage:    llm.Usage{PromptTokens: 5, CompletionTokens: 7, TotalTokens: 12},
		}, nil
	}}
	rec := &captureRecorder{}

	r := New(Config{Providers: []Entry{{Provider: p}}, Retry: testPolicy(), Recorder: rec})
	if _, err := r.Complete(context.Background(), testMessages(), testConfig()); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if len(rec.attempts) != 1 || rec.attempts[0].Outcome != llm.OutcomeSuccess {
		t.Fatalf("attempts = %+v, want one success", rec.attempts)
	}
	if len(rec.completions) != 1 || rec.completions[0] != "p" {
		t.Fatalf("completions = %v, want [p]", rec.completions)
	}
	if rec.usage.TotalTokens != 12 {
		t.Fatalf("usage total = %d, want 12", rec.usage.TotalTokens)
	}
}

func TestRetryPolicyApplyDefaults(t *testing.T) {
	var p RetryPolicy
	p.ApplyDefaults()
	want := RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
	}
	if p != want {
		t.Fatalf("defaults = %+v, want %+v", p, want)
	}

	set := RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Second, MaxBackoff: time.Minute, BackoffFactor: 3, Jitter: 0.5}
	orig := set
	set.ApplyDefaults()
	if set != orig {
		t.Fatalf("ApplyDefaults changed explicit values: %+v", set)
	}
}
