package llm

import (
	"context"
)

// mockProvider implements Provider with overridable func fields so each
// test can script exactly the behavior it needs.
type mockProvider struct {
	id         string
	kind       Kind
	available  bool
	completeFn func(ctx context.Context, msgs []Message, cfg RequestConfig) (*CompletionResult, error)
	streamFn   func(ctx context.Context, msgs []Message, cfg RequestConfig) (<-chan StreamEvent, error)
	countFn    func(msgs []Message, cfg RequestConfig) int
}

func (m *mockProvider) Name() string {
	if m.id != "" {
		return m.id
	}
	return "mock"
}

func (m *mockProvider) Describe() Descriptor {
	return Descriptor{
		ID:                 m.Name(),
		Kind:               m.kind,
		SupportsStreaming:  true,
		SupportsSystemRole: true,
	}
}

func (m *mockProvider) IsAvailable(ctx context.Context) bool {
	return m.available
}

func (m *mockProvider) Complete(ctx context.Context, msgs []Message, cfg RequestConfig) (*CompletionResult, error) {
	if m.completeFn != nil {
		return m.completeFn(ctx, msgs, cfg)
	}
	return &CompletionResult{Content: "ok", Provider: m.Name(), FinishReason: FinishStop}, nil
}

func (m *mockProvider) Stream(ctx context.Context, msgs []Message, cfg RequestConfig) (<-chan StreamEvent, error) {
	if m.streamFn != nil {
		return m.streamFn(ctx, msgs, cfg)
	}
	ch := make(chan StreamEvent, 2)
	ch <- DeltaEvent("ok")
	ch <- DoneEvent(nil)
	close(ch)
	return ch, nil
}

func (m *mockProvider) CountTokens(msgs []Message, cfg RequestConfig) int {
	if m.countFn != nil {
		return m.countFn(msgs, cfg)
	}
	total := 0
	for _, msg := range msgs {
		total += len(msg.Content)/4 + 4
	}
	return total
}
