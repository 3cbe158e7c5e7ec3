package router

import (
	"context"

	"github.com/kbukum/llmgate/llm"
)

// fakeProvider is a scriptable provider for router tests. Unset functions
// fall back to a trivially successful implementation.
type fakeProvider struct {
	id         string
	kind       llm.Kind
	window     int
	completeFn func(ctx context.Context, msgs []llm.Message, cfg llm.RequestConfig) (*llm.CompletionResult, error)
	streamFn   func(ctx context.Context, msgs []llm.Message, cfg llm.RequestConfig) (<-chan llm.StreamEvent, error)
}

func (f *fakeProvider) Name() string {
	if f.id == "" {
		return "fake"
	}
	return f.id
}

func (f *fakeProvider) Describe() llm.Descriptor {
	return llm.Descriptor{
		ID:                 f.Name(),
		Kind:               f.kind,
		ContextWindow:      f.window,
		SupportsStreaming:  true,
		SupportsSystemRole: true,
	}
}

func (f *fakeProvider) IsAvailable(ctx context.Context) bool { return true }

func (f *fakeProvider) Complete(ctx context.Context, msgs []llm.Message, cfg llm.RequestConfig) (*llm.CompletionResult, error) {
	if f.completeFn != nil {
		return f.completeFn(ctx, msgs, cfg)
	}
	return &llm.CompletionResult{
		Content:      "ok",
		Model:        cfg.Model,
		FinishReason: llm.FinishStop,
		Provider:     f.Name(),
	}, nil
}

func (f *fakeProvider) Stream(ctx context.Context, msgs []llm.Message, cfg llm.RequestConfig) (<-chan llm.StreamEvent, error) {
	if f.streamFn != nil {
		return f.streamFn(ctx, msgs, cfg)
	}
	ch := make(chan llm.StreamEvent, 2)
	ch <- llm.DeltaEvent("ok")
	ch <- llm.DoneEvent(nil)
	close(ch)
	return ch, nil
}

func (f *fakeProvider) CountTokens(msgs []llm.Message, cfg llm.RequestConfig) int {
	n := 0
	for _, m := range msgs {
		n += len(m.Content)/4 + 4
	}
	return n
}

// scripted returns events from a pre-built channel, for stream tests.
func scripted(events ...llm.StreamEvent) func(context.Context, []llm.Message, llm.RequestConfig) (<-chan llm.StreamEvent, error) {
	return func(context.Context, []llm.Message, llm.RequestConfig) (<-chan llm.StreamEvent, error) {
		ch := make(chan llm.StreamEvent, len(events))
		for _, ev := range events {
			ch <- ev
		}
		close(ch)
		return ch, nil
	}
}
