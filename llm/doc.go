// Package llm defines the universal contract shared by all LLM backends:
// message and configuration types, the Provider interface, the normalized
// stream event sequence, and the error taxonomy.
//
// # Architecture
//
// The llm package provides:
//   - Universal types: [Message], [RequestConfig], [CompletionResult], [Usage], [Descriptor]
//   - [Provider] interface: the capability set every backend adapter implements
//   - [StreamEvent]: the canonical streaming sequence (deltas, usage, done, error)
//   - [Multiplexer]: normalizes backend-specific stream framings into StreamEvents
//   - [Error] and [ExhaustedError]: the error taxonomy with predicates
//   - Convenience helpers: [Complete], [CompleteStructured], [ExtractJSON]
//
// Concrete backends live in subpackages: llm/cloud for key-authenticated
// JSON/SSE APIs, llm/local for unauthenticated NDJSON APIs. The fallback
// orchestration across providers lives in the router package.
//
// # Usage
//
//	p, err := cloud.New(cloud.Config{
//	    ID:            "openai",
//	    BaseURL:       "https://api.openai.com",
//	    APIKey:        os.Getenv("OPENAI_API_KEY"),
//	    ContextWindow: 128000,
//	})
//
//	result, err := p.Complete(ctx, msgs, llm.RequestConfig{Model: "gpt-4o", MaxTokens: 256})
//
// Streaming delivers an ordered, finite event sequence; the last event is
// always Done or Error:
//
//	events, err := p.Stream(ctx, msgs, cfg)
//	for ev := range events {
//	    switch ev.Type {
//	    case llm.EventDelta:
//	        fmt.Print(ev.Delta)
//	    case llm.EventUsage:
//	        ...
//	    }
//	}
package llm
