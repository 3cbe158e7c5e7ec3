package router

import (
	"context"

	"github.com/kbukum/llmgate/llm"
)

// Recorder receives attempt and completion telemetry from the router.
// Implementations must be safe for concurrent use; calls happen on the
// router's calling goroutine for completions and on the relay goroutine
// for streams.
type Recorder interface {
	// RecordAttempt is invoked once per finished attempt, including
	// admission rejections that never reached the network.
	RecordAttempt(ctx context.Context, rec llm.AttemptRecord)

	// RecordCompletion is invoked once per successful call with the
	// serving provider, final token counters, and any backend-reported
	// generation timings.
	RecordCompletion(ctx context.Context, provider string, usage llm.Usage, meta *llm.GenerationMetadata)
}

type nopRecorder struct{}

func (nopRecorder) RecordAttempt(context.Context, llm.AttemptRecord) {}

func (nopRecorder) RecordCompletion(context.Context, string, llm.Usage, *llm.GenerationMetadata) {}
