package llm

import (
	"context"
	"io"
)

// Frame is the normalized interpretation of one backend stream frame.
// Adapters parse their wire-specific framing (SSE data payloads, NDJSON
// lines) into Frames; the Multiplexer turns Frames into StreamEvents.
type Frame struct {
	// Delta is the content fragment carried by the frame, possibly empty.
	Delta string
	// Done marks the backend's terminal frame.
	Done bool
	// FinishReason is set on the terminal frame when the backend reports one.
	FinishReason FinishReason
	// Usage is set on the terminal frame when the backend supplies counters.
	Usage *Usage
	// Metadata is set on the terminal frame when the backend reports
	// generation timings.
	Metadata *GenerationMetadata
}

// FrameFunc parses one raw backend frame. A parse failure terminates the
// stream as MalformedResponse.
type FrameFunc func(data []byte) (Frame, error)

// Multiplexer converts a provider-specific incremental response framing
// into the canonical StreamEvent sequence. It buffers at most one
// incomplete frame at a time: the frame source owns the line buffer, and
// the multiplexer holds only the frame currently being interpreted.
//
// Emission rules:
//   - Each non-empty Delta becomes an EventDelta, in exact arrival order.
//   - The terminal frame's counters become an EventUsage followed by a bare
//     EventDone; without counters, EventDone carries Estimate's result.
//   - io.EOF from the source is an explicit clean end and closes the stream
//     as EventDone with Estimate's result; io.ErrUnexpectedEOF marks a
//     source that ended without its protocol's terminal frame and becomes a
//     terminal EventError (MalformedResponse).
//   - A frame that cannot be parsed becomes a terminal EventError
//     (MalformedResponse); already-delivered deltas stand.
//   - Context cancellation becomes a terminal EventError (Cancelled).
type Multiplexer struct {
	// Provider stamps emitted errors with the provider identifier.
	Provider string
	// Estimate supplies a best-effort usage estimate for streams whose
	// backend reports no counters. Nil means Done carries no usage.
	Estimate func() *Usage
}

// Pump drains the frame source into ch and closes ch after the terminal
// event. next returns one raw frame per call and io.EOF when the source is
// exhausted. Pump blocks until the stream ends; adapters run it in a
// goroutine.
func (m *Multiplexer) Pump(ctx context.Context, next func() ([]byte, error), parse FrameFunc, ch chan<- StreamEvent) {
	defer close(ch)

	for {
		if ctx.Err() != nil {
			ch <- ErrorEvent(NewCancelled(m.Provider, ctx.Err()))
			return
		}

		data, err := next()
		if err == io.EOF {
			ch <- DoneEvent(m.estimate())
			return
		}
		if err == io.ErrUnexpectedEOF {
			ch <- ErrorEvent(NewMalformed(m.Provider, "stream ended without a terminal frame", err))
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				ch <- ErrorEvent(NewCancelled(m.Provider, ctx.Err()))
				return
			}
			ch <- ErrorEvent(NewTransient(m.Provider, "stream read failed", 0, err))
			return
		}

		frame, perr := parse(data)
		if perr != nil {
			ch <- ErrorEvent(NewMalformed(m.Provider, "unparseable stream frame", perr))
			return
		}

		if frame.Delta != "" {
			select {
			case ch <- DeltaEvent(frame.Delta):
			case <-ctx.Done():
				ch <- ErrorEvent(NewCancelled(m.Provider, ctx.Err()))
				return
			}
		}

		if frame.Done {
			var done StreamEvent
			if frame.Usage != nil {
				ch <- UsageEvent(*frame.Usage)
				done = DoneEvent(nil)
			} else {
				done = DoneEvent(m.estimate())
			}
			done.Metadata = frame.Metadata
			ch <- done
			return
		}
	}
}

func (m *Multiplexer) estimate() *Usage {
	if m.Estimate == nil {
		return nil
	}
	return m.Estimate()
}
