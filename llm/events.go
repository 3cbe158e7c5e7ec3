package llm

// EventType discriminates stream events.
type EventType int

const (
	// EventDelta carries an incremental piece of content.
	EventDelta EventType = iota
	// EventUsage carries the backend's final token counters. Emitted at
	// most once, immediately before EventDone, and only when the backend
	// supplied counters.
	EventUsage
	// EventDone terminates a successful stream. When no EventUsage
	// preceded it, Done carries a best-effort usage estimate instead.
	EventDone
	// EventError terminates a failed stream.
	EventError
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventDelta:
		return "delta"
	case EventUsage:
		return "usage"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// StreamEvent is one element of the canonical streaming sequence. Events
// for a call are strictly ordered; a Done or Error event is always last.
type StreamEvent struct {
	// Type discriminates which field below is meaningful.
	Type EventType
	// Delta is the content fragment (EventDelta).
	Delta string
	// Usage carries token counters: authoritative on EventUsage, a
	// best-effort estimate when attached to EventDone.
	Usage *Usage
	// Metadata carries backend-reported generation timings when the
	// terminal frame included them (EventDone).
	Metadata *GenerationMetadata
	// Err is the terminal failure (EventError).
	Err error
}

// DeltaEvent builds a content fragment event.
func DeltaEvent(delta string) StreamEvent {
	return StreamEvent{Type: EventDelta, Delta: delta}
}

// UsageEvent builds a final-usage event from backend counters.
func UsageEvent(u Usage) StreamEvent {
	return StreamEvent{Type: EventUsage, Usage: &u}
}

// DoneEvent builds the successful terminal event. estimate is attached
// when no backend counters were available; nil otherwise.
func DoneEvent(estimate *Usage) StreamEvent {
	return StreamEvent{Type: EventDone, Usage: estimate}
}

// ErrorEvent builds the failed terminal event.
func ErrorEvent(err error) StreamEvent {
	return StreamEvent{Type: EventError, Err: err}
}
