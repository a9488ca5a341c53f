package consilium

import (
	"context"
	"encoding/json"
)

// EventKind identifies the kind of lifecycle event on a consult stream.
type EventKind string

const (
	// EventAgentStart signals an agent (or the synthesizer) began work.
	EventAgentStart EventKind = "agent_start"
	// EventAgentComplete signals that agent's result is fixed, whatever the outcome.
	EventAgentComplete EventKind = "agent_complete"
	// EventCacheHit signals the answer was served from cache. Always first.
	EventCacheHit EventKind = "cache_hit"
	// EventFinal carries the answer and cited documents. Precedes done.
	EventFinal EventKind = "final"
	// EventDone terminates a successful stream. Empty payload.
	EventDone EventKind = "done"
	// EventError terminates a failed stream. Nothing follows it.
	EventError EventKind = "error"
)

// SynthesizerName is the agent label used on the synthesizer's own
// start/complete events.
const SynthesizerName = "synthesizer"

// Event is one lifecycle event. Components emit these on an internal
// channel; only the gateway serializes them to the external SSE stream.
type Event struct {
	Kind  EventKind
	Agent string        // agent_start / agent_complete
	Final *FinalPayload // final
	Raw   []byte        // final served from cache: pre-marshaled payload bytes
	Err   *TaggedError  // error
}

// Terminal reports whether no further events may follow this one.
func (e Event) Terminal() bool {
	return e.Kind == EventDone || e.Kind == EventError
}

// MarshalData renders the event's SSE data payload. Shapes follow the wire
// contract exactly; unknown kinds fall back to an empty object.
func (e Event) MarshalData() ([]byte, error) {
	switch e.Kind {
	case EventAgentStart, EventAgentComplete:
		return json.Marshal(struct {
			Type  string `json:"type"`
			Agent string `json:"agent"`
		}{string(e.Kind), e.Agent})
	case EventCacheHit:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{string(e.Kind)})
	case EventFinal:
		if e.Raw != nil {
			return e.Raw, nil
		}
		return json.Marshal(e.Final)
	case EventError:
		return json.Marshal(struct {
			Type   string `json:"type"`
			Error  string `json:"error"`
			Detail string `json:"detail"`
		}{"error", string(e.Err.Tag), e.Err.Detail})
	default:
		return []byte("{}"), nil
	}
}

// emit pushes ev into ch, giving up when ctx is cancelled. Producers block
// on a full buffer rather than dropping events; an abandoned consumer is
// detected through ctx cancellation.
func emit(ctx context.Context, ch chan<- Event, ev Event) {
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}
