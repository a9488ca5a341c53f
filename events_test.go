package consilium

import (
	"encoding/json"
	"testing"
)

func TestEventMarshalShapes(t *testing.T) {
	cases := []struct {
		name string
		ev   Event
		want string
	}{
		{"agent start", Event{Kind: EventAgentStart, Agent: "drug"}, `{"type":"agent_start","agent":"drug"}`},
		{"agent complete", Event{Kind: EventAgentComplete, Agent: "synthesizer"}, `{"type":"agent_complete","agent":"synthesizer"}`},
		{"cache hit", Event{Kind: EventCacheHit}, `{"type":"cache_hit"}`},
		{"done", Event{Kind: EventDone}, `{}`},
		{"error", Event{Kind: EventError, Err: Tagged(ErrTimeout, "workflow deadline exceeded", nil)},
			`{"type":"error","error":"timeout","detail":"workflow deadline exceeded"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.ev.MarshalData()
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestEventFinalPrefersRawBytes(t *testing.T) {
	raw := []byte(`{"type":"final","answer":"cached"}`)
	ev := Event{Kind: EventFinal, Raw: raw, Final: &FinalPayload{Answer: "fresh"}}
	got, err := ev.MarshalData()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(raw) {
		t.Errorf("got %s, want the pre-marshaled bytes", got)
	}
}

func TestEventTerminal(t *testing.T) {
	for kind, want := range map[EventKind]bool{
		EventAgentStart:    false,
		EventAgentComplete: false,
		EventCacheHit:      false,
		EventFinal:         false,
		EventDone:          true,
		EventError:         true,
	} {
		if got := (Event{Kind: kind}).Terminal(); got != want {
			t.Errorf("Terminal(%q) = %v, want %v", kind, got, want)
		}
	}
}

func TestFinalPayloadWireShape(t *testing.T) {
	p := FinalPayload{
		Type:          "final",
		Answer:        "a [1]",
		RetrievedDocs: []RetrievedDoc{{Content: "c", Metadata: map[string]string{"source": "drug"}}},
		LatencyMs:     42,
	}
	raw, err := p.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"type", "answer", "retrieved_docs", "confidence", "latency_ms"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing %q in final payload", key)
		}
	}
	if string(m["confidence"]) != "null" {
		t.Errorf("confidence = %s, want null", m["confidence"])
	}
}
