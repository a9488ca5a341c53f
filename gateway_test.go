package consilium

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func testPipeline(agents map[string]Agent, chat ChatClient, opts ...GatewayOption) *Gateway {
	return NewGateway(
		NewClassifier(chat, agents),
		NewDispatcher(agents),
		NewSynthesizer(chat),
		opts...)
}

func drugOnlyAgents() map[string]Agent {
	return map[string]Agent{
		AgentDrug:       &stubAgent{name: AgentDrug, result: okResult(SourceDrug, "drug doc")},
		AgentLiterature: &stubAgent{name: AgentLiterature, result: AgentResult{Status: StatusEmpty}},
		AgentGuideline:  &stubAgent{name: AgentGuideline, result: AgentResult{Status: StatusEmpty}},
		AgentGeneral:    &stubAgent{name: AgentGeneral, result: okResult("general", "general answer")},
	}
}

func TestPrecheckValidation(t *testing.T) {
	gw := testPipeline(drugOnlyAgents(), nil)

	cases := []struct {
		name    string
		req     ConsultRequest
		wantTag ErrorTag
	}{
		{"empty", ConsultRequest{Query: "   "}, ErrValidation},
		{"too long", ConsultRequest{Query: strings.Repeat("a", 1001)}, ErrValidation},
		{"sql injection", ConsultRequest{Query: "x' UNION SELECT * FROM users"}, ErrValidation},
		{"script tag", ConsultRequest{Query: "co je <script>alert(1)</script>"}, ErrValidation},
		{"bad mode", ConsultRequest{Query: "ok question", Mode: "turbo"}, ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			terr := gw.Precheck(&tc.req)
			if terr == nil || terr.Tag != tc.wantTag {
				t.Errorf("Precheck = %v, want tag %q", terr, tc.wantTag)
			}
		})
	}
}

func TestPrecheckDefaults(t *testing.T) {
	gw := testPipeline(drugOnlyAgents(), nil)
	req := ConsultRequest{Query: "  jake   je\tdavkovani  "}
	if terr := gw.Precheck(&req); terr != nil {
		t.Fatal(terr)
	}
	if req.Query != "jake je davkovani" {
		t.Errorf("sanitized query = %q", req.Query)
	}
	if req.Mode != ModeQuick {
		t.Errorf("mode = %q, want quick default", req.Mode)
	}
	if req.RequestID == "" {
		t.Error("request id not assigned")
	}
}

func TestPrecheckRateLimit(t *testing.T) {
	gw := testPipeline(drugOnlyAgents(), nil, WithRateLimit(3))
	for i := 0; i < 3; i++ {
		req := ConsultRequest{Query: "otazka", ClientAddr: "10.0.0.1"}
		if terr := gw.Precheck(&req); terr != nil {
			t.Fatalf("request %d rejected: %v", i+1, terr)
		}
	}
	req := ConsultRequest{Query: "otazka", ClientAddr: "10.0.0.1"}
	terr := gw.Precheck(&req)
	if terr == nil || terr.Tag != ErrRateLimit {
		t.Fatalf("4th request: %v, want rate_limit_exceeded", terr)
	}

	// A different client address has its own budget.
	other := ConsultRequest{Query: "otazka", ClientAddr: "10.0.0.2"}
	if terr := gw.Precheck(&other); terr != nil {
		t.Errorf("other client rejected: %v", terr)
	}
}

func consultEvents(t *testing.T, gw *Gateway, req ConsultRequest) []Event {
	t.Helper()
	if terr := gw.Precheck(&req); terr != nil {
		t.Fatalf("precheck: %v", terr)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return drainEvents(gw.Consult(ctx, req))
}

func TestConsultLifecycle(t *testing.T) {
	chat := &stubChat{
		classifyFn: func(ctx context.Context, prompt string) (json.RawMessage, error) {
			return json.RawMessage(`{"intent":"drug_info","agents":[{"agent":"drug","term":"lek"}]}`), nil
		},
		generateFn: func(ctx context.Context, prompt string) (string, error) {
			return "odpoved [1]", nil
		},
	}
	gw := testPipeline(drugOnlyAgents(), chat)

	events := consultEvents(t, gw, ConsultRequest{Query: "davkovani leku"})
	kinds := eventKinds(events)
	want := []EventKind{
		EventAgentStart, EventAgentComplete, // drug
		EventAgentStart, EventAgentComplete, // synthesizer
		EventFinal, EventDone,
	}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", kinds, want)
		}
	}

	var payload FinalPayload
	if err := json.Unmarshal(events[4].Raw, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Type != "final" || payload.Answer != "odpoved [1]" {
		t.Errorf("payload = %+v", payload)
	}
	if len(payload.RetrievedDocs) != 1 {
		t.Fatalf("retrieved docs = %d, want 1", len(payload.RetrievedDocs))
	}
	if payload.RetrievedDocs[0].Metadata["source"] != SourceDrug {
		t.Errorf("metadata = %v, want source=drug", payload.RetrievedDocs[0].Metadata)
	}
	if payload.Confidence != nil {
		t.Error("confidence must stay null")
	}
}

func TestConsultCacheStoreAndReplay(t *testing.T) {
	cache := newMemCache()
	gw := testPipeline(drugOnlyAgents(), &stubChat{}, WithCache(cache))

	first := consultEvents(t, gw, ConsultRequest{Query: "Jaké je dávkování?"})
	var firstPayload []byte
	for _, ev := range first {
		if ev.Kind == EventFinal {
			firstPayload = ev.Raw
		}
	}
	if firstPayload == nil {
		t.Fatal("no final event on first run")
	}

	// The store goroutine is fire-and-forget; wait for it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		cache.mu.Lock()
		stored := cache.stores
		cache.mu.Unlock()
		if stored > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("payload never stored")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A byte-different spelling of the same question replays the entry.
	second := consultEvents(t, gw, ConsultRequest{Query: "  jaké JE dávkování?  "})
	kinds := eventKinds(second)
	want := []EventKind{EventCacheHit, EventFinal, EventDone}
	if len(kinds) != 3 || kinds[0] != want[0] || kinds[1] != want[1] || kinds[2] != want[2] {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	if !bytes.Equal(second[1].Raw, firstPayload) {
		t.Error("cache replay is not byte-identical to the original payload")
	}
}

func TestConsultDeepModeBypassesCache(t *testing.T) {
	cache := newMemCache()
	gw := testPipeline(drugOnlyAgents(), &stubChat{}, WithCache(cache))

	_ = consultEvents(t, gw, ConsultRequest{Query: "otazka", Mode: ModeDeep})
	events := consultEvents(t, gw, ConsultRequest{Query: "otazka", Mode: ModeDeep})
	for _, ev := range events {
		if ev.Kind == EventCacheHit {
			t.Fatal("deep mode must not probe the cache")
		}
	}
}

func TestConsultProbeErrorIsMiss(t *testing.T) {
	cache := newMemCache()
	cache.probeErr = context.DeadlineExceeded
	gw := testPipeline(drugOnlyAgents(), &stubChat{}, WithCache(cache))

	events := consultEvents(t, gw, ConsultRequest{Query: "otazka"})
	kinds := eventKinds(events)
	if kinds[0] == EventCacheHit {
		t.Fatal("probe error must be a silent miss")
	}
	if kinds[len(kinds)-1] != EventDone {
		t.Errorf("terminal = %q, want done", kinds[len(kinds)-1])
	}
}

func TestConsultAllFailedFallback(t *testing.T) {
	agents := map[string]Agent{
		AgentDrug:       &stubAgent{name: AgentDrug, result: failed(ErrKindUpstream)},
		AgentLiterature: &stubAgent{name: AgentLiterature, result: failed(ErrKindUnavailable)},
		AgentGuideline:  &stubAgent{name: AgentGuideline, result: failed(ErrKindUpstream)},
		AgentGeneral:    &stubAgent{name: AgentGeneral, result: failed(ErrKindUpstream)},
	}
	chat := &stubChat{
		classifyFn: func(ctx context.Context, prompt string) (json.RawMessage, error) {
			return json.RawMessage(`{"intent":"mixed","agents":[{"agent":"drug","term":"x"},{"agent":"literature","term":"x"}]}`), nil
		},
	}
	cache := newMemCache()
	gw := testPipeline(agents, chat, WithCache(cache))

	events := consultEvents(t, gw, ConsultRequest{Query: "davkovani a studie"})
	kinds := eventKinds(events)
	if kinds[len(kinds)-1] != EventDone {
		t.Fatalf("terminal = %q, want done (graceful degradation, not error)", kinds[len(kinds)-1])
	}

	var payload FinalPayload
	for _, ev := range events {
		if ev.Kind == EventFinal {
			if err := json.Unmarshal(ev.Raw, &payload); err != nil {
				t.Fatal(err)
			}
		}
	}
	if payload.Answer != DefaultFallbackAnswer {
		t.Errorf("answer = %q, want the fallback apology", payload.Answer)
	}
	if len(payload.RetrievedDocs) != 0 {
		t.Errorf("retrieved docs = %d, want 0", len(payload.RetrievedDocs))
	}

	// Apologies are never cached.
	time.Sleep(50 * time.Millisecond)
	cache.mu.Lock()
	stored := cache.stores
	cache.mu.Unlock()
	if stored != 0 {
		t.Error("fallback answer was cached")
	}
}

func TestConsultWorkflowTimeout(t *testing.T) {
	agents := map[string]Agent{
		AgentGeneral: &stubAgent{name: AgentGeneral, result: okResult("general", "late"), delay: time.Second},
	}
	gw := testPipeline(agents, nil, WithWorkflowDeadline(20*time.Millisecond))

	events := consultEvents(t, gw, ConsultRequest{Query: "pomala otazka"})
	last := events[len(events)-1]
	if last.Kind != EventError {
		t.Fatalf("terminal = %q, want error", last.Kind)
	}
	if last.Err.Tag != ErrTimeout {
		t.Errorf("tag = %q, want timeout", last.Err.Tag)
	}
	for _, ev := range events {
		if ev.Kind == EventFinal || ev.Kind == EventDone {
			t.Errorf("%q event after deadline, error must be the sole terminal", ev.Kind)
		}
	}
}

func TestSanitizePreservesCase(t *testing.T) {
	got := sanitizeQuery("Warfarin\x00 a INR\n kontrola")
	if got != "Warfarin a INR kontrola" {
		t.Errorf("got %q", got)
	}
}
