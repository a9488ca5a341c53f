package consilium

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testServer(t *testing.T, agents map[string]Agent, gwOpts ...GatewayOption) *httptest.Server {
	t.Helper()
	gw := testPipeline(agents, &stubChat{}, gwOpts...)
	srv := httptest.NewServer(NewServer(gw, agents).Handler())
	t.Cleanup(srv.Close)
	return srv
}

// sseFrame is one parsed SSE frame.
type sseFrame struct {
	event string
	data  string
}

func parseSSE(t *testing.T, body string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var f sseFrame
		for _, line := range strings.Split(block, "\n") {
			if v, ok := strings.CutPrefix(line, "event: "); ok {
				f.event = v
			}
			if v, ok := strings.CutPrefix(line, "data: "); ok {
				f.data = v
			}
		}
		if f.event != "" {
			frames = append(frames, f)
		}
	}
	return frames
}

func postConsult(t *testing.T, srv *httptest.Server, body string) (*http.Response, []sseFrame) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/consult", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, parseSSE(t, string(raw))
}

func TestConsultEndpointStreamsLifecycle(t *testing.T) {
	srv := testServer(t, drugOnlyAgents())

	resp, frames := postConsult(t, srv, `{"query":"davkovani warfarinu"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}

	if len(frames) < 3 {
		t.Fatalf("frames = %d, want at least start/final/done", len(frames))
	}
	last := frames[len(frames)-1]
	if last.event != "done" {
		t.Errorf("last event = %q, want done", last.event)
	}
	finalSeen := false
	for _, f := range frames {
		if f.event == "final" {
			finalSeen = true
			var payload FinalPayload
			if err := json.Unmarshal([]byte(f.data), &payload); err != nil {
				t.Fatalf("final data not valid JSON: %v", err)
			}
			if payload.Answer == "" {
				t.Error("empty answer in final payload")
			}
		}
	}
	if !finalSeen {
		t.Error("no final frame")
	}
}

func TestConsultEndpointValidationError(t *testing.T) {
	srv := testServer(t, drugOnlyAgents())

	resp, frames := postConsult(t, srv, `{"query":""}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if len(frames) != 1 || frames[0].event != "error" {
		t.Fatalf("frames = %+v, want a single error frame", frames)
	}
	var data struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(frames[0].data), &data); err != nil {
		t.Fatal(err)
	}
	if data.Error != string(ErrValidation) {
		t.Errorf("error = %q, want validation_error", data.Error)
	}
}

func TestConsultEndpointRateLimit(t *testing.T) {
	srv := testServer(t, drugOnlyAgents(), WithRateLimit(10))

	var got429 bool
	for i := 0; i < 12; i++ {
		resp, frames := postConsult(t, srv, `{"query":"otazka"}`)
		if i < 10 {
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("request %d: status = %d, want 200", i+1, resp.StatusCode)
			}
			continue
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			t.Fatalf("request %d: status = %d, want 429", i+1, resp.StatusCode)
		}
		got429 = true
		if len(frames) != 1 || frames[0].event != "error" {
			t.Errorf("request %d: frames = %+v, want single error frame", i+1, frames)
		}
	}
	if !got429 {
		t.Error("rate limit never triggered")
	}
}

func TestConsultEndpointRejectsGet(t *testing.T) {
	srv := testServer(t, drugOnlyAgents())
	resp, err := http.Get(srv.URL + "/consult")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	agents := map[string]Agent{
		AgentDrug:       &stubAgent{name: AgentDrug, health: HealthAvailable},
		AgentLiterature: &stubAgent{name: AgentLiterature, health: HealthUnavailable},
		AgentGuideline:  &stubAgent{name: AgentGuideline, health: HealthDegraded},
		AgentGeneral:    &stubAgent{name: AgentGeneral},
	}
	gw := testPipeline(agents, nil)
	srv := httptest.NewServer(NewServer(gw, agents, WithHealthCache(newMemCache())).Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Status    string            `json:"status"`
		Upstreams map[string]string `json:"upstreams"`
		Cache     string            `json:"cache"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded (one upstream unavailable)", body.Status)
	}
	if body.Upstreams[AgentDrug] != "available" || body.Upstreams[AgentLiterature] != "unavailable" {
		t.Errorf("upstreams = %v", body.Upstreams)
	}
	if _, ok := body.Upstreams[AgentGeneral]; ok {
		t.Error("general agent must not appear among upstreams")
	}
	if body.Cache != "available" {
		t.Errorf("cache = %q, want available", body.Cache)
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := testServer(t, drugOnlyAgents())
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if v := resp.Header.Get("X-Content-Type-Options"); v != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", v)
	}
	if v := resp.Header.Get("X-Frame-Options"); v != "DENY" {
		t.Errorf("X-Frame-Options = %q", v)
	}
}

func TestClientAddrXForwardedFor(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/consult", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientAddr(r); got != "203.0.113.7" {
		t.Errorf("clientAddr = %q, want first forwarded hop", got)
	}

	r2 := httptest.NewRequest(http.MethodPost, "/consult", nil)
	r2.RemoteAddr = "192.0.2.9:4411"
	if got := clientAddr(r2); got != "192.0.2.9" {
		t.Errorf("clientAddr = %q, want host without port", got)
	}
}
