package consilium

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// stubChat implements ChatClient with injectable behavior.
type stubChat struct {
	classifyFn func(ctx context.Context, prompt string) (json.RawMessage, error)
	generateFn func(ctx context.Context, prompt string) (string, error)
}

func (s *stubChat) Classify(ctx context.Context, prompt string) (json.RawMessage, error) {
	if s.classifyFn == nil {
		return json.RawMessage(`{}`), nil
	}
	return s.classifyFn(ctx, prompt)
}

func (s *stubChat) Generate(ctx context.Context, prompt string) (string, error) {
	if s.generateFn == nil {
		return "stub answer", nil
	}
	return s.generateFn(ctx, prompt)
}

func (s *stubChat) Name() string { return "stub" }

// stubClient implements RetrievalClient with injectable behavior.
type stubClient struct {
	mu     sync.Mutex
	calls  []string
	callFn func(name string, params map[string]string) (ToolResult, error)
	health Health
}

func (s *stubClient) CallTool(ctx context.Context, name string, params map[string]string) (ToolResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return ToolResult{Status: ToolTransient}, err
	}
	if s.callFn == nil {
		return ToolResult{Status: ToolEmpty}, nil
	}
	return s.callFn(name, params)
}

func (s *stubClient) HealthCheck(ctx context.Context) Health {
	if s.health == "" {
		return HealthAvailable
	}
	return s.health
}

func (s *stubClient) Close() error { return nil }

func (s *stubClient) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// stubAgent implements Agent returning a fixed result after an optional delay.
type stubAgent struct {
	name   string
	result AgentResult
	delay  time.Duration
	health Health
}

func (s *stubAgent) Name() string { return s.name }

func (s *stubAgent) Run(ctx context.Context, q SubQuery) AgentResult {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return failed(ErrKindTimeout)
		}
	}
	return s.result
}

func (s *stubAgent) Health(ctx context.Context) Health {
	if s.health == "" {
		return HealthAvailable
	}
	return s.health
}

// memCache is an in-memory Cache for gateway tests.
type memCache struct {
	mu       sync.Mutex
	entries  map[string][]byte
	probeErr error
	stores   int
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]byte)}
}

func (c *memCache) Probe(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.probeErr != nil {
		return nil, false, c.probeErr
	}
	p, ok := c.entries[key]
	return p, ok, nil
}

func (c *memCache) Store(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = payload
	c.stores++
	return nil
}

func (c *memCache) Ping(ctx context.Context) error { return nil }

// okResult builds a StatusOK AgentResult with n documents from source.
func okResult(source string, contents ...string) AgentResult {
	docs := make([]Document, 0, len(contents))
	for i, c := range contents {
		docs = append(docs, Document{Content: c, Source: source, Provisional: i + 1})
	}
	return AgentResult{Documents: docs, Status: StatusOK}
}

// drainEvents collects every event from ch until it closes.
func drainEvents(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

// eventKinds projects the kinds of a slice of events.
func eventKinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}
