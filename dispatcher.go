package consilium

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher executes a DispatchPlan: every entry is launched concurrently
// under one shared deadline, results are collected keyed by agent id, and
// agent_start/agent_complete events are emitted along the way.
//
// The dispatcher never fails because an individual agent failed. Partial
// results are the normal case; AllFailed reports the aggregate-failure case
// the gateway turns into a graceful fallback answer.
type Dispatcher struct {
	agents map[string]Agent
	logger *slog.Logger
	tracer Tracer
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the structured logger.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithDispatcherTracer sets the span tracer.
func WithDispatcherTracer(t Tracer) DispatcherOption {
	return func(d *Dispatcher) { d.tracer = t }
}

// NewDispatcher creates a Dispatcher over the agent registry.
func NewDispatcher(agents map[string]Agent, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{agents: agents, logger: nopLogger}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run fans out to every plan entry in parallel and waits for all of them.
// The ctx deadline covers the whole fan-out; an agent that outlives it is
// recorded as failed/timeout rather than aborting the run. Events go to ch;
// for each agent agent_start precedes its agent_complete, with no ordering
// between different agents' completions.
func (d *Dispatcher) Run(ctx context.Context, plan DispatchPlan, ch chan<- Event) map[string]AgentResult {
	var span Span
	if d.tracer != nil {
		ctx, span = d.tracer.Start(ctx, "dispatch",
			IntAttr("plan.entries", len(plan.Entries)))
		defer span.End()
	}

	type slot struct {
		agent  string
		result AgentResult
	}
	slots := make([]slot, len(plan.Entries))

	var wg sync.WaitGroup
	for i, entry := range plan.Entries {
		slots[i].agent = entry.Agent
		agent, ok := d.agents[entry.Agent]

		// Invocation order: start events are emitted here, before any
		// tool call, one per entry.
		emit(ctx, ch, Event{Kind: EventAgentStart, Agent: entry.Agent})

		if !ok {
			// Unknown ids normally die in the classifier; a plan built by
			// hand can still carry one.
			slots[i].result = failed(ErrKindUnavailable)
			emit(ctx, ch, Event{Kind: EventAgentComplete, Agent: entry.Agent})
			continue
		}

		wg.Add(1)
		go func(i int, agent Agent, q SubQuery) {
			defer wg.Done()
			start := time.Now()
			res := agent.Run(ctx, q)
			if res.Status == StatusFailed && ctx.Err() != nil {
				res.ErrorKind = ErrKindTimeout
			}
			slots[i].result = res
			d.logger.Info("agent finished",
				"agent", slots[i].agent,
				"status", res.Status,
				"documents", len(res.Documents),
				"duration", time.Since(start))
			emit(ctx, ch, Event{Kind: EventAgentComplete, Agent: slots[i].agent})
		}(i, agent, entry.Query)
	}
	wg.Wait()

	results := make(map[string]AgentResult, len(slots))
	for _, s := range slots {
		results[s.agent] = s.result
	}
	if span != nil {
		span.SetAttr(BoolAttr("dispatch.all_failed", AllFailed(results)))
	}
	return results
}

// AllFailed reports whether every agent in the result set failed. This is
// the aggregate-failure condition that triggers the graceful fallback answer.
func AllFailed(results map[string]AgentResult) bool {
	if len(results) == 0 {
		return true
	}
	for _, r := range results {
		if r.Status != StatusFailed {
			return false
		}
	}
	return true
}
