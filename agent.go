package consilium

import (
	"context"
	"log/slog"
	"time"
)

// Agent converts a typed sub-query into Documents by calling one upstream
// source. Agents report failure through AgentResult.Status and never return
// Go errors or panic; the dispatcher treats every outcome as data.
type Agent interface {
	// Name returns the agent identifier (one of the Agent* constants).
	Name() string
	// Run executes the sub-query. Implementations must honor ctx; retries
	// consume the remaining deadline, never a fresh budget.
	Run(ctx context.Context, q SubQuery) AgentResult
	// Health reports the availability of the agent's upstream.
	Health(ctx context.Context) Health
}

// AgentOption configures a concrete agent.
type AgentOption func(*agentConfig)

type agentConfig struct {
	logger *slog.Logger
}

// WithAgentLogger sets the structured logger for agent retry and failure
// events. Defaults to a no-op logger.
func WithAgentLogger(l *slog.Logger) AgentOption {
	return func(c *agentConfig) { c.logger = l }
}

func buildAgentConfig(opts []AgentOption) agentConfig {
	var cfg agentConfig
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = nopLogger
	}
	return cfg
}

// Retry policy for transient tool failures. Two retries on top of the
// initial attempt, exponential backoff from retryBase capped at retryCap.
const (
	maxToolRetries = 2
	retryBase      = 200 * time.Millisecond
	retryCap       = 2 * time.Second
)

// retryBackoff returns the delay before retry i (0-indexed): base * 2^i,
// capped. No jitter, so dispatch timing stays deterministic.
func retryBackoff(i int) time.Duration {
	d := retryBase << i
	if d > retryCap {
		d = retryCap
	}
	return d
}

// callTool invokes one tool with the shared retry policy. Transient results
// are retried up to maxToolRetries times; permanent results and exhausted
// retries come back as-is for the agent to map into its AgentResult.
func callTool(ctx context.Context, rc RetrievalClient, logger *slog.Logger, name string, params map[string]string) (ToolResult, error) {
	var last ToolResult
	for attempt := 0; ; attempt++ {
		res, err := rc.CallTool(ctx, name, params)
		if err != nil {
			return ToolResult{Status: ToolTransient}, err
		}
		if res.Status != ToolTransient || attempt == maxToolRetries {
			return res, nil
		}
		last = res
		logger.Warn("retrying transient tool failure",
			"tool", name,
			"attempt", attempt+1,
			"max_retries", maxToolRetries)
		timer := time.NewTimer(retryBackoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, ctx.Err()
		case <-timer.C:
		}
	}
}

// failed builds a failed AgentResult with the given kind.
func failed(kind ErrorKind) AgentResult {
	return AgentResult{Status: StatusFailed, ErrorKind: kind}
}

// resultFromTool maps a terminal ToolResult into an AgentResult, tagging
// each record as a Document of the given source with sequential provisional
// indices starting at 1.
func resultFromTool(res ToolResult, source string) AgentResult {
	switch res.Status {
	case ToolOK:
		docs := make([]Document, 0, len(res.Records))
		for i, r := range res.Records {
			docs = append(docs, Document{
				Content:     r.Content,
				Source:      source,
				Meta:        r.Meta,
				Provisional: i + 1,
			})
		}
		return AgentResult{Documents: docs, Status: StatusOK}
	case ToolEmpty:
		return AgentResult{Documents: []Document{}, Status: StatusEmpty}
	default:
		return failed(ErrKindUpstream)
	}
}
