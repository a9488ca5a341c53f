package consilium

import (
	"context"
	"errors"
	"log/slog"
)

// GuidelineAgent runs a semantic-similarity lookup against the indexed
// guideline corpus.
type GuidelineAgent struct {
	client RetrievalClient
	logger *slog.Logger
}

// NewGuidelineAgent creates a GuidelineAgent over the corpus client. A nil
// client makes Run report failed/unavailable.
func NewGuidelineAgent(client RetrievalClient, opts ...AgentOption) *GuidelineAgent {
	cfg := buildAgentConfig(opts)
	return &GuidelineAgent{client: client, logger: cfg.logger}
}

func (a *GuidelineAgent) Name() string { return AgentGuideline }

func (a *GuidelineAgent) Health(ctx context.Context) Health {
	if a.client == nil {
		return HealthUnavailable
	}
	return a.client.HealthCheck(ctx)
}

func (a *GuidelineAgent) Run(ctx context.Context, q SubQuery) AgentResult {
	gq, ok := q.(GuidelineQuery)
	if !ok {
		return failed(ErrKindUpstream)
	}
	if a.client == nil {
		return failed(ErrKindUnavailable)
	}
	res, err := callTool(ctx, a.client, a.logger, "search", map[string]string{"query": gq.Term})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return failed(ErrKindTimeout)
		}
		return failed(ErrKindUpstream)
	}
	return resultFromTool(res, SourceGuideline)
}

var _ Agent = (*GuidelineAgent)(nil)
