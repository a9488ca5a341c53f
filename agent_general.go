package consilium

import (
	"context"
	"errors"
	"log/slog"
)

// SourceGeneral tags the GeneralAgent's direct answer. It carries no
// citation metadata; when the general agent is the whole plan the gateway
// short-circuits synthesis and the document never appears as a citation.
const SourceGeneral = "general"

// GeneralAgent answers straight from the ChatClient with no retrieval. It
// exists so every dispatch plan yields at least one document to merge.
type GeneralAgent struct {
	chat   ChatClient
	logger *slog.Logger
}

// NewGeneralAgent creates a GeneralAgent. A nil chat client makes Run report
// failed/unavailable.
func NewGeneralAgent(chat ChatClient, opts ...AgentOption) *GeneralAgent {
	cfg := buildAgentConfig(opts)
	return &GeneralAgent{chat: chat, logger: cfg.logger}
}

func (a *GeneralAgent) Name() string { return AgentGeneral }

func (a *GeneralAgent) Health(ctx context.Context) Health {
	if a.chat == nil {
		return HealthUnavailable
	}
	return HealthAvailable
}

func (a *GeneralAgent) Run(ctx context.Context, q SubQuery) AgentResult {
	gq, ok := q.(GeneralQuery)
	if !ok {
		return failed(ErrKindUpstream)
	}
	if a.chat == nil {
		return failed(ErrKindUnavailable)
	}
	out, err := a.chat.Generate(ctx, gq.Utterance)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return failed(ErrKindTimeout)
		}
		a.logger.Warn("general answer failed", "error", err)
		return failed(ErrKindUpstream)
	}
	return AgentResult{
		Documents: []Document{{Content: TruncateField(out), Source: SourceGeneral, Provisional: 1}},
		Status:    StatusOK,
	}
}

var _ Agent = (*GeneralAgent)(nil)
