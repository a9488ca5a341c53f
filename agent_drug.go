package consilium

import (
	"context"
	"errors"
	"log/slog"
)

// detailIntents are DrugQuery intents that warrant a follow-up details call
// for the best search match.
var detailIntents = map[string]bool{
	"details":           true,
	"contraindications": true,
	"dosage":            true,
	"interactions":      true,
}

// DrugAgent queries the pharmaceutical registry. A search call always runs;
// depending on the query intent it follows up with details or reimbursement
// lookups for the top match, so one question can yield several documents.
type DrugAgent struct {
	client RetrievalClient
	logger *slog.Logger
}

// NewDrugAgent creates a DrugAgent over the registry client. A nil client is
// tolerated: Run then reports failed/unavailable instead of panicking.
func NewDrugAgent(client RetrievalClient, opts ...AgentOption) *DrugAgent {
	cfg := buildAgentConfig(opts)
	return &DrugAgent{client: client, logger: cfg.logger}
}

func (a *DrugAgent) Name() string { return AgentDrug }

func (a *DrugAgent) Health(ctx context.Context) Health {
	if a.client == nil {
		return HealthUnavailable
	}
	return a.client.HealthCheck(ctx)
}

func (a *DrugAgent) Run(ctx context.Context, q SubQuery) AgentResult {
	dq, ok := q.(DrugQuery)
	if !ok {
		return failed(ErrKindUpstream)
	}
	if a.client == nil {
		return failed(ErrKindUnavailable)
	}

	res, err := callTool(ctx, a.client, a.logger, "search", map[string]string{"term": dq.Term})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return failed(ErrKindTimeout)
		}
		return failed(ErrKindUpstream)
	}
	base := resultFromTool(res, SourceDrug)
	if base.Status != StatusOK {
		return base
	}

	// Follow-up lookups enrich the top match only; their failure never
	// degrades the search result that already arrived.
	follow := ""
	switch {
	case dq.Intent == "reimbursement":
		follow = "reimbursement"
	case detailIntents[dq.Intent]:
		follow = "details"
	}
	if follow != "" {
		if reg := base.Documents[0].Meta["registration_number"]; reg != "" {
			extra, err := callTool(ctx, a.client, a.logger, follow, map[string]string{"registration_number": reg})
			if err == nil && extra.Status == ToolOK {
				for _, r := range extra.Records {
					base.Documents = append(base.Documents, Document{
						Content:     r.Content,
						Source:      SourceDrug,
						Meta:        r.Meta,
						Provisional: len(base.Documents) + 1,
					})
				}
			}
		}
	}
	return base
}

var _ Agent = (*DrugAgent)(nil)
