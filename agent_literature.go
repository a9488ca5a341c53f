package consilium

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// LiteratureAgent queries the biomedical literature service. The upstream
// indexes English text; when the sub-query carries another user language the
// agent translates the search term before retrieval and each document's
// content after it, both as ordinary ChatClient calls. Translation failures
// degrade gracefully to the untranslated text.
type LiteratureAgent struct {
	client RetrievalClient
	chat   ChatClient
	logger *slog.Logger
}

// NewLiteratureAgent creates a LiteratureAgent. chat may be nil when no
// translation is needed; a nil client makes Run report failed/unavailable.
func NewLiteratureAgent(client RetrievalClient, chat ChatClient, opts ...AgentOption) *LiteratureAgent {
	cfg := buildAgentConfig(opts)
	return &LiteratureAgent{client: client, chat: chat, logger: cfg.logger}
}

func (a *LiteratureAgent) Name() string { return AgentLiterature }

func (a *LiteratureAgent) Health(ctx context.Context) Health {
	if a.client == nil {
		return HealthUnavailable
	}
	return a.client.HealthCheck(ctx)
}

func (a *LiteratureAgent) Run(ctx context.Context, q SubQuery) AgentResult {
	rq, ok := q.(ResearchQuery)
	if !ok {
		return failed(ErrKindUpstream)
	}
	if a.client == nil {
		return failed(ErrKindUnavailable)
	}

	term := rq.Term
	translate := rq.Lang != "" && rq.Lang != "en" && a.chat != nil
	if translate {
		term = a.translateQuery(ctx, rq.Term)
	}

	params := map[string]string{"term": term}
	for k, v := range rq.Filters {
		params[k] = v
	}
	res, err := callTool(ctx, a.client, a.logger, "search", params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return failed(ErrKindTimeout)
		}
		return failed(ErrKindUpstream)
	}
	out := resultFromTool(res, SourceLiterature)
	if out.Status != StatusOK || !translate {
		return out
	}

	for i := range out.Documents {
		out.Documents[i].Content = a.translateContent(ctx, out.Documents[i].Content, rq.Lang)
	}
	return out
}

// translateQuery turns the user-language search term into English search
// keywords. On any chat failure the original term is used as-is.
func (a *LiteratureAgent) translateQuery(ctx context.Context, term string) string {
	prompt := fmt.Sprintf("Translate the following biomedical search query into English search keywords. Respond with the keywords only, no explanation.\n\nQuery: %s", term)
	out, err := a.chat.Generate(ctx, prompt)
	if err != nil || strings.TrimSpace(out) == "" {
		a.logger.Warn("query translation failed, using original term", "error", err)
		return term
	}
	return strings.TrimSpace(out)
}

// translateContent renders one document's content in the user's language.
// On failure the English content passes through unchanged.
func (a *LiteratureAgent) translateContent(ctx context.Context, content, lang string) string {
	prompt := fmt.Sprintf("Translate the following abstract into the language with BCP 47 tag %q. Preserve factual and numeric content exactly. Respond with the translation only.\n\n%s", lang, content)
	out, err := a.chat.Generate(ctx, prompt)
	if err != nil || strings.TrimSpace(out) == "" {
		a.logger.Warn("content translation failed, keeping original", "error", err)
		return content
	}
	return TruncateField(strings.TrimSpace(out))
}

var _ Agent = (*LiteratureAgent)(nil)
