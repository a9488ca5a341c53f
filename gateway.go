package consilium

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Defaults for the gateway pipeline.
const (
	DefaultWorkflowDeadline = 30 * time.Second
	DefaultCacheTTL         = 24 * time.Hour
	DefaultRatePerMinute    = 10

	// eventBuffer bounds the internal lifecycle-event channel. Producers
	// block on a full buffer; a gone client is detected via ctx.
	eventBuffer = 16

	maxQueryRunes = 1000
)

// DefaultFallbackAnswer is the graceful-degradation answer used when every
// agent in the plan failed. In the service's primary user language.
const DefaultFallbackAnswer = "Omlouváme se, zdroje odborných informací jsou momentálně nedostupné. Zkuste to prosím později."

// ConsultRequest is one incoming consultation.
type ConsultRequest struct {
	Query      string `json:"query"`
	Mode       string `json:"mode"`
	UserID     string `json:"user_id,omitempty"`
	ClientAddr string `json:"-"`
	RequestID  string `json:"-"`
}

// Gateway drives the per-request workflow: validate, rate-limit, cache
// probe, classify, dispatch, synthesize, and serialize lifecycle events.
// It is the only component that writes to the external stream; everything
// else emits onto the internal channel the gateway owns.
type Gateway struct {
	classifier  *Classifier
	dispatcher  *Dispatcher
	synthesizer *Synthesizer
	cache       Cache
	limiter     *RateLimiter

	deadline time.Duration
	cacheTTL time.Duration
	fallback string
	logger   *slog.Logger
	tracer   Tracer
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithCache enables result caching for quick mode.
func WithCache(c Cache) GatewayOption {
	return func(g *Gateway) { g.cache = c }
}

// WithRateLimit sets the per-client-address request budget per minute.
func WithRateLimit(perMinute int) GatewayOption {
	return func(g *Gateway) { g.limiter = NewRateLimiter(perMinute) }
}

// WithWorkflowDeadline caps classify + dispatch + synthesize end to end.
func WithWorkflowDeadline(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.deadline = d }
}

// WithCacheTTL sets how long quick-mode results stay valid.
func WithCacheTTL(ttl time.Duration) GatewayOption {
	return func(g *Gateway) { g.cacheTTL = ttl }
}

// WithFallbackAnswer overrides the aggregate-failure answer text.
func WithFallbackAnswer(text string) GatewayOption {
	return func(g *Gateway) { g.fallback = text }
}

// WithGatewayLogger sets the structured logger.
func WithGatewayLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

// WithGatewayTracer sets the span tracer.
func WithGatewayTracer(t Tracer) GatewayOption {
	return func(g *Gateway) { g.tracer = t }
}

// NewGateway creates a Gateway over the three pipeline stages.
func NewGateway(classifier *Classifier, dispatcher *Dispatcher, synthesizer *Synthesizer, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		classifier:  classifier,
		dispatcher:  dispatcher,
		synthesizer: synthesizer,
		limiter:     NewRateLimiter(DefaultRatePerMinute),
		deadline:    DefaultWorkflowDeadline,
		cacheTTL:    DefaultCacheTTL,
		fallback:    DefaultFallbackAnswer,
		logger:      nopLogger,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// injectionPatterns are the fixed input patterns rejected outright. They
// target the classic copy-paste attacks, not a general WAF.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)UNION\s+SELECT`),
	regexp.MustCompile(`(?i)DROP\s+TABLE`),
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)onclick\s*=`),
}

// sanitizeQuery strips control characters and collapses whitespace runs,
// preserving letter case (unlike NormalizeQuery, which canonicalizes for
// cache fingerprints).
func sanitizeQuery(q string) string {
	var b strings.Builder
	b.Grow(len(q))
	space := false
	for _, r := range q {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsControl(r):
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Precheck validates and rate-limits a request before any work begins. It
// rewrites req.Query to its sanitized form and fills Mode and RequestID
// defaults. A non-nil result is the terminal error for the stream.
func (g *Gateway) Precheck(req *ConsultRequest) *TaggedError {
	req.Query = sanitizeQuery(req.Query)
	if req.Query == "" {
		return Tagged(ErrValidation, "query is empty", nil)
	}
	if utf8.RuneCountInString(req.Query) > maxQueryRunes {
		return Tagged(ErrValidation, "query exceeds 1000 characters", nil)
	}
	for _, p := range injectionPatterns {
		if p.MatchString(req.Query) {
			return Tagged(ErrValidation, "query contains a forbidden pattern", nil)
		}
	}
	switch req.Mode {
	case "":
		req.Mode = ModeQuick
	case ModeQuick, ModeDeep:
	default:
		return Tagged(ErrValidation, "mode must be quick or deep", nil)
	}
	if req.RequestID == "" {
		req.RequestID = NewID()
	}
	if !g.limiter.Allow(req.ClientAddr) {
		return Tagged(ErrRateLimit, "rate limit exceeded, try again later", nil)
	}
	return nil
}

// Consult runs the workflow for a prechecked request and returns its event
// stream. The channel is closed after the terminal event. Cancelling ctx
// (client disconnect) cancels all in-flight work; no final is emitted then.
func (g *Gateway) Consult(ctx context.Context, req ConsultRequest) <-chan Event {
	ch := make(chan Event, eventBuffer)
	go func() {
		defer close(ch)
		g.run(ctx, req, ch)
	}()
	return ch
}

// run executes steps cache-probe through cache-store. Exactly one terminal
// event (done or error) is emitted per invocation; error suppresses
// everything after it.
func (g *Gateway) run(ctx context.Context, req ConsultRequest, ch chan<- Event) {
	started := time.Now()
	log := g.logger.With("request_id", req.RequestID)

	var span Span
	if g.tracer != nil {
		ctx, span = g.tracer.Start(ctx, "consult",
			StringAttr("request.mode", req.Mode),
			StringAttr("request.id", req.RequestID))
		defer span.End()
	}

	key := Fingerprint(req.Query, req.Mode)
	if req.Mode == ModeQuick && g.cache != nil {
		if payload, ok, err := g.cache.Probe(ctx, key); err == nil && ok {
			log.Info("cache hit", "key", key)
			emit(ctx, ch, Event{Kind: EventCacheHit})
			emit(ctx, ch, Event{Kind: EventFinal, Raw: payload})
			emit(ctx, ch, Event{Kind: EventDone})
			return
		} else if err != nil {
			// Unreachable cache backend is a silent miss.
			log.Warn("cache probe failed, treating as miss", "error", err)
		}
	}

	wctx, cancel := context.WithTimeout(ctx, g.deadline)
	defer cancel()

	messages := []Message{UserMessage(req.Query)}
	plan := g.classifier.Classify(wctx, req.Query)
	outputs := g.dispatcher.Run(wctx, plan, ch)

	if wctx.Err() != nil {
		g.terminate(ctx, ch, span, MapError(wctx.Err()))
		return
	}

	var payload FinalPayload
	if AllFailed(outputs) {
		// Aggregate upstream failure: the workflow still succeeds with a
		// graceful degradation answer, zero documents, and no error event.
		log.Warn("all agents failed", "agents", len(outputs))
		payload = g.buildFinal(g.fallback, nil, started)
	} else {
		answer, merged, err := g.synthesizer.Synthesize(wctx, messages, plan, outputs, ch)
		if err != nil {
			g.terminate(ctx, ch, span, MapError(err))
			return
		}
		payload = g.buildFinal(answer, merged, started)
	}

	raw, err := payload.Marshal()
	if err != nil {
		g.terminate(ctx, ch, span, MapError(err))
		return
	}
	emit(ctx, ch, Event{Kind: EventFinal, Raw: raw})
	emit(ctx, ch, Event{Kind: EventDone})
	log.Info("consult finished",
		"mode", req.Mode,
		"documents", len(payload.RetrievedDocs),
		"latency_ms", payload.LatencyMs)

	// Fire-and-forget store; only real answers with sources are cached.
	if req.Mode == ModeQuick && g.cache != nil && !AllFailed(outputs) {
		go func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			if err := g.cache.Store(sctx, key, raw, g.cacheTTL); err != nil {
				log.Warn("cache store failed", "error", err)
			}
		}()
	}
}

// terminate emits the single terminal error event.
func (g *Gateway) terminate(ctx context.Context, ch chan<- Event, span Span, terr *TaggedError) {
	g.logger.Error("consult failed", "tag", terr.Tag, "error", terr)
	if span != nil {
		span.Error(terr)
	}
	emit(ctx, ch, Event{Kind: EventError, Err: terr})
}

// buildFinal assembles the final payload. Documents keep merge order, so
// RetrievedDocs[k-1] is citation [k]. Confidence stays null (reserved).
func (g *Gateway) buildFinal(answer string, merged []Document, started time.Time) FinalPayload {
	docs := make([]RetrievedDoc, 0, len(merged))
	for _, d := range merged {
		meta := map[string]string{"source": d.Source}
		for k, v := range d.Meta {
			meta[k] = v
		}
		docs = append(docs, RetrievedDoc{Content: d.Content, Metadata: meta})
	}
	return FinalPayload{
		Type:          "final",
		Answer:        answer,
		RetrievedDocs: docs,
		LatencyMs:     time.Since(started).Milliseconds(),
	}
}
