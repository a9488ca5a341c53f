// Package app assembles the consultation service from its configuration:
// upstream clients, agents, pipeline stages, gateway, and HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/klinio/consilium"
	"github.com/klinio/consilium/cache/rediscache"
	"github.com/klinio/consilium/cache/sqlitecache"
	"github.com/klinio/consilium/client/chatapi"
	"github.com/klinio/consilium/client/drugrpc"
	"github.com/klinio/consilium/client/guidestore"
	"github.com/klinio/consilium/client/litrest"
	"github.com/klinio/consilium/internal/config"
	"github.com/klinio/consilium/observer"
)

// Deps holds injected dependencies. Any nil field is built from config;
// tests inject fakes here.
type Deps struct {
	Chat   consilium.ChatClient
	Drug   consilium.RetrievalClient
	Lit    consilium.RetrievalClient
	Guide  consilium.RetrievalClient
	Cache  consilium.Cache
	Logger *slog.Logger
	Tracer consilium.Tracer
}

// App is the assembled service.
type App struct {
	cfg      config.Config
	server   *http.Server
	closers  []func() error
	shutdown func(context.Context) error
	logger   *slog.Logger
}

// New builds the full pipeline from cfg, filling any dependency deps leaves
// nil.
func New(ctx context.Context, cfg config.Config, deps Deps) (*App, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	a := &App{cfg: cfg, logger: logger}

	tracer := deps.Tracer
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		var err error
		var shutdown func(context.Context) error
		inst, shutdown, err = observer.Init(ctx, cfg.Observer.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("observer init: %w", err)
		}
		a.shutdown = shutdown
		if tracer == nil {
			tracer = observer.NewTracer()
		}
	}

	chat := deps.Chat
	if chat == nil {
		c := chatapi.New(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL,
			chatapi.WithTemperature(cfg.LLM.Temperature),
			chatapi.WithEmbeddingModel(cfg.LLM.EmbeddingModel),
			chatapi.WithLogger(logger))
		if inst != nil {
			chat = observer.WrapChat(c, cfg.LLM.Model, inst)
		} else {
			chat = c
		}
	}

	drug := deps.Drug
	if drug == nil && cfg.Upstreams.DrugRPCEndpoint != "" {
		drug = drugrpc.New(cfg.Upstreams.DrugRPCEndpoint,
			drugrpc.WithCallTimeout(time.Duration(cfg.Workflow.RetrievalSeconds)*time.Second),
			drugrpc.WithLogger(logger))
		drug = a.instrument(drug, consilium.AgentDrug, inst)
	}

	lit := deps.Lit
	if lit == nil && cfg.Upstreams.LiteratureURL != "" {
		lit = litrest.New(cfg.Upstreams.LiteratureURL,
			litrest.WithAPIKey(cfg.Upstreams.LiteratureAPIKey),
			litrest.WithLogger(logger))
		lit = a.instrument(lit, consilium.AgentLiterature, inst)
	}

	guide := deps.Guide
	if guide == nil && cfg.Upstreams.GuidelineDSN != "" {
		embedder, ok := chat.(guidestore.Embedder)
		if !ok {
			return nil, fmt.Errorf("guideline store needs an embedding-capable chat client")
		}
		g, err := guidestore.New(ctx, cfg.Upstreams.GuidelineDSN, embedder,
			guidestore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		guide = a.instrument(g, consilium.AgentGuideline, inst)
	}

	agents := map[string]consilium.Agent{
		consilium.AgentDrug:       consilium.NewDrugAgent(drug, consilium.WithAgentLogger(logger)),
		consilium.AgentLiterature: consilium.NewLiteratureAgent(lit, chat, consilium.WithAgentLogger(logger)),
		consilium.AgentGuideline:  consilium.NewGuidelineAgent(guide, consilium.WithAgentLogger(logger)),
		consilium.AgentGeneral:    consilium.NewGeneralAgent(chat, consilium.WithAgentLogger(logger)),
	}
	for _, c := range []consilium.RetrievalClient{drug, lit, guide} {
		if c != nil {
			a.closers = append(a.closers, c.Close)
		}
	}

	keywords := consilium.DefaultKeywords()
	if len(cfg.Keywords.Drug) > 0 {
		keywords.Drug = cfg.Keywords.Drug
	}
	if len(cfg.Keywords.Research) > 0 {
		keywords.Research = cfg.Keywords.Research
	}
	if len(cfg.Keywords.Guideline) > 0 {
		keywords.Guideline = cfg.Keywords.Guideline
	}

	classifier := consilium.NewClassifier(chat, agents,
		consilium.WithKeywords(keywords),
		consilium.WithUserLanguage(cfg.Workflow.UserLanguage),
		consilium.WithClassifierLogger(logger))
	dispatcher := consilium.NewDispatcher(agents,
		consilium.WithDispatcherLogger(logger),
		consilium.WithDispatcherTracer(tracer))
	synthesizer := consilium.NewSynthesizer(chat,
		consilium.WithTerminology(cfg.Glossary),
		consilium.WithSynthesizerLogger(logger),
		consilium.WithSynthesizerTracer(tracer))

	cache := deps.Cache
	if cache == nil {
		var err error
		cache, err = openCache(cfg.Cache)
		if err != nil {
			return nil, err
		}
	}

	gwOpts := []consilium.GatewayOption{
		consilium.WithRateLimit(cfg.Server.RatePerMinute),
		consilium.WithWorkflowDeadline(time.Duration(cfg.Workflow.DeadlineSeconds) * time.Second),
		consilium.WithCacheTTL(time.Duration(cfg.Cache.TTLSeconds) * time.Second),
		consilium.WithGatewayLogger(logger),
	}
	if cache != nil {
		gwOpts = append(gwOpts, consilium.WithCache(cache))
	}
	if tracer != nil {
		gwOpts = append(gwOpts, consilium.WithGatewayTracer(tracer))
	}
	if cfg.Workflow.FallbackAnswer != "" {
		gwOpts = append(gwOpts, consilium.WithFallbackAnswer(cfg.Workflow.FallbackAnswer))
	}
	gw := consilium.NewGateway(classifier, dispatcher, synthesizer, gwOpts...)

	srvOpts := []consilium.ServerOption{
		consilium.WithCORSOrigins(cfg.Server.CORSOrigins),
		consilium.WithServerLogger(logger),
	}
	if cache != nil {
		srvOpts = append(srvOpts, consilium.WithHealthCache(cache))
	}
	handler := consilium.NewServer(gw, agents, srvOpts...).Handler()

	a.server = &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// instrument wraps a retrieval client with OTEL when the observer is on.
func (a *App) instrument(c consilium.RetrievalClient, upstream string, inst *observer.Instruments) consilium.RetrievalClient {
	if inst == nil || c == nil {
		return c
	}
	return observer.WrapRetrieval(c, upstream, inst)
}

// openCache builds the configured cache backend, or nil when disabled.
func openCache(cfg config.CacheConfig) (consilium.Cache, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "redis":
		return rediscache.Open(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), nil
	case "sqlite":
		c, err := sqlitecache.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := a.server.Shutdown(sctx)
		for _, closeFn := range a.closers {
			err = errors.Join(err, closeFn())
		}
		if a.shutdown != nil {
			err = errors.Join(err, a.shutdown(sctx))
		}
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// RunWithSignal wraps Run with OS signal handling for graceful shutdown.
func (a *App) RunWithSignal() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}
