package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/costgate/internal/analytics"
	"github.com/fyrsmithlabs/costgate/internal/compression"
	"github.com/fyrsmithlabs/costgate/internal/config"
	"github.com/fyrsmithlabs/costgate/internal/costmodel"
	"github.com/fyrsmithlabs/costgate/internal/decision"
	"github.com/fyrsmithlabs/costgate/internal/events"
	httpserver "github.com/fyrsmithlabs/costgate/internal/http"
	"github.com/fyrsmithlabs/costgate/internal/llm"
	"github.com/fyrsmithlabs/costgate/internal/logging"
	"github.com/fyrsmithlabs/costgate/internal/maintenance"
	"github.com/fyrsmithlabs/costgate/internal/orchestrator"
	"github.com/fyrsmithlabs/costgate/internal/quota"
	"github.com/fyrsmithlabs/costgate/internal/resultcache"
	"github.com/fyrsmithlabs/costgate/internal/search"
	"github.com/fyrsmithlabs/costgate/internal/secrets"
	"github.com/fyrsmithlabs/costgate/internal/store"
	"github.com/fyrsmithlabs/costgate/internal/telemetry"
)

// loadConfig reads the config file named by --config, or the default
// location, and applies environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// base holds what every command needs: logging, telemetry and the store.
type base struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	store     *store.SQLiteStore
}

func newBase(ctx context.Context, cfg *config.Config) (*base, error) {
	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logCfg, err := logging.FromObservability(cfg.Observability)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	path, err := config.ExpandPath(cfg.Store.Path)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("invalid store path: %w", err)
	}
	s, err := store.Open(path, store.DefaultOptions(), logger.Underlying())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	logger.Info(ctx, "store opened", zap.String("path", path))

	return &base{cfg: cfg, logger: logger, telemetry: tel, store: s}, nil
}

func (b *base) Close(ctx context.Context) error {
	var errs []error
	if err := b.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := b.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}
	_ = b.logger.Sync()
	return errors.Join(errs...)
}

func (b *base) sweeper() *maintenance.Sweeper {
	return maintenance.NewSweeper(b.store, b.cfg.Maintenance, b.logger.Underlying(), nil)
}

// app is the fully wired server.
type app struct {
	*base
	orchestrator *orchestrator.Orchestrator
	sweep        *maintenance.Sweeper
	scheduler    *maintenance.Scheduler
	server       *httpserver.Server
	events       *events.NATSPublisher
}

// buildApp wires every component behind the HTTP API. On error the
// caller still owns b.
func buildApp(b *base) (*app, error) {
	cfg := b.cfg
	zl := b.logger.Underlying()

	client, err := llm.NewAnthropicClient(cfg.LLM, llm.WithLogger(zl.Named("llm")))
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	scrubber, err := secrets.New(cfg.Secrets, zl.Named("secrets"))
	if err != nil {
		return nil, fmt.Errorf("failed to create secret scrubber: %w", err)
	}

	provider, err := search.New(cfg.Search)
	if err != nil {
		return nil, fmt.Errorf("failed to create search provider: %w", err)
	}
	if provider == nil {
		b.logger.Warn(context.Background(), "no search provider configured, turns are answered without search")
	}

	decider, err := decision.NewEngine(cfg.Decision, b.store,
		decision.NewLLMClassifier(client, cfg.LLM.CheapModel),
		decision.Options{
			Logger: zl.Named("decision"),
			Tracer: b.telemetry.Tracer("github.com/fyrsmithlabs/costgate/internal/decision"),
			Meter:  b.telemetry.Meter("github.com/fyrsmithlabs/costgate/internal/decision"),
		})
	if err != nil {
		return nil, fmt.Errorf("failed to create decision engine: %w", err)
	}

	cache, err := resultcache.New(b.store, cfg.Cache, cfg.Search.UnitCost, resultcache.Options{
		Logger: zl.Named("resultcache"),
		Tracer: b.telemetry.Tracer("github.com/fyrsmithlabs/costgate/internal/resultcache"),
		Meter:  b.telemetry.Meter("github.com/fyrsmithlabs/costgate/internal/resultcache"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}

	compressor, err := compression.NewEngine(cfg.Compression, b.store,
		compression.NewLLMSummarizer(client, cfg.LLM.CheapModel, cfg.Compression.SummaryMaxTokens),
		compression.Options{
			Logger:   zl.Named("compression"),
			Tracer:   b.telemetry.Tracer("github.com/fyrsmithlabs/costgate/internal/compression"),
			Meter:    b.telemetry.Meter("github.com/fyrsmithlabs/costgate/internal/compression"),
			Scrubber: scrubber,
		})
	if err != nil {
		return nil, fmt.Errorf("failed to create compression engine: %w", err)
	}

	aggregator := analytics.New(b.store, nil)

	a := &app{base: b, sweep: b.sweeper()}

	var publisher events.Publisher = events.Noop{}
	if cfg.Events.Enabled {
		nats, err := events.Connect(cfg.Events, zl.Named("events"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect event publisher: %w", err)
		}
		a.events = nats
		publisher = nats
	}

	deps := orchestrator.Deps{
		Store:      b.store,
		Decider:    decider,
		Quota:      quota.NewLedger(b.store, cfg.Quota, quota.WithLogger(zl.Named("quota"))),
		Cache:      cache,
		Fetcher:    search.NewHTTPFetcher(cfg.Search.Timeout),
		Compressor: compressor,
		LLM:        client,
		Policy:     costmodel.NewPolicy(cfg.LLM, cfg.Pricing),
		Pricing:    costmodel.NewPricing(cfg.Pricing),
		Analytics:  aggregator,
		Events:     publisher,
		Scrubber:   scrubber,
	}
	if provider != nil {
		deps.Search = provider
	}
	orch, err := orchestrator.New(cfg, deps, orchestrator.Options{
		Logger: b.logger.Named("orchestrator"),
		Tracer: b.telemetry.Tracer("github.com/fyrsmithlabs/costgate/internal/orchestrator"),
		Meter:  b.telemetry.Meter("github.com/fyrsmithlabs/costgate/internal/orchestrator"),
	})
	if err != nil {
		a.closeEvents()
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	a.orchestrator = orch

	if cfg.Maintenance.Enabled {
		sched, err := maintenance.NewScheduler(a.sweep, cfg.Maintenance.Schedule, zl.Named("maintenance"))
		if err != nil {
			a.closeEvents()
			return nil, err
		}
		a.scheduler = sched
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		analytics.NewCollector(aggregator, zl.Named("analytics")),
	)

	srv, err := httpserver.NewServer(httpserver.Deps{
		Turns:     orch,
		Analytics: aggregator,
		Sweeper:   a.sweep,
		Store:     b.store,
		Gatherer:  registry,
		Meter:     b.telemetry.Meter("github.com/fyrsmithlabs/costgate/internal/http"),
	}, b.logger.Named("http"), cfg.Server)
	if err != nil {
		a.closeEvents()
		return nil, fmt.Errorf("failed to create http server: %w", err)
	}
	a.server = srv

	return a, nil
}

func (a *app) closeEvents() {
	if a.events == nil {
		return
	}
	if err := a.events.Close(); err != nil {
		a.logger.Warn(context.Background(), "failed to close event publisher", zap.Error(err))
	}
}
