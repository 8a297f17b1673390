// Package app assembles the b3fetch components from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/seenimoa/b3fetch/internal/browser"
	"github.com/seenimoa/b3fetch/internal/classify"
	"github.com/seenimoa/b3fetch/internal/config"
	"github.com/seenimoa/b3fetch/internal/logger"
	"github.com/seenimoa/b3fetch/internal/lookup"
	"github.com/seenimoa/b3fetch/internal/metrics"
	"github.com/seenimoa/b3fetch/internal/orchestrator"
	"github.com/seenimoa/b3fetch/internal/pipeline"
	"github.com/seenimoa/b3fetch/internal/scraper"
	"github.com/seenimoa/b3fetch/internal/storage"
	"github.com/seenimoa/b3fetch/internal/storage/memory"
	"github.com/seenimoa/b3fetch/internal/storage/postgres"
	"github.com/seenimoa/b3fetch/pkg/models"
)

// ErrUnknownEngine is returned for a browser engine name other than
// "chromedp" or "rod".
var ErrUnknownEngine = errors.New("unknown browser engine")

// App holds the wired service and everything that must be closed with it.
type App struct {
	Config     *config.Config
	Log        logger.Logger
	Service    *pipeline.Service
	Breakers   *scraper.Resilient
	Counters   *metrics.Counters
	Metrics    http.Handler // nil when metrics are disabled
	Classifier *classify.Engine

	db      *sqlx.DB
	redis   *redis.Client
	engines []browser.Engine
}

// New builds an App. Browsers start lazily on the first scrape, so New
// performs I/O only for PostgreSQL and Redis when those drivers are set.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (_ *App, err error) {
	if log == nil {
		log = logger.NewNop()
	}
	a := &App{Config: cfg, Log: log, Counters: metrics.NewCounters()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	sink := a.metricsSink()

	if err := a.openStorage(ctx); err != nil {
		return nil, err
	}
	cache, err := a.classificationCache()
	if err != nil {
		return nil, err
	}

	acq, err := a.acquirer(sink)
	if err != nil {
		return nil, err
	}
	a.Breakers = acq

	yahoo := lookup.NewYahoo(
		lookup.WithBaseURL(cfg.Lookup.BaseURL),
		lookup.WithRateLimit(cfg.Lookup.RatePerSecond, cfg.Lookup.Burst),
		lookup.WithTimeout(cfg.Lookup.Timeout),
		lookup.WithLogger(log),
	)
	a.Classifier = classify.NewEngine(yahoo, cache, classify.Options{
		LookupTimeout: cfg.Classify.LookupTimeout,
		Logger:        log,
		Metrics:       sink,
	})

	routes := map[models.Group]pipeline.Route{
		models.GroupEquity: route(a, models.GroupEquity, acq, sink, pipeline.MapStock,
			func() *models.StockRecord { return &models.StockRecord{} }),
		models.GroupREIT: route(a, models.GroupREIT, acq, sink, pipeline.MapREIT,
			func() *models.REITRecord { return &models.REITRecord{} }),
		models.GroupETF: route(a, models.GroupETF, acq, sink, pipeline.MapETF,
			func() *models.ETFRecord { return &models.ETFRecord{} }),
		models.GroupBDR: route(a, models.GroupBDR, acq, sink, pipeline.MapBDR,
			func() *models.BDRRecord { return &models.BDRRecord{} }),
	}
	a.Service = pipeline.NewService(a.Classifier, routes, log)

	log.Info("b3fetch assembled",
		logger.String("storage", cfg.Storage.Driver),
		logger.String("cache", cfg.Cache.Driver),
		logger.String("primary", cfg.Browser.Primary),
		logger.String("secondary", cfg.Browser.Secondary),
		logger.Bool("metrics", a.Metrics != nil))
	return a, nil
}

func (a *App) metricsSink() metrics.Sink {
	if !a.Config.Metrics.Enabled {
		return a.Counters
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prom := metrics.NewPrometheus(a.Config.Metrics.Namespace, reg)
	a.Metrics = prom.Handler()
	return metrics.Multi{prom, a.Counters}
}

func (a *App) openStorage(ctx context.Context) error {
	s := a.Config.Storage
	if s.Driver != "postgres" {
		return nil
	}
	db, err := postgres.Open(ctx, postgres.Config{
		DSN:          s.DSN,
		MaxOpenConns: s.MaxOpenConns,
		MaxIdleConns: s.MaxIdleConns,
	})
	if err != nil {
		return err
	}
	a.db = db
	if s.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
	}
	return nil
}

// Migrate applies the PostgreSQL schema. It is a no-op for the memory
// driver.
func (a *App) Migrate(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return postgres.Migrate(ctx, a.db)
}

func (a *App) classificationCache() (classify.Cache, error) {
	c := a.Config.Cache
	if c.Driver != "redis" {
		return classify.NewMemoryCache(), nil
	}
	client, err := classify.DialRedis(c.Addr, c.Password, c.DB)
	if err != nil {
		return nil, err
	}
	a.redis = client
	return classify.NewRedisCache(client, c.KeyPrefix), nil
}

func (a *App) acquirer(sink metrics.Sink) (*scraper.Resilient, error) {
	cfg := a.Config
	matcher, err := scraper.NewMatcher(cfg.Scraping.Channels)
	if err != nil {
		return nil, err
	}
	fetcher := scraper.NewFetcher(nil, cfg.Scraping.FetchTimeout)

	primary, err := a.scraper(cfg.Browser.Primary, matcher, fetcher, sink)
	if err != nil {
		return nil, err
	}
	var secondary scraper.Acquirer
	if name := cfg.Browser.Secondary; name != "" && name != cfg.Browser.Primary {
		s, err := a.scraper(name, matcher, fetcher, sink)
		if err != nil {
			return nil, err
		}
		secondary = s
	}

	r := cfg.Resilience
	return scraper.NewResilient(primary, secondary, scraper.Policy{
		MaxRetries:          r.MaxRetries,
		InitialBackoff:      r.InitialBackoff,
		MaxBackoff:          r.MaxBackoff,
		BackoffMultiplier:   r.BackoffMultiplier,
		BreakerMinRequests:  r.BreakerMinRequests,
		BreakerFailureRatio: r.BreakerFailureRatio,
		BreakerInterval:     r.BreakerInterval,
		BreakerCooldown:     r.BreakerCooldown,
		BreakerHalfOpenMax:  r.BreakerHalfOpenMax,
	}, a.Log, sink), nil
}

func (a *App) scraper(name string, m *scraper.Matcher, f *scraper.Fetcher, sink metrics.Sink) (*scraper.Scraper, error) {
	b := a.Config.Browser
	opts := browser.Options{
		ExecPath:  b.ExecPath,
		Headless:  b.Headless,
		NoSandbox: b.NoSandbox,
		Width:     b.WindowWidth,
		Height:    b.WindowHeight,
	}

	var engine browser.Engine
	switch name {
	case "chromedp":
		engine = browser.NewChromedp(opts, a.Log)
	case "rod":
		engine = browser.NewRod(opts, a.Log)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownEngine, name)
	}
	pool := browser.NewPool(engine, b.MaxSessions)
	a.engines = append(a.engines, pool)

	s := a.Config.Scraping
	return scraper.New(pool, m, f, scraper.Options{
		BaseURL: s.BaseURL,
		Identity: browser.Identity{
			UserAgent:      b.UserAgent,
			AcceptLanguage: b.AcceptLanguage,
			Locale:         b.Locale,
			Timezone:       b.Timezone,
			Width:          b.WindowWidth,
			Height:         b.WindowHeight,
		},
		Budgets: scraper.Budgets{
			Attempt:      s.AttemptTimeout,
			Navigation:   s.NavigationTimeout,
			Selector:     s.SelectorTimeout,
			CaptureGrace: s.CaptureGrace,
		},
		Logger:  a.Log,
		Metrics: sink,
	}), nil
}

func gateway[R models.Record](a *App, newRecord func() R) storage.Gateway[R] {
	if a.db == nil {
		return memory.New(newRecord, a.Log)
	}
	return postgres.New(a.db, newRecord, a.Log)
}

func route[R models.Record](a *App, g models.Group, acq scraper.Acquirer, sink metrics.Sink,
	mapper pipeline.Mapper[R], newRecord func() R) pipeline.Route {
	o := orchestrator.New[R](pipeline.Binding[R]{
		Gateway:  gateway(a, newRecord),
		Acquirer: acq,
		Mapper:   mapper,
	}, orchestrator.Options{
		Group:   g,
		TTL:     a.Config.Freshness.TTL(g),
		Logger:  a.Log,
		Metrics: sink,
	})
	return pipeline.RouteOf(o)
}

// Close shuts down browsers and connections and flushes the logger.
func (a *App) Close() error {
	var errs []error
	for _, e := range a.engines {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", e.Name(), err))
		}
	}
	a.engines = nil
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		a.db = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
		a.redis = nil
	}
	_ = a.Log.Sync()
	return errors.Join(errs...)
}
