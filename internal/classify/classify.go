// Package classify determines the instrument type of a B3 ticker.
//
// Most tickers are settled by their numeric suffix alone. The ambiguous
// suffix 11 (funds, ETFs and units) is resolved by looking up the issuer
// name remotely; those remote results are cached without expiry.
package classify

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/seenimoa/b3fetch/internal/logger"
	"github.com/seenimoa/b3fetch/internal/lookup"
	"github.com/seenimoa/b3fetch/internal/metrics"
	"github.com/seenimoa/b3fetch/pkg/models"
)

// Confidence levels attached to results.
const (
	ConfidenceCertain   = 1.0
	ConfidenceRemote    = 0.9
	ConfidenceCandidate = 0.5
)

// Lookup resolves issuer names for a ticker.
type Lookup interface {
	Query(ctx context.Context, ticker models.TickerSymbol) (lookup.QuoteNames, error)
}

// Options configures an Engine.
type Options struct {
	LookupTimeout time.Duration
	Patterns      []Pattern // nil means DefaultPatterns()
	Logger        logger.Logger
	Metrics       metrics.Sink
	Now           func() time.Time
}

// Engine classifies tickers. It is safe for concurrent use.
type Engine struct {
	lookup   Lookup
	cache    Cache
	timeout  time.Duration
	patterns []Pattern
	log      logger.Logger
	metrics  metrics.Sink
	now      func() time.Time
	group    singleflight.Group
}

// NewEngine returns an Engine. A nil cache disables caching.
func NewEngine(l Lookup, cache Cache, opts Options) *Engine {
	e := &Engine{
		lookup:   l,
		cache:    cache,
		timeout:  opts.LookupTimeout,
		patterns: opts.Patterns,
		log:      opts.Logger,
		metrics:  metrics.OrNop(opts.Metrics),
		now:      opts.Now,
	}
	if e.patterns == nil {
		e.patterns = DefaultPatterns()
	}
	if e.log == nil {
		e.log = logger.NewNop()
	}
	e.log = e.log.With(logger.Component("classify"))
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Classify returns the instrument type of raw. It never fails: lookup and
// cache errors degrade to the heuristic candidate.
func (e *Engine) Classify(ctx context.Context, raw string) models.ClassificationResult {
	r := e.classify(ctx, models.ParseTicker(raw))
	e.metrics.ClassificationRecorded(r.Method, r.Type)
	return r
}

func (e *Engine) classify(ctx context.Context, t models.TickerSymbol) models.ClassificationResult {
	candidate, certain := Guess(t)
	if candidate == models.Unknown {
		return e.result(t, models.Unknown, models.MethodHeuristic, 0)
	}
	if certain {
		return e.result(t, candidate, models.MethodHeuristic, ConfidenceCertain)
	}

	if e.cache != nil {
		cached, ok, err := e.cache.Get(ctx, t)
		if err != nil {
			e.log.Warn("classification cache read failed", logger.Ticker(t), logger.Error(err))
		} else if ok {
			cached.Method = models.MethodCached
			return cached
		}
	}

	if e.lookup == nil {
		return e.result(t, candidate, models.MethodHeuristic, ConfidenceCandidate)
	}

	v, err, _ := e.group.Do(t.String(), func() (any, error) {
		// A concurrent caller may have populated the cache meanwhile.
		if e.cache != nil {
			if cached, ok, err := e.cache.Get(ctx, t); err == nil && ok {
				cached.Method = models.MethodCached
				return cached, nil
			}
		}
		return e.resolve(ctx, t)
	})
	if err != nil {
		e.metrics.LookupFailed()
		e.log.Warn("remote lookup failed, using heuristic candidate",
			logger.Ticker(t),
			logger.String("candidate", candidate.String()),
			logger.Error(err))
		return e.result(t, candidate, models.MethodHeuristic, ConfidenceCandidate)
	}
	return v.(models.ClassificationResult)
}

// resolve queries the remote lookup and caches a successful answer.
func (e *Engine) resolve(ctx context.Context, t models.TickerSymbol) (models.ClassificationResult, error) {
	lctx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	names, err := e.lookup.Query(lctx, t)
	if err != nil {
		return models.ClassificationResult{}, err
	}
	if names.Empty() {
		return models.ClassificationResult{}, lookup.ErrSymbolNotFound
	}

	r := e.result(t, Match(e.patterns, names), models.MethodRemote, ConfidenceRemote)
	if e.cache != nil {
		if err := e.cache.Set(ctx, r); err != nil {
			e.log.Warn("classification cache write failed", logger.Ticker(t), logger.Error(err))
		}
	}
	e.log.Debug("classified remotely",
		logger.Ticker(t),
		logger.String("type", r.Type.String()),
		logger.String("name", names.LongName))
	return r, nil
}

// ClearCache evicts every cached classification.
func (e *Engine) ClearCache(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	if err := e.cache.Clear(ctx); err != nil {
		return err
	}
	e.log.Info("classification cache cleared")
	return nil
}

func (e *Engine) result(t models.TickerSymbol, it models.InstrumentType, m models.ClassificationMethod, conf float64) models.ClassificationResult {
	return models.ClassificationResult{
		Ticker:       t,
		Type:         it,
		Method:       m,
		Confidence:   conf,
		ClassifiedAt: e.now(),
	}
}
