// Package orchestrator implements the cache-aware acquisition template
// shared by every instrument pipeline: serve a fresh stored record, or
// scrape, map and persist a new one.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/seenimoa/b3fetch/internal/logger"
	"github.com/seenimoa/b3fetch/internal/metrics"
	"github.com/seenimoa/b3fetch/pkg/models"
)

var (
	// ErrInvalidTicker is returned for input that is not a B3 ticker.
	ErrInvalidTicker = errors.New("invalid ticker")
	// ErrNoRawAudit is returned when no raw payload was persisted.
	ErrNoRawAudit = errors.New("no raw audit payload")
)

// Capabilities are the pipeline-specific steps plugged into the template.
type Capabilities[R models.Record] interface {
	FetchCached(ctx context.Context, t models.TickerSymbol) (R, bool, error)
	Scrape(ctx context.Context, t models.TickerSymbol, it models.InstrumentType) (*models.RawAcquisitionResult, error)
	MapToDomain(raw *models.RawAcquisitionResult) (R, error)
	Persist(ctx context.Context, rec R, raw *models.RawAcquisitionResult) (R, error)
	FindRawAudit(ctx context.Context, t models.TickerSymbol) (*models.RawAcquisitionResult, bool, error)
}

// Options configures an Orchestrator.
type Options struct {
	Group   models.Group
	TTL     time.Duration // zero means every read acquires
	Now     func() time.Time
	Logger  logger.Logger
	Metrics metrics.Sink
}

// Orchestrator runs the acquisition template for one pipeline.
type Orchestrator[R models.Record] struct {
	caps    Capabilities[R]
	group   models.Group
	ttl     time.Duration
	now     func() time.Time
	log     logger.Logger
	metrics metrics.Sink
	flight  singleflight.Group
}

// New returns an Orchestrator over caps.
func New[R models.Record](caps Capabilities[R], opts Options) *Orchestrator[R] {
	o := &Orchestrator[R]{
		caps:    caps,
		group:   opts.Group,
		ttl:     opts.TTL,
		now:     opts.Now,
		log:     opts.Logger,
		metrics: metrics.OrNop(opts.Metrics),
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.log == nil {
		o.log = logger.NewNop()
	}
	o.log = o.log.With(logger.Component("orchestrator"), logger.String("group", string(o.group)))
	return o
}

// TTL returns the freshness window.
func (o *Orchestrator[R]) TTL() time.Duration { return o.ttl }

// Fresh reports whether a record updated at updated is still servable.
func (o *Orchestrator[R]) Fresh(updated time.Time) bool {
	if updated.IsZero() {
		return false
	}
	return o.now().Sub(updated) < o.ttl
}

// GetOrAcquire returns the stored record for t when it is fresh and
// otherwise acquires, persists and returns a new one. Scrape failures are
// returned unchanged and nothing is persisted. Concurrent calls for the
// same ticker share one acquisition and receive the same record, which
// callers must not mutate.
func (o *Orchestrator[R]) GetOrAcquire(ctx context.Context, t models.TickerSymbol, it models.InstrumentType) (R, error) {
	var zero R
	t = models.ParseTicker(t.String())
	if !t.Valid() {
		return zero, fmt.Errorf("%w: %q", ErrInvalidTicker, t)
	}
	start := o.now()

	rec, ok, err := o.caps.FetchCached(ctx, t)
	if err != nil {
		return zero, fmt.Errorf("read cached %s: %w", t, err)
	}
	if ok && o.Fresh(rec.Base().LastUpdated) {
		o.metrics.FreshnessChecked(o.group, true)
		o.log.Debug("serving cached record", logger.Ticker(t), logger.Time("last_updated", rec.Base().LastUpdated))
		return rec, nil
	}
	o.metrics.FreshnessChecked(o.group, false)

	v, err, shared := o.flight.Do(t.String(), func() (any, error) {
		return o.acquire(ctx, t, it, start)
	})
	if err != nil {
		return zero, err
	}
	if shared {
		o.log.Debug("joined in-flight acquisition", logger.Ticker(t))
	}
	return v.(R), nil
}

func (o *Orchestrator[R]) acquire(ctx context.Context, t models.TickerSymbol, it models.InstrumentType, start time.Time) (R, error) {
	var zero R
	raw, err := o.caps.Scrape(ctx, t, it)
	if err != nil {
		return zero, err
	}

	rec, err := o.caps.MapToDomain(raw)
	if err != nil {
		return zero, fmt.Errorf("map %s: %w", t, err)
	}
	b := rec.Base()
	b.Ticker = t
	if b.Type == "" {
		b.Type = it
	}
	b.LastUpdated = raw.CapturedAt
	if b.LastUpdated.Before(start) {
		b.LastUpdated = start
	}

	saved, err := o.caps.Persist(ctx, rec, raw)
	if err != nil {
		return zero, fmt.Errorf("persist %s: %w", t, err)
	}
	o.log.Info("record acquired",
		logger.Ticker(t),
		logger.String("engine", raw.Engine),
		logger.Duration("elapsed", o.now().Sub(start)))
	return saved, nil
}

// RawAudit returns the raw payload persisted with the last acquisition of
// t. It never scrapes.
func (o *Orchestrator[R]) RawAudit(ctx context.Context, t models.TickerSymbol) (*models.RawAcquisitionResult, error) {
	t = models.ParseTicker(t.String())
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTicker, t)
	}
	raw, ok, err := o.caps.FindRawAudit(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("read raw audit %s: %w", t, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNoRawAudit, t)
	}
	return raw, nil
}

// Replay maps the persisted raw payload of t again without scraping or
// persisting. It is used to check mapper changes against stored captures.
func (o *Orchestrator[R]) Replay(ctx context.Context, t models.TickerSymbol) (R, error) {
	var zero R
	raw, err := o.RawAudit(ctx, t)
	if err != nil {
		return zero, err
	}
	rec, err := o.caps.MapToDomain(raw)
	if err != nil {
		return zero, fmt.Errorf("map %s: %w", raw.Ticker, err)
	}
	b := rec.Base()
	b.Ticker = raw.Ticker
	if b.Type == "" {
		b.Type = raw.Instrument
	}
	b.LastUpdated = raw.CapturedAt
	return rec, nil
}
