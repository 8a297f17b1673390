package scraper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/seenimoa/b3fetch/internal/logger"
	"github.com/seenimoa/b3fetch/internal/metrics"
	"github.com/seenimoa/b3fetch/pkg/models"
)

// Policy holds the retry and circuit breaker settings.
type Policy struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64

	BreakerMinRequests  uint32
	BreakerFailureRatio float64
	BreakerInterval     time.Duration
	BreakerCooldown     time.Duration
	BreakerHalfOpenMax  uint32
}

// Resilient retries retryable failures on the primary engine, guards each
// engine with a circuit breaker per instrument group and falls back to the
// secondary engine once.
type Resilient struct {
	primary   Acquirer
	secondary Acquirer // may be nil
	policy    Policy
	log       logger.Logger
	metrics   metrics.Sink

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*models.RawAcquisitionResult]
}

// NewResilient wraps primary and an optional secondary.
func NewResilient(primary, secondary Acquirer, policy Policy, log logger.Logger, sink metrics.Sink) *Resilient {
	if log == nil {
		log = logger.NewNop()
	}
	return &Resilient{
		primary:   primary,
		secondary: secondary,
		policy:    policy,
		log:       log.With(logger.Component("resilience")),
		metrics:   metrics.OrNop(sink),
		breakers:  make(map[string]*gobreaker.CircuitBreaker[*models.RawAcquisitionResult]),
	}
}

func (r *Resilient) Name() string { return r.primary.Name() }

// Acquire runs the full policy. The returned error is the last engine's
// failure, except that a short-circuited secondary does not hide the
// primary's reason.
func (r *Resilient) Acquire(ctx context.Context, ticker models.TickerSymbol, it models.InstrumentType) (*models.RawAcquisitionResult, error) {
	raw, err := r.withRetry(ctx, r.primary, ticker, it)
	if err == nil {
		return raw, nil
	}
	if r.secondary == nil || ctx.Err() != nil || !ShouldFallback(err) {
		return nil, err
	}

	group := it.Group()
	r.metrics.FallbackInvoked(group, r.primary.Name(), r.secondary.Name())
	r.log.Warn("falling back to secondary engine",
		logger.Ticker(ticker),
		logger.String("from", r.primary.Name()),
		logger.String("to", r.secondary.Name()),
		logger.Error(err))

	raw, ferr := r.call(ctx, r.secondary, ticker, it)
	if ferr == nil {
		return raw, nil
	}
	if KindOf(ferr) == KindCircuitOpen && KindOf(err) != KindCircuitOpen {
		return nil, err
	}
	return nil, ferr
}

func (r *Resilient) withRetry(ctx context.Context, a Acquirer, ticker models.TickerSymbol, it models.InstrumentType) (*models.RawAcquisitionResult, error) {
	eb := backoff.NewExponentialBackOff()
	if r.policy.InitialBackoff > 0 {
		eb.InitialInterval = r.policy.InitialBackoff
	}
	if r.policy.MaxBackoff > 0 {
		eb.MaxInterval = r.policy.MaxBackoff
	}
	if r.policy.BackoffMultiplier > 0 {
		eb.Multiplier = r.policy.BackoffMultiplier
	}
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(max(r.policy.MaxRetries, 0))), ctx)

	op := func() (*models.RawAcquisitionResult, error) {
		raw, err := r.call(ctx, a, ticker, it)
		switch {
		case err == nil:
			return raw, nil
		case ctx.Err() != nil:
			return nil, backoff.Permanent(ctx.Err())
		case !IsRetryable(err):
			return nil, backoff.Permanent(err)
		default:
			return nil, err
		}
	}
	notify := func(err error, wait time.Duration) {
		r.log.Info("retrying attempt",
			logger.Ticker(ticker),
			logger.String("engine", a.Name()),
			logger.Duration("backoff", wait),
			logger.Error(err))
	}
	return backoff.RetryNotifyWithData(op, b, notify)
}

// call runs one attempt through the engine's breaker for the group.
func (r *Resilient) call(ctx context.Context, a Acquirer, ticker models.TickerSymbol, it models.InstrumentType) (*models.RawAcquisitionResult, error) {
	group := it.Group()
	cb := r.breaker(group, a.Name())
	raw, err := cb.Execute(func() (*models.RawAcquisitionResult, error) {
		return a.Acquire(ctx, ticker, it)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &CircuitOpenError{Group: group, Engine: a.Name()}
	}
	return raw, err
}

func breakerName(group models.Group, engine string) string {
	return string(group) + "/" + engine
}

func (r *Resilient) breaker(group models.Group, engine string) *gobreaker.CircuitBreaker[*models.RawAcquisitionResult] {
	name := breakerName(group, engine)
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	minReq, ratio := r.policy.BreakerMinRequests, r.policy.BreakerFailureRatio
	cb := gobreaker.NewCircuitBreaker[*models.RawAcquisitionResult](gobreaker.Settings{
		Name:        name,
		MaxRequests: r.policy.BreakerHalfOpenMax,
		Interval:    r.policy.BreakerInterval,
		Timeout:     r.policy.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < minReq || c.Requests == 0 {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= ratio
		},
		// The caller giving up says nothing about the engine; attempt
		// deadlines surface as TimeoutError and still count.
		IsSuccessful: func(err error) bool {
			return err == nil || KindOf(err) == KindNotFound ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.metrics.BreakerStateChanged(name, from.String(), to.String())
			r.log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	})
	r.breakers[name] = cb
	return cb
}

// BreakerStates reports the state of every breaker created so far.
func (r *Resilient) BreakerStates() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.State().String()
	}
	return out
}
