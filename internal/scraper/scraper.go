// Package scraper acquires raw instrument data by driving a browser
// session against the quote site, observing the page's own data calls and
// re-fetching their bodies.
//
// One call to Scraper.Acquire is one attempt:
//
//	init → session_open → navigate → await_markup (capture running) →
//	extract_html → validate → capture_wait → fetch → assemble
//
// The session is closed exactly once whatever the outcome. Resilient wraps
// attempts with retry, per-engine circuit breakers and engine fallback.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/seenimoa/b3fetch/internal/browser"
	"github.com/seenimoa/b3fetch/internal/logger"
	"github.com/seenimoa/b3fetch/internal/metrics"
	"github.com/seenimoa/b3fetch/pkg/models"
)

// ErrNoProfile is returned for instrument types without a site profile.
var ErrNoProfile = errors.New("no site profile for instrument")

// Attempt states, reported as TimeoutError.Operation.
const (
	StateInit        = "init"
	StateSessionOpen = "session_open"
	StateNavigate    = "navigate"
	StateAwaitMarkup = "await_markup"
	StateExtractHTML = "extract_html"
	StateValidate    = "validate"
	StateCaptureWait = "capture_wait"
	StateFetch       = "fetch"
	StateAssemble    = "assemble"
)

// Acquirer produces a raw acquisition for a classified ticker.
type Acquirer interface {
	Name() string
	Acquire(ctx context.Context, ticker models.TickerSymbol, it models.InstrumentType) (*models.RawAcquisitionResult, error)
}

// Budgets are the attempt deadline and the nested step budgets.
type Budgets struct {
	Attempt      time.Duration
	Navigation   time.Duration
	Selector     time.Duration
	CaptureGrace time.Duration
}

// Options configures a Scraper.
type Options struct {
	BaseURL  string
	Identity browser.Identity
	Budgets  Budgets
	Profiles map[models.Group]Profile // nil means DefaultProfiles()
	Logger   logger.Logger
	Metrics  metrics.Sink
	Now      func() time.Time
}

// Scraper runs single attempts on one browser engine.
type Scraper struct {
	engine  browser.Engine
	matcher *Matcher
	fetcher *Fetcher

	baseURL  string
	identity browser.Identity
	budgets  Budgets
	profiles map[models.Group]Profile
	log      logger.Logger
	metrics  metrics.Sink
	now      func() time.Time
}

// New returns a Scraper bound to engine.
func New(engine browser.Engine, matcher *Matcher, fetcher *Fetcher, opts Options) *Scraper {
	s := &Scraper{
		engine:   engine,
		matcher:  matcher,
		fetcher:  fetcher,
		baseURL:  opts.BaseURL,
		identity: opts.Identity,
		budgets:  opts.Budgets,
		profiles: opts.Profiles,
		log:      opts.Logger,
		metrics:  metrics.OrNop(opts.Metrics),
		now:      opts.Now,
	}
	if s.profiles == nil {
		s.profiles = DefaultProfiles()
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	s.log = s.log.With(logger.Component("scraper"), logger.String("engine", engine.Name()))
	if s.now == nil {
		s.now = time.Now
	}
	if s.fetcher == nil {
		s.fetcher = NewFetcher(nil, 0)
	}
	return s
}

func (s *Scraper) Name() string { return s.engine.Name() }

// Acquire runs one attempt for ticker.
func (s *Scraper) Acquire(ctx context.Context, ticker models.TickerSymbol, it models.InstrumentType) (*models.RawAcquisitionResult, error) {
	group := it.Group()
	profile, ok := s.profiles[group]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProfile, it)
	}

	started := time.Now()
	attemptCtx, cancel := context.WithTimeout(ctx, s.budgets.Attempt)
	defer cancel()

	st := &attemptState{name: StateInit}
	raw, err := s.attempt(attemptCtx, st, ticker, it, profile)
	err = s.translate(ctx, attemptCtx, err, ticker, st.name)

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = outcomeOf(err)
	}
	s.metrics.AcquisitionRecorded(metrics.Acquisition{
		Group:    group,
		Engine:   s.engine.Name(),
		Outcome:  outcome,
		Duration: time.Since(started),
		Captured: st.captured,
	})

	if err != nil {
		s.log.Warn("attempt failed",
			logger.Ticker(ticker),
			logger.String("state", st.name),
			logger.String("outcome", outcome),
			logger.Duration("elapsed", time.Since(started)),
			logger.Error(err))
		return nil, err
	}
	s.log.Info("attempt succeeded",
		logger.Ticker(ticker),
		logger.Int("channels", st.captured),
		logger.Duration("elapsed", time.Since(started)))
	return raw, nil
}

type attemptState struct {
	name     string
	captured int
}

func (s *Scraper) attempt(ctx context.Context, st *attemptState, ticker models.TickerSymbol, it models.InstrumentType, p Profile) (*models.RawAcquisitionResult, error) {
	st.name = StateSessionOpen
	sess, err := s.engine.NewSession(ctx, s.identity)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			s.log.Debug("session close failed", logger.Ticker(ticker), logger.Error(cerr))
		}
	}()

	capture := NewCapture(s.matcher)
	sess.OnRequest(capture.Observe)
	url := p.URL(s.baseURL, ticker)

	st.name = StateNavigate
	navCtx, navCancel := context.WithTimeout(ctx, s.budgets.Navigation)
	err = sess.Navigate(navCtx, url)
	navCancel()
	switch {
	case err == nil:
	case errors.Is(err, browser.ErrNavigationIncomplete):
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Debug("navigation incomplete, reading partial DOM", logger.Ticker(ticker))
	default:
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}

	st.name = StateAwaitMarkup
	ready := s.awaitMarkup(ctx, sess, p.ReadyMarkers)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	st.name = StateExtractHTML
	html, err := sess.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read html: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	st.name = StateValidate
	if err := s.validate(ticker, url, p, html, doc, ready); err != nil {
		return nil, err
	}
	fields := extractFields(doc, p.Fields)

	st.name = StateCaptureWait
	if len(p.RequiredChannels) > 0 {
		graceCtx, graceCancel := context.WithTimeout(ctx, s.budgets.CaptureGrace)
		missing := capture.WaitFor(graceCtx, p.RequiredChannels)
		graceCancel()
		st.captured = capture.Len()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if len(missing) > 0 {
			return nil, &CaptureIncompleteError{
				Ticker:   ticker,
				Captured: len(p.RequiredChannels) - len(missing),
				Expected: len(p.RequiredChannels),
				Missing:  missing,
			}
		}
	}

	st.name = StateFetch
	payloads, err := s.fetcher.FetchAll(ctx, ticker, p, capture)
	st.captured = capture.Len()
	if err != nil {
		return nil, err
	}

	st.name = StateAssemble
	return &models.RawAcquisitionResult{
		Ticker:     ticker,
		Instrument: it,
		Engine:     s.engine.Name(),
		SourceURL:  url,
		Fields:     fields,
		Payloads:   payloads,
		CapturedAt: s.now(),
	}, nil
}

// awaitMarkup waits for any ready marker, each bounded by the selector
// budget. It reports whether one appeared.
func (s *Scraper) awaitMarkup(ctx context.Context, sess browser.Session, markers []string) bool {
	if len(markers) == 0 {
		return true
	}
	wctx, cancel := context.WithTimeout(ctx, s.budgets.Selector)
	defer cancel()

	found := make(chan struct{}, len(markers))
	var wg sync.WaitGroup
	for _, sel := range markers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sess.WaitReady(wctx, sel) == nil {
				found <- struct{}{}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(found)
	}()

	_, ok := <-found
	return ok
}

func (s *Scraper) validate(ticker models.TickerSymbol, url string, p Profile, html string, doc *goquery.Document, ready bool) error {
	lower := strings.ToLower(html)
	for _, m := range p.AntiBotMarkers {
		if strings.Contains(lower, m) {
			return &AntiBotError{Ticker: ticker, Reason: m, Engine: s.engine.Name()}
		}
	}
	for _, m := range p.NotFoundMarkers {
		if strings.Contains(lower, m) {
			return &NotFoundError{Ticker: ticker, URL: url}
		}
	}
	if !ready {
		return &StructuralMismatchError{Ticker: ticker, URL: url, ExpectedElement: strings.Join(p.ReadyMarkers, " | ")}
	}
	if len(p.RequiredContainers) == 0 {
		return nil
	}
	for _, sel := range p.RequiredContainers {
		if doc.Find(sel).Length() > 0 {
			return nil
		}
	}
	return &StructuralMismatchError{Ticker: ticker, URL: url, ExpectedElement: strings.Join(p.RequiredContainers, " | ")}
}

// translate maps attempt errors onto the failure taxonomy. Caller
// cancellation wins over everything, then the attempt deadline.
func (s *Scraper) translate(ctx, attemptCtx context.Context, err error, ticker models.TickerSymbol, state string) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Ticker: ticker, Operation: state, Budget: s.budgets.Attempt}
	}
	return err
}

func extractFields(doc *goquery.Document, selectors map[string]string) map[string]string {
	out := make(map[string]string, len(selectors))
	for name, sel := range selectors {
		text := strings.Join(strings.Fields(doc.Find(sel).First().Text()), " ")
		if text != "" {
			out[name] = text
		}
	}
	return out
}

func outcomeOf(err error) string {
	if k := KindOf(err); k != "" {
		return string(k)
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "error"
}
