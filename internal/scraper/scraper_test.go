package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/b3fetch/internal/browser"
	"github.com/seenimoa/b3fetch/internal/browser/browsertest"
	"github.com/seenimoa/b3fetch/internal/config"
	"github.com/seenimoa/b3fetch/internal/metrics"
	"github.com/seenimoa/b3fetch/pkg/models"
)

const stockHTML = `<html><head><title>PETR4 - Petrobras</title></head><body>
<main>
  <h1 title="PETR4 - PETROBRAS">PETR4 - PETROBRAS</h1>
  <div class="top-info">
    <div title="Valor atual do ativo"><strong class="value">38,45</strong></div>
    <span title="Variação do valor do ativo com base no dia anterior"><b>-1,27%</b></span>
    <div title="Dividend Yield com base nos últimos 12 meses"><strong class="value">12,30%</strong></div>
  </div>
  <div id="indicators-section">
    <div data-indicator="pl"><strong class="value">4,21</strong></div>
    <div data-indicator="roe"><strong class="value">28,5%</strong></div>
  </div>
</main></body></html>`

type fixture struct {
	engine  *browsertest.Engine
	server  *httptest.Server
	counter *metrics.Counters
	scraper *Scraper
	pageURL string
}

func newFixture(t *testing.T, handler http.HandlerFunc) *fixture {
	t.Helper()
	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			switch r.URL.Path {
			case "/acao/tickerprice":
				_, _ = w.Write([]byte(`[{"prices":[{"price":38.45,"date":"14/10/26 00:00"}]}]`))
			case "/acao/companytickerprovents":
				_, _ = w.Write([]byte(`{"assetEarningsModels":[]}`))
			default:
				http.NotFound(w, r)
			}
		}
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	matcher, err := NewMatcher(config.Default().Scraping.Channels)
	require.NoError(t, err)

	fake := browsertest.New("fake")
	counters := metrics.NewCounters()
	s := New(fake, matcher, NewFetcher(nil, time.Second), Options{
		BaseURL:  "https://statusinvest.example",
		Identity: browser.DefaultIdentity(),
		Budgets: Budgets{
			Attempt:      2 * time.Second,
			Navigation:   500 * time.Millisecond,
			Selector:     100 * time.Millisecond,
			CaptureGrace: 150 * time.Millisecond,
		},
		Metrics: counters,
	})
	return &fixture{
		engine:  fake,
		server:  srv,
		counter: counters,
		scraper: s,
		pageURL: StockProfile().URL("https://statusinvest.example", "PETR4"),
	}
}

func (f *fixture) requests(paths ...string) []browser.Request {
	out := make([]browser.Request, 0, len(paths))
	for _, p := range paths {
		out = append(out, browser.Request{
			URL:     f.server.URL + p,
			Method:  http.MethodGet,
			Headers: map[string]string{"X-Requested-With": "XMLHttpRequest", "Content-Length": "0"},
		})
	}
	return out
}

func TestScraperAcquireSuccess(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.SetPages(f.pageURL, browsertest.Page{
		HTML: stockHTML,
		Requests: f.requests(
			"/acao/tickerprice?ticker=PETR4&type=4",
			"/acao/companytickerprovents?ticker=PETR4",
			"/static/app.js",
		),
	})

	raw, err := f.scraper.Acquire(context.Background(), "PETR4", models.StockPN)
	require.NoError(t, err)

	assert.Equal(t, models.TickerSymbol("PETR4"), raw.Ticker)
	assert.Equal(t, models.StockPN, raw.Instrument)
	assert.Equal(t, "fake", raw.Engine)
	assert.Equal(t, f.pageURL, raw.SourceURL)
	assert.Equal(t, "PETR4 - PETROBRAS", raw.Field(FieldName))
	assert.Equal(t, "38,45", raw.Field(FieldPrice))
	assert.Equal(t, "4,21", raw.Field(FieldPE))

	quotes := raw.Payload(models.ChannelQuotes)
	assert.False(t, quotes.Empty)
	assert.Equal(t, http.StatusOK, quotes.Status)
	assert.JSONEq(t, `[{"prices":[{"price":38.45,"date":"14/10/26 00:00"}]}]`, string(quotes.Body))
	assert.False(t, raw.Payload(models.ChannelDividends).Empty)

	// Every profile channel is present; unobserved ones are explicitly empty.
	for _, ch := range StockProfile().Channels() {
		_, ok := raw.Payloads[ch]
		assert.True(t, ok, "channel %s", ch)
	}
	assert.True(t, raw.Payloads[models.ChannelCashFlow].Empty)

	assert.Equal(t, 1, f.engine.Opened())
	assert.Equal(t, 1, f.engine.Closed())
	assert.Equal(t, int64(1), f.counter.Get("acquire.equity.fake.success"))
}

func TestScraperLateRequiredChannelWithinGrace(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.SetPages(f.pageURL, browsertest.Page{
		HTML:      stockHTML,
		Late:      f.requests("/acao/tickerprice?ticker=PETR4"),
		LateDelay: 30 * time.Millisecond,
	})

	raw, err := f.scraper.Acquire(context.Background(), "PETR4", models.StockPN)
	require.NoError(t, err)
	assert.False(t, raw.Payload(models.ChannelQuotes).Empty)
}

func TestScraperFailures(t *testing.T) {
	tests := []struct {
		name string
		page browsertest.Page
		kind Kind
	}{
		{
			name: "anti-bot challenge",
			page: browsertest.Page{HTML: `<html><head><title>Just a moment...</title></head><body><div id="cf-challenge"></div></body></html>`},
			kind: KindAntiBot,
		},
		{
			name: "ticker not found",
			page: browsertest.Page{HTML: `<html><body><div class="top-info"></div><h2>Ops. Não encontramos o que você está procurando</h2></body></html>`},
			kind: KindNotFound,
		},
		{
			name: "layout changed",
			page: browsertest.Page{HTML: `<html><body><div class="new-layout">38,45</div></body></html>`},
			kind: KindStructuralMismatch,
		},
		{
			name: "required channel never observed",
			page: browsertest.Page{HTML: stockHTML},
			kind: KindCaptureIncomplete,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.engine.SetPages(f.pageURL, tt.page)

			_, err := f.scraper.Acquire(context.Background(), "PETR4", models.StockPN)
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
			assert.Equal(t, f.engine.Opened(), f.engine.Closed(), "session must be closed")
			assert.Equal(t, int64(1), f.counter.Get(metrics.Key("acquire", "equity", "fake", string(tt.kind))))
		})
	}
}

func TestScraperSparsePageIsNotStructuralMismatch(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.SetPages(f.pageURL, browsertest.Page{
		HTML: `<html><body><div class="top-info">
  <div title="Valor atual do ativo"><strong class="value">38,45</strong></div>
</div></body></html>`,
		Requests: f.requests("/acao/tickerprice?ticker=PETR4&type=4"),
	})

	raw, err := f.scraper.Acquire(context.Background(), "PETR4", models.StockPN)
	require.NoError(t, err)
	assert.Equal(t, "38,45", raw.Field(FieldPrice))
	assert.Empty(t, raw.Field(FieldPE), "indicators section is absent")
}

func TestScraperNoDataContainerIsStructuralMismatch(t *testing.T) {
	f := newFixture(t, nil)
	p := StockProfile()
	p.ReadyMarkers = []string{"main"}
	s := New(f.engine, f.scraper.matcher, f.scraper.fetcher, Options{
		BaseURL:  "https://statusinvest.example",
		Identity: browser.DefaultIdentity(),
		Budgets:  f.scraper.budgets,
		Profiles: map[models.Group]Profile{models.GroupEquity: p},
	})
	f.engine.SetPages(f.pageURL, browsertest.Page{
		HTML:     `<html><body><main><section class="redesign">38,45</section></main></body></html>`,
		Requests: f.requests("/acao/tickerprice?ticker=PETR4&type=4"),
	})

	_, err := s.Acquire(context.Background(), "PETR4", models.StockPN)
	require.Error(t, err)
	assert.Equal(t, KindStructuralMismatch, KindOf(err))

	var sm *StructuralMismatchError
	require.True(t, errors.As(err, &sm))
	assert.Equal(t, "div.top-info | #indicators-section", sm.ExpectedElement)
}

func TestScraperCaptureIncompleteListsMissing(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.SetPages(f.pageURL, browsertest.Page{HTML: stockHTML})

	_, err := f.scraper.Acquire(context.Background(), "PETR4", models.StockPN)
	var ci *CaptureIncompleteError
	require.True(t, errors.As(err, &ci))
	assert.Equal(t, []models.Channel{models.ChannelQuotes}, ci.Missing)
	assert.Equal(t, 1, ci.Expected)
	assert.Equal(t, 0, ci.Captured)
	assert.True(t, IsRetryable(err))
}

func TestScraperRequiredFetchFailure(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	f.engine.SetPages(f.pageURL, browsertest.Page{
		HTML:     stockHTML,
		Requests: f.requests("/acao/tickerprice?ticker=PETR4"),
	})

	_, err := f.scraper.Acquire(context.Background(), "PETR4", models.StockPN)
	assert.Equal(t, KindCaptureIncomplete, KindOf(err))
}

func TestScraperOptionalFetchFailure(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/acao/tickerprice" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})
	f.engine.SetPages(f.pageURL, browsertest.Page{
		HTML: stockHTML,
		Requests: f.requests(
			"/acao/tickerprice?ticker=PETR4",
			"/acao/companytickerprovents?ticker=PETR4",
		),
	})

	raw, err := f.scraper.Acquire(context.Background(), "PETR4", models.StockPN)
	require.NoError(t, err)
	div := raw.Payload(models.ChannelDividends)
	assert.True(t, div.Empty)
	assert.Equal(t, http.StatusServiceUnavailable, div.Status)
	assert.Contains(t, div.Error, "503")
}

func TestScraperAttemptDeadlineBecomesTimeout(t *testing.T) {
	f := newFixture(t, nil)
	f.scraper.budgets.Attempt = 80 * time.Millisecond
	f.scraper.budgets.Navigation = time.Second
	f.engine.SetPages(f.pageURL, browsertest.Page{HTML: stockHTML, Delay: time.Second})

	_, err := f.scraper.Acquire(context.Background(), "PETR4", models.StockPN)
	var te *TimeoutError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, StateNavigate, te.Operation)
	assert.Equal(t, 80*time.Millisecond, te.Budget)
	assert.Equal(t, 1, f.engine.Closed())
}

func TestScraperNavigationTimeoutIsTolerated(t *testing.T) {
	f := newFixture(t, nil)
	f.scraper.budgets.Navigation = 20 * time.Millisecond
	f.engine.SetPages(f.pageURL, browsertest.Page{HTML: stockHTML, Delay: time.Second})

	// The partial DOM is still read and validated; the attempt then fails
	// for lack of captured calls rather than as a timeout.
	_, err := f.scraper.Acquire(context.Background(), "PETR4", models.StockPN)
	assert.Equal(t, KindCaptureIncomplete, KindOf(err))
}

func TestScraperCallerCancellation(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.scraper.Acquire(ctx, "PETR4", models.StockPN)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Kind(""), KindOf(err))
}

func TestScraperUnsupportedInstrument(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.scraper.Acquire(context.Background(), "XXXX1", models.Unknown)
	assert.ErrorIs(t, err, ErrNoProfile)
	assert.Equal(t, 0, f.engine.Opened())
}

func TestMatcherRejectsUnknownChannel(t *testing.T) {
	_, err := NewMatcher(map[string]string{"quotez": ".*"})
	assert.Error(t, err)
}

func TestMatcherFirstMatchWins(t *testing.T) {
	m, err := NewMatcher(config.Default().Scraping.Channels)
	require.NoError(t, err)

	ch, ok := m.Match("https://statusinvest.com.br/acao/tickerprice?ticker=PETR4")
	require.True(t, ok)
	assert.Equal(t, models.ChannelQuotes, ch)

	ch, ok = m.Match("https://statusinvest.com.br/fii/provents?ticker=MXRF11")
	require.True(t, ok)
	assert.Equal(t, models.ChannelDividends, ch)

	_, ok = m.Match("https://statusinvest.com.br/img/logo.png")
	assert.False(t, ok)
}

func TestCaptureKeepsFirstExchange(t *testing.T) {
	m, err := NewMatcher(config.Default().Scraping.Channels)
	require.NoError(t, err)
	c := NewCapture(m)

	c.Observe(browser.Request{URL: "https://x/acao/tickerprice?ticker=PETR4&type=1", Method: "GET"})
	c.Observe(browser.Request{URL: "https://x/acao/tickerprice?ticker=PETR4&type=2", Method: "POST"})

	ex, ok := c.Get(models.ChannelQuotes)
	require.True(t, ok)
	assert.Equal(t, "GET", ex.Method)
	assert.Contains(t, ex.URL, "type=1")
	assert.Equal(t, 1, c.Len())
}
