// Package lookup resolves B3 tickers to the issuer names published by
// Yahoo Finance. The classification engine uses the names to tell funds,
// ETFs and units apart from ordinary shares.
package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/seenimoa/b3fetch/internal/logger"
	"github.com/seenimoa/b3fetch/pkg/models"
	"github.com/seenimoa/b3fetch/pkg/utils"
)

const (
	DefaultBaseURL   = "https://query1.finance.yahoo.com"
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36"
)

// ErrSymbolNotFound is returned when Yahoo has no quote for the ticker.
var ErrSymbolNotFound = errors.New("symbol not found")

// HTTPError wraps a non-2xx response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// QuoteNames are the issuer names attached to a quote.
type QuoteNames struct {
	Symbol    string `json:"symbol"`
	ShortName string `json:"short_name"`
	LongName  string `json:"long_name"`
	QuoteType string `json:"quote_type,omitempty"` // EQUITY, ETF, MUTUALFUND...
}

// Empty reports whether no name was returned.
func (n QuoteNames) Empty() bool { return n.ShortName == "" && n.LongName == "" }

// Yahoo queries the v7 quote endpoint.
type Yahoo struct {
	http    *resty.Client
	limiter *rate.Limiter
	log     logger.Logger
}

// Option configures a Yahoo client.
type Option func(*Yahoo)

// WithBaseURL points the client at another host (tests, proxies).
func WithBaseURL(url string) Option {
	return func(y *Yahoo) { y.http.SetBaseURL(url) }
}

// WithRateLimit sets the request rate. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(y *Yahoo) {
		if rps <= 0 {
			y.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst <= 0 {
			burst = 1
		}
		y.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(y *Yahoo) { y.http.SetTimeout(d) }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(y *Yahoo) { y.log = l }
}

// NewYahoo returns a client with 2 req/s and a 5s timeout unless overridden.
func NewYahoo(opts ...Option) *Yahoo {
	client := resty.New().
		SetBaseURL(DefaultBaseURL).
		SetTimeout(5*time.Second).
		SetHeader("User-Agent", DefaultUserAgent).
		SetHeader("Accept", "application/json")

	y := &Yahoo{
		http:    client,
		limiter: rate.NewLimiter(rate.Limit(2), 2),
		log:     logger.NewNop(),
	}
	for _, opt := range opts {
		opt(y)
	}
	y.log = y.log.With(logger.Component("lookup"))
	return y
}

type quoteResponse struct {
	QuoteResponse struct {
		Result []quoteResult `json:"result"`
		Error  *apiError     `json:"error"`
	} `json:"quoteResponse"`
}

type quoteResult struct {
	Symbol    string `json:"symbol"`
	ShortName string `json:"shortName"`
	LongName  string `json:"longName"`
	QuoteType string `json:"quoteType"`
}

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Query returns the issuer names for ticker.
func (y *Yahoo) Query(ctx context.Context, ticker models.TickerSymbol) (QuoteNames, error) {
	symbol := utils.ToYahooTicker(ticker.String())

	if err := y.limiter.Wait(ctx); err != nil {
		return QuoteNames{}, err
	}

	resp, err := y.http.R().
		SetContext(ctx).
		SetQueryParam("symbols", symbol).
		Get("/v7/finance/quote")
	if err != nil {
		return QuoteNames{}, fmt.Errorf("yahoo quote %s: %w", symbol, err)
	}
	if resp.StatusCode() >= 400 {
		body := resp.String()
		if len(body) > 1024 {
			body = body[:1024]
		}
		return QuoteNames{}, fmt.Errorf("yahoo quote %s: %w", symbol, &HTTPError{
			StatusCode: resp.StatusCode(),
			Status:     resp.Status(),
			Body:       body,
		})
	}

	var qr quoteResponse
	if err := json.Unmarshal(resp.Body(), &qr); err != nil {
		return QuoteNames{}, fmt.Errorf("parse yahoo quote: %w", err)
	}
	if qr.QuoteResponse.Error != nil {
		return QuoteNames{}, fmt.Errorf("yahoo API error: %s", qr.QuoteResponse.Error.Description)
	}
	if len(qr.QuoteResponse.Result) == 0 {
		return QuoteNames{}, fmt.Errorf("%w: %s", ErrSymbolNotFound, ticker)
	}

	r := qr.QuoteResponse.Result[0]
	names := QuoteNames{
		Symbol:    utils.FromYahooTicker(r.Symbol),
		ShortName: r.ShortName,
		LongName:  r.LongName,
		QuoteType: r.QuoteType,
	}
	y.log.Debug("quote names resolved",
		logger.Ticker(ticker),
		logger.String("short_name", names.ShortName),
		logger.String("long_name", names.LongName))
	return names, nil
}
