package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/b3fetch/pkg/models"
)

// hop-by-hop and transport headers that must not be replayed.
var droppedHeaders = map[string]bool{
	"content-length":  true,
	"host":            true,
	"accept-encoding": true,
	"connection":      true,
}

// Fetcher re-issues captured data calls outside the browser to obtain
// their bodies.
type Fetcher struct {
	client  *resty.Client
	timeout time.Duration
}

// NewFetcher returns a Fetcher with a per-request timeout. A nil client
// gets a resty default.
func NewFetcher(client *resty.Client, timeout time.Duration) *Fetcher {
	if client == nil {
		client = resty.New()
	}
	return &Fetcher{client: client, timeout: timeout}
}

// FetchAll retrieves every channel of p concurrently. Unobserved channels
// get an empty payload without any I/O. A failed optional fetch yields an
// empty payload carrying the error; a failed required fetch fails the
// whole call with a CaptureIncompleteError.
func (f *Fetcher) FetchAll(ctx context.Context, ticker models.TickerSymbol, p Profile, c *Capture) (map[models.Channel]models.Payload, error) {
	channels := p.Channels()
	results := make([]models.Payload, len(channels))

	g, gctx := errgroup.WithContext(ctx)
	for i, ch := range channels {
		ex, ok := c.Get(ch)
		if !ok {
			if p.IsRequired(ch) {
				return nil, &CaptureIncompleteError{
					Ticker:   ticker,
					Captured: c.Len(),
					Expected: len(p.RequiredChannels),
					Missing:  c.Missing(p.RequiredChannels),
				}
			}
			results[i] = models.Payload{Channel: ch, Empty: true}
			continue
		}

		g.Go(func() error {
			payload, err := f.fetch(gctx, ex)
			if err == nil {
				results[i] = payload
				return nil
			}
			if p.IsRequired(ch) {
				return &CaptureIncompleteError{
					Ticker:   ticker,
					Captured: c.Len(),
					Expected: len(p.RequiredChannels),
					Missing:  []models.Channel{ch},
				}
			}
			results[i] = models.Payload{Channel: ch, URL: ex.URL, Status: payload.Status, Empty: true, Error: err.Error()}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[models.Channel]models.Payload, len(results))
	for _, r := range results {
		out[r.Channel] = r
	}
	return out, nil
}

func (f *Fetcher) fetch(ctx context.Context, ex models.CapturedExchange) (models.Payload, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	headers := make(map[string]string, len(ex.Headers))
	for k, v := range ex.Headers {
		if !droppedHeaders[strings.ToLower(k)] {
			headers[k] = v
		}
	}
	method := ex.Method
	if method == "" {
		method = http.MethodGet
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetHeaders(headers).
		Execute(method, ex.URL)
	if err != nil {
		return models.Payload{}, fmt.Errorf("fetch %s: %w", ex.Channel, err)
	}
	if resp.StatusCode() >= 400 {
		return models.Payload{Status: resp.StatusCode()}, fmt.Errorf("fetch %s: status %s", ex.Channel, resp.Status())
	}

	body := resp.Body()
	raw := json.RawMessage(body)
	if !json.Valid(body) {
		// Keep non-JSON bodies auditable as a JSON string.
		raw, _ = json.Marshal(string(body))
	}
	return models.Payload{
		Channel: ex.Channel,
		URL:     ex.URL,
		Status:  resp.StatusCode(),
		Body:    raw,
	}, nil
}
