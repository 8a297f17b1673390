package scraper

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/seenimoa/b3fetch/internal/browser"
	"github.com/seenimoa/b3fetch/pkg/models"
)

// Matcher maps request URLs to logical channels.
type Matcher struct {
	order    []models.Channel
	patterns map[models.Channel]*regexp.Regexp
}

// NewMatcher compiles channel → pattern. Unknown channel names are
// rejected so that a typo in the config does not silently disable capture.
func NewMatcher(patterns map[string]string) (*Matcher, error) {
	m := &Matcher{patterns: make(map[models.Channel]*regexp.Regexp, len(patterns))}
	known := make(map[models.Channel]bool, len(models.AllChannels))
	for _, ch := range models.AllChannels {
		known[ch] = true
	}
	for name, expr := range patterns {
		ch := models.Channel(name)
		if !known[ch] {
			return nil, fmt.Errorf("unknown channel %q", name)
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", name, err)
		}
		m.patterns[ch] = re
	}
	for _, ch := range models.AllChannels {
		if _, ok := m.patterns[ch]; ok {
			m.order = append(m.order, ch)
		}
	}
	return m, nil
}

// Match returns the first channel whose pattern matches url.
func (m *Matcher) Match(url string) (models.Channel, bool) {
	for _, ch := range m.order {
		if m.patterns[ch].MatchString(url) {
			return ch, true
		}
	}
	return "", false
}

// Capture records the first request seen per channel during one attempt.
type Capture struct {
	matcher *Matcher
	now     func() time.Time

	mu      sync.Mutex
	seen    map[models.Channel]models.CapturedExchange
	changed chan struct{}
}

// NewCapture starts an empty capture.
func NewCapture(m *Matcher) *Capture {
	return &Capture{
		matcher: m,
		now:     time.Now,
		seen:    make(map[models.Channel]models.CapturedExchange),
		changed: make(chan struct{}),
	}
}

// Observe is registered as the session's request listener.
func (c *Capture) Observe(r browser.Request) {
	ch, ok := c.matcher.Match(r.URL)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.seen[ch]; dup {
		return
	}
	c.seen[ch] = models.CapturedExchange{
		Channel: ch,
		URL:     r.URL,
		Method:  r.Method,
		Headers: r.Headers,
		SeenAt:  c.now(),
	}
	close(c.changed)
	c.changed = make(chan struct{})
}

// Get returns the exchange captured for ch.
func (c *Capture) Get(ch models.Channel) (models.CapturedExchange, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ex, ok := c.seen[ch]
	return ex, ok
}

// Len returns the number of distinct channels captured.
func (c *Capture) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Missing returns the channels in want that were not captured.
func (c *Capture) Missing(want []models.Channel) []models.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Channel
	for _, ch := range want {
		if _, ok := c.seen[ch]; !ok {
			out = append(out, ch)
		}
	}
	return out
}

// WaitFor blocks until every channel in want is captured or ctx is done.
// It returns the channels still missing.
func (c *Capture) WaitFor(ctx context.Context, want []models.Channel) []models.Channel {
	for {
		c.mu.Lock()
		changed := c.changed
		c.mu.Unlock()

		missing := c.Missing(want)
		if len(missing) == 0 {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return c.Missing(want)
		}
	}
}
