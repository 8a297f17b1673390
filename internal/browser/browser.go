// Package browser defines the browser automation contract the scraping
// engine drives, with chromedp and go-rod implementations and a bounded
// session pool over a shared browser process.
package browser

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by NewSession after the engine was shut down.
	ErrClosed = errors.New("browser: engine closed")
	// ErrNavigationIncomplete reports that the page never finished loading
	// within the navigation budget. The DOM may still be usable.
	ErrNavigationIncomplete = errors.New("browser: navigation incomplete")
)

// Identity is the client fingerprint applied to every session.
type Identity struct {
	UserAgent      string
	AcceptLanguage string
	Locale         string
	Timezone       string
	Width          int
	Height         int
}

// DefaultIdentity is a desktop Chrome on Windows browsing from Brazil.
func DefaultIdentity() Identity {
	return Identity{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
		AcceptLanguage: "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7",
		Locale:         "pt-BR",
		Timezone:       "America/Sao_Paulo",
		Width:          1366,
		Height:         768,
	}
}

// Request is an outgoing request observed in a live page.
type Request struct {
	URL          string
	Method       string
	Headers      map[string]string
	ResourceType string // Document, XHR, Fetch, Script, ...
}

// Engine owns a long-lived browser process and hands out isolated sessions.
type Engine interface {
	Name() string
	// NewSession opens an isolated browser context with one page.
	NewSession(ctx context.Context, id Identity) (Session, error)
	// Close shuts the browser process down. Open sessions become unusable.
	Close() error
}

// Session is one isolated browser context. It is used by a single scrape
// attempt and must be closed exactly once.
type Session interface {
	// OnRequest registers fn for every request the page sends from now on.
	// fn may be called from another goroutine.
	OnRequest(fn func(Request))
	// Navigate loads url. It returns ErrNavigationIncomplete (wrapped) when
	// ctx expires before the load event.
	Navigate(ctx context.Context, url string) error
	// WaitReady blocks until selector matches an element or ctx is done.
	WaitReady(ctx context.Context, selector string) error
	// HTML returns the current serialized document.
	HTML(ctx context.Context) (string, error)
	Close() error
}

// Options configures how an engine launches its browser.
type Options struct {
	ExecPath  string
	Headless  bool
	NoSandbox bool
	Width     int
	Height    int
}

// listeners is the fan-out used by both implementations.
type listeners struct {
	fns []func(Request)
}

func (l *listeners) emit(r Request) {
	for _, fn := range l.fns {
		fn(r)
	}
}
