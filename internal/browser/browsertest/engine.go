// Package browsertest provides a scripted browser.Engine for tests.
package browsertest

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/seenimoa/b3fetch/internal/browser"
)

// Page scripts what one navigation to a URL produces.
type Page struct {
	HTML        string
	Requests    []browser.Request // emitted during Navigate, in order
	Late        []browser.Request // emitted after Navigate returns, after LateDelay
	LateDelay   time.Duration
	NavigateErr error
	Delay       time.Duration // Navigate blocks this long (or until ctx is done)
}

// Engine serves scripted pages. When several pages are registered for a
// URL, the n-th navigation gets the n-th page and the last one repeats.
type Engine struct {
	name string

	mu          sync.Mutex
	pages       map[string][]Page
	navigations map[string]int
	sessionErr  error

	opened atomic.Int32
	closed atomic.Int32
	shut   atomic.Bool
}

// New returns an empty engine reporting name.
func New(name string) *Engine {
	return &Engine{
		name:        name,
		pages:       make(map[string][]Page),
		navigations: make(map[string]int),
	}
}

// SetPages scripts successive navigations to url.
func (e *Engine) SetPages(url string, pages ...Page) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pages[url] = pages
}

// FailSessions makes every subsequent NewSession return err.
func (e *Engine) FailSessions(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionErr = err
}

// Navigations returns how many times url was navigated to.
func (e *Engine) Navigations(url string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.navigations[url]
}

// Opened returns the number of sessions opened so far.
func (e *Engine) Opened() int { return int(e.opened.Load()) }

// Closed returns the number of sessions closed so far.
func (e *Engine) Closed() int { return int(e.closed.Load()) }

// ShutDown reports whether Close was called.
func (e *Engine) ShutDown() bool { return e.shut.Load() }

func (e *Engine) Name() string { return e.name }

func (e *Engine) NewSession(ctx context.Context, _ browser.Identity) (browser.Session, error) {
	if e.shut.Load() {
		return nil, browser.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	err := e.sessionErr
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	e.opened.Add(1)
	return &session{engine: e}, nil
}

func (e *Engine) Close() error {
	e.shut.Store(true)
	return nil
}

func (e *Engine) next(url string) Page {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.navigations[url]
	e.navigations[url] = n + 1
	pages := e.pages[url]
	if len(pages) == 0 {
		return Page{HTML: "<html><head></head><body></body></html>"}
	}
	if n >= len(pages) {
		n = len(pages) - 1
	}
	return pages[n]
}

type session struct {
	engine *Engine

	mu      sync.Mutex
	fns     []func(browser.Request)
	current Page
	closed  bool
}

func (s *session) OnRequest(fn func(browser.Request)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fns = append(s.fns, fn)
}

func (s *session) emit(r browser.Request) {
	s.mu.Lock()
	fns := append([]func(browser.Request){}, s.fns...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(r)
	}
}

func (s *session) Navigate(ctx context.Context, url string) error {
	p := s.engine.next(url)
	s.mu.Lock()
	s.current = p
	s.mu.Unlock()

	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return browser.ErrNavigationIncomplete
		}
	}
	for _, r := range p.Requests {
		s.emit(r)
	}
	if len(p.Late) > 0 {
		go func() {
			time.Sleep(p.LateDelay)
			for _, r := range p.Late {
				s.emit(r)
			}
		}()
	}
	return p.NavigateErr
}

func (s *session) WaitReady(ctx context.Context, selector string) error {
	s.mu.Lock()
	html := s.current.HTML
	s.mu.Unlock()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil && doc.Find(selector).Length() > 0 {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *session) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.HTML, nil
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.engine.closed.Add(1)
	return nil
}
