package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/seenimoa/b3fetch/internal/logger"
)

// Chromedp drives Chrome over the DevTools protocol with chromedp. The
// browser process is started on the first session and shared afterwards;
// every session gets its own browser context.
type Chromedp struct {
	opts Options
	log  logger.Logger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	closed        bool
}

// NewChromedp returns an engine that is started lazily.
func NewChromedp(opts Options, log logger.Logger) *Chromedp {
	if log == nil {
		log = logger.NewNop()
	}
	return &Chromedp{opts: opts, log: log.With(logger.Component("chromedp"))}
}

func (c *Chromedp) Name() string { return "chromedp" }

func (c *Chromedp) start() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.browserCtx != nil {
		return c.browserCtx, nil
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if c.opts.Width > 0 && c.opts.Height > 0 {
		allocOpts = append(allocOpts, chromedp.WindowSize(c.opts.Width, c.opts.Height))
	}
	if c.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(c.opts.ExecPath))
	}
	if c.opts.NoSandbox {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	// The first Run launches the process; it must not carry a deadline or
	// the browser dies with it.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp: starting browser: %w", err)
	}

	c.allocCancel = allocCancel
	c.browserCtx = browserCtx
	c.browserCancel = browserCancel
	c.log.Info("browser started", logger.Bool("headless", c.opts.Headless))
	return browserCtx, nil
}

// NewSession opens a new browser context with one tab and applies id.
func (c *Chromedp) NewSession(ctx context.Context, id Identity) (Session, error) {
	browserCtx, err := c.start()
	if err != nil {
		return nil, err
	}

	tabCtx, cancel := chromedp.NewContext(browserCtx, chromedp.WithNewBrowserContext())
	s := &chromedpSession{ctx: tabCtx, cancel: cancel}
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("chromedp: opening tab: %w", err)
	}

	chromedp.ListenTarget(tabCtx, func(ev any) {
		e, ok := ev.(*network.EventRequestWillBeSent)
		if !ok || e.Request == nil {
			return
		}
		headers := make(map[string]string, len(e.Request.Headers))
		for k, v := range e.Request.Headers {
			headers[k] = fmt.Sprint(v)
		}
		s.emit(Request{
			URL:          e.Request.URL,
			Method:       e.Request.Method,
			Headers:      headers,
			ResourceType: string(e.Type),
		})
	})

	setup := []chromedp.Action{
		network.Enable(),
		emulation.SetUserAgentOverride(id.UserAgent).WithAcceptLanguage(id.AcceptLanguage),
	}
	if id.Timezone != "" {
		setup = append(setup, emulation.SetTimezoneOverride(id.Timezone))
	}
	if id.Locale != "" {
		setup = append(setup, emulation.SetLocaleOverride().WithLocale(id.Locale))
	}
	if id.Width > 0 && id.Height > 0 {
		setup = append(setup, emulation.SetDeviceMetricsOverride(int64(id.Width), int64(id.Height), 1, false))
	}
	if err := s.run(ctx, setup...); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("chromedp: applying identity: %w", err)
	}
	return s, nil
}

// Close terminates the browser process.
func (c *Chromedp) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.browserCancel == nil {
		return nil
	}
	err := chromedp.Cancel(c.browserCtx)
	c.browserCancel()
	c.allocCancel()
	c.log.Info("browser stopped")
	return err
}

type chromedpSession struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu sync.Mutex
	ls listeners

	once sync.Once
	err  error
}

func (s *chromedpSession) OnRequest(fn func(Request)) {
	s.mu.Lock()
	s.ls.fns = append(s.ls.fns, fn)
	s.mu.Unlock()
}

func (s *chromedpSession) emit(r Request) {
	s.mu.Lock()
	ls := s.ls
	s.mu.Unlock()
	ls.emit(r)
}

// run executes actions on the tab, bounded by the caller's ctx.
func (s *chromedpSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	if dl, ok := ctx.Deadline(); ok {
		var cancelDL context.CancelFunc
		runCtx, cancelDL = context.WithDeadline(runCtx, dl)
		defer cancelDL()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *chromedpSession) Navigate(ctx context.Context, url string) error {
	err := s.run(ctx, chromedp.Navigate(url))
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrNavigationIncomplete, url)
	}
	return err
}

func (s *chromedpSession) WaitReady(ctx context.Context, selector string) error {
	return s.run(ctx, chromedp.WaitReady(selector, chromedp.ByQuery))
}

func (s *chromedpSession) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// Close disposes the tab and its browser context.
func (s *chromedpSession) Close() error {
	s.once.Do(func() {
		s.err = chromedp.Cancel(s.ctx)
		s.cancel()
	})
	return s.err
}
