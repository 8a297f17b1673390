package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/seenimoa/b3fetch/internal/logger"
)

// Rod drives Chrome with go-rod. It is the secondary engine: a different
// protocol client over the same kind of browser, so a chromedp-specific
// failure mode does not take both down.
type Rod struct {
	opts Options
	log  logger.Logger

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	closed   bool
}

// NewRod returns an engine that is started lazily.
func NewRod(opts Options, log logger.Logger) *Rod {
	if log == nil {
		log = logger.NewNop()
	}
	return &Rod{opts: opts, log: log.With(logger.Component("rod"))}
}

func (r *Rod) Name() string { return "rod" }

func (r *Rod) start() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if r.browser != nil {
		return r.browser, nil
	}

	l := launcher.New().
		Headless(r.opts.Headless).
		NoSandbox(r.opts.NoSandbox).
		Set("disable-blink-features", "AutomationControlled")
	if r.opts.ExecPath != "" {
		l = l.Bin(r.opts.ExecPath)
	}
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("rod: launching browser: %w", err)
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("rod: connecting: %w", err)
	}

	r.launcher = l
	r.browser = b
	r.log.Info("browser started", logger.Bool("headless", r.opts.Headless))
	return b, nil
}

// NewSession opens an incognito context with one page and applies id.
func (r *Rod) NewSession(ctx context.Context, id Identity) (Session, error) {
	b, err := r.start()
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Not bound to ctx: Close must still work after the attempt deadline.
	incognito, err := b.Incognito()
	if err != nil {
		return nil, fmt.Errorf("rod: incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = incognito.Close()
		return nil, fmt.Errorf("rod: opening page: %w", err)
	}

	evCtx, cancel := context.WithCancel(context.Background())
	s := &rodSession{incognito: incognito, page: page, cancel: cancel}

	if err := s.applyIdentity(id); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("rod: applying identity: %w", err)
	}

	wait := page.Context(evCtx).EachEvent(func(e *proto.NetworkRequestWillBeSent) {
		if e.Request == nil {
			return
		}
		headers := make(map[string]string, len(e.Request.Headers))
		for k, v := range e.Request.Headers {
			headers[k] = v.Str()
		}
		s.emit(Request{
			URL:          e.Request.URL,
			Method:       e.Request.Method,
			Headers:      headers,
			ResourceType: string(e.Type),
		})
	})
	go wait()

	return s, nil
}

// Close terminates the browser and removes the launcher's profile dir.
func (r *Rod) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	r.launcher.Cleanup()
	r.log.Info("browser stopped")
	return err
}

type rodSession struct {
	incognito *rod.Browser
	page      *rod.Page
	cancel    context.CancelFunc

	mu sync.Mutex
	ls listeners

	once sync.Once
	err  error
}

func (s *rodSession) applyIdentity(id Identity) error {
	if err := (proto.NetworkEnable{}).Call(s.page); err != nil {
		return err
	}
	if err := s.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      id.UserAgent,
		AcceptLanguage: id.AcceptLanguage,
	}); err != nil {
		return err
	}
	if id.Timezone != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: id.Timezone}).Call(s.page); err != nil {
			return err
		}
	}
	if id.Locale != "" {
		if err := (proto.EmulationSetLocaleOverride{Locale: id.Locale}).Call(s.page); err != nil {
			return err
		}
	}
	if id.Width > 0 && id.Height > 0 {
		return s.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             id.Width,
			Height:            id.Height,
			DeviceScaleFactor: 1,
		})
	}
	return nil
}

func (s *rodSession) OnRequest(fn func(Request)) {
	s.mu.Lock()
	s.ls.fns = append(s.ls.fns, fn)
	s.mu.Unlock()
}

func (s *rodSession) emit(r Request) {
	s.mu.Lock()
	ls := s.ls
	s.mu.Unlock()
	ls.emit(r)
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx)
	err := p.Navigate(url)
	if err == nil {
		err = p.WaitLoad()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrNavigationIncomplete, url)
	}
	return err
}

func (s *rodSession) WaitReady(ctx context.Context, selector string) error {
	_, err := s.page.Context(ctx).Element(selector)
	return err
}

func (s *rodSession) HTML(ctx context.Context) (string, error) {
	return s.page.Context(ctx).HTML()
}

func (s *rodSession) Close() error {
	s.once.Do(func() {
		s.cancel()
		pageErr := s.page.Close()
		s.err = errors.Join(pageErr, s.incognito.Close())
	})
	return s.err
}
