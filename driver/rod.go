package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
	"github.com/ysmood/gson"
)

// Browser owns a Chromium instance and a pool of tabs. It is a Source and is
// safe for concurrent use.
type Browser struct {
	browser  *rod.Browser
	pagePool rod.Pool[rod.Page]
	cfg      config.BrowserConfig
	active   atomic.Int32

	mu     sync.Mutex
	health map[*rod.Page]*health

	// launched is false when we attached to someone else's browser.
	launched bool
	closer   closeOnce
}

// Launch starts a browser, or connects to cfg.ControlURL when set.
func Launch(cfg config.BrowserConfig) (*Browser, error) {
	controlURL := cfg.ControlURL
	launched := false

	if controlURL == "" {
		l := launcher.New().
			Headless(cfg.Headless).
			NoSandbox(cfg.NoSandbox)

		if cfg.BrowserBin != "" {
			l = l.Bin(cfg.BrowserBin)
		}
		if cfg.Proxy != "" {
			l = l.Proxy(cfg.Proxy)
		}

		// Test pages rely on timers and popups behaving as in the foreground.
		l.Set(flags.Flag("disable-background-timer-throttling"))
		l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
		l.Set(flags.Flag("disable-renderer-backgrounding"))
		l.Set(flags.Flag("disable-popup-blocking"))
		l.Set(flags.Flag("disable-prompt-on-repost"))
		l.Set(flags.Flag("disable-default-apps"))
		l.Set(flags.Flag("disable-dev-shm-usage"))
		l.Set(flags.Flag("disable-extensions"))
		l.Set(flags.Flag("no-first-run"))

		u, err := l.Launch()
		if err != nil {
			return nil, models.NewHarvestError(
				models.ErrCodeBrowserCrash,
				"failed to launch browser",
				err,
			)
		}
		controlURL = u
		launched = true
		slog.Info("browser launched", "controlURL", controlURL)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewHarvestError(
			models.ErrCodeBrowserCrash,
			"failed to connect to browser",
			err,
		)
	}

	limit := cfg.MaxSessions
	if limit <= 0 {
		limit = 1
	}
	slog.Info("session pool created", "maxSessions", limit)

	return &Browser{
		browser:  browser,
		pagePool: rod.NewPagePool(limit),
		health:   make(map[*rod.Page]*health),
		cfg:      cfg,
		launched: launched,
	}, nil
}

// Acquire borrows a tab from the pool, opening one when the slot it takes
// is empty. It gives up when ctx is done first.
func (b *Browser) Acquire(ctx context.Context) (Session, error) {
	var page *rod.Page
	select {
	case page = <-b.pagePool:
	case <-ctx.Done():
		return nil, models.NewHarvestError(
			models.ErrCodeTimeout,
			"no session available",
			ctx.Err(),
		)
	}

	if page == nil {
		p, err := b.newPage()
		if err != nil {
			// The slot stays free for the next caller.
			b.pagePool.Put(nil)
			return nil, models.NewHarvestError(
				models.ErrCodeBrowserCrash,
				"failed to acquire page from pool",
				err,
			)
		}
		page = p
	}
	b.active.Add(1)

	b.mu.Lock()
	h, ok := b.health[page]
	if !ok {
		h = newHealth(time.Now())
		b.health[page] = h
	}
	b.mu.Unlock()

	return &RodSession{page: page, health: h}, nil
}

// newPage opens a tab. It is not bound to any request context because
// the tab outlives the request that opened it.
func (b *Browser) newPage() (*rod.Page, error) {
	p, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}
	if b.cfg.Stealth {
		if _, err := p.EvalOnNewDocument(stealth.JS); err != nil {
			slog.Warn("stealth injection failed, proceeding without stealth",
				"error", err,
			)
		}
	}
	return p, nil
}

// Release resets the tab to about:blank and returns it to the pool. Tabs
// that failed too often, ran too many tests or grew too old are closed, and
// the pool opens a fresh one on the next Acquire.
func (b *Browser) Release(s Session, runErr error) {
	rs, ok := s.(*RodSession)
	if !ok {
		return
	}
	b.active.Add(-1)

	rs.health.record(runErr)
	if rs.health.shouldRetire(time.Now()) {
		slog.Debug("retiring tab", "lastError", runErr)
		b.mu.Lock()
		delete(b.health, rs.page)
		b.mu.Unlock()
		if err := rs.page.Close(); err != nil {
			slog.Warn("failed to close retired tab", "error", err)
		}
		b.pagePool.Put(nil)
		return
	}

	// Uses the page without any request context so cleanup still works
	// after the run's deadline.
	if err := rs.page.Navigate("about:blank"); err != nil {
		slog.Warn("cleanup: failed to navigate to about:blank", "error", err)
	}
	b.pagePool.Put(rs.page)
}

func (b *Browser) Stats() (limit, active int) {
	return cap(b.pagePool), int(b.active.Load())
}

// Close drains the pool. A launched browser is killed; an attached one is
// only disconnected.
func (b *Browser) Close() error {
	return b.closer.do(func() error {
		b.pagePool.Cleanup(func(p *rod.Page) {
			if p != nil {
				_ = p.Close()
			}
		})
		if !b.launched {
			return nil
		}
		slog.Info("closing browser")
		return b.browser.Close()
	})
}

// RodSession is a Session backed by a single browser tab.
type RodSession struct {
	page   *rod.Page
	health *health
}

// NewRodSession wraps an existing rod page.
func NewRodSession(page *rod.Page) *RodSession {
	return &RodSession{page: page, health: newHealth(time.Now())}
}

func (s *RodSession) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

func (s *RodSession) ExecuteScript(ctx context.Context, body string, args ...any) (gson.JSON, error) {
	res, err := s.page.Context(ctx).Eval(syncFunction(body), args...)
	if err != nil {
		return gson.JSON{}, err
	}
	return res.Value, nil
}

func (s *RodSession) ExecuteAsyncScript(ctx context.Context, body string, args ...any) (gson.JSON, error) {
	res, err := s.page.Context(ctx).Eval(asyncFunction(body), args...)
	if err != nil {
		return gson.JSON{}, err
	}
	return res.Value, nil
}

// Screenshot captures the viewport as PNG.
func (s *RodSession) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (s *RodSession) Close() error {
	return s.page.Close()
}

// syncFunction turns a script body into a function expression for Eval.
func syncFunction(body string) string {
	return "function() {\n" + body + "\n}"
}

// asyncFunction turns an async script body into a function returning a
// promise; the promise's resolve is passed as the last argument.
func asyncFunction(body string) string {
	return `function() {
	var args = Array.prototype.slice.call(arguments);
	var self = this;
	return new Promise(function(resolve) {
		args.push(resolve);
		(function() {
` + body + `
		}).apply(self, args);
	});
}`
}
