// Package headless drives a real Chrome through chromedp. Each browser context
// is an isolated Chrome browser context with its own cookies and storage.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/realtime-job-indexer/internal/crawler"
)

// Config controls how Chrome is launched. ExecPath overrides Chrome discovery;
// Settle is how long to wait after the body is ready, for late scripts.
type Config struct {
	ExecPath  string
	Settle    time.Duration
	NoSandbox bool
}

// Driver starts the chromedp runtime.
type Driver struct {
	cfg Config
}

// NewDriver returns a Driver.
func NewDriver(cfg Config) *Driver {
	if cfg.Settle < 0 {
		cfg.Settle = 0
	}
	return &Driver{cfg: cfg}
}

// Start implements crawler.Driver.
func (d *Driver) Start(ctx context.Context) (crawler.Runtime, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("start chromedp runtime: %w", err)
	}
	return &runtime{cfg: d.cfg}, nil
}

type runtime struct {
	cfg Config

	mu      sync.Mutex
	cancels []context.CancelFunc
	stopped bool
}

func (r *runtime) allocatorOptions(opts crawler.LaunchOptions) []chromedp.ExecAllocatorOption {
	flags := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if opts.Headless {
		flags = append(flags, chromedp.Flag("headless", "new"))
	} else {
		flags = append(flags, chromedp.Flag("headless", false))
	}
	flags = append(flags,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if opts.UserAgent != "" {
		flags = append(flags, chromedp.UserAgent(opts.UserAgent))
	}
	if r.cfg.ExecPath != "" {
		flags = append(flags, chromedp.ExecPath(r.cfg.ExecPath))
	}
	if r.cfg.NoSandbox {
		flags = append(flags, chromedp.NoSandbox)
	}
	return flags
}

// Launch starts a Chrome process and connects to it.
func (r *runtime) Launch(ctx context.Context, opts crawler.LaunchOptions) (crawler.BrowserEngine, error) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil, errors.New("chromedp runtime stopped")
	}
	r.mu.Unlock()

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), r.allocatorOptions(opts)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	// The first Run starts the process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	r.mu.Lock()
	r.cancels = append(r.cancels, allocCancel)
	r.mu.Unlock()
	return &engine{browserCtx: browserCtx, cancel: browserCancel, settle: r.cfg.Settle}, nil
}

// Stop kills every Chrome process this runtime launched.
func (r *runtime) Stop(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	for _, cancel := range r.cancels {
		cancel()
	}
	r.cancels = nil
	return nil
}

type engine struct {
	browserCtx context.Context
	cancel     context.CancelFunc
	settle     time.Duration

	mu     sync.Mutex
	closed bool
}

// NewContext opens an isolated browser context with its own viewport and user agent.
func (e *engine) NewContext(ctx context.Context, opts crawler.ContextOptions) (crawler.BrowserContext, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, crawler.ErrEngineClosed
	}

	tabCtx, cancel := chromedp.NewContext(e.browserCtx, chromedp.WithNewBrowserContext())
	setup := []chromedp.Action{network.Enable()}
	if opts.Viewport.Width > 0 && opts.Viewport.Height > 0 {
		setup = append(setup, emulation.SetDeviceMetricsOverride(int64(opts.Viewport.Width), int64(opts.Viewport.Height), 1, false))
	}
	if opts.UserAgent != "" {
		setup = append(setup, emulation.SetUserAgentOverride(opts.UserAgent))
	}
	if err := ctx.Err(); err != nil {
		cancel()
		return nil, fmt.Errorf("open browser context %s: %w", opts.Identity, err)
	}
	// The first Run must use the context returned by NewContext: it creates the target.
	if err := chromedp.Run(tabCtx, setup...); err != nil {
		cancel()
		return nil, fmt.Errorf("open browser context %s: %w", opts.Identity, err)
	}
	return &browserContext{tabCtx: tabCtx, cancel: cancel, settle: e.settle}, nil
}

// Close shuts the browser down gracefully.
func (e *engine) Close(context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	err := chromedp.Cancel(e.browserCtx)
	e.cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close chrome: %w", err)
	}
	return nil
}

type browserContext struct {
	tabCtx context.Context
	cancel context.CancelFunc
	settle time.Duration

	once sync.Once
}

// NewPage returns the context's tab. A context owns exactly one page.
func (c *browserContext) NewPage(context.Context) (crawler.Page, error) {
	if err := c.tabCtx.Err(); err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	return &page{tabCtx: c.tabCtx, settle: c.settle}, nil
}

// Close disposes the browser context and its tab.
func (c *browserContext) Close(context.Context) error {
	var err error
	c.once.Do(func() {
		err = chromedp.Cancel(c.tabCtx)
		c.cancel()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close browser context: %w", err)
	}
	return nil
}

type page struct {
	tabCtx context.Context
	settle time.Duration
}

func (p *page) Navigate(ctx context.Context, url string) error {
	actions := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if p.settle > 0 {
		actions = append(actions, chromedp.Sleep(p.settle))
	}
	if err := run(ctx, p.tabCtx, actions...); err != nil {
		return fmt.Errorf("chromedp navigate: %w", err)
	}
	return nil
}

func (p *page) Content(ctx context.Context) (string, error) {
	var html string
	if err := run(ctx, p.tabCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("chromedp content: %w", err)
	}
	return html, nil
}

func (p *page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := run(ctx, p.tabCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("chromedp screenshot: %w", err)
	}
	return buf, nil
}

// run executes actions on the tab but aborts them when ctx ends, without
// closing the tab itself.
func run(ctx context.Context, tabCtx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithCancel(tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(opCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}
