// Package static implements the browser interfaces over plain HTTP with colly.
// It renders no JavaScript; use it for boards that serve their listings as
// static HTML, or in environments without Chrome.
package static

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/realtime-job-indexer/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	RespectRobots bool
	Timeout       time.Duration

	// RejectScriptShells fails navigations whose response needs JavaScript to render.
	RejectScriptShells bool

	// Transport overrides the shared HTTP transport; tests point it at httptest servers.
	Transport http.RoundTripper
}

// Driver builds static engines.
type Driver struct {
	cfg Config
}

// NewDriver returns a Driver.
func NewDriver(cfg Config) *Driver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Driver{cfg: cfg}
}

// Start implements crawler.Driver.
func (d *Driver) Start(context.Context) (crawler.Runtime, error) {
	transport := d.cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	if d.cfg.RespectRobots {
		transport = newRobotsTransport(transport)
	}
	return &runtime{cfg: d.cfg, transport: transport}, nil
}

type runtime struct {
	cfg       Config
	transport http.RoundTripper
}

func (r *runtime) Launch(_ context.Context, opts crawler.LaunchOptions) (crawler.BrowserEngine, error) {
	return &Engine{cfg: r.cfg, transport: r.transport, userAgent: opts.UserAgent}, nil
}

// Stop releases idle connections held by the shared transport.
func (r *runtime) Stop(context.Context) error {
	if t, ok := r.transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
	return nil
}

// Engine hands out collectors that each own a cookie jar.
type Engine struct {
	cfg       Config
	transport http.RoundTripper
	userAgent string
	closed    atomic.Bool
}

// NewContext implements crawler.BrowserEngine.
func (e *Engine) NewContext(_ context.Context, opts crawler.ContextOptions) (crawler.BrowserContext, error) {
	if e.closed.Load() {
		return nil, crawler.ErrEngineClosed
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	// A fresh collector per context: clones share their HTTP client and so their jar.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(e.transport)
	c.SetCookieJar(jar)
	c.SetRequestTimeout(e.cfg.Timeout)
	c.IgnoreRobotsTxt = !e.cfg.RespectRobots
	if ua := firstNonEmpty(opts.UserAgent, e.userAgent); ua != "" {
		c.UserAgent = ua
	}
	return &browserContext{collector: c, engine: e}, nil
}

// Close implements crawler.BrowserEngine.
func (e *Engine) Close(context.Context) error {
	e.closed.Store(true)
	return nil
}

type browserContext struct {
	collector *colly.Collector
	engine    *Engine
	closed    atomic.Bool
}

func (c *browserContext) NewPage(context.Context) (crawler.Page, error) {
	if c.closed.Load() || c.engine.closed.Load() {
		return nil, errors.New("static context closed")
	}
	return &page{owner: c}, nil
}

func (c *browserContext) Close(context.Context) error {
	c.closed.Store(true)
	return nil
}

type page struct {
	owner *browserContext

	mu   sync.Mutex
	body string
}

// Navigate issues a GET and keeps the response body as the page content.
func (p *page) Navigate(ctx context.Context, url string) error {
	if p.owner.closed.Load() {
		return errors.New("static context closed")
	}
	collector := p.owner.collector.Clone()
	var (
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Request(http.MethodGet, url, nil, colly.NewContext(), nil)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("static navigate canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", fetchErr)
		}
	}

	if p.owner.engine.cfg.RejectScriptShells && scriptShell(body) {
		return fmt.Errorf("navigate %s: %w", url, ErrScriptShell)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.body = string(body)
	return nil
}

func (p *page) Content(context.Context) (string, error) {
	if p.owner.closed.Load() {
		return "", errors.New("static context closed")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.body, nil
}

func (p *page) Screenshot(context.Context) ([]byte, error) {
	return nil, crawler.ErrScreenshotUnsupported
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
