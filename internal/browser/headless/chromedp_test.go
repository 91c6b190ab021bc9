package headless

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"

	"github.com/JakeFAU/realtime-job-indexer/internal/crawler"
)

func TestStartHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewDriver(Config{}).Start(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled error, got %v", err)
	}
}

func TestLaunchAfterStopFails(t *testing.T) {
	t.Parallel()

	rt, err := NewDriver(Config{}).Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := rt.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := rt.Launch(context.Background(), crawler.LaunchOptions{Headless: true}); err == nil {
		t.Fatal("expected launch on a stopped runtime to fail")
	}
}

func TestClosedEngineRefusesContexts(t *testing.T) {
	t.Parallel()

	e := &engine{browserCtx: context.Background(), cancel: func() {}, closed: true}
	if _, err := e.NewContext(context.Background(), crawler.ContextOptions{Identity: "x"}); !errors.Is(err, crawler.ErrEngineClosed) {
		t.Fatalf("expected ErrEngineClosed, got %v", err)
	}
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}

func TestNegativeSettleIsClamped(t *testing.T) {
	t.Parallel()

	if d := NewDriver(Config{Settle: -1}); d.cfg.Settle != 0 {
		t.Fatalf("expected settle 0, got %v", d.cfg.Settle)
	}
}

func chromePath(t *testing.T) string {
	t.Helper()
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("chrome not installed")
	return ""
}

func TestChromeRoundTrip(t *testing.T) {
	path := chromePath(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><h1 id="ua"></h1><script>document.getElementById("ua").textContent = navigator.userAgent</script></body></html>`))
	}))
	defer srv.Close()

	ctx := context.Background()
	rt, err := NewDriver(Config{ExecPath: path, NoSandbox: true}).Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = rt.Stop(ctx) }()
	eng, err := rt.Launch(ctx, crawler.LaunchOptions{Headless: true})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	defer func() { _ = eng.Close(ctx) }()

	bc, err := eng.NewContext(ctx, crawler.ContextOptions{
		Viewport:  crawler.Viewport{Width: 1920, Height: 1080},
		UserAgent: "job-indexer-test",
		Identity:  "detail-fetch-1",
	})
	if err != nil {
		t.Fatalf("new context: %v", err)
	}
	defer func() { _ = bc.Close(ctx) }()
	page, err := bc.NewPage(ctx)
	if err != nil {
		t.Fatalf("new page: %v", err)
	}
	if err := page.Navigate(ctx, srv.URL); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	html, err := page.Content(ctx)
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	if !strings.Contains(html, "job-indexer-test") {
		t.Fatalf("expected user agent override in page, got %s", html)
	}
	shot, err := page.Screenshot(ctx)
	if err != nil || len(shot) == 0 {
		t.Fatalf("screenshot: %v (%d bytes)", err, len(shot))
	}
}
