// Package worker wraps isolated browser contexts into feed-scan and detail-fetch workers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-job-indexer/internal/crawler"
	"github.com/JakeFAU/realtime-job-indexer/internal/metrics"
)

// ErrPurposeMismatch is returned when a capability is invoked on a worker built for the other purpose.
var ErrPurposeMismatch = errors.New("capability not available for worker purpose")

// Config controls worker behavior.
type Config struct {
	Viewport   crawler.Viewport
	UserAgent  string
	Query      crawler.SearchQuery
	MaxPages   int
	MaxRecords int
}

// Deps are the collaborators every worker shares.
type Deps struct {
	Extractor crawler.Extractor
	Limiter   crawler.Limiter
	Hasher    crawler.Hasher
	Clock     crawler.Clock
	Logger    *zap.Logger
}

// State is the lifecycle position of a worker.
type State string

// Worker states.
const (
	StateReady   State = "ready"
	StateStopped State = "stopped"
)

// Descriptor is the synchronous first phase of worker construction. It holds
// everything needed to open the worker but owns no browser resources yet.
type Descriptor struct {
	ID      int64
	Purpose crawler.Purpose

	engine crawler.BrowserEngine
	cfg    Config
	deps   Deps
}

// Identity is the stable, human readable name of the worker.
func (d Descriptor) Identity() string {
	return fmt.Sprintf("%s-%d", d.Purpose, d.ID)
}

// Open creates the browsing context and page and returns a ready worker.
// If the page cannot be created the context is closed before returning.
func (d Descriptor) Open(ctx context.Context) (*Worker, error) {
	if d.engine == nil {
		return nil, fmt.Errorf("open worker %s: browser engine is required", d.Identity())
	}
	bctx, err := d.engine.NewContext(ctx, crawler.ContextOptions{
		Viewport:  d.cfg.Viewport,
		UserAgent: d.cfg.UserAgent,
		Identity:  d.Identity(),
	})
	if err != nil {
		return nil, fmt.Errorf("open worker %s: new context: %w", d.Identity(), err)
	}
	page, err := bctx.NewPage(ctx)
	if err != nil {
		if cerr := bctx.Close(ctx); cerr != nil {
			err = fmt.Errorf("%w (close context: %v)", err, cerr)
		}
		return nil, fmt.Errorf("open worker %s: new page: %w", d.Identity(), err)
	}

	logger := d.deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{
		desc:     d,
		bctx:     bctx,
		page:     page,
		logger:   logger.With(zap.Int64("worker_id", d.ID), zap.String("purpose", string(d.Purpose))),
		openedAt: now(d.deps.Clock),
	}
	w.logger.Debug("worker ready")
	metrics.WorkerOpened(string(d.Purpose))
	return w, nil
}

// Worker owns one browsing context exclusively.
type Worker struct {
	desc     Descriptor
	bctx     crawler.BrowserContext
	page     crawler.Page
	logger   *zap.Logger
	openedAt time.Time

	stopped  atomic.Bool
	scanned  atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

// ID returns the pool-issued identity.
func (w *Worker) ID() int64 { return w.desc.ID }

// Purpose returns what the worker was built for.
func (w *Worker) Purpose() crawler.Purpose { return w.desc.Purpose }

// State reports whether the worker is still usable.
func (w *Worker) State() State {
	if w.stopped.Load() {
		return StateStopped
	}
	return StateReady
}

// Stop releases the browsing context. Calling it again returns the first result.
func (w *Worker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() {
		w.stopped.Store(true)
		if err := w.bctx.Close(ctx); err != nil {
			w.stopErr = fmt.Errorf("stop worker %s: %w", w.desc.Identity(), err)
		}
		metrics.WorkerStopped(string(w.desc.Purpose))
		w.logger.Debug("worker stopped")
	})
	return w.stopErr
}

// ScanFeed walks the paginated feed and yields one record at a time. The
// sequence ends when the feed has no next page or a configured ceiling is hit.
// A navigation or parse failure is yielded as an error and ends the sequence.
func (w *Worker) ScanFeed(ctx context.Context) iter.Seq2[crawler.JobRecord, error] {
	return func(yield func(crawler.JobRecord, error) bool) {
		if err := w.usable(crawler.PurposeFeedScan); err != nil {
			yield(crawler.JobRecord{}, err)
			return
		}
		if !w.scanned.CompareAndSwap(false, true) {
			yield(crawler.JobRecord{}, crawler.ErrFeedConsumed)
			return
		}

		cfg := w.desc.cfg
		next := w.desc.deps.Extractor.FeedURL(cfg.Query)
		visited := make(map[string]struct{})
		pages, emitted := 0, 0
		for next != "" {
			if cfg.MaxPages > 0 && pages >= cfg.MaxPages {
				w.logger.Info("feed page ceiling reached", zap.Int("pages", pages))
				return
			}
			if _, seen := visited[next]; seen {
				w.logger.Warn("feed pagination loops back", zap.String("url", next))
				return
			}
			visited[next] = struct{}{}

			content, err := w.load(ctx, next)
			if err != nil {
				yield(crawler.JobRecord{}, fmt.Errorf("scan feed page %d: %w", pages+1, err))
				return
			}
			pages++
			records, err := w.desc.deps.Extractor.ScanFeedPage(content)
			if err != nil {
				yield(crawler.JobRecord{}, fmt.Errorf("parse feed page %d: %w", pages, err))
				return
			}
			w.logger.Debug("feed page scanned", zap.Int("page", pages), zap.Int("records", len(records)))
			for _, rec := range records {
				if cfg.MaxRecords > 0 && emitted >= cfg.MaxRecords {
					w.logger.Info("feed record ceiling reached", zap.Int("records", emitted))
					return
				}
				if !yield(rec, nil) {
					return
				}
				emitted++
			}

			url, ok := w.desc.deps.Extractor.NextPage(content)
			if !ok {
				return
			}
			next = url
		}
	}
}

// FetchDetails navigates to the record's detail page and returns the enriched
// record. Ordinary scraping failures return (record, false, nil); only resource
// failures such as a stopped worker or a canceled context return an error.
func (w *Worker) FetchDetails(ctx context.Context, record crawler.JobRecord) (crawler.JobRecord, bool, error) {
	if err := w.usable(crawler.PurposeDetailFetch); err != nil {
		return record, false, err
	}
	logger := w.logger.With(zap.String("reference", record.Reference))
	if record.Summary.DetailURL == "" {
		logger.Warn("record has no detail locator")
		return record, false, nil
	}

	content, err := w.load(ctx, record.Summary.DetailURL)
	if err != nil {
		if rerr := w.resourceError(ctx); rerr != nil {
			return record, false, fmt.Errorf("fetch details %s: %w", record.Reference, rerr)
		}
		logger.Warn("detail page navigation failed", zap.Error(err))
		return record, false, nil
	}

	details, err := w.desc.deps.Extractor.ExtractDetails(content)
	if err != nil {
		logger.Warn("detail extraction failed", zap.Error(err))
		return record, false, nil
	}
	details.FetchedAt = now(w.desc.deps.Clock)
	if w.desc.deps.Hasher != nil {
		if hash, herr := w.desc.deps.Hasher.Hash([]byte(content)); herr == nil {
			details.ContentHash = hash
		}
	}

	enriched, err := record.Enrich(details)
	if err != nil {
		return record, false, fmt.Errorf("fetch details: %w", err)
	}
	return enriched, true, nil
}

// Capture is a debug snapshot of the worker's page.
type Capture struct {
	HTML       string
	Screenshot []byte
}

// Capture grabs the current page content and, when the engine supports it, a screenshot.
func (w *Worker) Capture(ctx context.Context) (Capture, error) {
	if w.stopped.Load() {
		return Capture{}, crawler.ErrWorkerStopped
	}
	html, err := w.page.Content(ctx)
	if err != nil {
		return Capture{}, fmt.Errorf("capture content: %w", err)
	}
	shot, err := w.page.Screenshot(ctx)
	if err != nil && !errors.Is(err, crawler.ErrScreenshotUnsupported) {
		return Capture{HTML: html}, fmt.Errorf("capture screenshot: %w", err)
	}
	return Capture{HTML: html, Screenshot: shot}, nil
}

func (w *Worker) usable(purpose crawler.Purpose) error {
	if w.stopped.Load() {
		return fmt.Errorf("worker %s: %w", w.desc.Identity(), crawler.ErrWorkerStopped)
	}
	if w.desc.Purpose != purpose {
		return fmt.Errorf("worker %s cannot %s: %w", w.desc.Identity(), purpose, ErrPurposeMismatch)
	}
	return nil
}

func (w *Worker) resourceError(ctx context.Context) error {
	if w.stopped.Load() {
		return crawler.ErrWorkerStopped
	}
	return ctx.Err()
}

func (w *Worker) load(ctx context.Context, url string) (string, error) {
	if w.desc.deps.Limiter != nil {
		if err := w.desc.deps.Limiter.Wait(ctx, url); err != nil {
			return "", err
		}
	}
	start := time.Now()
	if err := w.page.Navigate(ctx, url); err != nil {
		metrics.ObserveNavigation(string(w.desc.Purpose), "error", time.Since(start))
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}
	content, err := w.page.Content(ctx)
	if err != nil {
		metrics.ObserveNavigation(string(w.desc.Purpose), "error", time.Since(start))
		return "", fmt.Errorf("read content %s: %w", url, err)
	}
	metrics.ObserveNavigation(string(w.desc.Purpose), "ok", time.Since(start))
	return content, nil
}

func now(clock crawler.Clock) time.Time {
	if clock == nil {
		return time.Now().UTC()
	}
	return clock.Now()
}
