// Package indexer runs the scan, enrich and submit pipeline: one feed-scan
// producer fills a bounded queue that a fixed set of detail-fetch consumers
// drain into the index store.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-job-indexer/internal/crawler"
	"github.com/JakeFAU/realtime-job-indexer/internal/queue/memory"
	"github.com/JakeFAU/realtime-job-indexer/internal/worker"
)

var (
	// ErrNotStarted is returned by Run before a successful Start.
	ErrNotStarted = errors.New("indexer not started")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("indexer already started")
	// ErrAlreadyRan is returned by a second Run; an orchestrator is single-use.
	ErrAlreadyRan = errors.New("indexer already ran")
	// ErrStopped is returned by Start or Run after Stop.
	ErrStopped = errors.New("indexer stopped")
	// ErrConsumersExhausted is returned when every consumer exited while records were still queued.
	ErrConsumersExhausted = errors.New("all consumers exited before the queue drained")
)

// Config holds the run parameters.
type Config struct {
	Concurrency   int
	QueueCapacity int
	Headless      bool
	UserAgent     string
	Viewport      crawler.Viewport
	Query         crawler.SearchQuery
	MaxPages      int
	MaxRecords    int
	CatalogKey    string
	NotifyTopic   string
	CaptureDrops  bool
}

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Driver       crawler.Driver
	Extractor    crawler.Extractor
	ConnectIndex func(ctx context.Context) (crawler.IndexStore, error)
	Artifacts    crawler.BlobStore
	Publisher    crawler.Publisher
	Limiter      crawler.Limiter
	Hasher       crawler.Hasher
	Clock        crawler.Clock
	IDs          crawler.IDGenerator
	Logger       *zap.Logger
}

// Orchestrator owns the browser runtime, engine, worker pool, queue and index
// connection for a single run.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	mu        sync.Mutex
	started   bool
	runtime   crawler.Runtime
	engine    crawler.BrowserEngine
	pool      *worker.Pool
	queue     *memory.Queue
	store     crawler.IndexStore
	submitter *submitter
	runID     string
	cancel    context.CancelFunc

	ran      atomic.Bool
	tasks    sync.WaitGroup
	tally    tally
	stopOnce sync.Once
	stopped  atomic.Bool
	stopErr  error
}

// New validates cfg and deps. It acquires nothing.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if cfg.Concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be at least 1, got %d", cfg.Concurrency)
	}
	if cfg.CatalogKey == "" {
		return nil, errors.New("catalog key is required")
	}
	if deps.Driver == nil || deps.Extractor == nil || deps.ConnectIndex == nil {
		return nil, errors.New("driver, extractor and index connector are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, deps: deps, logger: logger.Named("indexer")}, nil
}

// Start launches the runtime and engine, builds the pool and queue, and
// connects to the index. On any failure everything acquired so far is released.
func (o *Orchestrator) Start(ctx context.Context) (err error) {
	if o.stopped.Load() {
		return ErrStopped
	}
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.started = true
	o.mu.Unlock()

	defer func() {
		if err != nil {
			if stopErr := o.Stop(ctx); stopErr != nil {
				o.logger.Warn("release after failed start", zap.Error(stopErr))
			}
		}
	}()

	runID, err := o.newRunID()
	if err != nil {
		return err
	}

	runtime, err := o.deps.Driver.Start(ctx)
	if err != nil {
		return fmt.Errorf("start browser runtime: %w", err)
	}
	o.mu.Lock()
	o.runtime = runtime
	o.runID = runID
	o.mu.Unlock()

	engine, err := runtime.Launch(ctx, crawler.LaunchOptions{
		Headless:  o.cfg.Headless,
		UserAgent: o.cfg.UserAgent,
	})
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	pool := worker.NewPool(engine, worker.Config{
		Viewport:   o.cfg.Viewport,
		UserAgent:  o.cfg.UserAgent,
		Query:      o.cfg.Query,
		MaxPages:   o.cfg.MaxPages,
		MaxRecords: o.cfg.MaxRecords,
	}, worker.Deps{
		Extractor: o.deps.Extractor,
		Limiter:   o.deps.Limiter,
		Hasher:    o.deps.Hasher,
		Clock:     o.deps.Clock,
		Logger:    o.logger,
	})
	o.mu.Lock()
	o.engine = engine
	o.pool = pool
	o.queue = memory.NewQueue(o.cfg.QueueCapacity)
	o.mu.Unlock()

	store, err := o.deps.ConnectIndex(ctx)
	if err != nil {
		return fmt.Errorf("connect index: %w", err)
	}
	o.mu.Lock()
	o.store = store
	o.submitter = &submitter{
		store:      store,
		catalogKey: o.cfg.CatalogKey,
		publisher:  o.deps.Publisher,
		topic:      o.cfg.NotifyTopic,
		clock:      o.deps.Clock,
		logger:     o.logger,
	}
	o.mu.Unlock()

	o.logger.Info("indexer started",
		zap.String("run_id", runID),
		zap.Int("concurrency", o.cfg.Concurrency),
		zap.Int("queue_capacity", o.cfg.QueueCapacity),
		zap.Bool("headless", o.cfg.Headless),
	)
	return nil
}

func (o *Orchestrator) newRunID() (string, error) {
	if o.deps.IDs == nil {
		return fmt.Sprintf("run-%d", now(o.deps.Clock).UnixNano()), nil
	}
	id, err := o.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id, nil
}

// Run executes the pipeline to completion: the producer scans the feed, the
// consumers enrich and submit, and Run returns once every enqueued record has
// been acknowledged. Errors from the producer, a failed drain and lost
// consumers are combined. The orchestrator is single-use.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Stop flips stopped under mu, so either it sees the cancel func and the
	// registered tasks, or this call sees stopped and starts nothing.
	o.mu.Lock()
	switch {
	case o.stopped.Load():
		o.mu.Unlock()
		return Report{}, ErrStopped
	case !o.started || o.submitter == nil:
		o.mu.Unlock()
		return Report{}, ErrNotStarted
	case o.ran.Swap(true):
		o.mu.Unlock()
		return Report{}, ErrAlreadyRan
	}
	o.cancel = cancel
	o.tasks.Add(1 + o.cfg.Concurrency)
	o.mu.Unlock()

	consumerCtx, cancelConsumers := context.WithCancel(runCtx)
	defer cancelConsumers()
	producerCtx, cancelProducer := context.WithCancel(runCtx)
	defer cancelProducer()

	arts := artifacts{store: o.deps.Artifacts, runID: o.runID, logger: o.logger}
	o.tally.start(o.runID, o.cfg.CatalogKey, now(o.deps.Clock))
	logger := o.logger.With(zap.String("run_id", o.runID))

	producerDone := make(chan error, 1)
	go func() {
		defer o.tasks.Done()
		producerDone <- o.produce(producerCtx, arts)
	}()

	consumerErrs := make([]error, o.cfg.Concurrency)
	var consumers sync.WaitGroup
	for i := range o.cfg.Concurrency {
		consumers.Add(1)
		go func() {
			defer o.tasks.Done()
			defer consumers.Done()
			if err := o.consume(runCtx, consumerCtx, arts); err != nil {
				consumerErrs[i] = err
				o.tally.consumerLost()
				logger.Warn("consumer exited; effective concurrency reduced",
					zap.Int("consumer", i+1),
					zap.Error(err),
				)
			}
		}()
	}
	consumersGone := make(chan struct{})
	go func() {
		consumers.Wait()
		close(consumersGone)
	}()

	var produceErr error
	select {
	case produceErr = <-producerDone:
	case <-consumersGone:
		// Nobody is left to drain the queue, so a blocked Put would never return.
		cancelProducer()
		produceErr = <-producerDone
		if errors.Is(produceErr, context.Canceled) && runCtx.Err() == nil {
			produceErr = nil
		}
	}
	if produceErr != nil {
		logger.Error("producer failed", zap.Error(produceErr))
	}

	drainErr := o.awaitDrain(runCtx, consumersGone)
	cancelConsumers()
	<-consumersGone

	err := multierr.Combine(produceErr, drainErr, multierr.Combine(consumerErrs...))
	report := o.tally.finish(now(o.deps.Clock), err)
	arts.report(ctx, report)
	logger.Info("run finished",
		zap.Int("enqueued", report.Enqueued),
		zap.Int("submitted", report.Submitted),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("dropped", report.Dropped),
		zap.Int("failed", report.Failed),
		zap.Int("consumers_lost", report.ConsumersLost),
	)
	return report, err
}

// awaitDrain blocks until every enqueued record is acknowledged. It gives up
// when ctx ends or when no consumer remains to acknowledge what is left.
func (o *Orchestrator) awaitDrain(ctx context.Context, consumersGone <-chan struct{}) error {
	joinCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-consumersGone:
			cancel()
		case <-joinCtx.Done():
		}
	}()

	err := o.queue.Join(joinCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("await drain: %w", ctx.Err())
	}
	stats := o.queue.Stats()
	if stats.Outstanding == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d records unprocessed", ErrConsumersExhausted, stats.Outstanding)
}

// Stop releases everything in order: cancel running tasks, stop all workers,
// close the engine, stop the runtime, close the index connection. Every step
// runs even when an earlier one fails; the first failure is returned. Stop is
// idempotent and safe to call after a failed Start.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.stopOnce.Do(func() {
		o.mu.Lock()
		o.stopped.Store(true)
		o.mu.Unlock()
		o.stopErr = o.release(ctx)
	})
	return o.stopErr
}

func (o *Orchestrator) release(ctx context.Context) error {
	o.mu.Lock()
	cancel, pool, engine, runtime, store := o.cancel, o.pool, o.engine, o.runtime, o.store
	o.mu.Unlock()

	steps := []struct {
		name string
		fn   func() error
	}{
		{"cancel tasks", func() error {
			if cancel != nil {
				cancel()
			}
			return o.waitTasks(ctx)
		}},
		{"stop workers", func() error {
			if pool == nil {
				return nil
			}
			return pool.StopAll(ctx)
		}},
		{"close engine", func() error {
			if engine == nil {
				return nil
			}
			return engine.Close(ctx)
		}},
		{"stop runtime", func() error {
			if runtime == nil {
				return nil
			}
			return runtime.Stop(ctx)
		}},
		{"close index", func() error {
			if c, ok := store.(interface{ Close() error }); ok {
				return c.Close()
			}
			return nil
		}},
	}

	var first error
	for _, step := range steps {
		if err := safeStep(step.fn); err != nil {
			o.logger.Warn("teardown step failed", zap.String("step", step.name), zap.Error(err))
			if first == nil {
				first = fmt.Errorf("%s: %w", step.name, err)
			}
		}
	}
	o.logger.Info("indexer stopped", zap.String("run_id", o.runID))
	return first
}

// waitTasks waits for producer and consumer goroutines to observe cancellation.
func (o *Orchestrator) waitTasks(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for tasks: %w", ctx.Err())
	}
}

func safeStep(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// RunID returns the identifier assigned at Start.
func (o *Orchestrator) RunID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runID
}

// Workers lists every worker the pool has opened.
func (o *Orchestrator) Workers() []worker.Info {
	o.mu.Lock()
	pool := o.pool
	o.mu.Unlock()
	if pool == nil {
		return nil
	}
	return pool.Snapshot()
}

// QueueStats reports the queue counters.
func (o *Orchestrator) QueueStats() memory.Stats {
	o.mu.Lock()
	queue := o.queue
	o.mu.Unlock()
	if queue == nil {
		return memory.Stats{}
	}
	return queue.Stats()
}

// Progress returns the in-flight report.
func (o *Orchestrator) Progress() Report {
	return o.tally.snapshot()
}

// Ready reports whether Start completed and Stop has not been called.
func (o *Orchestrator) Ready() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.submitter != nil && !o.stopped.Load()
}
