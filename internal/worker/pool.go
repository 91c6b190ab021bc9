package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-job-indexer/internal/crawler"
)

// ErrPoolClosed is returned by Spawn once StopAll has run.
var ErrPoolClosed = errors.New("worker pool closed")

// Info describes a tracked worker for diagnostics.
type Info struct {
	ID       int64           `json:"id"`
	Identity string          `json:"identity"`
	Purpose  crawler.Purpose `json:"purpose"`
	State    State           `json:"state"`
	OpenedAt time.Time       `json:"opened_at"`
}

// Pool issues worker identities and tracks every opened worker so they can be
// torn down together. It does not schedule work.
type Pool struct {
	engine crawler.BrowserEngine
	cfg    Config
	deps   Deps
	logger *zap.Logger

	mu      sync.Mutex
	seq     int64
	workers []*Worker
	closed  bool
}

// NewPool creates a pool that opens workers against the shared engine.
func NewPool(engine crawler.BrowserEngine, cfg Config, deps Deps) *Pool {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	deps.Logger = logger
	return &Pool{
		engine: engine,
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
}

// Describe builds the first construction phase with the next sequence number.
func (p *Pool) Describe(purpose crawler.Purpose) Descriptor {
	p.mu.Lock()
	p.seq++
	id := p.seq
	p.mu.Unlock()
	return Descriptor{
		ID:      id,
		Purpose: purpose,
		engine:  p.engine,
		cfg:     p.cfg,
		deps:    p.deps,
	}
}

// Spawn describes, opens and tracks a worker.
func (p *Pool) Spawn(ctx context.Context, purpose crawler.Purpose) (*Worker, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}
	w, err := p.Describe(purpose).Open(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		// Teardown already ran; release the context ourselves.
		if serr := w.Stop(ctx); serr != nil {
			p.logger.Warn("stop late worker failed", zap.Error(serr))
		}
		return nil, ErrPoolClosed
	}
	p.workers = append(p.workers, w)
	p.mu.Unlock()

	p.logger.Info("worker launched",
		zap.Int64("worker_id", w.ID()),
		zap.String("purpose", string(purpose)),
	)
	return w, nil
}

// StopAll stops every tracked worker, continuing past failures. It returns the
// first error encountered. Already stopped workers are not an error.
func (p *Pool) StopAll(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	workers := append([]*Worker(nil), p.workers...)
	p.mu.Unlock()

	var first error
	for _, w := range workers {
		if err := w.Stop(ctx); err != nil {
			p.logger.Warn("worker stop failed", zap.Int64("worker_id", w.ID()), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	if first != nil {
		return fmt.Errorf("stop workers: %w", first)
	}
	return nil
}

// Snapshot lists tracked workers in creation order.
func (p *Pool) Snapshot() []Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Info, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, Info{
			ID:       w.ID(),
			Identity: w.desc.Identity(),
			Purpose:  w.Purpose(),
			State:    w.State(),
			OpenedAt: w.openedAt,
		})
	}
	return out
}

// Len returns the number of tracked workers.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
