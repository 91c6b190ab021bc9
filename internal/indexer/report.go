package indexer

import (
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-job-indexer/internal/crawler"
	"github.com/JakeFAU/realtime-job-indexer/internal/metrics"
)

// Report summarizes one run.
type Report struct {
	RunID         string     `json:"run_id"`
	CatalogKey    string     `json:"catalog_key"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"` // nil while the run is in progress
	Enqueued      int        `json:"enqueued"`
	Submitted     int        `json:"submitted"`
	Duplicates    int        `json:"duplicates"`
	Dropped       int        `json:"dropped"`
	Failed        int        `json:"failed"`
	ConsumersLost int        `json:"consumers_lost"`
	Indexed       []string   `json:"indexed,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// tally accumulates run counters from concurrent consumers.
type tally struct {
	mu     sync.Mutex
	report Report
}

func (t *tally) start(runID, catalogKey string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report = Report{RunID: runID, CatalogKey: catalogKey, StartedAt: at}
}

func (t *tally) enqueued() {
	metrics.ObserveRecord("enqueued")
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report.Enqueued++
}

func (t *tally) outcome(record crawler.JobRecord) {
	metrics.ObserveRecord(string(record.State))
	t.mu.Lock()
	defer t.mu.Unlock()
	switch record.State {
	case crawler.StateSubmitted:
		t.report.Submitted++
		t.report.Indexed = append(t.report.Indexed, record.Reference)
	case crawler.StateDuplicate:
		t.report.Duplicates++
	case crawler.StateDropped:
		t.report.Dropped++
	}
}

func (t *tally) failed() {
	metrics.ObserveRecord("failed")
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report.Failed++
}

func (t *tally) consumerLost() {
	metrics.ObserveConsumerLost()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report.ConsumersLost++
}

func (t *tally) finish(at time.Time, err error) Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report.FinishedAt = &at
	if err != nil {
		t.report.Error = err.Error()
	}
	return t.snapshotLocked()
}

func (t *tally) snapshot() Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *tally) snapshotLocked() Report {
	out := t.report
	out.Indexed = append([]string(nil), t.report.Indexed...)
	sort.Strings(out.Indexed)
	return out
}
