package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/JakeFAU/realtime-job-indexer/internal/crawler"
)

func record(ref string) crawler.JobRecord {
	return crawler.NewJobRecord(ref, crawler.Summary{Title: "title " + ref})
}

func TestQueuePutGetFIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue(Unbounded)
	for i := range 5 {
		if err := q.Put(context.Background(), record(fmt.Sprintf("jk-%d", i))); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}
	for i := range 5 {
		got, err := q.Get(context.Background())
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if want := fmt.Sprintf("jk-%d", i); got.Reference != want {
			t.Fatalf("expected %s, got %s", want, got.Reference)
		}
	}
}

func TestQueueGetWaitsForPut(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan crawler.JobRecord, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Get(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to start
	if err := q.Put(context.Background(), record("jk-1")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Get() error = %v", err)
	case got := <-result:
		if got.Reference != "jk-1" {
			t.Fatalf("expected jk-1, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("get did not return record")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qGet := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := qGet.Get(ctx); err == nil || err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}

	qPut := NewQueue(1)
	if err := qPut.Put(context.Background(), record("primed")); err != nil {
		t.Fatalf("failed to prime queue: %v", err)
	}
	if err := qPut.Put(ctx, record("overflow")); err == nil ||
		err.Error() != "enqueue canceled: context canceled" {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}

	if err := qPut.Join(ctx); err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected join cancel error, got %v", err)
	}
}

func TestQueuePutBlocksAtCapacityUntilGet(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	ctx := context.Background()
	for _, ref := range []string{"a", "b"} {
		if err := q.Put(ctx, record(ref)); err != nil {
			t.Fatalf("Put(%s) error = %v", ref, err)
		}
	}

	put := make(chan error, 1)
	go func() { put <- q.Put(ctx, record("c")) }()

	select {
	case err := <-put:
		t.Fatalf("Put returned while queue full: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	// Acknowledging does not free buffer space; only a dequeue does.
	if _, err := q.Get(ctx); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	select {
	case err := <-put:
		if err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Put did not resume after dequeue")
	}
	if got := q.Len(); got != 2 {
		t.Fatalf("expected 2 buffered items, got %d", got)
	}
}

func TestQueueUnboundedNeverBlocks(t *testing.T) {
	t.Parallel()

	q := NewQueue(-1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := range 10_000 {
		if err := q.Put(ctx, record(fmt.Sprintf("jk-%d", i))); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}
	if stats := q.Stats(); stats.Buffered != 10_000 || stats.Capacity != Unbounded {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestQueueTaskDoneUnderflow(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	if err := q.TaskDone(); !errors.Is(err, ErrTaskDoneUnderflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
}

func TestQueueJoinEmptyReturnsImmediately(t *testing.T) {
	t.Parallel()

	q := NewQueue(Unbounded)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := q.Join(ctx); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
}

func TestQueueJoinWaitsForEveryAck(t *testing.T) {
	t.Parallel()

	q := NewQueue(Unbounded)
	ctx := context.Background()
	for _, ref := range []string{"a", "b", "c"} {
		if err := q.Put(ctx, record(ref)); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	joined := make(chan error, 1)
	go func() { joined <- q.Join(ctx) }()

	for i := range 3 {
		if _, err := q.Get(ctx); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if i < 2 {
			if err := q.TaskDone(); err != nil {
				t.Fatalf("TaskDone() error = %v", err)
			}
		}
	}

	select {
	case err := <-joined:
		t.Fatalf("Join returned with one item unacknowledged: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if err := q.TaskDone(); err != nil {
		t.Fatalf("TaskDone() error = %v", err)
	}
	select {
	case err := <-joined:
		if err != nil {
			t.Fatalf("Join() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Join did not return after final ack")
	}
}

func TestQueueConcurrentConsumersAckExactlyOnce(t *testing.T) {
	t.Parallel()

	const total = 500
	q := NewQueue(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, err := q.Get(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[item.Reference]++
				mu.Unlock()
				if err := q.TaskDone(); err != nil {
					t.Errorf("TaskDone() error = %v", err)
				}
			}
		}()
	}

	go func() {
		for i := range total {
			if err := q.Put(ctx, record(fmt.Sprintf("jk-%d", i))); err != nil {
				t.Errorf("Put() error = %v", err)
				return
			}
		}
	}()

	// Join may only complete once all records were enqueued and acknowledged.
	deadline, stop := context.WithTimeout(ctx, 5*time.Second)
	defer stop()
	for {
		if err := q.Join(deadline); err != nil {
			t.Fatalf("Join() error = %v", err)
		}
		if s := q.Stats(); s.Enqueued == total && s.Outstanding == 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	wg.Wait()

	stats := q.Stats()
	if stats.Acked != total || stats.Outstanding != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(seen) != total {
		t.Fatalf("expected %d distinct records, got %d", total, len(seen))
	}
	for ref, n := range seen {
		if n != 1 {
			t.Fatalf("record %s dequeued %d times", ref, n)
		}
	}
}
