package indexer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/realtime-job-indexer/internal/crawler"
	"github.com/JakeFAU/realtime-job-indexer/internal/metrics"
)

// submitter performs the check-then-add against the index store. Calls for the
// same reference are collapsed so two consumers never both add it; stores that
// can insert-if-absent atomically are used that way instead of Get+Add.
type submitter struct {
	store      crawler.IndexStore
	catalogKey string
	publisher  crawler.Publisher
	topic      string
	clock      crawler.Clock
	logger     *zap.Logger
	group      singleflight.Group
}

// Submit returns StateSubmitted when this call added the record and
// StateDuplicate when the reference was already indexed. An index error is
// returned only to the caller whose own request failed; callers that were
// waiting on it try again themselves.
func (s *submitter) Submit(ctx context.Context, record crawler.JobRecord) (crawler.RecordState, error) {
	for {
		led := false
		v, err, _ := s.group.Do(record.Reference, func() (any, error) {
			led = true
			return s.submit(ctx, record)
		})
		if err != nil {
			if led {
				return "", err
			}
			if ctx.Err() != nil {
				return "", fmt.Errorf("submit %s: %w", record.Reference, ctx.Err())
			}
			s.logger.Debug("retrying after concurrent submit failed",
				zap.String("reference", record.Reference),
				zap.Error(err),
			)
			continue
		}
		state, _ := v.(crawler.RecordState)
		if !led && state == crawler.StateSubmitted {
			// Another consumer added it while this call waited.
			return crawler.StateDuplicate, nil
		}
		return state, nil
	}
}

func (s *submitter) submit(ctx context.Context, record crawler.JobRecord) (crawler.RecordState, error) {
	if adder, ok := s.store.(crawler.AtomicAdder); ok {
		start := time.Now()
		added, err := adder.AddIfAbsent(ctx, s.catalogKey, record)
		metrics.ObserveIndexCall("add_if_absent", err, time.Since(start))
		if err != nil {
			return "", fmt.Errorf("index %s: %w", record.Reference, err)
		}
		if !added {
			return crawler.StateDuplicate, nil
		}
		s.notify(ctx, record)
		return crawler.StateSubmitted, nil
	}

	start := time.Now()
	_, found, err := s.store.Get(ctx, s.catalogKey, record.Reference)
	metrics.ObserveIndexCall("get", err, time.Since(start))
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", record.Reference, err)
	}
	if found {
		return crawler.StateDuplicate, nil
	}

	start = time.Now()
	err = s.store.Add(ctx, s.catalogKey, record)
	metrics.ObserveIndexCall("add", err, time.Since(start))
	if err != nil {
		return "", fmt.Errorf("index %s: %w", record.Reference, err)
	}
	s.notify(ctx, record)
	return crawler.StateSubmitted, nil
}

func (s *submitter) notify(ctx context.Context, record crawler.JobRecord) {
	if s.publisher == nil || s.topic == "" {
		return
	}
	payload := map[string]any{
		"reference":   record.Reference,
		"catalog_key": s.catalogKey,
		"title":       record.Summary.Title,
		"company":     record.Summary.Company,
		"location":    record.Summary.Location,
		"indexed_at":  now(s.clock).Format(time.RFC3339),
	}
	if _, err := s.publisher.Publish(ctx, s.topic, payload); err != nil {
		s.logger.Warn("index notification failed",
			zap.String("reference", record.Reference),
			zap.Error(err),
		)
	}
}

func now(clock crawler.Clock) time.Time {
	if clock == nil {
		return time.Now().UTC()
	}
	return clock.Now()
}
