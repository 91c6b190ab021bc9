package indexer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-job-indexer/internal/crawler"
	"github.com/JakeFAU/realtime-job-indexer/internal/metrics"
	"github.com/JakeFAU/realtime-job-indexer/internal/worker"
)

// produce scans the feed with a dedicated worker and enqueues every summary.
// A feed failure ends production; records already enqueued are still processed.
func (o *Orchestrator) produce(ctx context.Context, arts artifacts) error {
	w, err := o.pool.Spawn(ctx, crawler.PurposeFeedScan)
	if err != nil {
		return fmt.Errorf("open feed worker: %w", err)
	}
	defer func() {
		if err := w.Stop(ctx); err != nil {
			o.logger.Debug("stop feed worker", zap.Error(err))
		}
	}()

	for record, err := range w.ScanFeed(ctx) {
		if err != nil {
			if ctx.Err() == nil {
				arts.capture(ctx, w, "feed", "failure")
			}
			return fmt.Errorf("scan feed: %w", err)
		}
		if err := o.queue.Put(ctx, record); err != nil {
			return fmt.Errorf("enqueue %s: %w", record.Reference, err)
		}
		o.tally.enqueued()
		metrics.SetQueueOutstanding(o.queue.Stats().Outstanding)
	}
	return nil
}

// consume opens a detail worker and processes records until loopCtx ends.
// Every dequeued record is acknowledged exactly once, even when processing
// fails; a resource or index failure then ends this consumer without
// replacement. Cancellation of loopCtx is a normal exit.
func (o *Orchestrator) consume(ctx, loopCtx context.Context, arts artifacts) error {
	w, err := o.pool.Spawn(ctx, crawler.PurposeDetailFetch)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, worker.ErrPoolClosed) {
			return nil
		}
		return fmt.Errorf("open detail worker: %w", err)
	}

	for {
		record, err := o.queue.Get(loopCtx)
		if err != nil {
			if loopCtx.Err() != nil {
				return nil
			}
			return err
		}

		procErr := o.process(ctx, w, record, arts)
		if ackErr := o.queue.TaskDone(); ackErr != nil {
			procErr = errors.Join(procErr, ackErr)
		}
		metrics.SetQueueOutstanding(o.queue.Stats().Outstanding)
		if procErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			return procErr
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, w *worker.Worker, record crawler.JobRecord, arts artifacts) error {
	enriched, ok, err := w.FetchDetails(ctx, record)
	if err != nil {
		o.tally.failed()
		return err
	}
	if !ok {
		o.tally.outcome(record.WithState(crawler.StateDropped))
		if o.cfg.CaptureDrops {
			arts.capture(ctx, w, "drops", record.Reference)
		}
		return nil
	}

	state, err := o.submitter.Submit(ctx, enriched)
	if err != nil {
		o.tally.failed()
		return err
	}
	o.tally.outcome(enriched.WithState(state))
	return nil
}
