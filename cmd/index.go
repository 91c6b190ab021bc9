package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-job-indexer/internal/api"
	"github.com/JakeFAU/realtime-job-indexer/internal/indexer"
)

func newIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Run one scan, enrich and submit pass",
		Long: `Starts the browser, scans every feed page for the configured query,
enriches each listing from its detail page and submits new listings to the
configured index. SIGINT or SIGTERM cancels the run and releases the browser.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runIndex(ctx, e)
		},
	}
}

func runIndex(ctx context.Context, e *env) (err error) {
	logger := e.logger
	w, err := buildWiring(ctx, e.cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, w.close())
	}()

	orch, err := indexer.New(w.indexerConfig, w.deps)
	if err != nil {
		return fmt.Errorf("build indexer: %w", err)
	}

	opsCtx, stopOps := context.WithCancel(ctx)
	opsDone := make(chan error, 1)
	if e.cfg.Ops.Enabled {
		srv := api.NewServer(orch, logger)
		go func() { opsDone <- srv.Serve(opsCtx, e.cfg.Ops.Addr) }()
	} else {
		close(opsDone)
	}
	defer func() {
		stopOps()
		if opsErr := <-opsDone; opsErr != nil {
			logger.Warn("ops server stopped with error", zap.Error(opsErr))
		}
	}()

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start indexer: %w", err)
	}
	defer func() {
		if stopErr := orch.Stop(context.WithoutCancel(ctx)); stopErr != nil {
			err = multierr.Append(err, fmt.Errorf("stop indexer: %w", stopErr))
		}
	}()

	report, runErr := orch.Run(ctx)
	fields := []zap.Field{
		zap.String("run_id", report.RunID),
		zap.Int("enqueued", report.Enqueued),
		zap.Int("submitted", report.Submitted),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("dropped", report.Dropped),
		zap.Int("failed", report.Failed),
		zap.Int("consumers_lost", report.ConsumersLost),
	}
	switch {
	case runErr == nil:
		logger.Info("index run finished", fields...)
	case errors.Is(runErr, context.Canceled):
		logger.Warn("index run canceled", fields...)
	default:
		logger.Error("index run failed", append(fields, zap.Error(runErr))...)
		return fmt.Errorf("run indexer: %w", runErr)
	}
	return nil
}
