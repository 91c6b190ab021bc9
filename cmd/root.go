// Package cmd defines the jobindexer CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-job-indexer/internal/config"
	"github.com/JakeFAU/realtime-job-indexer/internal/logging"
)

type envKey struct{}

// env is what PersistentPreRunE prepares for subcommands.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "jobindexer",
		Short: "Index job board listings",
		Long: `jobindexer walks a job board search feed in a browser, fetches every
listing's detail page with a pool of isolated browser contexts and submits
the listings the index does not hold yet.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey{}, &env{cfg: cfg, logger: logger}))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKey{}).(*env); ok {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON); JOBINDEXER_* env vars override it")
	cmd.AddCommand(newIndexCmd(), newValidateCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey{}).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not loaded")
	}
	return e, nil
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			e.logger.Info("configuration valid",
				zap.String("catalog_key", e.cfg.Run.CatalogKey),
				zap.String("engine", e.cfg.Browser.Engine),
				zap.String("index_backend", e.cfg.Index.Backend),
				zap.Int("concurrency", e.cfg.Run.Concurrency),
				zap.Int("queue_capacity", e.cfg.Run.QueueCapacity),
			)
			return nil
		},
	}
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "jobindexer:", err)
		os.Exit(1)
	}
}
