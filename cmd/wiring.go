package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-job-indexer/internal/browser/headless"
	"github.com/JakeFAU/realtime-job-indexer/internal/browser/static"
	"github.com/JakeFAU/realtime-job-indexer/internal/clock/system"
	"github.com/JakeFAU/realtime-job-indexer/internal/config"
	"github.com/JakeFAU/realtime-job-indexer/internal/crawler"
	"github.com/JakeFAU/realtime-job-indexer/internal/extract/indeed"
	"github.com/JakeFAU/realtime-job-indexer/internal/hash/sha256"
	"github.com/JakeFAU/realtime-job-indexer/internal/id/uuid"
	"github.com/JakeFAU/realtime-job-indexer/internal/index/elasticsearch"
	"github.com/JakeFAU/realtime-job-indexer/internal/index/hrflow"
	memoryindex "github.com/JakeFAU/realtime-job-indexer/internal/index/memory"
	"github.com/JakeFAU/realtime-job-indexer/internal/index/postgres"
	"github.com/JakeFAU/realtime-job-indexer/internal/indexer"
	"github.com/JakeFAU/realtime-job-indexer/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/realtime-job-indexer/internal/publisher/memory"
	"github.com/JakeFAU/realtime-job-indexer/internal/publisher/pubsub"
	"github.com/JakeFAU/realtime-job-indexer/internal/storage/gcs"
	"github.com/JakeFAU/realtime-job-indexer/internal/storage/local"
	memorystorage "github.com/JakeFAU/realtime-job-indexer/internal/storage/memory"
)

// wiring is everything an index run needs, built from configuration.
type wiring struct {
	indexerConfig indexer.Config
	deps          indexer.Deps
	closers       []func() error
}

func (w *wiring) close() error {
	var err error
	for i := len(w.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, w.closers[i]())
	}
	return err
}

func buildWiring(ctx context.Context, cfg config.Config, logger *zap.Logger) (w *wiring, err error) {
	w = &wiring{indexerConfig: indexerConfig(cfg)}
	defer func() {
		if err != nil {
			err = multierr.Append(err, w.close())
			w = nil
		}
	}()

	extractor, err := indeed.New(cfg.Search.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("build extractor: %w", err)
	}
	driver, err := buildDriver(cfg.Browser)
	if err != nil {
		return nil, err
	}
	artifacts, closeArtifacts, err := buildArtifacts(ctx, cfg.Artifacts)
	if err != nil {
		return nil, err
	}
	if closeArtifacts != nil {
		w.closers = append(w.closers, closeArtifacts)
	}
	publisher, closePublisher, err := buildPublisher(ctx, cfg.Publisher)
	if err != nil {
		return nil, err
	}
	if closePublisher != nil {
		w.closers = append(w.closers, closePublisher)
	}

	w.deps = indexer.Deps{
		Driver:       driver,
		Extractor:    extractor,
		ConnectIndex: indexConnector(cfg.Index),
		Artifacts:    artifacts,
		Publisher:    publisher,
		Limiter:      ratelimit.New(ratelimit.Config{RPS: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst}),
		Hasher:       sha256.New(),
		Clock:        system.New(),
		IDs:          uuid.New("run-"),
		Logger:       logger,
	}
	return w, nil
}

func indexerConfig(cfg config.Config) indexer.Config {
	out := indexer.Config{
		Concurrency:   cfg.Run.Concurrency,
		QueueCapacity: cfg.Run.QueueCapacity,
		Headless:      cfg.Browser.Headless,
		UserAgent:     cfg.Browser.UserAgent,
		Viewport:      crawler.Viewport{Width: cfg.Browser.ViewportWidth, Height: cfg.Browser.ViewportHeight},
		Query:         crawler.SearchQuery{What: cfg.Search.Query, Where: cfg.Search.Where},
		MaxPages:      cfg.Run.MaxPages,
		MaxRecords:    cfg.Run.MaxRecords,
		CatalogKey:    cfg.Run.CatalogKey,
		CaptureDrops:  cfg.Run.CaptureDrops,
	}
	if cfg.Publisher.Backend != "none" {
		out.NotifyTopic = cfg.Publisher.Topic
	}
	return out
}

func buildDriver(cfg config.BrowserConfig) (crawler.Driver, error) {
	switch cfg.Engine {
	case "chrome":
		return headless.NewDriver(headless.Config{
			ExecPath:  cfg.ExecPath,
			Settle:    cfg.Settle(),
			NoSandbox: cfg.NoSandbox,
		}), nil
	case "static":
		return static.NewDriver(static.Config{
			RespectRobots:      cfg.RespectRobots,
			Timeout:            cfg.Timeout(),
			RejectScriptShells: cfg.RejectScriptShells,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported browser engine %q", cfg.Engine)
	}
}

// indexConnector defers the index connection to Start so a bad backend fails
// the run after the browser is up, and Stop can release both.
func indexConnector(cfg config.IndexConfig) func(context.Context) (crawler.IndexStore, error) {
	return func(ctx context.Context) (crawler.IndexStore, error) {
		switch cfg.Backend {
		case "memory":
			return memoryindex.NewStore(), nil
		case "postgres":
			store, err := postgres.New(ctx, postgres.Config{
				DSN:          cfg.Postgres.DSN,
				Table:        cfg.Postgres.Table,
				MaxConns:     cfg.Postgres.MaxConns,
				MinConns:     cfg.Postgres.MinConns,
				EnsureSchema: cfg.Postgres.EnsureSchema,
			})
			if err != nil {
				return nil, err
			}
			return store, nil
		case "elasticsearch":
			store, err := elasticsearch.New(ctx, elasticsearch.Config{
				Addresses:   cfg.Elasticsearch.Addresses,
				Username:    cfg.Elasticsearch.Username,
				Password:    cfg.Elasticsearch.Password,
				APIKey:      cfg.Elasticsearch.APIKey,
				IndexPrefix: cfg.Elasticsearch.IndexPrefix,
				Refresh:     cfg.Elasticsearch.Refresh,
			})
			if err != nil {
				return nil, err
			}
			return store, nil
		case "hrflow":
			timeout := time.Duration(cfg.HrFlow.TimeoutSeconds) * time.Second
			client, err := hrflow.New(hrflow.Config{
				BaseURL:   cfg.HrFlow.BaseURL,
				APISecret: cfg.HrFlow.APISecret,
				UserEmail: cfg.HrFlow.UserEmail,
				Timeout:   timeout,
			}, &http.Client{Timeout: timeout})
			if err != nil {
				return nil, err
			}
			return client, nil
		default:
			return nil, fmt.Errorf("unsupported index backend %q", cfg.Backend)
		}
	}
}

func buildArtifacts(ctx context.Context, cfg config.ArtifactsConfig) (crawler.BlobStore, func() error, error) {
	switch cfg.Backend {
	case "none", "":
		return nil, nil, nil
	case "memory":
		return memorystorage.NewBlobStore(), nil, nil
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, nil, fmt.Errorf("build local artifact store: %w", err)
		}
		return store, nil, nil
	case "gcs":
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.GCSBucket, Prefix: cfg.GCSPrefix})
		if err != nil {
			return nil, nil, fmt.Errorf("build gcs artifact store: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported artifacts backend %q", cfg.Backend)
	}
}

func buildPublisher(ctx context.Context, cfg config.PublisherConfig) (crawler.Publisher, func() error, error) {
	switch cfg.Backend {
	case "none", "":
		return nil, nil, nil
	case "memory":
		return memorypublisher.New(), nil, nil
	case "pubsub":
		pub, err := pubsub.Open(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("build pubsub publisher: %w", err)
		}
		return pub, pub.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported publisher backend %q", cfg.Backend)
	}
}
