// Package cmd defines the certis CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Chanseok/matter-certis-crawler/internal/catalog"
	"github.com/Chanseok/matter-certis-crawler/internal/config"
	"github.com/Chanseok/matter-certis-crawler/internal/fetcher/headless"
	"github.com/Chanseok/matter-certis-crawler/internal/fetcher/httpfetch"
	"github.com/Chanseok/matter-certis-crawler/internal/logging"
	"github.com/Chanseok/matter-certis-crawler/internal/snapshot"
	"github.com/Chanseok/matter-certis-crawler/internal/storage/memory"
	"github.com/Chanseok/matter-certis-crawler/internal/storage/postgres"
)

// Execute runs the CLI.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "certis",
		Short: "Crawler for the Matter certified-products catalog.",
		Long: `certis collects the paginated Matter certified-products catalog into
Postgres, reconciles what is already persisted, and backfills gaps left by
interrupted or failed runs.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the YAML config file")

	cmd.AddCommand(newCrawlCmd(&cfgFile))
	cmd.AddCommand(newGapsCmd(&cfgFile))
	return cmd
}

// deps is everything a command needs wired before it can run.
type deps struct {
	cfg      config.Config
	logger   *zap.Logger
	store    catalog.ProductStore
	fetcher  catalog.PageFetcher
	archiver *snapshot.Archiver
	cleanup  func()
}

func buildDeps(ctx context.Context, cfgFile string, dryRun bool) (*deps, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development, "")
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg, dryRun)
	if err != nil {
		return nil, err
	}
	pageFetcher, err := buildFetcher(cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	archiver, archiverCleanup, err := buildArchiver(ctx, cfg, dryRun)
	if err != nil {
		store.Close()
		_ = pageFetcher.Close(ctx)
		return nil, err
	}

	return &deps{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		fetcher:  pageFetcher,
		archiver: archiver,
		cleanup: func() {
			if archiverCleanup != nil {
				archiverCleanup()
			}
			_ = pageFetcher.Close(context.Background())
			store.Close()
			_ = logger.Sync()
		},
	}, nil
}

func buildStore(ctx context.Context, cfg config.Config, dryRun bool) (catalog.ProductStore, error) {
	if dryRun {
		return memory.NewProductStore(), nil
	}
	if cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required unless --dry-run is set")
	}
	return postgres.NewProductStore(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.DB.MaxConnLifetime,
	})
}

func buildFetcher(cfg config.Config, logger *zap.Logger) (catalog.PageFetcher, error) {
	switch cfg.Site.Strategy {
	case config.StrategyBrowser:
		return headless.New(headless.Config{
			BaseURL:           cfg.Site.BaseURL,
			UserAgent:         cfg.Site.UserAgent,
			MaxParallel:       cfg.Fetch.MaxBrowserContexts,
			NavigationTimeout: cfg.Fetch.Timeout,
			CacheTTL:          cfg.Fetch.CacheTTL,
		}, logger)
	default:
		return httpfetch.New(httpfetch.Config{
			BaseURL:   cfg.Site.BaseURL,
			UserAgent: cfg.Site.UserAgent,
			Timeout:   cfg.Fetch.Timeout,
			CacheTTL:  cfg.Fetch.CacheTTL,
		}, logger)
	}
}

// buildArchiver returns a nil archiver when snapshots are disabled. Dry runs
// downgrade the configured backend to memory so nothing leaves the process.
func buildArchiver(ctx context.Context, cfg config.Config, dryRun bool) (*snapshot.Archiver, func(), error) {
	backend := cfg.Snapshot.Backend
	if backend == config.SnapshotNone {
		return nil, nil, nil
	}
	if dryRun {
		backend = config.SnapshotMemory
	}

	switch backend {
	case config.SnapshotMemory:
		archiver, err := snapshot.NewArchiver(snapshot.NewMemoryStore())
		return archiver, nil, err
	case config.SnapshotLocal:
		store, err := snapshot.NewLocalStore(cfg.Snapshot.LocalDir)
		if err != nil {
			return nil, nil, err
		}
		archiver, err := snapshot.NewArchiver(store)
		return archiver, nil, err
	case config.SnapshotGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("connect gcs: %w", err)
		}
		store, err := snapshot.NewGCSStore(client, cfg.Snapshot.GCSBucket)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		archiver, err := snapshot.NewArchiver(store)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return archiver, func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("snapshot backend %q is not recognized", backend)
	}
}
