package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Chanseok/matter-certis-crawler/internal/api"
	"github.com/Chanseok/matter-certis-crawler/internal/orchestrator"
	"github.com/Chanseok/matter-certis-crawler/internal/pool"
	"github.com/Chanseok/matter-certis-crawler/internal/progress/observers"
)

func newCrawlCmd(cfgFile *string) *cobra.Command {
	var (
		dryRun         bool
		maxConcurrency int
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run a full two-stage crawl: listing pages, then product details.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, err := buildDeps(ctx, *cfgFile, dryRun)
			if err != nil {
				return err
			}
			defer d.cleanup()

			poolCfg := pool.Config{
				Initial:         d.cfg.Concurrency.Initial,
				Min:             d.cfg.Concurrency.Min,
				Max:             d.cfg.Concurrency.Max,
				Adaptive:        d.cfg.Concurrency.Adaptive,
				Window:          d.cfg.Concurrency.Window,
				ShrinkThreshold: d.cfg.Concurrency.ShrinkThreshold,
			}
			if maxConcurrency > 0 {
				poolCfg.Initial = maxConcurrency
				if poolCfg.Min > maxConcurrency {
					poolCfg.Min = maxConcurrency
				}
			}
			sched := pool.New(poolCfg, d.logger)

			o, err := orchestrator.New(d.fetcher, d.store, sched, nil, d.archiver, orchestrator.Config{
				ProductsPerPage: d.cfg.Site.ProductsPerPage,
				BatchSize:       d.cfg.Crawler.BatchSize,
				BatchDelay:      d.cfg.Crawler.BatchDelay,
				BatchRetries:    d.cfg.Crawler.BatchRetries,
				PageRetries:     d.cfg.Crawler.PageRetries,
				RetryBase:       d.cfg.Crawler.RetryBase,
				RetryMax:        d.cfg.Crawler.RetryMax,
				ArchivePages:    d.cfg.Snapshot.ArchivePages,
			}, d.logger)
			if err != nil {
				return err
			}

			tracker := o.Tracker()
			tracker.Register(observers.NewLogObserver(d.logger))
			registry := prometheus.NewRegistry()
			promObs, err := observers.NewPrometheusObserver(registry)
			if err != nil {
				return err
			}
			tracker.Register(promObs)

			// A SIGINT asks the scheduler to wind down; the run then
			// resolves as completed with partial data.
			go func() {
				<-ctx.Done()
				o.RequestStop()
			}()

			if d.cfg.Server.Enabled {
				server := api.NewServer(tracker, registry, d.logger)
				go func() {
					addr := fmt.Sprintf(":%d", d.cfg.Server.Port)
					if err := server.ListenAndServe(ctx, addr); err != nil {
						d.logger.Error("status server failed", zap.Error(err))
					}
				}()
			}

			result, err := o.Run(cmd.Context())
			if err != nil {
				return err
			}
			printCrawlResult(cmd, result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "crawl into an in-memory store, leaving the database untouched")
	cmd.Flags().IntVar(&maxConcurrency, "max-concurrency", 0, "override the configured initial concurrency")
	return cmd
}

func printCrawlResult(cmd *cobra.Command, result orchestrator.Result) {
	cmd.Printf("session %s finished: %s\n", result.SessionID, result.State)
	if result.Partial {
		cmd.Println("run was stopped early; persisted data is partial")
	}
	cmd.Printf("pages fetched: %d of %d total\n", result.PagesFetched, result.TotalPages)
	if len(result.PagesIncomplete) > 0 {
		cmd.Printf("pages incomplete (1-based): %v\n", toDisplayPages(result.PagesIncomplete))
	}
	cmd.Printf("products new: %d, updated: %d\n", result.ProductsNew, result.ProductsUpdated)
	if len(result.DetailFailures) > 0 {
		cmd.Printf("detail failures: %d\n", len(result.DetailFailures))
		for _, failure := range result.DetailFailures {
			cmd.Printf("  %s\n", failure)
		}
	}
	if result.SnapshotURI != "" {
		cmd.Printf("session snapshot: %s\n", result.SnapshotURI)
	}
}

// toDisplayPages converts zero-based page ids to the 1-based numbers shown
// at every user-facing boundary.
func toDisplayPages(pageIDs []int) []int {
	display := make([]int, len(pageIDs))
	for i, id := range pageIDs {
		display[i] = id + 1
	}
	return display
}
