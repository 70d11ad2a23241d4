package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Chanseok/matter-certis-crawler/internal/gaps"
)

func newGapsCmd(cfgFile *string) *cobra.Command {
	var (
		detectOnly       bool
		detectAndCollect bool
		collectRange     bool
		startPage        int
		endPage          int
		dryRun           bool
		maxConcurrency   int
		retryAttempts    int
	)

	cmd := &cobra.Command{
		Use:   "gaps",
		Short: "Detect and backfill holes left by earlier crawls.",
		Long: `gaps compares the persisted catalog against itself: pages short of their
expected product count, pages wholly absent, and products whose detail row
never landed. Detection is read-only; collection re-fetches what detection
flagged. Page numbers at this boundary are 1-based.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			modes := 0
			for _, enabled := range []bool{detectOnly, detectAndCollect, collectRange} {
				if enabled {
					modes++
				}
			}
			if modes != 1 {
				return errors.New("exactly one of --detect-only, --detect-and-collect, --collect-range is required")
			}
			if collectRange {
				if startPage < 1 || endPage < startPage {
					return fmt.Errorf("--start-page and --end-page must satisfy 1 <= start <= end")
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, err := buildDeps(ctx, *cfgFile, dryRun)
			if err != nil {
				return err
			}
			defer d.cleanup()

			detector, err := gaps.NewDetector(d.store, d.cfg.Site.ProductsPerPage, d.logger)
			if err != nil {
				return err
			}

			opts := gaps.Options{
				MaxConcurrentPages: maxConcurrency,
				MaxRetries:         retryAttempts,
				DelayBetweenPages:  d.cfg.Crawler.BatchDelay,
				RetryBase:          d.cfg.Crawler.RetryBase,
				RetryMax:           d.cfg.Crawler.RetryMax,
			}

			switch {
			case detectOnly:
				return runDetectOnly(ctx, cmd, detector)
			case detectAndCollect:
				return runDetectAndCollect(ctx, cmd, d, detector, opts)
			default:
				// CLI page numbers are 1-based; page ids are 0-based.
				report, err := detector.MissingProductsInRange(ctx, startPage-1, endPage-1)
				if err != nil {
					return err
				}
				return collectReport(ctx, cmd, d, report, opts)
			}
		},
	}

	cmd.Flags().BoolVar(&detectOnly, "detect-only", false, "report gaps without fetching anything")
	cmd.Flags().BoolVar(&detectAndCollect, "detect-and-collect", false, "detect gaps across all pages, then backfill them")
	cmd.Flags().BoolVar(&collectRange, "collect-range", false, "backfill a specific 1-based page range")
	cmd.Flags().IntVar(&startPage, "start-page", 0, "first page of the range (1-based)")
	cmd.Flags().IntVar(&endPage, "end-page", 0, "last page of the range (1-based)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "work against an in-memory store, leaving the database untouched")
	cmd.Flags().IntVar(&maxConcurrency, "max-concurrency", 3, "pages fetched in parallel during collection")
	cmd.Flags().IntVar(&retryAttempts, "retry-attempts", 2, "per-page retry budget during collection")
	return cmd
}

func runDetectOnly(ctx context.Context, cmd *cobra.Command, detector *gaps.Detector) error {
	report, err := detector.MissingProducts(ctx)
	if err != nil {
		return err
	}
	printReport(cmd, report)

	urls, err := detector.MissingProductDetails(ctx)
	if err != nil {
		return err
	}
	cmd.Printf("products missing details: %d\n", len(urls))
	return nil
}

func runDetectAndCollect(ctx context.Context, cmd *cobra.Command, d *deps, detector *gaps.Detector, opts gaps.Options) error {
	report, err := detector.MissingProducts(ctx)
	if err != nil {
		return err
	}
	printReport(cmd, report)
	if err := collectReport(ctx, cmd, d, report, opts); err != nil {
		return err
	}

	urls, err := detector.MissingProductDetails(ctx)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return nil
	}
	collector, err := gaps.NewCollector(d.fetcher, d.store, d.cfg.Site.ProductsPerPage, d.logger)
	if err != nil {
		return err
	}
	outcome := collector.CollectMissingDetails(ctx, urls, opts)
	cmd.Printf("details collected: %d, failed: %d\n", outcome.Collected, outcome.Failed)
	for _, msg := range outcome.Errors {
		cmd.Printf("  %s\n", msg)
	}
	return nil
}

func collectReport(ctx context.Context, cmd *cobra.Command, d *deps, report gaps.Report, opts gaps.Options) error {
	if report.Empty() {
		cmd.Println("nothing to collect")
		return nil
	}
	collector, err := gaps.NewCollector(d.fetcher, d.store, d.cfg.Site.ProductsPerPage, d.logger)
	if err != nil {
		return err
	}
	outcome := collector.CollectMissingProducts(ctx, report, opts)
	cmd.Printf("pages collected: %d, failed: %d\n", outcome.Collected, outcome.Failed)
	for _, msg := range outcome.Errors {
		cmd.Printf("  %s\n", msg)
	}
	cmd.Println("re-run with --detect-only to confirm closure")
	return nil
}

func printReport(cmd *cobra.Command, report gaps.Report) {
	if report.Empty() {
		cmd.Println("no page gaps detected")
		return
	}
	cmd.Printf("pages with gaps: %d\n", len(report.Pages))
	for _, gap := range report.Pages {
		if gap.WhollyMissing {
			cmd.Printf("  page %d: wholly missing\n", gap.PageID+1)
			continue
		}
		cmd.Printf("  page %d: missing indices %v\n", gap.PageID+1, gap.MissingIndices)
	}
	cmd.Printf("ranges (1-based, descending):\n")
	for _, r := range report.Ranges {
		cmd.Printf("  %d..%d (%s, ~%d products)\n", r.StartPage+1, r.EndPage+1, r.Reason, r.EstimatedItemCount)
	}
}
