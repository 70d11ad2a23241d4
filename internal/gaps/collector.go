package gaps

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Chanseok/matter-certis-crawler/internal/catalog"
	"github.com/Chanseok/matter-certis-crawler/internal/pool"
	"github.com/Chanseok/matter-certis-crawler/internal/retry"
)

// Options bounds a collection pass.
type Options struct {
	MaxConcurrentPages int
	MaxRetries         int
	DelayBetweenPages  time.Duration
	RetryBase          time.Duration
	RetryMax           time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrentPages <= 0 {
		o.MaxConcurrentPages = 3
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 30 * time.Second
	}
	return o
}

// Outcome summarizes a collection pass. Partial success is the common case:
// per-item errors accumulate here instead of failing the pass, and callers
// must re-detect afterwards to confirm closure.
type Outcome struct {
	Collected int      `json:"collected"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// Collector re-drives the fetch, validate, persist pipeline for the pages
// and products a detection Report names. It never re-detects internally.
type Collector struct {
	fetcher  catalog.PageFetcher
	store    catalog.ProductStore
	expected int
	logger   *zap.Logger
}

// NewCollector builds a collector sharing the crawl's fetcher and store.
func NewCollector(fetcher catalog.PageFetcher, store catalog.ProductStore, expectedPerPage int, logger *zap.Logger) (*Collector, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if expectedPerPage <= 0 {
		return nil, fmt.Errorf("expected per-page count must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{fetcher: fetcher, store: store, expected: expectedPerPage, logger: logger}, nil
}

// CollectMissingProducts re-fetches every page the report flags, walking
// each range from StartPage down to EndPage. A page counts as collected
// when its records persist, even if it validates incomplete again; residual
// gaps surface on the next detection pass.
func (c *Collector) CollectMissingProducts(ctx context.Context, report Report, opts Options) Outcome {
	opts = opts.withDefaults()
	pageIDs := pagesInRangeOrder(report)
	if len(pageIDs) == 0 {
		return Outcome{}
	}

	sched := pool.New(pool.Config{
		Initial: opts.MaxConcurrentPages,
		Min:     1,
	}, c.logger)

	results := pool.Run(ctx, sched, pageIDs, func(ctx context.Context, _ int, pageID int) (struct{}, error) {
		if err := c.collectPage(ctx, pageID, opts); err != nil {
			return struct{}{}, err
		}
		if opts.DelayBetweenPages > 0 {
			timer := time.NewTimer(opts.DelayBetweenPages)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
		return struct{}{}, nil
	})

	var outcome Outcome
	for i, res := range results {
		switch {
		case res.Done && res.Err == nil:
			outcome.Collected++
		case res.Err != nil:
			outcome.Failed++
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("page %d: %v", pageIDs[i], res.Err))
		default:
			outcome.Failed++
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("page %d: not attempted", pageIDs[i]))
		}
	}
	c.logger.Info("gap collection finished",
		zap.Int("collected", outcome.Collected),
		zap.Int("failed", outcome.Failed))
	return outcome
}

// CollectMissingDetails fetches and persists detail rows for the given
// product URLs, typically the output of Detector.MissingProductDetails.
func (c *Collector) CollectMissingDetails(ctx context.Context, urls []string, opts Options) Outcome {
	opts = opts.withDefaults()
	if len(urls) == 0 {
		return Outcome{}
	}

	sched := pool.New(pool.Config{
		Initial: opts.MaxConcurrentPages,
		Min:     1,
	}, c.logger)

	results := pool.Run(ctx, sched, urls, func(ctx context.Context, _ int, url string) (struct{}, error) {
		var detail catalog.ProductDetail
		err := retry.Do(ctx, func(ctx context.Context) error {
			var fetchErr error
			detail, fetchErr = c.fetcher.FetchDetail(ctx, url)
			return fetchErr
		}, c.retryOptions(opts))
		if err != nil {
			return struct{}{}, err
		}
		if err := c.store.UpsertDetail(ctx, detail); err != nil {
			return struct{}{}, fmt.Errorf("persist detail: %w", err)
		}
		return struct{}{}, nil
	})

	var outcome Outcome
	for i, res := range results {
		switch {
		case res.Done && res.Err == nil:
			outcome.Collected++
		case res.Err != nil:
			outcome.Failed++
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("%s: %v", urls[i], res.Err))
		default:
			outcome.Failed++
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("%s: not attempted", urls[i]))
		}
	}
	return outcome
}

func (c *Collector) collectPage(ctx context.Context, pageID int, opts Options) error {
	var page catalog.PageResult
	err := retry.Do(ctx, func(ctx context.Context) error {
		var fetchErr error
		page, fetchErr = c.fetcher.FetchPage(ctx, pageID)
		return fetchErr
	}, c.retryOptions(opts))
	if err != nil {
		return err
	}

	_, invalid := catalog.PartitionRecords(page.Records)
	if len(invalid) > 0 {
		c.logger.Warn("dropping malformed records",
			zap.Int("page", pageID),
			zap.Int("count", len(invalid)))
	}

	records := make([]catalog.ProductRecord, 0, len(page.Records))
	for i, raw := range page.Records {
		if !raw.Identified() {
			continue
		}
		records = append(records, catalog.ProductRecord{
			URL:           raw.URL,
			Manufacturer:  raw.Manufacturer,
			Model:         raw.Model,
			CertificateID: raw.CertificateID,
			PageID:        page.PageID,
			IndexInPage:   i,
		})
	}
	for _, record := range records {
		if err := c.store.UpsertProduct(ctx, record); err != nil {
			return fmt.Errorf("persist page %d: %w", pageID, err)
		}
	}

	validation := catalog.ValidatePage(pageID, records, page.IsLastPage, c.expected, 0)
	if !validation.Complete {
		c.logger.Warn("page still incomplete after collection",
			zap.Int("page", pageID),
			zap.Ints("missing", validation.MissingIndices))
	}
	return nil
}

func (c *Collector) retryOptions(opts Options) retry.Options {
	return retry.Options{
		MaxRetries: opts.MaxRetries,
		BaseDelay:  opts.RetryBase,
		MaxDelay:   opts.RetryMax,
		ShouldAbort: func(_ int, err error) bool {
			return !catalog.IsRetryableFetch(err)
		},
	}
}

// pagesInRangeOrder walks the report's ranges in order, each from its
// StartPage down to its EndPage, preserving the descending convention.
func pagesInRangeOrder(report Report) []int {
	var pageIDs []int
	for _, r := range report.Ranges {
		for pageID := r.StartPage; pageID >= r.EndPage; pageID-- {
			pageIDs = append(pageIDs, pageID)
		}
	}
	return pageIDs
}
