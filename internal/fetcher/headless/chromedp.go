// Package headless implements the catalog PageFetcher with a real browser
// via chromedp, for when the catalog renders its product table with
// JavaScript.
package headless

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/Chanseok/matter-certis-crawler/internal/catalog"
	"github.com/Chanseok/matter-certis-crawler/internal/fetcher"
)

// Config controls the headless fetcher.
type Config struct {
	BaseURL           string
	UserAgent         string
	MaxParallel       int
	NavigationTimeout time.Duration
	CacheTTL          time.Duration
}

// blockedResourceTypes are skipped during navigation; the product table is
// plain DOM, so images, fonts and styles only cost bandwidth and time.
var blockedResourceTypes = map[string]bool{
	"Image":      true,
	"Font":       true,
	"Stylesheet": true,
	"Media":      true,
}

// Fetcher implements catalog.PageFetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	cache       *fetcher.PageCountCache
	logger      *zap.Logger
}

// New creates a headless fetcher backed by chromedp. Chrome itself starts
// lazily; a broken installation surfaces as an Initialization error on
// first use, not here.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		cache:       fetcher.NewPageCountCache(cfg.CacheTTL),
		logger:      logger,
	}, nil
}

// Close cancels the allocator context, tearing down the browser.
func (f *Fetcher) Close(context.Context) error {
	f.allocCancel()
	return nil
}

// FetchPage renders one listing page and extracts its product records.
func (f *Fetcher) FetchPage(ctx context.Context, pageID int) (catalog.PageResult, error) {
	start := time.Now()
	html, err := f.render(ctx, fetcher.PageURL(f.cfg.BaseURL, pageID), "div.product-listing")
	if err != nil {
		return catalog.PageResult{}, f.classify(err, pageID)
	}

	listing, err := fetcher.ParseListing(strings.NewReader(html))
	if err != nil {
		return catalog.PageResult{}, catalog.NewFetchError(catalog.FetchExtraction, pageID, 0, err)
	}
	if listing.TotalPages > 0 {
		f.cache.Set(listing.TotalPages)
	}

	return catalog.PageResult{
		PageID:     pageID,
		Records:    listing.Records,
		TotalPages: listing.TotalPages,
		IsLastPage: listing.TotalPages > 0 && pageID == listing.TotalPages-1,
		HTML:       html,
		Duration:   time.Since(start),
	}, nil
}

// FetchDetail renders one product page and extracts its attributes.
func (f *Fetcher) FetchDetail(ctx context.Context, url string) (catalog.ProductDetail, error) {
	html, err := f.render(ctx, url, "table.product-info")
	if err != nil {
		return catalog.ProductDetail{}, f.classify(err, 0)
	}
	detail, err := fetcher.ParseDetail(strings.NewReader(html), url)
	if err != nil {
		return catalog.ProductDetail{}, catalog.NewFetchError(catalog.FetchExtraction, 0, 0, err)
	}
	return detail, nil
}

// TotalPages reports the catalog's page count, consulting the TTL cache
// unless force is set.
func (f *Fetcher) TotalPages(ctx context.Context, force bool) (int, error) {
	if count, ok := f.cache.Get(force); ok {
		return count, nil
	}
	page, err := f.FetchPage(ctx, 0)
	if err != nil {
		return 0, err
	}
	if page.TotalPages <= 0 {
		return 0, catalog.NewFetchError(catalog.FetchExtraction, 0, 0,
			fmt.Errorf("pagination controls missing from rendered first page"))
	}
	return page.TotalPages, nil
}

func (f *Fetcher) render(ctx context.Context, url, waitSelector string) (string, error) {
	if err := f.acquire(ctx); err != nil {
		return "", err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()

	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	f.blockResources(taskCtx)

	var html string
	actions := []chromedp.Action{
		fetch.Enable(),
		f.userAgentAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady(waitSelector, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

// blockResources continues or fails paused requests so heavy resource types
// never hit the network.
func (f *Fetcher) blockResources(taskCtx context.Context) {
	chromedp.ListenTarget(taskCtx, func(ev any) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			c := chromedp.FromContext(taskCtx)
			execCtx := cdp.WithExecutor(taskCtx, c.Target)
			if blockedResourceTypes[paused.ResourceType.String()] {
				if err := fetch.FailRequest(paused.RequestID, "BlockedByClient").Do(execCtx); err != nil {
					f.logger.Debug("fail blocked request", zap.Error(err))
				}
				return
			}
			if err := fetch.ContinueRequest(paused.RequestID).Do(execCtx); err != nil {
				f.logger.Debug("continue request", zap.Error(err))
			}
		}()
	})
}

func (f *Fetcher) userAgentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if f.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

func (f *Fetcher) classify(err error, pageID int) *catalog.FetchError {
	fe := catalog.ClassifyFetchError(err, pageID, 0)
	// A dead allocator means Chrome never started; that worker is done but
	// the pool as a whole keeps going.
	if fe.Kind == catalog.FetchNavigation && f.allocator.Err() != nil {
		fe.Kind = catalog.FetchInitialization
	}
	return fe
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

// forwardCancel propagates cancellation of the caller context into the
// chromedp task context without tying their lifetimes together.
func forwardCancel(ctx context.Context, cancel context.CancelFunc) func() {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-stop:
		}
	}()
	return func() { close(stop) }
}
