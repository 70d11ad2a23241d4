// Package httpfetch implements the catalog PageFetcher over plain HTTP using
// the Colly collector. It is the lighter alternative to the browser-driven
// strategy and suffices when the catalog serves the product table statically.
package httpfetch

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/Chanseok/matter-certis-crawler/internal/catalog"
	"github.com/Chanseok/matter-certis-crawler/internal/fetcher"
)

// Config controls collector behavior.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	CacheTTL  time.Duration
}

// Fetcher implements catalog.PageFetcher using Colly.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	cache         *fetcher.PageCountCache
	logger        *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		cache:         fetcher.NewPageCountCache(cfg.CacheTTL),
		logger:        logger,
	}, nil
}

// FetchPage retrieves one listing page and extracts its product records.
func (f *Fetcher) FetchPage(ctx context.Context, pageID int) (catalog.PageResult, error) {
	start := time.Now()
	body, err := f.get(ctx, fetcher.PageURL(f.cfg.BaseURL, pageID))
	if err != nil {
		return catalog.PageResult{}, catalog.ClassifyFetchError(err, pageID, 0)
	}

	listing, err := fetcher.ParseListing(bytes.NewReader(body))
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
		HTML:       string(body),
		Duration:   time.Since(start),
	}, nil
}

// FetchDetail retrieves one product page and extracts its attributes.
func (f *Fetcher) FetchDetail(ctx context.Context, url string) (catalog.ProductDetail, error) {
	body, err := f.get(ctx, url)
	if err != nil {
		return catalog.ProductDetail{}, catalog.ClassifyFetchError(err, 0, 0)
	}
	detail, err := fetcher.ParseDetail(bytes.NewReader(body), url)
	if err != nil {
		return catalog.ProductDetail{}, catalog.NewFetchError(catalog.FetchExtraction, 0, 0, err)
	}
	return detail, nil
}

// TotalPages reports the catalog's page count, consulting the TTL cache
// unless force is set. A miss fetches the first page for its pagination.
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
			fmt.Errorf("pagination controls missing from first page"))
	}
	return page.TotalPages, nil
}

// Close implements catalog.PageFetcher; the shared transport needs no
// teardown.
func (f *Fetcher) Close(context.Context) error {
	return nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	collector := f.baseCollector.Clone()
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(f.cfg.Timeout)
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.WithTransport(f.transport)

	var (
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("visit %s: %w", url, err)
		}
		if fetchErr != nil {
			return nil, fmt.Errorf("response for %s: %w", url, fetchErr)
		}
		return body, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
