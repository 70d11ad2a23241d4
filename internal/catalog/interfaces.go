package catalog

import "context"

// PageFetcher retrieves listing pages and product detail pages. Both the
// browser-driven and the HTTP-driven strategy satisfy this contract.
type PageFetcher interface {
	// FetchPage returns the ordered raw product records found on the
	// zero-based page index, plus pagination metadata.
	FetchPage(ctx context.Context, pageID int) (PageResult, error)
	// FetchDetail returns the extended attributes from a product page.
	FetchDetail(ctx context.Context, url string) (ProductDetail, error)
	// TotalPages reports the site's page count. A cached value is served
	// until its TTL lapses; force bypasses the cache.
	TotalPages(ctx context.Context, force bool) (int, error)
	// Close releases fetcher resources (browser contexts, transports).
	Close(ctx context.Context) error
}

// ProductStore persists summary and detail rows. The core addresses it by
// URL and by (pageID, indexInPage) and assumes nothing about the engine.
type ProductStore interface {
	UpsertProduct(ctx context.Context, record ProductRecord) error
	UpsertDetail(ctx context.Context, detail ProductDetail) error
	GetProduct(ctx context.Context, url string) (ProductRecord, error)
	GetDetail(ctx context.Context, url string) (ProductDetail, error)
	// PageIndices returns, for each page id in [startID, endID] that has
	// at least one row, the sorted set of IndexInPage values present.
	PageIndices(ctx context.Context, startID, endID int) (map[int][]int, error)
	// URLsWithoutDetails lists summary URLs absent from the detail table.
	URLsWithoutDetails(ctx context.Context) ([]string, error)
	// DeletePageRange removes summary and detail rows for pages in
	// [startID, endID] atomically across both tables.
	DeletePageRange(ctx context.Context, startID, endID int) (int64, error)
	SetMeta(ctx context.Context, key, value string) error
	GetMeta(ctx context.Context, key string) (string, error)
	Close()
}
