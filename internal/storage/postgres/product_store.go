// Package postgres provides the Postgres-backed ProductStore.
//
// Expected schema:
//
//	CREATE TABLE products (
//	    url            TEXT PRIMARY KEY,
//	    manufacturer   TEXT NOT NULL DEFAULT '',
//	    model          TEXT NOT NULL DEFAULT '',
//	    certificate_id TEXT NOT NULL DEFAULT '',
//	    page_id        INT  NOT NULL,
//	    index_in_page  INT  NOT NULL,
//	    UNIQUE (page_id, index_in_page)
//	);
//	CREATE TABLE product_details (
//	    url                TEXT PRIMARY KEY REFERENCES products(url) ON DELETE CASCADE,
//	    device_type        TEXT NOT NULL DEFAULT '',
//	    certification_id   TEXT NOT NULL DEFAULT '',
//	    certification_date TIMESTAMPTZ,
//	    software_version   TEXT NOT NULL DEFAULT '',
//	    hardware_version   TEXT NOT NULL DEFAULT '',
//	    firmware_version   TEXT NOT NULL DEFAULT '',
//	    spec_version       TEXT NOT NULL DEFAULT '',
//	    vendor_id          INT  NOT NULL DEFAULT 0,
//	    product_id         INT  NOT NULL DEFAULT 0,
//	    transport          TEXT NOT NULL DEFAULT '',
//	    category           TEXT NOT NULL DEFAULT ''
//	);
//	CREATE TABLE crawl_meta (
//	    key   TEXT PRIMARY KEY,
//	    value TEXT NOT NULL
//	);
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Chanseok/matter-certis-crawler/internal/catalog"
)

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// ProductStore persists summary and detail rows in Postgres.
type ProductStore struct {
	pool db
}

// NewProductStore connects a pool using the provided config.
func NewProductStore(ctx context.Context, cfg Config) (*ProductStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ProductStore{pool: pool}, nil
}

// NewProductStoreWithDB constructs a store from an existing pool (primarily
// for testing with pgxmock).
func NewProductStoreWithDB(pool db) (*ProductStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProductStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ProductStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertProduct inserts or replaces one summary row, keyed by URL.
func (s *ProductStore) UpsertProduct(ctx context.Context, record catalog.ProductRecord) error {
	if record.URL == "" {
		return fmt.Errorf("product url is required")
	}
	query := `
INSERT INTO products (url, manufacturer, model, certificate_id, page_id, index_in_page)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (url) DO UPDATE SET
	manufacturer = EXCLUDED.manufacturer,
	model = EXCLUDED.model,
	certificate_id = EXCLUDED.certificate_id,
	page_id = EXCLUDED.page_id,
	index_in_page = EXCLUDED.index_in_page`
	if _, err := s.pool.Exec(ctx, query,
		record.URL, record.Manufacturer, record.Model, record.CertificateID,
		record.PageID, record.IndexInPage,
	); err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// UpsertDetail inserts or replaces one detail row, keyed by URL.
func (s *ProductStore) UpsertDetail(ctx context.Context, detail catalog.ProductDetail) error {
	if detail.URL == "" {
		return fmt.Errorf("detail url is required")
	}
	query := `
INSERT INTO product_details (
	url, device_type, certification_id, certification_date,
	software_version, hardware_version, firmware_version, spec_version,
	vendor_id, product_id, transport, category
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (url) DO UPDATE SET
	device_type = EXCLUDED.device_type,
	certification_id = EXCLUDED.certification_id,
	certification_date = EXCLUDED.certification_date,
	software_version = EXCLUDED.software_version,
	hardware_version = EXCLUDED.hardware_version,
	firmware_version = EXCLUDED.firmware_version,
	spec_version = EXCLUDED.spec_version,
	vendor_id = EXCLUDED.vendor_id,
	product_id = EXCLUDED.product_id,
	transport = EXCLUDED.transport,
	category = EXCLUDED.category`
	if _, err := s.pool.Exec(ctx, query,
		detail.URL, detail.DeviceType, detail.CertificationID, detail.CertificationDate,
		detail.SoftwareVersion, detail.HardwareVersion, detail.FirmwareVersion, detail.SpecVersion,
		detail.VendorID, detail.ProductID, detail.Transport, detail.Category,
	); err != nil {
		return fmt.Errorf("upsert detail: %w", err)
	}
	return nil
}

// GetProduct fetches one summary row; catalog.ErrNotFound when absent.
func (s *ProductStore) GetProduct(ctx context.Context, url string) (catalog.ProductRecord, error) {
	query := `
SELECT url, manufacturer, model, certificate_id, page_id, index_in_page
FROM products WHERE url = $1`
	var record catalog.ProductRecord
	err := s.pool.QueryRow(ctx, query, url).Scan(
		&record.URL, &record.Manufacturer, &record.Model,
		&record.CertificateID, &record.PageID, &record.IndexInPage,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.ProductRecord{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.ProductRecord{}, fmt.Errorf("get product: %w", err)
	}
	return record, nil
}

// GetDetail fetches one detail row; catalog.ErrNotFound when absent.
func (s *ProductStore) GetDetail(ctx context.Context, url string) (catalog.ProductDetail, error) {
	query := `
SELECT url, device_type, certification_id, certification_date,
	software_version, hardware_version, firmware_version, spec_version,
	vendor_id, product_id, transport, category
FROM product_details WHERE url = $1`
	var detail catalog.ProductDetail
	err := s.pool.QueryRow(ctx, query, url).Scan(
		&detail.URL, &detail.DeviceType, &detail.CertificationID, &detail.CertificationDate,
		&detail.SoftwareVersion, &detail.HardwareVersion, &detail.FirmwareVersion, &detail.SpecVersion,
		&detail.VendorID, &detail.ProductID, &detail.Transport, &detail.Category,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.ProductDetail{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.ProductDetail{}, fmt.Errorf("get detail: %w", err)
	}
	return detail, nil
}

// PageIndices returns the present index sets for pages in [startID, endID].
func (s *ProductStore) PageIndices(ctx context.Context, startID, endID int) (map[int][]int, error) {
	query := `
SELECT page_id, index_in_page FROM products
WHERE page_id BETWEEN $1 AND $2
ORDER BY page_id, index_in_page`
	rows, err := s.pool.Query(ctx, query, startID, endID)
	if err != nil {
		return nil, fmt.Errorf("query page indices: %w", err)
	}
	defer rows.Close()

	indices := make(map[int][]int)
	for rows.Next() {
		var pageID, index int
		if err := rows.Scan(&pageID, &index); err != nil {
			return nil, fmt.Errorf("scan page index: %w", err)
		}
		indices[pageID] = append(indices[pageID], index)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate page indices: %w", err)
	}
	return indices, nil
}

// URLsWithoutDetails lists summary URLs that have no detail row yet.
func (s *ProductStore) URLsWithoutDetails(ctx context.Context) ([]string, error) {
	query := `
SELECT p.url FROM products p
LEFT JOIN product_details d ON d.url = p.url
WHERE d.url IS NULL
ORDER BY p.page_id DESC, p.index_in_page`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query urls without details: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("scan url: %w", err)
		}
		urls = append(urls, url)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate urls: %w", err)
	}
	return urls, nil
}

// DeletePageRange removes summary and detail rows for pages in
// [startID, endID] inside one transaction, so an interruption cannot leave
// the tables inconsistent.
func (s *ProductStore) DeletePageRange(ctx context.Context, startID, endID int) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin delete range: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
DELETE FROM product_details
WHERE url IN (SELECT url FROM products WHERE page_id BETWEEN $1 AND $2)`,
		startID, endID,
	); err != nil {
		return 0, fmt.Errorf("delete details in range: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM products WHERE page_id BETWEEN $1 AND $2`, startID, endID)
	if err != nil {
		return 0, fmt.Errorf("delete products in range: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit delete range: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SetMeta upserts one crawl-meta entry.
func (s *ProductStore) SetMeta(ctx context.Context, key, value string) error {
	query := `
INSERT INTO crawl_meta (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
	if _, err := s.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("set meta %q: %w", key, err)
	}
	return nil
}

// GetMeta reads one crawl-meta entry; catalog.ErrNotFound when absent.
func (s *ProductStore) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM crawl_meta WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", catalog.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get meta %q: %w", key, err)
	}
	return value, nil
}
