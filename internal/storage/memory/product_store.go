// Package memory provides an in-process ProductStore. It backs --dry-run
// crawls and unit tests that need real store semantics without Postgres.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Chanseok/matter-certis-crawler/internal/catalog"
)

// ProductStore keeps all rows in maps guarded by one mutex. Semantics mirror
// the Postgres store: URL-keyed upserts, catalog.ErrNotFound on misses, and
// range deletes that drop details together with their summary rows.
type ProductStore struct {
	mu       sync.Mutex
	products map[string]catalog.ProductRecord
	details  map[string]catalog.ProductDetail
	meta     map[string]string
}

// NewProductStore returns an empty store.
func NewProductStore() *ProductStore {
	return &ProductStore{
		products: make(map[string]catalog.ProductRecord),
		details:  make(map[string]catalog.ProductDetail),
		meta:     make(map[string]string),
	}
}

func (s *ProductStore) UpsertProduct(_ context.Context, record catalog.ProductRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[record.URL] = record
	return nil
}

func (s *ProductStore) UpsertDetail(_ context.Context, detail catalog.ProductDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.details[detail.URL] = detail
	return nil
}

func (s *ProductStore) GetProduct(_ context.Context, url string) (catalog.ProductRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.products[url]
	if !ok {
		return catalog.ProductRecord{}, catalog.ErrNotFound
	}
	return record, nil
}

func (s *ProductStore) GetDetail(_ context.Context, url string) (catalog.ProductDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	detail, ok := s.details[url]
	if !ok {
		return catalog.ProductDetail{}, catalog.ErrNotFound
	}
	return detail, nil
}

// PageIndices returns, per page in [startID, endID], the sorted slot indices
// currently persisted for that page.
func (s *ProductStore) PageIndices(_ context.Context, startID, endID int) (map[int][]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	indices := make(map[int][]int)
	for _, record := range s.products {
		if record.PageID < startID || record.PageID > endID {
			continue
		}
		indices[record.PageID] = append(indices[record.PageID], record.IndexInPage)
	}
	for pageID := range indices {
		sort.Ints(indices[pageID])
	}
	return indices, nil
}

// URLsWithoutDetails lists summary URLs lacking a detail row, newest pages
// first to match the Postgres ordering.
func (s *ProductStore) URLsWithoutDetails(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	missing := make([]catalog.ProductRecord, 0)
	for url, record := range s.products {
		if _, ok := s.details[url]; !ok {
			missing = append(missing, record)
		}
	}
	sort.Slice(missing, func(i, j int) bool {
		if missing[i].PageID != missing[j].PageID {
			return missing[i].PageID > missing[j].PageID
		}
		return missing[i].IndexInPage < missing[j].IndexInPage
	})
	urls := make([]string, len(missing))
	for i, record := range missing {
		urls[i] = record.URL
	}
	return urls, nil
}

func (s *ProductStore) DeletePageRange(_ context.Context, startID, endID int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for url, record := range s.products {
		if record.PageID < startID || record.PageID > endID {
			continue
		}
		delete(s.products, url)
		delete(s.details, url)
		deleted++
	}
	return deleted, nil
}

func (s *ProductStore) SetMeta(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[key] = value
	return nil
}

func (s *ProductStore) GetMeta(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.meta[key]
	if !ok {
		return "", catalog.ErrNotFound
	}
	return value, nil
}

// Len reports the number of summary rows, for assertions in tests.
func (s *ProductStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.products)
}

func (s *ProductStore) Close() {}
