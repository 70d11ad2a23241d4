package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Chanseok/matter-certis-crawler/internal/catalog"
)

func seedPage(t *testing.T, store *ProductStore, pageID, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		require.NoError(t, store.UpsertProduct(context.Background(), catalog.ProductRecord{
			URL:         pageURL(pageID, i),
			Model:       "Device",
			PageID:      pageID,
			IndexInPage: i,
		}))
	}
}

func pageURL(pageID, index int) string {
	return "https://certis.example/products/" + string(rune('a'+pageID)) + string(rune('0'+index))
}

func TestUpsertAndGet(t *testing.T) {
	t.Parallel()

	store := NewProductStore()
	ctx := context.Background()

	record := catalog.ProductRecord{URL: "https://certis.example/products/x", Model: "Old"}
	require.NoError(t, store.UpsertProduct(ctx, record))

	record.Model = "New"
	require.NoError(t, store.UpsertProduct(ctx, record))

	got, err := store.GetProduct(ctx, record.URL)
	require.NoError(t, err)
	require.Equal(t, "New", got.Model)
	require.Equal(t, 1, store.Len())

	_, err = store.GetProduct(ctx, "https://certis.example/products/none")
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestPageIndicesRespectsRange(t *testing.T) {
	t.Parallel()

	store := NewProductStore()
	seedPage(t, store, 3, 2)
	seedPage(t, store, 5, 3)
	seedPage(t, store, 9, 1)

	indices, err := store.PageIndices(context.Background(), 3, 5)
	require.NoError(t, err)
	require.Equal(t, map[int][]int{3: {0, 1}, 5: {0, 1, 2}}, indices)
}

func TestURLsWithoutDetailsOrdering(t *testing.T) {
	t.Parallel()

	store := NewProductStore()
	ctx := context.Background()
	seedPage(t, store, 1, 2)
	seedPage(t, store, 4, 1)

	require.NoError(t, store.UpsertDetail(ctx, catalog.ProductDetail{URL: pageURL(1, 1)}))

	urls, err := store.URLsWithoutDetails(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{pageURL(4, 0), pageURL(1, 0)}, urls)
}

func TestDeletePageRangeDropsDetails(t *testing.T) {
	t.Parallel()

	store := NewProductStore()
	ctx := context.Background()
	seedPage(t, store, 2, 2)
	seedPage(t, store, 7, 1)
	require.NoError(t, store.UpsertDetail(ctx, catalog.ProductDetail{URL: pageURL(2, 0)}))

	deleted, err := store.DeletePageRange(ctx, 2, 3)
	require.NoError(t, err)
	require.EqualValues(t, 2, deleted)
	require.Equal(t, 1, store.Len())

	_, err = store.GetDetail(ctx, pageURL(2, 0))
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestMeta(t *testing.T) {
	t.Parallel()

	store := NewProductStore()
	ctx := context.Background()

	_, err := store.GetMeta(ctx, catalog.MetaTotalPages)
	require.ErrorIs(t, err, catalog.ErrNotFound)

	require.NoError(t, store.SetMeta(ctx, catalog.MetaTotalPages, "463"))
	value, err := store.GetMeta(ctx, catalog.MetaTotalPages)
	require.NoError(t, err)
	require.Equal(t, "463", value)
}
