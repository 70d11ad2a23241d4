package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/Chanseok/matter-certis-crawler/internal/catalog"
)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *ProductStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewProductStoreWithDB(mock)
	require.NoError(t, err)
	return mock, store
}

func TestUpsertProduct(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)

	record := catalog.ProductRecord{
		URL:           "https://certis.example/products/plug",
		Manufacturer:  "Acme",
		Model:         "Smart Plug Mini",
		CertificateID: "CSA22041MAT40001",
		PageID:        26,
		IndexInPage:   4,
	}

	mock.ExpectExec("INSERT INTO products").
		WithArgs(record.URL, record.Manufacturer, record.Model, record.CertificateID, record.PageID, record.IndexInPage).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertProduct(context.Background(), record))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertProduct_RequiresURL(t *testing.T) {
	t.Parallel()

	_, store := newMockStore(t)
	require.Error(t, store.UpsertProduct(context.Background(), catalog.ProductRecord{}))
}

func TestUpsertDetail(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)

	detail := catalog.ProductDetail{
		URL:               "https://certis.example/products/plug",
		DeviceType:        "Smart Plug",
		CertificationID:   "CSA22041MAT40001",
		CertificationDate: time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC),
		SoftwareVersion:   "2.1.4",
		HardwareVersion:   "B2",
		FirmwareVersion:   "1.0.9",
		SpecVersion:       "1.2",
		VendorID:          0x110A,
		ProductID:         4097,
		Transport:         "Thread",
		Category:          "Appliances",
	}

	mock.ExpectExec("INSERT INTO product_details").
		WithArgs(
			detail.URL, detail.DeviceType, detail.CertificationID, detail.CertificationDate,
			detail.SoftwareVersion, detail.HardwareVersion, detail.FirmwareVersion, detail.SpecVersion,
			detail.VendorID, detail.ProductID, detail.Transport, detail.Category,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertDetail(context.Background(), detail))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProduct_NotFound(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)

	mock.ExpectQuery("SELECT url, manufacturer").
		WithArgs("https://certis.example/missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetProduct(context.Background(), "https://certis.example/missing")
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestPageIndices(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)

	rows := pgxmock.NewRows([]string{"page_id", "index_in_page"}).
		AddRow(26, 0).
		AddRow(26, 1).
		AddRow(27, 0)
	mock.ExpectQuery("SELECT page_id, index_in_page FROM products").
		WithArgs(0, 49).
		WillReturnRows(rows)

	indices, err := store.PageIndices(context.Background(), 0, 49)
	require.NoError(t, err)
	require.Equal(t, map[int][]int{26: {0, 1}, 27: {0}}, indices)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestURLsWithoutDetails(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)

	rows := pgxmock.NewRows([]string{"url"}).
		AddRow("https://certis.example/products/a").
		AddRow("https://certis.example/products/b")
	mock.ExpectQuery("SELECT p.url FROM products p").
		WillReturnRows(rows)

	urls, err := store.URLsWithoutDetails(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://certis.example/products/a",
		"https://certis.example/products/b",
	}, urls)
}

func TestDeletePageRange_TransactionSpansBothTables(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM product_details").
		WithArgs(10, 12).
		WillReturnResult(pgxmock.NewResult("DELETE", 36))
	mock.ExpectExec("DELETE FROM products").
		WithArgs(10, 12).
		WillReturnResult(pgxmock.NewResult("DELETE", 36))
	mock.ExpectCommit()

	deleted, err := store.DeletePageRange(context.Background(), 10, 12)
	require.NoError(t, err)
	require.Equal(t, int64(36), deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePageRange_RollsBackOnFailure(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM product_details").
		WithArgs(10, 12).
		WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	_, err := store.DeletePageRange(context.Background(), 10, 12)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMetaRoundTrip(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)

	mock.ExpectExec("INSERT INTO crawl_meta").
		WithArgs(catalog.MetaTotalPages, "463").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT value FROM crawl_meta").
		WithArgs(catalog.MetaTotalPages).
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow("463"))

	require.NoError(t, store.SetMeta(context.Background(), catalog.MetaTotalPages, "463"))
	value, err := store.GetMeta(context.Background(), catalog.MetaTotalPages)
	require.NoError(t, err)
	require.Equal(t, "463", value)
	require.NoError(t, mock.ExpectationsWereMet())
}
