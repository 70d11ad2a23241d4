package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func pageRecords(pageID int, indices ...int) []ProductRecord {
	records := make([]ProductRecord, 0, len(indices))
	for _, idx := range indices {
		records = append(records, ProductRecord{
			URL:         "https://certis.example/product/" + string(rune('a'+idx)),
			Model:       "device",
			PageID:      pageID,
			IndexInPage: idx,
		})
	}
	return records
}

func TestValidatePage_CompletePage(t *testing.T) {
	t.Parallel()

	result := ValidatePage(3, pageRecords(3, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11), false, 12, 0)

	require.True(t, result.Complete)
	require.Equal(t, 12, result.ExpectedCount)
	require.Equal(t, 12, result.ActualCount)
	require.Empty(t, result.MissingIndices)
}

func TestValidatePage_MissingTail(t *testing.T) {
	t.Parallel()

	result := ValidatePage(3, pageRecords(3, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9), false, 12, 0)

	require.False(t, result.Complete)
	require.Equal(t, []int{10, 11}, result.MissingIndices)
	require.NotEmpty(t, result.Reason)
}

func TestValidatePage_InteriorGap(t *testing.T) {
	t.Parallel()

	result := ValidatePage(7, pageRecords(7, 0, 1, 3, 4, 5, 6, 7, 8, 9, 10, 11), false, 12, 0)

	require.False(t, result.Complete)
	require.Equal(t, []int{2}, result.MissingIndices)
}

func TestValidatePage_LastPageWithoutKnownCount(t *testing.T) {
	t.Parallel()

	result := ValidatePage(99, pageRecords(99, 0, 1, 2), true, 12, 0)

	require.True(t, result.Complete)
	require.Equal(t, 3, result.ActualCount)
}

func TestValidatePage_LastPageWithKnownCount(t *testing.T) {
	t.Parallel()

	result := ValidatePage(99, pageRecords(99, 0, 1), true, 12, 5)

	require.False(t, result.Complete)
	require.Equal(t, []int{2, 3, 4}, result.MissingIndices)
}

func TestPartitionRecords(t *testing.T) {
	t.Parallel()

	records := []RawProduct{
		{URL: "https://certis.example/a", Manufacturer: "Acme"},
		{URL: "https://certis.example/b"},
		{Manufacturer: "NoURL", Model: "X1"},
		{URL: "https://certis.example/c", CertificateID: "CSA-1234"},
	}

	valid, invalid := PartitionRecords(records)

	require.Len(t, valid, 2)
	require.Len(t, invalid, 2)
	require.Equal(t, "https://certis.example/a", valid[0].URL)
	require.Equal(t, "https://certis.example/c", valid[1].URL)
}
