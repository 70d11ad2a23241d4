package catalog

import (
	"fmt"
	"sort"
)

// ValidatePage determines whether a page's product set is structurally
// complete. Non-last pages must carry exactly expectedCount records with the
// index set {0..expectedCount-1}. The last page is complete unconditionally
// unless a known expected count for it is supplied (lastPageExpected > 0).
func ValidatePage(pageID int, records []ProductRecord, isLastPage bool, expectedCount, lastPageExpected int) PageValidationResult {
	want := expectedCount
	if isLastPage {
		if lastPageExpected <= 0 {
			return PageValidationResult{
				Complete:      true,
				ExpectedCount: len(records),
				ActualCount:   len(records),
			}
		}
		want = lastPageExpected
	}

	result := PageValidationResult{
		ExpectedCount: want,
		ActualCount:   len(records),
	}
	present := make(map[int]bool, len(records))
	for _, rec := range records {
		present[rec.IndexInPage] = true
	}
	for i := 0; i < want; i++ {
		if !present[i] {
			result.MissingIndices = append(result.MissingIndices, i)
		}
	}
	sort.Ints(result.MissingIndices)

	if len(result.MissingIndices) == 0 && len(records) == want {
		result.Complete = true
		return result
	}
	result.Reason = fmt.Sprintf("page %d has %d of %d products", pageID, len(records), want)
	return result
}

// PartitionRecords splits raw records into valid and invalid sets. A record
// is valid when it carries a URL and at least one identifying attribute.
func PartitionRecords(records []RawProduct) (valid, invalid []RawProduct) {
	for _, rec := range records {
		if rec.Identified() {
			valid = append(valid, rec)
		} else {
			invalid = append(invalid, rec)
		}
	}
	return valid, invalid
}
