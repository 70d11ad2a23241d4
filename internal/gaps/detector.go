// Package gaps finds holes in the persisted catalog and re-collects them.
// A gap is a page that is absent or short of its expected product count, or
// a product whose detail row never landed.
package gaps

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/Chanseok/matter-certis-crawler/internal/catalog"
)

// Range is a maximal run of adjacent flagged page ids. The site paginates
// reverse-chronologically, so ranges are reported descending: StartPage is
// the run's largest id and EndPage its smallest. Downstream consumers rely
// on this orientation; do not normalize it.
type Range struct {
	StartPage int `json:"start_page"`
	EndPage   int `json:"end_page"`
	// Priority is 1 for continuous runs (length >= 3), 2 for isolated
	// gaps. Continuous runs usually indicate an interrupted crawl and
	// are worth collecting first.
	Priority int `json:"priority"`
	// Reason labels the run: continuous or isolated, plus how many of
	// its pages are wholly missing versus short. FoldRanges alone sets
	// only the label; detection fills in the page breakdown.
	Reason string `json:"reason"`
	// EstimatedItemCount sums the missing product slots across the
	// run's flagged pages.
	EstimatedItemCount int `json:"estimated_item_count"`
}

// Length reports how many pages the range spans.
func (r Range) Length() int {
	return r.StartPage - r.EndPage + 1
}

// PageGap annotates one flagged page with what exactly is missing.
type PageGap struct {
	PageID         int   `json:"page_id"`
	MissingIndices []int `json:"missing_indices"`
	// WhollyMissing is set when the page has no persisted rows at all.
	WhollyMissing bool `json:"wholly_missing"`
}

// Report is the outcome of one detection pass.
type Report struct {
	Pages  []PageGap `json:"pages"`
	Ranges []Range   `json:"ranges"`
}

// Empty reports whether no gaps were found.
func (r Report) Empty() bool {
	return len(r.Pages) == 0
}

// Detector compares persisted page contents against expected per-page
// counts. It reads crawl metadata persisted by earlier runs and never
// touches the network.
type Detector struct {
	store    catalog.ProductStore
	expected int
	logger   *zap.Logger
}

// NewDetector builds a detector. expectedPerPage is the product count every
// non-last page must carry.
func NewDetector(store catalog.ProductStore, expectedPerPage int, logger *zap.Logger) (*Detector, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if expectedPerPage <= 0 {
		return nil, fmt.Errorf("expected per-page count must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{store: store, expected: expectedPerPage, logger: logger}, nil
}

// MissingProducts scans the whole known page space, bounded by the total
// page count recorded by the last crawl.
func (d *Detector) MissingProducts(ctx context.Context) (Report, error) {
	totalPages, err := d.totalPages(ctx)
	if err != nil {
		return Report{}, err
	}
	return d.MissingProductsInRange(ctx, 0, totalPages-1)
}

// MissingProductsInRange scans pages [startID, endID]. Detection is pure:
// running it twice with no intervening collection yields identical reports.
func (d *Detector) MissingProductsInRange(ctx context.Context, startID, endID int) (Report, error) {
	if startID < 0 || endID < startID {
		return Report{}, fmt.Errorf("invalid page range [%d, %d]", startID, endID)
	}
	totalPages, err := d.totalPages(ctx)
	if err != nil {
		return Report{}, err
	}
	// Requests past the recorded tail would flag pages the site does
	// not have; clamp to the known page space.
	if endID > totalPages-1 {
		endID = totalPages - 1
	}
	if startID > endID {
		return Report{}, nil
	}
	counts, err := d.store.PageIndices(ctx, startID, endID)
	if err != nil {
		return Report{}, fmt.Errorf("scan page indices: %w", err)
	}
	lastExpected := 0
	if raw, err := d.store.GetMeta(ctx, catalog.MetaLastPageCount); err == nil {
		if n, convErr := strconv.Atoi(raw); convErr == nil {
			lastExpected = n
		}
	}

	var report Report
	for pageID := startID; pageID <= endID; pageID++ {
		want := d.expected
		if pageID == totalPages-1 {
			if lastExpected > 0 {
				want = lastExpected
			} else if len(counts[pageID]) > 0 {
				// Tail page of unknown size: any content passes.
				continue
			}
		}
		gap := pageGap(pageID, counts[pageID], want)
		if gap == nil {
			continue
		}
		report.Pages = append(report.Pages, *gap)
	}

	ids := make([]int, len(report.Pages))
	for i, gap := range report.Pages {
		ids[i] = gap.PageID
	}
	report.Ranges = FoldRanges(ids)
	byID := make(map[int]PageGap, len(report.Pages))
	for _, gap := range report.Pages {
		byID[gap.PageID] = gap
	}
	for i := range report.Ranges {
		annotateRange(&report.Ranges[i], byID)
	}

	d.logger.Debug("gap detection finished",
		zap.Int("start", startID),
		zap.Int("end", endID),
		zap.Int("flagged_pages", len(report.Pages)),
		zap.Int("ranges", len(report.Ranges)))
	return report, nil
}

// MissingProductDetails is the cross-table consistency check: summary URLs
// with no detail row. It is independent of page completeness.
func (d *Detector) MissingProductDetails(ctx context.Context) ([]string, error) {
	urls, err := d.store.URLsWithoutDetails(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan for missing details: %w", err)
	}
	return urls, nil
}

func (d *Detector) totalPages(ctx context.Context) (int, error) {
	raw, err := d.store.GetMeta(ctx, catalog.MetaTotalPages)
	if err != nil {
		return 0, fmt.Errorf("total page count unknown, run a crawl first: %w", err)
	}
	totalPages, err := strconv.Atoi(raw)
	if err != nil || totalPages <= 0 {
		return 0, fmt.Errorf("persisted total page count %q is invalid", raw)
	}
	return totalPages, nil
}

func pageGap(pageID int, have []int, want int) *PageGap {
	if len(have) >= want {
		return nil
	}
	present := make(map[int]bool, len(have))
	for _, idx := range have {
		present[idx] = true
	}
	gap := PageGap{PageID: pageID, WhollyMissing: len(have) == 0}
	for i := 0; i < want; i++ {
		if !present[i] {
			gap.MissingIndices = append(gap.MissingIndices, i)
		}
	}
	return &gap
}

// FoldRanges folds distinct page ids into maximal adjacent runs, each
// reported in the descending (StartPage = max) orientation.
func FoldRanges(pageIDs []int) []Range {
	if len(pageIDs) == 0 {
		return nil
	}
	ids := append([]int(nil), pageIDs...)
	sort.Ints(ids)

	var ranges []Range
	runStart, runEnd := ids[0], ids[0]
	flush := func() {
		priority, reason := 2, "isolated"
		if runEnd-runStart+1 >= 3 {
			priority, reason = 1, "continuous"
		}
		ranges = append(ranges, Range{StartPage: runEnd, EndPage: runStart, Priority: priority, Reason: reason})
	}
	for _, id := range ids[1:] {
		switch {
		case id == runEnd:
			// duplicate id
		case id == runEnd+1:
			runEnd = id
		default:
			flush()
			runStart, runEnd = id, id
		}
	}
	flush()
	return ranges
}

// annotateRange fills in the per-page breakdown for one folded range.
func annotateRange(r *Range, byID map[int]PageGap) {
	wholly, short := 0, 0
	for id := r.EndPage; id <= r.StartPage; id++ {
		gap, ok := byID[id]
		if !ok {
			continue
		}
		r.EstimatedItemCount += len(gap.MissingIndices)
		if gap.WhollyMissing {
			wholly++
		} else {
			short++
		}
	}
	switch {
	case wholly > 0 && short > 0:
		r.Reason = fmt.Sprintf("%s, %d wholly missing, %d short", r.Reason, wholly, short)
	case wholly > 0:
		r.Reason = fmt.Sprintf("%s, %d wholly missing", r.Reason, wholly)
	case short > 0:
		r.Reason = fmt.Sprintf("%s, %d short", r.Reason, short)
	}
}
