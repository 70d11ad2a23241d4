// Package catalog defines core types shared across subsystems.
package catalog

import "time"

// RawProduct is a loosely populated record as extracted from a listing page.
// Only URL is guaranteed; everything else depends on what the site rendered.
// Records are validated at the fetch boundary before entering the pipeline.
type RawProduct struct {
	URL           string `json:"url"`
	Manufacturer  string `json:"manufacturer,omitempty"`
	Model         string `json:"model,omitempty"`
	CertificateID string `json:"certificate_id,omitempty"`
}

// Identified reports whether the record carries the identification minimum:
// a URL plus at least one of manufacturer, model, or certificate id.
func (r RawProduct) Identified() bool {
	if r.URL == "" {
		return false
	}
	return r.Manufacturer != "" || r.Model != "" || r.CertificateID != ""
}

// ProductRecord is the persisted summary entity, keyed by URL.
// (PageID, IndexInPage) pairs are unique across the summary table.
type ProductRecord struct {
	URL           string `json:"url"`
	Manufacturer  string `json:"manufacturer"`
	Model         string `json:"model"`
	CertificateID string `json:"certificate_id"`
	// PageID is the zero-based site page index assigned at fetch time.
	PageID int `json:"page_id"`
	// IndexInPage is the zero-based position within the page,
	// 0 <= IndexInPage < products-per-page.
	IndexInPage int `json:"index_in_page"`
}

// ProductDetail holds the extended attributes fetched from a product's own
// page, keyed by the same URL as the summary record.
type ProductDetail struct {
	URL               string    `json:"url"`
	DeviceType        string    `json:"device_type"`
	CertificationID   string    `json:"certification_id"`
	CertificationDate time.Time `json:"certification_date"`
	SoftwareVersion   string    `json:"software_version"`
	HardwareVersion   string    `json:"hardware_version"`
	FirmwareVersion   string    `json:"firmware_version"`
	SpecVersion       string    `json:"spec_version"`
	VendorID          int       `json:"vendor_id"`
	ProductID         int       `json:"product_id"`
	Transport         string    `json:"transport"`
	Category          string    `json:"category"`
}

// PageResult is returned by a PageFetcher for one listing page.
type PageResult struct {
	PageID int
	// Records preserves the on-page order; slot i becomes IndexInPage i.
	Records []RawProduct
	// TotalPages is the page count discovered from pagination controls.
	TotalPages int
	// IsLastPage marks the site's tail page, whose product count may be
	// legitimately smaller than products-per-page.
	IsLastPage bool
	// HTML is the raw page markup, retained so sessions can archive what
	// was actually parsed.
	HTML string
	// Duration is the wall time of the fetch, for observability.
	Duration time.Duration
}

// PageValidationResult describes the structural completeness of one fetched
// page's product set. It is derived, never persisted.
type PageValidationResult struct {
	Complete       bool   `json:"complete"`
	ExpectedCount  int    `json:"expected_count"`
	ActualCount    int    `json:"actual_count"`
	MissingIndices []int  `json:"missing_indices,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// Crawl-meta keys persisted alongside product rows so that gap detection can
// run offline, without re-fetching pagination state.
const (
	MetaTotalPages    = "total_pages"
	MetaLastPageCount = "last_page_count"
)
