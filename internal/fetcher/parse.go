package fetcher

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Chanseok/matter-certis-crawler/internal/catalog"
)

// ListingPage is the raw outcome of parsing one catalog listing page.
type ListingPage struct {
	Records    []catalog.RawProduct
	TotalPages int
}

// ParseListing extracts the ordered product records and the total-page count
// from a listing page's HTML. A page with no product container at all is an
// extraction failure; an empty pagination block is tolerated (TotalPages 0).
func ParseListing(r io.Reader) (ListingPage, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return ListingPage{}, fmt.Errorf("parse listing html: %w", err)
	}

	container := doc.Find("div.product-listing")
	if container.Length() == 0 {
		return ListingPage{}, fmt.Errorf("no product listing container in document")
	}

	var page ListingPage
	container.Find("div.product-card").Each(func(_ int, card *goquery.Selection) {
		link := card.Find("a.product-title").First()
		href, _ := link.Attr("href")
		page.Records = append(page.Records, catalog.RawProduct{
			URL:           strings.TrimSpace(href),
			Model:         strings.TrimSpace(link.Text()),
			Manufacturer:  strings.TrimSpace(card.Find("p.product-manufacturer").First().Text()),
			CertificateID: strings.TrimSpace(card.Find("span.certificate-id").First().Text()),
		})
	})

	page.TotalPages = parseTotalPages(doc)
	return page, nil
}

// parseTotalPages reads the highest numeric page link from the pagination
// controls. The "last" anchor usually carries it, but scanning every link is
// robust against truncated pagination.
func parseTotalPages(doc *goquery.Document) int {
	total := 0
	doc.Find("nav.pagination a.page-numbers").Each(func(_ int, sel *goquery.Selection) {
		if n, err := strconv.Atoi(strings.TrimSpace(sel.Text())); err == nil && n > total {
			total = n
		}
	})
	return total
}

// detailDateLayouts are the formats the site has been observed to render
// certification dates in.
var detailDateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"January 2, 2006",
}

// ParseDetail extracts the extended attributes from a product detail page.
func ParseDetail(r io.Reader, url string) (catalog.ProductDetail, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return catalog.ProductDetail{}, fmt.Errorf("parse detail html: %w", err)
	}

	rows := doc.Find("table.product-info tr")
	if rows.Length() == 0 {
		return catalog.ProductDetail{}, fmt.Errorf("no product info table in document")
	}

	detail := catalog.ProductDetail{URL: url}
	rows.Each(func(_ int, row *goquery.Selection) {
		label := strings.TrimSpace(row.Find("th").First().Text())
		value := strings.TrimSpace(row.Find("td").First().Text())
		if value == "" {
			return
		}
		switch strings.ToLower(label) {
		case "device type":
			detail.DeviceType = value
		case "certification id":
			detail.CertificationID = value
		case "certification date":
			detail.CertificationDate = parseDetailDate(value)
		case "software version":
			detail.SoftwareVersion = value
		case "hardware version":
			detail.HardwareVersion = value
		case "firmware version":
			detail.FirmwareVersion = value
		case "specification version":
			detail.SpecVersion = value
		case "vendor id", "vid":
			detail.VendorID = parseNumericID(value)
		case "product id", "pid":
			detail.ProductID = parseNumericID(value)
		case "transport interface":
			detail.Transport = value
		case "category":
			detail.Category = value
		}
	})
	return detail, nil
}

func parseDetailDate(value string) time.Time {
	for _, layout := range detailDateLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// parseNumericID handles both decimal and 0x-prefixed hex identifiers.
func parseNumericID(value string) int {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 0, 64)
	if err != nil {
		return 0
	}
	return int(n)
}
