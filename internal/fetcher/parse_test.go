package fetcher

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const listingHTML = `
<html><body>
<div class="product-listing">
  <div class="product-card">
    <a class="product-title" href="https://certis.example/products/smart-plug">Smart Plug Mini</a>
    <p class="product-manufacturer">Acme Devices</p>
    <span class="certificate-id">CSA22041MAT40001</span>
  </div>
  <div class="product-card">
    <a class="product-title" href="https://certis.example/products/door-lock">Door Lock Pro</a>
    <p class="product-manufacturer">Borealis</p>
    <span class="certificate-id">CSA22042MAT40002</span>
  </div>
</div>
<nav class="pagination">
  <a class="page-numbers" href="?page=1">1</a>
  <a class="page-numbers" href="?page=2">2</a>
  <a class="page-numbers" href="?page=463">463</a>
  <a class="page-numbers next" href="?page=2">Next</a>
</nav>
</body></html>`

const detailHTML = `
<html><body>
<table class="product-info">
  <tr><th>Device Type</th><td>Smart Plug</td></tr>
  <tr><th>Certification ID</th><td>CSA22041MAT40001</td></tr>
  <tr><th>Certification Date</th><td>2024-03-18</td></tr>
  <tr><th>Software Version</th><td>2.1.4</td></tr>
  <tr><th>Hardware Version</th><td>B2</td></tr>
  <tr><th>Firmware Version</th><td>1.0.9</td></tr>
  <tr><th>Specification Version</th><td>1.2</td></tr>
  <tr><th>Vendor ID</th><td>0x110A</td></tr>
  <tr><th>Product ID</th><td>4097</td></tr>
  <tr><th>Transport Interface</th><td>Thread</td></tr>
  <tr><th>Category</th><td>Appliances</td></tr>
</table>
</body></html>`

func TestParseListing(t *testing.T) {
	t.Parallel()

	page, err := ParseListing(strings.NewReader(listingHTML))
	require.NoError(t, err)

	require.Len(t, page.Records, 2)
	require.Equal(t, "https://certis.example/products/smart-plug", page.Records[0].URL)
	require.Equal(t, "Smart Plug Mini", page.Records[0].Model)
	require.Equal(t, "Acme Devices", page.Records[0].Manufacturer)
	require.Equal(t, "CSA22041MAT40001", page.Records[0].CertificateID)
	require.Equal(t, 463, page.TotalPages)
}

func TestParseListing_NoContainerIsExtractionFailure(t *testing.T) {
	t.Parallel()

	_, err := ParseListing(strings.NewReader("<html><body><p>maintenance</p></body></html>"))
	require.Error(t, err)
}

func TestParseDetail(t *testing.T) {
	t.Parallel()

	detail, err := ParseDetail(strings.NewReader(detailHTML), "https://certis.example/products/smart-plug")
	require.NoError(t, err)

	require.Equal(t, "Smart Plug", detail.DeviceType)
	require.Equal(t, "CSA22041MAT40001", detail.CertificationID)
	require.Equal(t, time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC), detail.CertificationDate)
	require.Equal(t, "2.1.4", detail.SoftwareVersion)
	require.Equal(t, 0x110A, detail.VendorID)
	require.Equal(t, 4097, detail.ProductID)
	require.Equal(t, "Thread", detail.Transport)
	require.Equal(t, "Appliances", detail.Category)
}

func TestPageURL_ConvertsToOneBased(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://certis.example/catalog/?page=1", PageURL("https://certis.example/catalog/", 0))
	require.Equal(t, "https://certis.example/catalog/?page=27", PageURL("https://certis.example/catalog", 26))
}

func TestPageCountCache(t *testing.T) {
	t.Parallel()

	cache := NewPageCountCache(time.Minute)
	base := time.Unix(1000, 0)
	cache.now = func() time.Time { return base }

	_, ok := cache.Get(false)
	require.False(t, ok)

	cache.Set(463)
	got, ok := cache.Get(false)
	require.True(t, ok)
	require.Equal(t, 463, got)

	// Forced refresh bypasses a fresh entry.
	_, ok = cache.Get(true)
	require.False(t, ok)

	// Expiry.
	cache.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, ok = cache.Get(false)
	require.False(t, ok)
}
