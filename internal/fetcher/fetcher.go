// Package fetcher holds the pieces shared by the browser-driven and the
// HTTP-driven page fetch strategies: catalog URL construction, product
// extraction from served or rendered HTML, and the total-page-count cache.
package fetcher

import (
	"fmt"
	"strings"
)

// PageURL builds the listing URL for a zero-based page id. The site paginates
// with a 1-based "page" query parameter.
func PageURL(baseURL string, pageID int) string {
	base := strings.TrimRight(baseURL, "/")
	return fmt.Sprintf("%s/?page=%d", base, pageID+1)
}
