// Package fetch retrieves search results pages for grid coordinates. A cheap
// HTTP probe goes first; responses that look like a bot challenge are
// promoted to a headless browser.
package fetch

import (
	"fmt"
	"net/url"
)

// SearchURL builds the results-page URL for a keyword anchored at a
// coordinate. The zoom level keeps the result set local to the grid point.
func SearchURL(keyword string, lat, lng float64) string {
	return fmt.Sprintf("https://www.google.com/maps/search/%s/@%.6f,%.6f,14z",
		url.PathEscape(keyword), lat, lng)
}
