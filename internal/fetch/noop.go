package fetch

import (
	"context"
	"fmt"

	"github.com/localrank/gridrank/internal/rank"
)

// NoOp returns a canned results page without any network traffic. Useful for
// local development and pipeline tests.
type NoOp struct{}

// NewNoOp creates a NoOp fetcher.
func NewNoOp() *NoOp {
	return &NoOp{}
}

// Fetch returns a synthetic page echoing the request.
func (n *NoOp) Fetch(_ context.Context, req rank.SearchRequest) (rank.SearchContent, error) {
	body := fmt.Sprintf("<html><body>noop results for %q at %.6f,%.6f</body></html>",
		req.Keyword, req.Lat, req.Lng)
	return rank.SearchContent{
		Body:       []byte(body),
		URL:        SearchURL(req.Keyword, req.Lat, req.Lng),
		StatusCode: 200,
	}, nil
}
