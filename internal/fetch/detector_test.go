package fetch

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/localrank/gridrank/internal/rank"
)

func resultsPage() []byte {
	return bytes.Repeat([]byte("<div class=\"result\">Joe's Plumbing</div>"), 50)
}

func TestDetectorChallengeByStatus(t *testing.T) {
	t.Parallel()

	d := NewDetector()
	require.True(t, d.IsChallenge(rank.SearchContent{StatusCode: 429, Body: resultsPage()}))
	require.True(t, d.IsChallenge(rank.SearchContent{StatusCode: 403, Body: resultsPage()}))
	require.False(t, d.IsChallenge(rank.SearchContent{StatusCode: 200, Body: resultsPage()}))
}

func TestDetectorChallengeByMarker(t *testing.T) {
	t.Parallel()

	d := NewDetector()
	body := []byte("<html>Our systems have detected unusual traffic from your network</html>")
	require.True(t, d.IsChallenge(rank.SearchContent{StatusCode: 200, Body: body}))

	body = []byte("<html><div class=\"g-recaptcha\" data-sitekey=\"x\"></div></html>")
	require.True(t, d.IsChallenge(rank.SearchContent{StatusCode: 200, Body: body}))
}

func TestDetectorPromotesTinyBodies(t *testing.T) {
	t.Parallel()

	d := NewDetector()
	require.True(t, d.ShouldPromote(rank.SearchContent{StatusCode: 200, Body: []byte("<html></html>")}))
	require.True(t, d.ShouldPromote(rank.SearchContent{StatusCode: 200}))
	require.False(t, d.ShouldPromote(rank.SearchContent{StatusCode: 200, Body: resultsPage()}))
}
