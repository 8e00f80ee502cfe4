package fetch

import (
	"bytes"
	"net/http"

	"github.com/localrank/gridrank/internal/rank"
)

// challengeMarkers are byte sequences that identify an interstitial
// bot-challenge page rather than real results.
var challengeMarkers = [][]byte{
	[]byte("unusual traffic"),
	[]byte("/sorry/index"),
	[]byte("g-recaptcha"),
	[]byte("recaptcha"),
	[]byte("captcha-form"),
	[]byte("detected unusual activity"),
}

// Detector decides when a probe response needs a headless retry.
type Detector struct {
	// MinBodyBytes is the smallest body that can plausibly hold results.
	MinBodyBytes int
}

// NewDetector creates a Detector with the default body floor.
func NewDetector() *Detector {
	return &Detector{MinBodyBytes: 1024}
}

// IsChallenge reports whether the response is a bot-challenge page.
func (d *Detector) IsChallenge(content rank.SearchContent) bool {
	if content.StatusCode == http.StatusTooManyRequests || content.StatusCode == http.StatusForbidden {
		return true
	}
	lower := bytes.ToLower(content.Body)
	for _, marker := range challengeMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ShouldPromote reports whether a headless fetch is warranted: a challenge
// page, an empty body, or one too small to contain a ranked list.
func (d *Detector) ShouldPromote(content rank.SearchContent) bool {
	if d.IsChallenge(content) {
		return true
	}
	return len(content.Body) < d.MinBodyBytes
}
