package fetch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/localrank/gridrank/internal/metrics"
	"github.com/localrank/gridrank/internal/rank"
)

// Client is the full fetch pipeline: probe first, then a headless promotion
// when the probe response looks like a challenge or an empty shell. It
// implements rank.SearchFetcher.
type Client struct {
	probe    rank.SearchFetcher
	headless rank.SearchFetcher
	detector *Detector
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// NewClient creates a Client. headless may be nil; challenges then surface
// as rank.ErrBotChallenge so the retry policy can back off.
func NewClient(probe, headless rank.SearchFetcher, detector *Detector, log *zap.Logger) *Client {
	if detector == nil {
		detector = NewDetector()
	}
	return &Client{
		probe:    probe,
		headless: headless,
		detector: detector,
		log:      log,
		metrics:  metrics.Default(),
	}
}

// Fetch retrieves one results page for the request.
func (c *Client) Fetch(ctx context.Context, req rank.SearchRequest) (rank.SearchContent, error) {
	content, probeErr := c.probe.Fetch(ctx, req)
	if probeErr == nil && !c.detector.ShouldPromote(content) {
		return content, nil
	}

	if c.headless == nil {
		if probeErr != nil {
			return rank.SearchContent{}, probeErr
		}
		return content, fmt.Errorf("point %s: %w", req.PointID, rank.ErrBotChallenge)
	}

	if probeErr != nil {
		c.log.Warn("probe fetch failed, promoting to headless",
			zap.String("point_id", req.PointID),
			zap.Error(probeErr))
	} else {
		c.log.Info("probe response rejected, promoting to headless",
			zap.String("point_id", req.PointID),
			zap.Int("status", content.StatusCode),
			zap.Int("body_bytes", len(content.Body)))
	}
	c.metrics.HeadlessPromoted.Inc()

	promoted, err := c.headless.Fetch(ctx, req)
	if err != nil {
		return rank.SearchContent{}, fmt.Errorf("headless promotion: %w", err)
	}
	if c.detector.IsChallenge(promoted) {
		return promoted, fmt.Errorf("point %s: %w", req.PointID, rank.ErrBotChallenge)
	}
	promoted.UsedHeadless = true
	return promoted, nil
}
