package rank

import (
	"context"
	"time"
)

// SearchFetcher fetches a rendered results page for a keyword/coordinate
// through a proxy session.
type SearchFetcher interface {
	Fetch(ctx context.Context, request SearchRequest) (SearchContent, error)
}

// ResultParser extracts a ranked business list and the target's position
// from a fetched results page.
type ResultParser interface {
	Parse(content []byte, businessName string) (Ranking, error)
}

// HoursOracle returns the open windows for a calendar day, overnight
// wraparound aware.
type HoursOracle interface {
	OpenWindows(cfg HoursConfig, day time.Time) ([]Window, error)
}

// MeasurementConfigSource supplies the weighted keyword/origin selection
// inputs used by the claimer.
type MeasurementConfigSource interface {
	ActiveConfig(ctx context.Context, businessID string) (MeasurementConfig, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for artifact integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
