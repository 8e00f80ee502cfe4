// Package rank defines core types shared across subsystems.
package rank

import "time"

// RunStatus represents the lifecycle state of a grid measurement run.
type RunStatus string

// Run status values persisted in the run store. Status only ever moves
// forward through this order.
const (
	RunStatusQueued  RunStatus = "queued"
	RunStatusRunning RunStatus = "running"
	RunStatusDone    RunStatus = "done"
	RunStatusError   RunStatus = "error"
)

// SentinelRank is recorded when a point was measured but the target business
// did not appear anywhere in the results.
const SentinelRank = 999

// DefaultMinLeadMinutes is the minimum notice a run start must have before
// its window's closing boundary.
const DefaultMinLeadMinutes = 120

// Schedule is the persistent per-business recurring-schedule row.
// A non-nil LockedAt means a claimer currently owns the schedule.
type Schedule struct {
	BusinessID     string       `json:"business_id"`
	DayOfWeek      time.Weekday `json:"day_of_week"`
	Hour           int          `json:"hour"`
	Minute         int          `json:"minute"`
	MinLeadMinutes int          `json:"min_lead_minutes"`
	NextRunAt      *time.Time   `json:"next_run_at,omitempty"`
	LastRunAt      *time.Time   `json:"last_run_at,omitempty"`
	LockedAt       *time.Time   `json:"locked_at,omitempty"`
	Active         bool         `json:"is_active"`
}

// MinLead returns the schedule's lead time as a duration, applying the
// default when the row predates the column.
func (s Schedule) MinLead() time.Duration {
	if s.MinLeadMinutes <= 0 {
		return DefaultMinLeadMinutes * time.Minute
	}
	return time.Duration(s.MinLeadMinutes) * time.Minute
}

// Run is one grid measurement attempt for a business+keyword+origin.
type Run struct {
	ID           string    `json:"id"`
	BusinessID   string    `json:"business_id"`
	Keyword      string    `json:"keyword"`
	OriginLat    float64   `json:"origin_lat"`
	OriginLng    float64   `json:"origin_lng"`
	RadiusMiles  float64   `json:"radius_miles"`
	GridRows     int       `json:"grid_rows"`
	GridCols     int       `json:"grid_cols"`
	SpacingMiles float64   `json:"spacing_miles"`
	Status       RunStatus `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Point is one grid coordinate and its measured rank. RankPos and MeasuredAt
// are written exactly once, null to final.
type Point struct {
	ID          string     `json:"id"`
	RunID       string     `json:"run_id"`
	RowIndex    int        `json:"row_index"`
	ColIndex    int        `json:"col_index"`
	Lat         float64    `json:"lat"`
	Lng         float64    `json:"lng"`
	RankPos     *int       `json:"rank_pos,omitempty"`
	MeasuredAt  *time.Time `json:"measured_at,omitempty"`
	BlobURI     string     `json:"blob_uri,omitempty"`
	ContentHash string     `json:"content_hash,omitempty"`
}

// Place is one ranked competitor extracted from a results page.
type Place struct {
	Position    int     `json:"position"`
	Name        string  `json:"name"`
	Rating      float64 `json:"rating,omitempty"`
	ReviewCount int     `json:"review_count,omitempty"`
	Address     string  `json:"address,omitempty"`
}

// RankingSnapshot is the append-only ranked-competitor record written for
// each successful measurement. Never mutated after insert.
type RankingSnapshot struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	PointID      string    `json:"point_id"`
	BusinessName string    `json:"business_name"`
	Rank         int       `json:"rank"`
	TotalResults int       `json:"total_results"`
	Places       []Place   `json:"places"`
	CapturedAt   time.Time `json:"captured_at"`
}

// DayHours is the recurring open/close config for one weekday, in the
// business's local timezone. An overnight window has Close <= Open.
type DayHours struct {
	Open   string `json:"open" mapstructure:"open"`
	Close  string `json:"close" mapstructure:"close"`
	Closed bool   `json:"closed" mapstructure:"closed"`
}

// HoursConfig is the weekly recurring business-hours configuration.
type HoursConfig struct {
	Timezone string                    `json:"timezone" mapstructure:"timezone"`
	Days     map[time.Weekday]DayHours `json:"days" mapstructure:"days"`
}

// Window is one concrete open interval on a specific day.
type Window struct {
	Start time.Time
	End   time.Time
}

// WeightedKeyword is a keyword candidate with its selection weight.
type WeightedKeyword struct {
	Text   string `json:"text"`
	Weight int    `json:"weight"`
}

// OriginZone is a grid-origin candidate with its selection weight.
type OriginZone struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Weight int     `json:"weight"`
}

// MeasurementConfig is the read-only per-business configuration the claimer
// draws keyword/origin selections from.
type MeasurementConfig struct {
	BusinessID   string            `json:"business_id"`
	BusinessName string            `json:"business_name"`
	Active       bool              `json:"is_active"`
	Keywords     []WeightedKeyword `json:"keywords"`
	OriginZones  []OriginZone      `json:"origin_zones"`
	RadiusMiles  float64           `json:"radius_miles"`
	GridRows     int               `json:"grid_rows"`
	GridCols     int               `json:"grid_cols"`
	Hours        HoursConfig       `json:"hours"`
}

// ProxyConfig carries residential-proxy session credentials. Threaded
// explicitly through each request so execution units never share state.
type ProxyConfig struct {
	Server   string `json:"server" mapstructure:"server"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
}

// SearchRequest captures everything needed to measure one grid point.
type SearchRequest struct {
	RunID   string
	PointID string
	Keyword string
	Lat     float64
	Lng     float64
	Proxy   ProxyConfig
}

// SearchContent is a fetched results page plus fetch metadata.
type SearchContent struct {
	Body         []byte
	URL          string
	StatusCode   int
	Duration     time.Duration
	UsedHeadless bool
}

// Ranking is the parsed outcome for one results page. Matched false with a
// nil error means the page parsed cleanly but the target was absent.
type Ranking struct {
	Rank         int     `json:"rank"`
	Matched      bool    `json:"matched"`
	TotalResults int     `json:"total_results"`
	Places       []Place `json:"places"`
}
