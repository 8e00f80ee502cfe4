// Package claimer turns due schedules into concrete grid runs. It claims
// schedules through the store's locking query, draws a weighted
// keyword/origin selection for each, and inserts the run with its full grid
// atomically.
package claimer

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/localrank/gridrank/internal/grid"
	"github.com/localrank/gridrank/internal/metrics"
	"github.com/localrank/gridrank/internal/rank"
)

// DefaultSpacingMiles is used when a grid axis has a single cell and spacing
// cannot be derived from the radius.
const DefaultSpacingMiles = 0.5

// ScheduleStore is the schedule surface the claimer needs.
type ScheduleStore interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]rank.Schedule, error)
	ReleaseLock(ctx context.Context, businessID string) error
}

// RunStore is the run surface the claimer needs.
type RunStore interface {
	HasUnfinishedRun(ctx context.Context, businessID string) (bool, error)
	CreateRunWithPoints(ctx context.Context, run rank.Run, points []rank.Point) error
}

// Claimer claims due schedules and creates their runs. One failed business
// never blocks the rest of the batch.
type Claimer struct {
	schedules  ScheduleStore
	runs       RunStore
	configs    rank.MeasurementConfigSource
	clock      rank.Clock
	log        *zap.Logger
	metrics    *metrics.Metrics
	batchLimit int

	// intn is swapped for a deterministic pick in tests.
	intn func(n int) int
}

// New creates a Claimer.
func New(
	schedules ScheduleStore,
	runs RunStore,
	configs rank.MeasurementConfigSource,
	clock rank.Clock,
	log *zap.Logger,
	batchLimit int,
) *Claimer {
	return &Claimer{
		schedules:  schedules,
		runs:       runs,
		configs:    configs,
		clock:      clock,
		log:        log,
		metrics:    metrics.Default(),
		batchLimit: batchLimit,
		intn:       rand.IntN,
	}
}

// RunOnce claims one batch of due schedules and creates a run for each.
// It returns the number of runs created. Per-business failures release that
// business's lock and move on.
func (c *Claimer) RunOnce(ctx context.Context) (int, error) {
	now := c.clock.Now()
	claimed, err := c.schedules.ClaimDue(ctx, now, c.batchLimit)
	if err != nil {
		return 0, fmt.Errorf("claim due schedules: %w", err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}
	c.metrics.SchedulesClaimed.Add(float64(len(claimed)))

	created := 0
	for _, sched := range claimed {
		ok, err := c.createRun(ctx, sched, now)
		if err != nil {
			c.log.Error("run creation failed, releasing claim",
				zap.String("business_id", sched.BusinessID),
				zap.Error(err))
			c.release(ctx, sched.BusinessID)
			continue
		}
		if !ok {
			// Previous run still unfinished. The schedule stays due and will
			// be reclaimed once that run completes.
			c.release(ctx, sched.BusinessID)
			continue
		}
		created++
	}
	return created, nil
}

// createRun builds and inserts one run for a claimed schedule. It returns
// false with a nil error when the business already has an unfinished run.
func (c *Claimer) createRun(ctx context.Context, sched rank.Schedule, now time.Time) (bool, error) {
	busy, err := c.runs.HasUnfinishedRun(ctx, sched.BusinessID)
	if err != nil {
		return false, err
	}
	if busy {
		c.log.Info("previous run unfinished, skipping",
			zap.String("business_id", sched.BusinessID))
		return false, nil
	}

	cfg, err := c.configs.ActiveConfig(ctx, sched.BusinessID)
	if err != nil {
		return false, err
	}
	keyword, err := pickKeyword(cfg.Keywords, c.intn)
	if err != nil {
		return false, err
	}
	origin, err := pickOrigin(cfg.OriginZones, c.intn)
	if err != nil {
		return false, err
	}

	spacing := spacingFor(cfg.RadiusMiles, cfg.GridRows, cfg.GridCols)
	geometry := grid.BuildPoints(origin.Lat, origin.Lng, cfg.GridRows, cfg.GridCols, spacing)
	if len(geometry) == 0 {
		return false, fmt.Errorf("degenerate grid %dx%d for business %s", cfg.GridRows, cfg.GridCols, sched.BusinessID)
	}

	run := rank.Run{
		ID:           uuid.NewString(),
		BusinessID:   sched.BusinessID,
		Keyword:      keyword,
		OriginLat:    origin.Lat,
		OriginLng:    origin.Lng,
		RadiusMiles:  cfg.RadiusMiles,
		GridRows:     cfg.GridRows,
		GridCols:     cfg.GridCols,
		SpacingMiles: spacing,
		Status:       rank.RunStatusQueued,
		CreatedAt:    now,
	}
	points := make([]rank.Point, len(geometry))
	for i, gp := range geometry {
		points[i] = rank.Point{
			ID:       uuid.NewString(),
			RunID:    run.ID,
			RowIndex: gp.RowIndex,
			ColIndex: gp.ColIndex,
			Lat:      gp.Lat,
			Lng:      gp.Lng,
		}
	}

	if err := c.runs.CreateRunWithPoints(ctx, run, points); err != nil {
		return false, err
	}
	c.metrics.RunsCreated.Inc()
	c.log.Info("run created",
		zap.String("business_id", sched.BusinessID),
		zap.String("run_id", run.ID),
		zap.String("keyword", keyword),
		zap.Int("points", len(points)))
	return true, nil
}

func (c *Claimer) release(ctx context.Context, businessID string) {
	if err := c.schedules.ReleaseLock(ctx, businessID); err != nil {
		c.log.Error("release schedule lock failed",
			zap.String("business_id", businessID),
			zap.Error(err))
	}
}

// spacingFor derives point spacing so the grid spans the configured radius
// on each axis, falling back to a fixed half mile for single-cell axes.
func spacingFor(radiusMiles float64, rows, cols int) float64 {
	spacing := 0.0
	if rows > 1 {
		spacing = 2 * radiusMiles / float64(rows-1)
	}
	if cols > 1 {
		if s := 2 * radiusMiles / float64(cols-1); s > spacing {
			spacing = s
		}
	}
	if spacing <= 0 {
		spacing = DefaultSpacingMiles
	}
	return spacing
}

func pickKeyword(keywords []rank.WeightedKeyword, intn func(int) int) (string, error) {
	total := 0
	for _, kw := range keywords {
		if kw.Weight > 0 {
			total += kw.Weight
		}
	}
	if total == 0 {
		return "", rank.ErrNoUsableKeyword
	}
	n := intn(total)
	for _, kw := range keywords {
		if kw.Weight <= 0 {
			continue
		}
		if n < kw.Weight {
			return kw.Text, nil
		}
		n -= kw.Weight
	}
	return "", rank.ErrNoUsableKeyword
}

func pickOrigin(zones []rank.OriginZone, intn func(int) int) (rank.OriginZone, error) {
	total := 0
	for _, z := range zones {
		if z.Weight > 0 {
			total += z.Weight
		}
	}
	if total == 0 {
		return rank.OriginZone{}, rank.ErrNoUsableOrigin
	}
	n := intn(total)
	for _, z := range zones {
		if z.Weight <= 0 {
			continue
		}
		if n < z.Weight {
			return z, nil
		}
		n -= z.Weight
	}
	return rank.OriginZone{}, rank.ErrNoUsableOrigin
}
