package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/localrank/gridrank/internal/rank"
)

// RunStore persists runs, their grid points, and ranking snapshots.
type RunStore struct {
	pool Pool
}

// NewRunStore wraps a pool.
func NewRunStore(pool Pool) *RunStore {
	return &RunStore{pool: pool}
}

// CreateRunWithPoints inserts one run and all of its points atomically.
// A failure on any row rolls the whole run back.
func (s *RunStore) CreateRunWithPoints(ctx context.Context, run rank.Run, points []rank.Point) error {
	if len(points) != run.GridRows*run.GridCols {
		return fmt.Errorf("run %s: expected %d points, got %d", run.ID, run.GridRows*run.GridCols, len(points))
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin run insert: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, `
		INSERT INTO runs (id, business_id, keyword, origin_lat, origin_lng,
			radius_miles, grid_rows, grid_cols, spacing_miles, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.BusinessID, run.Keyword, run.OriginLat, run.OriginLng,
		run.RadiusMiles, run.GridRows, run.GridCols, run.SpacingMiles,
		string(run.Status), run.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, p := range points {
		if _, err := tx.Exec(ctx, `
			INSERT INTO run_points (id, run_id, row_index, col_index, lat, lng)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			p.ID, p.RunID, p.RowIndex, p.ColIndex, p.Lat, p.Lng,
		); err != nil {
			return fmt.Errorf("insert point (%d,%d): %w", p.RowIndex, p.ColIndex, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit run insert: %w", err)
	}
	return nil
}

// HasUnfinishedRun reports whether the business has a run still queued or
// running. The claimer uses this to keep at most one unfinished run per
// business.
func (s *RunStore) HasUnfinishedRun(ctx context.Context, businessID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM runs
			WHERE business_id = $1 AND status IN ('queued', 'running')
		)`, businessID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check unfinished run: %w", err)
	}
	return exists, nil
}

// PendingRuns lists runs that still need engine passes, oldest first.
func (s *RunStore) PendingRuns(ctx context.Context, limit int) ([]rank.Run, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, business_id, keyword, origin_lat, origin_lng,
			radius_miles, grid_rows, grid_cols, spacing_miles, status, created_at
		FROM runs
		WHERE status IN ('queued', 'running')
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending runs: %w", err)
	}
	defer rows.Close()

	var runs []rank.Run
	for rows.Next() {
		var (
			run    rank.Run
			status string
		)
		if err := rows.Scan(
			&run.ID, &run.BusinessID, &run.Keyword, &run.OriginLat, &run.OriginLng,
			&run.RadiusMiles, &run.GridRows, &run.GridCols, &run.SpacingMiles,
			&status, &run.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		run.Status = rank.RunStatus(status)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

// GetRun fetches a single run.
func (s *RunStore) GetRun(ctx context.Context, runID string) (rank.Run, error) {
	var (
		run    rank.Run
		status string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, business_id, keyword, origin_lat, origin_lng,
			radius_miles, grid_rows, grid_cols, spacing_miles, status, created_at
		FROM runs WHERE id = $1`, runID).Scan(
		&run.ID, &run.BusinessID, &run.Keyword, &run.OriginLat, &run.OriginLng,
		&run.RadiusMiles, &run.GridRows, &run.GridCols, &run.SpacingMiles,
		&status, &run.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rank.Run{}, rank.ErrNotFound
		}
		return rank.Run{}, fmt.Errorf("get run: %w", err)
	}
	run.Status = rank.RunStatus(status)
	return run, nil
}

// UnmeasuredPoints returns the run's points that have no rank yet.
func (s *RunStore) UnmeasuredPoints(ctx context.Context, runID string) ([]rank.Point, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, row_index, col_index, lat, lng
		FROM run_points
		WHERE run_id = $1 AND rank_pos IS NULL
		ORDER BY row_index, col_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("list unmeasured points: %w", err)
	}
	defer rows.Close()

	var points []rank.Point
	for rows.Next() {
		var p rank.Point
		if err := rows.Scan(&p.ID, &p.RunID, &p.RowIndex, &p.ColIndex, &p.Lat, &p.Lng); err != nil {
			return nil, fmt.Errorf("scan point row: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate point rows: %w", err)
	}
	return points, nil
}

// CountUnmeasured counts the run's points still awaiting a rank. The
// completion detector re-scans with this rather than trusting any in-memory
// counter.
func (s *RunStore) CountUnmeasured(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM run_points WHERE run_id = $1 AND rank_pos IS NULL`,
		runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unmeasured points: %w", err)
	}
	return n, nil
}

// MarkPointMeasured writes a point's final rank exactly once; a point
// already measured is left untouched.
func (s *RunStore) MarkPointMeasured(
	ctx context.Context,
	pointID string,
	rankPos int,
	measuredAt time.Time,
	blobURI, contentHash string,
) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE run_points
		SET rank_pos = $2, measured_at = $3, blob_uri = $4, content_hash = $5
		WHERE id = $1 AND rank_pos IS NULL`,
		pointID, rankPos, measuredAt, nullable(blobURI), nullable(contentHash))
	if err != nil {
		return fmt.Errorf("mark point measured: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("point %s: %w", pointID, rank.ErrNotFound)
	}
	return nil
}

// UpdateRunStatus advances a run's status. The guard makes the transition
// monotonic: a run can never move backwards through the lifecycle.
func (s *RunStore) UpdateRunStatus(ctx context.Context, runID string, status rank.RunStatus) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE runs SET status = $2
		WHERE id = $1
			AND array_position(ARRAY['queued','running','done','error'], status)
				< array_position(ARRAY['queued','running','done','error'], $2)`,
		runID, string(status))
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return nil
}

// InsertSnapshot appends one ranked-competitor record. Snapshots are never
// updated or deleted.
func (s *RunStore) InsertSnapshot(ctx context.Context, snap rank.RankingSnapshot) error {
	places, err := json.Marshal(snap.Places)
	if err != nil {
		return fmt.Errorf("marshal places: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO ranking_snapshots (id, run_id, point_id, business_name,
			rank_pos, total_results, places, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		snap.ID, snap.RunID, snap.PointID, snap.BusinessName,
		snap.Rank, snap.TotalResults, places, snap.CapturedAt,
	); err != nil {
		return fmt.Errorf("insert ranking snapshot: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
