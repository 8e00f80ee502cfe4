package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/localrank/gridrank/internal/rank"
)

// LockStaleness is how long a claimed schedule stays locked before another
// claimer may recover it. This constant and the claim query below are the
// entire consensus mechanism; keep them together.
const LockStaleness = 30 * time.Minute

const scheduleColumns = `business_id, day_of_week, run_hour, run_minute, min_lead_minutes,
	next_run_at, last_run_at, locked_at, is_active`

// ScheduleStore persists the per-business recurring-schedule state machine.
type ScheduleStore struct {
	pool Pool
}

// NewScheduleStore wraps a pool.
func NewScheduleStore(pool Pool) *ScheduleStore {
	return &ScheduleStore{pool: pool}
}

// Get fetches one schedule row.
func (s *ScheduleStore) Get(ctx context.Context, businessID string) (rank.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE business_id = $1`
	sched, err := scanSchedule(s.pool.QueryRow(ctx, query, businessID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rank.Schedule{}, rank.ErrNotFound
		}
		return rank.Schedule{}, fmt.Errorf("get schedule: %w", err)
	}
	return sched, nil
}

// Create inserts a schedule if none exists yet, making initialization
// idempotent.
func (s *ScheduleStore) Create(ctx context.Context, sched rank.Schedule) error {
	query := `
		INSERT INTO schedules (` + scheduleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (business_id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query,
		sched.BusinessID,
		int(sched.DayOfWeek),
		sched.Hour,
		sched.Minute,
		sched.MinLeadMinutes,
		sched.NextRunAt,
		sched.LastRunAt,
		sched.LockedAt,
		sched.Active,
	)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// ClaimDue selects schedules whose next-run instant has passed and whose
// lock is absent or stale, stamps their locks, and returns them, all in one
// transaction so two concurrent claimers can never own the same schedule.
func (s *ScheduleStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]rank.Schedule, error) {
	if limit <= 0 {
		limit = 20
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	query := `
		SELECT s.business_id, s.day_of_week, s.run_hour, s.run_minute, s.min_lead_minutes,
			s.next_run_at, s.last_run_at, s.locked_at, s.is_active
		FROM schedules s
		JOIN businesses b ON b.id = s.business_id
		WHERE s.is_active AND b.is_active
			AND s.next_run_at IS NOT NULL AND s.next_run_at <= $1
			AND (s.locked_at IS NULL OR s.locked_at < $2)
		ORDER BY s.next_run_at
		LIMIT $3
		FOR UPDATE OF s SKIP LOCKED`
	rows, err := tx.Query(ctx, query, now, now.Add(-LockStaleness), limit)
	if err != nil {
		return nil, fmt.Errorf("select due schedules: %w", err)
	}
	claimed, err := scanSchedules(rows)
	if err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]string, 0, len(claimed))
	for i := range claimed {
		lockedAt := now
		claimed[i].LockedAt = &lockedAt
		ids = append(ids, claimed[i].BusinessID)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE schedules SET locked_at = $1 WHERE business_id = ANY($2)`,
		now, ids,
	); err != nil {
		return nil, fmt.Errorf("stamp schedule locks: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return claimed, nil
}

// ReleaseLock unconditionally clears the advisory lock. Used whenever a
// downstream step fails after a claim.
func (s *ScheduleStore) ReleaseLock(ctx context.Context, businessID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE schedules SET locked_at = NULL WHERE business_id = $1`, businessID)
	if err != nil {
		return fmt.Errorf("release schedule lock: %w", err)
	}
	return nil
}

// SetActive flips the active flag. Deactivation clears both the next-run
// instant and any held lock in the same statement.
func (s *ScheduleStore) SetActive(ctx context.Context, businessID string, active bool, nextRunAt *time.Time) error {
	var err error
	if active {
		_, err = s.pool.Exec(ctx,
			`UPDATE schedules SET is_active = TRUE, next_run_at = $2 WHERE business_id = $1`,
			businessID, nextRunAt)
	} else {
		_, err = s.pool.Exec(ctx,
			`UPDATE schedules SET is_active = FALSE, next_run_at = NULL, locked_at = NULL WHERE business_id = $1`,
			businessID)
	}
	if err != nil {
		return fmt.Errorf("set schedule active: %w", err)
	}
	return nil
}

// UpdateTime records a new target time-of-day and its recomputed next run.
func (s *ScheduleStore) UpdateTime(ctx context.Context, businessID string, hour, minute int, nextRunAt *time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE schedules SET run_hour = $2, run_minute = $3, next_run_at = $4 WHERE business_id = $1`,
		businessID, hour, minute, nextRunAt)
	if err != nil {
		return fmt.Errorf("update schedule time: %w", err)
	}
	return nil
}

// MarkRunComplete stamps the last-run instant, advances (or clears) the next
// one, and always releases the lock.
func (s *ScheduleStore) MarkRunComplete(ctx context.Context, businessID string, lastRunAt time.Time, nextRunAt *time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE schedules SET last_run_at = $2, next_run_at = $3, locked_at = NULL WHERE business_id = $1`,
		businessID, lastRunAt, nextRunAt)
	if err != nil {
		return fmt.Errorf("mark run complete: %w", err)
	}
	return nil
}

func scanSchedule(row pgx.Row) (rank.Schedule, error) {
	var (
		sched rank.Schedule
		dow   int
	)
	err := row.Scan(
		&sched.BusinessID,
		&dow,
		&sched.Hour,
		&sched.Minute,
		&sched.MinLeadMinutes,
		&sched.NextRunAt,
		&sched.LastRunAt,
		&sched.LockedAt,
		&sched.Active,
	)
	if err != nil {
		return rank.Schedule{}, err
	}
	sched.DayOfWeek = time.Weekday(dow)
	return sched, nil
}

func scanSchedules(rows pgx.Rows) ([]rank.Schedule, error) {
	defer rows.Close()
	var out []rank.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule row: %w", err)
		}
		out = append(out, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedule rows: %w", err)
	}
	return out, nil
}
