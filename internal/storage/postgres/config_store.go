package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/localrank/gridrank/internal/rank"
)

// ConfigStore reads the per-business measurement configuration: keyword
// policy, origin zones, grid shape, and business hours. All of it is
// read-only from this process's perspective.
type ConfigStore struct {
	pool Pool
}

// NewConfigStore wraps a pool.
func NewConfigStore(pool Pool) *ConfigStore {
	return &ConfigStore{pool: pool}
}

// ActiveConfig implements rank.MeasurementConfigSource. It returns
// rank.ErrNoActiveConfig when the business is missing, inactive, or has no
// active measurement config row.
func (s *ConfigStore) ActiveConfig(ctx context.Context, businessID string) (rank.MeasurementConfig, error) {
	cfg := rank.MeasurementConfig{BusinessID: businessID}

	err := s.pool.QueryRow(ctx, `
		SELECT b.name, b.is_active, c.radius_miles, c.grid_rows, c.grid_cols, c.timezone
		FROM businesses b
		JOIN measurement_configs c ON c.business_id = b.id AND c.is_active
		WHERE b.id = $1`, businessID).Scan(
		&cfg.BusinessName, &cfg.Active, &cfg.RadiusMiles,
		&cfg.GridRows, &cfg.GridCols, &cfg.Hours.Timezone,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rank.MeasurementConfig{}, fmt.Errorf("business %s: %w", businessID, rank.ErrNoActiveConfig)
		}
		return rank.MeasurementConfig{}, fmt.Errorf("load measurement config: %w", err)
	}
	if !cfg.Active {
		return rank.MeasurementConfig{}, fmt.Errorf("business %s inactive: %w", businessID, rank.ErrNoActiveConfig)
	}

	if cfg.Keywords, err = s.keywords(ctx, businessID); err != nil {
		return rank.MeasurementConfig{}, err
	}
	if cfg.OriginZones, err = s.originZones(ctx, businessID); err != nil {
		return rank.MeasurementConfig{}, err
	}
	if cfg.Hours.Days, err = s.hours(ctx, businessID); err != nil {
		return rank.MeasurementConfig{}, err
	}
	return cfg, nil
}

func (s *ConfigStore) keywords(ctx context.Context, businessID string) ([]rank.WeightedKeyword, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT keyword, weight FROM business_keywords
		WHERE business_id = $1 AND is_active
		ORDER BY weight DESC`, businessID)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	defer rows.Close()

	var out []rank.WeightedKeyword
	for rows.Next() {
		var kw rank.WeightedKeyword
		if err := rows.Scan(&kw.Text, &kw.Weight); err != nil {
			return nil, fmt.Errorf("scan keyword row: %w", err)
		}
		out = append(out, kw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keyword rows: %w", err)
	}
	return out, nil
}

func (s *ConfigStore) originZones(ctx context.Context, businessID string) ([]rank.OriginZone, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT lat, lng, weight FROM origin_zones
		WHERE business_id = $1 AND is_active
		ORDER BY weight DESC`, businessID)
	if err != nil {
		return nil, fmt.Errorf("list origin zones: %w", err)
	}
	defer rows.Close()

	var out []rank.OriginZone
	for rows.Next() {
		var z rank.OriginZone
		if err := rows.Scan(&z.Lat, &z.Lng, &z.Weight); err != nil {
			return nil, fmt.Errorf("scan origin zone row: %w", err)
		}
		out = append(out, z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate origin zone rows: %w", err)
	}
	return out, nil
}

func (s *ConfigStore) hours(ctx context.Context, businessID string) (map[time.Weekday]rank.DayHours, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT day_of_week, open_time, close_time, is_closed
		FROM business_hours
		WHERE business_id = $1`, businessID)
	if err != nil {
		return nil, fmt.Errorf("list business hours: %w", err)
	}
	defer rows.Close()

	days := make(map[time.Weekday]rank.DayHours)
	for rows.Next() {
		var (
			dow    int
			dh     rank.DayHours
			open   *string
			closeT *string
		)
		if err := rows.Scan(&dow, &open, &closeT, &dh.Closed); err != nil {
			return nil, fmt.Errorf("scan business hours row: %w", err)
		}
		if open != nil {
			dh.Open = *open
		}
		if closeT != nil {
			dh.Close = *closeT
		}
		days[time.Weekday(dow)] = dh
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate business hours rows: %w", err)
	}
	return days, nil
}
