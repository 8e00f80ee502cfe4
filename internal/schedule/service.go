// Package schedule owns the per-business recurring-schedule state machine:
// initialization, activation flips, target-time changes, and the post-run
// advance to the following week.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/localrank/gridrank/internal/rank"
	"github.com/localrank/gridrank/internal/slot"
)

// Store is the persistence surface the service needs.
type Store interface {
	Get(ctx context.Context, businessID string) (rank.Schedule, error)
	Create(ctx context.Context, sched rank.Schedule) error
	SetActive(ctx context.Context, businessID string, active bool, nextRunAt *time.Time) error
	UpdateTime(ctx context.Context, businessID string, hour, minute int, nextRunAt *time.Time) error
	MarkRunComplete(ctx context.Context, businessID string, lastRunAt time.Time, nextRunAt *time.Time) error
	ReleaseLock(ctx context.Context, businessID string) error
}

// Service drives schedule transitions. Every next-run instant it writes has
// been validated against the business's open windows.
type Service struct {
	store      Store
	configs    rank.MeasurementConfigSource
	slots      *slot.Calculator
	clock      rank.Clock
	log        *zap.Logger
	searchDays int
}

// New creates a Service.
func New(store Store, configs rank.MeasurementConfigSource, slots *slot.Calculator, clock rank.Clock, log *zap.Logger, searchDays int) *Service {
	if searchDays <= 0 {
		searchDays = slot.DefaultSearchDays
	}
	return &Service{
		store:      store,
		configs:    configs,
		slots:      slots,
		clock:      clock,
		log:        log,
		searchDays: searchDays,
	}
}

// Initialize creates the business's schedule row if none exists. The next-run
// instant is computed only when the business has an active measurement
// config; otherwise the schedule is created dormant and a later activation
// picks the instant.
func (s *Service) Initialize(ctx context.Context, businessID string, day time.Weekday, hour, minute, minLeadMinutes int) error {
	if minLeadMinutes <= 0 {
		minLeadMinutes = rank.DefaultMinLeadMinutes
	}
	sched := rank.Schedule{
		BusinessID:     businessID,
		DayOfWeek:      day,
		Hour:           hour,
		Minute:         minute,
		MinLeadMinutes: minLeadMinutes,
	}

	cfg, err := s.configs.ActiveConfig(ctx, businessID)
	switch {
	case errors.Is(err, rank.ErrNoActiveConfig):
		s.log.Info("initializing dormant schedule",
			zap.String("business_id", businessID))
	case err != nil:
		return fmt.Errorf("initialize schedule %s: %w", businessID, err)
	default:
		sched.Active = true
		next, err := s.nextFor(cfg.Hours, sched, s.clock.Now())
		if err != nil {
			return fmt.Errorf("initialize schedule %s: %w", businessID, err)
		}
		sched.NextRunAt = &next
	}

	if err := s.store.Create(ctx, sched); err != nil {
		return fmt.Errorf("initialize schedule %s: %w", businessID, err)
	}
	return nil
}

// SetActive flips the schedule on or off. Activation recomputes the next-run
// instant from now; deactivation clears it along with any held lock.
func (s *Service) SetActive(ctx context.Context, businessID string, active bool) error {
	if !active {
		if err := s.store.SetActive(ctx, businessID, false, nil); err != nil {
			return fmt.Errorf("deactivate schedule %s: %w", businessID, err)
		}
		s.log.Info("schedule deactivated", zap.String("business_id", businessID))
		return nil
	}

	sched, err := s.store.Get(ctx, businessID)
	if err != nil {
		return fmt.Errorf("activate schedule %s: %w", businessID, err)
	}
	cfg, err := s.configs.ActiveConfig(ctx, businessID)
	if err != nil {
		return fmt.Errorf("activate schedule %s: %w", businessID, err)
	}
	next, err := s.nextFor(cfg.Hours, sched, s.clock.Now())
	if err != nil {
		return fmt.Errorf("activate schedule %s: %w", businessID, err)
	}
	if err := s.store.SetActive(ctx, businessID, true, &next); err != nil {
		return fmt.Errorf("activate schedule %s: %w", businessID, err)
	}
	s.log.Info("schedule activated",
		zap.String("business_id", businessID),
		zap.Time("next_run_at", next))
	return nil
}

// UpdateTime changes the target time-of-day. The new time must itself be a
// legal start on the schedule's weekday; otherwise rank.ErrSlotUnavailable is
// returned and nothing changes.
func (s *Service) UpdateTime(ctx context.Context, businessID string, hour, minute int) error {
	sched, err := s.store.Get(ctx, businessID)
	if err != nil {
		return fmt.Errorf("update schedule time %s: %w", businessID, err)
	}
	cfg, err := s.configs.ActiveConfig(ctx, businessID)
	if err != nil {
		return fmt.Errorf("update schedule time %s: %w", businessID, err)
	}

	now := s.clock.Now()
	ok, err := s.slots.ValidateSlotForDay(cfg.Hours, sched.DayOfWeek, hour, minute, sched.MinLead(), now)
	if err != nil {
		return fmt.Errorf("update schedule time %s: %w", businessID, err)
	}
	if !ok {
		return fmt.Errorf("%02d:%02d on %s: %w", hour, minute, sched.DayOfWeek, rank.ErrSlotUnavailable)
	}

	var nextRunAt *time.Time
	if sched.Active {
		sched.Hour, sched.Minute = hour, minute
		next, err := s.nextFor(cfg.Hours, sched, now)
		if err != nil {
			return fmt.Errorf("update schedule time %s: %w", businessID, err)
		}
		nextRunAt = &next
	}
	if err := s.store.UpdateTime(ctx, businessID, hour, minute, nextRunAt); err != nil {
		return fmt.Errorf("update schedule time %s: %w", businessID, err)
	}
	return nil
}

// MarkRunComplete advances the schedule after a finished run: the last-run
// instant is stamped, the next occurrence is computed (or cleared when the
// schedule went inactive meanwhile), and the claim lock is always released.
func (s *Service) MarkRunComplete(ctx context.Context, businessID string, completedAt time.Time) error {
	sched, err := s.store.Get(ctx, businessID)
	if err != nil {
		return fmt.Errorf("complete schedule run %s: %w", businessID, err)
	}

	var nextRunAt *time.Time
	if sched.Active {
		cfg, err := s.configs.ActiveConfig(ctx, businessID)
		switch {
		case errors.Is(err, rank.ErrNoActiveConfig):
			// Config vanished mid-run; park the schedule without a next slot.
		case err != nil:
			return fmt.Errorf("complete schedule run %s: %w", businessID, err)
		default:
			next, err := s.nextFor(cfg.Hours, sched, completedAt)
			if err != nil {
				return fmt.Errorf("complete schedule run %s: %w", businessID, err)
			}
			nextRunAt = &next
		}
	}

	if err := s.store.MarkRunComplete(ctx, businessID, completedAt, nextRunAt); err != nil {
		return fmt.Errorf("complete schedule run %s: %w", businessID, err)
	}
	s.log.Info("schedule advanced",
		zap.String("business_id", businessID),
		zap.Timep("next_run_at", nextRunAt))
	return nil
}

// ReleaseLock clears the claim lock after a downstream failure so the
// schedule becomes claimable again without waiting out lock staleness.
func (s *Service) ReleaseLock(ctx context.Context, businessID string) error {
	if err := s.store.ReleaseLock(ctx, businessID); err != nil {
		return fmt.Errorf("release schedule %s: %w", businessID, err)
	}
	return nil
}

// nextFor resolves the schedule's next legal run instant. The exact weekly
// occurrence is preferred; when that occurrence cannot fit its window the
// scan falls back to the first legal slot anywhere in the horizon, and as a
// last resort to the same time tomorrow.
func (s *Service) nextFor(hours rank.HoursConfig, sched rank.Schedule, reference time.Time) (time.Time, error) {
	next, ok, err := s.slots.NextOccurrence(hours, reference, sched.DayOfWeek, sched.Hour, sched.Minute, sched.MinLead())
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		return next, nil
	}

	next, ok, err = s.slots.FindNextSlot(hours, reference, sched.MinLead(), sched.Hour, sched.Minute, s.searchDays)
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		return next, nil
	}

	// No open window fits anywhere in the horizon. Same time tomorrow keeps
	// the schedule live so a later hours change can rescue it.
	loc, err := time.LoadLocation(hours.Timezone)
	if err != nil {
		loc = time.UTC
	}
	tomorrow := reference.In(loc).AddDate(0, 0, 1)
	fallback := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), sched.Hour, sched.Minute, 0, 0, loc)
	s.log.Warn("no legal slot in horizon, deferring to tomorrow",
		zap.String("business_id", sched.BusinessID),
		zap.Time("next_run_at", fallback))
	return fallback, nil
}
