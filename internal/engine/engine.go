// Package engine executes grid runs: a bounded pool of execution units
// fetches and parses one results page per grid point while a single
// collector persists outcomes and watches the failure rate.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/localrank/gridrank/internal/metrics"
	"github.com/localrank/gridrank/internal/rank"
)

// RunStore is the run persistence surface the engine needs.
type RunStore interface {
	PendingRuns(ctx context.Context, limit int) ([]rank.Run, error)
	UnmeasuredPoints(ctx context.Context, runID string) ([]rank.Point, error)
	CountUnmeasured(ctx context.Context, runID string) (int, error)
	MarkPointMeasured(ctx context.Context, pointID string, rankPos int, measuredAt time.Time, blobURI, contentHash string) error
	UpdateRunStatus(ctx context.Context, runID string, status rank.RunStatus) error
	InsertSnapshot(ctx context.Context, snap rank.RankingSnapshot) error
}

// ScheduleCompleter advances the schedule once its run finishes.
type ScheduleCompleter interface {
	MarkRunComplete(ctx context.Context, businessID string, completedAt time.Time) error
}

// Config controls engine behavior.
type Config struct {
	Slots          int
	WindowSize     int
	PauseThreshold float64
	Cooldown       time.Duration
	DispatchDelay  time.Duration
	RetireTimeout  time.Duration
	RunBatchLimit  int
	Topic          string
	BlobPrefix     string
	ContentType    string
	Proxy          rank.ProxyConfig
}

// Engine drives pending runs to completion.
type Engine struct {
	runs      RunStore
	schedules ScheduleCompleter
	configs   rank.MeasurementConfigSource
	fetcher   rank.SearchFetcher
	parser    rank.ResultParser
	blobs     rank.BlobStore
	publisher rank.Publisher
	hasher    rank.Hasher
	clock     rank.Clock
	log       *zap.Logger
	metrics   *metrics.Metrics
	cfg       Config
	breaker   *Breaker
	limiter   *rate.Limiter
	retry     *rank.RetryPolicy
}

// New creates an Engine.
func New(
	runs RunStore,
	schedules ScheduleCompleter,
	configs rank.MeasurementConfigSource,
	fetcher rank.SearchFetcher,
	parser rank.ResultParser,
	blobs rank.BlobStore,
	publisher rank.Publisher,
	hasher rank.Hasher,
	clock rank.Clock,
	log *zap.Logger,
	cfg Config,
) *Engine {
	if cfg.Slots <= 0 {
		cfg.Slots = 5
	}
	if cfg.RunBatchLimit <= 0 {
		cfg.RunBatchLimit = 5
	}
	if cfg.RetireTimeout <= 0 {
		cfg.RetireTimeout = 30 * time.Second
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.DispatchDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.DispatchDelay), 1)
	}
	return &Engine{
		runs:      runs,
		schedules: schedules,
		configs:   configs,
		fetcher:   fetcher,
		parser:    parser,
		blobs:     blobs,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		log:       log,
		metrics:   metrics.Default(),
		cfg:       cfg,
		breaker:   NewBreaker(cfg.WindowSize, cfg.PauseThreshold),
		limiter:   limiter,
		retry:     rank.NewRetryPolicy(),
	}
}

// RunOnce executes one engine pass over the pending runs. A failed run is
// logged and does not block the others.
func (e *Engine) RunOnce(ctx context.Context) error {
	pending, err := e.runs.PendingRuns(ctx, e.cfg.RunBatchLimit)
	if err != nil {
		return fmt.Errorf("list pending runs: %w", err)
	}
	for _, run := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.executeRun(ctx, run); err != nil {
			e.log.Error("run execution failed",
				zap.String("run_id", run.ID),
				zap.String("business_id", run.BusinessID),
				zap.Error(err))
		}
	}
	return nil
}

type pointResult struct {
	point   rank.Point
	content rank.SearchContent
	ranking rank.Ranking
	err     error
}

func (e *Engine) executeRun(ctx context.Context, run rank.Run) error {
	cfg, err := e.configs.ActiveConfig(ctx, run.BusinessID)
	if err != nil {
		// Without a config there is no business name to match against, so
		// the run cannot proceed at all.
		if statusErr := e.runs.UpdateRunStatus(ctx, run.ID, rank.RunStatusError); statusErr != nil {
			e.log.Error("mark run errored failed", zap.String("run_id", run.ID), zap.Error(statusErr))
		}
		e.metrics.RunsFinished.WithLabelValues(string(rank.RunStatusError)).Inc()
		return fmt.Errorf("resolve measurement config: %w", err)
	}

	if err := e.runs.UpdateRunStatus(ctx, run.ID, rank.RunStatusRunning); err != nil {
		return fmt.Errorf("mark run running: %w", err)
	}

	points, err := e.runs.UnmeasuredPoints(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("list unmeasured points: %w", err)
	}
	if len(points) == 0 {
		return e.finalize(ctx, run)
	}
	e.log.Info("executing run",
		zap.String("run_id", run.ID),
		zap.String("keyword", run.Keyword),
		zap.Int("points", len(points)),
		zap.Int("slots", e.cfg.Slots))

	tasks := make(chan rank.Point)
	results := make(chan pointResult, len(points))

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Slots; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range tasks {
				e.metrics.ActiveUnits.Inc()
				res := e.measurePoint(ctx, run, cfg.BusinessName, p)
				e.metrics.ActiveUnits.Dec()
				results <- res
			}
		}()
	}
	retired := make(chan struct{})
	go func() {
		wg.Wait()
		close(retired)
	}()

	go e.dispatch(ctx, points, tasks)

	e.collect(ctx, run, cfg.BusinessName, results, len(points))

	select {
	case <-retired:
	case <-time.After(e.cfg.RetireTimeout):
		e.log.Warn("execution units did not retire in time",
			zap.String("run_id", run.ID),
			zap.Duration("timeout", e.cfg.RetireTimeout))
	}
	return e.finalize(ctx, run)
}

// dispatch hands points to the pool one at a time, honoring the dispatch
// delay and pausing for the cooldown whenever the breaker has tripped.
func (e *Engine) dispatch(ctx context.Context, points []rank.Point, tasks chan<- rank.Point) {
	defer close(tasks)
	for _, p := range points {
		if err := e.limiter.Wait(ctx); err != nil {
			return
		}
		if e.breaker.Tripped() {
			e.pause(ctx)
		}
		select {
		case tasks <- p:
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) pause(ctx context.Context) {
	e.metrics.EnginePauses.Inc()
	e.log.Warn("failure rate above threshold, pausing dispatch",
		zap.Duration("cooldown", e.cfg.Cooldown))
	timer := time.NewTimer(e.cfg.Cooldown)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	e.breaker.Reset()
}

// collect is the single writer for point outcomes. Persistence failures feed
// the breaker the same way fetch failures do.
func (e *Engine) collect(ctx context.Context, run rank.Run, businessName string, results <-chan pointResult, expected int) {
	for received := 0; received < expected; received++ {
		var res pointResult
		select {
		case res = <-results:
		case <-ctx.Done():
			return
		}

		failed := res.err != nil
		switch {
		case failed:
			e.log.Warn("point measurement failed",
				zap.String("run_id", run.ID),
				zap.String("point_id", res.point.ID),
				zap.Error(res.err))
			e.metrics.PointsMeasured.WithLabelValues("failed").Inc()
		default:
			if err := e.persistResult(ctx, run, businessName, res); err != nil {
				failed = true
				e.log.Error("persist point outcome failed",
					zap.String("run_id", run.ID),
					zap.String("point_id", res.point.ID),
					zap.Error(err))
				e.metrics.PointsMeasured.WithLabelValues("persist_error").Inc()
			} else {
				e.metrics.PointsMeasured.WithLabelValues("ok").Inc()
			}
		}
		e.breaker.Record(failed)
	}
}

// measurePoint measures one grid point, retrying transient failures per the
// retry policy. Fetch and parse retry as a unit so a garbled page gets a
// fresh fetch instead of a re-parse of the same bytes.
func (e *Engine) measurePoint(ctx context.Context, run rank.Run, businessName string, p rank.Point) pointResult {
	req := rank.SearchRequest{
		RunID:   run.ID,
		PointID: p.ID,
		Keyword: run.Keyword,
		Lat:     p.Lat,
		Lng:     p.Lng,
		Proxy:   e.cfg.Proxy,
	}

	start := time.Now()
	for attempt := 1; ; attempt++ {
		content, ranking, err := e.attemptPoint(ctx, req, businessName)
		if err == nil {
			e.metrics.MeasureDuration.Observe(time.Since(start).Seconds())
			return pointResult{point: p, content: content, ranking: ranking}
		}
		if !e.retry.ShouldRetry(err, attempt) {
			return pointResult{point: p, err: err}
		}
		timer := time.NewTimer(e.retry.Backoff(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return pointResult{point: p, err: ctx.Err()}
		}
	}
}

// attemptPoint is a single acquire-then-parse attempt.
func (e *Engine) attemptPoint(ctx context.Context, req rank.SearchRequest, businessName string) (rank.SearchContent, rank.Ranking, error) {
	content, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		return rank.SearchContent{}, rank.Ranking{}, fmt.Errorf("fetch point: %w", err)
	}
	ranking, err := e.parser.Parse(content.Body, businessName)
	if err != nil {
		return rank.SearchContent{}, rank.Ranking{}, fmt.Errorf("parse results: %w", err)
	}
	return content, ranking, nil
}

// persistResult stores the artifact, stamps the point's final rank, and
// appends the competitor snapshot.
func (e *Engine) persistResult(ctx context.Context, run rank.Run, businessName string, res pointResult) error {
	hash, err := e.hasher.Hash(res.content.Body)
	if err != nil {
		return fmt.Errorf("hash artifact: %w", err)
	}
	uri, err := e.blobs.PutObject(ctx, e.blobPath(run.ID, res.point.ID), e.cfg.ContentType, res.content.Body)
	if err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}

	rankPos := res.ranking.Rank
	if !res.ranking.Matched {
		rankPos = rank.SentinelRank
	}
	measuredAt := e.clock.Now()
	if err := e.runs.MarkPointMeasured(ctx, res.point.ID, rankPos, measuredAt, uri, hash); err != nil {
		return err
	}

	snap := rank.RankingSnapshot{
		ID:           uuid.NewString(),
		RunID:        run.ID,
		PointID:      res.point.ID,
		BusinessName: businessName,
		Rank:         rankPos,
		TotalResults: res.ranking.TotalResults,
		Places:       res.ranking.Places,
		CapturedAt:   measuredAt,
	}
	if err := e.runs.InsertSnapshot(ctx, snap); err != nil {
		return err
	}
	return nil
}

func (e *Engine) blobPath(runID, pointID string) string {
	if e.cfg.BlobPrefix == "" {
		return fmt.Sprintf("%s/%s.html", runID, pointID)
	}
	return fmt.Sprintf("%s/%s/%s.html", e.cfg.BlobPrefix, runID, pointID)
}

// finalize re-checks the database for remaining work; the run completes only
// when no unmeasured points are left. Points that failed this pass stay
// unmeasured and the next pass picks them up.
func (e *Engine) finalize(ctx context.Context, run rank.Run) error {
	remaining, err := e.runs.CountUnmeasured(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("count unmeasured points: %w", err)
	}
	if remaining > 0 {
		e.log.Info("run still has unmeasured points",
			zap.String("run_id", run.ID),
			zap.Int("remaining", remaining))
		return nil
	}

	if err := e.runs.UpdateRunStatus(ctx, run.ID, rank.RunStatusDone); err != nil {
		return fmt.Errorf("mark run done: %w", err)
	}
	e.metrics.RunsFinished.WithLabelValues(string(rank.RunStatusDone)).Inc()

	completedAt := e.clock.Now()
	if err := e.schedules.MarkRunComplete(ctx, run.BusinessID, completedAt); err != nil {
		return fmt.Errorf("advance schedule: %w", err)
	}

	e.publishCompletion(ctx, run, completedAt)
	e.log.Info("run complete",
		zap.String("run_id", run.ID),
		zap.String("business_id", run.BusinessID))
	return nil
}

// publishCompletion emits the best-effort run-completed event; a publish
// failure never fails the run.
func (e *Engine) publishCompletion(ctx context.Context, run rank.Run, completedAt time.Time) {
	if e.publisher == nil || e.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"run_id":       run.ID,
		"business_id":  run.BusinessID,
		"keyword":      run.Keyword,
		"grid_rows":    run.GridRows,
		"grid_cols":    run.GridCols,
		"completed_at": completedAt.Format(time.RFC3339),
	}
	if _, err := e.publisher.Publish(ctx, e.cfg.Topic, payload); err != nil {
		e.log.Warn("publish run-completed event failed",
			zap.String("run_id", run.ID),
			zap.Error(err))
	}
}
