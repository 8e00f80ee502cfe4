package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/localrank/gridrank/internal/rank"
)

type fakeRunStore struct {
	mu        sync.Mutex
	runs      []rank.Run
	points    map[string][]rank.Point // runID -> unmeasured points
	measured  map[string]int          // pointID -> rank
	statuses  map[string]rank.RunStatus
	snapshots []rank.RankingSnapshot
}

func newFakeRunStore(run rank.Run, points []rank.Point) *fakeRunStore {
	return &fakeRunStore{
		runs:     []rank.Run{run},
		points:   map[string][]rank.Point{run.ID: points},
		measured: make(map[string]int),
		statuses: map[string]rank.RunStatus{run.ID: run.Status},
	}
}

func (f *fakeRunStore) PendingRuns(context.Context, int) ([]rank.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []rank.Run
	for _, r := range f.runs {
		if s := f.statuses[r.ID]; s == rank.RunStatusQueued || s == rank.RunStatusRunning {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

func (f *fakeRunStore) UnmeasuredPoints(_ context.Context, runID string) ([]rank.Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []rank.Point
	for _, p := range f.points[runID] {
		if _, done := f.measured[p.ID]; !done {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeRunStore) CountUnmeasured(_ context.Context, runID string) (int, error) {
	pts, _ := f.UnmeasuredPoints(context.Background(), runID)
	return len(pts), nil
}

func (f *fakeRunStore) MarkPointMeasured(_ context.Context, pointID string, rankPos int, _ time.Time, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, done := f.measured[pointID]; done {
		return rank.ErrNotFound
	}
	f.measured[pointID] = rankPos
	return nil
}

func (f *fakeRunStore) UpdateRunStatus(_ context.Context, runID string, status rank.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[runID] = status
	return nil
}

func (f *fakeRunStore) InsertSnapshot(_ context.Context, snap rank.RankingSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, snap)
	return nil
}

type fakeCompleter struct {
	mu        sync.Mutex
	completed []string
}

func (f *fakeCompleter) MarkRunComplete(_ context.Context, businessID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, businessID)
	return nil
}

type fakeConfigs struct{ name string }

func (f *fakeConfigs) ActiveConfig(_ context.Context, businessID string) (rank.MeasurementConfig, error) {
	if f.name == "" {
		return rank.MeasurementConfig{}, rank.ErrNoActiveConfig
	}
	return rank.MeasurementConfig{BusinessID: businessID, BusinessName: f.name, Active: true}, nil
}

type fakeFetcher struct {
	mu    sync.Mutex
	fail  map[string]error // pointID -> error
	delay time.Duration    // simulated network latency
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, req rank.SearchRequest) (rank.SearchContent, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.fail[req.PointID]; err != nil {
		return rank.SearchContent{}, err
	}
	body := fmt.Sprintf("results for %s at %f,%f", req.Keyword, req.Lat, req.Lng)
	return rank.SearchContent{Body: []byte(body), StatusCode: 200}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeParser struct {
	mu       sync.Mutex
	ranking  rank.Ranking
	err      error
	failures int // the first failures calls return a parse error
	calls    int
}

func (f *fakeParser) Parse([]byte, string) (rank.Ranking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return rank.Ranking{}, errors.New("results payload truncated")
	}
	return f.ranking, f.err
}

type fakeBlobStore struct {
	mu   sync.Mutex
	puts []string
}

func (f *fakeBlobStore) PutObject(_ context.Context, path, _ string, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, path)
	return "mem://" + path, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
}

func (f *fakePublisher) Publish(_ context.Context, topic string, _ any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	return "msg-1", nil
}

type fakeHasher struct{}

func (fakeHasher) Hash([]byte) (string, error) { return "deadbeef", nil }

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func gridPoints(runID string, n int) []rank.Point {
	points := make([]rank.Point, n)
	for i := range points {
		points[i] = rank.Point{
			ID:       fmt.Sprintf("pt-%d", i),
			RunID:    runID,
			RowIndex: i,
			Lat:      40.0,
			Lng:      -75.0,
		}
	}
	return points
}

func testConfig() Config {
	return Config{
		Slots:          2,
		WindowSize:     10,
		PauseThreshold: 0.5,
		Cooldown:       time.Millisecond,
		DispatchDelay:  0,
		RetireTimeout:  time.Second,
		Topic:          "run-events",
	}
}

func newEngine(store *fakeRunStore, completer *fakeCompleter, fetcher *fakeFetcher, parser *fakeParser, blobs *fakeBlobStore, pub *fakePublisher) *Engine {
	now := time.Date(2024, 1, 2, 12, 30, 0, 0, time.UTC)
	return New(
		store, completer, &fakeConfigs{name: "Joe's Plumbing"},
		fetcher, parser, blobs, pub, fakeHasher{}, fixedClock{now: now},
		zap.NewNop(), testConfig(),
	)
}

func TestRunOnceMeasuresEveryPointAndCompletes(t *testing.T) {
	t.Parallel()

	run := rank.Run{ID: "run-1", BusinessID: "biz-1", Keyword: "plumber", GridRows: 2, GridCols: 2, Status: rank.RunStatusQueued}
	store := newFakeRunStore(run, gridPoints("run-1", 4))
	completer := &fakeCompleter{}
	blobs := &fakeBlobStore{}
	pub := &fakePublisher{}
	parser := &fakeParser{ranking: rank.Ranking{Rank: 3, Matched: true, TotalResults: 20}}
	e := newEngine(store, completer, &fakeFetcher{}, parser, blobs, pub)

	require.NoError(t, e.RunOnce(context.Background()))

	require.Len(t, store.measured, 4)
	for _, pos := range store.measured {
		require.Equal(t, 3, pos)
	}
	require.Equal(t, rank.RunStatusDone, store.statuses["run-1"])
	require.Equal(t, []string{"biz-1"}, completer.completed)
	require.Equal(t, []string{"run-events"}, pub.topics)
	require.Len(t, store.snapshots, 4)
	require.Len(t, blobs.puts, 4)
	for _, snap := range store.snapshots {
		require.Equal(t, "Joe's Plumbing", snap.BusinessName)
		require.Equal(t, "run-1", snap.RunID)
	}
}

func TestRunOnceRecordsSentinelWhenTargetAbsent(t *testing.T) {
	t.Parallel()

	run := rank.Run{ID: "run-1", BusinessID: "biz-1", Keyword: "plumber", Status: rank.RunStatusQueued}
	store := newFakeRunStore(run, gridPoints("run-1", 1))
	parser := &fakeParser{ranking: rank.Ranking{Matched: false, TotalResults: 20}}
	e := newEngine(store, &fakeCompleter{}, &fakeFetcher{}, parser, &fakeBlobStore{}, &fakePublisher{})

	require.NoError(t, e.RunOnce(context.Background()))
	require.Equal(t, rank.SentinelRank, store.measured["pt-0"])
	require.Equal(t, rank.RunStatusDone, store.statuses["run-1"])
}

func TestRunOnceFailedPointLeavesRunUnfinished(t *testing.T) {
	t.Parallel()

	run := rank.Run{ID: "run-1", BusinessID: "biz-1", Keyword: "plumber", Status: rank.RunStatusQueued}
	store := newFakeRunStore(run, gridPoints("run-1", 3))
	completer := &fakeCompleter{}
	fetcher := &fakeFetcher{fail: map[string]error{
		// Wrapping context.Canceled makes the failure non-retryable so the
		// test does not sit through backoff sleeps.
		"pt-1": fmt.Errorf("session torn down: %w", context.Canceled),
	}}
	parser := &fakeParser{ranking: rank.Ranking{Rank: 1, Matched: true}}
	pub := &fakePublisher{}
	e := newEngine(store, completer, fetcher, parser, &fakeBlobStore{}, pub)

	require.NoError(t, e.RunOnce(context.Background()))

	require.Len(t, store.measured, 2)
	_, measured := store.measured["pt-1"]
	require.False(t, measured)
	require.Equal(t, rank.RunStatusRunning, store.statuses["run-1"])
	require.Empty(t, completer.completed)
	require.Empty(t, pub.topics)
}

func TestRunOnceSecondPassFinishesRun(t *testing.T) {
	t.Parallel()

	run := rank.Run{ID: "run-1", BusinessID: "biz-1", Keyword: "plumber", Status: rank.RunStatusQueued}
	store := newFakeRunStore(run, gridPoints("run-1", 2))
	completer := &fakeCompleter{}
	fetcher := &fakeFetcher{fail: map[string]error{
		"pt-0": fmt.Errorf("session torn down: %w", context.Canceled),
	}}
	parser := &fakeParser{ranking: rank.Ranking{Rank: 2, Matched: true}}
	e := newEngine(store, completer, fetcher, parser, &fakeBlobStore{}, &fakePublisher{})

	require.NoError(t, e.RunOnce(context.Background()))
	require.Equal(t, rank.RunStatusRunning, store.statuses["run-1"])

	// The point recovers; the next pass only re-measures what is missing.
	fetcher.mu.Lock()
	delete(fetcher.fail, "pt-0")
	fetcher.mu.Unlock()

	require.NoError(t, e.RunOnce(context.Background()))
	require.Len(t, store.measured, 2)
	require.Equal(t, rank.RunStatusDone, store.statuses["run-1"])
	require.Equal(t, []string{"biz-1"}, completer.completed)
}

func TestRunOnceParseFailureTriggersFreshFetch(t *testing.T) {
	t.Parallel()

	run := rank.Run{ID: "run-1", BusinessID: "biz-1", Keyword: "plumber", Status: rank.RunStatusQueued}
	store := newFakeRunStore(run, gridPoints("run-1", 1))
	fetcher := &fakeFetcher{}
	parser := &fakeParser{failures: 1, ranking: rank.Ranking{Rank: 2, Matched: true}}
	e := newEngine(store, &fakeCompleter{}, fetcher, parser, &fakeBlobStore{}, &fakePublisher{})
	e.retry = rank.NewRetryPolicyWith(3, time.Millisecond, 4*time.Millisecond)

	require.NoError(t, e.RunOnce(context.Background()))

	// The garbled page was refetched, not just reparsed.
	require.Equal(t, 2, fetcher.callCount())
	require.Equal(t, 2, store.measured["pt-0"])
	require.Equal(t, rank.RunStatusDone, store.statuses["run-1"])
}

func TestRunOncePersistentParseFailureExhaustsRetries(t *testing.T) {
	t.Parallel()

	run := rank.Run{ID: "run-1", BusinessID: "biz-1", Keyword: "plumber", Status: rank.RunStatusQueued}
	store := newFakeRunStore(run, gridPoints("run-1", 1))
	fetcher := &fakeFetcher{}
	parser := &fakeParser{failures: 10}
	e := newEngine(store, &fakeCompleter{}, fetcher, parser, &fakeBlobStore{}, &fakePublisher{})
	e.retry = rank.NewRetryPolicyWith(3, time.Millisecond, 4*time.Millisecond)

	require.NoError(t, e.RunOnce(context.Background()))

	require.Equal(t, 3, fetcher.callCount())
	require.Empty(t, store.measured)
	require.Equal(t, rank.RunStatusRunning, store.statuses["run-1"])
}

func TestDispatchPausesForCooldownAfterTrip(t *testing.T) {
	t.Parallel()

	store := newFakeRunStore(rank.Run{ID: "run-1"}, nil)
	e := newEngine(store, &fakeCompleter{}, &fakeFetcher{}, &fakeParser{}, &fakeBlobStore{}, &fakePublisher{})
	e.cfg.Cooldown = 120 * time.Millisecond

	// Six failures in a full ten-window is an elevated rate.
	for i := 0; i < 10; i++ {
		e.breaker.Record(i < 6)
	}
	require.True(t, e.breaker.Tripped())

	tasks := make(chan rank.Point)
	start := time.Now()
	go e.dispatch(context.Background(), gridPoints("run-1", 2), tasks)

	handedOut := 0
	for range tasks {
		handedOut++
	}

	// The first handoff waited out the cooldown; the cleared window then
	// let the rest through.
	require.Equal(t, 2, handedOut)
	require.GreaterOrEqual(t, time.Since(start), e.cfg.Cooldown)
	require.False(t, e.breaker.Tripped())
}

func TestRunOnceElevatedFailureRatePausesDispatch(t *testing.T) {
	t.Parallel()

	run := rank.Run{ID: "run-1", BusinessID: "biz-1", Keyword: "plumber", Status: rank.RunStatusQueued}
	points := gridPoints("run-1", 14)
	store := newFakeRunStore(run, points)
	fail := make(map[string]error, len(points))
	for _, p := range points {
		fail[p.ID] = fmt.Errorf("session torn down: %w", context.Canceled)
	}
	fetcher := &fakeFetcher{fail: fail, delay: time.Millisecond}
	e := newEngine(store, &fakeCompleter{}, fetcher, &fakeParser{}, &fakeBlobStore{}, &fakePublisher{})
	e.cfg.Slots = 1
	e.cfg.Cooldown = 150 * time.Millisecond

	start := time.Now()
	require.NoError(t, e.RunOnce(context.Background()))
	elapsed := time.Since(start)

	// The tenth straight failure fills the window, so dispatch sits out the
	// cooldown before handing out the remaining points.
	require.GreaterOrEqual(t, elapsed, e.cfg.Cooldown)
	require.Equal(t, len(points), fetcher.callCount())
	require.Empty(t, store.measured)
	require.Equal(t, rank.RunStatusRunning, store.statuses["run-1"])
}

func TestRunOnceWithoutConfigMarksRunErrored(t *testing.T) {
	t.Parallel()

	run := rank.Run{ID: "run-1", BusinessID: "biz-1", Keyword: "plumber", Status: rank.RunStatusQueued}
	store := newFakeRunStore(run, gridPoints("run-1", 1))
	e := New(
		store, &fakeCompleter{}, &fakeConfigs{},
		&fakeFetcher{}, &fakeParser{}, &fakeBlobStore{}, &fakePublisher{},
		fakeHasher{}, fixedClock{now: time.Now()}, zap.NewNop(), testConfig(),
	)

	require.NoError(t, e.RunOnce(context.Background()))
	require.Equal(t, rank.RunStatusError, store.statuses["run-1"])
	require.Empty(t, store.measured)
}
