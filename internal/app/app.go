// Package app initializes and holds the long-lived services of the
// measurement pipeline, acting as the dependency injection container for the
// CLI commands.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/localrank/gridrank/internal/api"
	"github.com/localrank/gridrank/internal/claimer"
	"github.com/localrank/gridrank/internal/clock/system"
	"github.com/localrank/gridrank/internal/config"
	"github.com/localrank/gridrank/internal/engine"
	"github.com/localrank/gridrank/internal/fetch"
	"github.com/localrank/gridrank/internal/hash/sha256"
	"github.com/localrank/gridrank/internal/hours"
	"github.com/localrank/gridrank/internal/logging"
	"github.com/localrank/gridrank/internal/parse"
	pubnoop "github.com/localrank/gridrank/internal/publisher/noop"
	pubps "github.com/localrank/gridrank/internal/publisher/pubsub"
	"github.com/localrank/gridrank/internal/rank"
	"github.com/localrank/gridrank/internal/schedule"
	"github.com/localrank/gridrank/internal/slot"
	"github.com/localrank/gridrank/internal/storage/gcs"
	"github.com/localrank/gridrank/internal/storage/local"
	blobnoop "github.com/localrank/gridrank/internal/storage/noop"
	"github.com/localrank/gridrank/internal/storage/postgres"
)

// App holds the shared, long-lived services. It is built once at startup and
// handed to whichever command runs.
type App struct {
	Cfg       config.Config
	Log       *zap.Logger
	Pool      *pgxpool.Pool
	Schedules *postgres.ScheduleStore
	Runs      *postgres.RunStore
	Configs   *postgres.ConfigStore
	Scheduler *schedule.Service
	Claimer   *claimer.Claimer
	Engine    *engine.Engine
	API       *api.Server

	fetchCloser  func()
	pubsubClient *pubsub.Client
	gcsClient    *gcstorage.Client
}

// New builds the full service graph from config. It fails fast when any
// critical dependency cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	log, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetime) * time.Minute,
	})
	if err != nil {
		return nil, err
	}

	a := &App{
		Cfg:       cfg,
		Log:       log,
		Pool:      pool,
		Schedules: postgres.NewScheduleStore(pool),
		Runs:      postgres.NewRunStore(pool),
		Configs:   postgres.NewConfigStore(pool),
	}

	clk := system.New()
	slots := slot.New(hours.New())
	a.Scheduler = schedule.New(a.Schedules, a.Configs, slots, clk, log, cfg.Schedule.SearchDays)
	a.Claimer = claimer.New(a.Schedules, a.Runs, a.Configs, clk, log, cfg.Claimer.BatchLimit)

	fetcher, err := a.buildFetcher()
	if err != nil {
		a.Close()
		return nil, err
	}
	blobs, err := a.buildBlobStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Engine = engine.New(
		a.Runs, a.Scheduler, a.Configs,
		fetcher, parse.NewNoOp(), blobs, publisher,
		sha256.New(), clk, log,
		engine.Config{
			Slots:          cfg.Engine.Slots,
			WindowSize:     cfg.Engine.WindowSize,
			PauseThreshold: cfg.Engine.PauseThreshold,
			Cooldown:       cfg.Engine.Cooldown(),
			DispatchDelay:  cfg.Engine.DispatchDelay(),
			RetireTimeout:  cfg.Engine.RetireTimeout(),
			RunBatchLimit:  cfg.Engine.RunBatchLimit,
			Topic:          cfg.Publisher.TopicName,
			BlobPrefix:     cfg.Storage.Prefix,
			ContentType:    cfg.Storage.ContentType,
			Proxy:          cfg.Proxy,
		},
	)
	a.API = api.NewServer(a.Runs, a.Schedules, log)
	return a, nil
}

func (a *App) buildFetcher() (rank.SearchFetcher, error) {
	cfg := a.Cfg.Fetch
	switch cfg.Provider {
	case "noop":
		a.Log.Info("using no-op fetcher, no network traffic will occur")
		return fetch.NewNoOp(), nil
	case "search":
		probe := fetch.NewProbe(fetch.ProbeConfig{
			UserAgent: cfg.UserAgent,
			Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
		})
		var headless rank.SearchFetcher
		if cfg.HeadlessEnabled {
			h, err := fetch.NewHeadless(fetch.HeadlessConfig{
				MaxParallel:       cfg.HeadlessParallel,
				UserAgent:         cfg.UserAgent,
				NavigationTimeout: time.Duration(cfg.NavTimeoutSeconds) * time.Second,
				Proxy:             a.Cfg.Proxy,
			})
			if err != nil {
				return nil, fmt.Errorf("initialize headless fetcher: %w", err)
			}
			a.fetchCloser = h.Close
			headless = h
		}
		return fetch.NewClient(probe, headless, fetch.NewDetector(), a.Log), nil
	default:
		return nil, fmt.Errorf("unknown fetch provider: %s", cfg.Provider)
	}
}

func (a *App) buildBlobStore(ctx context.Context) (rank.BlobStore, error) {
	cfg := a.Cfg.Storage
	switch cfg.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("initialize gcs client: %w", err)
		}
		a.gcsClient = client
		a.Log.Info("using GCS blob store", zap.String("bucket", cfg.GCSBucket))
		return gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket})
	case "local":
		a.Log.Info("using local blob store", zap.String("dir", cfg.LocalDir))
		return local.New(local.Config{BaseDir: cfg.LocalDir})
	case "noop":
		a.Log.Info("using no-op blob store, artifacts will be discarded")
		return blobnoop.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
}

func (a *App) buildPublisher(ctx context.Context) (rank.Publisher, error) {
	cfg := a.Cfg.Publisher
	switch cfg.Provider {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("initialize pubsub client: %w", err)
		}
		a.pubsubClient = client
		a.Log.Info("using Pub/Sub publisher", zap.String("topic", cfg.TopicName))
		return pubps.New(client), nil
	case "noop":
		a.Log.Info("using no-op publisher, run events will be dropped")
		return pubnoop.New(), nil
	default:
		return nil, fmt.Errorf("unknown publisher provider: %s", cfg.Provider)
	}
}

// Close shuts the service graph down in reverse dependency order.
func (a *App) Close() {
	if a.fetchCloser != nil {
		a.fetchCloser()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.Log.Warn("close pubsub client", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.Log.Warn("close gcs client", zap.Error(err))
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	_ = a.Log.Sync()
}
