// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/localrank/gridrank/internal/rank"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	DB        DBConfig         `mapstructure:"db"`
	Schedule  ScheduleConfig   `mapstructure:"schedule"`
	Claimer   ClaimerConfig    `mapstructure:"claimer"`
	Engine    EngineConfig     `mapstructure:"engine"`
	Fetch     FetchConfig      `mapstructure:"fetch"`
	Proxy     rank.ProxyConfig `mapstructure:"proxy"`
	Storage   StorageConfig    `mapstructure:"storage"`
	Publisher PublisherConfig  `mapstructure:"publisher"`
	Logging   LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime_minutes"`
}

// ScheduleConfig sets schedule initialization defaults.
type ScheduleConfig struct {
	DefaultHour    int `mapstructure:"default_hour"`
	DefaultMinute  int `mapstructure:"default_minute"`
	SearchDays     int `mapstructure:"search_days"`
	MinLeadMinutes int `mapstructure:"min_lead_minutes"`
}

// ClaimerConfig governs the due-run claimer pass.
type ClaimerConfig struct {
	BatchLimit   int    `mapstructure:"batch_limit"`
	TickSchedule string `mapstructure:"tick_schedule"`
}

// EngineConfig governs the worker pool engine.
type EngineConfig struct {
	Slots             int     `mapstructure:"slots"`
	WindowSize        int     `mapstructure:"window_size"`
	PauseThreshold    float64 `mapstructure:"pause_threshold"`
	CooldownSeconds   int     `mapstructure:"cooldown_seconds"`
	DispatchDelayMs   int     `mapstructure:"dispatch_delay_ms"`
	RetireTimeoutSecs int     `mapstructure:"retire_timeout_seconds"`
	LockPath          string  `mapstructure:"lock_path"`
	TickSchedule      string  `mapstructure:"tick_schedule"`
	RunBatchLimit     int     `mapstructure:"run_batch_limit"`
}

// FetchConfig configures the search-content fetch pipeline.
type FetchConfig struct {
	Provider          string `mapstructure:"provider"`
	UserAgent         string `mapstructure:"user_agent"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	HeadlessEnabled   bool   `mapstructure:"headless_enabled"`
	HeadlessParallel  int    `mapstructure:"headless_max_parallel"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
}

// StorageConfig selects and configures the artifact blob store.
type StorageConfig struct {
	Provider    string `mapstructure:"provider"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PublisherConfig holds metadata for run-completion notifications.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GRIDRANK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("schedule.default_hour", 12)
	v.SetDefault("schedule.default_minute", 0)
	v.SetDefault("schedule.search_days", 14)
	v.SetDefault("schedule.min_lead_minutes", rank.DefaultMinLeadMinutes)
	v.SetDefault("claimer.batch_limit", 20)
	v.SetDefault("claimer.tick_schedule", "@every 1m")
	v.SetDefault("engine.slots", 5)
	v.SetDefault("engine.window_size", 10)
	v.SetDefault("engine.pause_threshold", 0.5)
	v.SetDefault("engine.cooldown_seconds", 300)
	v.SetDefault("engine.dispatch_delay_ms", 1500)
	v.SetDefault("engine.retire_timeout_seconds", 30)
	v.SetDefault("engine.lock_path", "/tmp/gridrank-engine.lock")
	v.SetDefault("engine.tick_schedule", "@every 1m")
	v.SetDefault("engine.run_batch_limit", 5)
	v.SetDefault("fetch.provider", "noop")
	v.SetDefault("fetch.user_agent", "gridrank-bot/0.1")
	v.SetDefault("fetch.timeout_seconds", 20)
	v.SetDefault("fetch.headless_enabled", false)
	v.SetDefault("fetch.headless_max_parallel", 1)
	v.SetDefault("fetch.nav_timeout_seconds", 25)
	v.SetDefault("storage.provider", "noop")
	v.SetDefault("storage.prefix", "points")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("publisher.provider", "noop")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Engine.Slots <= 0 {
		return fmt.Errorf("engine.slots must be > 0")
	}
	if c.Engine.WindowSize <= 0 {
		return fmt.Errorf("engine.window_size must be > 0")
	}
	if c.Engine.PauseThreshold <= 0 || c.Engine.PauseThreshold > 1 {
		return fmt.Errorf("engine.pause_threshold must be in (0, 1]")
	}
	if c.Schedule.MinLeadMinutes <= 0 {
		return fmt.Errorf("schedule.min_lead_minutes must be > 0")
	}
	if c.Fetch.HeadlessEnabled && c.Fetch.HeadlessParallel <= 0 {
		return fmt.Errorf("fetch.headless_max_parallel must be > 0 when headless is enabled")
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set for the gcs provider")
	}
	if c.Publisher.Provider == "pubsub" && (c.Publisher.ProjectID == "" || c.Publisher.TopicName == "") {
		return fmt.Errorf("publisher.project_id and publisher.topic_name must be set for the pubsub provider")
	}
	return nil
}

// Cooldown returns the engine circuit-breaker cooldown.
func (c EngineConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// DispatchDelay returns the fixed delay between point dispatches.
func (c EngineConfig) DispatchDelay() time.Duration {
	return time.Duration(c.DispatchDelayMs) * time.Millisecond
}

// RetireTimeout bounds the wait for execution units to retire.
func (c EngineConfig) RetireTimeout() time.Duration {
	return time.Duration(c.RetireTimeoutSecs) * time.Second
}

// MinLead returns the schedule lead time as a duration.
func (c ScheduleConfig) MinLead() time.Duration {
	return time.Duration(c.MinLeadMinutes) * time.Minute
}
