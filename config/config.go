package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MaxSchedulerInterval is the finest slot granularity. Polling less often
// than this would skip occurrences.
const MaxSchedulerInterval = time.Minute

// Scheduler modes.
const (
	ModeExact   = "exact"
	ModeCatchUp = "catch_up"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

// Config represents the overall application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Worker    WorkerConfig    `yaml:"worker"`
	Reaper    ReaperConfig    `yaml:"reaper"`
	Push      PushConfig      `yaml:"push"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port" env:"SERVER_PORT"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" env:"SERVER_RATE_LIMIT_PER_SEC"`
	RateLimitBurst  int     `yaml:"rate_limit_burst" env:"SERVER_RATE_LIMIT_BURST"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds" env:"SERVER_CACHE_TTL_SECONDS"`
	// WorkerToken guards the /internal worker endpoints. Empty disables them.
	WorkerToken string `yaml:"worker_token" env:"SERVER_WORKER_TOKEN"`
	// UserHeader carries the caller identity resolved by the upstream gateway.
	UserHeader string `yaml:"user_header" env:"SERVER_USER_HEADER"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string      `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN                    string      `yaml:"dsn" env:"DATABASE_DSN"`
	MaxOpenConns           int         `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns           int         `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetimeMinutes int         `yaml:"conn_max_lifetime_minutes" env:"DATABASE_CONN_MAX_LIFETIME_MINUTES"`
	Mongo                  MongoConfig `yaml:"mongo"`
}

// MongoConfig is used when Driver is "mongo".
type MongoConfig struct {
	URI                   string `yaml:"uri" env:"MONGODB_URL"`
	Database              string `yaml:"database" env:"MONGODB_DATABASE"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds" env:"MONGODB_CONNECT_TIMEOUT_SECONDS"`
	MaxPoolSize           uint64 `yaml:"max_pool_size" env:"MONGODB_MAX_POOL_SIZE"`
	RetryAttempts         int    `yaml:"retry_attempts" env:"MONGODB_RETRY_ATTEMPTS"`
	RetryIntervalSeconds  int    `yaml:"retry_interval_seconds" env:"MONGODB_RETRY_INTERVAL_SECONDS"`
}

// SchedulerConfig controls the occurrence scanner.
type SchedulerConfig struct {
	Enabled              bool          `yaml:"enabled" env:"SCHEDULER_ENABLED"`
	IntervalSeconds      int           `yaml:"interval_seconds" env:"SCHEDULER_INTERVAL_SECONDS"`
	Interval             time.Duration `yaml:"-"`
	Mode                 string        `yaml:"mode" env:"SCHEDULER_MODE"`
	CatchUpWindowMinutes int           `yaml:"catch_up_window_minutes" env:"SCHEDULER_CATCH_UP_WINDOW_MINUTES"`
	CatchUpWindow        time.Duration `yaml:"-"`
}

// WorkerConfig holds the configuration for the publishing worker pool.
type WorkerConfig struct {
	Enabled             bool          `yaml:"enabled" env:"WORKER_ENABLED"`
	Size                int           `yaml:"size" env:"WORKER_SIZE"`
	BatchSize           int           `yaml:"batch_size" env:"WORKER_BATCH_SIZE"`
	PollIntervalSeconds int           `yaml:"poll_interval_seconds" env:"WORKER_POLL_INTERVAL_SECONDS"`
	PollInterval        time.Duration `yaml:"-"`
}

// ReaperConfig controls recovery of claims abandoned by crashed workers.
type ReaperConfig struct {
	Enabled           bool          `yaml:"enabled" env:"REAPER_ENABLED"`
	IntervalSeconds   int           `yaml:"interval_seconds" env:"REAPER_INTERVAL_SECONDS"`
	Interval          time.Duration `yaml:"-"`
	StaleAfterSeconds int           `yaml:"stale_after_seconds" env:"REAPER_STALE_AFTER_SECONDS"`
	StaleAfter        time.Duration `yaml:"-"`
	MaxAttempts       int           `yaml:"max_attempts" env:"REAPER_MAX_ATTEMPTS"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key" env:"PUSH_VAPID_PUBLIC_KEY"`
	PrivateKey string `yaml:"vapid_private_key" env:"PUSH_VAPID_PRIVATE_KEY"`
	Subject    string `yaml:"subject" env:"PUSH_SUBJECT"`
	TTL        int    `yaml:"ttl" env:"PUSH_TTL"`
}

// Configured reports whether both VAPID keys are present.
func (p PushConfig) Configured() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// Load reads the configuration from the given path, then applies
// environment overrides (a .env file in the working directory is honored).
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	// A missing .env file is fine.
	_ = godotenv.Load()
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}
	if cfg.Server.UserHeader == "" {
		cfg.Server.UserHeader = "X-User-ID"
	}

	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	switch cfg.Database.Driver {
	case "":
		cfg.Database.Driver = DriverPostgres
	case DriverPostgres, DriverSQLite, DriverMongo:
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if cfg.Database.Mongo.Database == "" {
		cfg.Database.Mongo.Database = "publish_calendar"
	}
	if cfg.Database.Mongo.ConnectTimeoutSeconds <= 0 {
		cfg.Database.Mongo.ConnectTimeoutSeconds = 10
	}
	if cfg.Database.Mongo.MaxPoolSize == 0 {
		cfg.Database.Mongo.MaxPoolSize = 100
	}
	if cfg.Database.Mongo.RetryAttempts <= 0 {
		cfg.Database.Mongo.RetryAttempts = 3
	}
	if cfg.Database.Mongo.RetryIntervalSeconds <= 0 {
		cfg.Database.Mongo.RetryIntervalSeconds = 5
	}

	if cfg.Scheduler.IntervalSeconds <= 0 {
		cfg.Scheduler.IntervalSeconds = 30
	}
	cfg.Scheduler.Interval = time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second
	if cfg.Scheduler.Interval > MaxSchedulerInterval {
		slog.Warn("scheduler.interval_seconds exceeds one minute; clamping so no slot minute is skipped",
			"configured", cfg.Scheduler.Interval)
		cfg.Scheduler.Interval = MaxSchedulerInterval
		cfg.Scheduler.IntervalSeconds = int(MaxSchedulerInterval / time.Second)
	}
	switch cfg.Scheduler.Mode {
	case "":
		cfg.Scheduler.Mode = ModeExact
	case ModeExact, ModeCatchUp:
	default:
		return fmt.Errorf("unsupported scheduler mode %q", cfg.Scheduler.Mode)
	}
	if cfg.Scheduler.CatchUpWindowMinutes <= 0 {
		cfg.Scheduler.CatchUpWindowMinutes = 60
	}
	cfg.Scheduler.CatchUpWindow = time.Duration(cfg.Scheduler.CatchUpWindowMinutes) * time.Minute

	if cfg.Worker.Size <= 0 {
		slog.Info("worker.size is not set or invalid; defaulting to 1")
		cfg.Worker.Size = 1
	}
	if cfg.Worker.BatchSize <= 0 {
		cfg.Worker.BatchSize = 10
	}
	if cfg.Worker.PollIntervalSeconds <= 0 {
		cfg.Worker.PollIntervalSeconds = 5
	}
	cfg.Worker.PollInterval = time.Duration(cfg.Worker.PollIntervalSeconds) * time.Second

	if cfg.Reaper.IntervalSeconds <= 0 {
		cfg.Reaper.IntervalSeconds = 60
	}
	cfg.Reaper.Interval = time.Duration(cfg.Reaper.IntervalSeconds) * time.Second
	if cfg.Reaper.StaleAfterSeconds <= 0 {
		cfg.Reaper.StaleAfterSeconds = 600
	}
	cfg.Reaper.StaleAfter = time.Duration(cfg.Reaper.StaleAfterSeconds) * time.Second
	if cfg.Reaper.MaxAttempts <= 0 {
		cfg.Reaper.MaxAttempts = 3
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return nil
}
