// Package config defines the top-level configuration for the livebid server
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by LIVEBID_* environment variables.
type Config struct {
	Postgres  PostgresConfig  `toml:"postgres"`
	Memory    MemoryConfig    `toml:"memory"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Auth      AuthConfig      `toml:"auth"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Broadcast BroadcastConfig `toml:"broadcast"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters. When Enabled is
// false the process keeps its state in memory, which only suits a single
// instance and local development.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// MemoryConfig applies when postgres is disabled. Without a seed file the
// in-memory stores start empty.
type MemoryConfig struct {
	SeedFile string `toml:"seed_file"`
}

// RedisConfig holds Redis connection parameters. Redis backs the snapshot
// cache, the cross-instance ledger lock, rate limiting and the redis
// broadcast backend.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters for auction archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	KeyPrefix      string `toml:"key_prefix"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	BidRateLimit    int      `toml:"bid_rate_limit"`
	EnrollRateLimit int      `toml:"enroll_rate_limit"`
	RateWindow      duration `toml:"rate_window"`
}

// AuthConfig holds the identity token and admin credentials.
type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
	Issuer    string `toml:"issuer"`
	// AdminToken guards the back-office routes. Empty disables them.
	AdminToken string `toml:"admin_token"`
}

// LedgerConfig tunes the bid ledger's locking and caching.
type LedgerConfig struct {
	LockTTL     duration `toml:"lock_ttl"`
	LockWait    duration `toml:"lock_wait"`
	SnapshotTTL duration `toml:"snapshot_ttl"`
}

// BroadcastConfig selects how ledger events reach WebSocket subscribers.
// "local" delivers in-process; "redis" fans out through Redis pub/sub so
// every instance's subscribers see every commit.
type BroadcastConfig struct {
	Backend string `toml:"backend"`
}

// SchedulerConfig holds the lifecycle scheduler parameters.
type SchedulerConfig struct {
	Interval duration `toml:"interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	TelegramAPIBase   string   `toml:"telegram_api_base"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "livebid",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "livebid:",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "livebid-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			BidRateLimit:    20,
			EnrollRateLimit: 5,
			RateWindow:      duration{10 * time.Second},
		},
		Auth: AuthConfig{
			Issuer: "livebid",
		},
		Ledger: LedgerConfig{
			LockTTL:     duration{5 * time.Second},
			LockWait:    duration{2 * time.Second},
			SnapshotTTL: duration{10 * time.Minute},
		},
		Broadcast: BroadcastConfig{
			Backend: "local",
		},
		Scheduler: SchedulerConfig{
			Interval: duration{30 * time.Second},
		},
		Notify: NotifyConfig{
			TelegramAPIBase: "https://api.telegram.org",
			Events:          []string{"auction_closed", "archive_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"api":       true,
	"scheduler": true,
	"full":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"local": true,
	"redis": true,
}

// ServesAPI reports whether the mode runs the HTTP server.
func (c *Config) ServesAPI() bool {
	m := strings.ToLower(c.Mode)
	return m == "api" || m == "full"
}

// RunsScheduler reports whether the mode runs the lifecycle scheduler.
func (c *Config) RunsScheduler() bool {
	m := strings.ToLower(c.Mode)
	return m == "scheduler" || m == "full"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, scheduler, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	} else if strings.ToLower(c.Mode) == "scheduler" {
		// A scheduler with its own memory store would drive nothing.
		errs = append(errs, "postgres: mode scheduler requires postgres.enabled")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Server
	if c.ServesAPI() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.BidRateLimit < 0 || c.Server.EnrollRateLimit < 0 {
			errs = append(errs, "server: rate limits must be >= 0")
		}
		if (c.Server.BidRateLimit > 0 || c.Server.EnrollRateLimit > 0) && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when a rate limit is set")
		}
		if strings.TrimSpace(c.Auth.JWTSecret) == "" {
			errs = append(errs, "auth: jwt_secret is required to serve the API")
		} else if len(c.Auth.JWTSecret) < 32 {
			errs = append(errs, "auth: jwt_secret must be at least 32 bytes")
		}
	}

	// Ledger
	if c.Ledger.LockTTL.Duration <= 0 {
		errs = append(errs, "ledger: lock_ttl must be > 0")
	}
	if c.Ledger.LockWait.Duration <= 0 {
		errs = append(errs, "ledger: lock_wait must be > 0")
	}

	// Broadcast
	backend := strings.ToLower(c.Broadcast.Backend)
	if !validBackends[backend] {
		errs = append(errs, fmt.Sprintf("broadcast: unknown backend %q (valid: local, redis)", c.Broadcast.Backend))
	}
	if backend == "redis" && !c.Redis.Enabled {
		errs = append(errs, "broadcast: backend redis requires redis.enabled")
	}
	// Without a shared bus, status events from a separate scheduler process
	// would never reach subscribers.
	if strings.ToLower(c.Mode) == "scheduler" && backend != "redis" {
		errs = append(errs, "broadcast: mode scheduler requires backend redis")
	}

	// Scheduler
	if c.RunsScheduler() && c.Scheduler.Interval.Duration <= 0 {
		errs = append(errs, "scheduler: interval must be > 0")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
