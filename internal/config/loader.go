package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LIVEBID_* environment variable overrides, and
// returns the final Config. A missing file is not an error: the defaults and
// environment alone are a valid source. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LIVEBID_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "LIVEBID_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "LIVEBID_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "LIVEBID_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LIVEBID_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LIVEBID_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LIVEBID_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LIVEBID_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LIVEBID_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LIVEBID_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LIVEBID_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LIVEBID_POSTGRES_RUN_MIGRATIONS")

	// ── Memory ──
	setStr(&cfg.Memory.SeedFile, "LIVEBID_MEMORY_SEED_FILE")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "LIVEBID_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "LIVEBID_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LIVEBID_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LIVEBID_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LIVEBID_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LIVEBID_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LIVEBID_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "LIVEBID_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "LIVEBID_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "LIVEBID_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LIVEBID_S3_REGION")
	setStr(&cfg.S3.Bucket, "LIVEBID_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LIVEBID_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LIVEBID_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LIVEBID_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LIVEBID_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.KeyPrefix, "LIVEBID_S3_KEY_PREFIX")

	// ── Server ──
	setInt(&cfg.Server.Port, "LIVEBID_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "LIVEBID_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.BidRateLimit, "LIVEBID_SERVER_BID_RATE_LIMIT")
	setInt(&cfg.Server.EnrollRateLimit, "LIVEBID_SERVER_ENROLL_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "LIVEBID_SERVER_RATE_WINDOW")

	// ── Auth ──
	setStr(&cfg.Auth.JWTSecret, "LIVEBID_AUTH_JWT_SECRET")
	setStr(&cfg.Auth.Issuer, "LIVEBID_AUTH_ISSUER")
	setStr(&cfg.Auth.AdminToken, "LIVEBID_AUTH_ADMIN_TOKEN")

	// ── Ledger ──
	setDuration(&cfg.Ledger.LockTTL, "LIVEBID_LEDGER_LOCK_TTL")
	setDuration(&cfg.Ledger.LockWait, "LIVEBID_LEDGER_LOCK_WAIT")
	setDuration(&cfg.Ledger.SnapshotTTL, "LIVEBID_LEDGER_SNAPSHOT_TTL")

	// ── Broadcast ──
	setStr(&cfg.Broadcast.Backend, "LIVEBID_BROADCAST_BACKEND")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.Interval, "LIVEBID_SCHEDULER_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LIVEBID_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LIVEBID_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.TelegramAPIBase, "LIVEBID_NOTIFY_TELEGRAM_API_BASE")
	setStr(&cfg.Notify.DiscordWebhookURL, "LIVEBID_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LIVEBID_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "LIVEBID_MODE")
	setStr(&cfg.LogLevel, "LIVEBID_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
