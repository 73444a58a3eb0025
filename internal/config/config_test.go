package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

const secret = "0123456789abcdef0123456789abcdef"

func valid() Config {
	c := Defaults()
	c.Auth.JWTSecret = secret
	return c
}

func TestDefaultsNeedOnlyASecret(t *testing.T) {
	c := Defaults()
	err := c.Validate()
	check.True(t, err != nil)
	check.True(t, strings.Contains(err.Error(), "auth: jwt_secret is required"))

	c = valid()
	check.NoError(t, c.Validate())
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "trade" }, `unknown mode "trade"`},
		{"unknown log level", func(c *Config) { c.LogLevel = "loud" }, `unknown log_level "loud"`},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "at least 32 bytes"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server: port must be 1-65535"},
		{"redis broadcast without redis", func(c *Config) { c.Broadcast.Backend = "redis" }, "requires redis.enabled"},
		{"unknown backend", func(c *Config) { c.Broadcast.Backend = "kafka" }, `unknown backend "kafka"`},
		{"scheduler on memory", func(c *Config) {
			c.Mode = "scheduler"
			c.Redis.Enabled = true
			c.Broadcast.Backend = "redis"
		}, "mode scheduler requires postgres.enabled"},
		{"scheduler with local broadcast", func(c *Config) {
			c.Mode = "scheduler"
			c.Postgres.Enabled = true
		}, "mode scheduler requires backend redis"},
		{"pool bounds", func(c *Config) {
			c.Postgres.Enabled = true
			c.Postgres.PoolMinConns = 20
		}, "pool_min_conns must not exceed"},
		{"half telegram", func(c *Config) { c.Notify.TelegramToken = "t" }, "must be set together"},
		{"rate window", func(c *Config) { c.Server.RateWindow = duration{} }, "rate_window must be > 0"},
		{"s3 bucket", func(c *Config) {
			c.S3.Enabled = true
			c.S3.Bucket = ""
		}, "s3: bucket must not be empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(&c)
			err := c.Validate()
			assert.True(t, err != nil)
			check.True(t, strings.Contains(err.Error(), tc.want))
		})
	}
}

func TestSchedulerModeSkipsServerChecks(t *testing.T) {
	c := Defaults()
	c.Mode = "scheduler"
	c.Postgres.Enabled = true
	c.Redis.Enabled = true
	c.Broadcast.Backend = "redis"
	check.NoError(t, c.Validate())
	check.False(t, c.ServesAPI())
	check.True(t, c.RunsScheduler())
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	assert.NoError(t, os.WriteFile(path, []byte(`
mode = "api"

[server]
port = 9000
rate_window = "1m"

[ledger]
lock_ttl = "3s"

[broadcast]
backend = "redis"
`), 0o600))

	t.Setenv("LIVEBID_SERVER_PORT", "9100")
	t.Setenv("LIVEBID_AUTH_JWT_SECRET", secret)
	t.Setenv("LIVEBID_SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("LIVEBID_REDIS_ENABLED", "true")
	t.Setenv("LIVEBID_SCHEDULER_INTERVAL", "not-a-duration")

	c, err := Load(path)
	assert.NoError(t, err)
	check.Equal(t, "api", c.Mode)
	check.Equal(t, 9100, c.Server.Port)
	check.Equal(t, time.Minute, c.Server.RateWindow.Duration)
	check.Equal(t, 3*time.Second, c.Ledger.LockTTL.Duration)
	check.Equal(t, 2*time.Second, c.Ledger.LockWait.Duration)
	check.Equal(t, 30*time.Second, c.Scheduler.Interval.Duration)
	check.Equal(t, []string{"https://a.example", "https://b.example"}, c.Server.CORSOrigins)
	check.True(t, c.Redis.Enabled)
	check.NoError(t, c.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.NoError(t, err)
	check.Equal(t, 8000, c.Server.Port)
	check.Equal(t, "local", c.Broadcast.Backend)
}

func TestLoadRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	assert.NoError(t, os.WriteFile(path, []byte("mode = = 1"), 0o600))
	_, err := Load(path)
	check.True(t, err != nil)
}

func TestRedactedConfig(t *testing.T) {
	c := valid()
	c.Postgres.Password = "pw"
	c.Auth.AdminToken = "admin"
	c.S3.SecretKey = "s3"

	r := RedactedConfig(&c)
	check.Equal(t, "***", r.Auth.JWTSecret)
	check.Equal(t, "***", r.Auth.AdminToken)
	check.Equal(t, "***", r.Postgres.Password)
	check.Equal(t, "***", r.S3.SecretKey)
	check.Equal(t, "", r.Redis.Password)
	check.Equal(t, secret, c.Auth.JWTSecret)

	r.Server.CORSOrigins[0] = "mutated"
	check.Equal(t, "http://localhost:3000", c.Server.CORSOrigins[0])
}
