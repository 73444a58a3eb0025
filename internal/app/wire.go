package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/maqzone/livebid/internal/blob/s3"
	"github.com/maqzone/livebid/internal/cache/redis"
	"github.com/maqzone/livebid/internal/config"
	"github.com/maqzone/livebid/internal/domain"
	"github.com/maqzone/livebid/internal/notify"
	"github.com/maqzone/livebid/internal/server/handler"
	"github.com/maqzone/livebid/internal/store/memory"
	"github.com/maqzone/livebid/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	AuctionStore    domain.AuctionStore
	BidStore        domain.BidStore
	EnrollmentStore domain.EnrollmentStore
	AccountStore    domain.AccountStore
	AuditStore      domain.AuditStore

	// Caches (nil without Redis)
	SnapshotCache domain.SnapshotCache
	RateLimiter   domain.RateLimiter
	LockManager   domain.LockManager
	SignalBus     domain.SignalBus

	// Blob storage (nil without S3)
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Health probes keyed by dependency name.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: map[string]handler.Check{}}

	// --- Stores: PostgreSQL, or in-process for a single dev instance ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.AuctionStore = postgres.NewAuctionStore(pool)
		deps.BidStore = postgres.NewBidStore(pool)
		deps.EnrollmentStore = postgres.NewEnrollmentStore(pool)
		deps.AccountStore = postgres.NewAccountStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
	} else {
		logger.WarnContext(ctx, "postgres disabled, using in-memory stores")
		auctions := memory.NewAuctionStore()
		accounts := memory.NewAccountStore()
		enrollments := memory.NewEnrollmentStore()
		if path := cfg.Memory.SeedFile; path != "" {
			seed, err := memory.LoadSeed(path)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: %w", err)
			}
			if err := seed.Apply(auctions, accounts, enrollments); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: %w", err)
			}
			logger.InfoContext(ctx, "in-memory stores seeded",
				slog.String("path", path),
				slog.Int("auctions", len(seed.Auctions)),
				slog.Int("accounts", len(seed.Accounts)),
				slog.Int("enrollments", len(seed.Enrollments)),
			)
		}
		deps.AuctionStore = auctions
		deps.BidStore = memory.NewBidStore(auctions)
		deps.EnrollmentStore = enrollments
		deps.AccountStore = accounts
		deps.AuditStore = memory.NewAuditStore()
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SnapshotCache = redis.NewSnapshotCache(redisClient, cfg.Ledger.SnapshotTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 archive of closed auctions ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			KeyPrefix:      cfg.S3.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.BidStore, deps.AuditStore, logger)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPIBase,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
