package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maqzone/livebid/internal/auth"
	"github.com/maqzone/livebid/internal/enrollment"
	"github.com/maqzone/livebid/internal/ledger"
	"github.com/maqzone/livebid/internal/scheduler"
	"github.com/maqzone/livebid/internal/server"
	"github.com/maqzone/livebid/internal/server/handler"
	"github.com/maqzone/livebid/internal/server/ws"
	"github.com/maqzone/livebid/internal/service"
)

const shutdownTimeout = 10 * time.Second

// core is the bidding core shared by every mode.
type core struct {
	ledger *ledger.Ledger
	gate   *enrollment.Gate
	hub    *ws.Hub
	relay  *ws.Relay // nil with the local broadcast backend
}

// buildCore assembles the ledger, enrollment gate and broadcast channel.
// With the redis backend the ledger publishes to the bus and the relay feeds
// the local hub back from it, so every instance delivers every commit.
func (a *App) buildCore(deps *Dependencies) *core {
	c := &core{hub: ws.NewHub(a.component("ws"))}

	c.gate = enrollment.NewGate(
		deps.EnrollmentStore, deps.AccountStore, deps.AuctionStore, deps.AuditStore,
		a.component("enrollment"),
	)

	var pub ledger.Publisher = c.hub
	if strings.ToLower(a.cfg.Broadcast.Backend) == "redis" && deps.SignalBus != nil {
		c.relay = ws.NewRelay(deps.SignalBus, c.hub, a.component("relay"))
		pub = c.relay
	}

	l := ledger.New(deps.AuctionStore, deps.BidStore, c.gate, pub, a.component("ledger")).
		WithAudit(deps.AuditStore)
	if deps.SnapshotCache != nil {
		l = l.WithSnapshotCache(deps.SnapshotCache)
	}
	if deps.LockManager != nil {
		l = l.WithDistributedLock(deps.LockManager, a.cfg.Ledger.LockTTL.Duration, a.cfg.Ledger.LockWait.Duration)
	}
	c.ledger = l
	return c
}

// APIMode serves the HTTP API and WebSocket stream.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")
	g, ctx := errgroup.WithContext(ctx)
	c := a.buildCore(deps)
	a.startRelay(ctx, g, c)
	a.startServer(ctx, g, deps, c)
	return g.Wait()
}

// SchedulerMode runs only the lifecycle scheduler. Status events reach API
// instances through the redis broadcast backend.
func (a *App) SchedulerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scheduler mode")
	g, ctx := errgroup.WithContext(ctx)
	c := a.buildCore(deps)
	a.startScheduler(ctx, g, deps, c)
	return g.Wait()
}

// FullMode runs the API and the scheduler in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	c := a.buildCore(deps)
	a.startRelay(ctx, g, c)
	a.startServer(ctx, g, deps, c)
	a.startScheduler(ctx, g, deps, c)
	return g.Wait()
}

func (a *App) startRelay(ctx context.Context, g *errgroup.Group, c *core) {
	if c.relay == nil {
		return
	}
	g.Go(func() error {
		return c.relay.Run(ctx)
	})
}

func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	sched := scheduler.New(
		deps.AuctionStore,
		c.ledger,
		deps.Archiver,
		deps.Notifier,
		a.cfg.Scheduler.Interval.Duration,
		a.component("scheduler"),
	)
	if deps.Archiver == nil {
		a.logger.WarnContext(ctx, "s3 disabled, closed auctions will not be archived")
	}
	g.Go(func() error {
		return sched.Run(ctx)
	})
}

func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	svc := service.NewAuctionService(c.ledger, c.gate, a.component("service"))
	httpLogger := a.component("http")

	srv := server.NewServer(
		server.Config{
			Port:            a.cfg.Server.Port,
			CORSOrigins:     a.cfg.Server.CORSOrigins,
			AdminToken:      a.cfg.Auth.AdminToken,
			BidRateLimit:    a.cfg.Server.BidRateLimit,
			EnrollRateLimit: a.cfg.Server.EnrollRateLimit,
			RateWindow:      a.cfg.Server.RateWindow.Duration,
		},
		server.Handlers{
			Health:     handler.NewHealthHandler(deps.Checks, httpLogger),
			Auctions:   handler.NewAuctionHandler(svc, httpLogger),
			Enrollment: handler.NewEnrollmentHandler(svc, httpLogger),
			Admin:      handler.NewAdminHandler(svc, httpLogger),
			Stream:     ws.NewHandler(c.hub, c.ledger, a.cfg.Server.CORSOrigins, a.component("ws")),
		},
		auth.NewVerifier(a.cfg.Auth.JWTSecret, a.cfg.Auth.Issuer),
		deps.RateLimiter,
		httpLogger,
	)
	if a.cfg.Auth.AdminToken == "" {
		a.logger.WarnContext(ctx, "auth.admin_token empty, admin routes disabled")
	}

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening", slog.Int("port", a.cfg.Server.Port))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
