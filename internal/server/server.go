package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/maqzone/livebid/internal/domain"
	"github.com/maqzone/livebid/internal/server/handler"
	"github.com/maqzone/livebid/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	AdminToken  string // empty disables the admin routes

	// Per-caller sliding-window budgets for bid and enrollment submission.
	BidRateLimit    int
	EnrollRateLimit int
	RateWindow      time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Auctions   *handler.AuctionHandler
	Enrollment *handler.EnrollmentHandler
	Admin      *handler.AdminHandler
	Stream     http.Handler // nil disables GET /api/ws/auctions/{id}
}

// Server is the HTTP + WebSocket API for live auctions.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter may be nil, which disables rate limiting.
func NewServer(
	cfg Config,
	handlers Handlers,
	verifier middleware.TokenVerifier,
	limiter domain.RateLimiter,
	logger *slog.Logger,
) *Server {
	mux := http.NewServeMux()

	bidLimit := middleware.RateLimit(limiter, "bids", cfg.BidRateLimit, cfg.RateWindow, logger)
	enrollLimit := middleware.RateLimit(limiter, "enroll", cfg.EnrollRateLimit, cfg.RateWindow, logger)
	admin := middleware.AdminToken(cfg.AdminToken)

	// Health check.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Auction reads are open to anonymous viewers.
	mux.HandleFunc("GET /api/auctions/{id}", handlers.Auctions.GetAuction)
	mux.HandleFunc("GET /api/auctions/{id}/bids", handlers.Auctions.ListBids)

	// Bidder actions.
	mux.Handle("POST /api/auctions/{id}/bids",
		middleware.RequireIdentity(bidLimit(http.HandlerFunc(handlers.Auctions.PlaceBid))))
	mux.Handle("POST /api/auctions/{id}/enroll",
		middleware.RequireIdentity(enrollLimit(http.HandlerFunc(handlers.Enrollment.Request))))
	mux.Handle("GET /api/auctions/{id}/enroll",
		middleware.RequireIdentity(http.HandlerFunc(handlers.Enrollment.Status)))

	// Live stream.
	if handlers.Stream != nil {
		mux.Handle("GET /api/ws/auctions/{id}", handlers.Stream)
	}

	// Operator surface.
	mux.Handle("PUT /api/admin/auctions/{id}/status",
		admin(http.HandlerFunc(handlers.Admin.SetStatus)))
	mux.Handle("PUT /api/admin/auctions/{id}/enrollments/{userId}/approve",
		admin(http.HandlerFunc(handlers.Admin.Approve)))
	mux.Handle("PUT /api/admin/auctions/{id}/enrollments/{userId}/reject",
		admin(http.HandlerFunc(handlers.Admin.Reject)))
	mux.Handle("GET /api/admin/auctions/{id}/enrollments",
		admin(http.HandlerFunc(handlers.Admin.ListEnrollments)))

	// Build the middleware chain.
	var h http.Handler = mux
	h = middleware.Identity(verifier)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(middleware.NewOrigins(cfg.CORSOrigins))(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline. Hijacked WebSocket
// connections are not tracked by http.Server and close with the process.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
