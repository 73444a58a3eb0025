// Package scheduler drives auctions through time: it opens scheduled
// auctions when their start time arrives and closes them once the end
// time has passed. Every change goes through the ledger so subscribers see
// the status event in order with bids.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maqzone/livebid/internal/domain"
)

const defaultInterval = 30 * time.Second

// Transitioner applies lifecycle changes. *ledger.Ledger satisfies it.
// CloseIfDue must re-check the end time under the same lock bids commit
// under, returning domain.ErrNotDue when a late bid extended the auction.
type Transitioner interface {
	Transition(ctx context.Context, auctionID int64, to domain.AuctionStatus, now time.Time) (domain.Auction, error)
	CloseIfDue(ctx context.Context, auctionID int64, now time.Time) (domain.Auction, error)
}

// DueLister finds auctions whose status is out of date.
type DueLister interface {
	ListDue(ctx context.Context, now time.Time) ([]domain.Auction, error)
}

// Announcer is told about lifecycle milestones. *notify.Notifier satisfies it.
type Announcer interface {
	AuctionActivated(ctx context.Context, a domain.Auction) error
	AuctionClosed(ctx context.Context, a domain.Auction, archivePath string) error
	ArchiveFailed(ctx context.Context, a domain.Auction, cause error) error
}

// Result counts what one tick changed.
type Result struct {
	Activated int
	Closed    int
	Failed    int
}

// Scheduler runs the lifecycle tick.
type Scheduler struct {
	due      DueLister
	ledger   Transitioner
	archiver domain.Archiver
	announce Announcer
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Scheduler. archiver and announce may be nil.
func New(due DueLister, l Transitioner, archiver domain.Archiver, announce Announcer, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Scheduler{
		due:      due,
		ledger:   l,
		archiver: archiver,
		announce: announce,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

// WithClock overrides the clock used to decide what is due.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	// Run immediately on start.
	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	res, err := s.Tick(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "scheduler tick failed", slog.String("error", err.Error()))
		return
	}
	if res.Activated+res.Closed+res.Failed > 0 {
		s.logger.InfoContext(ctx, "scheduler tick",
			slog.Int("activated", res.Activated),
			slog.Int("closed", res.Closed),
			slog.Int("failed", res.Failed),
		)
	}
}

// Tick applies every transition due at the current time. A failure on one
// auction is logged and does not stop the rest.
func (s *Scheduler) Tick(ctx context.Context) (Result, error) {
	now := s.now()
	due, err := s.due.ListDue(ctx, now)
	if err != nil {
		return Result{}, fmt.Errorf("scheduler: list due: %w", err)
	}

	var res Result
	for _, a := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if a.Status == domain.AuctionStatusScheduled {
			activated, err := s.transition(ctx, a, domain.AuctionStatusActive, now)
			if err != nil {
				res.Failed++
				continue
			}
			if activated.ID == 0 {
				continue
			}
			res.Activated++
			s.announceActivated(ctx, activated)
			a = activated
		}

		// Strictly past: a bid arriving exactly at the end time still counts.
		if !a.EndTime.Before(now) {
			continue
		}
		closed, err := s.close(ctx, a, now)
		if err != nil {
			res.Failed++
			continue
		}
		if closed.ID == 0 {
			continue
		}
		res.Closed++
		s.finish(ctx, closed)
	}
	return res, nil
}

// transition returns the zero Auction when another instance already moved
// the auction on.
func (s *Scheduler) transition(ctx context.Context, a domain.Auction, to domain.AuctionStatus, now time.Time) (domain.Auction, error) {
	updated, err := s.ledger.Transition(ctx, a.ID, to, now)
	if errors.Is(err, domain.ErrInvalidTransition) {
		s.logger.DebugContext(ctx, "transition already applied",
			slog.Int64("auction_id", a.ID),
			slog.String("to", string(to)),
		)
		return domain.Auction{}, nil
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "transition failed",
			slog.Int64("auction_id", a.ID),
			slog.String("to", string(to)),
			slog.String("error", err.Error()),
		)
		return domain.Auction{}, err
	}
	return updated, nil
}

// close returns the zero Auction when the auction is no longer due, either
// because a bid extended it or because it was already closed.
func (s *Scheduler) close(ctx context.Context, a domain.Auction, now time.Time) (domain.Auction, error) {
	closed, err := s.ledger.CloseIfDue(ctx, a.ID, now)
	switch {
	case errors.Is(err, domain.ErrNotDue):
		s.logger.InfoContext(ctx, "auction extended, not closing",
			slog.Int64("auction_id", a.ID),
			slog.Time("listed_end", a.EndTime),
		)
		return domain.Auction{}, nil
	case errors.Is(err, domain.ErrInvalidTransition):
		s.logger.DebugContext(ctx, "close already applied", slog.Int64("auction_id", a.ID))
		return domain.Auction{}, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "close failed",
			slog.Int64("auction_id", a.ID),
			slog.String("error", err.Error()),
		)
		return domain.Auction{}, err
	}
	return closed, nil
}

func (s *Scheduler) announceActivated(ctx context.Context, a domain.Auction) {
	if s.announce == nil {
		return
	}
	if err := s.announce.AuctionActivated(ctx, a); err != nil {
		s.logger.WarnContext(ctx, "announce activation", slog.String("error", err.Error()))
	}
}

// finish archives a closed auction and announces the result.
func (s *Scheduler) finish(ctx context.Context, a domain.Auction) {
	var path string
	if s.archiver != nil {
		p, err := s.archiver.ArchiveAuction(ctx, a)
		if err != nil {
			s.logger.ErrorContext(ctx, "archive failed",
				slog.Int64("auction_id", a.ID),
				slog.String("error", err.Error()),
			)
			if s.announce != nil {
				_ = s.announce.ArchiveFailed(ctx, a, err)
			}
		}
		path = p
	}
	if s.announce == nil {
		return
	}
	if err := s.announce.AuctionClosed(ctx, a, path); err != nil {
		s.logger.WarnContext(ctx, "announce close", slog.String("error", err.Error()))
	}
}
