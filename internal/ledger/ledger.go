// Package ledger is the single writer of every auction's price and timing
// state. Bids and lifecycle changes for one auction are serialized through a
// per-auction critical section; different auctions never contend.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maqzone/livebid/internal/auction"
	"github.com/maqzone/livebid/internal/domain"
)

const (
	defaultLockTTL    = 5 * time.Second
	defaultLockWait   = 3 * time.Second
	lockRetryInterval = 20 * time.Millisecond
	maxCommitAttempts = 3
)

// EligibilityChecker answers whether a user may bid on an auction.
type EligibilityChecker interface {
	CheckEligibility(ctx context.Context, auctionID, userID int64) (domain.Eligibility, error)
}

// Publisher receives committed ledger events in commit order.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Outcome is the typed result of TryAcceptBid. Exactly one of the accepted
// or rejected field groups is meaningful.
type Outcome struct {
	Accepted   bool
	Bid        domain.Bid
	NewEndTime time.Time
	Extended   bool
	BidCount   int64
	Version    int64

	Reason       domain.RejectReason
	MinimumBid   int64
	Hint         string
	Action       domain.CallToAction
	PriceVisible bool
}

// Ledger applies bids and status transitions atomically per auction.
type Ledger struct {
	auctions domain.AuctionStore
	bids     domain.BidStore
	gate     EligibilityChecker
	pub      Publisher
	cache    domain.SnapshotCache
	locks    domain.LockManager
	audit    domain.AuditStore
	logger   *slog.Logger

	local    *keyedMutex
	lockTTL  time.Duration
	lockWait time.Duration
}

// New creates a Ledger. pub may be nil when nothing listens for events.
func New(
	auctions domain.AuctionStore,
	bids domain.BidStore,
	gate EligibilityChecker,
	pub Publisher,
	logger *slog.Logger,
) *Ledger {
	return &Ledger{
		auctions: auctions,
		bids:     bids,
		gate:     gate,
		pub:      pub,
		logger:   logger,
		local:    newKeyedMutex(),
		lockTTL:  defaultLockTTL,
		lockWait: defaultLockWait,
	}
}

// WithSnapshotCache serves GetState from cache and refreshes it on commit.
func (l *Ledger) WithSnapshotCache(c domain.SnapshotCache) *Ledger {
	l.cache = c
	return l
}

// WithDistributedLock additionally takes a cross-instance lock around each
// critical section. ttl bounds how long a crashed holder can block others;
// wait bounds how long a writer waits before giving up.
func (l *Ledger) WithDistributedLock(lm domain.LockManager, ttl, wait time.Duration) *Ledger {
	l.locks = lm
	if ttl > 0 {
		l.lockTTL = ttl
	}
	if wait > 0 {
		l.lockWait = wait
	}
	return l
}

// WithAudit records every accepted bid and transition.
func (l *Ledger) WithAudit(a domain.AuditStore) *Ledger {
	l.audit = a
	return l
}

// GetState returns the latest snapshot without entering the critical section.
func (l *Ledger) GetState(ctx context.Context, auctionID int64) (domain.Snapshot, error) {
	if l.cache != nil {
		snap, err := l.cache.Get(ctx, auctionID)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			l.logger.WarnContext(ctx, "ledger: snapshot cache read failed",
				slog.Int64("auction_id", auctionID),
				slog.String("error", err.Error()),
			)
		}
	}

	a, err := l.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("ledger: get state %d: %w", auctionID, err)
	}
	snap := domain.SnapshotOf(a)
	l.storeSnapshot(ctx, snap)
	return snap, nil
}

// TryAcceptBid evaluates and, if valid, commits a bid. Rejections are
// returned as outcomes; errors are reserved for infrastructure failures,
// unknown auctions and fixed-price lots.
func (l *Ledger) TryAcceptBid(ctx context.Context, auctionID, userID, amount int64, now time.Time) (Outcome, error) {
	if amount <= 0 {
		return Outcome{}, domain.ErrInvalidAmount
	}

	release, err := l.acquire(ctx, auctionID)
	if err != nil {
		return Outcome{}, err
	}
	defer release()

	elig, err := l.gate.CheckEligibility(ctx, auctionID, userID)
	if err != nil {
		return Outcome{}, fmt.Errorf("ledger: eligibility %d/%d: %w", auctionID, userID, err)
	}
	if !elig.Eligible {
		return Outcome{Reason: elig.Reason, Action: elig.Action}, nil
	}

	for attempt := 1; ; attempt++ {
		a, err := l.auctions.GetByID(ctx, auctionID)
		if err != nil {
			return Outcome{}, fmt.Errorf("ledger: load auction %d: %w", auctionID, err)
		}
		if !a.Biddable() {
			return Outcome{}, domain.ErrNotBiddable
		}

		d := auction.Evaluate(a, amount, now)
		if !d.Accepted {
			return Outcome{
				Reason:       d.Reason,
				MinimumBid:   d.MinimumBid,
				Hint:         auction.Hint(a.CurrentBid, a.Config),
				PriceVisible: a.Config.PriceVisible,
			}, nil
		}

		bid, updated, err := l.bids.Commit(ctx, domain.BidCommit{
			AuctionID:       auctionID,
			UserID:          userID,
			Amount:          amount,
			At:              now,
			NewEndTime:      d.NewEndTime,
			ExpectedVersion: a.Version,
		})
		if errors.Is(err, domain.ErrConflict) && attempt < maxCommitAttempts {
			l.logger.WarnContext(ctx, "ledger: commit raced, re-evaluating",
				slog.Int64("auction_id", auctionID),
				slog.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return Outcome{}, fmt.Errorf("ledger: commit bid on %d: %w", auctionID, err)
		}

		l.afterBid(ctx, a, updated, bid, d.Extended)
		return Outcome{
			Accepted:     true,
			Bid:          bid,
			NewEndTime:   updated.EndTime,
			Extended:     d.Extended,
			BidCount:     updated.BidCount,
			Version:      updated.Version,
			MinimumBid:   auction.MinimumBid(updated.CurrentBid, updated.Config),
			PriceVisible: updated.Config.PriceVisible,
		}, nil
	}
}

// afterBid runs inside the critical section so events leave in commit order.
func (l *Ledger) afterBid(ctx context.Context, before, after domain.Auction, bid domain.Bid, extended bool) {
	l.storeSnapshot(ctx, domain.SnapshotOf(after))

	l.publish(ctx, domain.Event{
		Kind:         domain.EventBid,
		AuctionID:    after.ID,
		Version:      after.Version,
		Amount:       bid.Amount,
		BidderID:     bid.UserID,
		BidCount:     after.BidCount,
		EndTime:      after.EndTime,
		Extended:     extended,
		Status:       after.Status,
		PriceVisible: after.Config.PriceVisible,
		At:           bid.CreatedAt,
	})

	if prev := before.HighestBidderID; prev != 0 && prev != bid.UserID {
		l.publish(ctx, domain.Event{
			Kind:         domain.EventOutbid,
			AuctionID:    after.ID,
			Version:      after.Version,
			Amount:       bid.Amount,
			BidCount:     after.BidCount,
			EndTime:      after.EndTime,
			Status:       after.Status,
			TargetUserID: prev,
			PriceVisible: after.Config.PriceVisible,
			At:           bid.CreatedAt,
		})
	}

	l.record(ctx, "bid_accepted", map[string]any{
		"auction_id": after.ID,
		"bid_id":     bid.ID,
		"user_id":    bid.UserID,
		"amount":     bid.Amount,
		"end_time":   after.EndTime.Format(time.RFC3339),
		"extended":   extended,
	})

	l.logger.InfoContext(ctx, "ledger: bid accepted",
		slog.Int64("auction_id", after.ID),
		slog.Int64("user_id", bid.UserID),
		slog.Int64("amount", bid.Amount),
		slog.Int64("version", after.Version),
		slog.Bool("extended", extended),
	)
}

// Transition moves an auction through its lifecycle and broadcasts the new
// status. Disallowed moves return domain.ErrInvalidTransition.
func (l *Ledger) Transition(ctx context.Context, auctionID int64, to domain.AuctionStatus, now time.Time) (domain.Auction, error) {
	return l.transition(ctx, auctionID, to, now, nil)
}

// CloseIfDue closes an auction whose end time is strictly before now. The
// end time is re-read inside the critical section, so a bid that extended
// the auction after the caller looked makes this return domain.ErrNotDue.
func (l *Ledger) CloseIfDue(ctx context.Context, auctionID int64, now time.Time) (domain.Auction, error) {
	return l.transition(ctx, auctionID, domain.AuctionStatusClosed, now, func(a domain.Auction) error {
		if !a.EndTime.Before(now) {
			return fmt.Errorf("ledger: close auction %d ending %s: %w",
				auctionID, a.EndTime.Format(time.RFC3339), domain.ErrNotDue)
		}
		return nil
	})
}

// transition runs one status change under the auction lock. guard, when set,
// vets the freshly loaded auction before anything is written.
func (l *Ledger) transition(ctx context.Context, auctionID int64, to domain.AuctionStatus, now time.Time, guard func(domain.Auction) error) (domain.Auction, error) {
	release, err := l.acquire(ctx, auctionID)
	if err != nil {
		return domain.Auction{}, err
	}
	defer release()

	for attempt := 1; ; attempt++ {
		a, err := l.auctions.GetByID(ctx, auctionID)
		if err != nil {
			return domain.Auction{}, fmt.Errorf("ledger: load auction %d: %w", auctionID, err)
		}
		if !a.Status.CanTransition(to) {
			return domain.Auction{}, fmt.Errorf("ledger: %s -> %s: %w", a.Status, to, domain.ErrInvalidTransition)
		}
		if guard != nil {
			if err := guard(a); err != nil {
				return domain.Auction{}, err
			}
		}

		updated, err := l.auctions.UpdateStatus(ctx, auctionID, to, a.Version)
		if errors.Is(err, domain.ErrConflict) && attempt < maxCommitAttempts {
			continue
		}
		if err != nil {
			return domain.Auction{}, fmt.Errorf("ledger: update status %d: %w", auctionID, err)
		}

		l.storeSnapshot(ctx, domain.SnapshotOf(updated))
		l.publish(ctx, domain.Event{
			Kind:         domain.EventStatus,
			AuctionID:    updated.ID,
			Version:      updated.Version,
			BidCount:     updated.BidCount,
			EndTime:      updated.EndTime,
			Status:       updated.Status,
			PriceVisible: updated.Config.PriceVisible,
			At:           now,
		})
		l.record(ctx, "auction_status_changed", map[string]any{
			"auction_id": updated.ID,
			"from":       string(a.Status),
			"to":         string(to),
		})
		l.logger.InfoContext(ctx, "ledger: status changed",
			slog.Int64("auction_id", updated.ID),
			slog.String("from", string(a.Status)),
			slog.String("to", string(to)),
		)
		return updated, nil
	}
}

// History returns accepted bids newest first.
func (l *Ledger) History(ctx context.Context, auctionID int64, limit int) ([]domain.Bid, error) {
	bids, err := l.bids.ListByAuction(ctx, auctionID, domain.ListOpts{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("ledger: history %d: %w", auctionID, err)
	}
	return bids, nil
}

func (l *Ledger) acquire(ctx context.Context, auctionID int64) (func(), error) {
	release := l.local.Lock(auctionID)
	if l.locks == nil {
		return release, nil
	}

	key := fmt.Sprintf("ledger:auction:%d", auctionID)
	deadline := time.Now().Add(l.lockWait)
	for {
		unlock, err := l.locks.Acquire(ctx, key, l.lockTTL)
		if err == nil {
			return func() {
				unlock()
				release()
			}, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) || time.Now().After(deadline) {
			release()
			return nil, fmt.Errorf("ledger: acquire %s: %w", key, err)
		}
		select {
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

func (l *Ledger) storeSnapshot(ctx context.Context, snap domain.Snapshot) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Set(ctx, snap); err != nil {
		l.logger.WarnContext(ctx, "ledger: snapshot cache write failed",
			slog.Int64("auction_id", snap.AuctionID),
			slog.String("error", err.Error()),
		)
		_ = l.cache.Invalidate(ctx, snap.AuctionID)
	}
}

func (l *Ledger) publish(ctx context.Context, ev domain.Event) {
	if l.pub == nil {
		return
	}
	if err := l.pub.Publish(ctx, ev); err != nil {
		l.logger.WarnContext(ctx, "ledger: publish event failed",
			slog.Int64("auction_id", ev.AuctionID),
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

func (l *Ledger) record(ctx context.Context, event string, detail map[string]any) {
	if l.audit == nil {
		return
	}
	if err := l.audit.Log(ctx, event, detail); err != nil {
		l.logger.WarnContext(ctx, "ledger: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
