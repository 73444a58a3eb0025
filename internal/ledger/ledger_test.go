package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/maqzone/livebid/internal/domain"
	"github.com/maqzone/livebid/internal/enrollment"
	"github.com/maqzone/livebid/internal/store/memory"
)

var closeAt = time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(_ context.Context, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) all() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

type harness struct {
	ledger      *Ledger
	auctions    *memory.AuctionStore
	accounts    *memory.AccountStore
	enrollments *memory.EnrollmentStore
	events      *recorder
}

func newHarness(t *testing.T) harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := harness{
		auctions:    memory.NewAuctionStore(),
		accounts:    memory.NewAccountStore(),
		enrollments: memory.NewEnrollmentStore(),
		events:      &recorder{},
	}
	h.auctions.Put(domain.Auction{
		ID:         1,
		Status:     domain.AuctionStatusActive,
		CurrentBid: 100000,
		EndTime:    closeAt,
		Config: domain.AuctionConfig{
			MinBidIncrement:         1000,
			AutoExtendMinutes:       2,
			AutoExtendWindowMinutes: 2,
			PriceVisible:            true,
		},
	})
	h.auctions.Put(domain.Auction{ID: 2, Status: domain.AuctionStatusActive, EndTime: closeAt})
	h.auctions.Put(domain.Auction{
		ID:      3,
		Status:  domain.AuctionStatusActive,
		EndTime: closeAt,
		Config:  domain.AuctionConfig{SaleMode: domain.SaleModeFixed},
	})
	for uid := int64(1); uid <= 40; uid++ {
		h.accounts.Put(domain.Account{ID: uid, Status: domain.AccountApproved})
		for aid := int64(1); aid <= 3; aid++ {
			h.enrollments.Put(domain.Enrollment{AuctionID: aid, UserID: uid, Status: domain.EnrollmentApproved})
		}
	}
	gate := enrollment.NewGate(h.enrollments, h.accounts, h.auctions, nil, logger)
	h.ledger = New(h.auctions, memory.NewBidStore(h.auctions), gate, h.events, logger).
		WithAudit(memory.NewAuditStore())
	return h
}

func TestBasicAccept(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.ledger.TryAcceptBid(ctx, 1, 5, 101000, closeAt.Add(-time.Hour))
	assert.NoError(t, err)
	check.True(t, out.Accepted)
	check.False(t, out.Extended)
	check.True(t, out.NewEndTime.Equal(closeAt))
	check.Equal(t, int64(101000), out.Bid.Amount)
	check.True(t, out.Bid.EndTimeAfter.Equal(closeAt))

	snap, err := h.ledger.GetState(ctx, 1)
	assert.NoError(t, err)
	check.Equal(t, int64(101000), snap.CurrentBid)
	check.Equal(t, int64(1), snap.BidCount)
	check.Equal(t, int64(5), snap.HighestBidderID)
}

func TestTooLowLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.ledger.TryAcceptBid(ctx, 1, 5, 100500, closeAt.Add(-time.Hour))
	assert.NoError(t, err)
	check.False(t, out.Accepted)
	check.Equal(t, domain.RejectTooLow, out.Reason)
	check.Equal(t, int64(101000), out.MinimumBid)
	check.Equal(t, "minimum bid is $101,000", out.Hint)

	snap, err := h.ledger.GetState(ctx, 1)
	assert.NoError(t, err)
	check.Equal(t, int64(100000), snap.CurrentBid)
	check.Equal(t, 0, len(h.events.all()))
}

func TestExtensionInsideWindow(t *testing.T) {
	h := newHarness(t)
	arrival := closeAt.Add(-time.Minute)

	out, err := h.ledger.TryAcceptBid(context.Background(), 1, 5, 101000, arrival)
	assert.NoError(t, err)
	check.True(t, out.Accepted)
	check.True(t, out.Extended)
	check.True(t, out.NewEndTime.Equal(closeAt.Add(time.Minute)))

	events := h.events.all()
	assert.Equal(t, 1, len(events))
	check.True(t, events[0].Extended)
	check.True(t, events[0].EndTime.Equal(closeAt.Add(time.Minute)))
}

func TestStaleAfterEnd(t *testing.T) {
	h := newHarness(t)
	out, err := h.ledger.TryAcceptBid(context.Background(), 1, 5, 500000, closeAt.Add(time.Second))
	assert.NoError(t, err)
	check.False(t, out.Accepted)
	check.Equal(t, domain.RejectStale, out.Reason)
}

func TestEligibilityIsRecheckedInsideLedger(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.accounts.Put(domain.Account{ID: 5, Status: domain.AccountApproved, MustChangePassword: true})
	out, err := h.ledger.TryAcceptBid(ctx, 1, 5, 101000, closeAt.Add(-time.Hour))
	assert.NoError(t, err)
	check.False(t, out.Accepted)
	check.Equal(t, domain.RejectNotEligible, out.Reason)
	check.Equal(t, domain.ActionChangePassword, out.Action)

	out, err = h.ledger.TryAcceptBid(ctx, 1, 999, 101000, closeAt.Add(-time.Hour))
	assert.NoError(t, err)
	check.Equal(t, domain.RejectNotEligible, out.Reason)

	h.accounts.Put(domain.Account{ID: 50, Status: domain.AccountApproved})
	out, err = h.ledger.TryAcceptBid(ctx, 1, 50, 101000, closeAt.Add(-time.Hour))
	assert.NoError(t, err)
	check.Equal(t, domain.RejectNotEnrolled, out.Reason)
	check.Equal(t, domain.ActionRequestEnrollment, out.Action)
}

func TestFixedPriceNeverEntersLedger(t *testing.T) {
	h := newHarness(t)
	_, err := h.ledger.TryAcceptBid(context.Background(), 3, 5, 5000, closeAt.Add(-time.Hour))
	check.True(t, errors.Is(err, domain.ErrNotBiddable))
}

func TestNonPositiveAmount(t *testing.T) {
	h := newHarness(t)
	_, err := h.ledger.TryAcceptBid(context.Background(), 1, 5, 0, closeAt.Add(-time.Hour))
	check.True(t, errors.Is(err, domain.ErrInvalidAmount))
}

func TestConcurrentEqualBidsSerialize(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := closeAt.Add(-time.Hour)

	const bidders = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		tooLow   int
	)
	for uid := int64(1); uid <= bidders; uid++ {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			out, err := h.ledger.TryAcceptBid(ctx, 1, uid, 101000, now)
			check.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if out.Accepted {
				accepted++
			} else if out.Reason == domain.RejectTooLow {
				tooLow++
			}
		}(uid)
	}
	wg.Wait()

	check.Equal(t, 1, accepted)
	check.Equal(t, bidders-1, tooLow)

	snap, err := h.ledger.GetState(ctx, 1)
	assert.NoError(t, err)
	check.Equal(t, int64(101000), snap.CurrentBid)
	check.Equal(t, int64(1), snap.BidCount)
	check.Equal(t, 0, h.ledger.local.size())
}

func TestAcceptedAmountsStrictlyIncrease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := closeAt.Add(-10 * time.Minute)

	var wg sync.WaitGroup
	for uid := int64(1); uid <= 30; uid++ {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			_, err := h.ledger.TryAcceptBid(ctx, 1, uid, 100000+uid*700, now.Add(time.Duration(uid)*15*time.Second))
			check.NoError(t, err)
		}(uid)
	}
	wg.Wait()

	var (
		lastAmount  int64 = 100000
		lastVersion int64
		lastEnd     = closeAt
	)
	for _, ev := range h.events.all() {
		if ev.Kind != domain.EventBid {
			continue
		}
		check.True(t, ev.Amount >= lastAmount+1000)
		check.True(t, ev.Version > lastVersion)
		check.True(t, !ev.EndTime.Before(lastEnd))
		lastAmount, lastVersion, lastEnd = ev.Amount, ev.Version, ev.EndTime
	}
}

func TestOutbidTargetsPreviousLeader(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := closeAt.Add(-time.Hour)

	_, err := h.ledger.TryAcceptBid(ctx, 1, 5, 101000, now)
	assert.NoError(t, err)
	_, err = h.ledger.TryAcceptBid(ctx, 1, 5, 102000, now)
	assert.NoError(t, err)
	_, err = h.ledger.TryAcceptBid(ctx, 1, 6, 103000, now)
	assert.NoError(t, err)

	events := h.events.all()
	assert.Equal(t, 4, len(events))
	check.Equal(t, domain.EventBid, events[0].Kind)
	check.Equal(t, domain.EventBid, events[1].Kind)
	check.Equal(t, domain.EventBid, events[2].Kind)
	check.Equal(t, domain.EventOutbid, events[3].Kind)
	check.Equal(t, int64(5), events[3].TargetUserID)
	check.Equal(t, events[2].Version, events[3].Version)
}

func TestDifferentAuctionsDoNotBlock(t *testing.T) {
	h := newHarness(t)
	release := h.ledger.local.Lock(1)
	defer release()

	done := make(chan Outcome, 1)
	go func() {
		out, err := h.ledger.TryAcceptBid(context.Background(), 2, 5, 1000, closeAt.Add(-time.Hour))
		check.NoError(t, err)
		done <- out
	}()

	select {
	case out := <-done:
		check.True(t, out.Accepted)
	case <-time.After(2 * time.Second):
		t.Fatal("bid on auction 2 blocked behind auction 1")
	}
}

func TestTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.ledger.Transition(ctx, 1, domain.AuctionStatusPaused, closeAt.Add(-time.Hour))
	assert.NoError(t, err)
	check.Equal(t, domain.AuctionStatusPaused, a.Status)

	out, err := h.ledger.TryAcceptBid(ctx, 1, 5, 101000, closeAt.Add(-time.Hour))
	assert.NoError(t, err)
	check.Equal(t, domain.RejectStale, out.Reason)

	_, err = h.ledger.Transition(ctx, 1, domain.AuctionStatusClosed, closeAt)
	assert.NoError(t, err)

	_, err = h.ledger.Transition(ctx, 1, domain.AuctionStatusActive, closeAt)
	check.True(t, errors.Is(err, domain.ErrInvalidTransition))

	events := h.events.all()
	assert.Equal(t, 2, len(events))
	check.Equal(t, domain.EventStatus, events[1].Kind)
	check.Equal(t, domain.AuctionStatusClosed, events[1].Status)
	check.True(t, events[1].Version > events[0].Version)
}

func TestCloseIfDueRereadsEndTime(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.ledger.CloseIfDue(ctx, 1, closeAt)
	check.True(t, errors.Is(err, domain.ErrNotDue))

	out, err := h.ledger.TryAcceptBid(ctx, 1, 5, 101000, closeAt)
	assert.NoError(t, err)
	check.True(t, out.Extended)

	_, err = h.ledger.CloseIfDue(ctx, 1, closeAt.Add(time.Second))
	check.True(t, errors.Is(err, domain.ErrNotDue))
	a, err := h.auctions.GetByID(ctx, 1)
	assert.NoError(t, err)
	check.Equal(t, domain.AuctionStatusActive, a.Status)

	a, err = h.ledger.CloseIfDue(ctx, 1, out.NewEndTime.Add(time.Second))
	assert.NoError(t, err)
	check.Equal(t, domain.AuctionStatusClosed, a.Status)
}

func TestHistoryNewestFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := closeAt.Add(-time.Hour)
	for i, amt := range []int64{101000, 102000, 105000} {
		_, err := h.ledger.TryAcceptBid(ctx, 1, int64(i+1), amt, now)
		assert.NoError(t, err)
	}

	bids, err := h.ledger.History(ctx, 1, 2)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(bids))
	check.Equal(t, int64(105000), bids[0].Amount)
	check.Equal(t, int64(102000), bids[1].Amount)
}

type mapCache struct {
	mu    sync.Mutex
	snaps map[int64]domain.Snapshot
}

func (c *mapCache) Set(_ context.Context, s domain.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[s.AuctionID] = s
	return nil
}

func (c *mapCache) Get(_ context.Context, id int64) (domain.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snaps[id]
	if !ok {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	return s, nil
}

func (c *mapCache) Invalidate(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, id)
	return nil
}

func TestSnapshotCacheRefreshedOnCommit(t *testing.T) {
	h := newHarness(t)
	cache := &mapCache{snaps: make(map[int64]domain.Snapshot)}
	h.ledger.WithSnapshotCache(cache)
	ctx := context.Background()

	snap, err := h.ledger.GetState(ctx, 1)
	assert.NoError(t, err)
	check.Equal(t, int64(100000), snap.CurrentBid)

	_, err = h.ledger.TryAcceptBid(ctx, 1, 5, 110000, closeAt.Add(-time.Hour))
	assert.NoError(t, err)

	cached, err := cache.Get(ctx, 1)
	assert.NoError(t, err)
	check.Equal(t, int64(110000), cached.CurrentBid)
}

type flakyLocks struct {
	mu       sync.Mutex
	failures int
	acquired int
	released int
}

func (f *flakyLocks) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, domain.ErrLockHeld
	}
	f.acquired++
	return func() {
		f.mu.Lock()
		f.released++
		f.mu.Unlock()
	}, nil
}

func TestDistributedLockRetries(t *testing.T) {
	h := newHarness(t)
	locks := &flakyLocks{failures: 2}
	h.ledger.WithDistributedLock(locks, time.Second, time.Second)

	out, err := h.ledger.TryAcceptBid(context.Background(), 1, 5, 101000, closeAt.Add(-time.Hour))
	assert.NoError(t, err)
	check.True(t, out.Accepted)
	check.Equal(t, 1, locks.acquired)
	check.Equal(t, 1, locks.released)
}

func TestDistributedLockGivesUp(t *testing.T) {
	h := newHarness(t)
	h.ledger.WithDistributedLock(&flakyLocks{failures: 1 << 20}, time.Second, 50*time.Millisecond)

	_, err := h.ledger.TryAcceptBid(context.Background(), 1, 5, 101000, closeAt.Add(-time.Hour))
	check.True(t, errors.Is(err, domain.ErrLockHeld))
	check.Equal(t, 0, h.ledger.local.size())
}
