package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/maqzone/livebid/internal/domain"
	"github.com/maqzone/livebid/internal/enrollment"
	"github.com/maqzone/livebid/internal/ledger"
	"github.com/maqzone/livebid/internal/store/memory"
)

var (
	clock = time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	endAt = clock.Add(time.Hour)
)

func newService(t *testing.T, visible bool) (*AuctionService, *memory.EnrollmentStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auctions := memory.NewAuctionStore()
	auctions.Put(domain.Auction{
		ID:         1,
		Status:     domain.AuctionStatusActive,
		CurrentBid: 100000,
		EndTime:    endAt,
		Config:     domain.AuctionConfig{MinBidIncrement: 1000, PriceVisible: visible},
	})
	auctions.Put(domain.Auction{
		ID:      2,
		Status:  domain.AuctionStatusActive,
		EndTime: endAt,
		Config:  domain.AuctionConfig{SaleMode: domain.SaleModeFixed},
	})
	accounts := memory.NewAccountStore(
		domain.Account{ID: 5, Status: domain.AccountApproved},
		domain.Account{ID: 6, Status: domain.AccountApproved},
		domain.Account{ID: 7, Status: domain.AccountApproved},
	)
	enrollments := memory.NewEnrollmentStore()
	enrollments.Put(domain.Enrollment{AuctionID: 1, UserID: 5, Status: domain.EnrollmentApproved})
	enrollments.Put(domain.Enrollment{AuctionID: 1, UserID: 6, Status: domain.EnrollmentApproved})

	gate := enrollment.NewGate(enrollments, accounts, auctions, nil, logger)
	l := ledger.New(auctions, memory.NewBidStore(auctions), gate, nil, logger)
	svc := NewAuctionService(l, gate, logger).WithClock(func() time.Time { return clock })
	return svc, enrollments
}

func TestSubmitBidAccepted(t *testing.T) {
	svc, _ := newService(t, true)
	out, err := svc.SubmitBid(context.Background(), 1, 5, 101000)
	assert.NoError(t, err)
	check.True(t, out.Accepted)
	check.True(t, out.Bid.CreatedAt.Equal(clock))
	check.Equal(t, int64(102000), out.MinimumBid)
}

func TestSubmitBidAdvisoryRejection(t *testing.T) {
	svc, _ := newService(t, true)
	out, err := svc.SubmitBid(context.Background(), 1, 7, 101000)
	assert.NoError(t, err)
	check.False(t, out.Accepted)
	check.Equal(t, domain.RejectNotEnrolled, out.Reason)
	check.Equal(t, domain.ActionRequestEnrollment, out.Action)
}

func TestSubmitBidFixedPrice(t *testing.T) {
	svc, _ := newService(t, true)
	_, err := svc.SubmitBid(context.Background(), 2, 5, 1000)
	check.True(t, errors.Is(err, domain.ErrNotBiddable))
}

func TestSubmitBidUnknownAuction(t *testing.T) {
	svc, _ := newService(t, true)
	_, err := svc.SubmitBid(context.Background(), 404, 5, 1000)
	check.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestBlindViewAndHistory(t *testing.T) {
	svc, _ := newService(t, false)
	ctx := context.Background()

	_, err := svc.SubmitBid(ctx, 1, 5, 101000)
	assert.NoError(t, err)
	_, err = svc.SubmitBid(ctx, 1, 6, 103000)
	assert.NoError(t, err)

	leader, err := svc.View(ctx, 1, 6)
	assert.NoError(t, err)
	check.True(t, leader.IsHighest)
	check.NotNil(t, leader.CurrentBid)
	check.Equal(t, int64(103000), *leader.CurrentBid)
	check.True(t, leader.MinimumBid == nil)

	other, err := svc.View(ctx, 1, 5)
	assert.NoError(t, err)
	check.False(t, other.IsHighest)
	check.True(t, other.CurrentBid == nil)
	check.True(t, other.MinimumBid == nil)
	check.Equal(t, "bid at least $1,000 above the current price", other.Hint)
	check.Equal(t, int64(2), other.BidCount)

	history, err := svc.History(ctx, 1, 5, 10)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(history))
	check.True(t, history[0].Amount == nil)
	check.False(t, history[0].Own)
	check.True(t, history[1].Own)
	check.Equal(t, int64(101000), *history[1].Amount)
}

func TestVisibleView(t *testing.T) {
	svc, _ := newService(t, true)
	v, err := svc.View(context.Background(), 1, 0)
	assert.NoError(t, err)
	check.Equal(t, int64(100000), *v.CurrentBid)
	check.Equal(t, int64(101000), *v.MinimumBid)
	check.Equal(t, "14", v.BuyerPremiumPct)
	check.Equal(t, 2, v.ExtendMinutes)
	check.True(t, v.ServerTime.Equal(clock))
}

func TestSetStatus(t *testing.T) {
	svc, _ := newService(t, true)
	ctx := context.Background()

	a, err := svc.SetStatus(ctx, 1, domain.AuctionStatusPaused)
	assert.NoError(t, err)
	check.Equal(t, domain.AuctionStatusPaused, a.Status)

	_, err = svc.SetStatus(ctx, 1, domain.AuctionStatus("bogus"))
	check.True(t, errors.Is(err, domain.ErrInvalidTransition))
}

func TestEnrollmentFlow(t *testing.T) {
	svc, _ := newService(t, true)
	ctx := context.Background()

	status, err := svc.EnrollmentStatus(ctx, 1, 7)
	assert.NoError(t, err)
	check.Equal(t, domain.EnrollmentNone, status)

	out, err := svc.RequestEnrollment(ctx, 1, 7)
	assert.NoError(t, err)
	check.True(t, out.Created)

	_, err = svc.DecideEnrollment(ctx, 1, 7, true)
	assert.NoError(t, err)

	bid, err := svc.SubmitBid(ctx, 1, 7, 150000)
	assert.NoError(t, err)
	check.True(t, bid.Accepted)

	list, err := svc.ListEnrollments(ctx, 1)
	assert.NoError(t, err)
	check.Equal(t, 3, len(list))

	_, err = svc.EnrollmentStatus(ctx, 404, 7)
	check.True(t, errors.Is(err, domain.ErrNotFound))
}
