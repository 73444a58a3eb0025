package auction

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/check"

	"github.com/maqzone/livebid/internal/domain"
)

var end = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

func activeAuction(current int64) domain.Auction {
	return domain.Auction{
		ID:         7,
		Status:     domain.AuctionStatusActive,
		CurrentBid: current,
		EndTime:    end,
		Config: domain.AuctionConfig{
			MinBidIncrement:         1000,
			AutoExtendMinutes:       2,
			AutoExtendWindowMinutes: 2,
			PriceVisible:            true,
		},
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		status   domain.AuctionStatus
		amount   int64
		at       time.Time
		accepted bool
		reason   domain.RejectReason
		newEnd   time.Time
		extended bool
	}{
		{
			name:     "basic accept well before window",
			status:   domain.AuctionStatusActive,
			amount:   101000,
			at:       end.Add(-time.Hour),
			accepted: true,
			newEnd:   end,
		},
		{
			name:   "too low",
			status: domain.AuctionStatusActive,
			amount: 100500,
			at:     end.Add(-time.Hour),
			reason: domain.RejectTooLow,
			newEnd: end,
		},
		{
			name:   "equal to current bid",
			status: domain.AuctionStatusActive,
			amount: 100000,
			at:     end.Add(-time.Hour),
			reason: domain.RejectTooLow,
			newEnd: end,
		},
		{
			name:     "inside window extends",
			status:   domain.AuctionStatusActive,
			amount:   101000,
			at:       end.Add(-time.Minute),
			accepted: true,
			newEnd:   end.Add(time.Minute),
			extended: true,
		},
		{
			name:     "window start is inclusive",
			status:   domain.AuctionStatusActive,
			amount:   101000,
			at:       end.Add(-2 * time.Minute),
			accepted: true,
			newEnd:   end,
		},
		{
			name:     "exactly at end is accepted and extends",
			status:   domain.AuctionStatusActive,
			amount:   105000,
			at:       end,
			accepted: true,
			newEnd:   end.Add(2 * time.Minute),
			extended: true,
		},
		{
			name:   "after end is stale regardless of amount",
			status: domain.AuctionStatusActive,
			amount: 10_000_000,
			at:     end.Add(time.Millisecond),
			reason: domain.RejectStale,
			newEnd: end,
		},
		{
			name:   "paused is stale",
			status: domain.AuctionStatusPaused,
			amount: 101000,
			at:     end.Add(-time.Hour),
			reason: domain.RejectStale,
			newEnd: end,
		},
		{
			name:   "closed is stale",
			status: domain.AuctionStatusClosed,
			amount: 101000,
			at:     end.Add(-time.Hour),
			reason: domain.RejectStale,
			newEnd: end,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := activeAuction(100000)
			a.Status = tt.status
			d := Evaluate(a, tt.amount, tt.at)
			check.Equal(t, tt.accepted, d.Accepted)
			check.Equal(t, tt.reason, d.Reason)
			check.Equal(t, tt.extended, d.Extended)
			check.True(t, d.NewEndTime.Equal(tt.newEnd))
		})
	}
}

func TestEvaluateRejectionCarriesMinimum(t *testing.T) {
	d := Evaluate(activeAuction(100000), 100500, end.Add(-time.Hour))
	check.False(t, d.Accepted)
	check.Equal(t, int64(101000), d.MinimumBid)
}

func TestEvaluateDefaultsIncrement(t *testing.T) {
	a := activeAuction(5000)
	a.Config.MinBidIncrement = 0
	check.False(t, Evaluate(a, 5999, end.Add(-time.Hour)).Accepted)
	check.True(t, Evaluate(a, 6000, end.Add(-time.Hour)).Accepted)
}

func TestExtendedEndNeverRetreats(t *testing.T) {
	cfg := domain.AuctionConfig{AutoExtendMinutes: 1, AutoExtendWindowMinutes: 10}
	// now+1m is earlier than end, so the end time must stay put.
	got, extended := ExtendedEnd(end, end.Add(-5*time.Minute), cfg)
	check.False(t, extended)
	check.True(t, got.Equal(end))

	got, extended = ExtendedEnd(end, end.Add(-30*time.Second), cfg)
	check.True(t, extended)
	check.True(t, got.Equal(end.Add(30*time.Second)))
}

func TestSequentialBidsAreMonotonic(t *testing.T) {
	a := activeAuction(100000)
	now := end.Add(-3 * time.Minute)
	amounts := []int64{101000, 101500, 102000, 102000, 110000}
	var accepted []int64
	for _, amt := range amounts {
		d := Evaluate(a, amt, now)
		if d.Accepted {
			check.True(t, !d.NewEndTime.Before(a.EndTime))
			a.CurrentBid = amt
			a.EndTime = d.NewEndTime
			accepted = append(accepted, amt)
		}
		now = now.Add(40 * time.Second)
	}
	check.Equal(t, []int64{101000, 102000, 110000}, accepted)
	check.True(t, a.EndTime.After(end))
}

func TestHint(t *testing.T) {
	visible := domain.AuctionConfig{MinBidIncrement: 1000, PriceVisible: true}
	check.Equal(t, "minimum bid is $101,000", Hint(100000, visible))

	blind := domain.AuctionConfig{MinBidIncrement: 2500}
	check.Equal(t, "bid at least $2,500 above the current price", Hint(100000, blind))
}

func TestFormatMoney(t *testing.T) {
	tests := map[int64]string{
		0:       "$0",
		999:     "$999",
		1000:    "$1,000",
		101000:  "$101,000",
		1234567: "$1,234,567",
		-25000:  "-$25,000",
	}
	for in, want := range tests {
		check.Equal(t, want, FormatMoney(in))
	}
}
