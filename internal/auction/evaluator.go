// Package auction holds the pure bid evaluation and auto-extension rules.
// Nothing here performs I/O; the ledger applies the decisions.
package auction

import (
	"fmt"
	"strconv"
	"time"

	"github.com/maqzone/livebid/internal/domain"
)

// Decision is the evaluator's verdict on one proposed bid.
type Decision struct {
	Accepted   bool
	Reason     domain.RejectReason
	MinimumBid int64
	NewEndTime time.Time
	Extended   bool
}

// Increment returns the configured minimum increment, falling back to the
// platform default for unset or invalid values.
func Increment(cfg domain.AuctionConfig) int64 {
	if cfg.MinBidIncrement <= 0 {
		return domain.DefaultMinBidIncrement
	}
	return cfg.MinBidIncrement
}

// MinimumBid is the smallest amount that clears the current price.
func MinimumBid(currentBid int64, cfg domain.AuctionConfig) int64 {
	return currentBid + Increment(cfg)
}

// Open reports whether a bid arriving at now may be considered at all. The
// end time is inclusive.
func Open(a domain.Auction, now time.Time) bool {
	return a.Status == domain.AuctionStatusActive && !now.After(a.EndTime)
}

// Evaluate decides a bid of amount arriving at now against the auction state.
func Evaluate(a domain.Auction, amount int64, now time.Time) Decision {
	cfg := a.Config.WithDefaults()
	minimum := MinimumBid(a.CurrentBid, cfg)

	if !Open(a, now) {
		return Decision{Reason: domain.RejectStale, MinimumBid: minimum, NewEndTime: a.EndTime}
	}
	if amount < minimum {
		return Decision{Reason: domain.RejectTooLow, MinimumBid: minimum, NewEndTime: a.EndTime}
	}

	newEnd, extended := ExtendedEnd(a.EndTime, now, cfg)
	return Decision{
		Accepted:   true,
		MinimumBid: amount + Increment(cfg),
		NewEndTime: newEnd,
		Extended:   extended,
	}
}

// ExtendedEnd applies the anti-sniping rule for an accepted bid at now. The
// returned end time is never earlier than end.
func ExtendedEnd(end, now time.Time, cfg domain.AuctionConfig) (time.Time, bool) {
	cfg = cfg.WithDefaults()
	if now.Before(end.Add(-cfg.ExtendWindow())) {
		return end, false
	}
	candidate := now.Add(cfg.ExtendBy())
	if !candidate.After(end) {
		return end, false
	}
	return candidate, true
}

// Hint describes the minimum acceptable bid for display. Blind auctions only
// ever state the increment so the running price is not revealed.
func Hint(currentBid int64, cfg domain.AuctionConfig) string {
	inc := Increment(cfg)
	if !cfg.PriceVisible {
		return fmt.Sprintf("bid at least %s above the current price", FormatMoney(inc))
	}
	return fmt.Sprintf("minimum bid is %s", FormatMoney(currentBid+inc))
}

// FormatMoney renders a whole-dollar amount with thousands separators, e.g.
// 101000 -> "$101,000".
func FormatMoney(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)
	out := make([]byte, 0, len(digits)+len(digits)/3)
	for i := range len(digits) {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, digits[i])
	}
	return sign + "$" + string(out)
}
