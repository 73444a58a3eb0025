package domain

import "time"

// Bid is one accepted entry in an auction's append-only ledger.
type Bid struct {
	ID        int64
	AuctionID int64
	UserID    int64
	Amount    int64
	CreatedAt time.Time
	// EndTimeAfter is the auction end time at the moment the bid was accepted.
	EndTimeAfter time.Time
}

// RejectReason explains why the ledger refused a bid.
type RejectReason string

const (
	RejectStale       RejectReason = "stale"
	RejectTooLow      RejectReason = "too_low"
	RejectNotEnrolled RejectReason = "not_enrolled"
	RejectNotEligible RejectReason = "not_eligible"
)

// BidCommit is the atomic unit the ledger hands to the BidStore: append the
// bid and move the auction to its new price/time state, guarded by the
// version observed inside the critical section.
type BidCommit struct {
	AuctionID       int64
	UserID          int64
	Amount          int64
	At              time.Time
	NewEndTime      time.Time
	ExpectedVersion int64
}
