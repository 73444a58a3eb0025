package domain

import "time"

// EventKind names a ledger state-change notification.
type EventKind string

const (
	EventBid    EventKind = "bid"
	EventStatus EventKind = "status"
	EventOutbid EventKind = "outbid"
)

// Event is emitted by the ledger after each committed mutation. The broadcast
// channel renders it per subscriber (blind mode, targeted outbid).
type Event struct {
	Kind      EventKind     `json:"kind"`
	AuctionID int64         `json:"auction_id"`
	Version   int64         `json:"version"`
	Amount    int64         `json:"amount,omitempty"`
	BidderID  int64         `json:"bidder_id,omitempty"`
	BidCount  int64         `json:"bid_count,omitempty"`
	EndTime   time.Time     `json:"end_time"`
	Extended  bool          `json:"extended,omitempty"`
	Status    AuctionStatus `json:"status,omitempty"`
	// TargetUserID is set for outbid events only.
	TargetUserID int64     `json:"target_user_id,omitempty"`
	PriceVisible bool      `json:"price_visible"`
	At           time.Time `json:"at"`
}
