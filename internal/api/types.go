// Package api defines the JSON shapes exchanged between the bidding service
// and its clients, both over REST and on the live auction stream.
package api

import "time"

// Stream frame types.
const (
	TypeHello  = "hello"
	TypeBid    = "bid"
	TypeStatus = "status"
	TypeOutbid = "outbid"
)

// StreamMessage is one frame on GET /api/ws/auctions/{id}.
type StreamMessage struct {
	Type      string `json:"type"`
	AuctionID int64  `json:"auction_id"`
	Version   int64  `json:"version"`
	// Amount is omitted on blind auctions unless Own is set.
	Amount       *int64    `json:"amount,omitempty"`
	Own          bool      `json:"own,omitempty"`
	BidCount     int64     `json:"bid_count"`
	EndTime      time.Time `json:"end_time"`
	Extended     bool      `json:"extended,omitempty"`
	Status       string    `json:"status,omitempty"`
	PriceVisible bool      `json:"price_visible"`
	Timestamp    time.Time `json:"timestamp"`
}

// AuctionView is the viewer-specific rendering of a ledger snapshot.
type AuctionView struct {
	AuctionID       int64     `json:"auction_id"`
	Status          string    `json:"status"`
	EndTime         time.Time `json:"end_time"`
	BidCount        int64     `json:"bid_count"`
	Version         int64     `json:"version"`
	CurrentBid      *int64    `json:"current_bid,omitempty"`
	MinimumBid      *int64    `json:"minimum_bid,omitempty"`
	MinBidIncrement int64     `json:"min_bid_increment"`
	Hint            string    `json:"hint"`
	IsHighest       bool      `json:"is_highest"`
	ReservePrice    int64     `json:"reserve_price"`
	BuyerPremiumPct string    `json:"buyer_premium_pct"`
	ExtendMinutes   int       `json:"auto_extend_minutes"`
	WindowMinutes   int       `json:"auto_extend_window_minutes"`
	PriceVisible    bool      `json:"price_visible"`
	SaleMode        string    `json:"sale_mode"`
	ServerTime      time.Time `json:"server_time"`
}

// BidRequest is the body of POST /api/auctions/{id}/bids.
type BidRequest struct {
	Amount int64 `json:"amount"`
}

// BidResponse reports the ledger's verdict on a submitted bid.
type BidResponse struct {
	Accepted   bool      `json:"accepted"`
	BidID      int64     `json:"bid_id,omitempty"`
	Amount     int64     `json:"amount,omitempty"`
	EndTime    time.Time `json:"end_time,omitempty"`
	Extended   bool      `json:"extended,omitempty"`
	BidCount   int64     `json:"bid_count,omitempty"`
	Version    int64     `json:"version,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	MinimumBid *int64    `json:"minimum_bid,omitempty"`
	Hint       string    `json:"hint,omitempty"`
	Action     string    `json:"action,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// HistoryEntry is one row of the public bid history.
type HistoryEntry struct {
	Amount    *int64    `json:"amount,omitempty"`
	Own       bool      `json:"own,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EnrollmentResponse answers enrollment requests and status queries.
type EnrollmentResponse struct {
	AuctionID int64  `json:"auction_id"`
	Status    string `json:"status"`
	Created   bool   `json:"created,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusRequest is the body of PUT /api/admin/auctions/{id}/status.
type StatusRequest struct {
	Status string `json:"status"`
}

// StatusResponse reports an auction after an admin transition.
type StatusResponse struct {
	AuctionID int64     `json:"auction_id"`
	Status    string    `json:"status"`
	Version   int64     `json:"version"`
	EndTime   time.Time `json:"end_time"`
}

// EnrollmentRecord is one row of the admin enrollment listing.
type EnrollmentRecord struct {
	UserID    int64      `json:"user_id"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
}
