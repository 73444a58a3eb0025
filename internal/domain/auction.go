package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Configuration defaults applied when a persisted column is zero.
const (
	DefaultMinBidIncrement         int64 = 1000
	DefaultBuyerPremiumPct         int64 = 14
	DefaultAutoExtendMinutes             = 2
	DefaultAutoExtendWindowMinutes       = 2
)

// SaleMode distinguishes bidding lots from fixed-price sales.
type SaleMode string

const (
	SaleModeAuction SaleMode = "auction"
	SaleModeFixed   SaleMode = "fixed"
)

// AuctionStatus tracks the auction lifecycle.
type AuctionStatus string

const (
	AuctionStatusScheduled AuctionStatus = "scheduled"
	AuctionStatusActive    AuctionStatus = "active"
	AuctionStatusPaused    AuctionStatus = "paused"
	AuctionStatusClosed    AuctionStatus = "closed"
	AuctionStatusCancelled AuctionStatus = "cancelled"
)

// auctionTransitions lists the allowed lifecycle moves. Closed and cancelled
// are terminal.
var auctionTransitions = map[AuctionStatus][]AuctionStatus{
	AuctionStatusScheduled: {AuctionStatusActive, AuctionStatusCancelled},
	AuctionStatusActive:    {AuctionStatusPaused, AuctionStatusClosed, AuctionStatusCancelled},
	AuctionStatusPaused:    {AuctionStatusActive, AuctionStatusClosed, AuctionStatusCancelled},
}

// CanTransition reports whether the lifecycle allows moving from s to next.
func (s AuctionStatus) CanTransition(next AuctionStatus) bool {
	for _, allowed := range auctionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s AuctionStatus) Valid() bool {
	switch s {
	case AuctionStatusScheduled, AuctionStatusActive, AuctionStatusPaused,
		AuctionStatusClosed, AuctionStatusCancelled:
		return true
	}
	return false
}

// AuctionConfig is the per-lot configuration. It is written by the admin
// back-office and only read by the bidding core.
type AuctionConfig struct {
	ReservePrice            int64
	MinBidIncrement         int64
	BuyerPremiumPct         decimal.Decimal
	AutoExtendMinutes       int
	AutoExtendWindowMinutes int
	PriceVisible            bool
	SaleMode                SaleMode
}

// WithDefaults fills zero-valued fields with the platform defaults.
func (c AuctionConfig) WithDefaults() AuctionConfig {
	if c.MinBidIncrement <= 0 {
		c.MinBidIncrement = DefaultMinBidIncrement
	}
	if c.BuyerPremiumPct.IsZero() {
		c.BuyerPremiumPct = decimal.NewFromInt(DefaultBuyerPremiumPct)
	}
	if c.AutoExtendMinutes < 1 {
		c.AutoExtendMinutes = DefaultAutoExtendMinutes
	}
	if c.AutoExtendWindowMinutes < 1 {
		c.AutoExtendWindowMinutes = DefaultAutoExtendWindowMinutes
	}
	if c.SaleMode == "" {
		c.SaleMode = SaleModeAuction
	}
	return c
}

// ExtendWindow returns the trailing window that arms auto-extension.
func (c AuctionConfig) ExtendWindow() time.Duration {
	return time.Duration(c.AutoExtendWindowMinutes) * time.Minute
}

// ExtendBy returns the duration added by an auto-extension.
func (c AuctionConfig) ExtendBy() time.Duration {
	return time.Duration(c.AutoExtendMinutes) * time.Minute
}

// Auction is one lot together with its current price and timing state.
type Auction struct {
	ID              int64
	Title           string
	Config          AuctionConfig
	StartTime       time.Time
	EndTime         time.Time
	Status          AuctionStatus
	CurrentBid      int64
	HighestBidderID int64
	BidCount        int64
	// Version increments on every ledger mutation (bid or status change).
	Version   int64
	CreatedAt time.Time
}

// Biddable reports whether the lot is sold by auction at all.
func (a Auction) Biddable() bool {
	return a.Config.SaleMode != SaleModeFixed
}

// Snapshot is the read model returned by the ledger.
type Snapshot struct {
	AuctionID       int64
	CurrentBid      int64
	HighestBidderID int64
	EndTime         time.Time
	Status          AuctionStatus
	BidCount        int64
	Version         int64
	Config          AuctionConfig
}

// SnapshotOf projects an auction onto its snapshot.
func SnapshotOf(a Auction) Snapshot {
	return Snapshot{
		AuctionID:       a.ID,
		CurrentBid:      a.CurrentBid,
		HighestBidderID: a.HighestBidderID,
		EndTime:         a.EndTime,
		Status:          a.Status,
		BidCount:        a.BidCount,
		Version:         a.Version,
		Config:          a.Config,
	}
}
