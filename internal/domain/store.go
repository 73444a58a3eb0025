package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuctionStore reads auctions and applies lifecycle transitions.
type AuctionStore interface {
	GetByID(ctx context.Context, id int64) (Auction, error)
	// UpdateStatus moves the auction to status `to`, bumping the version. It
	// returns ErrConflict when the stored version no longer equals
	// expectedVersion.
	UpdateStatus(ctx context.Context, id int64, to AuctionStatus, expectedVersion int64) (Auction, error)
	// ListDue returns scheduled auctions whose start time has passed and
	// active or paused auctions whose end time is strictly before now.
	ListDue(ctx context.Context, now time.Time) ([]Auction, error)
}

// BidStore persists the append-only bid ledger.
type BidStore interface {
	// Commit appends the bid and updates the auction's price, end time, bid
	// count and version in one transaction. It returns ErrConflict when the
	// auction version moved or it is no longer active.
	Commit(ctx context.Context, c BidCommit) (Bid, Auction, error)
	ListByAuction(ctx context.Context, auctionID int64, opts ListOpts) ([]Bid, error)
}

// EnrollmentStore persists per-auction enrollment records.
type EnrollmentStore interface {
	// Request inserts a pending enrollment unless one already exists. created
	// is false when an existing record was returned.
	Request(ctx context.Context, auctionID, userID int64) (e Enrollment, created bool, err error)
	Get(ctx context.Context, auctionID, userID int64) (Enrollment, error)
	// Decide moves a pending enrollment to approved or rejected. It returns
	// ErrInvalidTransition when the record is not pending.
	Decide(ctx context.Context, auctionID, userID int64, to EnrollmentStatus) (Enrollment, error)
	ListByAuction(ctx context.Context, auctionID int64) ([]Enrollment, error)
}

// AccountStore reads user accounts owned by the registration service.
type AccountStore interface {
	GetByID(ctx context.Context, id int64) (Account, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
