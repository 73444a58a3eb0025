// Package memory provides in-process implementations of the domain stores.
// They back unit tests and single-node development runs without PostgreSQL.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/maqzone/livebid/internal/domain"
)

// AuctionStore keeps auctions in a map guarded by a mutex.
type AuctionStore struct {
	mu       sync.RWMutex
	auctions map[int64]domain.Auction
}

// NewAuctionStore returns an empty AuctionStore.
func NewAuctionStore() *AuctionStore {
	return &AuctionStore{auctions: make(map[int64]domain.Auction)}
}

// Put inserts or replaces an auction.
func (s *AuctionStore) Put(a domain.Auction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Config = a.Config.WithDefaults()
	s.auctions[a.ID] = a
}

func (s *AuctionStore) GetByID(_ context.Context, id int64) (domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return a, nil
}

func (s *AuctionStore) UpdateStatus(_ context.Context, id int64, to domain.AuctionStatus, expectedVersion int64) (domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	if a.Version != expectedVersion {
		return domain.Auction{}, domain.ErrConflict
	}
	a.Status = to
	a.Version++
	s.auctions[id] = a
	return a, nil
}

func (s *AuctionStore) ListDue(_ context.Context, now time.Time) ([]domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Auction
	for _, a := range s.auctions {
		switch a.Status {
		case domain.AuctionStatusScheduled:
			if !a.StartTime.After(now) {
				out = append(out, a)
			}
		case domain.AuctionStatusActive, domain.AuctionStatusPaused:
			if a.EndTime.Before(now) {
				out = append(out, a)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// BidStore appends bids and updates the owning AuctionStore atomically.
type BidStore struct {
	auctions *AuctionStore

	mu     sync.RWMutex
	bids   map[int64][]domain.Bid
	nextID int64
}

// NewBidStore returns a BidStore that commits against auctions.
func NewBidStore(auctions *AuctionStore) *BidStore {
	return &BidStore{auctions: auctions, bids: make(map[int64][]domain.Bid)}
}

func (s *BidStore) Commit(_ context.Context, c domain.BidCommit) (domain.Bid, domain.Auction, error) {
	s.auctions.mu.Lock()
	defer s.auctions.mu.Unlock()
	a, ok := s.auctions.auctions[c.AuctionID]
	if !ok {
		return domain.Bid{}, domain.Auction{}, domain.ErrNotFound
	}
	if a.Version != c.ExpectedVersion || a.Status != domain.AuctionStatusActive {
		return domain.Bid{}, domain.Auction{}, domain.ErrConflict
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	bid := domain.Bid{
		ID:           s.nextID,
		AuctionID:    c.AuctionID,
		UserID:       c.UserID,
		Amount:       c.Amount,
		CreatedAt:    c.At,
		EndTimeAfter: c.NewEndTime,
	}
	s.bids[c.AuctionID] = append(s.bids[c.AuctionID], bid)

	a.CurrentBid = c.Amount
	a.HighestBidderID = c.UserID
	a.EndTime = c.NewEndTime
	a.BidCount++
	a.Version++
	s.auctions.auctions[c.AuctionID] = a
	return bid, a, nil
}

// ListByAuction returns bids newest first.
func (s *BidStore) ListByAuction(_ context.Context, auctionID int64, opts domain.ListOpts) ([]domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.bids[auctionID]
	out := make([]domain.Bid, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
	}
	return page(out, opts), nil
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset >= len(items) {
		return nil
	}
	items = items[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

type enrollmentKey struct {
	auctionID int64
	userID    int64
}

// EnrollmentStore keeps one record per (auction, user).
type EnrollmentStore struct {
	mu     sync.Mutex
	rows   map[enrollmentKey]domain.Enrollment
	nextID int64
	now    func() time.Time
}

// NewEnrollmentStore returns an empty EnrollmentStore.
func NewEnrollmentStore() *EnrollmentStore {
	return &EnrollmentStore{rows: make(map[enrollmentKey]domain.Enrollment), now: time.Now}
}

// Put seeds an enrollment record.
func (s *EnrollmentStore) Put(e domain.Enrollment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	if e.ID == 0 {
		e.ID = s.nextID
	}
	s.rows[enrollmentKey{e.AuctionID, e.UserID}] = e
}

func (s *EnrollmentStore) Request(_ context.Context, auctionID, userID int64) (domain.Enrollment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := enrollmentKey{auctionID, userID}
	if e, ok := s.rows[key]; ok {
		return e, false, nil
	}
	s.nextID++
	e := domain.Enrollment{
		ID:        s.nextID,
		AuctionID: auctionID,
		UserID:    userID,
		Status:    domain.EnrollmentPending,
		CreatedAt: s.now().UTC(),
	}
	s.rows[key] = e
	return e, true, nil
}

func (s *EnrollmentStore) Get(_ context.Context, auctionID, userID int64) (domain.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[enrollmentKey{auctionID, userID}]
	if !ok {
		return domain.Enrollment{}, domain.ErrNotFound
	}
	return e, nil
}

func (s *EnrollmentStore) Decide(_ context.Context, auctionID, userID int64, to domain.EnrollmentStatus) (domain.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := enrollmentKey{auctionID, userID}
	e, ok := s.rows[key]
	if !ok {
		return domain.Enrollment{}, domain.ErrNotFound
	}
	if e.Status != domain.EnrollmentPending {
		return domain.Enrollment{}, domain.ErrInvalidTransition
	}
	decided := s.now().UTC()
	e.Status = to
	e.DecidedAt = &decided
	s.rows[key] = e
	return e, nil
}

func (s *EnrollmentStore) ListByAuction(_ context.Context, auctionID int64) ([]domain.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Enrollment
	for key, e := range s.rows {
		if key.auctionID == auctionID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AccountStore holds user accounts keyed by id.
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[int64]domain.Account
}

// NewAccountStore returns an AccountStore seeded with accounts.
func NewAccountStore(accounts ...domain.Account) *AccountStore {
	s := &AccountStore{accounts: make(map[int64]domain.Account)}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

// Put inserts or replaces an account.
func (s *AccountStore) Put(a domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

func (s *AccountStore) GetByID(_ context.Context, id int64) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return a, nil
}

// AuditStore records audit entries in memory.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

// NewAuditStore returns an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		out = append(out, s.entries[i])
	}
	return page(out, opts), nil
}

var (
	_ domain.AuctionStore    = (*AuctionStore)(nil)
	_ domain.BidStore        = (*BidStore)(nil)
	_ domain.EnrollmentStore = (*EnrollmentStore)(nil)
	_ domain.AccountStore    = (*AccountStore)(nil)
	_ domain.AuditStore      = (*AuditStore)(nil)
)
