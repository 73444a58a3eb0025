package memory

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"github.com/maqzone/livebid/internal/domain"
)

// Seed is the TOML fixture loaded into in-memory stores at startup.
type Seed struct {
	Auctions    []SeedAuction    `toml:"auction"`
	Accounts    []SeedAccount    `toml:"account"`
	Enrollments []SeedEnrollment `toml:"enrollment"`
}

type SeedAuction struct {
	ID                      int64     `toml:"id"`
	Title                   string    `toml:"title"`
	Status                  string    `toml:"status"`
	StartTime               time.Time `toml:"start_time"`
	EndTime                 time.Time `toml:"end_time"`
	StartingBid             int64     `toml:"starting_bid"`
	ReservePrice            int64     `toml:"reserve_price"`
	MinBidIncrement         int64     `toml:"min_bid_increment"`
	BuyerPremiumPct         string    `toml:"buyer_premium_pct"`
	AutoExtendMinutes       int       `toml:"auto_extend_minutes"`
	AutoExtendWindowMinutes int       `toml:"auto_extend_window_minutes"`
	PriceVisible            bool      `toml:"price_visible"`
	SaleMode                string    `toml:"sale_mode"`
}

type SeedAccount struct {
	ID     int64  `toml:"id"`
	Email  string `toml:"email"`
	Status string `toml:"status"`
}

type SeedEnrollment struct {
	AuctionID int64  `toml:"auction_id"`
	UserID    int64  `toml:"user_id"`
	Status    string `toml:"status"`
}

// LoadSeed decodes a seed file.
func LoadSeed(path string) (Seed, error) {
	var s Seed
	md, err := toml.DecodeFile(path, &s)
	if err != nil {
		return Seed{}, fmt.Errorf("memory: decode seed %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Seed{}, fmt.Errorf("memory: seed %s: unknown keys %v", path, undecoded)
	}
	return s, nil
}

// Apply validates the seed and writes it into the stores. Nothing is written
// when any record is invalid.
func (s Seed) Apply(auctions *AuctionStore, accounts *AccountStore, enrollments *EnrollmentStore) error {
	parsed := make([]domain.Auction, 0, len(s.Auctions))
	seen := make(map[int64]bool, len(s.Auctions))
	for _, sa := range s.Auctions {
		a, err := sa.auction()
		if err != nil {
			return err
		}
		if seen[a.ID] {
			return fmt.Errorf("memory: seed auction %d listed twice", a.ID)
		}
		seen[a.ID] = true
		parsed = append(parsed, a)
	}
	for _, acc := range s.Accounts {
		if acc.ID <= 0 {
			return fmt.Errorf("memory: seed account id must be positive, got %d", acc.ID)
		}
		switch domain.AccountStatus(acc.Status) {
		case domain.AccountPending, domain.AccountApproved, domain.AccountRejected:
		default:
			return fmt.Errorf("memory: seed account %d: unknown status %q", acc.ID, acc.Status)
		}
	}
	for _, e := range s.Enrollments {
		if !seen[e.AuctionID] {
			return fmt.Errorf("memory: seed enrollment references unknown auction %d", e.AuctionID)
		}
		switch domain.EnrollmentStatus(e.Status) {
		case domain.EnrollmentPending, domain.EnrollmentApproved, domain.EnrollmentRejected:
		default:
			return fmt.Errorf("memory: seed enrollment %d/%d: unknown status %q", e.AuctionID, e.UserID, e.Status)
		}
	}

	for _, a := range parsed {
		auctions.Put(a)
	}
	for _, acc := range s.Accounts {
		accounts.Put(domain.Account{ID: acc.ID, Email: acc.Email, Status: domain.AccountStatus(acc.Status)})
	}
	for _, e := range s.Enrollments {
		enrollments.Put(domain.Enrollment{AuctionID: e.AuctionID, UserID: e.UserID, Status: domain.EnrollmentStatus(e.Status)})
	}
	return nil
}

func (sa SeedAuction) auction() (domain.Auction, error) {
	if sa.ID <= 0 {
		return domain.Auction{}, fmt.Errorf("memory: seed auction id must be positive, got %d", sa.ID)
	}
	if !sa.EndTime.After(sa.StartTime) {
		return domain.Auction{}, fmt.Errorf("memory: seed auction %d: end_time must follow start_time", sa.ID)
	}

	status := domain.AuctionStatus(sa.Status)
	if sa.Status == "" {
		status = domain.AuctionStatusScheduled
	}
	switch status {
	case domain.AuctionStatusScheduled, domain.AuctionStatusActive, domain.AuctionStatusPaused,
		domain.AuctionStatusClosed, domain.AuctionStatusCancelled:
	default:
		return domain.Auction{}, fmt.Errorf("memory: seed auction %d: unknown status %q", sa.ID, sa.Status)
	}

	mode := domain.SaleMode(sa.SaleMode)
	switch mode {
	case "":
		mode = domain.SaleModeAuction
	case domain.SaleModeAuction, domain.SaleModeFixed:
	default:
		return domain.Auction{}, fmt.Errorf("memory: seed auction %d: unknown sale_mode %q", sa.ID, sa.SaleMode)
	}

	var premium decimal.Decimal
	if sa.BuyerPremiumPct != "" {
		p, err := decimal.NewFromString(sa.BuyerPremiumPct)
		if err != nil {
			return domain.Auction{}, fmt.Errorf("memory: seed auction %d: buyer_premium_pct: %w", sa.ID, err)
		}
		premium = p
	}

	return domain.Auction{
		ID:         sa.ID,
		Title:      sa.Title,
		StartTime:  sa.StartTime,
		EndTime:    sa.EndTime,
		Status:     status,
		CurrentBid: sa.StartingBid,
		Config: domain.AuctionConfig{
			ReservePrice:            sa.ReservePrice,
			MinBidIncrement:         sa.MinBidIncrement,
			BuyerPremiumPct:         premium,
			AutoExtendMinutes:       sa.AutoExtendMinutes,
			AutoExtendWindowMinutes: sa.AutoExtendWindowMinutes,
			PriceVisible:            sa.PriceVisible,
			SaleMode:                mode,
		},
	}, nil
}
