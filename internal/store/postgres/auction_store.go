package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/maqzone/livebid/internal/domain"
)

const auctionColumns = `
	id, title, reserve_price, min_bid_increment, buyer_premium_pct::text,
	auto_extend_minutes, auto_extend_window_minutes, price_visible, sale_mode,
	start_time, end_time, status, current_bid, COALESCE(highest_bidder_id, 0),
	bid_count, version, created_at`

// AuctionStore implements domain.AuctionStore.
type AuctionStore struct {
	pool *pgxpool.Pool
}

// NewAuctionStore creates an AuctionStore backed by pool.
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

func (s *AuctionStore) GetByID(ctx context.Context, id int64) (domain.Auction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	a, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("postgres: get auction %d: %w", id, err)
	}
	return a, nil
}

// UpdateStatus is a compare-and-set on version.
func (s *AuctionStore) UpdateStatus(ctx context.Context, id int64, to domain.AuctionStatus, expectedVersion int64) (domain.Auction, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE auctions SET status = $2, version = version + 1
		WHERE id = $1 AND version = $3
		RETURNING `+auctionColumns,
		id, string(to), expectedVersion,
	)
	a, err := scanAuction(row)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Auction{}, fmt.Errorf("postgres: update auction status %d: %w", id, err)
	}
	if _, err := s.GetByID(ctx, id); err != nil {
		return domain.Auction{}, err
	}
	return domain.Auction{}, domain.ErrConflict
}

func (s *AuctionStore) ListDue(ctx context.Context, now time.Time) ([]domain.Auction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+auctionColumns+` FROM auctions
		WHERE (status = 'scheduled' AND start_time <= $1)
		   OR (status IN ('active', 'paused') AND end_time < $1)
		ORDER BY id`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due auctions: %w", err)
	}
	defer rows.Close()

	var out []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan auction: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list due auctions rows: %w", err)
	}
	return out, nil
}

func scanAuction(row scanner) (domain.Auction, error) {
	var (
		a       domain.Auction
		premium string
		visible int16
		mode    string
		status  string
	)
	err := row.Scan(
		&a.ID, &a.Title, &a.Config.ReservePrice, &a.Config.MinBidIncrement, &premium,
		&a.Config.AutoExtendMinutes, &a.Config.AutoExtendWindowMinutes, &visible, &mode,
		&a.StartTime, &a.EndTime, &status, &a.CurrentBid, &a.HighestBidderID,
		&a.BidCount, &a.Version, &a.CreatedAt,
	)
	if err != nil {
		return domain.Auction{}, err
	}
	pct, err := decimal.NewFromString(premium)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("buyer_premium_pct %q: %w", premium, err)
	}
	a.Config.BuyerPremiumPct = pct
	a.Config.PriceVisible = visible == 1
	a.Config.SaleMode = domain.SaleMode(mode)
	a.Config = a.Config.WithDefaults()
	a.Status = domain.AuctionStatus(status)
	return a, nil
}

var _ domain.AuctionStore = (*AuctionStore)(nil)
