package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maqzone/livebid/internal/domain"
)

// BidStore implements domain.BidStore.
type BidStore struct {
	pool *pgxpool.Pool
}

// NewBidStore creates a BidStore backed by pool.
func NewBidStore(pool *pgxpool.Pool) *BidStore {
	return &BidStore{pool: pool}
}

// Commit moves the auction row and appends the bid in one transaction. The
// UPDATE only matches an active auction still at the expected version, so a
// writer that lost a race gets domain.ErrConflict and nothing is written.
func (s *BidStore) Commit(ctx context.Context, c domain.BidCommit) (domain.Bid, domain.Auction, error) {
	var (
		bid     domain.Bid
		auction domain.Auction
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE auctions SET
				current_bid       = $2,
				highest_bidder_id = $3,
				end_time          = GREATEST(end_time, $4),
				bid_count         = bid_count + 1,
				version           = version + 1
			WHERE id = $1 AND version = $5 AND status = 'active'
			RETURNING `+auctionColumns,
			c.AuctionID, c.Amount, c.UserID, c.NewEndTime, c.ExpectedVersion,
		)
		a, err := scanAuction(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrConflict
			}
			return err
		}
		auction = a

		bid = domain.Bid{
			AuctionID:    c.AuctionID,
			UserID:       c.UserID,
			Amount:       c.Amount,
			CreatedAt:    c.At,
			EndTimeAfter: a.EndTime,
		}
		return tx.QueryRow(ctx, `
			INSERT INTO bids (auction_id, user_id, amount, end_time_after, created_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			bid.AuctionID, bid.UserID, bid.Amount, bid.EndTimeAfter, bid.CreatedAt,
		).Scan(&bid.ID)
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.Bid{}, domain.Auction{}, err
		}
		return domain.Bid{}, domain.Auction{}, fmt.Errorf("postgres: commit bid on %d: %w", c.AuctionID, err)
	}
	return bid, auction, nil
}

// ListByAuction returns bids newest first.
func (s *BidStore) ListByAuction(ctx context.Context, auctionID int64, opts domain.ListOpts) ([]domain.Bid, error) {
	args := []any{auctionID}
	query := `
		SELECT id, auction_id, user_id, amount, end_time_after, created_at
		FROM bids WHERE auction_id = $1
		ORDER BY id DESC` + limitOffset(&args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids %d: %w", auctionID, err)
	}
	defer rows.Close()

	var out []domain.Bid
	for rows.Next() {
		var b domain.Bid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.UserID, &b.Amount, &b.EndTimeAfter, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan bid: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bids rows: %w", err)
	}
	return out, nil
}

var _ domain.BidStore = (*BidStore)(nil)
