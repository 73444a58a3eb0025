package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/maqzone/livebid/internal/domain"
)

const defaultSnapshotTTL = 10 * time.Minute

//go:embed scripts/snapshot_set.lua
var snapshotSetLua string

// SnapshotCache implements domain.SnapshotCache. Each snapshot is a JSON
// string at "auction:snapshot:{id}" with a TTL so abandoned lots age out.
type SnapshotCache struct {
	c      *Client
	ttl    time.Duration
	script *redis.Script
}

// NewSnapshotCache creates a SnapshotCache. ttl <= 0 uses ten minutes.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &SnapshotCache{c: c, ttl: ttl, script: redis.NewScript(snapshotSetLua)}
}

type cachedSnapshot struct {
	AuctionID       int64           `json:"auction_id"`
	CurrentBid      int64           `json:"current_bid"`
	HighestBidderID int64           `json:"highest_bidder_id"`
	EndTime         time.Time       `json:"end_time"`
	Status          string          `json:"status"`
	BidCount        int64           `json:"bid_count"`
	Version         int64           `json:"version"`
	ReservePrice    int64           `json:"reserve_price"`
	MinBidIncrement int64           `json:"min_bid_increment"`
	BuyerPremiumPct decimal.Decimal `json:"buyer_premium_pct"`
	ExtendMinutes   int             `json:"auto_extend_minutes"`
	WindowMinutes   int             `json:"auto_extend_window_minutes"`
	PriceVisible    bool            `json:"price_visible"`
	SaleMode        string          `json:"sale_mode"`
}

func (sc *SnapshotCache) snapshotKey(id int64) string {
	return sc.c.key("auction:snapshot:" + strconv.FormatInt(id, 10))
}

// Set stores snap, never replacing a newer version already cached. The
// version check and the write run as one Lua script, so a reader refilling
// the cache from the database cannot overwrite a concurrent commit.
func (sc *SnapshotCache) Set(ctx context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(cachedSnapshot{
		AuctionID:       snap.AuctionID,
		CurrentBid:      snap.CurrentBid,
		HighestBidderID: snap.HighestBidderID,
		EndTime:         snap.EndTime.UTC(),
		Status:          string(snap.Status),
		BidCount:        snap.BidCount,
		Version:         snap.Version,
		ReservePrice:    snap.Config.ReservePrice,
		MinBidIncrement: snap.Config.MinBidIncrement,
		BuyerPremiumPct: snap.Config.BuyerPremiumPct,
		ExtendMinutes:   snap.Config.AutoExtendMinutes,
		WindowMinutes:   snap.Config.AutoExtendWindowMinutes,
		PriceVisible:    snap.Config.PriceVisible,
		SaleMode:        string(snap.Config.SaleMode),
	})
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %d: %w", snap.AuctionID, err)
	}
	err = sc.script.Run(ctx, sc.c.rdb,
		[]string{sc.snapshotKey(snap.AuctionID)},
		data,
		snap.Version,
		sc.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: set snapshot %d: %w", snap.AuctionID, err)
	}
	return nil
}

// Get returns the cached snapshot or domain.ErrNotFound.
func (sc *SnapshotCache) Get(ctx context.Context, auctionID int64) (domain.Snapshot, error) {
	data, err := sc.c.rdb.Get(ctx, sc.snapshotKey(auctionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Snapshot{}, domain.ErrNotFound
		}
		return domain.Snapshot{}, fmt.Errorf("redis: get snapshot %d: %w", auctionID, err)
	}

	var cs cachedSnapshot
	if err := json.Unmarshal(data, &cs); err != nil {
		return domain.Snapshot{}, fmt.Errorf("redis: decode snapshot %d: %w", auctionID, err)
	}
	return domain.Snapshot{
		AuctionID:       cs.AuctionID,
		CurrentBid:      cs.CurrentBid,
		HighestBidderID: cs.HighestBidderID,
		EndTime:         cs.EndTime,
		Status:          domain.AuctionStatus(cs.Status),
		BidCount:        cs.BidCount,
		Version:         cs.Version,
		Config: domain.AuctionConfig{
			ReservePrice:            cs.ReservePrice,
			MinBidIncrement:         cs.MinBidIncrement,
			BuyerPremiumPct:         cs.BuyerPremiumPct,
			AutoExtendMinutes:       cs.ExtendMinutes,
			AutoExtendWindowMinutes: cs.WindowMinutes,
			PriceVisible:            cs.PriceVisible,
			SaleMode:                domain.SaleMode(cs.SaleMode),
		},
	}, nil
}

// Invalidate removes the cached snapshot.
func (sc *SnapshotCache) Invalidate(ctx context.Context, auctionID int64) error {
	if err := sc.c.rdb.Del(ctx, sc.snapshotKey(auctionID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate snapshot %d: %w", auctionID, err)
	}
	return nil
}

var _ domain.SnapshotCache = (*SnapshotCache)(nil)
