package domain

import (
	"context"
	"time"
)

// SnapshotCache provides fast access to the latest ledger snapshot.
type SnapshotCache interface {
	Set(ctx context.Context, snap Snapshot) error
	Get(ctx context.Context, auctionID int64) (Snapshot, error)
	Invalidate(ctx context.Context, auctionID int64) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub between service instances.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
