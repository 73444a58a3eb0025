package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/maqzone/livebid/internal/domain"
)

const (
	eventChannelPattern = "auction:events:*"
	resubscribeDelay    = time.Second
)

// EventChannel is the pub/sub channel carrying one auction's events.
func EventChannel(auctionID int64) string {
	return fmt.Sprintf("auction:events:%d", auctionID)
}

// Relay fans ledger events out across service instances. The ledger
// publishes through the Relay; every instance runs the Relay to feed its
// local Hub from the bus.
type Relay struct {
	bus    domain.SignalBus
	hub    *Hub
	logger *slog.Logger
}

// NewRelay creates a Relay between bus and hub.
func NewRelay(bus domain.SignalBus, hub *Hub, logger *slog.Logger) *Relay {
	return &Relay{bus: bus, hub: hub, logger: logger}
}

// Publish sends ev to every instance, this one included.
func (r *Relay) Publish(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("ws: marshal event: %w", err)
	}
	return r.bus.Publish(ctx, EventChannel(ev.AuctionID), data)
}

// Run consumes the bus until ctx is cancelled, resubscribing after drops.
// Events lost during a drop are recovered by clients resyncing.
func (r *Relay) Run(ctx context.Context) error {
	for {
		msgs, err := r.bus.Subscribe(ctx, eventChannelPattern)
		if err != nil {
			r.logger.ErrorContext(ctx, "ws: relay subscribe failed", slog.String("error", err.Error()))
		} else {
			r.logger.InfoContext(ctx, "ws: relay subscribed", slog.String("pattern", eventChannelPattern))
			r.consume(ctx, msgs)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(resubscribeDelay):
		}
	}
}

func (r *Relay) consume(ctx context.Context, msgs <-chan []byte) {
	for data := range msgs {
		var ev domain.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			r.logger.WarnContext(ctx, "ws: relay dropped malformed event", slog.String("error", err.Error()))
			continue
		}
		_ = r.hub.Publish(ctx, ev)
	}
}
