// Package ws is the realtime broadcast channel: one room per auction, fan-out
// of ledger events to WebSocket subscribers with per-subscriber rendering.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/maqzone/livebid/internal/api"
	"github.com/maqzone/livebid/internal/domain"
)

// sendBufferSize is the per-subscriber queue. A subscriber that falls this
// far behind is evicted and must resync.
const sendBufferSize = 256

// Subscription is one live listener on an auction room.
type Subscription struct {
	ID        string
	AuctionID int64
	UserID    int64

	send    chan []byte
	dead    atomic.Bool
	hub     *Hub
	closing sync.Once
}

// C delivers rendered frames in ledger order. It is closed when the
// subscription is released or evicted.
func (s *Subscription) C() <-chan []byte {
	return s.send
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Hub owns every room. The ledger only sees Publish.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[int64]map[*Subscription]struct{}
	logger *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[int64]map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscribe joins the room for auctionID. userID is zero for anonymous
// viewers, who never receive targeted or own-bid frames.
func (h *Hub) Subscribe(auctionID, userID int64) *Subscription {
	s := &Subscription{
		ID:        uuid.NewString(),
		AuctionID: auctionID,
		UserID:    userID,
		send:      make(chan []byte, sendBufferSize),
		hub:       h,
	}

	h.mu.Lock()
	room, ok := h.rooms[auctionID]
	if !ok {
		room = make(map[*Subscription]struct{})
		h.rooms[auctionID] = room
	}
	room[s] = struct{}{}
	n := len(room)
	h.mu.Unlock()

	h.logger.Debug("ws: subscribed",
		slog.Int64("auction_id", auctionID),
		slog.Int64("user_id", userID),
		slog.Int("room_size", n),
	)
	return s
}

func (h *Hub) remove(s *Subscription) {
	s.closing.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if room, ok := h.rooms[s.AuctionID]; ok {
			delete(room, s)
			if len(room) == 0 {
				delete(h.rooms, s.AuctionID)
			}
		}
		s.dead.Store(true)
		close(s.send)
	})
}

// RoomSize returns the number of live subscriptions on an auction.
func (h *Hub) RoomSize(auctionID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[auctionID])
}

// Publish renders ev for every subscriber of its auction and enqueues it
// without blocking. Callers must publish events for one auction in ledger
// order; the hub keeps that order per subscriber.
func (h *Hub) Publish(ctx context.Context, ev domain.Event) error {
	frames := newRenderer(ev)
	var slow []*Subscription

	h.mu.RLock()
	for s := range h.rooms[ev.AuctionID] {
		if s.dead.Load() {
			continue
		}
		frame := frames.forUser(s.UserID)
		if frame == nil {
			continue
		}
		select {
		case s.send <- frame:
		default:
			s.dead.Store(true)
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.logger.WarnContext(ctx, "ws: evicting slow subscriber",
			slog.Int64("auction_id", s.AuctionID),
			slog.String("subscription", s.ID),
		)
		h.remove(s)
	}
	return nil
}

// renderer lazily builds the public and own-bid frames for one event.
type renderer struct {
	ev      domain.Event
	public  []byte
	private []byte
}

func newRenderer(ev domain.Event) *renderer {
	return &renderer{ev: ev}
}

func (r *renderer) forUser(userID int64) []byte {
	switch r.ev.Kind {
	case domain.EventOutbid:
		if userID == 0 || userID != r.ev.TargetUserID {
			return nil
		}
		return r.publicFrame()
	case domain.EventBid:
		if userID != 0 && userID == r.ev.BidderID {
			if r.private == nil {
				r.private = encode(Render(r.ev, true))
			}
			return r.private
		}
	}
	return r.publicFrame()
}

func (r *renderer) publicFrame() []byte {
	if r.public == nil {
		r.public = encode(Render(r.ev, false))
	}
	return r.public
}

// Render converts a ledger event into a stream frame. own marks the frame
// for the bidder who placed the bid; blind auctions only reveal the amount
// to that bidder.
func Render(ev domain.Event, own bool) api.StreamMessage {
	msg := api.StreamMessage{
		Type:         string(ev.Kind),
		AuctionID:    ev.AuctionID,
		Version:      ev.Version,
		BidCount:     ev.BidCount,
		EndTime:      ev.EndTime,
		Extended:     ev.Extended,
		Status:       string(ev.Status),
		PriceVisible: ev.PriceVisible,
		Timestamp:    ev.At,
		Own:          own,
	}
	if ev.Kind != domain.EventStatus && (ev.PriceVisible || own) && ev.Amount > 0 {
		amount := ev.Amount
		msg.Amount = &amount
	}
	return msg
}

func encode(msg api.StreamMessage) []byte {
	data, _ := json.Marshal(msg)
	return data
}
