package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/maqzone/livebid/internal/api"
	"github.com/maqzone/livebid/internal/auth"
	"github.com/maqzone/livebid/internal/domain"
	"github.com/maqzone/livebid/internal/server/middleware"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// StateReader supplies the snapshot announced in the hello frame.
type StateReader interface {
	GetState(ctx context.Context, auctionID int64) (domain.Snapshot, error)
}

// Handler upgrades GET /api/ws/auctions/{id} and streams the room.
type Handler struct {
	hub      *Hub
	state    StateReader
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a Handler. Origins are checked with the same rules as
// the REST API's CORS middleware.
func NewHandler(hub *Hub, state StateReader, allowedOrigins []string, logger *slog.Logger) *Handler {
	return &Handler{
		hub:    hub,
		state:  state,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     middleware.NewOrigins(allowedOrigins).AllowRequest,
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	auctionID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || auctionID <= 0 {
		http.Error(w, "invalid auction id", http.StatusBadRequest)
		return
	}
	snap, err := h.state.GetState(r.Context(), auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "auction not found", http.StatusNotFound)
			return
		}
		h.logger.ErrorContext(r.Context(), "ws: load snapshot", slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var userID int64
	if id, ok := auth.IdentityFrom(r.Context()); ok {
		userID = id.UserID
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	sub := h.hub.Subscribe(auctionID, userID)
	hello := encode(api.StreamMessage{
		Type:         api.TypeHello,
		AuctionID:    snap.AuctionID,
		Version:      snap.Version,
		BidCount:     snap.BidCount,
		EndTime:      snap.EndTime,
		Status:       string(snap.Status),
		PriceVisible: snap.Config.PriceVisible,
		Timestamp:    time.Now().UTC(),
	})
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		sub.Close()
		_ = conn.Close()
		return
	}

	go h.writePump(conn, sub)
	go h.readPump(conn, sub)
}

// readPump only services control frames; clients have nothing to say on
// the stream. It releases the subscription when the peer goes away.
func (h *Handler) readPump(conn *websocket.Conn, sub *Subscription) {
	defer func() {
		sub.Close()
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("ws: unexpected close",
					slog.Int64("auction_id", sub.AuctionID),
					slog.String("error", err.Error()),
				)
			}
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, sub *Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case frame, ok := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Evicted or released: tell the client so it resyncs.
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "resync"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
