package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/maqzone/livebid/internal/api"
	"github.com/maqzone/livebid/internal/domain"
)

const (
	// readWait bounds the silence between server frames or pings.
	readWait = 75 * time.Second

	writeWait = 10 * time.Second
)

// Transport is how a Session talks to the bidding service.
type Transport interface {
	// Snapshot fetches the authoritative auction state.
	Snapshot(ctx context.Context, id Identity, auctionID int64) (api.AuctionView, error)
	// SubmitBid returns the server's verdict. Rejections are a BidResponse
	// with Accepted=false, not an error.
	SubmitBid(ctx context.Context, id Identity, auctionID, amount int64) (api.BidResponse, error)
	// Dial opens the live event stream for one auction.
	Dial(ctx context.Context, id Identity, auctionID int64) (Stream, error)
}

// Stream yields frames in server order until it fails or is closed.
type Stream interface {
	Next() (api.StreamMessage, error)
	Close() error
}

// StatusError is a non-verdict HTTP failure.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("session: http %d: %s", e.Code, e.Message)
}

// HTTPTransport speaks the REST and WebSocket API.
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client
	dialer     websocket.Dialer
}

// NewHTTPTransport creates a transport for baseURL, e.g.
// "https://bids.example.com".
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		dialer: websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
		},
	}
}

// Snapshot implements Transport.
func (t *HTTPTransport) Snapshot(ctx context.Context, id Identity, auctionID int64) (api.AuctionView, error) {
	body, code, err := t.do(ctx, id, http.MethodGet, auctionPath(auctionID), nil)
	if err != nil {
		return api.AuctionView{}, fmt.Errorf("session: snapshot %d: %w", auctionID, err)
	}
	if code != http.StatusOK {
		return api.AuctionView{}, statusError(code, body)
	}
	var view api.AuctionView
	if err := json.Unmarshal(body, &view); err != nil {
		return api.AuctionView{}, fmt.Errorf("session: decode snapshot: %w", err)
	}
	return view, nil
}

// SubmitBid implements Transport.
func (t *HTTPTransport) SubmitBid(ctx context.Context, id Identity, auctionID, amount int64) (api.BidResponse, error) {
	payload, err := json.Marshal(api.BidRequest{Amount: amount})
	if err != nil {
		return api.BidResponse{}, fmt.Errorf("session: encode bid: %w", err)
	}
	body, code, err := t.do(ctx, id, http.MethodPost, auctionPath(auctionID)+"/bids", payload)
	if err != nil {
		return api.BidResponse{}, fmt.Errorf("session: submit bid %d: %w", auctionID, err)
	}

	switch code {
	case http.StatusCreated, http.StatusConflict, http.StatusUnprocessableEntity, http.StatusForbidden:
		var resp api.BidResponse
		if err := json.Unmarshal(body, &resp); err == nil && (resp.Accepted || resp.Reason != "") {
			return resp, nil
		}
	}
	return api.BidResponse{}, statusError(code, body)
}

// Dial implements Transport.
func (t *HTTPTransport) Dial(ctx context.Context, id Identity, auctionID int64) (Stream, error) {
	u, err := url.Parse(t.baseURL + "/api/ws" + auctionPath(auctionID))
	if err != nil {
		return nil, fmt.Errorf("session: stream url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if id.Token != "" {
		q := u.Query()
		q.Set("token", id.Token)
		u.RawQuery = q.Encode()
	}

	conn, _, err := t.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("session: dial %d: %w", auctionID, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	return &wsStream{conn: conn}, nil
}

func (t *HTTPTransport) do(ctx context.Context, id Identity, method, path string, payload []byte) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id.Token != "" {
		req.Header.Set("Authorization", "Bearer "+id.Token)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", domain.ErrWSDisconnect, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("read body: %w", err)
	}
	return data, resp.StatusCode, nil
}

func auctionPath(auctionID int64) string {
	return "/api/auctions/" + strconv.FormatInt(auctionID, 10)
}

func statusError(code int, body []byte) error {
	var e api.ErrorResponse
	if err := json.Unmarshal(body, &e); err != nil || e.Error == "" {
		e.Error = http.StatusText(code)
	}
	return &StatusError{Code: code, Message: e.Error}
}

type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Next() (api.StreamMessage, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return api.StreamMessage{}, fmt.Errorf("%w: %w", domain.ErrWSDisconnect, err)
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(readWait))
	var msg api.StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return api.StreamMessage{}, fmt.Errorf("session: decode frame: %w", err)
	}
	return msg, nil
}

func (s *wsStream) Close() error {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return s.conn.Close()
}
