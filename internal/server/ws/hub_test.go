package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/maqzone/livebid/internal/api"
	"github.com/maqzone/livebid/internal/auth"
	"github.com/maqzone/livebid/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var endAt = time.Date(2026, 7, 1, 15, 0, 0, 0, time.UTC)

func bidEvent(version, amount, bidder int64, visible bool) domain.Event {
	return domain.Event{
		Kind:         domain.EventBid,
		AuctionID:    1,
		Version:      version,
		Amount:       amount,
		BidderID:     bidder,
		BidCount:     version,
		EndTime:      endAt,
		Status:       domain.AuctionStatusActive,
		PriceVisible: visible,
		At:           endAt.Add(-time.Hour),
	}
}

func next(t *testing.T, s *Subscription) api.StreamMessage {
	t.Helper()
	select {
	case data, ok := <-s.C():
		assert.True(t, ok)
		var msg api.StreamMessage
		assert.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
		return api.StreamMessage{}
	}
}

func empty(s *Subscription) bool {
	select {
	case <-s.C():
		return false
	default:
		return true
	}
}

func TestBlindBidHidesAmountFromOthers(t *testing.T) {
	hub := NewHub(testLogger())
	bidder := hub.Subscribe(1, 5)
	other := hub.Subscribe(1, 6)
	anon := hub.Subscribe(1, 0)

	assert.NoError(t, hub.Publish(context.Background(), bidEvent(1, 120000, 5, false)))

	own := next(t, bidder)
	check.True(t, own.Own)
	check.NotNil(t, own.Amount)
	check.Equal(t, int64(120000), *own.Amount)

	for _, s := range []*Subscription{other, anon} {
		msg := next(t, s)
		check.False(t, msg.Own)
		check.True(t, msg.Amount == nil)
		check.Equal(t, int64(1), msg.BidCount)
	}
}

func TestVisibleBidCarriesAmount(t *testing.T) {
	hub := NewHub(testLogger())
	viewer := hub.Subscribe(1, 0)

	assert.NoError(t, hub.Publish(context.Background(), bidEvent(1, 120000, 5, true)))
	msg := next(t, viewer)
	check.Equal(t, api.TypeBid, msg.Type)
	check.NotNil(t, msg.Amount)
	check.Equal(t, int64(120000), *msg.Amount)
}

func TestOutbidIsTargeted(t *testing.T) {
	hub := NewHub(testLogger())
	target := hub.Subscribe(1, 5)
	other := hub.Subscribe(1, 6)
	anon := hub.Subscribe(1, 0)

	assert.NoError(t, hub.Publish(context.Background(), domain.Event{
		Kind:         domain.EventOutbid,
		AuctionID:    1,
		Version:      3,
		TargetUserID: 5,
		EndTime:      endAt,
	}))

	msg := next(t, target)
	check.Equal(t, api.TypeOutbid, msg.Type)
	check.True(t, empty(other))
	check.True(t, empty(anon))
}

func TestRoomsAreIsolated(t *testing.T) {
	hub := NewHub(testLogger())
	elsewhere := hub.Subscribe(2, 5)
	assert.NoError(t, hub.Publish(context.Background(), bidEvent(1, 120000, 5, true)))
	check.True(t, empty(elsewhere))
}

func TestOrderPreservedPerSubscriber(t *testing.T) {
	hub := NewHub(testLogger())
	subs := []*Subscription{hub.Subscribe(1, 0), hub.Subscribe(1, 9)}

	for v := int64(1); v <= 50; v++ {
		assert.NoError(t, hub.Publish(context.Background(), bidEvent(v, 100000+v*1000, 5, true)))
	}
	for _, s := range subs {
		for v := int64(1); v <= 50; v++ {
			check.Equal(t, v, next(t, s).Version)
		}
	}
}

func TestSlowSubscriberIsEvicted(t *testing.T) {
	hub := NewHub(testLogger())
	slow := hub.Subscribe(1, 0)
	fast := hub.Subscribe(1, 0)

	var wg sync.WaitGroup
	received := 0
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range fast.C() {
			received++
			if received == sendBufferSize+10 {
				return
			}
		}
	}()

	for v := int64(1); v <= sendBufferSize+10; v++ {
		assert.NoError(t, hub.Publish(context.Background(), bidEvent(v, v*1000, 5, true)))
		// Let the fast reader keep up.
		time.Sleep(time.Millisecond)
	}
	wg.Wait()

	check.Equal(t, sendBufferSize+10, received)
	check.Equal(t, 1, hub.RoomSize(1))

	// The slow subscriber received a prefix and then a closed channel.
	count := 0
	for range slow.C() {
		count++
	}
	check.Equal(t, sendBufferSize, count)
	fast.Close()
	check.Equal(t, 0, hub.RoomSize(1))
}

func TestCloseIsIdempotent(t *testing.T) {
	hub := NewHub(testLogger())
	s := hub.Subscribe(1, 0)
	s.Close()
	s.Close()
	check.Equal(t, 0, hub.RoomSize(1))
	assert.NoError(t, hub.Publish(context.Background(), bidEvent(1, 1000, 5, true)))
}

type fixedState struct{ snap domain.Snapshot }

func (f fixedState) GetState(_ context.Context, id int64) (domain.Snapshot, error) {
	if id != f.snap.AuctionID {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	return f.snap, nil
}

func TestHandlerStreamsHelloThenEvents(t *testing.T) {
	hub := NewHub(testLogger())
	state := fixedState{snap: domain.Snapshot{
		AuctionID: 1,
		Version:   4,
		BidCount:  4,
		EndTime:   endAt,
		Status:    domain.AuctionStatusActive,
		Config:    domain.AuctionConfig{PriceVisible: false},
	}}
	h := NewHandler(hub, state, nil, testLogger())

	mux := http.NewServeMux()
	mux.Handle("GET /api/ws/auctions/{id}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.WithIdentity(r.Context(), auth.Identity{UserID: 5})
		h.ServeHTTP(w, r.WithContext(ctx))
	}))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/auctions/1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NoError(t, err)
	defer conn.Close()

	var hello api.StreamMessage
	assert.NoError(t, conn.ReadJSON(&hello))
	check.Equal(t, api.TypeHello, hello.Type)
	check.Equal(t, int64(4), hello.Version)

	deadline := time.Now().Add(2 * time.Second)
	for hub.RoomSize(1) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.NoError(t, hub.Publish(context.Background(), bidEvent(5, 130000, 5, false)))

	var msg api.StreamMessage
	assert.NoError(t, conn.ReadJSON(&msg))
	check.Equal(t, int64(5), msg.Version)
	check.True(t, msg.Own)
	check.NotNil(t, msg.Amount)

	_, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws/auctions/99", nil)
	check.Error(t, err)
}

func TestHandlerChecksOrigin(t *testing.T) {
	state := fixedState{snap: domain.Snapshot{AuctionID: 1, EndTime: endAt, Status: domain.AuctionStatusActive}}
	h := NewHandler(NewHub(testLogger()), state, []string{"https://bid.example.com"}, testLogger())
	mux := http.NewServeMux()
	mux.Handle("GET /api/ws/auctions/{id}", h)
	srv := httptest.NewServer(mux)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/auctions/1"

	dial := func(origin string) (*http.Response, error) {
		header := http.Header{}
		header.Set("Origin", origin)
		conn, resp, err := websocket.DefaultDialer.Dial(url, header)
		if conn != nil {
			conn.Close()
		}
		return resp, err
	}

	resp, err := dial("https://evil.example.com")
	check.True(t, errors.Is(err, websocket.ErrBadHandshake))
	assert.NotNil(t, resp)
	check.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, err = dial("https://BID.example.com")
	check.NoError(t, err)
}

type loopbackBus struct {
	mu   sync.Mutex
	subs []chan []byte
}

func (b *loopbackBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		ch <- payload
	}
	return nil
}

func (b *loopbackBus) Subscribe(ctx context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch, nil
}

func TestRelayFeedsHub(t *testing.T) {
	hub := NewHub(testLogger())
	bus := &loopbackBus{}
	relay := NewRelay(bus, hub, testLogger())
	sub := hub.Subscribe(1, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = relay.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		bus.mu.Lock()
		n := len(bus.subs)
		bus.mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	assert.NoError(t, relay.Publish(ctx, bidEvent(1, 101000, 5, true)))
	msg := next(t, sub)
	check.Equal(t, int64(1), msg.Version)
	check.Equal(t, int64(101000), *msg.Amount)
	check.Equal(t, "auction:events:1", EventChannel(1))
}
