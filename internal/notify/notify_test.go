package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/maqzone/livebid/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureSender struct {
	name     string
	err      error
	titles   []string
	messages []string
}

func (c *captureSender) Send(_ context.Context, title, message string) error {
	c.titles = append(c.titles, title)
	c.messages = append(c.messages, message)
	return c.err
}

func (c *captureSender) Name() string { return c.name }

func closedAuction() domain.Auction {
	return domain.Auction{
		ID:              42,
		Title:           "CAT 320 excavator",
		Status:          domain.AuctionStatusClosed,
		CurrentBid:      250000,
		HighestBidderID: 9,
		BidCount:        17,
		EndTime:         time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC),
		Config:          domain.AuctionConfig{ReservePrice: 300000},
	}
}

func TestAuctionClosedMessage(t *testing.T) {
	s := &captureSender{name: "capture"}
	n := NewNotifier([]Sender{s}, nil, testLogger())

	assert.NoError(t, n.AuctionClosed(context.Background(), closedAuction(), "archive/auctions/2026-09/42.jsonl"))
	assert.Equal(t, 1, len(s.messages))
	check.Equal(t, "Auction #42 closed", s.titles[0])
	msg := s.messages[0]
	check.True(t, strings.Contains(msg, "Hammer $250,000 to bidder #9 after 17 bids"))
	check.True(t, strings.Contains(msg, "Buyer premium 14% = $35,000"))
	check.True(t, strings.Contains(msg, "Reserve $300,000 not met"))
	check.True(t, strings.Contains(msg, "Archive: archive/auctions/2026-09/42.jsonl"))
}

func TestNoBidsMessage(t *testing.T) {
	s := &captureSender{name: "capture"}
	n := NewNotifier([]Sender{s}, nil, testLogger())
	a := closedAuction()
	a.BidCount, a.CurrentBid, a.HighestBidderID = 0, 0, 0

	assert.NoError(t, n.AuctionClosed(context.Background(), a, ""))
	check.Equal(t, "CAT 320 excavator\nNo bids", s.messages[0])
}

func TestEventFilter(t *testing.T) {
	s := &captureSender{name: "capture"}
	n := NewNotifier([]Sender{s}, []string{EventAuctionClosed, " "}, testLogger())

	assert.NoError(t, n.AuctionActivated(context.Background(), closedAuction()))
	check.Equal(t, 0, len(s.titles))
	assert.NoError(t, n.AuctionClosed(context.Background(), closedAuction(), ""))
	check.Equal(t, 1, len(s.titles))
}

func TestOneSenderFailingDoesNotStopOthers(t *testing.T) {
	bad := &captureSender{name: "bad", err: errors.New("boom")}
	good := &captureSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), EventAuctionClosed, "t", "m")
	check.True(t, err != nil)
	check.True(t, strings.Contains(err.Error(), "bad: boom"))
	check.Equal(t, 1, len(good.titles))
}

func TestNilNotifierIsDisabled(t *testing.T) {
	var n *Notifier
	check.False(t, n.Enabled())
	assert.NoError(t, n.AuctionClosed(context.Background(), closedAuction(), ""))
}

func TestDiscordSender(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	assert.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "Auction #1 closed", "No bids"))
	assert.Equal(t, 1, len(got.Embeds))
	check.Equal(t, "Auction #1 closed", got.Embeds[0].Title)
	check.Equal(t, "No bids", got.Embeds[0].Description)
}

func TestTelegramSender(t *testing.T) {
	var path string
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	err := NewTelegramSender(srv.URL, "tok", "-100").Send(context.Background(), "Lot <1>", "a & b")
	assert.NoError(t, err)
	check.Equal(t, "/bottok/sendMessage", path)
	check.Equal(t, "-100", got["chat_id"])
	check.Equal(t, "<b>Lot &lt;1&gt;</b>\na &amp; b", got["text"])
}

func TestSenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	check.True(t, err != nil)
	check.True(t, strings.Contains(err.Error(), "unexpected status 400"))
}
