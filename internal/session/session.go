// Package session is the bidder-side half of the protocol: it keeps a live
// view of one auction reconciled against the server and submits bids.
//
// Every (re)connection dials the stream first and then fetches a snapshot;
// only frames newer than that snapshot are applied. A version gap means a
// frame was lost, so the session drops the stream and resyncs.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maqzone/livebid/internal/api"
	"github.com/maqzone/livebid/internal/auction"
	"github.com/maqzone/livebid/internal/domain"
)

const (
	defaultReconnectDelay = 3 * time.Second
	defaultMaxDelay       = 60 * time.Second
	defaultTick           = time.Second
)

var errResync = errors.New("session: resync required")

// Identity is the signed-in bidder. The zero value is an anonymous viewer.
type Identity struct {
	Token              string
	UserID             int64
	MustChangePassword bool
}

// Authenticated reports whether the identity can submit bids.
func (i Identity) Authenticated() bool {
	return i.Token != "" && i.UserID > 0
}

// State is the live-connection state.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// NoticeKind classifies transient messages for the bidder.
type NoticeKind string

const (
	NoticeExtended NoticeKind = "extended"
	NoticeOutbid   NoticeKind = "outbid"
	NoticeEnded    NoticeKind = "ended"
)

// Notice is a transient message; it never changes the view by itself.
type Notice struct {
	Kind    NoticeKind
	Message string
	At      time.Time
}

// Backoff is the reconnect policy. The zero value retries every 3s.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	Exponential bool
}

// Delay returns the wait before reconnect attempt n (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = defaultReconnectDelay
	}
	if !b.Exponential || attempt <= 1 {
		return base
	}
	limit := b.Max
	if limit <= 0 {
		limit = defaultMaxDelay
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return d
}

// View is what the bidder sees. Auction keeps the last known state even
// while disconnected.
type View struct {
	Auction api.AuctionView
	State   State
	Loaded  bool
}

// Degraded reports whether the live feed is down.
func (v View) Degraded() bool {
	return v.State != StateConnected
}

// Config configures a Session. Callbacks run on the session's goroutines
// and must not block.
type Config struct {
	AuctionID int64
	Identity  Identity
	Backoff   Backoff
	Tick      time.Duration
	Now       func() time.Time

	OnView   func(View)
	OnNotice func(Notice)
	OnTick   func(remaining time.Duration)
}

// Session follows one auction for one bidder.
type Session struct {
	cfg       Config
	transport Transport
	logger    *slog.Logger

	mu     sync.Mutex
	view   api.AuctionView
	loaded bool
	state  State

	submitting atomic.Bool
	resync     chan struct{}
}

// New creates a Session. Nothing happens until Run is called.
func New(t Transport, cfg Config, logger *slog.Logger) *Session {
	if cfg.Tick <= 0 {
		cfg.Tick = defaultTick
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Session{
		cfg:       cfg,
		transport: t,
		logger:    logger.With(slog.Int64("auction_id", cfg.AuctionID)),
		state:     StateDisconnected,
		resync:    make(chan struct{}, 1),
	}
}

// View returns the current view.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	return View{Auction: s.view, State: s.state, Loaded: s.loaded}
}

// Remaining is the countdown derived from the latest server end time.
func (s *Session) Remaining() time.Duration {
	s.mu.Lock()
	end, loaded := s.view.EndTime, s.loaded
	s.mu.Unlock()
	if !loaded {
		return 0
	}
	return max(0, end.Sub(s.cfg.Now()))
}

// Run connects and keeps reconnecting until ctx is cancelled. It never
// gives up on its own.
func (s *Session) Run(ctx context.Context) error {
	go s.countdown(ctx)

	attempt := 0
	for {
		connected, err := s.connect(ctx)
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return ctx.Err()
		}
		if connected {
			attempt = 0
		}
		if errors.Is(err, errResync) {
			s.logger.Info("session: resyncing")
			continue
		}

		s.setState(StateDisconnected)
		attempt++
		delay := s.cfg.Backoff.Delay(attempt)
		s.logger.Warn("session: connection lost",
			slog.String("error", err.Error()),
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setState(StateDisconnected)
			return ctx.Err()
		case <-timer.C:
		}
	}
}

type frame struct {
	msg api.StreamMessage
	err error
}

// connect runs one connection to completion. connected reports whether a
// baseline snapshot was loaded.
func (s *Session) connect(ctx context.Context) (connected bool, err error) {
	s.setState(StateConnecting)
	select {
	case <-s.resync:
	default:
	}

	stream, err := s.transport.Dial(ctx, s.cfg.Identity, s.cfg.AuctionID)
	if err != nil {
		return false, err
	}
	defer stream.Close()

	snap, err := s.transport.Snapshot(ctx, s.cfg.Identity, s.cfg.AuctionID)
	if err != nil {
		return false, err
	}
	s.adopt(snap)

	frames := make(chan frame)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			msg, err := stream.Next()
			select {
			case frames <- frame{msg: msg, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case <-s.resync:
			return true, errResync
		case f := <-frames:
			if f.err != nil {
				return true, f.err
			}
			if gap := s.apply(f.msg); gap {
				return true, errResync
			}
		}
	}
}

func (s *Session) adopt(snap api.AuctionView) {
	s.mu.Lock()
	s.view = snap
	s.loaded = true
	s.state = StateConnected
	v := s.viewLocked()
	s.mu.Unlock()

	s.logger.Info("session: connected",
		slog.Int64("version", snap.Version),
		slog.String("status", snap.Status),
	)
	s.emitView(v)
}

// apply folds one frame into the view. It reports true when the frame
// proves an earlier one was missed.
func (s *Session) apply(msg api.StreamMessage) bool {
	now := s.cfg.Now()
	var notices []Notice
	gap := false

	s.mu.Lock()
	cur := s.view.Version
	changed := false
	switch msg.Type {
	case api.TypeBid, api.TypeStatus:
		switch {
		case msg.Version <= cur:
		case msg.Version > cur+1:
			gap = true
		case msg.Type == api.TypeBid:
			notices = s.applyBidLocked(msg, now)
			changed = true
		default:
			notices = s.applyStatusLocked(msg, now)
			changed = true
		}
	case api.TypeOutbid:
		switch {
		case msg.Version > cur:
			gap = true
		case msg.Version == cur:
			notices = append(notices, Notice{Kind: NoticeOutbid, Message: "you have been outbid", At: now})
		}
	}
	v := s.viewLocked()
	s.mu.Unlock()

	if changed {
		s.emitView(v)
	}
	for _, n := range notices {
		s.emitNotice(n)
	}
	return gap
}

func (s *Session) applyBidLocked(msg api.StreamMessage, now time.Time) []Notice {
	var notices []Notice
	v := &s.view
	v.Version = msg.Version
	v.BidCount = msg.BidCount

	if !msg.EndTime.IsZero() && !msg.EndTime.Equal(v.EndTime) {
		v.EndTime = msg.EndTime
		notices = append(notices, Notice{
			Kind:    NoticeExtended,
			Message: "auction extended to " + msg.EndTime.Format(time.Kitchen),
			At:      now,
		})
	}

	switch {
	case msg.Amount != nil:
		amount := *msg.Amount
		v.CurrentBid = &amount
	case !v.PriceVisible:
		v.CurrentBid = nil
	}
	v.IsHighest = msg.Own

	cfg := domain.AuctionConfig{MinBidIncrement: v.MinBidIncrement, PriceVisible: v.PriceVisible}
	var current int64
	if v.CurrentBid != nil {
		current = *v.CurrentBid
	}
	if v.PriceVisible {
		minimum := auction.MinimumBid(current, cfg)
		v.MinimumBid = &minimum
	}
	v.Hint = auction.Hint(current, cfg)
	return notices
}

func (s *Session) applyStatusLocked(msg api.StreamMessage, now time.Time) []Notice {
	v := &s.view
	v.Version = msg.Version
	if !msg.EndTime.IsZero() {
		v.EndTime = msg.EndTime
	}
	prev := v.Status
	v.Status = msg.Status
	if ended(msg.Status) && !ended(prev) {
		return []Notice{{Kind: NoticeEnded, Message: "auction has ended", At: now}}
	}
	return nil
}

func ended(status string) bool {
	return status == string(domain.AuctionStatusClosed) || status == string(domain.AuctionStatusCancelled)
}

// Submit places a bid. Obviously invalid input is refused locally; every
// other verdict comes from the server. At most one submission is in flight.
func (s *Session) Submit(ctx context.Context, amount int64) (api.BidResponse, error) {
	id := s.cfg.Identity
	if !id.Authenticated() {
		return api.BidResponse{}, ErrNotAuthenticated
	}
	if id.MustChangePassword {
		return api.BidResponse{}, ErrPasswordChange
	}
	if amount <= 0 {
		return api.BidResponse{}, domain.ErrInvalidAmount
	}
	if !s.submitting.CompareAndSwap(false, true) {
		return api.BidResponse{}, ErrSubmitInFlight
	}
	defer s.submitting.Store(false)

	s.mu.Lock()
	v, loaded := s.view, s.loaded
	s.mu.Unlock()
	if loaded {
		if ended(v.Status) {
			return api.BidResponse{}, &RejectedError{Reason: domain.RejectStale, Message: "auction has ended", Local: true}
		}
		if v.MinimumBid != nil && amount < *v.MinimumBid {
			minimum := *v.MinimumBid
			return api.BidResponse{}, &RejectedError{
				Reason:     domain.RejectTooLow,
				MinimumBid: &minimum,
				Hint:       v.Hint,
				Message:    "bid must be at least " + auction.FormatMoney(minimum),
				Local:      true,
			}
		}
	}

	resp, err := s.transport.SubmitBid(ctx, id, s.cfg.AuctionID, amount)
	if err != nil {
		return api.BidResponse{}, fmt.Errorf("session: submit: %w", err)
	}
	if resp.Accepted {
		return resp, nil
	}

	rej := &RejectedError{
		Reason:     domain.RejectReason(resp.Reason),
		MinimumBid: resp.MinimumBid,
		Hint:       resp.Hint,
		Action:     domain.CallToAction(resp.Action),
		Message:    resp.Message,
	}
	if rej.Reason == domain.RejectStale {
		s.requestResync()
		s.emitNotice(Notice{Kind: NoticeEnded, Message: "auction has ended", At: s.cfg.Now()})
	}
	return resp, rej
}

func (s *Session) requestResync() {
	select {
	case s.resync <- struct{}{}:
	default:
	}
}

func (s *Session) countdown(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.cfg.OnTick != nil {
				s.cfg.OnTick(s.Remaining())
			}
		}
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	v := s.viewLocked()
	s.mu.Unlock()
	s.emitView(v)
}

func (s *Session) emitView(v View) {
	if s.cfg.OnView != nil {
		s.cfg.OnView(v)
	}
}

func (s *Session) emitNotice(n Notice) {
	if s.cfg.OnNotice != nil {
		s.cfg.OnNotice(n)
	}
}
