package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maqzone/livebid/internal/api"
	"github.com/maqzone/livebid/internal/auction"
	"github.com/maqzone/livebid/internal/domain"
	"github.com/maqzone/livebid/internal/enrollment"
	"github.com/maqzone/livebid/internal/ledger"
)

// Ledger is the subset of *ledger.Ledger the service drives.
type Ledger interface {
	GetState(ctx context.Context, auctionID int64) (domain.Snapshot, error)
	TryAcceptBid(ctx context.Context, auctionID, userID, amount int64, now time.Time) (ledger.Outcome, error)
	Transition(ctx context.Context, auctionID int64, to domain.AuctionStatus, now time.Time) (domain.Auction, error)
	History(ctx context.Context, auctionID int64, limit int) ([]domain.Bid, error)
}

// Gate is the subset of *enrollment.Gate the service drives.
type Gate interface {
	RequestEnrollment(ctx context.Context, auctionID, userID int64) (enrollment.Outcome, error)
	Status(ctx context.Context, auctionID, userID int64) (domain.EnrollmentStatus, error)
	CheckEligibility(ctx context.Context, auctionID, userID int64) (domain.Eligibility, error)
	Decide(ctx context.Context, auctionID, userID int64, approve bool) (domain.Enrollment, error)
	List(ctx context.Context, auctionID int64) ([]domain.Enrollment, error)
}

// AuctionService is the inbound surface of the bidding core: snapshot reads,
// bid submission, enrollment and the admin collaborator's operations.
type AuctionService struct {
	ledger Ledger
	gate   Gate
	now    func() time.Time
	logger *slog.Logger
}

// NewAuctionService creates an AuctionService.
func NewAuctionService(l Ledger, g Gate, logger *slog.Logger) *AuctionService {
	return &AuctionService{
		ledger: l,
		gate:   g,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// WithClock overrides the server clock used to timestamp bids.
func (s *AuctionService) WithClock(now func() time.Time) *AuctionService {
	s.now = now
	return s
}

// View returns the snapshot rendered for viewerID (zero for anonymous).
func (s *AuctionService) View(ctx context.Context, auctionID, viewerID int64) (api.AuctionView, error) {
	snap, err := s.ledger.GetState(ctx, auctionID)
	if err != nil {
		return api.AuctionView{}, fmt.Errorf("auction_service: view %d: %w", auctionID, err)
	}
	return RenderView(snap, viewerID, s.now()), nil
}

// RenderView applies blind-mode rules: the running price and absolute
// minimum are shown only on visible auctions, except that the current
// highest bidder always sees their own standing bid.
func RenderView(snap domain.Snapshot, viewerID int64, now time.Time) api.AuctionView {
	cfg := snap.Config.WithDefaults()
	highest := viewerID != 0 && viewerID == snap.HighestBidderID
	v := api.AuctionView{
		AuctionID:       snap.AuctionID,
		Status:          string(snap.Status),
		EndTime:         snap.EndTime,
		BidCount:        snap.BidCount,
		Version:         snap.Version,
		MinBidIncrement: auction.Increment(cfg),
		Hint:            auction.Hint(snap.CurrentBid, cfg),
		IsHighest:       highest,
		ReservePrice:    cfg.ReservePrice,
		BuyerPremiumPct: cfg.BuyerPremiumPct.String(),
		ExtendMinutes:   cfg.AutoExtendMinutes,
		WindowMinutes:   cfg.AutoExtendWindowMinutes,
		PriceVisible:    cfg.PriceVisible,
		SaleMode:        string(cfg.SaleMode),
		ServerTime:      now,
	}
	if cfg.PriceVisible || highest {
		current := snap.CurrentBid
		v.CurrentBid = &current
	}
	if cfg.PriceVisible {
		minimum := auction.MinimumBid(snap.CurrentBid, cfg)
		v.MinimumBid = &minimum
	}
	return v
}

// SubmitBid runs the advisory eligibility check and hands the bid to the
// ledger, which re-checks eligibility inside its critical section.
func (s *AuctionService) SubmitBid(ctx context.Context, auctionID, userID, amount int64) (ledger.Outcome, error) {
	snap, err := s.ledger.GetState(ctx, auctionID)
	if err != nil {
		return ledger.Outcome{}, fmt.Errorf("auction_service: submit bid %d: %w", auctionID, err)
	}
	if snap.Config.SaleMode == domain.SaleModeFixed {
		return ledger.Outcome{}, domain.ErrNotBiddable
	}

	elig, err := s.gate.CheckEligibility(ctx, auctionID, userID)
	if err != nil {
		return ledger.Outcome{}, fmt.Errorf("auction_service: eligibility: %w", err)
	}
	if !elig.Eligible {
		return ledger.Outcome{Reason: elig.Reason, Action: elig.Action}, nil
	}

	out, err := s.ledger.TryAcceptBid(ctx, auctionID, userID, amount, s.now())
	if err != nil {
		return ledger.Outcome{}, fmt.Errorf("auction_service: submit bid %d: %w", auctionID, err)
	}
	if !out.Accepted {
		s.logger.InfoContext(ctx, "auction_service: bid rejected",
			slog.Int64("auction_id", auctionID),
			slog.Int64("user_id", userID),
			slog.String("reason", string(out.Reason)),
		)
	}
	return out, nil
}

// History returns the bid history for display. On blind auctions only the
// viewer's own amounts are included.
func (s *AuctionService) History(ctx context.Context, auctionID, viewerID int64, limit int) ([]api.HistoryEntry, error) {
	snap, err := s.ledger.GetState(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("auction_service: history %d: %w", auctionID, err)
	}
	bids, err := s.ledger.History(ctx, auctionID, limit)
	if err != nil {
		return nil, fmt.Errorf("auction_service: history %d: %w", auctionID, err)
	}

	out := make([]api.HistoryEntry, 0, len(bids))
	for _, b := range bids {
		e := api.HistoryEntry{
			CreatedAt: b.CreatedAt,
			Own:       viewerID != 0 && b.UserID == viewerID,
		}
		if snap.Config.PriceVisible || e.Own {
			amount := b.Amount
			e.Amount = &amount
		}
		out = append(out, e)
	}
	return out, nil
}

// RequestEnrollment asks for userID to join auctionID.
func (s *AuctionService) RequestEnrollment(ctx context.Context, auctionID, userID int64) (enrollment.Outcome, error) {
	return s.gate.RequestEnrollment(ctx, auctionID, userID)
}

// EnrollmentStatus returns none|pending|approved|rejected.
func (s *AuctionService) EnrollmentStatus(ctx context.Context, auctionID, userID int64) (domain.EnrollmentStatus, error) {
	if _, err := s.ledger.GetState(ctx, auctionID); err != nil {
		return "", fmt.Errorf("auction_service: enrollment status %d: %w", auctionID, err)
	}
	return s.gate.Status(ctx, auctionID, userID)
}

// SetStatus applies an admin lifecycle transition.
func (s *AuctionService) SetStatus(ctx context.Context, auctionID int64, to domain.AuctionStatus) (domain.Auction, error) {
	if !to.Valid() {
		return domain.Auction{}, domain.ErrInvalidTransition
	}
	return s.ledger.Transition(ctx, auctionID, to, s.now())
}

// DecideEnrollment approves or rejects a pending enrollment.
func (s *AuctionService) DecideEnrollment(ctx context.Context, auctionID, userID int64, approve bool) (domain.Enrollment, error) {
	return s.gate.Decide(ctx, auctionID, userID, approve)
}

// ListEnrollments returns every enrollment for an auction.
func (s *AuctionService) ListEnrollments(ctx context.Context, auctionID int64) ([]domain.Enrollment, error) {
	return s.gate.List(ctx, auctionID)
}
