package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/maqzone/livebid/internal/api"
	"github.com/maqzone/livebid/internal/auction"
	"github.com/maqzone/livebid/internal/domain"
	"github.com/maqzone/livebid/internal/enrollment"
	"github.com/maqzone/livebid/internal/ledger"
)

// AuctionAPI is the service surface the handlers drive.
type AuctionAPI interface {
	View(ctx context.Context, auctionID, viewerID int64) (api.AuctionView, error)
	SubmitBid(ctx context.Context, auctionID, userID, amount int64) (ledger.Outcome, error)
	History(ctx context.Context, auctionID, viewerID int64, limit int) ([]api.HistoryEntry, error)
	RequestEnrollment(ctx context.Context, auctionID, userID int64) (enrollment.Outcome, error)
	EnrollmentStatus(ctx context.Context, auctionID, userID int64) (domain.EnrollmentStatus, error)
	SetStatus(ctx context.Context, auctionID int64, to domain.AuctionStatus) (domain.Auction, error)
	DecideEnrollment(ctx context.Context, auctionID, userID int64, approve bool) (domain.Enrollment, error)
	ListEnrollments(ctx context.Context, auctionID int64) ([]domain.Enrollment, error)
}

// AuctionHandler serves auction snapshots, bid history and bid submission.
type AuctionHandler struct {
	svc    AuctionAPI
	logger *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(svc AuctionAPI, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{svc: svc, logger: logHandler(logger, "auctions")}
}

// GetAuction returns the snapshot rendered for the caller.
// GET /api/auctions/{id}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid auction id")
		return
	}
	view, err := h.svc.View(r.Context(), id, viewerID(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListBids returns the bid history, newest first.
// GET /api/auctions/{id}/bids?limit=
func (h *AuctionHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid auction id")
		return
	}
	history, err := h.svc.History(r.Context(), id, viewerID(r), parseLimit(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bids": history, "count": len(history)})
}

// PlaceBid submits a bid for the authenticated user.
// POST /api/auctions/{id}/bids
func (h *AuctionHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid auction id")
		return
	}
	user := viewerID(r)
	if user == 0 {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req api.BidRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, domain.ErrInvalidAmount.Error())
		return
	}

	out, err := h.svc.SubmitBid(r.Context(), id, user, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	status, resp := bidResponse(out)
	writeJSON(w, status, resp)
}

// bidResponse maps a ledger outcome to a status code and body. The absolute
// minimum is withheld on blind auctions.
func bidResponse(out ledger.Outcome) (int, api.BidResponse) {
	if out.Accepted {
		return http.StatusCreated, api.BidResponse{
			Accepted: true,
			BidID:    out.Bid.ID,
			Amount:   out.Bid.Amount,
			EndTime:  out.NewEndTime,
			Extended: out.Extended,
			BidCount: out.BidCount,
			Version:  out.Version,
		}
	}

	resp := api.BidResponse{
		Reason: string(out.Reason),
		Hint:   out.Hint,
		Action: string(out.Action),
	}
	switch out.Reason {
	case domain.RejectStale:
		resp.Message = "this auction has ended"
		return http.StatusConflict, resp
	case domain.RejectTooLow:
		if out.PriceVisible {
			minimum := out.MinimumBid
			resp.MinimumBid = &minimum
			resp.Message = "bid must be at least " + auction.FormatMoney(minimum)
		} else {
			resp.Message = out.Hint
		}
		return http.StatusUnprocessableEntity, resp
	case domain.RejectNotEnrolled:
		resp.Message = "not enrolled in this auction"
		return http.StatusForbidden, resp
	default:
		resp.Message = "your account cannot bid right now"
		return http.StatusForbidden, resp
	}
}
