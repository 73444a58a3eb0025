package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/maqzone/livebid/internal/api"
	"github.com/maqzone/livebid/internal/domain"
)

// AdminHandler exposes the operator surface: lifecycle transitions and
// enrollment decisions.
type AdminHandler struct {
	svc    AuctionAPI
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(svc AuctionAPI, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, logger: logHandler(logger, "admin")}
}

// SetStatus moves an auction to a new lifecycle state.
// PUT /api/admin/auctions/{id}/status
func (h *AdminHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid auction id")
		return
	}
	var req api.StatusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	to := domain.AuctionStatus(req.Status)
	if !to.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status "+req.Status)
		return
	}

	a, err := h.svc.SetStatus(r.Context(), id, to)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, api.StatusResponse{
		AuctionID: a.ID,
		Status:    string(a.Status),
		Version:   a.Version,
		EndTime:   a.EndTime,
	})
}

// Approve accepts a pending enrollment.
// PUT /api/admin/auctions/{id}/enrollments/{userId}/approve
func (h *AdminHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true)
}

// Reject declines a pending enrollment.
// PUT /api/admin/auctions/{id}/enrollments/{userId}/reject
func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false)
}

func (h *AdminHandler) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid auction id")
		return
	}
	user, ok := pathID(r, "userId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	e, err := h.svc.DecideEnrollment(r.Context(), id, user, approve)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not enrolled")
			return
		}
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, record(e))
}

// ListEnrollments returns every enrollment on an auction.
// GET /api/admin/auctions/{id}/enrollments
func (h *AdminHandler) ListEnrollments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid auction id")
		return
	}
	list, err := h.svc.ListEnrollments(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	out := make([]api.EnrollmentRecord, 0, len(list))
	for _, e := range list {
		out = append(out, record(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"enrollments": out, "count": len(out)})
}

func record(e domain.Enrollment) api.EnrollmentRecord {
	return api.EnrollmentRecord{
		UserID:    e.UserID,
		Status:    string(e.Status),
		CreatedAt: e.CreatedAt,
		DecidedAt: e.DecidedAt,
	}
}
