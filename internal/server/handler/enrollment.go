package handler

import (
	"log/slog"
	"net/http"

	"github.com/maqzone/livebid/internal/api"
)

// EnrollmentHandler lets bidders request and inspect their enrollment.
type EnrollmentHandler struct {
	svc    AuctionAPI
	logger *slog.Logger
}

// NewEnrollmentHandler creates an EnrollmentHandler.
func NewEnrollmentHandler(svc AuctionAPI, logger *slog.Logger) *EnrollmentHandler {
	return &EnrollmentHandler{svc: svc, logger: logHandler(logger, "enrollment")}
}

// Request enrolls the caller. Repeated requests return the existing record.
// POST /api/auctions/{id}/enroll
func (h *EnrollmentHandler) Request(w http.ResponseWriter, r *http.Request) {
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

	out, err := h.svc.RequestEnrollment(r.Context(), id, user)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	code := http.StatusOK
	if out.Created {
		code = http.StatusCreated
	}
	writeJSON(w, code, api.EnrollmentResponse{
		AuctionID: id,
		Status:    string(out.Status),
		Created:   out.Created,
	})
}

// Status returns the caller's enrollment state, "none" when absent.
// GET /api/auctions/{id}/enroll
func (h *EnrollmentHandler) Status(w http.ResponseWriter, r *http.Request) {
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

	status, err := h.svc.EnrollmentStatus(r.Context(), id, user)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, api.EnrollmentResponse{AuctionID: id, Status: string(status)})
}
