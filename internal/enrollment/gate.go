// Package enrollment implements the per-(auction, user) enrollment state
// machine and the eligibility check that gates bidding.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maqzone/livebid/internal/domain"
)

// Outcome is the result of an enrollment request.
type Outcome struct {
	Status domain.EnrollmentStatus
	// Created is false when the request collapsed onto an existing record.
	Created bool
}

// Gate owns enrollment records and answers eligibility questions.
type Gate struct {
	enrollments domain.EnrollmentStore
	accounts    domain.AccountStore
	auctions    domain.AuctionStore
	audit       domain.AuditStore
	logger      *slog.Logger
}

// NewGate creates a Gate. audit may be nil.
func NewGate(
	enrollments domain.EnrollmentStore,
	accounts domain.AccountStore,
	auctions domain.AuctionStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Gate {
	return &Gate{
		enrollments: enrollments,
		accounts:    accounts,
		auctions:    auctions,
		audit:       audit,
		logger:      logger,
	}
}

// RequestEnrollment asks to join an auction. A repeated request returns the
// existing record unchanged; concurrent duplicates collapse in the store.
func (g *Gate) RequestEnrollment(ctx context.Context, auctionID, userID int64) (Outcome, error) {
	acct, err := g.accounts.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Outcome{}, domain.ErrAccountNotApproved
		}
		return Outcome{}, fmt.Errorf("enrollment: get account %d: %w", userID, err)
	}
	if acct.Status != domain.AccountApproved {
		return Outcome{}, domain.ErrAccountNotApproved
	}

	a, err := g.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("enrollment: get auction %d: %w", auctionID, err)
	}
	if !a.Biddable() || a.Status == domain.AuctionStatusClosed || a.Status == domain.AuctionStatusCancelled {
		return Outcome{}, domain.ErrNotBiddable
	}

	e, created, err := g.enrollments.Request(ctx, auctionID, userID)
	if err != nil {
		return Outcome{}, fmt.Errorf("enrollment: request %d/%d: %w", auctionID, userID, err)
	}

	if created {
		g.record(ctx, "enrollment_requested", map[string]any{
			"auction_id": auctionID,
			"user_id":    userID,
		})
		g.logger.InfoContext(ctx, "enrollment: requested",
			slog.Int64("auction_id", auctionID),
			slog.Int64("user_id", userID),
		)
	}
	return Outcome{Status: e.Status, Created: created}, nil
}

// Status returns the enrollment state, EnrollmentNone when no record exists.
func (g *Gate) Status(ctx context.Context, auctionID, userID int64) (domain.EnrollmentStatus, error) {
	e, err := g.enrollments.Get(ctx, auctionID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.EnrollmentNone, nil
		}
		return "", fmt.Errorf("enrollment: status %d/%d: %w", auctionID, userID, err)
	}
	return e.Status, nil
}

// CheckEligibility reports whether userID may bid on auctionID right now.
// Every call re-reads the stores.
func (g *Gate) CheckEligibility(ctx context.Context, auctionID, userID int64) (domain.Eligibility, error) {
	acct, err := g.accounts.GetByID(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return denied(domain.EnrollmentNone, domain.RejectNotEligible, domain.ActionContactSupport), nil
	case err != nil:
		return domain.Eligibility{}, fmt.Errorf("enrollment: get account %d: %w", userID, err)
	}

	status, err := g.Status(ctx, auctionID, userID)
	if err != nil {
		return domain.Eligibility{}, err
	}

	if acct.Status != domain.AccountApproved {
		return denied(status, domain.RejectNotEligible, domain.ActionContactSupport), nil
	}
	if acct.MustChangePassword {
		return denied(status, domain.RejectNotEligible, domain.ActionChangePassword), nil
	}

	switch status {
	case domain.EnrollmentApproved:
		return domain.Eligibility{Eligible: true, Enrollment: status}, nil
	case domain.EnrollmentPending:
		return denied(status, domain.RejectNotEnrolled, domain.ActionAwaitEnrollment), nil
	case domain.EnrollmentRejected:
		return denied(status, domain.RejectNotEnrolled, domain.ActionContactSupport), nil
	default:
		return denied(status, domain.RejectNotEnrolled, domain.ActionRequestEnrollment), nil
	}
}

func denied(status domain.EnrollmentStatus, reason domain.RejectReason, action domain.CallToAction) domain.Eligibility {
	return domain.Eligibility{Enrollment: status, Reason: reason, Action: action}
}

// Decide applies the admin decision on a pending enrollment.
func (g *Gate) Decide(ctx context.Context, auctionID, userID int64, approve bool) (domain.Enrollment, error) {
	to := domain.EnrollmentRejected
	if approve {
		to = domain.EnrollmentApproved
	}
	e, err := g.enrollments.Decide(ctx, auctionID, userID, to)
	if err != nil {
		return domain.Enrollment{}, fmt.Errorf("enrollment: decide %d/%d: %w", auctionID, userID, err)
	}

	g.record(ctx, "enrollment_decided", map[string]any{
		"auction_id": auctionID,
		"user_id":    userID,
		"status":     string(to),
	})
	g.logger.InfoContext(ctx, "enrollment: decided",
		slog.Int64("auction_id", auctionID),
		slog.Int64("user_id", userID),
		slog.String("status", string(to)),
	)
	return e, nil
}

// List returns every enrollment record for an auction.
func (g *Gate) List(ctx context.Context, auctionID int64) ([]domain.Enrollment, error) {
	out, err := g.enrollments.ListByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("enrollment: list %d: %w", auctionID, err)
	}
	return out, nil
}

func (g *Gate) record(ctx context.Context, event string, detail map[string]any) {
	if g.audit == nil {
		return
	}
	if err := g.audit.Log(ctx, event, detail); err != nil {
		g.logger.WarnContext(ctx, "enrollment: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
