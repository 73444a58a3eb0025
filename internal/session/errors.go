package session

import (
	"errors"

	"github.com/maqzone/livebid/internal/domain"
)

var (
	ErrStale            = errors.New("auction has ended")
	ErrTooLow           = errors.New("bid too low")
	ErrNotEnrolled      = errors.New("not enrolled")
	ErrNotEligible      = errors.New("not eligible to bid")
	ErrNotAuthenticated = errors.New("sign in to bid")
	ErrPasswordChange   = errors.New("password change required")
	ErrSubmitInFlight   = errors.New("a bid is already being submitted")
)

// RejectedError carries a bid rejection with what the bidder can do next.
// errors.Is matches it against ErrStale, ErrTooLow, ErrNotEnrolled or
// ErrNotEligible by reason.
type RejectedError struct {
	Reason     domain.RejectReason
	MinimumBid *int64
	Hint       string
	Action     domain.CallToAction
	Message    string
	// Local is set when the bid never left the client.
	Local bool
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Unwrap().Error()
}

func (e *RejectedError) Unwrap() error {
	switch e.Reason {
	case domain.RejectStale:
		return ErrStale
	case domain.RejectTooLow:
		return ErrTooLow
	case domain.RejectNotEnrolled:
		return ErrNotEnrolled
	default:
		return ErrNotEligible
	}
}
