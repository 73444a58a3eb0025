package domain

import "time"

// EnrollmentStatus is the per-(auction, user) participation state.
type EnrollmentStatus string

const (
	EnrollmentNone     EnrollmentStatus = "none"
	EnrollmentPending  EnrollmentStatus = "pending"
	EnrollmentApproved EnrollmentStatus = "approved"
	EnrollmentRejected EnrollmentStatus = "rejected"
)

// Enrollment records a user's request to bid on one auction.
type Enrollment struct {
	ID        int64
	AuctionID int64
	UserID    int64
	Status    EnrollmentStatus
	CreatedAt time.Time
	DecidedAt *time.Time
}

// AccountStatus is the global (not per-auction) approval state of a user.
type AccountStatus string

const (
	AccountPending  AccountStatus = "pending"
	AccountApproved AccountStatus = "approved"
	AccountRejected AccountStatus = "rejected"
)

// Account is the slice of the user record the bidding core reads.
type Account struct {
	ID                 int64
	Email              string
	Status             AccountStatus
	MustChangePassword bool
}

// CallToAction tells a bidder what to do about a failed eligibility check.
type CallToAction string

const (
	ActionNone              CallToAction = ""
	ActionRequestEnrollment CallToAction = "request_enrollment"
	ActionAwaitEnrollment   CallToAction = "await_enrollment"
	ActionChangePassword    CallToAction = "change_password"
	ActionContactSupport    CallToAction = "contact_support"
)

// Eligibility is the result of the enrollment gate check for one
// (auction, user) pair.
type Eligibility struct {
	Eligible   bool
	Enrollment EnrollmentStatus
	Reason     RejectReason
	Action     CallToAction
}
