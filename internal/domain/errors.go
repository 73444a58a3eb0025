package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrWSDisconnect       = errors.New("websocket disconnected")
	ErrLockHeld           = errors.New("lock already held")
	ErrConflict           = errors.New("concurrent modification")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrNotDue             = errors.New("auction end time has not passed")
	ErrNotBiddable        = errors.New("auction is not open to bidding")
	ErrAccountNotApproved = errors.New("account not approved")
	ErrInvalidAmount      = errors.New("bid amount must be positive")
)
