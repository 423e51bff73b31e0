package biddingerrors

import "errors"

// Access gate errors
var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Repository-level errors
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrNoBids          = errors.New("no bids found for auction")
	ErrUserNoBids      = errors.New("user has not placed any bids")
	ErrUserNotFound    = errors.New("user not found")
	ErrUserExists      = errors.New("user already exists")

	// ErrLockTimeout is transient: the caller may retry the whole operation.
	ErrLockTimeout = errors.New("timed out waiting for auction lock")
)

// business logic errors
var (
	ErrValidation         = errors.New("validation error")
	ErrAuctionNotActive   = errors.New("auction is not active")
	ErrBidTooLow          = errors.New("bid must be higher than the current price")
	ErrAuctionCloseFailed = errors.New("failed to close auction")
	ErrInvalidTransition  = errors.New("invalid auction status transition")
	ErrRateLimited        = errors.New("rate limit exceeded")
)
