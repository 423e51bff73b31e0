package helpers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"auction-marketplace/internal/biddingerrors"
	model "auction-marketplace/internal/models"
	"auction-marketplace/utils"

	"github.com/gin-gonic/gin"
)

// Error kinds returned to clients alongside the HTTP status
const (
	KindUnauthenticated    = "Unauthenticated"
	KindForbidden          = "Forbidden"
	KindAuctionNotFound    = "AuctionNotFound"
	KindAuctionNotActive   = "AuctionNotActive"
	KindBidTooLow          = "BidTooLow"
	KindAuctionCloseFailed = "AuctionCloseFailed"
	KindInvalidTransition  = "InvalidTransition"
	KindValidation         = "ValidationError"
	KindLockTimeout        = "LockTimeout"
	KindRateLimited        = "RateLimited"
	KindUserExists         = "UserExists"
	KindNotFound           = "NotFound"
	KindInternal           = "Internal"
)

// RetryAfterSeconds is advertised to clients that hit a busy auction
const RetryAfterSeconds = 1

const principalKey = "auction.principal"

// HandleBindError sends a standardized JSON error for binding failures
func HandleBindError(c *gin.Context, handlerName string, err error) {
	wrappedErr := fmt.Errorf("invalid request payload: %w", err)
	utils.JSONError(c, http.StatusBadRequest, KindValidation, wrappedErr, "invalid request payload")
	utils.Warn(handlerName+": binding error", map[string]any{"error": err.Error()})
}

// MapErrorToHTTP maps domain/service errors to HTTP status code, error kind and message
func MapErrorToHTTP(err error) (int, string, string) {
	switch {
	// a busy auction is always retryable, whatever operation was waiting on it
	case errors.Is(err, biddingerrors.ErrLockTimeout):
		return http.StatusServiceUnavailable, KindLockTimeout, "auction is busy, retry shortly"
	// close failures wrap their cause, so they are matched before it
	case errors.Is(err, biddingerrors.ErrAuctionCloseFailed):
		return http.StatusBadRequest, KindAuctionCloseFailed, "failed to close auction"
	case errors.Is(err, biddingerrors.ErrUnauthenticated):
		return http.StatusUnauthorized, KindUnauthenticated, "authentication required"
	case errors.Is(err, biddingerrors.ErrInvalidCredentials):
		return http.StatusUnauthorized, KindUnauthenticated, "invalid credentials"
	case errors.Is(err, biddingerrors.ErrForbidden):
		return http.StatusForbidden, KindForbidden, "forbidden"
	case errors.Is(err, biddingerrors.ErrAuctionNotFound):
		return http.StatusNotFound, KindAuctionNotFound, "auction not found"
	case errors.Is(err, biddingerrors.ErrAuctionNotActive):
		return http.StatusConflict, KindAuctionNotActive, "auction is not active"
	case errors.Is(err, biddingerrors.ErrBidTooLow):
		return http.StatusConflict, KindBidTooLow, "bid amount too low"
	case errors.Is(err, biddingerrors.ErrInvalidTransition):
		return http.StatusConflict, KindInvalidTransition, "invalid auction status transition"
	case errors.Is(err, biddingerrors.ErrValidation):
		return http.StatusBadRequest, KindValidation, "invalid request details"
	case errors.Is(err, biddingerrors.ErrRateLimited):
		return http.StatusTooManyRequests, KindRateLimited, "too many bids, slow down"
	case errors.Is(err, biddingerrors.ErrUserExists):
		return http.StatusConflict, KindUserExists, "user already exists"
	case errors.Is(err, biddingerrors.ErrUserNotFound):
		return http.StatusNotFound, KindNotFound, "user not found"
	case errors.Is(err, biddingerrors.ErrNoBids):
		return http.StatusOK, "", "no bids found for auction"
	case errors.Is(err, biddingerrors.ErrUserNoBids):
		return http.StatusOK, "", "no auctions found for user"
	default:
		return http.StatusInternalServerError, KindInternal, "internal server error"
	}
}

// RespondError writes the mapped error envelope and logs the failure.
// Server faults are logged at error level, client faults at warn level.
func RespondError(c *gin.Context, handlerName string, err error, fields map[string]any) {
	status, kind, message := MapErrorToHTTP(err)
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", strconv.Itoa(RetryAfterSeconds))
	}
	utils.JSONError(c, status, kind, fmt.Errorf("%s: %w", message, err), message)

	if fields == nil {
		fields = map[string]any{}
	}
	fields["handler"] = handlerName
	fields["kind"] = kind
	fields["error"] = err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		utils.Error(handlerName+": request failed", fields)
		return
	}
	utils.Warn(handlerName+": request rejected", fields)
}

// SetPrincipal stores the authenticated caller on the request context
func SetPrincipal(c *gin.Context, principal model.Principal) {
	c.Set(principalKey, principal)
}

// PrincipalFrom returns the authenticated caller, if the access gate stored one
func PrincipalFrom(c *gin.Context) (model.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return model.Principal{}, false
	}
	p, ok := v.(model.Principal)
	return p, ok
}

// LogSuccess is a small helper to standardize logging of successful operations
func LogSuccess(handlerName, message string, ctx map[string]any) {
	utils.Info(handlerName+": "+message, ctx)
}
