package server

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"auction-marketplace/internal/biddingerrors"
	model "auction-marketplace/internal/models"
	"auction-marketplace/internal/ratelimit"
	"auction-marketplace/services/bidding/helpers"
	"auction-marketplace/utils"

	"github.com/gin-gonic/gin"
)

// Authenticator turns a bearer token into a trusted principal
type Authenticator interface {
	Authenticate(token string) (model.Principal, error)
}

// RequestLoggerMiddleware logs incoming requests with timing
func RequestLoggerMiddleware(c *gin.Context) {
	start := time.Now()

	c.Next() // process request

	fields := map[string]any{
		"method":  c.Request.Method,
		"path":    c.Request.URL.Path,
		"status":  c.Writer.Status(),
		"latency": time.Since(start).String(),
	}
	if p, ok := helpers.PrincipalFrom(c); ok {
		fields["user_id"] = p.UserID
	}
	utils.Info("HTTP Request", fields)
}

// CORSMiddleware echoes allowed origins back and answers preflight requests.
// An empty list or "*" allows every origin.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && originAllowed(allowedOrigins, origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
			c.Header("Access-Control-Max-Age", "86400")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// AuthMiddleware verifies the bearer token and stores the principal for handlers
func AuthMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			utils.AbortWithError(c, http.StatusUnauthorized, helpers.KindUnauthenticated,
				biddingerrors.ErrUnauthenticated, "missing authentication token")
			return
		}

		principal, err := auth.Authenticate(token)
		if err != nil {
			utils.AbortWithError(c, http.StatusUnauthorized, helpers.KindUnauthenticated,
				err, "invalid authentication token")
			utils.Warn("AuthMiddleware: token rejected", map[string]any{
				"path":  c.Request.URL.Path,
				"error": err.Error(),
			})
			return
		}

		helpers.SetPrincipal(c, principal)
		c.Next()
	}
}

// extractToken reads Authorization: Bearer, then X-API-Key, then the token
// query parameter browsers use for WebSocket upgrades
func extractToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if key := c.GetHeader("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return strings.TrimSpace(c.Query("token"))
}

// RequireRole lets only principals holding role through; it must run after AuthMiddleware
func RequireRole(role model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := helpers.PrincipalFrom(c)
		if !ok {
			utils.AbortWithError(c, http.StatusUnauthorized, helpers.KindUnauthenticated,
				biddingerrors.ErrUnauthenticated, "authentication required")
			return
		}
		if principal.Role != role {
			utils.AbortWithError(c, http.StatusForbidden, helpers.KindForbidden,
				biddingerrors.ErrForbidden, "forbidden")
			utils.Warn("RequireRole: access denied", map[string]any{
				"path":     c.Request.URL.Path,
				"user_id":  principal.UserID,
				"role":     principal.Role,
				"required": role,
			})
			return
		}
		c.Next()
	}
}

// RateLimitMiddleware throttles requests per principal. Limiter failures fail
// open so an unavailable Redis never blocks bidding.
func RateLimitMiddleware(limiter ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := helpers.PrincipalFrom(c)
		if !ok {
			c.Next()
			return
		}

		decision, err := limiter.Allow(c.Request.Context(), principal.UserID)
		if err != nil {
			utils.Error("RateLimitMiddleware: limiter unavailable, allowing request", map[string]any{
				"user_id": principal.UserID,
				"error":   err.Error(),
			})
			c.Next()
			return
		}

		if !decision.Allowed {
			retry := int(math.Ceil(decision.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			utils.AbortWithError(c, http.StatusTooManyRequests, helpers.KindRateLimited,
				biddingerrors.ErrRateLimited, "too many bids, slow down")
			utils.Warn("RateLimitMiddleware: request throttled", map[string]any{
				"user_id": principal.UserID,
				"path":    c.Request.URL.Path,
			})
			return
		}
		c.Next()
	}
}
