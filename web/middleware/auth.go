package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yeti47/replaybuffer/ccc/auth"
	"github.com/yeti47/replaybuffer/ccc/logging"
)

// TokenHeader is an alternative to the Authorization header for simple trigger clients
const TokenHeader = "X-Replay-Token"

// AuthMiddleware protects the trigger API with a shared token
type AuthMiddleware struct {
	logger   logging.Logger
	verifier auth.TokenVerifier
	tracker  auth.FailureTracker
	now      func() time.Time
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(logger logging.Logger, verifier auth.TokenVerifier, tracker auth.FailureTracker) *AuthMiddleware {
	if logger == nil {
		logger = logging.NopLogger
	}
	if tracker == nil {
		tracker = auth.NopFailureTracker
	}

	return &AuthMiddleware{
		logger:   logger,
		verifier: verifier,
		tracker:  tracker,
		now:      time.Now,
	}
}

// RequireToken middleware that requires the trigger token when one is configured
func (m *AuthMiddleware) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.verifier.Enabled() {
			// without a token any page open in the user's browser could reach the API
			if !SameOrigin(c.Request) {
				m.logger.Warn("Rejected cross-origin request", "origin", c.GetHeader("Origin"), "path", c.Request.URL.Path)
				c.JSON(http.StatusForbidden, gin.H{"error": "Cross-origin requests are not allowed"})
				c.Abort()
				return
			}
			c.Next()
			return
		}

		source := c.ClientIP()
		now := m.now()

		if m.tracker.IsLockedOut(source, now) {
			m.logger.Warn("Rejected request from locked out source", "source", source)
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many failed attempts, try again later"})
			c.Abort()
			return
		}

		token := extractToken(c)
		if token == "" {
			m.logger.Warn("Missing trigger token", "source", source)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing token"})
			c.Abort()
			return
		}

		if !m.verifier.Verify(token) {
			failures := m.tracker.RecordFailure(source, now)
			m.logger.Warn("Invalid trigger token", "source", source, "failures", failures)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		m.tracker.Reset(source)
		c.Next()
	}
}

// extractToken reads "Authorization: Bearer <token>" or the token header
func extractToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(c.GetHeader(TokenHeader))
}
