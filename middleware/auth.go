package middleware

import (
	"strings"

	apperrors "github.com/FleetLedger/fleet-ledger-backend/errors"
	"github.com/FleetLedger/fleet-ledger-backend/internal/auth"
	"github.com/FleetLedger/fleet-ledger-backend/logger"
	"github.com/gin-gonic/gin"
)

// Auth validates the Bearer token on every request and stores the resolved
// user id in the gin context. Websocket upgrade requests may carry the token
// in a query parameter instead, since browsers cannot set headers there.
func Auth(validator auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			_ = c.Error(apperrors.AuthenticationFailed("missing bearer token"))
			c.Abort()
			return
		}

		session, err := validator.Validate(c.Request.Context(), token)
		if err != nil {
			logger.GetLogger().Debugw("Token validation failed",
				"token", logger.MaskSensitiveString(token, 3, 3))
			_ = c.Error(err)
			c.Abort()
			return
		}

		c.Set(UserIDKey, session.UserID)
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}

// GetUserID returns the authenticated user id set by Auth.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
