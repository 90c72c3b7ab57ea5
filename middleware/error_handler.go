package middleware

import (
	"github.com/FleetLedger/fleet-ledger-backend/errors"
	"github.com/FleetLedger/fleet-ledger-backend/logger"
	"github.com/gin-gonic/gin"
)

// ErrorResponse is the JSON error envelope. Type mirrors the AppError type
// so clients can branch on it without parsing messages.
type ErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// ErrorHandler converts errors attached to the gin context into the JSON
// error envelope. Unknown errors are logged and masked as a server error.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		log := logger.GetLogger()

		if appErr, ok := err.(*errors.AppError); ok {
			status := appErr.GetHTTPStatus()
			if status >= 500 {
				log.Errorw("Request failed",
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
					"type", appErr.Type,
					"error", appErr.Error(),
				)
			} else {
				log.Debugw("Request rejected",
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
					"type", appErr.Type,
					"status", status,
				)
			}
			c.JSON(status, ErrorResponse{
				Type:    string(appErr.Type),
				Message: appErr.Message,
				Error:   appErr.Detail,
			})
			return
		}

		log.Errorw("Unhandled error",
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"error", err,
		)
		masked := errors.InternalServerError("internal server error")
		c.JSON(masked.GetHTTPStatus(), ErrorResponse{
			Type:    string(masked.Type),
			Message: masked.Message,
		})
	}
}
