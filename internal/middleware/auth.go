package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/hearth-social/backend/internal/auth"
	"github.com/hearth-social/backend/internal/logger"
	"github.com/hearth-social/backend/internal/util"
	"go.uber.org/zap"
)

// RequireAuth resolves the bearer token to a user and stores it on the context
// under util.ContextUser, util.ContextUserID and util.ContextIsAdmin.
func RequireAuth(authenticator auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, claims, err := authenticator.Authenticate(c.Request.Context(), auth.TokenFromRequest(c.Request))
		if err != nil {
			if errors.Is(err, auth.ErrNoToken) {
				util.RespondUnauthorized(c, "Authentication token required")
				return
			}
			logger.Log.Debug("Rejected token",
				logger.WithIP(c.ClientIP()),
				logger.WithRequestID(GetRequestID(c)),
				zap.Error(err))
			util.RespondUnauthorized(c, "Invalid or expired token")
			return
		}

		c.Set(util.ContextUser, user)
		c.Set(util.ContextUserID, user.ID)
		c.Set(util.ContextIsAdmin, claims.IsAdmin)
		c.Next()
	}
}
