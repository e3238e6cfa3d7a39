package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/hearth-social/backend/internal/util"
)

// RequireAdmin allows only tokens carrying the is_admin claim. It must run after RequireAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := util.GetUserIDFromContext(c); !ok {
			return
		}

		isAdmin, _ := c.Get(util.ContextIsAdmin)
		if admin, ok := isAdmin.(bool); !ok || !admin {
			util.RespondForbidden(c, "admin access required")
			return
		}
		c.Next()
	}
}
