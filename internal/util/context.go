package util

import (
	"github.com/gin-gonic/gin"
	"github.com/hearth-social/backend/internal/models"
)

// Context keys set by the auth middleware
const (
	ContextUser    = "user"
	ContextUserID  = "user_id"
	ContextIsAdmin = "is_admin"
)

// GetUserFromContext extracts the authenticated user from the Gin context.
// If the user is not authenticated, it responds with 401 and returns false.
func GetUserFromContext(c *gin.Context) (*models.User, bool) {
	user, exists := c.Get(ContextUser)
	if !exists {
		RespondUnauthorized(c)
		return nil, false
	}
	userPtr, ok := user.(*models.User)
	if !ok {
		RespondUnauthorized(c, "invalid user data in context")
		return nil, false
	}
	return userPtr, true
}

// GetUserIDFromContext extracts the user ID from the Gin context.
// If the user is not authenticated, it responds with 401 and returns false.
func GetUserIDFromContext(c *gin.Context) (string, bool) {
	userID, exists := c.Get(ContextUserID)
	if !exists {
		RespondUnauthorized(c)
		return "", false
	}
	id, ok := userID.(string)
	if !ok || id == "" {
		RespondUnauthorized(c, "invalid user ID in context")
		return "", false
	}
	return id, true
}
