package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/hearth-social/backend/internal/errors"
	"github.com/hearth-social/backend/internal/logger"
	"github.com/hearth-social/backend/internal/purge"
	"github.com/hearth-social/backend/internal/util"
	"go.uber.org/zap"
)

// RunPurge runs one purge pass now and reports what it removed
// POST /api/v1/admin/purge/:task (messages, stories or all)
func (h *Handlers) RunPurge(c *gin.Context) {
	if h.purge == nil {
		util.RespondWithAPIError(c, apperrors.ServiceUnavailable("purge scheduler"))
		return
	}

	task := c.Param("task")
	results, err := h.purge.Run(c.Request.Context(), task)
	if errors.Is(err, purge.ErrUnknownTask) {
		util.RespondValidationError(c, "task", "must be one of messages, stories, all")
		return
	}
	if err != nil {
		util.RespondError(c, err, "purge")
		return
	}

	userID, _ := c.Get(util.ContextUserID)
	logger.Log.Info("Manual purge triggered",
		zap.Any("admin_id", userID),
		zap.String("task", task))

	c.JSON(http.StatusOK, gin.H{"results": results})
}
