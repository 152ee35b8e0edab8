package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ListSessions 会话历史列表
func (h *Handler) ListSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	sessions, err := h.sessionRepo.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list sessions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sessions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sessions})
}

// GetSession 会话详情
func (h *Handler) GetSession(c *gin.Context) {
	id := c.Param("id")

	s, err := h.sessionRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s})
}

// ListSessionAlerts 会话的限速事件列表
func (h *Handler) ListSessionAlerts(c *gin.Context) {
	id := c.Param("id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))

	events, err := h.alertRepo.ListBySession(c.Request.Context(), id, limit)
	if err != nil {
		h.logger.Error("Failed to list speed limit events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list speed limit events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": events})
}
