package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/waygazer/internal/models"
	"github.com/langchou/waygazer/internal/provider"
	"github.com/langchou/waygazer/internal/session"
	"github.com/langchou/waygazer/pkg/ws"
)

// startRequest 启动追踪请求
type startRequest struct {
	BackgroundMode  bool    `json:"background_mode"`
	IntervalMs      int64   `json:"interval_ms"`
	ForcedMode      bool    `json:"forced_mode"`
	DistanceFilterM float64 `json:"distance_filter_m"`
}

// StartTracking 启动追踪会话
func (h *Handler) StartTracking(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	cfg := models.TrackingConfig{
		BackgroundMode:  req.BackgroundMode,
		Interval:        time.Duration(req.IntervalMs) * time.Millisecond,
		ForcedMode:      req.ForcedMode,
		DistanceFilterM: req.DistanceFilterM,
	}

	record, err := h.session.Start(c.Request.Context(), cfg)
	if err != nil {
		if errors.Is(err, session.ErrPermission) {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to start tracking", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start tracking"})
		return
	}

	h.wsHub.BroadcastMessage(ws.MsgTypeSession, record)
	c.JSON(http.StatusOK, gin.H{"data": record})
}

// StopTracking 停止追踪会话
func (h *Handler) StopTracking(c *gin.Context) {
	record, err := h.session.Stop(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to stop tracking", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to stop tracking"})
		return
	}

	h.wsHub.BroadcastMessage(ws.MsgTypeSession, record)
	c.JSON(http.StatusOK, gin.H{"data": record})
}

// TrackingStatus 当前会话状态
func (h *Handler) TrackingStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.session.Status()})
}

// AppBackground 宿主应用进入后台
func (h *Handler) AppBackground(c *gin.Context) {
	h.session.OnAppBackground()
	c.JSON(http.StatusOK, gin.H{"data": h.session.Status()})
}

// AppForeground 宿主应用回到前台
func (h *Handler) AppForeground(c *gin.Context) {
	h.session.OnAppForeground()
	c.JSON(http.StatusOK, gin.H{"data": h.session.Status()})
}

// IngestFix 接收一条定位上报
func (h *Handler) IngestFix(c *gin.Context) {
	var fix models.Fix
	if err := c.ShouldBindJSON(&fix); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid fix payload"})
		return
	}
	if fix.Latitude < -90 || fix.Latitude > 90 || fix.Longitude < -180 || fix.Longitude > 180 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Coordinates out of range"})
		return
	}
	if fix.CapturedAt == 0 {
		fix.CapturedAt = time.Now().UnixMilli()
	}

	h.prov.Push(fix)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// permissionRequest 权限上报请求
type permissionRequest struct {
	State string `json:"state" binding:"required"`
}

// SetPermission 更新定位权限状态
func (h *Handler) SetPermission(c *gin.Context) {
	var req permissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	state := provider.PermissionState(req.State)
	switch state {
	case provider.PermissionNotDetermined, provider.PermissionDenied,
		provider.PermissionWhenInUse, provider.PermissionAlways:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown permission state"})
		return
	}

	h.prov.SetPermissionState(state)
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"state": state}})
}
