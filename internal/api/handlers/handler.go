package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/langchou/waygazer/internal/provider"
	"github.com/langchou/waygazer/internal/repository"
	"github.com/langchou/waygazer/internal/session"
	"github.com/langchou/waygazer/pkg/ws"
)

// Handler HTTP 处理器
type Handler struct {
	logger      *zap.Logger
	session     *session.Session
	prov        *provider.IngestProvider
	sessionRepo *repository.SessionRepository
	alertRepo   *repository.AlertRepository
	wsHub       *ws.Hub
	upgrader    websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	sess *session.Session,
	prov *provider.IngestProvider,
	sessionRepo *repository.SessionRepository,
	alertRepo *repository.AlertRepository,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:      logger,
		session:     sess,
		prov:        prov,
		sessionRepo: sessionRepo,
		alertRepo:   alertRepo,
		wsHub:       wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// API 路由
	api := r.Group("/api")
	{
		// 追踪会话
		api.POST("/tracking/start", h.StartTracking)
		api.POST("/tracking/stop", h.StopTracking)
		api.GET("/tracking/status", h.TrackingStatus)

		// 宿主应用前后台切换
		api.POST("/tracking/background", h.AppBackground)
		api.POST("/tracking/foreground", h.AppForeground)

		// 定位上报与权限
		api.POST("/fixes", h.IngestFix)
		api.POST("/permission", h.SetPermission)

		// 历史
		api.GET("/sessions", h.ListSessions)
		api.GET("/sessions/:id", h.GetSession)
		api.GET("/sessions/:id/alerts", h.ListSessionAlerts)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查与指标
	r.GET("/health", h.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"session":    h.session.State(),
		"ws_clients": h.wsHub.ClientCount(),
	})
}
