package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/waygazer/internal/api/handlers"
	"github.com/langchou/waygazer/internal/background"
	"github.com/langchou/waygazer/internal/config"
	"github.com/langchou/waygazer/internal/provider"
	"github.com/langchou/waygazer/internal/repository"
	"github.com/langchou/waygazer/internal/routegraph"
	"github.com/langchou/waygazer/internal/session"
	"github.com/langchou/waygazer/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting Waygazer", zap.String("port", cfg.ServerPort))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库
	db, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}
	defer db.Close()

	// 执行数据库迁移
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database migrated successfully")

	// 创建 Repository
	sessionRepo := repository.NewSessionRepository(db)
	alertRepo := repository.NewAlertRepository(db)

	// 路径图缓存：配置了 Redis 则用 Redis，否则用内存缓存
	var graphCache routegraph.Cache
	if cfg.RedisURL != "" {
		redisCache, err := routegraph.NewRedisCache(cfg.RedisURL, logger)
		if err != nil {
			logger.Fatal("Failed to connect redis", zap.Error(err))
		}
		defer redisCache.Close()
		graphCache = redisCache
		logger.Info("Using redis route graph cache")
	}

	// 创建路径图客户端
	graphClient := routegraph.NewClient(cfg.RouteAPIHost, cfg.RouteAPIKey, graphCache, logger)

	// 创建定位提供者
	prov := provider.NewIngestProvider(logger)

	// 设备网关（可选）：收到的定位点推进提供者
	var gateway *provider.GatewayClient
	if cfg.GatewayWSURL != "" {
		gateway = provider.NewGatewayClient(logger, cfg.GatewayWSURL)
		gateway.SetCallbacks(provider.GatewayCallbacks{
			OnFix:        prov.Push,
			OnPermission: prov.SetPermissionState,
			OnConnect: func() {
				logger.Info("Device gateway connected")
			},
			OnDisconnect: func(err error) {
				logger.Warn("Device gateway disconnected", zap.Error(err))
			},
		})
		go gateway.StartWithReconnect(ctx)
	}

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger)
	go wsHub.Run()

	// 后台执行扩展：默认用进程内模拟实现，置 none 则不做后台保活
	var ext background.Extension
	if cfg.BackgroundExtension != "none" {
		ext = background.NewSimulatedExtension(logger)
		logger.Info("Background execution extension enabled",
			zap.String("kind", cfg.BackgroundExtension))
	}

	// 创建追踪会话
	sess := session.New(logger, cfg, prov, graphClient, ext, sessionRepo, alertRepo)

	// 新 WebSocket 连接推送当前会话状态快照
	wsHub.SetInitDataProvider(func() interface{} {
		return sess.Status()
	})

	// 订阅会话事件并广播到 WebSocket
	go func() {
		events := sess.Subscribe()
		for ev := range events {
			switch ev.Kind {
			case session.EventAcceptedFix:
				wsHub.BroadcastMessage(ws.MsgTypeFix, ev)
			case session.EventSpeedLimitChanged, session.EventSpeedLimitCleared:
				wsHub.BroadcastMessage(ws.MsgTypeSpeedLimit, ev)
			case session.EventError:
				wsHub.BroadcastMessage(ws.MsgTypeError, ev)
			}
		}
	}()

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(
		logger,
		sess,
		prov,
		sessionRepo,
		alertRepo,
		wsHub,
	)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// 注册路由
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 停止追踪会话
	if _, err := sess.Stop(ctx); err != nil {
		logger.Error("Failed to stop tracking session", zap.Error(err))
	}

	// 停止网关连接
	if gateway != nil {
		gateway.Stop()
	}

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
