package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/waygazer/internal/models"
)

// GatewayMessage 设备网关推送的消息
type GatewayMessage struct {
	MsgType string      `json:"msg_type"` // fix / permission / error
	Fix     *models.Fix `json:"fix,omitempty"`
	State   string      `json:"state,omitempty"` // permission 消息携带的权限状态
	Error   string      `json:"error,omitempty"`
}

// GatewayCallbacks 网关事件回调
type GatewayCallbacks struct {
	OnFix        func(fix models.Fix)
	OnPermission func(state PermissionState)
	OnConnect    func()
	OnDisconnect func(err error)
}

// GatewayClient 设备网关 WebSocket 客户端
// 作为 IngestProvider 的上游数据源：收到的定位点经回调 Push 进提供者
type GatewayClient struct {
	logger    *zap.Logger
	url       string
	callbacks GatewayCallbacks

	mu          sync.RWMutex
	conn        *websocket.Conn
	connected   bool
	stopCh      chan struct{}
	reconnectCh chan struct{}

	// 重连配置
	reconnectDelay    time.Duration
	maxReconnectDelay time.Duration
	currentDelay      time.Duration
}

// NewGatewayClient 创建网关客户端
func NewGatewayClient(logger *zap.Logger, url string) *GatewayClient {
	return &GatewayClient{
		logger:            logger,
		url:               url,
		stopCh:            make(chan struct{}),
		reconnectCh:       make(chan struct{}, 1),
		reconnectDelay:    1 * time.Second,
		maxReconnectDelay: 30 * time.Second,
		currentDelay:      1 * time.Second,
	}
}

// SetCallbacks 设置回调函数
func (c *GatewayClient) SetCallbacks(callbacks GatewayCallbacks) {
	c.callbacks = callbacks
}

// Connect 连接到网关
func (c *GatewayClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.currentDelay = c.reconnectDelay // 重置重连延迟
	c.mu.Unlock()

	c.logger.Info("Gateway connected", zap.String("url", c.url))

	if c.callbacks.OnConnect != nil {
		c.callbacks.OnConnect()
	}

	go c.readLoop()

	return nil
}

// Close 关闭连接
func (c *GatewayClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}

	c.connected = false

	select {
	case <-c.stopCh:
		// 已经关闭
	default:
		close(c.stopCh)
	}

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected 检查连接状态
func (c *GatewayClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// readLoop 消息读取循环
func (c *GatewayClient) readLoop() {
	defer func() {
		c.mu.Lock()
		wasConnected := c.connected
		c.connected = false
		c.mu.Unlock()

		if wasConnected {
			if c.callbacks.OnDisconnect != nil {
				c.callbacks.OnDisconnect(nil)
			}
			c.triggerReconnect()
		}
	}()

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Debug("Gateway connection closed normally")
			} else {
				c.logger.Warn("Gateway read error", zap.Error(err))
			}
			return
		}

		var msg GatewayMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Warn("Failed to parse gateway message",
				zap.String("message", string(message)),
				zap.Error(err))
			continue
		}

		c.handleMessage(&msg)
	}
}

// handleMessage 处理消息
func (c *GatewayClient) handleMessage(msg *GatewayMessage) {
	switch msg.MsgType {
	case "fix":
		if msg.Fix == nil {
			return
		}
		c.logger.Debug("Gateway fix received",
			zap.Float64("lat", msg.Fix.Latitude),
			zap.Float64("lon", msg.Fix.Longitude),
			zap.Float64("accuracy_m", msg.Fix.AccuracyM))
		if c.callbacks.OnFix != nil {
			c.callbacks.OnFix(*msg.Fix)
		}

	case "permission":
		if c.callbacks.OnPermission != nil {
			c.callbacks.OnPermission(PermissionState(msg.State))
		}

	case "error":
		c.logger.Warn("Gateway error message", zap.String("error", msg.Error))

	default:
		c.logger.Debug("Unknown gateway message type", zap.String("msg_type", msg.MsgType))
	}
}

// triggerReconnect 触发重连
func (c *GatewayClient) triggerReconnect() {
	select {
	case c.reconnectCh <- struct{}{}:
	default:
		// 已有重连请求排队
	}
}

// StartWithReconnect 启动并自动重连（指数退避）
func (c *GatewayClient) StartWithReconnect(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				c.Close()
				return
			case <-c.stopCh:
				return
			default:
			}

			if err := c.Connect(ctx); err != nil {
				c.logger.Warn("Gateway connect failed, will retry",
					zap.Duration("delay", c.currentDelay),
					zap.Error(err))

				select {
				case <-ctx.Done():
					return
				case <-c.stopCh:
					return
				case <-time.After(c.currentDelay):
				}

				// 指数退避
				c.currentDelay *= 2
				if c.currentDelay > c.maxReconnectDelay {
					c.currentDelay = c.maxReconnectDelay
				}
				continue
			}

			select {
			case <-ctx.Done():
				c.Close()
				return
			case <-c.stopCh:
				return
			case <-c.reconnectCh:
				c.logger.Info("Reconnecting gateway")
				c.Close()
				c.mu.Lock()
				c.stopCh = make(chan struct{})
				c.mu.Unlock()
			}
		}
	}()
}

// Stop 停止客户端（包括重连循环）
func (c *GatewayClient) Stop() {
	c.Close()
}
