package background

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/waygazer/internal/observability"
)

// 应用前后台状态
const (
	StateForeground = "foreground"
	StateBackground = "background"
)

// GrantID 后台执行授权句柄，0 表示无效
type GrantID int64

// Extension 宿主系统的后台执行扩展
// 引擎只消费 begin/renew/end 与延迟唤醒原语
type Extension interface {
	// BeginGrant 申请后台执行授权，拒绝时 ok=false
	BeginGrant() (id GrantID, ok bool)
	// EndGrant 结束授权；对不存在的授权是空操作
	EndGrant(id GrantID)
	// ScheduleDeferredWake 调度一次延迟唤醒（应用被完全挂起时的兜底）
	ScheduleDeferredWake(after time.Duration)
	// SupportsDeferredDelivery 平台是否支持延迟批量投递
	SupportsDeferredDelivery() bool
	// EnableDeferredDelivery 按距离/时间预算启用延迟批量投递以减少唤醒次数
	EnableDeferredDelivery(distanceM float64, interval time.Duration)
	// DisableDeferredDelivery 关闭延迟批量投递
	DisableDeferredDelivery()
}

// Manager 后台生命周期管理器
// 持有后台执行授权并在到期前主动续期；到期瞬间续期会与定位回调竞争，
// 所以续期时刻固定在授权窗口结束之前
type Manager struct {
	logger *zap.Logger
	ext    Extension

	window     time.Duration // 授权窗口（约 30s）
	renewAhead time.Duration // 提前量（窗口剩 5s 时续期，即 25s 处）

	deferDistanceM float64
	deferInterval  time.Duration

	onGrantDenied func()

	mu         sync.Mutex
	state      string
	grantID    GrantID
	hasGrant   bool
	renewTimer *time.Timer
}

// NewManager 创建后台生命周期管理器
// onGrantDenied 在平台拒绝授权时回调（降级继续，不终止会话）
func NewManager(
	logger *zap.Logger,
	ext Extension,
	window, renewAhead time.Duration,
	deferDistanceM float64,
	deferInterval time.Duration,
	onGrantDenied func(),
) *Manager {
	if window <= 0 {
		window = 30 * time.Second
	}
	if renewAhead <= 0 || renewAhead >= window {
		renewAhead = 5 * time.Second
	}
	return &Manager{
		logger:         logger,
		ext:            ext,
		window:         window,
		renewAhead:     renewAhead,
		deferDistanceM: deferDistanceM,
		deferInterval:  deferInterval,
		onGrantDenied:  onGrantDenied,
		state:          StateForeground,
	}
}

// State 当前前后台状态
func (m *Manager) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EnterBackground 应用转入后台（会话运行中时由会话调用）
func (m *Manager) EnterBackground() {
	m.mu.Lock()
	if m.state == StateBackground {
		m.mu.Unlock()
		return
	}
	m.state = StateBackground
	m.mu.Unlock()

	m.logger.Info("Entering background, acquiring execution grant")

	m.acquireGrant()

	// 延迟批量投递：减少后台唤醒次数
	if m.ext.SupportsDeferredDelivery() {
		m.ext.EnableDeferredDelivery(m.deferDistanceM, m.deferInterval)
	}

	// 应用被完全挂起时的兜底唤醒
	m.ext.ScheduleDeferredWake(m.window)
}

// EnterForeground 应用回到前台或会话停止时的清理，幂等
func (m *Manager) EnterForeground() {
	m.mu.Lock()
	m.state = StateForeground
	if m.renewTimer != nil {
		m.renewTimer.Stop()
		m.renewTimer = nil
	}
	hasGrant := m.hasGrant
	grantID := m.grantID
	m.hasGrant = false
	m.grantID = 0
	m.mu.Unlock()

	if m.ext.SupportsDeferredDelivery() {
		m.ext.DisableDeferredDelivery()
	}

	if hasGrant {
		m.ext.EndGrant(grantID)
		m.logger.Info("Background execution grant released")
	}
}

// Stop 会话停止时调用，与回到前台等价
func (m *Manager) Stop() {
	m.EnterForeground()
}

// acquireGrant 申请授权并调度下一次续期
func (m *Manager) acquireGrant() {
	id, ok := m.ext.BeginGrant()
	if !ok {
		// 被拒绝：记录并降级继续，可能被系统中断但不主动失败
		observability.GrantDenied.Inc()
		m.logger.Warn("Background execution grant denied, continuing best-effort")
		if m.onGrantDenied != nil {
			m.onGrantDenied()
		}
		return
	}

	m.mu.Lock()
	if m.state != StateBackground {
		// 申请期间已经回到前台
		m.mu.Unlock()
		m.ext.EndGrant(id)
		return
	}
	old := m.grantID
	hadGrant := m.hasGrant
	m.grantID = id
	m.hasGrant = true
	m.renewTimer = time.AfterFunc(m.window-m.renewAhead, m.renew)
	m.mu.Unlock()

	if hadGrant {
		m.ext.EndGrant(old)
	}

	m.logger.Debug("Background execution grant acquired",
		zap.Int64("grant_id", int64(id)),
		zap.Duration("renew_in", m.window-m.renewAhead))
}

// renew 到点续期：先申请新授权再释放旧授权
func (m *Manager) renew() {
	m.mu.Lock()
	if m.state != StateBackground {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	observability.GrantRenewals.Inc()
	m.acquireGrant()
}
