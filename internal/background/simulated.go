package background

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// SimulatedExtension 进程内模拟的后台执行扩展
// 服务端部署没有真实的平台授权原语，用它保持授权生命周期
// （申请、续期、释放、延迟投递）完整可观测；嵌入宿主应用时
// 替换为桥接平台原语的实现
type SimulatedExtension struct {
	logger *zap.Logger

	mu      sync.Mutex
	nextID  GrantID
	active  map[GrantID]bool
	deferOn bool
	wakes   int
}

// NewSimulatedExtension 创建模拟扩展
func NewSimulatedExtension(logger *zap.Logger) *SimulatedExtension {
	return &SimulatedExtension{
		logger: logger,
		active: make(map[GrantID]bool),
	}
}

// BeginGrant 申请授权，模拟平台总是放行
func (e *SimulatedExtension) BeginGrant() (GrantID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.active[id] = true

	e.logger.Debug("Simulated execution grant issued",
		zap.Int64("grant_id", int64(id)),
		zap.Int("active", len(e.active)))
	return id, true
}

// EndGrant 结束授权，不存在的授权是空操作
func (e *SimulatedExtension) EndGrant(id GrantID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, id)
}

// ScheduleDeferredWake 记录一次兜底唤醒调度
func (e *SimulatedExtension) ScheduleDeferredWake(after time.Duration) {
	e.mu.Lock()
	e.wakes++
	e.mu.Unlock()

	e.logger.Debug("Simulated deferred wake scheduled", zap.Duration("after", after))
}

// SupportsDeferredDelivery 模拟平台支持延迟批量投递
func (e *SimulatedExtension) SupportsDeferredDelivery() bool { return true }

// EnableDeferredDelivery 启用延迟批量投递
func (e *SimulatedExtension) EnableDeferredDelivery(distanceM float64, interval time.Duration) {
	e.mu.Lock()
	e.deferOn = true
	e.mu.Unlock()

	e.logger.Debug("Simulated deferred delivery enabled",
		zap.Float64("distance_m", distanceM),
		zap.Duration("interval", interval))
}

// DisableDeferredDelivery 关闭延迟批量投递
func (e *SimulatedExtension) DisableDeferredDelivery() {
	e.mu.Lock()
	e.deferOn = false
	e.mu.Unlock()
}

// ActiveGrants 当前持有的授权数
func (e *SimulatedExtension) ActiveGrants() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// DeferredDeliveryEnabled 延迟批量投递是否开启
func (e *SimulatedExtension) DeferredDeliveryEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deferOn
}
