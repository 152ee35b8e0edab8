package provider

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/waygazer/internal/geo"
	"github.com/langchou/waygazer/internal/models"
)

// 一次性请求时最新定位点的有效期
const oneShotMaxAge = 30 * time.Second

// IngestProvider 上报式定位提供者
// 设备通过 HTTP 或网关把原始定位点 Push 进来，订阅方按距离门限收到回调
type IngestProvider struct {
	logger *zap.Logger

	mu         sync.RWMutex
	latest     *models.Fix
	permission PermissionState
	subs       map[*ingestSubscription]bool
	permChans  []chan PermissionState
}

// NewIngestProvider 创建上报式提供者
func NewIngestProvider(logger *zap.Logger) *IngestProvider {
	return &IngestProvider{
		logger:     logger,
		permission: PermissionAlways,
		subs:       make(map[*ingestSubscription]bool),
	}
}

// Push 注入一个原始定位点
func (p *IngestProvider) Push(fix models.Fix) {
	p.mu.Lock()
	p.latest = &fix
	subs := make([]*ingestSubscription, 0, len(p.subs))
	for s := range p.subs {
		subs = append(subs, s)
	}
	p.mu.Unlock()

	for _, s := range subs {
		s.deliver(fix)
	}
}

// RequestFix 返回最近一次上报的定位点
func (p *IngestProvider) RequestFix(_ context.Context) (models.Fix, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.latest == nil {
		return models.Fix{}, ErrNoFix
	}
	if time.Since(p.latest.CapturedTime()) > oneShotMaxAge {
		return models.Fix{}, ErrNoFix
	}
	return *p.latest, nil
}

// Subscribe 订阅定位流
func (p *IngestProvider) Subscribe(opts SubscribeOptions, onFix func(models.Fix)) (Subscription, error) {
	sub := &ingestSubscription{
		provider:        p,
		onFix:           onFix,
		distanceFilterM: opts.DistanceFilterM,
		precision:       opts.Precision,
	}

	p.mu.Lock()
	p.subs[sub] = true
	p.mu.Unlock()

	p.logger.Debug("Location subscription added",
		zap.Float64("distance_filter_m", opts.DistanceFilterM),
		zap.String("precision", string(opts.Precision)))

	return sub, nil
}

// PermissionState 当前权限状态
func (p *IngestProvider) PermissionState() PermissionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.permission
}

// SetPermissionState 更新权限状态并通知监听者
// 发送保持在锁内，与 ClosePermissionChanges 的关闭互斥
func (p *IngestProvider) SetPermissionState(state PermissionState) {
	p.mu.Lock()
	changed := p.permission != state
	p.permission = state
	if changed {
		for _, ch := range p.permChans {
			select {
			case ch <- state:
			default:
				// 跳过慢消费者
			}
		}
	}
	p.mu.Unlock()

	if changed {
		p.logger.Info("Permission state changed", zap.String("state", string(state)))
	}
}

// PermissionChanges 权限变化通知流
func (p *IngestProvider) PermissionChanges() <-chan PermissionState {
	ch := make(chan PermissionState, 4)
	p.mu.Lock()
	p.permChans = append(p.permChans, ch)
	p.mu.Unlock()
	return ch
}

// ClosePermissionChanges 注销并关闭权限通知流，幂等
func (p *IngestProvider) ClosePermissionChanges(ch <-chan PermissionState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.permChans {
		if ch == c {
			p.permChans = append(p.permChans[:i], p.permChans[i+1:]...)
			close(c)
			return
		}
	}
}

// ingestSubscription 单个订阅：按距离门限过滤后回调
type ingestSubscription struct {
	provider *IngestProvider
	onFix    func(models.Fix)

	mu              sync.Mutex
	distanceFilterM float64
	precision       Precision
	lastDelivered   *models.Fix
	closed          bool
}

// deliver 应用原生距离门限后投递
func (s *ingestSubscription) deliver(fix models.Fix) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	if s.distanceFilterM > 0 && s.lastDelivered != nil {
		d := geo.DistanceMeters(fix.Latitude, fix.Longitude,
			s.lastDelivered.Latitude, s.lastDelivered.Longitude)
		if d < s.distanceFilterM {
			s.mu.Unlock()
			return
		}
	}

	s.lastDelivered = &fix
	onFix := s.onFix
	s.mu.Unlock()

	onFix(fix)
}

// UpdatePrecision 调整期望精度
// 上报式后端没有硬件精度档位，仅记录以便观测
func (s *ingestSubscription) UpdatePrecision(p Precision) {
	s.mu.Lock()
	s.precision = p
	s.mu.Unlock()
}

// Unsubscribe 取消订阅，幂等
func (s *ingestSubscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.provider.mu.Lock()
	delete(s.provider.subs, s)
	s.provider.mu.Unlock()
}
