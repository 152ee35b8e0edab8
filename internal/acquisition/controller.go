package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/waygazer/internal/models"
	"github.com/langchou/waygazer/internal/observability"
	"github.com/langchou/waygazer/internal/provider"
)

// 采集模式
const (
	ModeContinuous = "continuous"
	ModeForced     = "forced"
)

// Controller 采集模式控制器
// 原始定位点唯一的放行入口：连续模式做软件节流，强制模式按定时器主动拉取
// 模式在会话启动时确定，切换模式需要重启会话
type Controller struct {
	logger   *zap.Logger
	provider provider.Provider
	cfg      models.TrackingConfig

	onAccepted func(models.Fix)
	onError    func(err error)

	mu           sync.Mutex
	running      bool
	sub          provider.Subscription
	stopCh       chan struct{}
	wg           sync.WaitGroup
	lastAccepted time.Time
	accepted     int64
	dropped      int64

	now func() time.Time
}

// New 创建采集控制器
func New(
	logger *zap.Logger,
	prov provider.Provider,
	cfg models.TrackingConfig,
	onAccepted func(models.Fix),
	onError func(err error),
) *Controller {
	return &Controller{
		logger:     logger,
		provider:   prov,
		cfg:        cfg,
		onAccepted: onAccepted,
		onError:    onError,
		now:        time.Now,
	}
}

// Mode 当前采集模式
func (c *Controller) Mode() string {
	if c.cfg.ForcedMode {
		return ModeForced
	}
	return ModeContinuous
}

// Start 启动采集
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	if c.cfg.ForcedMode {
		// 强制模式：关闭原生距离门限，定时器每个周期主动拉取一个定位点
		// 静止或系统抑制距离回调时也能保证节奏
		c.wg.Add(1)
		go c.forcedLoop(ctx)
		c.logger.Info("Acquisition started",
			zap.String("mode", ModeForced),
			zap.Duration("interval", c.cfg.Interval))
		return nil
	}

	// 连续模式：带原生距离门限订阅，入口处再做时间节流
	sub, err := c.provider.Subscribe(provider.SubscribeOptions{
		DistanceFilterM: c.cfg.DistanceFilterM,
		Precision:       provider.PrecisionHigh,
	}, c.onProviderFix)
	if err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return fmt.Errorf("subscribe provider: %w", err)
	}

	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	c.logger.Info("Acquisition started",
		zap.String("mode", ModeContinuous),
		zap.Duration("interval", c.cfg.Interval),
		zap.Float64("distance_filter_m", c.cfg.DistanceFilterM))
	return nil
}

// Stop 停止采集
// 返回前保证不再有定位点流出（放行路径检查 running 标记）
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	sub := c.sub
	c.sub = nil
	if c.stopCh != nil {
		close(c.stopCh)
	}
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	c.wg.Wait()

	c.logger.Info("Acquisition stopped",
		zap.Int64("accepted", c.accepted),
		zap.Int64("dropped", c.dropped))
}

// SetBackground 前后台切换：后台降低期望精度以减少提供者开销
// 只影响连续模式的订阅，强制模式的定时器不受影响
func (c *Controller) SetBackground(background bool) {
	c.mu.Lock()
	sub := c.sub
	c.mu.Unlock()

	if sub == nil {
		return
	}

	if background {
		sub.UpdatePrecision(provider.PrecisionBalanced)
	} else {
		sub.UpdatePrecision(provider.PrecisionHigh)
	}
}

// Counts 已放行/已丢弃的定位点数
func (c *Controller) Counts() (accepted, dropped int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepted, c.dropped
}

// onProviderFix 连续模式的软件节流：间隔不足的点直接丢弃，不缓冲
func (c *Controller) onProviderFix(fix models.Fix) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}

	now := c.now()
	if !c.lastAccepted.IsZero() && now.Sub(c.lastAccepted) < c.cfg.Interval {
		c.dropped++
		c.mu.Unlock()
		observability.FixesDropped.Inc()
		return
	}

	c.lastAccepted = now
	c.accepted++
	c.mu.Unlock()

	observability.FixesAccepted.WithLabelValues(ModeContinuous).Inc()
	c.onAccepted(fix)
}

// forcedLoop 强制模式：每个周期拉取一个定位点，无条件放行
func (c *Controller) forcedLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx)
		}
	}
}

// pollOnce 单次拉取
func (c *Controller) pollOnce(ctx context.Context) {
	fix, err := c.provider.RequestFix(ctx)
	if err != nil {
		if errors.Is(err, provider.ErrNoFix) {
			// 本周期无定位点：上报但不终止，下个周期重试
			observability.ProviderErrors.Inc()
			if c.onError != nil {
				c.onError(err)
			}
			return
		}
		c.logger.Warn("One-shot fix request failed", zap.Error(err))
		return
	}

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.lastAccepted = c.now()
	c.accepted++
	c.mu.Unlock()

	observability.FixesAccepted.WithLabelValues(ModeForced).Inc()
	c.onAccepted(fix)
}
