package alert

import (
	"time"

	"github.com/langchou/waygazer/internal/models"
)

// Event 限速播报事件
type Event struct {
	Kind     string // models.SpeedLimitEventChanged / models.SpeedLimitEventCleared
	LimitKph int
	Segment  *models.Segment
}

// Announcer 限速播报状态机：{未播报, 已播报(limit)}
// 边沿触发：只在匹配路段变化时评估，限速值变化才发事件
// 逐点比较车速与限速会产生播报风暴，这里刻意不做
type Announcer struct {
	cooldown    time.Duration
	emitCleared bool

	announced bool
	lastLimit int
	lastEmit  time.Time

	now func() time.Time
}

// NewAnnouncer 创建播报状态机
// emitCleared 控制离开限速路段时是否发送清除事件
func NewAnnouncer(cooldown time.Duration, emitCleared bool) *Announcer {
	if cooldown <= 0 {
		cooldown = 5 * time.Second
	}
	return &Announcer{
		cooldown:    cooldown,
		emitCleared: emitCleared,
		now:         time.Now,
	}
}

// SetClock 替换时钟（测试用）
func (a *Announcer) SetClock(now func() time.Time) {
	a.now = now
}

// OnSegmentChanged 匹配路段发生变化时调用
// 返回需要发出的事件，无事件返回 nil
func (a *Announcer) OnSegmentChanged(seg *models.Segment) *Event {
	limit := seg.FirstLimitKph()

	// 新路段无限速区间：已播报过则转回未播报
	// 冷却按上一次发出的事件计时，清除事件同样受冷却约束并计入 lastEmit
	if limit <= 0 {
		if !a.announced {
			return nil
		}
		a.announced = false
		a.lastLimit = 0
		if !a.emitCleared {
			return nil
		}
		now := a.now()
		if !a.lastEmit.IsZero() && now.Sub(a.lastEmit) < a.cooldown {
			return nil
		}
		a.lastEmit = now
		return &Event{Kind: models.SpeedLimitEventCleared, Segment: seg}
	}

	// 限速值未变化，不播报
	if a.announced && limit == a.lastLimit {
		return nil
	}

	// 播报冷却：距上次发事件不足冷却间隔时抑制，状态保持不变
	now := a.now()
	if !a.lastEmit.IsZero() && now.Sub(a.lastEmit) < a.cooldown {
		return nil
	}

	a.announced = true
	a.lastLimit = limit
	a.lastEmit = now

	return &Event{Kind: models.SpeedLimitEventChanged, LimitKph: limit, Segment: seg}
}

// Reset 路径图替换时清空播报记忆
// 替换后首个带限速的路段必须重新播报，即使限速值与替换前相同
func (a *Announcer) Reset() {
	a.announced = false
	a.lastLimit = 0
}

// Announced 当前是否处于已播报状态（limit 为已播报的限速值）
func (a *Announcer) Announced() (limit int, ok bool) {
	return a.lastLimit, a.announced
}
