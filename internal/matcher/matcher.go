package matcher

import (
	"math"

	"github.com/langchou/waygazer/internal/geo"
	"github.com/langchou/waygazer/internal/models"
)

// Tuning 匹配算法调参
// 默认值来源于实测调优，不保证最优，按环境覆盖
type Tuning struct {
	BaseThresholdM float64 // 基础匹配距离阈值 (米)
	MaxThresholdM  float64 // 动态阈值上限 (米)
	ConfidenceMin  float64 // 切换路段所需的最低置信度
	StickyBonus    float64 // 保持当前路段的置信度加成
	MovingBonus    float64 // 运动中的置信度加成
	Window         int     // 前后评估的路段数
	IndexPenalty   float64 // 每偏离一个路段序号的置信度折减
}

// DefaultTuning 默认调参
func DefaultTuning() Tuning {
	return Tuning{
		BaseThresholdM: 50,
		MaxThresholdM:  150,
		ConfidenceMin:  0.7,
		StickyBonus:    1.2,
		MovingBonus:    1.1,
		Window:         3,
		IndexPenalty:   0.05,
	}
}

// 动态阈值与置信度计算中的固定常数
const (
	accuracyFloorM     = 10.0 // 精度低于此值不再放宽阈值
	accuracyFullConfM  = 20.0 // 精度优于此值置信度不打折
	speedFloorMps      = 10.0 // 速度高于此值开始放宽阈值
	speedWidenPerMps   = 0.10 // 每超出 1 m/s 阈值放宽 10%
	currentSegmentGain = 1.5  // 当前路段的阈值放宽倍数
	movingSpeedMps     = 1.0  // 视为运动中的最低速度
)

// Matcher 地图匹配器
// 无内部状态：上一次匹配结果由调用方持有并传入
type Matcher struct {
	tuning Tuning
}

// New 创建匹配器
func New(tuning Tuning) *Matcher {
	if tuning.Window <= 0 {
		tuning.Window = DefaultTuning().Window
	}
	return &Matcher{tuning: tuning}
}

// Match 将定位点匹配到路径图上的最佳路段
// graph 为 nil 或为空时返回未匹配结果（交由刷新策略处理，不是错误）
func (m *Matcher) Match(fix models.Fix, graph *models.RouteGraph, prev models.MatchResult) models.MatchResult {
	if graph == nil || len(graph.Segments) == 0 {
		return models.Unmatched()
	}

	prevIdx := -1
	if prev.Matched() && prev.SegmentIndex < len(graph.Segments) {
		prevIdx = prev.SegmentIndex
	}

	best := models.Unmatched()

	// 优先评估上一次匹配的路段：阈值放宽，减少路段序号抖动
	if prevIdx >= 0 {
		if cand, ok := m.evaluate(fix, graph, prevIdx, prevIdx); ok {
			best = cand
		}
	}

	// 评估上一路段前后的邻域窗口；无历史时评估全图
	lo, hi := 0, len(graph.Segments)-1
	if prevIdx >= 0 {
		lo = prevIdx - m.tuning.Window
		hi = prevIdx + m.tuning.Window
		if lo < 0 {
			lo = 0
		}
		if hi > len(graph.Segments)-1 {
			hi = len(graph.Segments) - 1
		}
	}

	for i := lo; i <= hi; i++ {
		if i == prevIdx {
			continue
		}
		cand, ok := m.evaluate(fix, graph, i, prevIdx)
		if !ok {
			continue
		}
		if cand.Confidence > best.Confidence {
			best = cand
		}
	}

	if !best.Matched() {
		return best
	}

	// 切换迟滞：置信度不足时保持上一次结果，避免噪声抖动引起告警翻转
	if prevIdx >= 0 && best.SegmentIndex != prevIdx && best.Confidence <= m.tuning.ConfidenceMin {
		return prev
	}

	return best
}

// evaluate 评估单个候选路段，超出动态阈值时返回 ok=false
func (m *Matcher) evaluate(fix models.Fix, graph *models.RouteGraph, idx, prevIdx int) (models.MatchResult, bool) {
	seg := &graph.Segments[idx]
	isCurrent := idx == prevIdx

	snapLat, snapLon, progress := geo.SnapToSegment(
		fix.Latitude, fix.Longitude,
		seg.StartLat, seg.StartLon, seg.EndLat, seg.EndLon,
	)
	dist := geo.DistanceMeters(fix.Latitude, fix.Longitude, snapLat, snapLon)

	if dist > m.dynamicThreshold(fix, isCurrent) {
		return models.Unmatched(), false
	}

	conf := m.confidence(fix, dist, isCurrent)

	// 序号距离惩罚：空间等距时优先选择拓扑上相邻的路段
	if prevIdx >= 0 && !isCurrent {
		indexDist := float64(abs(idx - prevIdx))
		conf *= math.Max(0, 1-m.tuning.IndexPenalty*indexDist)
	}

	return models.MatchResult{
		SegmentIndex:      idx,
		SnappedLat:        snapLat,
		SnappedLon:        snapLon,
		DistanceToRouteM:  dist,
		ProgressOnSegment: progress,
		Confidence:        conf,
	}, true
}

// dynamicThreshold 计算动态匹配阈值
func (m *Matcher) dynamicThreshold(fix models.Fix, isCurrent bool) float64 {
	threshold := m.tuning.BaseThresholdM

	// GPS 精度差时放宽：超出 10 米的部分按一半计入
	if fix.AccuracyM > accuracyFloorM {
		threshold += (fix.AccuracyM - accuracyFloorM) / 2
	}

	// 当前路段阈值放宽 1.5 倍
	if isCurrent {
		threshold *= currentSegmentGain
	}

	// 高速时放宽：每超出 10 m/s 的 1 m/s 放宽 10%
	if fix.SpeedMps > speedFloorMps {
		threshold *= 1 + speedWidenPerMps*(fix.SpeedMps-speedFloorMps)
	}

	if threshold > m.tuning.MaxThresholdM {
		threshold = m.tuning.MaxThresholdM
	}
	return threshold
}

// confidence 各因子乘积，结果钳制到 [0,1]
func (m *Matcher) confidence(fix models.Fix, dist float64, isCurrent bool) float64 {
	// 距离因子：在 2 倍基础阈值处线性衰减到 0
	distFactor := 1 - dist/(2*m.tuning.BaseThresholdM)
	if distFactor < 0 {
		distFactor = 0
	}

	// 精度因子：20 米以内不打折
	accFactor := 1.0
	if fix.AccuracyM > accuracyFullConfM {
		accFactor = accuracyFullConfM / fix.AccuracyM
	}

	conf := distFactor * accFactor

	if isCurrent {
		conf *= m.tuning.StickyBonus
	}
	if fix.SpeedMps > movingSpeedMps && fix.HasCourse() {
		conf *= m.tuning.MovingBonus
	}

	if conf > 1 {
		conf = 1
	}
	return conf
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
