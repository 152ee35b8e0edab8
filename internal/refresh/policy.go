package refresh

import (
	"github.com/langchou/waygazer/internal/geo"
	"github.com/langchou/waygazer/internal/models"
)

// Policy 路径图刷新策略
// 只做判定，不发起请求；请求的并发控制（单请求在途）由会话持有 InFlight 标记保证
type Policy struct {
	distanceM float64
}

// New 创建刷新策略
func New(distanceM float64) *Policy {
	if distanceM <= 0 {
		distanceM = 1000
	}
	return &Policy{distanceM: distanceM}
}

// Input 刷新判定所需的会话状态快照
type Input struct {
	GraphPresent   bool               // 是否已有路径图
	LastMatch      models.MatchResult // 最近一次匹配结果
	LastRequestFix *models.Fix        // 上一次发起请求时的定位点
	InFlight       bool               // 是否已有请求在途
}

// ShouldRefresh 判断是否需要请求新路径图，规则按顺序首条命中生效：
//  1. 已有请求在途 → 不刷新
//  2. 从未加载过路径图 → 刷新
//  3. 最近一次匹配脱离路径 → 刷新
//  4. 距上次请求点超过阈值 → 刷新
func (p *Policy) ShouldRefresh(fix models.Fix, in Input) bool {
	if in.InFlight {
		return false
	}
	if !in.GraphPresent {
		return true
	}
	if !in.LastMatch.Matched() {
		return true
	}
	if in.LastRequestFix == nil {
		return true
	}
	d := geo.DistanceMeters(fix.Latitude, fix.Longitude, in.LastRequestFix.Latitude, in.LastRequestFix.Longitude)
	return d > p.distanceM
}
