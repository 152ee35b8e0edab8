package models

import (
	"time"
)

// Fix 单次定位读数（由定位提供者产生，不可变）
type Fix struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	AltitudeM  float64 `json:"altitude_m"`  // 海拔 (米)
	AccuracyM  float64 `json:"accuracy_m"`  // 水平精度 (米)
	SpeedMps   float64 `json:"speed_mps"`   // 速度 (米/秒)，负值表示无效
	CourseDeg  float64 `json:"course_deg"`  // 航向角，负值表示无效
	CapturedAt int64   `json:"captured_at"` // 采集时间 (毫秒时间戳)
}

// CapturedTime 采集时间
func (f Fix) CapturedTime() time.Time {
	return time.UnixMilli(f.CapturedAt)
}

// HasCourse 航向是否有效
func (f Fix) HasCourse() bool {
	return f.CourseDeg >= 0
}

// SpeedLimitBand 路段限速区间
type SpeedLimitBand struct {
	FromOffsetM float64 `json:"from_offset_m"` // 起始偏移 (米)
	ToOffsetM   float64 `json:"to_offset_m"`   // 结束偏移 (米)
	LimitKph    int     `json:"limit_kph"`     // 限速 (km/h)，0 表示无限速
}

// Segment 路径图中的一条有向路段
type Segment struct {
	ID          string           `json:"id"`
	Direction   string           `json:"direction"` // 方向编码
	StartLat    float64          `json:"start_lat"`
	StartLon    float64          `json:"start_lon"`
	EndLat      float64          `json:"end_lat"`
	EndLon      float64          `json:"end_lon"`
	LengthM     float64          `json:"length_m"`
	SpeedLimits []SpeedLimitBand `json:"speed_limits"` // 按偏移排序
}

// FirstLimitKph 第一个限速区间的限速值，无区间返回 0
func (s *Segment) FirstLimitKph() int {
	if len(s.SpeedLimits) == 0 {
		return 0
	}
	return s.SpeedLimits[0].LimitKph
}

// 告警标记类型
const (
	AlertKindSpeedCamera = "speed_camera"
	AlertKindSchoolZone  = "school_zone"
	AlertKindDangerZone  = "danger_zone"
)

// AlertMarker 路径上的告警标记
type AlertMarker struct {
	Kind               string  `json:"kind"`
	Subtype            string  `json:"subtype,omitempty"`
	LimitKph           int     `json:"limit_kph,omitempty"`
	DistanceFromStartM float64 `json:"distance_from_start_m"`
}

// RouteGraph 路径图：有序路段 + 告警标记
// 刷新时整体替换，永不原地修改
type RouteGraph struct {
	Segments     []Segment     `json:"segments"`
	Alerts       []AlertMarker `json:"alerts"`
	StartOffsetM float64       `json:"start_offset_m"`
	FetchedAt    time.Time     `json:"fetched_at"`
}

// MatchResult 地图匹配结果
// SegmentIndex 为 -1 表示未匹配（不是错误，只是提示需要刷新路径图）
type MatchResult struct {
	SegmentIndex      int     `json:"segment_index"`
	SnappedLat        float64 `json:"snapped_lat"`
	SnappedLon        float64 `json:"snapped_lon"`
	DistanceToRouteM  float64 `json:"distance_to_route_m"`
	ProgressOnSegment float64 `json:"progress_on_segment"` // [0,1]
	Confidence        float64 `json:"confidence"`          // [0,1]
}

// Unmatched 未匹配结果
func Unmatched() MatchResult {
	return MatchResult{SegmentIndex: -1}
}

// Matched 是否匹配到路段
func (m MatchResult) Matched() bool {
	return m.SegmentIndex >= 0
}

// TrackingConfig 会话配置（会话启动时传入，生命周期内不可变）
type TrackingConfig struct {
	BackgroundMode  bool          `json:"background_mode"`   // 是否允许后台采集
	Interval        time.Duration `json:"interval"`          // 采集间隔
	ForcedMode      bool          `json:"forced_mode"`       // 定时强制采集模式
	DistanceFilterM float64       `json:"distance_filter_m"` // 提供者距离门限 (米)
}

// TrackingSession 会话记录（持久化用）
type TrackingSession struct {
	ID            string     `json:"id" db:"id"`
	Mode          string     `json:"mode" db:"mode"` // continuous / forced
	BackgroundOn  bool       `json:"background_on" db:"background_on"`
	IntervalMs    int64      `json:"interval_ms" db:"interval_ms"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	AcceptedFixes int64      `json:"accepted_fixes" db:"accepted_fixes"`
	DroppedFixes  int64      `json:"dropped_fixes" db:"dropped_fixes"`
}

// 限速事件类型
const (
	SpeedLimitEventChanged = "changed"
	SpeedLimitEventCleared = "cleared"
)

// SpeedLimitEvent 限速变化事件记录（持久化用）
type SpeedLimitEvent struct {
	ID         int64     `json:"id" db:"id"`
	SessionID  string    `json:"session_id" db:"session_id"`
	Kind       string    `json:"kind" db:"kind"` // changed / cleared
	LimitKph   int       `json:"limit_kph" db:"limit_kph"`
	SegmentID  string    `json:"segment_id" db:"segment_id"`
	Latitude   float64   `json:"latitude" db:"latitude"`
	Longitude  float64   `json:"longitude" db:"longitude"`
	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
}
