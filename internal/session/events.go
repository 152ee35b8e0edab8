package session

import (
	"github.com/langchou/waygazer/internal/models"
)

// EventKind 会话对外事件类型
type EventKind string

const (
	EventAcceptedFix       EventKind = "accepted_fix"
	EventSpeedLimitChanged EventKind = "speed_limit_changed"
	EventSpeedLimitCleared EventKind = "speed_limit_cleared"
	EventError             EventKind = "error"
)

// Event 会话事件
// 生命周期管理器与会话之间、会话与宿主之间都用显式事件传递，
// 不依赖任何平台通知机制
type Event struct {
	Kind     EventKind           `json:"kind"`
	Fix      *models.Fix         `json:"fix,omitempty"`
	Match    *models.MatchResult `json:"match,omitempty"`
	LimitKph int                 `json:"limit_kph,omitempty"`
	ErrKind  string              `json:"err_kind,omitempty"`
	Message  string              `json:"message,omitempty"`
}
