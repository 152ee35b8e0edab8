package session

import "errors"

// 运行期错误类别（通过 EventError 异步上报，不中断追踪）
const (
	ErrKindPermission          = "permission"
	ErrKindProviderUnavailable = "provider_unavailable"
	ErrKindFetchFailure        = "fetch_failure"
	ErrKindGrantDenied         = "background_grant_denied"
	ErrKindInvalidGraph        = "invalid_graph_payload"
)

// ErrPermission 后台模式要求 always 权限，启动时同步拒绝
var ErrPermission = errors.New("background tracking requires always location permission")
