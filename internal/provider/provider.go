package provider

import (
	"context"
	"errors"

	"github.com/langchou/waygazer/internal/models"
)

// ErrNoFix 当前没有可用的定位点（一次性请求时返回，非致命）
var ErrNoFix = errors.New("no fix available")

// PermissionState 定位权限状态
type PermissionState string

const (
	PermissionNotDetermined PermissionState = "not_determined"
	PermissionDenied        PermissionState = "denied"
	PermissionWhenInUse     PermissionState = "when_in_use"
	PermissionAlways        PermissionState = "always"
)

// Precision 期望定位精度
type Precision string

const (
	PrecisionHigh     Precision = "high"
	PrecisionBalanced Precision = "balanced" // 后台模式下使用，降低功耗
)

// SubscribeOptions 订阅选项
type SubscribeOptions struct {
	DistanceFilterM float64   // 原生距离门限，0 表示关闭
	Precision       Precision // 期望精度
}

// Subscription 订阅句柄
type Subscription interface {
	// UpdatePrecision 调整期望精度（前后台切换时调用）
	UpdatePrecision(p Precision)
	// Unsubscribe 取消订阅，幂等
	Unsubscribe()
}

// Provider 定位提供者抽象
// 两种后端（HTTP 上报、设备网关 WebSocket）实现同一契约，
// 会话只依赖该接口
type Provider interface {
	// RequestFix 一次性获取最新定位点，没有可用点时返回 ErrNoFix
	RequestFix(ctx context.Context) (models.Fix, error)
	// Subscribe 订阅定位流，onFix 在提供者自己的 goroutine 中回调
	Subscribe(opts SubscribeOptions, onFix func(models.Fix)) (Subscription, error)
	// PermissionState 当前权限状态
	PermissionState() PermissionState
	// PermissionChanges 权限变化通知流
	// 消费方退出时必须调用 ClosePermissionChanges 注销，否则通知通道泄漏
	PermissionChanges() <-chan PermissionState
	// ClosePermissionChanges 注销并关闭一个权限通知流，幂等
	ClosePermissionChanges(ch <-chan PermissionState)
}
