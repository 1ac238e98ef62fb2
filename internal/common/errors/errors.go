// Package errors 定义业务错误码和错误处理
package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError 应用错误
type AppError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Err     error       `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 实现 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 按错误码比较，使 errors.Is(err, ErrXxx) 对派生出的错误同样成立
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 创建新的应用错误
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// WithMessage 修改错误消息
func (e *AppError) WithMessage(message string) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: message,
		Data:    e.Data,
		Err:     e.Err,
	}
}

// WithError 添加原始错误
func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Data:    e.Data,
		Err:     err,
	}
}

// WithData 附加返回给调用方的详情（如冲突的预订列表）
func (e *AppError) WithData(data interface{}) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Data:    data,
		Err:     e.Err,
	}
}

// 通用错误码 (1000-1999)
var (
	ErrInvalidParams   = New(1001, "参数错误")
	ErrNotFound        = New(1002, "资源不存在")
	ErrDatabaseError   = New(1004, "数据库错误")
	ErrInternalError   = New(1006, "服务器内部错误")
	ErrRateLimitExceed = New(1008, "请求过于频繁，请稍后再试")
	ErrOperationFailed = New(1009, "操作失败")
)

// 认证错误码 (2000-2999)
var (
	ErrUnauthorized     = New(2000, "请先登录")
	ErrTokenExpired     = New(2001, "登录已过期，请重新登录")
	ErrTokenInvalid     = New(2002, "无效的令牌")
	ErrPermissionDenied = New(2004, "权限不足")
)

// 房间错误码 (4000-4999)
var (
	ErrRoomNotFound       = New(4000, "房间不存在")
	ErrRoomDisabled       = New(4001, "房间已停用")
	ErrNoPricingAvailable = New(4002, "房间未配置价格")
	ErrPriceTierInvalid   = New(4003, "无效的价格档位")
)

// 支付错误码 (6000-6999)
var (
	ErrMilestoneNotFound    = New(6002, "付款节点不存在")
	ErrMilestoneMismatch    = New(6003, "付款节点不属于该预订")
	ErrPaymentAmountInvalid = New(6005, "支付金额与付款节点不符")
	ErrPaymentMethodError   = New(6006, "支付方式错误")
	ErrPaymentCallbackError = New(6007, "支付回调错误")
	ErrSignatureInvalid     = New(6008, "回调签名无效")
	ErrPaymentOutcomeError  = New(6009, "无效的支付结果")
)

// 预订错误码 (8000-8999)
var (
	ErrBookingNotFound          = New(8000, "预订不存在")
	ErrStateTransition          = New(8001, "预订状态不允许该操作")
	ErrBookingConflict          = New(8002, "时段已被预订")
	ErrInvalidRange             = New(8003, "无效的日期区间")
	ErrVerificationTokenInvalid = New(8004, "无效的核验令牌")
	ErrVerificationExpired      = New(8005, "核验令牌已过期")
	ErrAutoRenewalNotAllowed    = New(8006, "该预订不支持自动续租")
	ErrPaymentOptionInvalid     = New(8007, "无效的付款方式")
	ErrRoomsRequired            = New(8008, "至少选择一个房间")
	ErrScheduleImbalance        = New(8900, "付款计划金额不平衡")
)

// IsAppError 判断是否为应用错误
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError 获取错误链中的应用错误，不存在时返回 nil
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// Is 判断 err 链中是否包含与 target 错误码相同的应用错误
func Is(err error, target *AppError) bool {
	return stderrors.Is(err, target)
}
