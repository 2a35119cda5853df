package types

import (
	"errors"
	"fmt"
)

// 中文说明：
// 错误分级与传播策略：
// - 决策级错误（校验失败/余额不足/市场不存在/状态过期）只影响单笔决策，批次继续。
// - 持久化错误不清除 dirty 标记，由下一个同步周期重试。

var (
	// ErrInsufficientBalance 余额不足，决策被拒绝，NPC 状态不变。
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrMarketNotFound 引用的市场/ticker 不存在。
	ErrMarketNotFound = errors.New("market not found")

	// ErrPositionNotFound 引用的仓位不存在或不属于该 NPC。
	ErrPositionNotFound = errors.New("position not found")

	// ErrStaleState 执行时复核发现状态已变化（生成与执行之间的竞争），
	// 决策被拒绝且不自动重试。
	ErrStaleState = errors.New("stale state")

	// ErrPersistence flush 失败；仓位保持 dirty，下个周期重试。
	ErrPersistence = errors.New("persistence failure")
)

// ValidationError 表示决策输入不合法（结构/范围），只丢弃、不重试。
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid decision: " + e.Reason
}

// Validationf builds a ValidationError with a formatted reason.
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
