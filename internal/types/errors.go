package types

import "errors"

var (
	// ErrMalformedMessage 表示消息无法解析或字段越界，直接丢弃不重试。
	ErrMalformedMessage = errors.New("malformed message")
	// ErrStaleSignal 表示信号已超过有效期。
	ErrStaleSignal = errors.New("stale signal")
	// ErrStaleIntent 表示交易意图超过执行 SLA。
	ErrStaleIntent = errors.New("stale intent")
	// ErrInsufficientData 表示优化窗口内的已平仓交易不足。
	ErrInsufficientData = errors.New("insufficient data")
	// ErrPublishFailure 表示发布在重试后仍失败。
	ErrPublishFailure = errors.New("publish failure")
)
