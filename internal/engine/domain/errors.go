package domain

import (
	"errors"
	"fmt"
)

// RejectCode 对外暴露的错误类别
type RejectCode string

const (
	CodeInvalid           RejectCode = "INVALID"
	CodeLimitExceeded     RejectCode = "LIMIT_EXCEEDED"
	CodeInsufficientFunds RejectCode = "INSUFFICIENT_FUNDS"
	CodeNotFound          RejectCode = "NOT_FOUND"
	CodeNotCancellable    RejectCode = "NOT_CANCELLABLE"
	CodeBackpressure      RejectCode = "BACKPRESSURE"
	CodeInternal          RejectCode = "INTERNAL"
)

// RejectError 携带错误类别的拒绝原因，submit/cancel 同步返回给调用方。
type RejectError struct {
	Code   RejectCode
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// Reject 构造一个带类别的拒绝错误
func Reject(code RejectCode, format string, args ...any) *RejectError {
	return &RejectError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// CodeOf 提取错误类别，非 RejectError 一律视为 INTERNAL。
func CodeOf(err error) RejectCode {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Code
	}
	return CodeInternal
}

var (
	// ErrEngineHalted 引擎因不变量被破坏而熔断，该交易对停止受理
	ErrEngineHalted = Reject(CodeInternal, "matching engine is halted")
	// ErrQueueFull 定序队列已满且提交截止时间已过
	ErrQueueFull = Reject(CodeBackpressure, "order queue is full")
)
