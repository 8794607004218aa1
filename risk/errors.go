package risk

import (
	"errors"
	"fmt"
)

// 仓位计算的拒绝原因，均为预期内的结果而非故障。
var (
	ErrCircuitOpen                   = errors.New("price circuit open")
	ErrExposureLimitReached          = errors.New("exposure limit reached")
	ErrExposureUnknown               = errors.New("exposure unknown")
	ErrInsufficientBalance           = errors.New("insufficient balance")
	ErrInvalidMarketPrice            = errors.New("invalid market price")
	ErrInvalidPositionFraction       = errors.New("invalid position fraction")
	ErrNotionalBelowMinimum          = errors.New("notional below minimum")
	ErrQuantityZeroAfterQuantization = errors.New("quantity zero after quantization")
)

var reasonNames = map[error]string{
	ErrCircuitOpen:                   "CircuitOpen",
	ErrExposureLimitReached:          "ExposureLimitReached",
	ErrExposureUnknown:               "ExposureUnknown",
	ErrInsufficientBalance:           "InsufficientBalance",
	ErrInvalidMarketPrice:            "InvalidMarketPrice",
	ErrInvalidPositionFraction:       "InvalidPositionFraction",
	ErrNotionalBelowMinimum:          "NotionalBelowMinimum",
	ErrQuantityZeroAfterQuantization: "QuantityZeroAfterQuantization",
}

// Rejection 带原因的拒绝。Reason 为上面的哨兵错误之一，Cause 为可选的底层错误。
type Rejection struct {
	Reason error
	Detail string
	Cause  error
}

func reject(reason error, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

func (r *Rejection) Error() string {
	msg := r.Reason.Error()
	if r.Detail != "" {
		msg += ": " + r.Detail
	}
	if r.Cause != nil {
		msg += ": " + r.Cause.Error()
	}
	return msg
}

func (r *Rejection) Unwrap() []error {
	if r.Cause != nil {
		return []error{r.Reason, r.Cause}
	}
	return []error{r.Reason}
}

// Code 稳定的原因名，用作日志字段与指标标签。
func (r *Rejection) Code() string {
	if name, ok := reasonNames[r.Reason]; ok {
		return name
	}
	return "Unknown"
}

// AsRejection 提取 Rejection。
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
