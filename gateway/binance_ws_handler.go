package gateway

import (
	"errors"

	"go.uber.org/zap"
)

// UserDataHandler 解析用户数据流原始消息，把订单回报交给 OnExecution。
type UserDataHandler struct {
	OnExecution func(ExecutionReport)
	Logger      *zap.Logger
}

// OnRawMessage 可供外部调用，直接传入 ws 原始消息。
func (h *UserDataHandler) OnRawMessage(msg []byte) {
	rep, err := ParseUserEvent(msg)
	if errors.Is(err, ErrIgnoredEvent) {
		return
	}
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("parse user data msg failed", zap.Error(err), zap.ByteString("msg", msg))
		}
		return
	}
	if h.OnExecution != nil {
		h.OnExecution(rep)
	}
}
