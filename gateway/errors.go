package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// 错误类别，可与 APIError 一起通过 errors.Is 匹配
var (
	ErrOCOUnsupported      = errors.New("oco order not supported")
	ErrDuplicateOrder      = errors.New("duplicate order")
	ErrInsufficientBalance = errors.New("exchange insufficient balance")
	ErrOrderRejected       = errors.New("order rejected by exchange")
	ErrOrderNotFound       = errors.New("order not found")
)

const (
	apiCodeNewOrderRejected = -2010
	apiCodeCancelRejected   = -2011
	apiCodeOrderNotFound    = -2013
)

// 服务端临时性错误码：未知错误、断连、限流、超时、繁忙、下单过频
var transientCodes = map[int]bool{
	-1000: true,
	-1001: true,
	-1003: true,
	-1006: true,
	-1007: true,
	-1008: true,
	-1015: true,
}

var apiErrorMessageKinds = map[string]error{
	"duplicate order sent.":                                  ErrDuplicateOrder,
	"account has insufficient balance for requested action.": ErrInsufficientBalance,
	"unknown order sent.":                                    ErrOrderNotFound,
	"order does not exist.":                                  ErrOrderNotFound,
}

// APIError 交易所返回的错误体 {"code":-2010,"msg":"..."}
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       int    `json:"code"`
	Msg        string `json:"msg"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("binance api error %d (http %d): %s", e.Code, e.HTTPStatus, e.Msg)
}

// Transient 限流、封禁预警、5xx 与服务端临时错误码可重试。
func (e APIError) Transient() bool {
	if e.HTTPStatus == 429 || e.HTTPStatus == 418 || e.HTTPStatus >= 500 {
		return true
	}
	return transientCodes[e.Code]
}

func parseAPIError(status int, body []byte) error {
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Msg != "" {
		apiErr.HTTPStatus = status
		return classifyAPIError(apiErr)
	}
	return APIError{HTTPStatus: status, Msg: strings.TrimSpace(string(body))}
}

func classifyAPIError(apiErr APIError) error {
	kinds := make([]error, 0, 2)
	switch apiErr.Code {
	case apiCodeOrderNotFound, apiCodeCancelRejected:
		kinds = append(kinds, ErrOrderNotFound)
	case apiCodeNewOrderRejected:
		if kind, ok := apiErrorMessageKinds[normalizeAPIErrorMsg(apiErr.Msg)]; ok {
			kinds = append(kinds, kind)
		} else {
			kinds = append(kinds, ErrOrderRejected)
		}
	}
	if len(kinds) == 0 {
		return apiErr
	}
	return errors.Join(append([]error{apiErr}, kinds...)...)
}

func normalizeAPIErrorMsg(msg string) string {
	return strings.ToLower(strings.TrimSpace(msg))
}

// AsAPIError 提取 APIError
func AsAPIError(err error) (APIError, bool) {
	if err == nil {
		return APIError{}, false
	}
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		return APIError{}, false
	}
	return apiErr, true
}

// IsTransient 判断错误是否值得重试：网络错误、超时以及可重试的 APIError。
// 调用方主动取消的不重试。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
