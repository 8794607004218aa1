package engine

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"signal-executor/gateway"
	"signal-executor/order"
)

// Result 一次提交的最终结果，只有 Accepted / Rejected / TransportFailure 三种。
type Result interface {
	isResult()
}

// Accepted 交易所确认的订单，成交数据来自响应。
type Accepted struct {
	OrderID       int64
	ClientOrderID string
	Status        order.Status
	Fills         []order.Fill
	ExecutedQty   decimal.Decimal
	CumQuote      decimal.Decimal
	AvgPrice      decimal.Decimal
	Raw           json.RawMessage
}

// Rejected 交易所明确拒绝或响应无效，不重试。
type Rejected struct {
	Reason string
	Code   int
	Err    error
	Raw    json.RawMessage
}

// TransportFailure 重试耗尽或等待被取消。
type TransportFailure struct {
	Cause    error
	Attempts int
}

func (Accepted) isResult()         {}
func (Rejected) isResult()         {}
func (TransportFailure) isResult() {}

func (r Rejected) Error() string {
	if r.Code != 0 {
		return fmt.Sprintf("order rejected (code %d): %s", r.Code, r.Reason)
	}
	return "order rejected: " + r.Reason
}

func (t TransportFailure) Error() string {
	return fmt.Sprintf("order submit failed after %d attempts: %v", t.Attempts, t.Cause)
}

func (t TransportFailure) Unwrap() error { return t.Cause }

// classify 响应有 orderId 或 status、且没有负的 code 才算有效。
func classify(resp *gateway.OrderResponse) Result {
	if resp == nil {
		return Rejected{Reason: "empty response"}
	}
	if resp.Code < 0 {
		return Rejected{Reason: resp.Msg, Code: resp.Code, Raw: resp.Raw}
	}
	if resp.OrderID == 0 && resp.Status == "" {
		return Rejected{Reason: "response carries neither orderId nor status", Raw: resp.Raw}
	}

	fills := resp.OrderFills()
	ex := order.Summarize(fills)
	executed, cum, avg := ex.ExecutedQty, ex.CumQuote, ex.AvgPrice
	// 查单接口不带 fills，退回响应里的累计值
	if !executed.IsPositive() {
		executed = decOrZero(resp.ExecutedQty)
		cum = decOrZero(resp.CumulativeQuoteQty)
		avg = decimal.Zero
		if executed.IsPositive() {
			avg = cum.Div(executed)
		}
	}
	return Accepted{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Status:        order.Status(resp.Status),
		Fills:         fills,
		ExecutedQty:   executed,
		CumQuote:      cum,
		AvgPrice:      avg,
		Raw:           resp.Raw,
	}
}

func decOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
