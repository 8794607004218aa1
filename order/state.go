package order

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Side 订单方向，取值与交易所一致。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide 大小写不敏感地解析方向。
func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, true
	case SideSell:
		return SideSell, true
	default:
		return "", false
	}
}

// Opposite 返回反方向，用于保护单。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Type 订单类型。
type Type string

const (
	TypeMarket        Type = "MARKET"
	TypeLimit         Type = "LIMIT"
	TypeStopLossLimit Type = "STOP_LOSS_LIMIT"
)

// TimeInForce for resting orders.
type TimeInForce string

const TimeInForceGTC TimeInForce = "GTC"

// Status represents the exchange order lifecycle. Values are kept verbatim
// because they are persisted and compared against exchange payloads.
type Status string

const (
	StatusNew             Status = "NEW"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCanceled        Status = "CANCELED"
	StatusRejected        Status = "REJECTED"
	StatusExpired         Status = "EXPIRED"
)

// IsTerminal 终态订单不再产生成交。
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// Request 是发往交易所的下单请求。Quantity/Price 已按交易规则格式化为定点字符串。
type Request struct {
	Symbol        string
	Side          Side
	Type          Type
	Quantity      string
	Price         string
	StopPrice     string
	TimeInForce   TimeInForce
	ClientOrderID string

	// 计算过程，用于审计
	QuoteAmount decimal.Decimal
	MarketPrice decimal.Decimal
	Notional    decimal.Decimal
}

// Fill 单笔成交。
type Fill struct {
	TradeID         int64
	Price           decimal.Decimal
	Qty             decimal.Decimal
	Commission      decimal.Decimal
	CommissionAsset string
	IsMaker         bool
}

// QuoteQty 成交额。
func (f Fill) QuoteQty() decimal.Decimal {
	return f.Price.Mul(f.Qty)
}
