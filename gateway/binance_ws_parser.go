package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"signal-executor/order"
)

// ErrIgnoredEvent 非 executionReport 的用户数据事件
var ErrIgnoredEvent = errors.New("ignored user data event")

// ExecutionReport 用户数据流中的订单回报
type ExecutionReport struct {
	Symbol          string
	OrderID         int64
	OrderListID     int64
	ClientOrderID   string
	Side            order.Side
	Type            order.Type
	ExecutionType   string // NEW / TRADE / CANCELED / EXPIRED / REJECTED
	Status          order.Status
	RejectReason    string
	Price           decimal.Decimal
	StopPrice       decimal.Decimal
	OrigQty         decimal.Decimal
	LastQty         decimal.Decimal
	LastPrice       decimal.Decimal
	CumQty          decimal.Decimal
	CumQuote        decimal.Decimal
	Commission      decimal.Decimal
	CommissionAsset string
	TradeID         int64
	IsMaker         bool
	EventTime       time.Time
}

// IsTrade 本条回报带有一笔新成交
func (r ExecutionReport) IsTrade() bool {
	return r.ExecutionType == "TRADE" && r.TradeID >= 0 && r.LastQty.IsPositive()
}

// Fill 把成交部分转成 order.Fill
func (r ExecutionReport) Fill() order.Fill {
	return order.Fill{
		TradeID:         r.TradeID,
		Price:           r.LastPrice,
		Qty:             r.LastQty,
		Commission:      r.Commission,
		CommissionAsset: r.CommissionAsset,
		IsMaker:         r.IsMaker,
	}
}

// executionReportWire 原始字段。encoding/json 匹配 key 时大小写不敏感，
// 所以大小写成对出现的 key 都要声明，否则会互相覆盖。
type executionReportWire struct {
	EventType       string          `json:"e"`
	EventTime       int64           `json:"E"`
	Symbol          string          `json:"s"`
	Side            string          `json:"S"`
	ClientOrderID   string          `json:"c"`
	OrigClientID    string          `json:"C"`
	OrderType       string          `json:"o"`
	CreationTime    json.RawMessage `json:"O"`
	TimeInForce     string          `json:"f"`
	IcebergQty      json.RawMessage `json:"F"`
	OrderQty        string          `json:"q"`
	QuoteOrderQty   json.RawMessage `json:"Q"`
	OrderPrice      string          `json:"p"`
	StopPrice       string          `json:"P"`
	ExecutionType   string          `json:"x"`
	OrderStatus     string          `json:"X"`
	RejectReason    string          `json:"r"`
	OrderID         int64           `json:"i"`
	Ignore          json.RawMessage `json:"I"`
	LastExecQty     string          `json:"l"`
	LastExecPrice   string          `json:"L"`
	Commission      string          `json:"n"`
	CommissionAsset *string         `json:"N"`
	TradeID         int64           `json:"t"`
	TransactionTime int64           `json:"T"`
	IsWorking       json.RawMessage `json:"w"`
	WorkingTime     json.RawMessage `json:"W"`
	IsMaker         bool            `json:"m"`
	IgnoreM         json.RawMessage `json:"M"`
	CumulativeQty   string          `json:"z"`
	CumulativeQuote string          `json:"Z"`
	OrderListID     int64           `json:"g"`
}

type eventHeader struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
}

// ParseUserEvent 解析用户数据流消息，兼容 combined stream 包装。
// 非 executionReport 事件返回 ErrIgnoredEvent。
func ParseUserEvent(raw []byte) (ExecutionReport, error) {
	var combined CombinedMessage
	if err := json.Unmarshal(raw, &combined); err == nil && len(combined.Data) > 0 {
		raw = combined.Data
	}
	var hdr eventHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return ExecutionReport{}, fmt.Errorf("decode user event: %w", err)
	}
	if hdr.EventType != "executionReport" {
		return ExecutionReport{}, ErrIgnoredEvent
	}
	var w executionReportWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return ExecutionReport{}, fmt.Errorf("decode executionReport: %w", err)
	}
	rep := ExecutionReport{
		Symbol:        w.Symbol,
		OrderID:       w.OrderID,
		OrderListID:   w.OrderListID,
		ClientOrderID: w.ClientOrderID,
		Side:          order.Side(w.Side),
		Type:          order.Type(w.OrderType),
		ExecutionType: w.ExecutionType,
		Status:        order.Status(w.OrderStatus),
		RejectReason:  w.RejectReason,
		Price:         decOrZero(w.OrderPrice),
		StopPrice:     decOrZero(w.StopPrice),
		OrigQty:       decOrZero(w.OrderQty),
		LastQty:       decOrZero(w.LastExecQty),
		LastPrice:     decOrZero(w.LastExecPrice),
		CumQty:        decOrZero(w.CumulativeQty),
		CumQuote:      decOrZero(w.CumulativeQuote),
		Commission:    decOrZero(w.Commission),
		TradeID:       w.TradeID,
		IsMaker:       w.IsMaker,
		EventTime:     time.UnixMilli(w.EventTime).UTC(),
	}
	if w.CommissionAsset != nil {
		rep.CommissionAsset = *w.CommissionAsset
	}
	// 撤单回报里 c 是撤单请求的 id，原始 id 在 C
	if w.OrigClientID != "" {
		rep.ClientOrderID = w.OrigClientID
	}
	return rep, nil
}

// CombinedMessage 对应 binance combined stream 包装。
type CombinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}
