package gateway

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"signal-executor/order"
)

// Exchange 执行协调器依赖的交易所能力。
type Exchange interface {
	order.FilterFetcher
	SymbolPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	AvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	OpenOrderCount(ctx context.Context, symbol string) (int, error)
	CreateOrder(ctx context.Context, req order.Request) (*OrderResponse, error)
	QueryOrder(ctx context.Context, symbol, clientOrderID string) (*OrderResponse, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	Account(ctx context.Context) (*AccountInfo, error)
}

// OCOPlacer 可选能力：一撤全撤订单。
type OCOPlacer interface {
	CreateOCO(ctx context.Context, req OCORequest) (*OCOResponse, error)
}

// FillResponse 下单响应中的成交明细（newOrderRespType=FULL）
type FillResponse struct {
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	TradeID         int64  `json:"tradeId"`
}

// OrderResponse 下单 / 查单响应。字段保持字符串，转换时再解析。
type OrderResponse struct {
	Symbol             string         `json:"symbol"`
	OrderID            int64          `json:"orderId"`
	OrderListID        int64          `json:"orderListId"`
	ClientOrderID      string         `json:"clientOrderId"`
	TransactTime       int64          `json:"transactTime"`
	Price              string         `json:"price"`
	OrigQty            string         `json:"origQty"`
	ExecutedQty        string         `json:"executedQty"`
	CumulativeQuoteQty string         `json:"cummulativeQuoteQty"`
	Status             string         `json:"status"`
	Type               string         `json:"type"`
	Side               string         `json:"side"`
	StopPrice          string         `json:"stopPrice"`
	Fills              []FillResponse `json:"fills"`

	// 错误形态的响应
	Code int    `json:"code"`
	Msg  string `json:"msg"`

	Raw json.RawMessage `json:"-"`
}

// OrderFills 把响应成交转成 order.Fill；无法解析的数值记为 0。
func (r *OrderResponse) OrderFills() []order.Fill {
	if r == nil {
		return nil
	}
	fills := make([]order.Fill, 0, len(r.Fills))
	for _, f := range r.Fills {
		fills = append(fills, order.Fill{
			TradeID:         f.TradeID,
			Price:           decOrZero(f.Price),
			Qty:             decOrZero(f.Qty),
			Commission:      decOrZero(f.Commission),
			CommissionAsset: f.CommissionAsset,
		})
	}
	return fills
}

// OCORequest 一撤全撤下单参数，价格/数量已格式化
type OCORequest struct {
	Symbol               string
	Side                 order.Side
	Quantity             string
	Price                string // 止盈限价
	StopPrice            string
	StopLimitPrice       string
	StopLimitTimeInForce order.TimeInForce
	ListClientOrderID    string
}

// OCOOrderRef 订单列表中的一条
type OCOOrderRef struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
}

// OCOResponse 订单列表响应
type OCOResponse struct {
	OrderListID       int64           `json:"orderListId"`
	ContingencyType   string          `json:"contingencyType"`
	ListStatusType    string          `json:"listStatusType"`
	ListOrderStatus   string          `json:"listOrderStatus"`
	ListClientOrderID string          `json:"listClientOrderId"`
	Symbol            string          `json:"symbol"`
	Orders            []OCOOrderRef   `json:"orders"`
	OrderReports      []OrderResponse `json:"orderReports"`

	Raw json.RawMessage `json:"-"`
}

// Balance 单个资产余额
type Balance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// AccountInfo /api/v3/account 响应
type AccountInfo struct {
	AccountType     string    `json:"accountType"`
	MakerCommission int64     `json:"makerCommission"`
	TakerCommission int64     `json:"takerCommission"`
	CanTrade        bool      `json:"canTrade"`
	CanWithdraw     bool      `json:"canWithdraw"`
	CanDeposit      bool      `json:"canDeposit"`
	Permissions     []string  `json:"permissions"`
	Balances        []Balance `json:"balances"`
}

// Free 查询资产可用余额，不存在时为 0
func (a *AccountInfo) Free(asset string) decimal.Decimal {
	if a == nil {
		return decimal.Zero
	}
	for _, b := range a.Balances {
		if b.Asset == asset {
			return decOrZero(b.Free)
		}
	}
	return decimal.Zero
}

type symbolInfo struct {
	Symbol     string               `json:"symbol"`
	Status     string               `json:"status"`
	BaseAsset  string               `json:"baseAsset"`
	QuoteAsset string               `json:"quoteAsset"`
	Filters    []order.SymbolFilter `json:"filters"`
}

type exchangeInfo struct {
	Symbols []symbolInfo `json:"symbols"`
}

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type listenKeyResp struct {
	ListenKey string `json:"listenKey"`
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
