package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"signal-executor/order"
)

// PaperExchange 本地模拟撮合：市价单按设定价格一次性全部成交，
// 限价/止损限价单挂起为 NEW。不支持 OCO。
type PaperExchange struct {
	mu       sync.Mutex
	prices   map[string]decimal.Decimal
	balances map[string]decimal.Decimal
	filters  map[string][]order.SymbolFilter
	open     map[int64]OrderResponse
	byClient map[string]OrderResponse
	nextID   int64
	nextTID  int64
}

func NewPaperExchange() *PaperExchange {
	return &PaperExchange{
		prices:   make(map[string]decimal.Decimal),
		balances: make(map[string]decimal.Decimal),
		filters:  make(map[string][]order.SymbolFilter),
		open:     make(map[int64]OrderResponse),
		byClient: make(map[string]OrderResponse),
		nextID:   1,
		nextTID:  1,
	}
}

func (p *PaperExchange) SetPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

func (p *PaperExchange) SetBalance(asset string, free decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[asset] = free
}

func (p *PaperExchange) SetFilters(symbol string, filters []order.SymbolFilter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filters[symbol] = filters
}

func (p *PaperExchange) SymbolFilters(_ context.Context, symbol string) ([]order.SymbolFilter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.filters[symbol]
	if !ok {
		return nil, fmt.Errorf("symbol %s not found in exchangeInfo", symbol)
	}
	return f, nil
}

func (p *PaperExchange) SymbolPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[symbol]
	if !ok {
		return decimal.Zero, APIError{HTTPStatus: 400, Code: -1121, Msg: "Invalid symbol."}
	}
	return price, nil
}

func (p *PaperExchange) AvailableBalance(_ context.Context, asset string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[asset], nil
}

func (p *PaperExchange) OpenOrderCount(_ context.Context, symbol string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, o := range p.open {
		if o.Symbol == symbol {
			n++
		}
	}
	return n, nil
}

func (p *PaperExchange) CreateOrder(_ context.Context, req order.Request) (*OrderResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if req.ClientOrderID != "" {
		if _, dup := p.byClient[req.ClientOrderID]; dup {
			return nil, classifyAPIError(APIError{HTTPStatus: 400, Code: apiCodeNewOrderRejected, Msg: "Duplicate order sent."})
		}
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil || !qty.IsPositive() {
		return nil, APIError{HTTPStatus: 400, Code: -1013, Msg: "Invalid quantity."}
	}

	resp := OrderResponse{
		Symbol:        req.Symbol,
		OrderID:       p.nextID,
		OrderListID:   -1,
		ClientOrderID: req.ClientOrderID,
		TransactTime:  time.Now().UnixMilli(),
		OrigQty:       req.Quantity,
		Type:          string(req.Type),
		Side:          string(req.Side),
		Price:         req.Price,
		StopPrice:     req.StopPrice,
	}
	p.nextID++

	if req.Type == order.TypeMarket {
		price, ok := p.prices[req.Symbol]
		if !ok {
			return nil, APIError{HTTPStatus: 400, Code: -1121, Msg: "Invalid symbol."}
		}
		resp.Status = string(order.StatusFilled)
		resp.ExecutedQty = req.Quantity
		resp.CumulativeQuoteQty = qty.Mul(price).String()
		resp.Fills = []FillResponse{{
			Price:           price.String(),
			Qty:             req.Quantity,
			Commission:      "0",
			CommissionAsset: "BNB",
			TradeID:         p.nextTID,
		}}
		p.nextTID++
	} else {
		resp.Status = string(order.StatusNew)
		resp.ExecutedQty = "0"
		resp.CumulativeQuoteQty = "0"
		p.open[resp.OrderID] = resp
	}
	resp.Raw, _ = json.Marshal(resp)
	if req.ClientOrderID != "" {
		p.byClient[req.ClientOrderID] = resp
	}
	return &resp, nil
}

func (p *PaperExchange) QueryOrder(_ context.Context, _ string, clientOrderID string) (*OrderResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	resp, ok := p.byClient[clientOrderID]
	if !ok {
		return nil, classifyAPIError(APIError{HTTPStatus: 400, Code: apiCodeOrderNotFound, Msg: "Order does not exist."})
	}
	return &resp, nil
}

func (p *PaperExchange) CancelOrder(_ context.Context, _ string, orderID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.open[orderID]
	if !ok {
		return classifyAPIError(APIError{HTTPStatus: 400, Code: apiCodeOrderNotFound, Msg: "Unknown order sent."})
	}
	delete(p.open, orderID)
	o.Status = string(order.StatusCanceled)
	p.remember(o)
	return nil
}

// FillResting 把挂单按其限价全部成交，模拟保护单触发。
func (p *PaperExchange) FillResting(orderID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.open[orderID]
	if !ok {
		return false
	}
	delete(p.open, orderID)
	qty := decOrZero(o.OrigQty)
	price := decOrZero(o.Price)
	o.Status = string(order.StatusFilled)
	o.ExecutedQty = o.OrigQty
	o.CumulativeQuoteQty = qty.Mul(price).String()
	p.remember(o)
	return true
}

func (p *PaperExchange) remember(o OrderResponse) {
	o.Raw, _ = json.Marshal(o)
	if o.ClientOrderID != "" {
		p.byClient[o.ClientOrderID] = o
	}
}

func (p *PaperExchange) Account(context.Context) (*AccountInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acct := &AccountInfo{
		AccountType:     "SPOT",
		MakerCommission: 10,
		TakerCommission: 10,
		CanTrade:        true,
		Permissions:     []string{"SPOT"},
	}
	for asset, free := range p.balances {
		acct.Balances = append(acct.Balances, Balance{Asset: asset, Free: free.String(), Locked: "0"})
	}
	return acct, nil
}

// OpenOrderIDs 测试辅助：当前挂单号
func (p *PaperExchange) OpenOrderIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.open))
	for id := range p.open {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	return ids
}
