package order

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Execution 由成交明细汇总出的执行结果
type Execution struct {
	ExecutedQty decimal.Decimal
	CumQuote    decimal.Decimal
	AvgPrice    decimal.Decimal
	Fills       int
}

// Summarize 汇总成交：数量求和、成交额求和、均价 = 成交额 / 数量。
func Summarize(fills []Fill) Execution {
	ex := Execution{ExecutedQty: decimal.Zero, CumQuote: decimal.Zero, AvgPrice: decimal.Zero}
	for _, f := range fills {
		ex.ExecutedQty = ex.ExecutedQty.Add(f.Qty)
		ex.CumQuote = ex.CumQuote.Add(f.QuoteQty())
		ex.Fills++
	}
	if ex.ExecutedQty.IsPositive() {
		ex.AvgPrice = ex.CumQuote.Div(ex.ExecutedQty)
	}
	return ex
}

// FillTracker 按订单跟踪成交历史，按 tradeId 去重。
// 用户数据流可能重放同一笔成交。
type FillTracker struct {
	mu     sync.RWMutex
	fills  map[string][]Fill
	trades map[string]map[int64]struct{}
}

// NewFillTracker 创建成交跟踪器
func NewFillTracker() *FillTracker {
	return &FillTracker{
		fills:  make(map[string][]Fill),
		trades: make(map[string]map[int64]struct{}),
	}
}

// RecordFill 记录成交，重复的 tradeId 返回 false。
func (f *FillTracker) RecordFill(orderID string, fill Fill) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	seen, ok := f.trades[orderID]
	if !ok {
		seen = make(map[int64]struct{})
		f.trades[orderID] = seen
	}
	if _, dup := seen[fill.TradeID]; dup {
		return false
	}
	seen[fill.TradeID] = struct{}{}
	f.fills[orderID] = append(f.fills[orderID], fill)
	return true
}

// Summary 返回订单当前累计执行结果
func (f *FillTracker) Summary(orderID string) Execution {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Summarize(f.fills[orderID])
}

// Forget 订单进入终态后释放记录
func (f *FillTracker) Forget(orderID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.fills, orderID)
	delete(f.trades, orderID)
}

// Tracked 当前跟踪的订单数
func (f *FillTracker) Tracked() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.fills)
}
