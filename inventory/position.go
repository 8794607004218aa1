package inventory

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"signal-executor/order"
)

// BracketRecord 保护单下单结果，挂在持仓上供事后查看。
type BracketRecord struct {
	Kind     string   // OCO / TAKE_PROFIT / STOP_LOSS / SEPARATE
	OrderIDs []string // 成功下单的交易所订单号
	Fallback bool     // OCO 不可用，退化为两张独立订单
	Error    string
	PlacedAt time.Time
}

// Position 由交易所确认的成交建立，从不使用请求数量。
type Position struct {
	Symbol           string
	Side             order.Side
	ExecutedQty      decimal.Decimal
	AvgPrice         decimal.Decimal
	ExpectedNotional decimal.Decimal
	EntryOrderID     string
	OpenedAt         time.Time
	Brackets         []BracketRecord
}

// UnrealizedPnL 按标记价计算浮动盈亏。
func (p Position) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	diff := mark.Sub(p.AvgPrice)
	if p.Side == order.SideSell {
		diff = diff.Neg()
	}
	return diff.Mul(p.ExecutedQty)
}

// Book 维护每个交易对的持仓。
type Book struct {
	mu        sync.RWMutex
	positions map[string]*Position
}

func NewBook() *Book {
	return &Book{positions: make(map[string]*Position)}
}

// Open 登记成交。同方向已有持仓时按加权平均合并，
// 反方向成交视为平仓（见 Reduce）。
func (b *Book) Open(p Position) Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur, ok := b.positions[p.Symbol]
	if !ok {
		cp := p
		cp.Brackets = append([]BracketRecord(nil), p.Brackets...)
		b.positions[p.Symbol] = &cp
		return cp
	}
	if cur.Side != p.Side {
		b.reduceLocked(cur, p.ExecutedQty)
		if c, ok := b.positions[p.Symbol]; ok {
			return *c
		}
		return Position{Symbol: p.Symbol}
	}

	// 加权平均成本
	totalValue := cur.AvgPrice.Mul(cur.ExecutedQty).Add(p.AvgPrice.Mul(p.ExecutedQty))
	cur.ExecutedQty = cur.ExecutedQty.Add(p.ExecutedQty)
	if cur.ExecutedQty.IsPositive() {
		cur.AvgPrice = totalValue.Div(cur.ExecutedQty)
	}
	cur.ExpectedNotional = cur.ExpectedNotional.Add(p.ExpectedNotional)
	cur.EntryOrderID = p.EntryOrderID
	return *cur
}

// Reduce 平掉部分数量，数量归零时移除持仓。返回剩余持仓以及是否仍存在。
func (b *Book) Reduce(symbol string, qty decimal.Decimal) (Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.positions[symbol]
	if !ok {
		return Position{}, false
	}
	b.reduceLocked(cur, qty)
	if c, ok := b.positions[symbol]; ok {
		return *c, true
	}
	return Position{}, false
}

func (b *Book) reduceLocked(cur *Position, qty decimal.Decimal) {
	cur.ExecutedQty = cur.ExecutedQty.Sub(qty)
	if !cur.ExecutedQty.IsPositive() {
		delete(b.positions, cur.Symbol)
	}
}

// Get 返回持仓拷贝
func (b *Book) Get(symbol string) (Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[symbol]
	if !ok {
		return Position{}, false
	}
	cp := *p
	cp.Brackets = append([]BracketRecord(nil), p.Brackets...)
	return cp, true
}

// Close 移除持仓
func (b *Book) Close(symbol string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.positions[symbol]
	delete(b.positions, symbol)
	return ok
}

// AttachBracket 记录保护单结果；持仓不存在时返回 false。
func (b *Book) AttachBracket(symbol string, rec BracketRecord) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[symbol]
	if !ok {
		return false
	}
	p.Brackets = append(p.Brackets, rec)
	return true
}

func (b *Book) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

// Snapshot 按交易对排序返回全部持仓（拷贝）。
func (b *Book) Snapshot() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	res := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		cp := *p
		cp.Brackets = append([]BracketRecord(nil), p.Brackets...)
		res = append(res, cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Symbol < res[j].Symbol })
	return res
}
