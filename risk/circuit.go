package risk

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"signal-executor/signal"
)

type priceTick struct {
	price decimal.Decimal
	ts    time.Time
}

// PriceCircuit 基于信号价格的短时波动熔断。
// 同一交易对 1m 或 5m 窗口内相对涨跌幅超过阈值时拒绝新信号，阈值为 0 表示不检查该窗口。
type PriceCircuit struct {
	OneMinuteThresh  decimal.Decimal
	FiveMinuteThresh decimal.Decimal

	mu      sync.Mutex
	windows map[string][]priceTick
	now     func() time.Time
}

func NewPriceCircuit(one, five decimal.Decimal) *PriceCircuit {
	return &PriceCircuit{
		OneMinuteThresh:  one,
		FiveMinuteThresh: five,
		windows:          make(map[string][]priceTick),
		now:              time.Now,
	}
}

// Enabled 任一窗口配置了阈值
func (c *PriceCircuit) Enabled() bool {
	return c != nil && (c.OneMinuteThresh.IsPositive() || c.FiveMinuteThresh.IsPositive())
}

func (c *PriceCircuit) PreSize(_ context.Context, sig signal.Signal) error {
	if !c.Enabled() || !sig.Price.IsPositive() {
		return nil
	}
	ts := sig.ReceivedAt
	if ts.IsZero() {
		ts = c.now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	buf := append(c.windows[sig.Symbol], priceTick{price: sig.Price, ts: ts})
	buf = trimBefore(buf, ts.Add(-5*time.Minute))
	c.windows[sig.Symbol] = buf

	if move, trip := check(trimBefore(buf, ts.Add(-time.Minute)), c.OneMinuteThresh); trip {
		return reject(ErrCircuitOpen, "%s moved %s within 1m", sig.Symbol, move.StringFixed(4))
	}
	if move, trip := check(buf, c.FiveMinuteThresh); trip {
		return reject(ErrCircuitOpen, "%s moved %s within 5m", sig.Symbol, move.StringFixed(4))
	}
	return nil
}

// trimBefore 丢弃 cutoff 及之前的点，返回子切片
func trimBefore(buf []priceTick, cutoff time.Time) []priceTick {
	i := 0
	for ; i < len(buf); i++ {
		if buf[i].ts.After(cutoff) {
			break
		}
	}
	return buf[i:]
}

func check(buf []priceTick, thresh decimal.Decimal) (decimal.Decimal, bool) {
	if !thresh.IsPositive() || len(buf) == 0 {
		return decimal.Zero, false
	}
	first := buf[0].price
	if first.IsZero() {
		return decimal.Zero, false
	}
	change := buf[len(buf)-1].price.Sub(first).Div(first)
	return change, change.Abs().GreaterThan(thresh)
}
