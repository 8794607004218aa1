package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RulesSource 标记规则来自交易所还是兜底默认值。
type RulesSource string

const (
	RulesFromExchange RulesSource = "exchange"
	RulesFromDefault  RulesSource = "default"
)

// TradingRules 描述交易对的步长与名义限制。零值字段表示交易所未给出该约束。
type TradingRules struct {
	Symbol      string
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MaxQty      decimal.Decimal
	TickSize    decimal.Decimal
	MinNotional decimal.Decimal
	Source      RulesSource
}

// Validate 检查订单价格/数量是否符合精度与最小名义。
func (r TradingRules) Validate(price, qty decimal.Decimal) error {
	if r.TickSize.IsPositive() && !isMultiple(price, r.TickSize) {
		return fmt.Errorf("price %s not aligned to tickSize %s", price, r.TickSize)
	}
	if r.StepSize.IsPositive() && !isMultiple(qty, r.StepSize) {
		return fmt.Errorf("qty %s not aligned to stepSize %s", qty, r.StepSize)
	}
	if r.MinQty.IsPositive() && qty.LessThan(r.MinQty) {
		return fmt.Errorf("qty %s < minQty %s", qty, r.MinQty)
	}
	if r.MaxQty.IsPositive() && qty.GreaterThan(r.MaxQty) {
		return fmt.Errorf("qty %s > maxQty %s", qty, r.MaxQty)
	}
	if notional := price.Mul(qty); r.MinNotional.IsPositive() && notional.LessThan(r.MinNotional) {
		return fmt.Errorf("notional %s < minNotional %s", notional, r.MinNotional)
	}
	return nil
}

// FloorToStep 向下取整到 stepSize 的整数倍，并钳制到 maxQty。
// 结果低于 minQty 时返回 0，从不向上取整。
func (r TradingRules) FloorToStep(qty decimal.Decimal) decimal.Decimal {
	if !qty.IsPositive() {
		return decimal.Zero
	}
	out := floorTo(qty, r.StepSize)
	if r.MaxQty.IsPositive() && out.GreaterThan(r.MaxQty) {
		out = floorTo(r.MaxQty, r.StepSize)
	}
	if r.MinQty.IsPositive() && out.LessThan(r.MinQty) {
		return decimal.Zero
	}
	return out
}

// QtyForQuote 用报价资产金额换算数量：quote / price，截断到步长。
// 整个计算只做一次截断除法，不经过中间舍入。
func (r TradingRules) QtyForQuote(quote, price decimal.Decimal) decimal.Decimal {
	if !quote.IsPositive() || !price.IsPositive() {
		return decimal.Zero
	}
	if !r.StepSize.IsPositive() {
		q, _ := quote.QuoRem(price, 16)
		return r.FloorToStep(q)
	}
	steps, _ := quote.QuoRem(price.Mul(r.StepSize), 0)
	return r.FloorToStep(steps.Mul(r.StepSize))
}

// TickMode 价格对齐方向
type TickMode int

const (
	TickNearest TickMode = iota
	TickDown
	TickUp
)

// RoundToTick 把价格对齐到 tickSize。
func (r TradingRules) RoundToTick(price decimal.Decimal, mode TickMode) decimal.Decimal {
	if !r.TickSize.IsPositive() {
		return price
	}
	q, rem := price.QuoRem(r.TickSize, 0)
	switch mode {
	case TickDown:
	case TickUp:
		if !rem.IsZero() {
			q = q.Add(decimal.NewFromInt(1))
		}
	default:
		if rem.Mul(decimal.NewFromInt(2)).GreaterThanOrEqual(r.TickSize) {
			q = q.Add(decimal.NewFromInt(1))
		}
	}
	return q.Mul(r.TickSize)
}

// FormatQty 按步长精度输出定点字符串，不会出现科学计数法。
func (r TradingRules) FormatQty(qty decimal.Decimal) string {
	if !r.StepSize.IsPositive() {
		return qty.String()
	}
	return qty.StringFixed(Precision(r.StepSize))
}

// FormatPrice 按 tickSize 精度输出。
func (r TradingRules) FormatPrice(price decimal.Decimal) string {
	if !r.TickSize.IsPositive() {
		return price.String()
	}
	return price.StringFixed(Precision(r.TickSize))
}

// Precision 返回步长的小数位数，例如 0.00100000 -> 3。
func Precision(step decimal.Decimal) int32 {
	var places int32
	s := step
	for places < 18 && !s.Equal(s.Truncate(0)) {
		s = s.Shift(1)
		places++
	}
	return places
}

func floorTo(value, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return value
	}
	q, _ := value.QuoRem(step, 0)
	return q.Mul(step)
}

func isMultiple(value, step decimal.Decimal) bool {
	if !step.IsPositive() {
		return true
	}
	_, rem := value.QuoRem(step, 0)
	return rem.IsZero()
}
