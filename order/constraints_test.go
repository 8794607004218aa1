package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func btcRules() TradingRules {
	return TradingRules{
		Symbol:      "BTCUSDT",
		StepSize:    d("0.00001"),
		MinQty:      d("0.00001"),
		MaxQty:      d("9000"),
		TickSize:    d("0.01"),
		MinNotional: d("10"),
	}
}

func TestTradingRulesValidate(t *testing.T) {
	r := TradingRules{
		TickSize:    d("0.01"),
		StepSize:    d("0.001"),
		MinQty:      d("0.001"),
		MaxQty:      d("10"),
		MinNotional: d("5"),
	}
	assert.NoError(t, r.Validate(d("100.01"), d("0.1")))
	assert.Error(t, r.Validate(d("100.015"), d("0.002")), "tick")
	assert.Error(t, r.Validate(d("100.01"), d("0.0005")), "step")
	assert.Error(t, r.Validate(d("100.01"), d("11")), "max qty")
	assert.Error(t, r.Validate(d("10"), d("0.2")), "notional")
}

func TestQtyForQuote(t *testing.T) {
	tests := []struct {
		name  string
		rules TradingRules
		quote string
		price string
		want  string
	}{
		{"btc 100 usdt", btcRules(), "100", "50000", "0.002"},
		{"截断不进位", TradingRules{StepSize: d("0.001")}, "10", "3", "3.333"},
		{"clamp to max", TradingRules{StepSize: d("0.1"), MaxQty: d("5.05")}, "1000", "1", "5"},
		{"below min qty", TradingRules{StepSize: d("0.01"), MinQty: d("1")}, "5", "10", "0"},
		{"no step", TradingRules{}, "1", "4", "0.25"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.rules.QtyForQuote(d(tt.quote), d(tt.price))
			assert.True(t, got.Equal(d(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestQtyForQuoteNeverRoundsUp(t *testing.T) {
	r := TradingRules{StepSize: d("0.00001")}
	prices := []string{"3", "7", "29999.99", "0.333", "61234.5678"}
	for _, p := range prices {
		price := d(p)
		qty := r.QtyForQuote(d("100"), price)
		assert.True(t, qty.Mul(price).LessThanOrEqual(d("100")), "price %s qty %s", p, qty)
		assert.True(t, isMultiple(qty, r.StepSize), "price %s qty %s", p, qty)
		// 再加一步就会超过预算
		assert.True(t, qty.Add(r.StepSize).Mul(price).GreaterThan(d("100")), "price %s qty %s", p, qty)
	}
}

func TestRoundToTick(t *testing.T) {
	r := TradingRules{TickSize: d("0.01")}
	assert.Equal(t, "100.01", r.FormatPrice(r.RoundToTick(d("100.005"), TickNearest)))
	assert.Equal(t, "100.00", r.FormatPrice(r.RoundToTick(d("100.004"), TickNearest)))
	assert.Equal(t, "100.00", r.FormatPrice(r.RoundToTick(d("100.009"), TickDown)))
	assert.Equal(t, "100.01", r.FormatPrice(r.RoundToTick(d("100.001"), TickUp)))
	assert.Equal(t, "100.00", r.FormatPrice(r.RoundToTick(d("100"), TickUp)))
}

func TestFormatQty(t *testing.T) {
	r := TradingRules{StepSize: d("0.00100000")}
	assert.Equal(t, "0.002", r.FormatQty(d("0.002")))
	assert.Equal(t, "1.000", r.FormatQty(d("1")))

	small := TradingRules{StepSize: d("0.00000001")}
	assert.Equal(t, "0.00000010", small.FormatQty(d("0.0000001")))

	whole := TradingRules{StepSize: d("1")}
	assert.Equal(t, "12", whole.FormatQty(d("12")))
}

func TestPrecision(t *testing.T) {
	require.Equal(t, int32(3), Precision(d("0.00100000")))
	require.Equal(t, int32(0), Precision(d("1.00000000")))
	require.Equal(t, int32(8), Precision(d("0.00000001")))
}
