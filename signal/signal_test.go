package signal

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"signal-executor/order"
)

func validPayload() map[string]any {
	return map[string]any{
		"symbol":        "btcusdt",
		"type":          "buy",
		"price":         50000.0,
		"strategy_name": "ema_cross",
		"risk_params":   map[string]any{"position_size": 0.1},
	}
}

func TestValidateNormalizes(t *testing.T) {
	sig, err := Validate(validPayload())
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", sig.Symbol)
	assert.Equal(t, order.SideBuy, sig.Side)
	assert.True(t, sig.Price.Equal(decimal.NewFromInt(50000)))
	assert.True(t, sig.Risk.PositionSize.Equal(decimal.RequireFromString("0.1")))
	assert.Equal(t, 5, sig.Risk.MaxOpenPositions)
	assert.NotEmpty(t, sig.ID)
	assert.False(t, sig.ReceivedAt.IsZero())
	assert.False(t, sig.HasBracket())
}

func TestValidateInvalidFields(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(m map[string]any)
		field string
	}{
		{"缺少 symbol", func(m map[string]any) { delete(m, "symbol") }, "symbol"},
		{"缺少方向", func(m map[string]any) { delete(m, "type") }, "side"},
		{"非法方向", func(m map[string]any) { m["type"] = "HOLD" }, "type"},
		{"价格为字符串", func(m map[string]any) { m["price"] = "50000" }, "price"},
		{"价格为零", func(m map[string]any) { m["price"] = 0 }, "price"},
		{"价格为负", func(m map[string]any) { m["price"] = -1.5 }, "price"},
		{"缺少风险参数", func(m map[string]any) { delete(m, "risk_params") }, "risk_params"},
		{"风险参数类型错误", func(m map[string]any) { m["risk_params"] = "0.1" }, "risk_params"},
		{"仓位比例非数值", func(m map[string]any) {
			m["risk_params"] = map[string]any{"position_size": "big"}
		}, "risk_params.position_size"},
		{"持仓上限过大", func(m map[string]any) {
			m["risk_params"] = map[string]any{"max_open_positions": 1e30}
		}, "risk_params.max_open_positions"},
		{"持仓上限非整数", func(m map[string]any) {
			m["risk_params"] = map[string]any{"max_open_positions": 2.5}
		}, "risk_params.max_open_positions"},
		{"RSI 策略缺少 rsi", func(m map[string]any) { m["strategy_name"] = "RSI_reversal" }, "rsi"},
		{"rsi 超出范围", func(m map[string]any) {
			m["strategy_name"] = "rsi_reversal"
			m["rsi"] = 101
		}, "rsi"},
		{"止盈非正数", func(m map[string]any) { m["take_profit"] = 0 }, "take_profit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validPayload()
			tt.edit(m)
			_, err := Validate(m)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSignal))

			var ise *InvalidSignalError
			require.True(t, errors.As(err, &ise))
			assert.Equal(t, tt.field, ise.Field)
		})
	}
}

func TestValidateOptionalFields(t *testing.T) {
	m := validPayload()
	delete(m, "type")
	m["side"] = "SELL"
	m["strategy_name"] = "RSI_MeanReversion"
	m["rsi"] = json.Number("72.5")
	m["position_size_usdt"] = json.Number("150")
	m["take_profit"] = 48000
	m["stop_loss"] = 51000.5
	m["indicators"] = map[string]any{"ema_fast": 49990.1}
	m["created_at"] = "2024-03-01T10:00:00Z"
	m["reason"] = "overbought"
	m["id"] = "sig-1"

	sig, err := Validate(m)
	require.NoError(t, err)
	assert.Equal(t, order.SideSell, sig.Side)
	require.NotNil(t, sig.RSI)
	assert.Equal(t, "72.5", sig.RSI.String())
	require.NotNil(t, sig.PositionSizeUSDT)
	assert.Equal(t, "150", sig.PositionSizeUSDT.String())
	assert.True(t, sig.HasBracket())
	assert.Equal(t, "51000.5", sig.StopLoss.String())
	assert.Equal(t, "49990.1", sig.Indicators["ema_fast"].String())
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), sig.CreatedAt)
	assert.Equal(t, "sig-1", sig.ID)
	assert.Equal(t, "overbought", sig.Reason)
}

func TestValidatorDefaults(t *testing.T) {
	v := NewValidator(RiskParams{PositionSize: decimal.RequireFromString("0.25"), MaxOpenPositions: 2}, nil)
	m := validPayload()
	m["risk_params"] = map[string]any{}

	sig, err := v.Validate(m)
	require.NoError(t, err)
	assert.Equal(t, "0.25", sig.Risk.PositionSize.String())
	assert.Equal(t, 2, sig.Risk.MaxOpenPositions)

	v.SetDefaults(RiskParams{MaxOpenPositions: 3})
	sig, err = v.Validate(m)
	require.NoError(t, err)
	assert.Equal(t, "0.1", sig.Risk.PositionSize.String())
	assert.Equal(t, 3, sig.Risk.MaxOpenPositions)
}

func TestTryValidateLogsAndDrops(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	v := NewValidator(DefaultRiskParams(), zap.New(core))

	m := validPayload()
	m["price"] = "abc"
	var dropped error
	_, ok := v.TryValidate(m, func(err error) { dropped = err })
	assert.False(t, ok)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "drop invalid signal", logs.All()[0].Message)
	assert.ErrorIs(t, dropped, ErrInvalidSignal)

	dropped = nil
	_, ok = v.TryValidate(validPayload(), func(err error) { dropped = err })
	assert.True(t, ok)
	assert.NoError(t, dropped)

	// 回调可省略
	_, ok = v.TryValidate(m, nil)
	assert.False(t, ok)
}
