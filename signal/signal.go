package signal

import (
	"encoding/json"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signal-executor/order"
)

// RiskParams 单个信号的风险参数。
type RiskParams struct {
	// PositionSize 占可用余额的比例，(0,1]
	PositionSize decimal.Decimal
	// MaxOpenPositions 同一交易对允许的最大挂单/持仓数
	MaxOpenPositions int
}

var maxOpenPositionsLimit = decimal.NewFromInt(math.MaxInt32)

// DefaultRiskParams 信号未给出时的默认值。
func DefaultRiskParams() RiskParams {
	return RiskParams{
		PositionSize:     decimal.RequireFromString("0.1"),
		MaxOpenPositions: 5,
	}
}

// Signal 是通过校验的交易意图，校验后不再修改。
type Signal struct {
	ID       string
	Symbol   string
	Side     order.Side
	Price    decimal.Decimal
	Strategy string

	RSI        *decimal.Decimal
	Indicators map[string]decimal.Decimal

	PositionSizeUSDT *decimal.Decimal
	TakeProfit       *decimal.Decimal
	StopLoss         *decimal.Decimal

	Risk       RiskParams
	Reason     string
	CreatedAt  time.Time
	ReceivedAt time.Time
}

// HasBracket 是否携带止盈或止损目标。
func (s Signal) HasBracket() bool {
	return s.TakeProfit != nil || s.StopLoss != nil
}

// Validator 校验原始信号，默认风险参数可热更新。
type Validator struct {
	logger   *zap.Logger
	defaults atomic.Pointer[RiskParams]
	now      func() time.Time
}

// NewValidator 创建校验器
func NewValidator(defaults RiskParams, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &Validator{logger: logger, now: time.Now}
	v.SetDefaults(defaults)
	return v
}

// SetDefaults 替换默认风险参数，零值字段沿用内置默认。
func (v *Validator) SetDefaults(p RiskParams) {
	base := DefaultRiskParams()
	if !p.PositionSize.IsZero() {
		base.PositionSize = p.PositionSize
	}
	if p.MaxOpenPositions != 0 {
		base.MaxOpenPositions = p.MaxOpenPositions
	}
	v.defaults.Store(&base)
}

// Defaults 当前默认风险参数
func (v *Validator) Defaults() RiskParams {
	return *v.defaults.Load()
}

// Validate 使用内置默认风险参数校验。
func Validate(raw map[string]any) (Signal, error) {
	return NewValidator(DefaultRiskParams(), nil).Validate(raw)
}

// TryValidate 校验失败时记录日志并丢弃信号，不向上传播错误。
// onInvalid 可为 nil，用于调用方记账。
func (v *Validator) TryValidate(raw map[string]any, onInvalid func(error)) (Signal, bool) {
	sig, err := v.Validate(raw)
	if err != nil {
		v.logger.Warn("drop invalid signal",
			zap.Error(err),
			zap.Any("payload", raw),
		)
		if onInvalid != nil {
			onInvalid(err)
		}
		return Signal{}, false
	}
	return sig, true
}

// Validate 检查必填字段、类型与范围，并规范化数值字段。
func (v *Validator) Validate(raw map[string]any) (Signal, error) {
	if raw == nil {
		return Signal{}, missing("symbol")
	}

	var sig Signal

	symbol, err := requireString(raw, "symbol")
	if err != nil {
		return Signal{}, err
	}
	sig.Symbol = strings.ToUpper(symbol)

	sideKey := "side"
	if _, ok := raw["side"]; !ok {
		// 旧版策略使用 type 字段
		if _, legacy := raw["type"]; legacy {
			sideKey = "type"
		}
	}
	sideRaw, err := requireString(raw, sideKey)
	if err != nil {
		return Signal{}, err
	}
	side, ok := order.ParseSide(sideRaw)
	if !ok {
		return Signal{}, invalid(sideKey, "must be BUY or SELL, got %q", sideRaw)
	}
	sig.Side = side

	price, err := requirePositive(raw, "price")
	if err != nil {
		return Signal{}, err
	}
	sig.Price = price

	if s, ok := raw["strategy_name"].(string); ok {
		sig.Strategy = s
	} else if s, ok := raw["strategy"].(string); ok {
		sig.Strategy = s
	}

	risk, err := v.riskParams(raw)
	if err != nil {
		return Signal{}, err
	}
	sig.Risk = risk

	if err := v.indicators(raw, &sig); err != nil {
		return Signal{}, err
	}

	for _, opt := range []struct {
		key string
		dst **decimal.Decimal
	}{
		{"position_size_usdt", &sig.PositionSizeUSDT},
		{"take_profit", &sig.TakeProfit},
		{"stop_loss", &sig.StopLoss},
	} {
		val, present, err := optionalPositive(raw, opt.key)
		if err != nil {
			return Signal{}, err
		}
		if present {
			*opt.dst = &val
		}
	}

	if s, ok := raw["reason"].(string); ok {
		sig.Reason = s
	}
	if id, ok := raw["id"].(string); ok && id != "" {
		sig.ID = id
	} else {
		sig.ID = uuid.NewString()
	}
	if ts, ok := parseTime(raw["created_at"]); ok {
		sig.CreatedAt = ts
	} else if ts, ok := parseTime(raw["timestamp"]); ok {
		sig.CreatedAt = ts
	}
	sig.ReceivedAt = v.now().UTC()
	return sig, nil
}

func (v *Validator) riskParams(raw map[string]any) (RiskParams, error) {
	val, ok := raw["risk_params"]
	if !ok || val == nil {
		return RiskParams{}, missing("risk_params")
	}
	m, ok := val.(map[string]any)
	if !ok {
		return RiskParams{}, invalid("risk_params", "must be an object")
	}

	p := v.Defaults()
	if ps, present := m["position_size"]; present {
		dec, ok := toDecimal(ps)
		if !ok {
			return RiskParams{}, invalid("risk_params.position_size", "must be numeric")
		}
		p.PositionSize = dec
	}
	if mo, present := m["max_open_positions"]; present {
		dec, ok := toDecimal(mo)
		if !ok || !dec.IsInteger() || !dec.IsPositive() {
			return RiskParams{}, invalid("risk_params.max_open_positions", "must be a positive integer")
		}
		if dec.GreaterThan(maxOpenPositionsLimit) {
			return RiskParams{}, invalid("risk_params.max_open_positions", "must be <= %s", maxOpenPositionsLimit)
		}
		p.MaxOpenPositions = int(dec.IntPart())
	}
	return p, nil
}

func (v *Validator) indicators(raw map[string]any, sig *Signal) error {
	rsiVal, hasRSI := raw["rsi"]
	needsRSI := strings.Contains(strings.ToUpper(sig.Strategy), "RSI")
	if needsRSI && (!hasRSI || rsiVal == nil) {
		return missing("rsi")
	}
	if hasRSI && rsiVal != nil {
		rsi, ok := toDecimal(rsiVal)
		if !ok {
			return invalid("rsi", "must be numeric")
		}
		if rsi.IsNegative() || rsi.GreaterThan(decimal.NewFromInt(100)) {
			return invalid("rsi", "must be within [0,100], got %s", rsi)
		}
		sig.RSI = &rsi
	}

	if ind, ok := raw["indicators"].(map[string]any); ok {
		sig.Indicators = make(map[string]decimal.Decimal, len(ind))
		for k, val := range ind {
			dec, ok := toDecimal(val)
			if !ok {
				return invalid("indicators."+k, "must be numeric")
			}
			sig.Indicators[k] = dec
		}
	}
	return nil
}

func requireString(raw map[string]any, key string) (string, error) {
	val, ok := raw[key]
	if !ok || val == nil {
		return "", missing(key)
	}
	s, ok := val.(string)
	if !ok {
		return "", invalid(key, "must be a string")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", missing(key)
	}
	return s, nil
}

func requirePositive(raw map[string]any, key string) (decimal.Decimal, error) {
	val, present, err := optionalPositive(raw, key)
	if err != nil {
		return decimal.Zero, err
	}
	if !present {
		return decimal.Zero, missing(key)
	}
	return val, nil
}

func optionalPositive(raw map[string]any, key string) (decimal.Decimal, bool, error) {
	val, ok := raw[key]
	if !ok || val == nil {
		return decimal.Zero, false, nil
	}
	dec, ok := toDecimal(val)
	if !ok {
		return decimal.Zero, true, invalid(key, "must be numeric")
	}
	if !dec.IsPositive() {
		return decimal.Zero, true, invalid(key, "must be > 0, got %s", dec)
	}
	return dec, true, nil
}

// toDecimal 只接受数值类型；字符串形式的数字视为类型错误。
func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(n), true
	case float32:
		f := float64(n)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt32(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case uint:
		return decimal.NewFromInt(int64(n)), true
	case uint32:
		return decimal.NewFromInt(int64(n)), true
	case uint64:
		if n > math.MaxInt64 {
			return decimal.Zero, false
		}
		return decimal.NewFromInt(int64(n)), true
	default:
		return decimal.Zero, false
	}
}

func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		ts, err := time.Parse(time.RFC3339Nano, t)
		return ts.UTC(), err == nil
	case time.Time:
		return t.UTC(), true
	default:
		dec, ok := toDecimal(v)
		if !ok || !dec.IsPositive() {
			return time.Time{}, false
		}
		n := dec.IntPart()
		// 大于 1e12 视为毫秒
		if n > 1_000_000_000_000 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	}
}
