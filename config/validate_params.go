package config

import "github.com/shopspring/decimal"

var one = decimal.NewFromInt(1)

// ValidateRisk 校验可热更新的风险默认值，重载时同样走这里。
func ValidateRisk(r RiskConfig) error {
	if !r.PositionSize.IsPositive() || r.PositionSize.GreaterThan(one) {
		return ErrInvalid("risk.positionSize must be within (0, 1]")
	}
	if r.MaxOpenPositions < 1 {
		return ErrInvalid("risk.maxOpenPositions must be >= 1")
	}
	if r.QuoteAsset == "" {
		return ErrInvalid("risk.quoteAsset is required")
	}
	if r.DefaultMinNotional.IsNegative() {
		return ErrInvalid("risk.defaultMinNotional must be >= 0")
	}
	if r.CircuitOneMinute.IsNegative() || r.CircuitFiveMinute.IsNegative() {
		return ErrInvalid("risk.circuit1m/circuit5m must be >= 0")
	}
	return nil
}

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }
