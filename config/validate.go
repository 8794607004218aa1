package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingCredentials 实盘模式下缺少 apiKey/apiSecret，可由环境变量补齐。
var ErrMissingCredentials = errors.New("exchange.apiKey/apiSecret is required (or BOT_EXCHANGE_API_KEY/BOT_EXCHANGE_API_SECRET)")

func IsMissingCredentials(err error) bool {
	return errors.Is(err, ErrMissingCredentials)
}

// Validate ensures required fields are present and within range.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if err := validateExchange(cfg.Exchange); err != nil {
		return err
	}
	if err := validateExecution(cfg.Execution); err != nil {
		return err
	}
	if err := ValidateRisk(cfg.Risk); err != nil {
		return err
	}
	if err := validateBracket(cfg.Bracket); err != nil {
		return err
	}
	if cfg.Ledger.DSN == "" {
		return errors.New("ledger.dsn is required")
	}
	for sym, ps := range cfg.Paper.Symbols {
		if !ps.Price.IsPositive() {
			return fmt.Errorf("paper symbol %s price must be > 0", sym)
		}
		if ps.StepSize.IsNegative() || ps.TickSize.IsNegative() || ps.MinNotional.IsNegative() {
			return fmt.Errorf("paper symbol %s filters must be >= 0", sym)
		}
	}
	if cfg.Signals.QueueSize < 0 {
		return errors.New("signals.queueSize must be >= 0")
	}
	return nil
}

func validateExchange(c ExchangeConfig) error {
	if !c.DryRun {
		if c.BaseURL == "" {
			return errors.New("exchange.baseURL is required")
		}
		if c.APIKey == "" || c.APISecret == "" {
			return ErrMissingCredentials
		}
	}
	if c.RecvWindowMs < 0 || c.RecvWindowMs > 60000 {
		return fmt.Errorf("exchange.recvWindowMs must be within [0, 60000], got %d", c.RecvWindowMs)
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return errors.New("exchange.rateLimit/rateBurst must be >= 0")
	}
	if c.StreamURL != "" && !strings.HasPrefix(c.StreamURL, "ws") {
		return fmt.Errorf("exchange.streamURL must be a ws(s) url, got %q", c.StreamURL)
	}
	if c.KeepAliveSec < 0 {
		return errors.New("exchange.keepAliveSec must be >= 0")
	}
	return nil
}

func validateExecution(c ExecutionConfig) error {
	if c.MaxAttempts < 1 || c.MaxAttempts > 10 {
		return fmt.Errorf("execution.maxAttempts must be within [1, 10], got %d", c.MaxAttempts)
	}
	if c.BaseBackoffMs < 0 || c.MaxBackoffMs < 0 {
		return errors.New("execution backoff must be >= 0")
	}
	if c.MaxBackoffMs > 0 && c.MaxBackoffMs < c.BaseBackoffMs {
		return errors.New("execution.maxBackoffMs must be >= baseBackoffMs")
	}
	if c.SubmitDeadlineMs < 0 || c.CallTimeoutMs < 0 {
		return errors.New("execution timeouts must be >= 0")
	}
	if c.ReconcileSec < 0 {
		return errors.New("execution.reconcileSec must be >= 0")
	}
	if c.ConfirmBuffer < 0 {
		return errors.New("execution.confirmBuffer must be >= 0")
	}
	return nil
}

func validateBracket(c BracketConfig) error {
	if c.StopLimitOffset.IsNegative() || c.StopLimitOffset.GreaterThanOrEqual(one) {
		return ErrInvalid("bracket.stopLimitOffset must be within [0, 1)")
	}
	if c.OCOStopLimitOffset.IsNegative() || c.OCOStopLimitOffset.GreaterThanOrEqual(one) {
		return ErrInvalid("bracket.ocoStopLimitOffset must be within [0, 1)")
	}
	return nil
}
