package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

const sampleConfig = `
env: dev
exchange:
  baseURL: https://api.test
  apiKey: foo
  apiSecret: bar
  ocoEnabled: false
execution:
  maxAttempts: 4
  baseBackoffMs: 250
  submitDeadlineMs: 30000
  haltOnLedgerError: false
risk:
  positionSize: "0.25"
  maxOpenPositions: 3
  quoteAsset: USDT
  defaultMinNotional: 5
bracket:
  stopLimitOffset: 0.01
ledger:
  dsn: file:test.db
  slowThreshold: 1s
log:
  level: debug
metrics:
  addr: ":9100"
`

func TestLoad(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Env != "dev" || cfg.Exchange.APIKey != "foo" {
		t.Fatalf("unexpected cfg values: %+v", cfg)
	}
	if cfg.Exchange.OCOEnabled {
		t.Fatalf("ocoEnabled should be overridden to false")
	}
	if cfg.Execution.MaxAttempts != 4 || cfg.Execution.BaseBackoff() != 250*time.Millisecond {
		t.Fatalf("unexpected execution: %+v", cfg.Execution)
	}
	// 未出现的字段保留默认值
	if cfg.Execution.MaxBackoff() != 8*time.Second || cfg.Execution.CallTimeout() != 10*time.Second {
		t.Fatalf("defaults not kept: %+v", cfg.Execution)
	}
	if cfg.Execution.SubmitDeadline() != 30*time.Second {
		t.Fatalf("unexpected deadline: %v", cfg.Execution.SubmitDeadline())
	}
	if cfg.HaltOnLedgerError() {
		t.Fatalf("haltOnLedgerError should be false")
	}
	if cfg.Risk.PositionSize.String() != "0.25" || cfg.Risk.DefaultMinNotional.String() != "5" {
		t.Fatalf("unexpected risk: %+v", cfg.Risk)
	}
	if cfg.Bracket.StopLimitOffset.String() != "0.01" || cfg.Bracket.OCOStopLimitOffset.String() != "0.001" {
		t.Fatalf("unexpected bracket: %+v", cfg.Bracket)
	}
	if cfg.Ledger.DSN != "file:test.db" || cfg.Ledger.SlowThreshold != time.Second {
		t.Fatalf("unexpected ledger: %+v", cfg.Ledger)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("unexpected log: %+v", cfg.Log)
	}
	if cfg.Signals.Source != "-" || cfg.Signals.QueueSize != 100 {
		t.Fatalf("unexpected signals: %+v", cfg.Signals)
	}

	p := cfg.Risk.RiskDefaults()
	if p.PositionSize.String() != "0.25" || p.MaxOpenPositions != 3 {
		t.Fatalf("unexpected risk defaults: %+v", p)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
env: prod
exchange:
  baseURL: https://api.test
`)
	if _, err := Load(path); !IsMissingCredentials(err) {
		t.Fatalf("expected missing credentials, got %v", err)
	}

	t.Setenv("BOT_EXCHANGE_API_KEY", "env-key")
	t.Setenv("BOT_EXCHANGE_API_SECRET", "env-secret")
	cfg, err := LoadWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Exchange.APIKey != "env-key" || cfg.Exchange.APISecret != "env-secret" {
		t.Fatalf("env overrides not applied: %+v", cfg.Exchange)
	}
}

func TestLoadDryRunWithoutCredentials(t *testing.T) {
	path := writeTempConfig(t, `
env: dev
exchange:
  dryRun: true
`)
	if _, err := Load(path); err != nil {
		t.Fatalf("dry run should not need credentials: %v", err)
	}
}

func TestLoadBadDecimal(t *testing.T) {
	path := writeTempConfig(t, `
env: dev
exchange:
  dryRun: true
risk:
  positionSize: abc
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected decimal parse error")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(AppConfig{}); err == nil {
		t.Fatalf("expected error for empty config")
	}

	cases := map[string]func(*AppConfig){
		"position size zero":  func(c *AppConfig) { c.Risk.PositionSize = NewDecimal("0") },
		"position size > 1":   func(c *AppConfig) { c.Risk.PositionSize = NewDecimal("1.5") },
		"max open positions":  func(c *AppConfig) { c.Risk.MaxOpenPositions = 0 },
		"quote asset":         func(c *AppConfig) { c.Risk.QuoteAsset = "" },
		"max attempts":        func(c *AppConfig) { c.Execution.MaxAttempts = 0 },
		"backoff order":       func(c *AppConfig) { c.Execution.MaxBackoffMs = 100 },
		"negative deadline":   func(c *AppConfig) { c.Execution.SubmitDeadlineMs = -1 },
		"recv window":         func(c *AppConfig) { c.Exchange.RecvWindowMs = 70000 },
		"stream url":          func(c *AppConfig) { c.Exchange.StreamURL = "http://x" },
		"stop limit offset":   func(c *AppConfig) { c.Bracket.StopLimitOffset = NewDecimal("1") },
		"negative oco offset": func(c *AppConfig) { c.Bracket.OCOStopLimitOffset = NewDecimal("-0.1") },
		"ledger dsn":          func(c *AppConfig) { c.Ledger.DSN = "" },
		"negative circuit":    func(c *AppConfig) { c.Risk.CircuitFiveMinute = NewDecimal("-0.01") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.Exchange.DryRun = true
			mutate(&cfg)
			if err := Validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}

	cfg := Default()
	cfg.Exchange.DryRun = true
	if err := Validate(cfg); err != nil {
		t.Fatalf("default dry-run config should be valid: %v", err)
	}
	cfg.Exchange.DryRun = false
	if err := Validate(cfg); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestLoadPaperSection(t *testing.T) {
	path := writeTempConfig(t, `
env: dev
exchange:
  dryRun: true
paper:
  balances:
    USDT: "1000"
  symbols:
    BTCUSDT:
      price: "50000"
      stepSize: "0.00001"
      tickSize: "0.01"
      minNotional: "10"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Paper.Balances["USDT"].String() != "1000" {
		t.Fatalf("unexpected balances: %+v", cfg.Paper.Balances)
	}
	btc := cfg.Paper.Symbols["BTCUSDT"]
	if btc.Price.String() != "50000" || btc.StepSize.String() != "0.00001" {
		t.Fatalf("unexpected paper symbol: %+v", btc)
	}

	bad := writeTempConfig(t, `
env: dev
exchange:
  dryRun: true
paper:
  symbols:
    BTCUSDT:
      price: "0"
`)
	if _, err := Load(bad); err == nil {
		t.Fatalf("expected paper price validation error")
	}
}
