package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"signal-executor/infrastructure/logger"
	"signal-executor/ledger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env       string          `yaml:"env"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Execution ExecutionConfig `yaml:"execution"`
	Risk      RiskConfig      `yaml:"risk"`
	Bracket   BracketConfig   `yaml:"bracket"`
	Ledger    ledger.Config   `yaml:"ledger"`
	Log       logger.Config   `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Signals   SignalsConfig   `yaml:"signals"`
	Paper     PaperConfig     `yaml:"paper"`
}

type ExchangeConfig struct {
	BaseURL      string  `yaml:"baseURL"`
	APIKey       string  `yaml:"apiKey"`
	APISecret    string  `yaml:"apiSecret"`
	RecvWindowMs int     `yaml:"recvWindowMs"`
	OCOEnabled   bool    `yaml:"ocoEnabled"`
	DryRun       bool    `yaml:"dryRun"`       // 使用本地模拟撮合，不访问交易所
	RateLimit    float64 `yaml:"rateLimit"`    // REST 每秒令牌数
	RateBurst    int     `yaml:"rateBurst"`    // REST 突发令牌数
	StreamURL    string  `yaml:"streamURL"`    // 用户数据流 ws 地址，留空则不订阅
	KeepAliveSec int     `yaml:"keepAliveSec"` // listenKey 续期间隔
}

// ExecutionConfig 下单重试相关参数，时间单位均为毫秒。
type ExecutionConfig struct {
	MaxAttempts       int   `yaml:"maxAttempts"`
	BaseBackoffMs     int   `yaml:"baseBackoffMs"`
	MaxBackoffMs      int   `yaml:"maxBackoffMs"`
	SubmitDeadlineMs  int   `yaml:"submitDeadlineMs"` // 0 表示不限
	CallTimeoutMs     int   `yaml:"callTimeoutMs"`
	HaltOnLedgerError *bool `yaml:"haltOnLedgerError"`
	ConfirmBuffer     int   `yaml:"confirmBuffer"`
	ReconcileSec      int   `yaml:"reconcileSec"` // 挂单对账间隔，0 关闭
}

type RiskConfig struct {
	PositionSize       Decimal `yaml:"positionSize"`     // 默认仓位比例 (0,1]
	MaxOpenPositions   int     `yaml:"maxOpenPositions"` // 默认单交易对最大挂单数
	QuoteAsset         string  `yaml:"quoteAsset"`
	DefaultMinNotional Decimal `yaml:"defaultMinNotional"` // 交易规则拉取失败时的最小名义
	CircuitOneMinute   Decimal `yaml:"circuit1m"`          // 信号价 1m 涨跌幅熔断阈值，0 关闭
	CircuitFiveMinute  Decimal `yaml:"circuit5m"`
}

type BracketConfig struct {
	StopLimitOffset    Decimal `yaml:"stopLimitOffset"`
	OCOStopLimitOffset Decimal `yaml:"ocoStopLimitOffset"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // 留空则不启动
}

type SignalsConfig struct {
	Source    string `yaml:"source"` // 文件路径，"-" 表示标准输入
	QueueSize int    `yaml:"queueSize"`
}

// PaperConfig 模拟撮合的初始余额与交易对，仅 exchange.dryRun 时使用。
type PaperConfig struct {
	Balances map[string]Decimal     `yaml:"balances"`
	Symbols  map[string]PaperSymbol `yaml:"symbols"`
}

type PaperSymbol struct {
	Price       Decimal `yaml:"price"`
	StepSize    Decimal `yaml:"stepSize"`
	MinQty      Decimal `yaml:"minQty"`
	MaxQty      Decimal `yaml:"maxQty"`
	TickSize    Decimal `yaml:"tickSize"`
	MinNotional Decimal `yaml:"minNotional"`
}

// Decimal 在 yaml 中以标量书写，避免浮点误差。
type Decimal struct {
	decimal.Decimal
}

func NewDecimal(s string) Decimal {
	return Decimal{decimal.RequireFromString(s)}
}

func (d *Decimal) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: decimal must be a scalar", n.Line)
	}
	v, err := decimal.NewFromString(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid decimal %q", n.Line, n.Value)
	}
	d.Decimal = v
	return nil
}

func (d Decimal) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Default 返回可直接运行的默认配置，yaml 中出现的字段覆盖它。
func Default() AppConfig {
	halt := true
	return AppConfig{
		Env: "dev",
		Exchange: ExchangeConfig{
			BaseURL:      "https://api.binance.com",
			RecvWindowMs: 5000,
			OCOEnabled:   true,
			RateLimit:    10,
			RateBurst:    20,
			KeepAliveSec: 1800,
		},
		Execution: ExecutionConfig{
			MaxAttempts:       3,
			BaseBackoffMs:     500,
			MaxBackoffMs:      8000,
			CallTimeoutMs:     10000,
			HaltOnLedgerError: &halt,
			ConfirmBuffer:     64,
			ReconcileSec:      60,
		},
		Risk: RiskConfig{
			PositionSize:       NewDecimal("0.1"),
			MaxOpenPositions:   5,
			QuoteAsset:         "USDT",
			DefaultMinNotional: NewDecimal("10"),
		},
		Bracket: BracketConfig{
			StopLimitOffset:    NewDecimal("0.005"),
			OCOStopLimitOffset: NewDecimal("0.001"),
		},
		Ledger: ledger.Config{
			DSN:           "file:executor.db?_pragma=busy_timeout(5000)",
			SlowThreshold: 200 * time.Millisecond,
		},
		Log: logger.DefaultConfig(),
		Signals: SignalsConfig{
			Source:    "-",
			QueueSize: 100,
		},
	}
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil && !IsMissingCredentials(err) {
		return cfg, err
	}
	if v := os.Getenv("BOT_EXCHANGE_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("BOT_EXCHANGE_API_SECRET"); v != "" {
		cfg.Exchange.APISecret = v
	}
	return cfg, Validate(cfg)
}

func (c AppConfig) HaltOnLedgerError() bool {
	return c.Execution.HaltOnLedgerError == nil || *c.Execution.HaltOnLedgerError
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (c ExecutionConfig) BaseBackoff() time.Duration    { return ms(c.BaseBackoffMs) }
func (c ExecutionConfig) MaxBackoff() time.Duration     { return ms(c.MaxBackoffMs) }
func (c ExecutionConfig) SubmitDeadline() time.Duration { return ms(c.SubmitDeadlineMs) }
func (c ExecutionConfig) CallTimeout() time.Duration    { return ms(c.CallTimeoutMs) }
func (c ExecutionConfig) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileSec) * time.Second
}
