package order

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SymbolFilter 是 exchangeInfo 中单个 filter 的原始字段。
type SymbolFilter struct {
	FilterType  string `json:"filterType"`
	MinQty      string `json:"minQty,omitempty"`
	MaxQty      string `json:"maxQty,omitempty"`
	StepSize    string `json:"stepSize,omitempty"`
	TickSize    string `json:"tickSize,omitempty"`
	MinNotional string `json:"minNotional,omitempty"`
}

// FilterFetcher 查询交易对的 filters；由 gateway 实现。
type FilterFetcher interface {
	SymbolFilters(ctx context.Context, symbol string) ([]SymbolFilter, error)
}

// DefaultMinNotional 交易所未返回名义限制时使用。
var DefaultMinNotional = decimal.NewFromInt(10)

// RulesCache 按交易对缓存交易规则，进程生命周期内不过期。
// 拉取失败不缓存，下次调用会重试。
type RulesCache struct {
	fetcher            FilterFetcher
	defaultMinNotional decimal.Decimal
	logger             *zap.Logger

	mu    sync.Mutex
	rules map[string]TradingRules
}

// NewRulesCache 创建规则缓存。defaultMinNotional 非正数时取 10。
func NewRulesCache(fetcher FilterFetcher, defaultMinNotional decimal.Decimal, logger *zap.Logger) *RulesCache {
	if !defaultMinNotional.IsPositive() {
		defaultMinNotional = DefaultMinNotional
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RulesCache{
		fetcher:            fetcher,
		defaultMinNotional: defaultMinNotional,
		logger:             logger,
		rules:              make(map[string]TradingRules),
	}
}

// Get 返回交易对规则。命中缓存不访问交易所；拉取失败时返回只含默认最小名义的规则。
func (c *RulesCache) Get(ctx context.Context, symbol string) TradingRules {
	c.mu.Lock()
	if r, ok := c.rules[symbol]; ok {
		c.mu.Unlock()
		return r
	}
	c.mu.Unlock()

	filters, err := c.fetcher.SymbolFilters(ctx, symbol)
	if err != nil {
		c.logger.Warn("fetch symbol filters failed, using default min notional",
			zap.String("symbol", symbol),
			zap.String("min_notional", c.defaultMinNotional.String()),
			zap.Error(err),
		)
		return TradingRules{Symbol: symbol, MinNotional: c.defaultMinNotional, Source: RulesFromDefault}
	}

	r := ParseFilters(symbol, filters)
	if !r.MinNotional.IsPositive() {
		c.logger.Warn("no notional filter, using default min notional",
			zap.String("symbol", symbol),
			zap.String("min_notional", c.defaultMinNotional.String()),
		)
		r.MinNotional = c.defaultMinNotional
	}

	c.mu.Lock()
	c.rules[symbol] = r
	c.mu.Unlock()
	return r
}

// Refresh 丢弃缓存条目，下次 Get 重新拉取。
func (c *RulesCache) Refresh(symbol string) {
	c.mu.Lock()
	delete(c.rules, symbol)
	c.mu.Unlock()
}

// Len 当前缓存条目数。
func (c *RulesCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rules)
}

// ParseFilters 从 filters 中提取 LOT_SIZE / PRICE_FILTER / MIN_NOTIONAL / NOTIONAL。
// 两种名义 filter 同时存在时取更严格的那个。
func ParseFilters(symbol string, filters []SymbolFilter) TradingRules {
	r := TradingRules{Symbol: symbol, Source: RulesFromExchange}
	for _, f := range filters {
		switch f.FilterType {
		case "LOT_SIZE":
			r.StepSize = parseDecimal(f.StepSize)
			r.MinQty = parseDecimal(f.MinQty)
			r.MaxQty = parseDecimal(f.MaxQty)
		case "PRICE_FILTER":
			r.TickSize = parseDecimal(f.TickSize)
		case "MIN_NOTIONAL", "NOTIONAL":
			if v := parseDecimal(f.MinNotional); v.GreaterThan(r.MinNotional) {
				r.MinNotional = v
			}
		}
	}
	return r
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
