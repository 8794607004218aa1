package risk

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signal-executor/order"
	"signal-executor/signal"
)

// BalanceSource 查询可用余额。
type BalanceSource interface {
	AvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error)
}

// PriceSource 查询最新成交价。
type PriceSource interface {
	SymbolPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// RulesProvider 提供交易对规则，由 order.RulesCache 实现。
type RulesProvider interface {
	Get(ctx context.Context, symbol string) order.TradingRules
}

// SizerConfig 仓位计算配置
type SizerConfig struct {
	QuoteAsset string // 计价资产，默认 USDT
}

// Sizer 把信号换算成满足交易规则的市价单。不修改任何状态，
// 相同输入总是得到相同的请求。
type Sizer struct {
	cfg     SizerConfig
	guard   Guard
	balance BalanceSource
	prices  PriceSource
	rules   RulesProvider
	logger  *zap.Logger
}

// NewSizer 创建仓位计算器。guard 可以为 nil。
func NewSizer(cfg SizerConfig, guard Guard, balance BalanceSource, prices PriceSource, rules RulesProvider, logger *zap.Logger) *Sizer {
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sizer{
		cfg:     cfg,
		guard:   guard,
		balance: balance,
		prices:  prices,
		rules:   rules,
		logger:  logger,
	}
}

// Size 依次执行敞口、余额、价格、名义、量化检查。失败返回 *Rejection。
func (s *Sizer) Size(ctx context.Context, sig signal.Signal) (order.Request, error) {
	// 1. 敞口
	if s.guard != nil {
		if err := s.guard.PreSize(ctx, sig); err != nil {
			return order.Request{}, err
		}
	}

	// 2. 余额
	balance, err := s.balance.AvailableBalance(ctx, s.cfg.QuoteAsset)
	if err != nil {
		r := reject(ErrInsufficientBalance, "fetch %s balance", s.cfg.QuoteAsset)
		r.Cause = err
		return order.Request{}, r
	}
	if !balance.IsPositive() {
		return order.Request{}, reject(ErrInsufficientBalance, "%s balance %s", s.cfg.QuoteAsset, balance)
	}

	// 3. 价格
	price, err := s.prices.SymbolPrice(ctx, sig.Symbol)
	if err != nil {
		r := reject(ErrInvalidMarketPrice, "fetch %s price", sig.Symbol)
		r.Cause = err
		return order.Request{}, r
	}
	if !price.IsPositive() {
		return order.Request{}, reject(ErrInvalidMarketPrice, "%s price %s", sig.Symbol, price)
	}

	// 4. 名义金额
	var quote decimal.Decimal
	if sig.PositionSizeUSDT != nil {
		quote = *sig.PositionSizeUSDT
	} else {
		frac := sig.Risk.PositionSize
		if !frac.IsPositive() || frac.GreaterThan(decimal.NewFromInt(1)) {
			return order.Request{}, reject(ErrInvalidPositionFraction, "position_size %s", frac)
		}
		quote = balance.Mul(frac)
	}

	// 5. 换算前先检查最小名义
	rules := s.rules.Get(ctx, sig.Symbol)
	if quote.LessThan(rules.MinNotional) {
		return order.Request{}, reject(ErrNotionalBelowMinimum, "quote %s < min notional %s", quote, rules.MinNotional)
	}

	// 6/7. 截断换算并按步长量化
	qty := rules.QtyForQuote(quote, price)
	if !qty.IsPositive() {
		return order.Request{}, reject(ErrQuantityZeroAfterQuantization,
			"quote %s price %s step %s minQty %s", quote, price, rules.StepSize, rules.MinQty)
	}

	// 8. 量化只会缩小名义，必须复查
	notional := qty.Mul(price)
	if notional.LessThan(rules.MinNotional) {
		return order.Request{}, reject(ErrNotionalBelowMinimum, "quantized notional %s < min notional %s", notional, rules.MinNotional)
	}

	req := order.Request{
		Symbol:      sig.Symbol,
		Side:        sig.Side,
		Type:        order.TypeMarket,
		Quantity:    rules.FormatQty(qty),
		QuoteAmount: quote,
		MarketPrice: price,
		Notional:    notional,
	}
	s.logger.Debug("order sized",
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("quantity", req.Quantity),
		zap.String("price", price.String()),
		zap.String("quote", quote.String()),
		zap.String("rules_source", string(rules.Source)),
	)
	return req, nil
}
