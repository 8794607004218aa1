package bracket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signal-executor/gateway"
	"signal-executor/inventory"
	"signal-executor/ledger"
	"signal-executor/order"
)

// Kind 保护单形态
type Kind string

const (
	KindNone       Kind = "NONE"
	KindTakeProfit Kind = "TAKE_PROFIT"
	KindStopLoss   Kind = "STOP_LOSS"
	KindOCO        Kind = "OCO"
	KindSeparate   Kind = "SEPARATE" // OCO 不可用时的两张独立订单
)

// OrderPlacer 下普通保护单
type OrderPlacer interface {
	CreateOrder(ctx context.Context, req order.Request) (*gateway.OrderResponse, error)
}

// RulesProvider 交易规则
type RulesProvider interface {
	Get(ctx context.Context, symbol string) order.TradingRules
}

// Config 止损限价相对触发价的偏移，以及每次下单的节流与超时
type Config struct {
	StopLimitOffset    decimal.Decimal     // 单独止损单，默认 0.005
	OCOStopLimitOffset decimal.Decimal     // OCO 内的止损腿，默认 0.001
	CallTimeout        time.Duration       // 单次交易所调用超时，0 表示沿用上游 ctx
	Limiter            gateway.RateLimiter // 与入场单共用的最小间隔限流，可为空
}

// DefaultConfig 默认偏移
func DefaultConfig() Config {
	return Config{
		StopLimitOffset:    decimal.RequireFromString("0.005"),
		OCOStopLimitOffset: decimal.RequireFromString("0.001"),
	}
}

// Entry 已确认的入场成交
type Entry struct {
	Symbol       string
	Side         order.Side // 入场方向，保护单取反
	ExecutedQty  decimal.Decimal
	AvgPrice     decimal.Decimal
	EntryOrderID string
	SignalID     string
	RunID        uint
}

// Leg 一张保护单的结果
type Leg struct {
	Role    ledger.Role
	Request order.Request
	OrderID int64
	Status  order.Status
	Err     error
}

// Outcome 保护单下单结果
type Outcome struct {
	Kind     Kind
	Fallback bool
	Legs     []Leg
	OCO      *gateway.OCOResponse
	Err      error
}

// OrderIDs 成功下单的订单号
func (o Outcome) OrderIDs() []string {
	var ids []string
	for _, l := range o.Legs {
		if l.Err == nil && l.OrderID != 0 {
			ids = append(ids, strconv.FormatInt(l.OrderID, 10))
		}
	}
	return ids
}

// Failed 全部或部分保护单下单失败
func (o Outcome) Failed() bool {
	if o.Err != nil {
		return true
	}
	for _, l := range o.Legs {
		if l.Err != nil {
			return true
		}
	}
	return false
}

// Record 转成持仓上的记录
func (o Outcome) Record(now time.Time) inventory.BracketRecord {
	rec := inventory.BracketRecord{
		Kind:     string(o.Kind),
		OrderIDs: o.OrderIDs(),
		Fallback: o.Fallback,
		PlacedAt: now,
	}
	var errs []error
	if o.Err != nil {
		errs = append(errs, o.Err)
	}
	for _, l := range o.Legs {
		if l.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l.Role, l.Err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		rec.Error = err.Error()
	}
	return rec
}

// Manager 在入场成交后挂止盈/止损。失败不会撤销入场单。
type Manager struct {
	cfg    Config
	placer OrderPlacer
	rules  RulesProvider
	ledger ledger.Ledger
	book   *inventory.Book
	logger *zap.Logger
	now    func() time.Time
}

// NewManager 创建保护单管理器。ledger 与 book 可以为 nil。
// placer 实现 gateway.OCOPlacer 时优先使用 OCO。
func NewManager(cfg Config, placer OrderPlacer, rules RulesProvider, l ledger.Ledger, book *inventory.Book, logger *zap.Logger) *Manager {
	def := DefaultConfig()
	if !cfg.StopLimitOffset.IsPositive() {
		cfg.StopLimitOffset = def.StopLimitOffset
	}
	if !cfg.OCOStopLimitOffset.IsPositive() {
		cfg.OCOStopLimitOffset = def.OCOStopLimitOffset
	}
	if cfg.CallTimeout < 0 {
		cfg.CallTimeout = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, placer: placer, rules: rules, ledger: l, book: book, logger: logger, now: time.Now}
}

// Place 按止盈/止损目标挂保护单：
// 都没有则不操作；只有止损挂 STOP_LOSS_LIMIT；只有止盈挂 LIMIT；
// 两者都有优先 OCO，不支持时退化为两张独立订单（两张都可能成交）。
func (m *Manager) Place(ctx context.Context, entry Entry, tp, sl *decimal.Decimal) Outcome {
	if tp == nil && sl == nil {
		return Outcome{Kind: KindNone}
	}

	rules := m.rules.Get(ctx, entry.Symbol)
	qty := rules.FloorToStep(entry.ExecutedQty)
	if !qty.IsPositive() {
		out := Outcome{Kind: kindFor(tp, sl), Err: fmt.Errorf("executed qty %s below tradable size", entry.ExecutedQty)}
		m.finish(ctx, entry, out)
		return out
	}
	qtyStr := rules.FormatQty(qty)
	exitSide := entry.Side.Opposite()

	var out Outcome
	switch {
	case tp != nil && sl != nil:
		out = m.placeBoth(ctx, entry, rules, exitSide, qtyStr, *tp, *sl)
	case sl != nil:
		out = Outcome{Kind: KindStopLoss}
		out.Legs = append(out.Legs, m.placeLeg(ctx, entry, m.stopLossRequest(rules, entry.Symbol, exitSide, qtyStr, *sl, m.cfg.StopLimitOffset)))
	default:
		out = Outcome{Kind: KindTakeProfit}
		out.Legs = append(out.Legs, m.placeLeg(ctx, entry, m.takeProfitRequest(rules, entry.Symbol, exitSide, qtyStr, *tp)))
	}
	m.finish(ctx, entry, out)
	return out
}

func (m *Manager) placeBoth(ctx context.Context, entry Entry, rules order.TradingRules, side order.Side, qty string, tp, sl decimal.Decimal) Outcome {
	if oco, ok := m.placer.(gateway.OCOPlacer); ok {
		stopPrice := rules.RoundToTick(sl, order.TickNearest)
		req := gateway.OCORequest{
			Symbol:               entry.Symbol,
			Side:                 side,
			Quantity:             qty,
			Price:                rules.FormatPrice(rules.RoundToTick(tp, order.TickNearest)),
			StopPrice:            rules.FormatPrice(stopPrice),
			StopLimitPrice:       rules.FormatPrice(stopLimitPrice(rules, side, stopPrice, m.cfg.OCOStopLimitOffset)),
			StopLimitTimeInForce: order.TimeInForceGTC,
			ListClientOrderID:    "oco-" + uuid.NewString()[:18],
		}
		var resp *gateway.OCOResponse
		cctx, cancel, err := m.callCtx(ctx)
		if err == nil {
			resp, err = oco.CreateOCO(cctx, req)
		}
		cancel()
		switch {
		case err == nil:
			out := Outcome{Kind: KindOCO, OCO: resp}
			for _, ref := range resp.Orders {
				out.Legs = append(out.Legs, Leg{
					Role:    ledger.RoleOCO,
					OrderID: ref.OrderID,
					Status:  order.StatusNew,
					Request: order.Request{Symbol: req.Symbol, Side: side, Quantity: qty, ClientOrderID: ref.ClientOrderID},
				})
			}
			return out
		case !errors.Is(err, gateway.ErrOCOUnsupported):
			return Outcome{Kind: KindOCO, Err: fmt.Errorf("create oco: %w", err)}
		}
	}

	m.logger.Warn("oco unavailable, placing take-profit and stop-loss separately; both legs may fill",
		zap.String("symbol", entry.Symbol),
		zap.String("entry_order_id", entry.EntryOrderID),
	)
	out := Outcome{Kind: KindSeparate, Fallback: true}
	out.Legs = append(out.Legs,
		m.placeLeg(ctx, entry, m.takeProfitRequest(rules, entry.Symbol, side, qty, tp)),
		m.placeLeg(ctx, entry, m.stopLossRequest(rules, entry.Symbol, side, qty, sl, m.cfg.StopLimitOffset)),
	)
	return out
}

type legRequest struct {
	role ledger.Role
	req  order.Request
}

func (m *Manager) takeProfitRequest(rules order.TradingRules, symbol string, side order.Side, qty string, tp decimal.Decimal) legRequest {
	return legRequest{
		role: ledger.RoleTakeProfit,
		req: order.Request{
			Symbol:        symbol,
			Side:          side,
			Type:          order.TypeLimit,
			Quantity:      qty,
			Price:         rules.FormatPrice(rules.RoundToTick(tp, order.TickNearest)),
			TimeInForce:   order.TimeInForceGTC,
			ClientOrderID: "tp-" + uuid.NewString()[:18],
		},
	}
}

func (m *Manager) stopLossRequest(rules order.TradingRules, symbol string, side order.Side, qty string, sl, offset decimal.Decimal) legRequest {
	stop := rules.RoundToTick(sl, order.TickNearest)
	return legRequest{
		role: ledger.RoleStopLoss,
		req: order.Request{
			Symbol:        symbol,
			Side:          side,
			Type:          order.TypeStopLossLimit,
			Quantity:      qty,
			StopPrice:     rules.FormatPrice(stop),
			Price:         rules.FormatPrice(stopLimitPrice(rules, side, stop, offset)),
			TimeInForce:   order.TimeInForceGTC,
			ClientOrderID: "sl-" + uuid.NewString()[:18],
		},
	}
}

// stopLimitPrice 限价向成交方向偏移：卖出低于触发价，买入高于触发价。
func stopLimitPrice(rules order.TradingRules, side order.Side, stop, offset decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if side == order.SideSell {
		return rules.RoundToTick(stop.Mul(one.Sub(offset)), order.TickDown)
	}
	return rules.RoundToTick(stop.Mul(one.Add(offset)), order.TickUp)
}

func (m *Manager) placeLeg(ctx context.Context, entry Entry, lr legRequest) Leg {
	leg := Leg{Role: lr.role, Request: lr.req}
	var resp *gateway.OrderResponse
	cctx, cancel, err := m.callCtx(ctx)
	if err == nil {
		resp, err = m.placer.CreateOrder(cctx, lr.req)
	}
	cancel()
	if err != nil {
		leg.Err = err
		leg.Status = order.StatusRejected
		m.logger.Error("place protective order failed",
			zap.String("symbol", entry.Symbol),
			zap.String("role", string(lr.role)),
			zap.Error(err),
		)
		m.persist(ctx, entry, leg, nil)
		return leg
	}
	leg.OrderID = resp.OrderID
	leg.Status = order.Status(resp.Status)
	if leg.Status == "" {
		leg.Status = order.StatusNew
	}
	m.logger.Info("protective order placed",
		zap.String("symbol", entry.Symbol),
		zap.String("role", string(lr.role)),
		zap.Int64("order_id", resp.OrderID),
		zap.String("price", lr.req.Price),
		zap.String("stop_price", lr.req.StopPrice),
		zap.String("quantity", lr.req.Quantity),
	)
	m.persist(ctx, entry, leg, resp.Raw)
	return leg
}

// callCtx 先过限流再套上单次超时；限流失败时返回的 cancel 也可直接调用。
func (m *Manager) callCtx(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if m.cfg.Limiter != nil {
		if err := m.cfg.Limiter.Wait(ctx); err != nil {
			return ctx, func() {}, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if m.cfg.CallTimeout > 0 {
		cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		return cctx, cancel, nil
	}
	return ctx, func() {}, nil
}

// finish 记录到持仓与账本（OCO 腿在这里落库）。
func (m *Manager) finish(ctx context.Context, entry Entry, out Outcome) {
	if out.Kind == KindOCO && out.OCO != nil {
		for _, leg := range out.Legs {
			m.persist(ctx, entry, leg, out.OCO.Raw)
		}
	}
	if out.Err != nil {
		m.logger.Error("bracket placement failed",
			zap.String("symbol", entry.Symbol),
			zap.String("kind", string(out.Kind)),
			zap.Error(out.Err),
		)
	}
	if m.book != nil {
		if !m.book.AttachBracket(entry.Symbol, out.Record(m.now().UTC())) {
			m.logger.Warn("no open position to attach bracket", zap.String("symbol", entry.Symbol))
		}
	}
}

// persist 保护单记录属于次要写入，失败只记日志。
func (m *Manager) persist(ctx context.Context, entry Entry, leg Leg, raw json.RawMessage) {
	if m.ledger == nil {
		return
	}
	reqPayload, _ := json.Marshal(leg.Request)
	rec := &ledger.OrderRecord{
		ClientOrderID:   leg.Request.ClientOrderID,
		SignalID:        entry.SignalID,
		RunID:           entry.RunID,
		Symbol:          entry.Symbol,
		Side:            leg.Request.Side,
		Type:            leg.Request.Type,
		Role:            leg.Role,
		Status:          leg.Status,
		RequestedQty:    decOrZero(leg.Request.Quantity),
		Price:           decOrZero(leg.Request.Price),
		StopPrice:       decOrZero(leg.Request.StopPrice),
		ExecutedQty:     decimal.Zero,
		CumQuote:        decimal.Zero,
		AvgPrice:        decimal.Zero,
		RequestPayload:  string(reqPayload),
		ResponsePayload: string(raw),
		IsWorking:       leg.Err == nil && !leg.Status.IsTerminal(),
	}
	if leg.Err != nil {
		rec.ExchangeOrderID = "FAILED-" + uuid.NewString()
		rec.LastError = leg.Err.Error()
	} else {
		rec.ExchangeOrderID = strconv.FormatInt(leg.OrderID, 10)
	}
	if rec.Type == "" {
		rec.Type = order.TypeLimit
	}
	if err := m.ledger.CreateOrderRecord(ctx, rec); err != nil {
		m.logger.Error("persist protective order failed",
			zap.String("symbol", entry.Symbol),
			zap.String("role", string(leg.Role)),
			zap.Error(err),
		)
	}
}

func kindFor(tp, sl *decimal.Decimal) Kind {
	switch {
	case tp != nil && sl != nil:
		return KindOCO
	case sl != nil:
		return KindStopLoss
	default:
		return KindTakeProfit
	}
}

func decOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
