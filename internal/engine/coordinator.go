package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signal-executor/bracket"
	"signal-executor/gateway"
	"signal-executor/infrastructure/alert"
	"signal-executor/infrastructure/logger"
	"signal-executor/infrastructure/monitor"
	"signal-executor/inventory"
	"signal-executor/ledger"
	"signal-executor/order"
	"signal-executor/risk"
	"signal-executor/signal"
)

// ErrLedgerWrite 已执行订单的主记录写入失败。
var ErrLedgerWrite = errors.New("ledger write failed")

// EngineState 协调器状态
type EngineState int

const (
	StateIdle EngineState = iota
	StateRunning
	StateStopped
)

func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config 协调器配置
type Config struct {
	MaxAttempts       int           // 含首次提交，默认 3
	BaseBackoff       time.Duration // 默认 500ms，每次翻倍
	MaxBackoff        time.Duration // 默认 8s
	SubmitDeadline    time.Duration // 整个重试过程的上限，0 表示不限
	CallTimeout       time.Duration // 单次交易所调用超时，默认 10s
	HaltOnLedgerError bool          // 主记录写入失败时停止 Run
	ConfirmBuffer     int           // 确认通道容量，默认 64
	ExecutionBuffer   int           // 订单回报缓冲，默认 256
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		BaseBackoff:       500 * time.Millisecond,
		MaxBackoff:        8 * time.Second,
		CallTimeout:       10 * time.Second,
		HaltOnLedgerError: true,
		ConfirmBuffer:     64,
		ExecutionBuffer:   256,
	}
}

// Sizer 把信号换算成订单请求；拒绝时返回 *risk.Rejection。
type Sizer interface {
	Size(ctx context.Context, sig signal.Signal) (order.Request, error)
}

// BracketPlacer 入场成交后挂保护单
type BracketPlacer interface {
	Place(ctx context.Context, entry bracket.Entry, tp, sl *decimal.Decimal) bracket.Outcome
}

// Components 协调器依赖组件，Monitor / Alerts / Brackets / Limiter 可为空。
type Components struct {
	Exchange  gateway.Exchange
	Sizer     Sizer
	Validator *signal.Validator
	Signals   <-chan map[string]any
	Ledger    ledger.Ledger
	Brackets  BracketPlacer
	Book      *inventory.Book
	Limiter   gateway.RateLimiter
	Monitor   *monitor.Monitor
	Alerts    *alert.Manager
	Logger    *logger.Logger
}

// ConfirmStatus 提交确认状态
type ConfirmStatus string

const (
	ConfirmOpen     ConfirmStatus = "OPEN"
	ConfirmRejected ConfirmStatus = "REJECTED"
	ConfirmFailed   ConfirmStatus = "FAILED"
)

// Confirmation 每个信号处理完毕后发出的确认
type Confirmation struct {
	SignalID    string
	Symbol      string
	Status      ConfirmStatus
	OrderID     string
	ExecutedQty decimal.Decimal
	AvgPrice    decimal.Decimal
	Reason      string
}

// Statistics 协调器统计信息
type Statistics struct {
	StartTime      time.Time
	TotalSignals   int64
	TotalInvalid   int64
	TotalRejected  int64
	TotalOrders    int64
	TotalFailed    int64
	TotalFills     int64
	LastSignalTime time.Time
}

// Coordinator 单消费者：逐个处理信号，同一 goroutine 内应用订单回报。
type Coordinator struct {
	cfg Config

	exchange  gateway.Exchange
	sizer     Sizer
	validator *signal.Validator
	signals   <-chan map[string]any
	ledger    ledger.Ledger
	brackets  BracketPlacer
	book      *inventory.Book
	limiter   gateway.RateLimiter
	monitor   *monitor.Monitor
	alerts    *alert.Manager
	logger    *logger.Logger
	log       *zap.Logger

	states   *order.StateMachine
	fills    *order.FillTracker
	execs    chan gateway.ExecutionReport
	confirms chan Confirmation
	done     chan struct{}
	doneOnce sync.Once

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	runID atomic.Uint64 // 当前运行，写入订单与信号记录

	state   EngineState
	stateMu sync.RWMutex
	stats   Statistics
	statsMu sync.RWMutex
}

// New 创建协调器
func New(cfg Config, comp Components) (*Coordinator, error) {
	if err := validateComponents(comp); err != nil {
		return nil, fmt.Errorf("invalid components: %w", err)
	}
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.CallTimeout < 0 {
		cfg.CallTimeout = 0
	}
	if cfg.ConfirmBuffer <= 0 {
		cfg.ConfirmBuffer = def.ConfirmBuffer
	}
	if cfg.ExecutionBuffer <= 0 {
		cfg.ExecutionBuffer = def.ExecutionBuffer
	}

	limiter := comp.Limiter
	if limiter == nil {
		limiter = gateway.NewMinIntervalLimiter(0)
	}
	book := comp.Book
	if book == nil {
		book = inventory.NewBook()
	}
	lg := comp.Logger
	if lg == nil {
		lg = logger.Wrap(zap.NewNop())
	}
	validator := comp.Validator
	if validator == nil {
		validator = signal.NewValidator(signal.DefaultRiskParams(), lg.Named("signal"))
	}

	return &Coordinator{
		cfg:       cfg,
		exchange:  comp.Exchange,
		sizer:     comp.Sizer,
		validator: validator,
		signals:   comp.Signals,
		ledger:    comp.Ledger,
		brackets:  comp.Brackets,
		book:      book,
		limiter:   limiter,
		monitor:   comp.Monitor,
		alerts:    comp.Alerts,
		logger:    lg,
		log:       lg.Named("coordinator"),
		states:    order.NewStateMachine(),
		fills:     order.NewFillTracker(),
		execs:     make(chan gateway.ExecutionReport, cfg.ExecutionBuffer),
		confirms:  make(chan Confirmation, cfg.ConfirmBuffer),
		done:      make(chan struct{}),
		sleep:     sleepCtx,
		now:       time.Now,
		state:     StateIdle,
	}, nil
}

func validateComponents(comp Components) error {
	if comp.Exchange == nil {
		return errors.New("exchange is required")
	}
	if comp.Sizer == nil {
		return errors.New("sizer is required")
	}
	if comp.Ledger == nil {
		return errors.New("ledger is required")
	}
	return nil
}

// Run 阻塞运行消费循环，直到 ctx 结束，或主记录写入失败且 HaltOnLedgerError 开启。
func (c *Coordinator) Run(ctx context.Context) error {
	c.stateMu.Lock()
	if c.state != StateIdle {
		c.stateMu.Unlock()
		return fmt.Errorf("coordinator already started (state: %s)", c.state)
	}
	c.state = StateRunning
	c.stateMu.Unlock()

	c.statsMu.Lock()
	c.stats.StartTime = c.now()
	c.statsMu.Unlock()

	defer func() {
		c.stateMu.Lock()
		c.state = StateStopped
		c.stateMu.Unlock()
		c.doneOnce.Do(func() { close(c.done) })
	}()

	c.log.Info("coordinator started",
		zap.Int("max_attempts", c.cfg.MaxAttempts),
		zap.Duration("base_backoff", c.cfg.BaseBackoff),
		zap.Bool("halt_on_ledger_error", c.cfg.HaltOnLedgerError),
	)

	signals := c.signals
	for {
		select {
		case <-ctx.Done():
			c.log.Info("coordinator stopping", zap.Error(ctx.Err()))
			return nil

		case raw, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			if err := c.HandleRaw(ctx, raw); err != nil {
				if errors.Is(err, ErrLedgerWrite) && c.cfg.HaltOnLedgerError {
					c.log.Error("halting on ledger failure", zap.Error(err))
					return err
				}
			}

		case rep := <-c.execs:
			c.applyExecution(ctx, rep)
		}
	}
}

// HandleRaw 校验原始信号并处理；非法信号记录后丢弃。
func (c *Coordinator) HandleRaw(ctx context.Context, raw map[string]any) error {
	c.monitor.RecordSignalReceived()
	c.statsMu.Lock()
	c.stats.TotalSignals++
	c.stats.LastSignalTime = c.now()
	c.statsMu.Unlock()

	sig, ok := c.validator.TryValidate(raw, func(err error) {
		c.monitor.RecordSignalInvalid()
		c.statsMu.Lock()
		c.stats.TotalInvalid++
		c.statsMu.Unlock()
		id, _ := raw["id"].(string)
		sym, _ := raw["symbol"].(string)
		c.logger.LogSignal(string(ledger.SignalInvalid), id, sym, zap.Error(err))
		payload, _ := json.Marshal(raw)
		c.recordSignal(ctx, &ledger.SignalRecord{
			SignalID:   id,
			Symbol:     sym,
			Outcome:    ledger.SignalInvalid,
			Reason:     err.Error(),
			RawPayload: string(payload),
			Price:      decimal.Zero,
		})
	})
	if !ok {
		return nil
	}
	return c.Process(ctx, sig)
}

// Process 处理一个已校验信号：计算仓位、提交、记账、登记持仓、快照余额、挂保护单。
func (c *Coordinator) Process(ctx context.Context, sig signal.Signal) error {
	sctx, cancel := c.callCtx(ctx)
	req, err := c.sizer.Size(sctx, sig)
	cancel()
	if err != nil {
		c.statsMu.Lock()
		c.stats.TotalRejected++
		c.statsMu.Unlock()
		code, reason := rejectionCode(err), err.Error()
		c.monitor.RecordSizingRejection(code)
		c.logger.LogRejection(code, sig.Symbol, zap.String("signal_id", sig.ID), zap.String("detail", reason))
		c.recordSignalOutcome(ctx, sig, ledger.SignalRejected, reason)
		c.confirm(Confirmation{SignalID: sig.ID, Symbol: sig.Symbol, Status: ConfirmRejected, Reason: reason})
		return nil
	}

	req.ClientOrderID = newClientOrderID()
	state := order.AttemptPending
	c.transition(&state, order.AttemptSubmitted, req)

	c.monitor.RecordOrderSubmitted()
	c.statsMu.Lock()
	c.stats.TotalOrders++
	c.statsMu.Unlock()
	c.logger.LogOrder("submit", req.ClientOrderID,
		zap.String("signal_id", sig.ID),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("quantity", req.Quantity),
		zap.String("notional", req.Notional.String()),
	)

	switch r := c.Submit(ctx, req).(type) {
	case Accepted:
		c.transition(&state, order.AttemptFromStatus(r.Status), req)
		return c.onAccepted(ctx, sig, req, r)
	case Rejected:
		c.transition(&state, order.AttemptState(order.StatusRejected), req)
		c.monitor.RecordOrderRejected()
		return c.onFailed(ctx, sig, req, ConfirmRejected, r.Error(), r.Raw)
	case TransportFailure:
		c.transition(&state, order.AttemptSubmitFailed, req)
		c.monitor.RecordOrderFailed()
		return c.onFailed(ctx, sig, req, ConfirmFailed, r.Error(), nil)
	default:
		return fmt.Errorf("unexpected submit result %T", r)
	}
}

func (c *Coordinator) onAccepted(ctx context.Context, sig signal.Signal, req order.Request, r Accepted) error {
	c.monitor.RecordOrderAccepted()
	orderID := strconv.FormatInt(r.OrderID, 10)
	c.logger.LogOrder("accepted", orderID,
		zap.String("signal_id", sig.ID),
		zap.String("symbol", req.Symbol),
		zap.String("status", string(r.Status)),
		zap.String("executed_qty", r.ExecutedQty.String()),
		zap.String("avg_price", r.AvgPrice.String()),
	)

	ledgerErr := c.persistAccepted(ctx, sig, req, r, orderID)

	// 只用交易所确认的成交登记持仓，未成交的挂单等回报里的成交再登记
	filled := r.ExecutedQty.IsPositive()
	if filled {
		c.book.Open(inventory.Position{
			Symbol:           req.Symbol,
			Side:             req.Side,
			ExecutedQty:      r.ExecutedQty,
			AvgPrice:         r.AvgPrice,
			ExpectedNotional: req.Notional,
			EntryOrderID:     orderID,
			OpenedAt:         c.now().UTC(),
		})
		c.monitor.SetOpenPositions(c.book.Count())

		if sig.HasBracket() && c.brackets != nil {
			c.placeBrackets(ctx, sig, req, r, orderID)
		}
	}

	status, reason := ConfirmOpen, ""
	if !filled && r.Status.IsTerminal() {
		status, reason = ConfirmRejected, fmt.Sprintf("order %s with no fill", r.Status)
		c.log.Warn("accepted order closed without execution",
			zap.String("signal_id", sig.ID),
			zap.String("symbol", req.Symbol),
			zap.String("order_id", orderID),
			zap.String("status", string(r.Status)),
		)
	}
	cf := Confirmation{SignalID: sig.ID, Symbol: req.Symbol, Status: status, OrderID: orderID,
		ExecutedQty: r.ExecutedQty, AvgPrice: r.AvgPrice, Reason: reason}

	if ledgerErr != nil {
		c.recordSignalOutcome(ctx, sig, ledger.SignalFailed, ledgerErr.Error())
		cf.Reason = ledgerErr.Error()
		c.confirm(cf)
		return ledgerErr
	}
	if status == ConfirmRejected {
		c.recordSignalOutcome(ctx, sig, ledger.SignalRejected, reason)
	} else {
		c.recordSignalOutcome(ctx, sig, ledger.SignalAccepted, "")
	}
	c.confirm(cf)
	return nil
}

// persistAccepted 主记录失败返回 ErrLedgerWrite，其余写入只记日志。
func (c *Coordinator) persistAccepted(ctx context.Context, sig signal.Signal, req order.Request, r Accepted, orderID string) error {
	reqPayload, _ := json.Marshal(req)
	rec := &ledger.OrderRecord{
		ExchangeOrderID: orderID,
		ClientOrderID:   req.ClientOrderID,
		SignalID:        sig.ID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		Role:            ledger.RoleEntry,
		Status:          r.Status,
		RequestedQty:    decOrZero(req.Quantity),
		Price:           req.MarketPrice,
		StopPrice:       decimal.Zero,
		ExecutedQty:     decimal.Zero,
		CumQuote:        decimal.Zero,
		AvgPrice:        decimal.Zero,
		RequestPayload:  string(reqPayload),
		ResponsePayload: string(r.Raw),
		IsWorking:       true,
		RunID:           c.RunID(),
	}
	if err := c.ledger.CreateOrderRecord(ctx, rec); err != nil {
		c.monitor.RecordLedgerError("create_order")
		c.log.Error("persist executed order failed",
			zap.String("symbol", req.Symbol),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		_ = c.alerts.LedgerFailure(req.Symbol, orderID, err)
		return fmt.Errorf("%w: order %s: %v", ErrLedgerWrite, orderID, err)
	}
	c.audit(ctx, "INFO", orderID,
		fmt.Sprintf("order created %s %s %s qty=%s status=%s", req.Symbol, req.Side, req.Type, req.Quantity, r.Status),
		map[string]any{"request": json.RawMessage(reqPayload), "response": rawOrNull(r.Raw)})

	for _, f := range r.Fills {
		c.fills.RecordFill(orderID, f)
		if err := c.ledger.AddFill(ctx, rec.ID, f); err != nil {
			c.secondaryError("add_fill", orderID, err)
		}
	}
	c.statsMu.Lock()
	c.stats.TotalFills += int64(len(r.Fills))
	c.statsMu.Unlock()

	if err := c.ledger.UpdateExecQuantities(ctx, rec.ID, r.ExecutedQty, r.CumQuote, r.AvgPrice); err != nil {
		c.secondaryError("update_exec", orderID, err)
	}
	if r.Status.IsTerminal() {
		if err := c.ledger.SetWorking(ctx, rec.ID, false); err != nil {
			c.secondaryError("set_working", orderID, err)
		}
		c.fills.Forget(orderID)
	}
	if r.Status == order.StatusFilled {
		c.snapshotBalances(ctx, rec.ID, orderID)
	}
	return nil
}

// onFailed 拒绝或传输失败：用合成 id 记一条 REJECTED 记录，不登记持仓。
func (c *Coordinator) onFailed(ctx context.Context, sig signal.Signal, req order.Request, status ConfirmStatus, reason string, raw json.RawMessage) error {
	c.statsMu.Lock()
	c.stats.TotalFailed++
	c.statsMu.Unlock()
	c.log.Error("order not executed",
		zap.String("signal_id", sig.ID),
		zap.String("symbol", req.Symbol),
		zap.String("client_order_id", req.ClientOrderID),
		zap.String("result", string(status)),
		zap.String("reason", reason),
	)

	reqPayload, _ := json.Marshal(req)
	rec := &ledger.OrderRecord{
		ExchangeOrderID: "FAILED-" + uuid.NewString(),
		ClientOrderID:   req.ClientOrderID,
		SignalID:        sig.ID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		Role:            ledger.RoleEntry,
		Status:          order.StatusRejected,
		RequestedQty:    decOrZero(req.Quantity),
		Price:           req.MarketPrice,
		StopPrice:       decimal.Zero,
		ExecutedQty:     decimal.Zero,
		CumQuote:        decimal.Zero,
		AvgPrice:        decimal.Zero,
		RequestPayload:  string(reqPayload),
		ResponsePayload: string(raw),
		LastError:       reason,
		RunID:           c.RunID(),
	}
	outcome := ledger.SignalFailed
	if status == ConfirmRejected {
		outcome = ledger.SignalRejected
	}
	c.confirm(Confirmation{SignalID: sig.ID, Symbol: req.Symbol, Status: status, Reason: reason})

	if err := c.ledger.CreateOrderRecord(ctx, rec); err != nil {
		c.monitor.RecordLedgerError("create_order")
		c.log.Error("persist failed order failed", zap.String("symbol", req.Symbol), zap.Error(err))
		_ = c.alerts.LedgerFailure(req.Symbol, rec.ExchangeOrderID, err)
		c.recordSignalOutcome(ctx, sig, outcome, reason)
		return fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	c.audit(ctx, "ERROR", rec.ExchangeOrderID,
		fmt.Sprintf("order not executed %s %s %s: %s", req.Symbol, req.Side, status, reason),
		map[string]any{"request": json.RawMessage(reqPayload), "response": rawOrNull(raw)})
	c.recordSignalOutcome(ctx, sig, outcome, reason)
	return nil
}

func (c *Coordinator) placeBrackets(ctx context.Context, sig signal.Signal, req order.Request, r Accepted, orderID string) {
	out := c.brackets.Place(ctx, bracket.Entry{
		Symbol:       req.Symbol,
		Side:         req.Side,
		ExecutedQty:  r.ExecutedQty,
		AvgPrice:     r.AvgPrice,
		EntryOrderID: orderID,
		SignalID:     sig.ID,
		RunID:        c.RunID(),
	}, sig.TakeProfit, sig.StopLoss)

	result := "ok"
	switch {
	case out.Failed():
		result = "failed"
		rec := out.Record(c.now())
		_ = c.alerts.BracketFailure(req.Symbol, string(out.Kind), errors.New(rec.Error))
	case out.Fallback:
		result = "fallback"
	}
	c.monitor.RecordBracket(string(out.Kind), result)
	c.logger.LogOrder("bracket", orderID,
		zap.String("symbol", req.Symbol),
		zap.String("kind", string(out.Kind)),
		zap.String("result", result),
		zap.Strings("protective_order_ids", out.OrderIDs()),
	)
}

func (c *Coordinator) snapshotBalances(ctx context.Context, recordID uint, orderID string) {
	if err := c.limiter.Wait(ctx); err != nil {
		return
	}
	cctx, cancel := c.callCtx(ctx)
	acct, err := c.exchange.Account(cctx)
	cancel()
	if err != nil {
		c.log.Warn("balance snapshot skipped", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	snaps := make([]ledger.BalanceSnapshot, 0, len(acct.Balances))
	for _, b := range acct.Balances {
		free, locked := decOrZero(b.Free), decOrZero(b.Locked)
		total := free.Add(locked)
		if total.IsZero() {
			continue
		}
		snaps = append(snaps, ledger.BalanceSnapshot{Asset: b.Asset, Free: free, Locked: locked, Total: total})
	}
	if err := c.ledger.RecordBalanceSnapshot(ctx, recordID, snaps); err != nil {
		c.secondaryError("balance_snapshot", orderID, err)
	}

	accountID := acct.AccountType
	if accountID == "" {
		accountID = "SPOT"
	}
	if err := c.ledger.UpsertAccountSummary(ctx, &ledger.AccountSummary{
		Exchange:        "BINANCE",
		AccountID:       accountID,
		AccountType:     accountID,
		CanTrade:        acct.CanTrade,
		CanWithdraw:     acct.CanWithdraw,
		CanDeposit:      acct.CanDeposit,
		MakerCommission: acct.MakerCommission,
		TakerCommission: acct.TakerCommission,
		Permissions:     strings.Join(acct.Permissions, ","),
	}); err != nil {
		c.secondaryError("account_summary", orderID, err)
	}
	c.audit(ctx, "INFO", orderID, fmt.Sprintf("balance snapshot after FILLED, %d assets", len(snaps)), nil)
}

// OnExecution 交给用户数据流回调，回报在 Run 的 goroutine 上处理。
func (c *Coordinator) OnExecution(rep gateway.ExecutionReport) {
	select {
	case c.execs <- rep:
	case <-c.done:
	}
}

// applyExecution 把订单回报落账：成交按 tradeId 去重，保护单成交减少持仓。
func (c *Coordinator) applyExecution(ctx context.Context, rep gateway.ExecutionReport) {
	c.monitor.RecordStreamEvent(rep.ExecutionType)
	orderID := strconv.FormatInt(rep.OrderID, 10)

	rec, err := c.ledger.FindByExchangeOrderID(ctx, rep.Symbol, orderID)
	if errors.Is(err, ledger.ErrNotFound) {
		c.log.Debug("execution report for untracked order",
			zap.String("symbol", rep.Symbol),
			zap.String("order_id", orderID),
		)
		return
	}
	if err != nil {
		c.secondaryError("find_order", orderID, err)
		return
	}
	// 终态订单不会再有新成交，重放的回报直接忽略
	if rec.Status.IsTerminal() {
		c.log.Debug("execution report for closed order",
			zap.String("order_id", orderID),
			zap.String("status", string(rec.Status)),
			zap.String("execution_type", rep.ExecutionType),
		)
		return
	}

	if rep.IsTrade() {
		fill := rep.Fill()
		if c.fills.RecordFill(orderID, fill) {
			c.statsMu.Lock()
			c.stats.TotalFills++
			c.statsMu.Unlock()
			if err := c.ledger.AddFill(ctx, rec.ID, fill); err != nil {
				c.secondaryError("add_fill", orderID, err)
			}
			avg := decimal.Zero
			if rep.CumQty.IsPositive() {
				avg = rep.CumQuote.Div(rep.CumQty)
			}
			if err := c.ledger.UpdateExecQuantities(ctx, rec.ID, rep.CumQty, rep.CumQuote, avg); err != nil {
				c.secondaryError("update_exec", orderID, err)
			}
			if rec.Role == ledger.RoleEntry {
				c.onEntryFill(rep, rec, fill)
			} else {
				c.onExitFill(rep, rec, fill)
			}
		}
	}

	// 对账回报只有累计值，差额按一笔成交处理
	if rep.ExecutionType == ExecReconcile && rep.CumQty.GreaterThan(rec.ExecutedQty) {
		c.applyReconciledQty(ctx, rep, rec, orderID)
	}

	if rep.Status != "" && rep.Status != rec.Status {
		if err := c.states.ValidateTransition(order.AttemptFromStatus(rec.Status), order.AttemptFromStatus(rep.Status)); err != nil {
			c.log.Warn("unexpected order status change",
				zap.String("order_id", orderID),
				zap.Error(err),
			)
		}
		if err := c.ledger.UpdateStatus(ctx, rec.ID, rep.Status, rep.RejectReason); err != nil {
			c.secondaryError("update_status", orderID, err)
		}
		c.logger.LogOrder("status", orderID,
			zap.String("symbol", rep.Symbol),
			zap.String("role", string(rec.Role)),
			zap.String("from", string(rec.Status)),
			zap.String("to", string(rep.Status)),
		)
	}
	if rep.Status.IsTerminal() {
		c.fills.Forget(orderID)
	}
}

func (c *Coordinator) applyReconciledQty(ctx context.Context, rep gateway.ExecutionReport, rec *ledger.OrderRecord, orderID string) {
	delta := rep.CumQty.Sub(rec.ExecutedQty)
	avg := rep.CumQuote.Div(rep.CumQty)
	if err := c.ledger.UpdateExecQuantities(ctx, rec.ID, rep.CumQty, rep.CumQuote, avg); err != nil {
		c.secondaryError("update_exec", orderID, err)
	}
	fill := order.Fill{TradeID: -1, Price: avg, Qty: delta}
	if rec.Role == ledger.RoleEntry {
		c.onEntryFill(rep, rec, fill)
	} else {
		c.onExitFill(rep, rec, fill)
	}
}

// onEntryFill 入场单在提交响应之后的成交，按成交量加仓。
func (c *Coordinator) onEntryFill(rep gateway.ExecutionReport, rec *ledger.OrderRecord, fill order.Fill) {
	pos := c.book.Open(inventory.Position{
		Symbol:           rec.Symbol,
		Side:             rec.Side,
		ExecutedQty:      fill.Qty,
		AvgPrice:         fill.Price,
		ExpectedNotional: fill.Qty.Mul(fill.Price),
		EntryOrderID:     rec.ExchangeOrderID,
		OpenedAt:         c.now().UTC(),
	})
	c.monitor.SetOpenPositions(c.book.Count())
	c.logger.LogOrder("entry_fill", strconv.FormatInt(rep.OrderID, 10),
		zap.String("symbol", rec.Symbol),
		zap.String("fill_qty", fill.Qty.String()),
		zap.String("position_qty", pos.ExecutedQty.String()),
	)
}

func (c *Coordinator) onExitFill(rep gateway.ExecutionReport, rec *ledger.OrderRecord, fill order.Fill) {
	pos, open := c.book.Reduce(rep.Symbol, fill.Qty)
	c.monitor.SetOpenPositions(c.book.Count())
	if !open {
		c.logger.LogOrder("position_closed", strconv.FormatInt(rep.OrderID, 10),
			zap.String("symbol", rep.Symbol),
			zap.String("role", string(rec.Role)),
			zap.String("exit_price", fill.Price.String()),
		)
		return
	}
	c.log.Info("position reduced by protective order",
		zap.String("symbol", rep.Symbol),
		zap.String("role", string(rec.Role)),
		zap.String("remaining_qty", pos.ExecutedQty.String()),
	)
}

// SetRiskDefaults 热更新默认风险参数
func (c *Coordinator) SetRiskDefaults(p signal.RiskParams) {
	c.validator.SetDefaults(p)
	c.log.Info("risk defaults updated",
		zap.String("position_size", p.PositionSize.String()),
		zap.Int("max_open_positions", p.MaxOpenPositions),
	)
}

// SetRunID 绑定当前运行记录，之后的订单与信号记录带上该 id。
func (c *Coordinator) SetRunID(id uint) {
	c.runID.Store(uint64(id))
}

func (c *Coordinator) RunID() uint {
	return uint(c.runID.Load())
}

// Confirmations 提交确认通道；消费者跟不上时确认会被丢弃。
func (c *Coordinator) Confirmations() <-chan Confirmation {
	return c.confirms
}

func (c *Coordinator) confirm(cf Confirmation) {
	select {
	case c.confirms <- cf:
	default:
		c.log.Debug("confirmation dropped", zap.String("signal_id", cf.SignalID))
	}
}

// Positions 当前持仓快照
func (c *Coordinator) Positions() []inventory.Position {
	return c.book.Snapshot()
}

// GetState 获取协调器状态
func (c *Coordinator) GetState() EngineState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// GetStatistics 获取统计信息
func (c *Coordinator) GetStatistics() Statistics {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.stats
}

func (c *Coordinator) transition(state *order.AttemptState, to order.AttemptState, req order.Request) {
	if err := c.states.ValidateTransition(*state, to); err != nil {
		c.log.Warn("illegal attempt transition",
			zap.String("client_order_id", req.ClientOrderID),
			zap.Error(err),
		)
	}
	c.log.Debug("attempt state",
		zap.String("client_order_id", req.ClientOrderID),
		zap.String("from", string(*state)),
		zap.String("to", string(to)),
	)
	*state = to
}

func (c *Coordinator) recordSignalOutcome(ctx context.Context, sig signal.Signal, outcome ledger.SignalOutcome, reason string) {
	c.logger.LogSignal(string(outcome), sig.ID, sig.Symbol, zap.String("reason", reason))
	c.recordSignal(ctx, &ledger.SignalRecord{
		SignalID: sig.ID,
		Symbol:   sig.Symbol,
		Side:     string(sig.Side),
		Strategy: sig.Strategy,
		Price:    sig.Price,
		Outcome:  outcome,
		Reason:   reason,
	})
}

func (c *Coordinator) recordSignal(ctx context.Context, rec *ledger.SignalRecord) {
	rec.RunID = c.RunID()
	if err := c.ledger.RecordSignal(ctx, rec); err != nil {
		c.secondaryError("record_signal", rec.SignalID, err)
	}
}

// audit 写一条订单审计日志，fields 序列化为 JSON 上下文。
func (c *Coordinator) audit(ctx context.Context, level, correlationID, msg string, fields map[string]any) {
	entry := &ledger.AuditLog{
		RunID:         c.RunID(),
		Level:         level,
		Component:     "engine",
		CorrelationID: correlationID,
		Message:       msg,
	}
	if len(fields) > 0 {
		if b, err := json.Marshal(fields); err == nil {
			entry.Context = string(b)
		}
	}
	if err := c.ledger.AddAuditLog(ctx, entry); err != nil {
		c.secondaryError("audit_log", correlationID, err)
	}
}

func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return json.RawMessage("null")
	}
	return raw
}

func (c *Coordinator) secondaryError(op, id string, err error) {
	c.monitor.RecordLedgerError(op)
	c.log.Error("ledger write failed",
		zap.String("op", op),
		zap.String("id", id),
		zap.Error(err),
	)
}

func rejectionCode(err error) string {
	if rej, ok := risk.AsRejection(err); ok {
		return rej.Code()
	}
	return "SizingError"
}

func newClientOrderID() string {
	// binance 限制 36 字符
	return "sig-" + uuid.NewString()[:32]
}
