package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"signal-executor/gateway"
	"signal-executor/ledger"
	"signal-executor/order"
)

// ExecReconcile 对账生成的回报类型，不带单笔成交，只有累计值。
const ExecReconcile = "RECONCILE"

// OrderQuerier 按 clientOrderId 查询交易所订单
type OrderQuerier interface {
	QueryOrder(ctx context.Context, symbol, clientOrderID string) (*gateway.OrderResponse, error)
}

// WorkingOrderSource 账本中仍在挂单的记录
type WorkingOrderSource interface {
	WorkingOrders(ctx context.Context) ([]ledger.OrderRecord, error)
}

// ReconcilerConfig 对账器配置
type ReconcilerConfig struct {
	Interval time.Duration // 对账间隔，默认 1 分钟
}

// Reconciler 定期用交易所状态校正账本里的挂单（主要是保护单），
// 用户数据流断开期间漏掉的回报由它补齐。差异以回报形式交给 sink。
type Reconciler struct {
	exchange OrderQuerier
	orders   WorkingOrderSource
	sink     func(gateway.ExecutionReport)
	interval time.Duration
	logger   *zap.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex

	// 统计信息
	totalReconciliations int64
	conflictsResolved    int64
	lastReconcileTime    time.Time
}

// NewReconciler 创建订单对账器，sink 一般是 Coordinator.OnExecution。
func NewReconciler(cfg ReconcilerConfig, exchange OrderQuerier, orders WorkingOrderSource, sink func(gateway.ExecutionReport), logger *zap.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		exchange: exchange,
		orders:   orders,
		sink:     sink,
		interval: cfg.Interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Run 阻塞执行对账循环，直到 ctx 结束或 Stop。
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.stopChan:
			return nil
		case <-ticker.C:
			if _, err := r.Reconcile(ctx); err != nil {
				// 记录错误但继续运行
				r.logger.Warn("reconcile failed", zap.Error(err))
			}
		}
	}
}

// Stop 停止对账循环
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
}

// Reconcile 执行一次完整对账，返回发现差异的订单数。
// 单个订单查询失败不影响其余订单。
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	r.mu.Lock()
	r.totalReconciliations++
	r.lastReconcileTime = time.Now()
	r.mu.Unlock()

	recs, err := r.orders.WorkingOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("list working orders: %w", err)
	}

	var errs []error
	conflicts := 0
	for i := range recs {
		changed, err := r.reconcileOrder(ctx, &recs[i])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if changed {
			conflicts++
		}
	}

	if conflicts > 0 {
		r.mu.Lock()
		r.conflictsResolved += int64(conflicts)
		r.mu.Unlock()
	}
	return conflicts, errors.Join(errs...)
}

func (r *Reconciler) reconcileOrder(ctx context.Context, rec *ledger.OrderRecord) (bool, error) {
	// 下单失败的占位记录在交易所不存在
	if rec.ClientOrderID == "" || !isExchangeID(rec.ExchangeOrderID) {
		return false, nil
	}
	remote, err := r.exchange.QueryOrder(ctx, rec.Symbol, rec.ClientOrderID)
	if err != nil {
		if errors.Is(err, gateway.ErrOrderNotFound) {
			r.logger.Warn("working order unknown to exchange",
				zap.String("symbol", rec.Symbol),
				zap.String("client_order_id", rec.ClientOrderID),
			)
			return false, nil
		}
		return false, fmt.Errorf("query order %s: %w", rec.ClientOrderID, err)
	}

	status := order.Status(remote.Status)
	cumQty := decOrZero(remote.ExecutedQty)
	if status == rec.Status && cumQty.Equal(rec.ExecutedQty) {
		return false, nil
	}

	// 以交易所状态为准
	r.logger.Info("order drift detected",
		zap.String("symbol", rec.Symbol),
		zap.String("client_order_id", rec.ClientOrderID),
		zap.String("role", string(rec.Role)),
		zap.String("local_status", string(rec.Status)),
		zap.String("remote_status", string(status)),
		zap.String("local_executed", rec.ExecutedQty.String()),
		zap.String("remote_executed", cumQty.String()),
	)
	if r.sink != nil {
		r.sink(gateway.ExecutionReport{
			Symbol:        rec.Symbol,
			OrderID:       remote.OrderID,
			OrderListID:   remote.OrderListID,
			ClientOrderID: rec.ClientOrderID,
			Side:          order.Side(remote.Side),
			Type:          order.Type(remote.Type),
			ExecutionType: ExecReconcile,
			Status:        status,
			CumQty:        cumQty,
			CumQuote:      decOrZero(remote.CumulativeQuoteQty),
			EventTime:     time.Now(),
		})
	}
	return true, nil
}

func isExchangeID(id string) bool {
	_, err := strconv.ParseInt(id, 10, 64)
	return err == nil
}

// GetStatistics 获取对账统计信息
func (r *Reconciler) GetStatistics() ReconcilerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return ReconcilerStats{
		TotalReconciliations: r.totalReconciliations,
		ConflictsResolved:    r.conflictsResolved,
		LastReconcileTime:    r.lastReconcileTime,
		Interval:             r.interval,
	}
}

// ReconcilerStats 对账统计信息
type ReconcilerStats struct {
	TotalReconciliations int64
	ConflictsResolved    int64
	LastReconcileTime    time.Time
	Interval             time.Duration
}
