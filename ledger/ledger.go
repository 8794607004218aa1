package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"signal-executor/order"
)

// ErrNotFound 查询不到记录
var ErrNotFound = errors.New("ledger record not found")

// Ledger 执行记录的写入契约，每次写入是独立事务。
type Ledger interface {
	CreateOrderRecord(ctx context.Context, rec *OrderRecord) error
	AddFill(ctx context.Context, orderRecordID uint, f order.Fill) error
	UpdateExecQuantities(ctx context.Context, orderRecordID uint, executed, cumQuote, avg decimal.Decimal) error
	SetWorking(ctx context.Context, orderRecordID uint, working bool) error
	UpdateStatus(ctx context.Context, orderRecordID uint, status order.Status, lastErr string) error
	FindByExchangeOrderID(ctx context.Context, symbol, exchangeOrderID string) (*OrderRecord, error)
	RecordBalanceSnapshot(ctx context.Context, orderRecordID uint, snaps []BalanceSnapshot) error
	RecordSignal(ctx context.Context, rec *SignalRecord) error
	UpsertAccountSummary(ctx context.Context, sum *AccountSummary) error
	AddAuditLog(ctx context.Context, entry *AuditLog) error
}

// Config 存储配置
type Config struct {
	DSN           string        `yaml:"dsn"`
	SlowThreshold time.Duration `yaml:"slowThreshold"`
}

// Store 基于 gorm 的 Ledger 实现。
type Store struct {
	db *gorm.DB
}

// Open 打开 sqlite 数据库并迁移表结构。
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("ledger dsn is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = 200 * time.Millisecond
	}
	gl := gormlogger.New(zap.NewStdLog(logger.Named("gorm")), gormlogger.Config{
		SlowThreshold:             cfg.SlowThreshold,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
	db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{Logger: gl})
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", cfg.DSN, err)
	}
	if err := db.AutoMigrate(&OrderRecord{}, &Fill{}, &BalanceSnapshot{}, &SignalRecord{},
		&BotRun{}, &AccountSummary{}, &AuditLog{}); err != nil {
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close 关闭底层连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) CreateOrderRecord(ctx context.Context, rec *OrderRecord) error {
	if rec == nil {
		return errors.New("nil order record")
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(rec).Error; err != nil {
		return fmt.Errorf("create order record: %w", err)
	}
	return nil
}

// AddFill 追加成交；同一订单的同一 tradeId 只记录一次。
func (s *Store) AddFill(ctx context.Context, orderRecordID uint, f order.Fill) error {
	row := FillFromOrder(orderRecordID, f)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_record_id"}, {Name: "trade_id"}},
			DoNothing: true,
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("add fill %d to order %d: %w", f.TradeID, orderRecordID, err)
	}
	return nil
}

func (s *Store) UpdateExecQuantities(ctx context.Context, orderRecordID uint, executed, cumQuote, avg decimal.Decimal) error {
	return s.update(ctx, orderRecordID, map[string]any{
		"executed_qty": executed,
		"cum_quote":    cumQuote,
		"avg_price":    avg,
	})
}

func (s *Store) SetWorking(ctx context.Context, orderRecordID uint, working bool) error {
	return s.update(ctx, orderRecordID, map[string]any{"is_working": working})
}

func (s *Store) UpdateStatus(ctx context.Context, orderRecordID uint, status order.Status, lastErr string) error {
	fields := map[string]any{"status": status}
	if lastErr != "" {
		fields["last_error"] = lastErr
	}
	if status.IsTerminal() {
		fields["is_working"] = false
	}
	return s.update(ctx, orderRecordID, fields)
}

func (s *Store) update(ctx context.Context, id uint, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&OrderRecord{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update order record %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update order record %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) FindByExchangeOrderID(ctx context.Context, symbol, exchangeOrderID string) (*OrderRecord, error) {
	var rec OrderRecord
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND exchange_order_id = ?", symbol, exchangeOrderID).
		Order("id desc").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order %s/%s: %w", symbol, exchangeOrderID, err)
	}
	return &rec, nil
}

// RecordBalanceSnapshot 一次写入多条资产余额
func (s *Store) RecordBalanceSnapshot(ctx context.Context, orderRecordID uint, snaps []BalanceSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	for i := range snaps {
		snaps[i].OrderRecordID = orderRecordID
	}
	if err := s.db.WithContext(ctx).Create(&snaps).Error; err != nil {
		return fmt.Errorf("record balance snapshot: %w", err)
	}
	return nil
}

func (s *Store) RecordSignal(ctx context.Context, rec *SignalRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("record signal: %w", err)
	}
	return nil
}

// UpsertAccountSummary 按 account_id 覆盖账户概要
func (s *Store) UpsertAccountSummary(ctx context.Context, sum *AccountSummary) error {
	if sum == nil || sum.AccountID == "" {
		return errors.New("account summary without account id")
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"updated_at", "exchange", "account_type", "can_trade", "can_withdraw", "can_deposit",
				"maker_commission", "taker_commission", "permissions",
			}),
		}).
		Create(sum).Error
	if err != nil {
		return fmt.Errorf("upsert account summary %s: %w", sum.AccountID, err)
	}
	return nil
}

func (s *Store) AddAuditLog(ctx context.Context, entry *AuditLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("add audit log: %w", err)
	}
	return nil
}

// StartRun 登记一次运行，RunKey 为空时生成 uuid。
func (s *Store) StartRun(ctx context.Context, run *BotRun) error {
	if run.RunKey == "" {
		run.RunKey = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	run.Status = RunRunning
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// EndRun 结束运行；重复调用只保留第一次的结果。
func (s *Store) EndRun(ctx context.Context, runID uint, status RunStatus, reason string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&BotRun{}).
		Where("id = ? AND status = ?", runID, RunRunning).
		Updates(map[string]any{"status": status, "reason": reason, "ended_at": now})
	if res.Error != nil {
		return fmt.Errorf("end run %d: %w", runID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("end run %d: %w", runID, ErrNotFound)
	}
	return nil
}

// Run 按 id 查询运行记录
func (s *Store) Run(ctx context.Context, runID uint) (*BotRun, error) {
	var run BotRun
	err := s.db.WithContext(ctx).First(&run, runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find run %d: %w", runID, err)
	}
	return &run, nil
}

// AccountSummaries 列出账户概要
func (s *Store) AccountSummaries(ctx context.Context) ([]AccountSummary, error) {
	var sums []AccountSummary
	err := s.db.WithContext(ctx).Order("account_id").Find(&sums).Error
	return sums, err
}

// AuditLogs 按 correlation id 列出审计日志，为空时列出全部
func (s *Store) AuditLogs(ctx context.Context, correlationID string) ([]AuditLog, error) {
	var logs []AuditLog
	q := s.db.WithContext(ctx).Order("id")
	if correlationID != "" {
		q = q.Where("correlation_id = ?", correlationID)
	}
	err := q.Find(&logs).Error
	return logs, err
}

// Fills 返回订单的全部成交，按 tradeId 排序
func (s *Store) Fills(ctx context.Context, orderRecordID uint) ([]Fill, error) {
	var fills []Fill
	err := s.db.WithContext(ctx).Where("order_record_id = ?", orderRecordID).Order("trade_id").Find(&fills).Error
	return fills, err
}

// Orders 按创建顺序列出某交易对的订单记录
func (s *Store) Orders(ctx context.Context, symbol string) ([]OrderRecord, error) {
	var recs []OrderRecord
	q := s.db.WithContext(ctx).Order("id")
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	err := q.Find(&recs).Error
	return recs, err
}

// WorkingOrders 仍在交易所挂着的订单，按 id 排序
func (s *Store) WorkingOrders(ctx context.Context) ([]OrderRecord, error) {
	var recs []OrderRecord
	err := s.db.WithContext(ctx).Where("is_working = ?", true).Order("id").Find(&recs).Error
	return recs, err
}

// Signals 列出信号审计记录
func (s *Store) Signals(ctx context.Context) ([]SignalRecord, error) {
	var recs []SignalRecord
	err := s.db.WithContext(ctx).Order("id").Find(&recs).Error
	return recs, err
}

// Snapshots 列出订单触发的余额快照
func (s *Store) Snapshots(ctx context.Context, orderRecordID uint) ([]BalanceSnapshot, error) {
	var snaps []BalanceSnapshot
	err := s.db.WithContext(ctx).Where("order_record_id = ?", orderRecordID).Order("asset").Find(&snaps).Error
	return snaps, err
}
