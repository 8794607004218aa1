package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"signal-executor/order"
)

// Role 订单在一次交易中的角色
type Role string

const (
	RoleEntry      Role = "ENTRY"
	RoleTakeProfit Role = "TAKE_PROFIT"
	RoleStopLoss   Role = "STOP_LOSS"
	RoleOCO        Role = "OCO"
)

// 金额字段统一存 TEXT，避免 sqlite NUMERIC 亲和性把它转成浮点。

// OrderRecord 一次下单尝试的持久化记录，永不删除。
type OrderRecord struct {
	gorm.Model
	ExchangeOrderID string          `gorm:"column:exchange_order_id;type:varchar(64);index:idx_symbol_exchange_id"`
	ClientOrderID   string          `gorm:"column:client_order_id;type:varchar(64);index"`
	SignalID        string          `gorm:"column:signal_id;type:varchar(64);index"`
	RunID           uint            `gorm:"column:run_id;index"`
	Symbol          string          `gorm:"column:symbol;type:varchar(20);not null;index:idx_symbol_exchange_id"`
	Side            order.Side      `gorm:"column:side;type:varchar(8);not null"`
	Type            order.Type      `gorm:"column:type;type:varchar(24);not null"`
	Role            Role            `gorm:"column:role;type:varchar(16);not null;default:'ENTRY'"`
	Status          order.Status    `gorm:"column:status;type:varchar(20);not null"`
	RequestedQty    decimal.Decimal `gorm:"column:requested_qty;type:text"`
	Price           decimal.Decimal `gorm:"column:price;type:text"`
	StopPrice       decimal.Decimal `gorm:"column:stop_price;type:text"`
	ExecutedQty     decimal.Decimal `gorm:"column:executed_qty;type:text"`
	CumQuote        decimal.Decimal `gorm:"column:cum_quote;type:text"`
	AvgPrice        decimal.Decimal `gorm:"column:avg_price;type:text"`
	RequestPayload  string          `gorm:"column:request_payload;type:text"`
	ResponsePayload string          `gorm:"column:response_payload;type:text"`
	LastError       string          `gorm:"column:last_error;type:text"`
	IsWorking       bool            `gorm:"column:is_working"`
	Fills           []Fill          `gorm:"foreignKey:OrderRecordID"`
}

// Fill 订单的一笔成交，只追加。
type Fill struct {
	gorm.Model
	OrderRecordID   uint            `gorm:"column:order_record_id;not null;uniqueIndex:idx_order_trade"`
	TradeID         int64           `gorm:"column:trade_id;uniqueIndex:idx_order_trade"`
	Price           decimal.Decimal `gorm:"column:price;type:text"`
	Qty             decimal.Decimal `gorm:"column:qty;type:text"`
	QuoteQty        decimal.Decimal `gorm:"column:quote_qty;type:text"`
	Commission      decimal.Decimal `gorm:"column:commission;type:text"`
	CommissionAsset string          `gorm:"column:commission_asset;type:varchar(16)"`
	IsMaker         bool            `gorm:"column:is_maker"`
}

// BalanceSnapshot 完全成交后的账户余额快照
type BalanceSnapshot struct {
	gorm.Model
	OrderRecordID uint            `gorm:"column:order_record_id;index"`
	Asset         string          `gorm:"column:asset;type:varchar(16);not null"`
	Free          decimal.Decimal `gorm:"column:free;type:text"`
	Locked        decimal.Decimal `gorm:"column:locked;type:text"`
	Total         decimal.Decimal `gorm:"column:total;type:text"`
}

// SignalOutcome 信号处理结果
type SignalOutcome string

const (
	SignalAccepted SignalOutcome = "ACCEPTED"
	SignalRejected SignalOutcome = "REJECTED"
	SignalInvalid  SignalOutcome = "INVALID"
	SignalFailed   SignalOutcome = "FAILED"
)

// SignalRecord 信号审计记录
type SignalRecord struct {
	gorm.Model
	SignalID   string          `gorm:"column:signal_id;type:varchar(64);index"`
	RunID      uint            `gorm:"column:run_id;index"`
	Symbol     string          `gorm:"column:symbol;type:varchar(20)"`
	Side       string          `gorm:"column:side;type:varchar(8)"`
	Strategy   string          `gorm:"column:strategy;type:varchar(64)"`
	Price      decimal.Decimal `gorm:"column:price;type:text"`
	Outcome    SignalOutcome   `gorm:"column:outcome;type:varchar(16);not null"`
	Reason     string          `gorm:"column:reason;type:text"`
	RawPayload string          `gorm:"column:raw_payload;type:text"`
}

// RunStatus 一次运行的状态
type RunStatus string

const (
	RunRunning RunStatus = "RUNNING"
	RunStopped RunStatus = "STOPPED"
	RunError   RunStatus = "ERROR"
)

// BotRun 进程的一次运行，订单与信号通过 RunID 关联。
type BotRun struct {
	gorm.Model
	RunKey    string     `gorm:"column:run_key;type:varchar(64);uniqueIndex"`
	Mode      string     `gorm:"column:mode;type:varchar(20)"` // LIVE / TESTNET / PAPER
	Env       string     `gorm:"column:env;type:varchar(20)"`
	Status    RunStatus  `gorm:"column:status;type:varchar(16);not null"`
	Reason    string     `gorm:"column:reason;type:text"`
	StartedAt time.Time  `gorm:"column:started_at"`
	EndedAt   *time.Time `gorm:"column:ended_at"`
}

// AccountSummary 账户概要，每个 AccountID 一行，随余额快照刷新。
type AccountSummary struct {
	gorm.Model
	Exchange        string `gorm:"column:exchange;type:varchar(20)"`
	AccountID       string `gorm:"column:account_id;type:varchar(64);uniqueIndex"`
	AccountType     string `gorm:"column:account_type;type:varchar(20)"`
	CanTrade        bool   `gorm:"column:can_trade"`
	CanWithdraw     bool   `gorm:"column:can_withdraw"`
	CanDeposit      bool   `gorm:"column:can_deposit"`
	MakerCommission int64  `gorm:"column:maker_commission"` // 基点
	TakerCommission int64  `gorm:"column:taker_commission"`
	Permissions     string `gorm:"column:permissions;type:text"` // 逗号分隔
}

// AuditLog 订单相关的审计日志
type AuditLog struct {
	gorm.Model
	RunID         uint   `gorm:"column:run_id;index"`
	Level         string `gorm:"column:level;type:varchar(10);not null"`
	Component     string `gorm:"column:component;type:varchar(32)"`
	CorrelationID string `gorm:"column:correlation_id;type:varchar(64);index"`
	Message       string `gorm:"column:message;type:text"`
	Context       string `gorm:"column:context;type:text"` // JSON
}

// FillFromOrder 转换为持久化模型
func FillFromOrder(orderRecordID uint, f order.Fill) Fill {
	return Fill{
		OrderRecordID:   orderRecordID,
		TradeID:         f.TradeID,
		Price:           f.Price,
		Qty:             f.Qty,
		QuoteQty:        f.QuoteQty(),
		Commission:      f.Commission,
		CommissionAsset: f.CommissionAsset,
		IsMaker:         f.IsMaker,
	}
}
