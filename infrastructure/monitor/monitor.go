package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus 指标收集器。nil *Monitor 的方法都是空操作，方便测试时不注入。
type Monitor struct {
	registry *prometheus.Registry

	// 信号
	signalsReceived  prometheus.Counter
	signalsInvalid   prometheus.Counter
	sizingRejections *prometheus.CounterVec

	// 下单
	ordersSubmitted prometheus.Counter
	ordersAccepted  prometheus.Counter
	ordersRejected  prometheus.Counter
	ordersFailed    prometheus.Counter
	submitAttempts  prometheus.Counter
	submitLatency   prometheus.Histogram

	// 保护单
	bracketOrders *prometheus.CounterVec

	// 账本 / 持仓
	ledgerErrors  *prometheus.CounterVec
	openPositions prometheus.Gauge

	// 用户数据流
	streamEvents     *prometheus.CounterVec
	streamReconnects prometheus.Counter
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "signal",
		Subsystem: "executor",
	}
}

// New 创建新的Monitor实例，指标注册在独立 registry 上。
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}

	return &Monitor{
		registry: reg,

		signalsReceived:  counter("signals_received_total", "收到的信号总数"),
		signalsInvalid:   counter("signals_invalid_total", "校验失败的信号总数"),
		sizingRejections: counterVec("sizing_rejections_total", "仓位计算拒绝次数", "reason"),

		ordersSubmitted: counter("orders_submitted_total", "提交的入场订单总数"),
		ordersAccepted:  counter("orders_accepted_total", "交易所确认的订单总数"),
		ordersRejected:  counter("orders_rejected_total", "交易所拒绝的订单总数"),
		ordersFailed:    counter("orders_failed_total", "重试耗尽仍失败的订单总数"),
		submitAttempts:  counter("submit_attempts_total", "下单请求次数（含重试）"),
		submitLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "submit_latency_seconds",
			Help:      "一次提交（含重试）的耗时",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		bracketOrders: counterVec("bracket_orders_total", "保护单下单结果", "kind", "result"),

		ledgerErrors: counterVec("ledger_errors_total", "账本写入失败次数", "op"),
		openPositions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "open_positions",
			Help:      "当前内存持仓数",
		}),

		streamEvents:     counterVec("stream_events_total", "用户数据流事件", "execution_type"),
		streamReconnects: counter("stream_reconnects_total", "用户数据流重连次数"),
	}
}

func (m *Monitor) RecordSignalReceived() {
	if m == nil {
		return
	}
	m.signalsReceived.Inc()
}

func (m *Monitor) RecordSignalInvalid() {
	if m == nil {
		return
	}
	m.signalsInvalid.Inc()
}

// RecordSizingRejection reason 取 risk.Rejection.Code()
func (m *Monitor) RecordSizingRejection(reason string) {
	if m == nil {
		return
	}
	m.sizingRejections.WithLabelValues(reason).Inc()
}

func (m *Monitor) RecordOrderSubmitted() {
	if m == nil {
		return
	}
	m.ordersSubmitted.Inc()
}

func (m *Monitor) RecordOrderAccepted() {
	if m == nil {
		return
	}
	m.ordersAccepted.Inc()
}

func (m *Monitor) RecordOrderRejected() {
	if m == nil {
		return
	}
	m.ordersRejected.Inc()
}

func (m *Monitor) RecordOrderFailed() {
	if m == nil {
		return
	}
	m.ordersFailed.Inc()
}

func (m *Monitor) RecordSubmitAttempt() {
	if m == nil {
		return
	}
	m.submitAttempts.Inc()
}

func (m *Monitor) RecordSubmitLatency(seconds float64) {
	if m == nil {
		return
	}
	m.submitLatency.Observe(seconds)
}

// RecordBracket result 为 ok / failed / fallback
func (m *Monitor) RecordBracket(kind, result string) {
	if m == nil {
		return
	}
	m.bracketOrders.WithLabelValues(kind, result).Inc()
}

func (m *Monitor) RecordLedgerError(op string) {
	if m == nil {
		return
	}
	m.ledgerErrors.WithLabelValues(op).Inc()
}

func (m *Monitor) SetOpenPositions(n int) {
	if m == nil {
		return
	}
	m.openPositions.Set(float64(n))
}

func (m *Monitor) RecordStreamEvent(executionType string) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(executionType).Inc()
}

func (m *Monitor) RecordStreamReconnect() {
	if m == nil {
		return
	}
	m.streamReconnects.Inc()
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
