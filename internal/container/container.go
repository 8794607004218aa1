package container

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"signal-executor/bracket"
	"signal-executor/config"
	"signal-executor/gateway"
	"signal-executor/infrastructure/alert"
	"signal-executor/infrastructure/logger"
	"signal-executor/infrastructure/monitor"
	"signal-executor/internal/engine"
	"signal-executor/inventory"
	"signal-executor/ledger"
	"signal-executor/order"
	"signal-executor/risk"
	"signal-executor/signal"
)

const (
	// 下单请求之间的最小间隔，REST 整体权重由客户端令牌桶控制
	orderInterval    = 100 * time.Millisecond
	alertThrottle    = 5 * time.Minute
	reloadCooldown   = 2 * time.Second
	streamReconnect  = 3 * time.Second
	shutdownDeadline = 5 * time.Second
)

// Options 命令行对配置文件的覆盖项。
type Options struct {
	DryRun  bool      // 强制使用模拟撮合
	Signals io.Reader // 非空时代替 signals.source
}

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg     *config.AppConfig
	cfgPath string
	opts    Options

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager
	ledger  *ledger.Store

	// 交易所网关
	exchange gateway.Exchange
	stream   *gateway.UserStream

	// 核心服务
	rules       *order.RulesCache
	book        *inventory.Book
	queue       *signal.Queue
	coordinator *engine.Coordinator
	reconciler  *engine.Reconciler
	watcher     *config.Watcher

	signalSource io.ReadCloser

	// HTTP服务器
	metricsServer *http.Server

	// 生命周期管理
	lifecycle *LifecycleManager
	runErr    chan error
}

// New 加载配置并创建 Container，尚未构建组件。
func New(configPath string, opts Options) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if opts.DryRun && config.IsMissingCredentials(err) {
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	c := NewFromConfig(cfg, opts)
	c.cfgPath = configPath
	return c, nil
}

// NewFromConfig 直接使用内存中的配置，不监听配置文件。
func NewFromConfig(cfg config.AppConfig, opts Options) *Container {
	if opts.DryRun {
		cfg.Exchange.DryRun = true
	}
	return &Container{
		cfg:       &cfg,
		opts:      opts,
		lifecycle: NewLifecycleManager(),
		runErr:    make(chan error, 1),
	}
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}

	if err := c.buildGateway(); err != nil {
		return fmt.Errorf("build gateway failed: %w", err)
	}

	if err := c.buildCoreServices(); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}

	if err := c.registerLifecycleComponents(); err != nil {
		return fmt.Errorf("register components failed: %w", err)
	}
	c.logger.Info("container built successfully",
		zap.String("env", c.cfg.Env),
		zap.Bool("dry_run", c.cfg.Exchange.DryRun),
	)
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	c.monitor = monitor.New(monitor.DefaultConfig())
	c.alerts = alert.NewManager([]alert.Channel{alert.NewLogChannel("log", c.logger.Logger)}, alertThrottle)

	c.ledger, err = ledger.Open(c.cfg.Ledger, c.logger.Named("ledger"))
	if err != nil {
		return fmt.Errorf("open ledger failed: %w", err)
	}

	c.logger.Info("infrastructure built")
	return nil
}

func (c *Container) buildGateway() error {
	if c.cfg.Exchange.DryRun {
		c.exchange = buildPaper(c.cfg.Paper)
		c.logger.Info("gateway built", zap.String("mode", "paper"))
		return nil
	}

	ex := c.cfg.Exchange
	rest, stream := gateway.BuildBinance(gateway.BinanceConfig{
		BaseURL:    ex.BaseURL,
		APIKey:     ex.APIKey,
		APISecret:  ex.APISecret,
		RecvWindow: time.Duration(ex.RecvWindowMs) * time.Millisecond,
		OCOEnabled: ex.OCOEnabled,
		Limiter:    gateway.NewTokenBucketLimiter(ex.RateLimit, ex.RateBurst),
	}, gateway.UserStreamConfig{
		BaseEndpoint:   ex.StreamURL,
		KeepAlive:      time.Duration(ex.KeepAliveSec) * time.Second,
		ReconnectDelay: streamReconnect,
	}, c.logger.Named("stream"))
	c.exchange = rest
	if ex.StreamURL != "" {
		stream.OnReconnect = c.monitor.RecordStreamReconnect
		c.stream = stream
	}

	c.logger.Info("gateway built", zap.String("mode", "binance"), zap.String("base_url", ex.BaseURL))
	return nil
}

// buildPaper 按配置初始化模拟撮合的价格、余额和交易规则。
func buildPaper(cfg config.PaperConfig) *gateway.PaperExchange {
	p := gateway.NewPaperExchange()
	for asset, amt := range cfg.Balances {
		p.SetBalance(asset, amt.Decimal)
	}
	for sym, s := range cfg.Symbols {
		p.SetPrice(sym, s.Price.Decimal)
		p.SetFilters(sym, paperFilters(s))
	}
	return p
}

func paperFilters(s config.PaperSymbol) []order.SymbolFilter {
	var filters []order.SymbolFilter
	if s.StepSize.IsPositive() {
		filters = append(filters, order.SymbolFilter{
			FilterType: "LOT_SIZE",
			StepSize:   s.StepSize.String(),
			MinQty:     s.MinQty.String(),
			MaxQty:     s.MaxQty.String(),
		})
	}
	if s.TickSize.IsPositive() {
		filters = append(filters, order.SymbolFilter{FilterType: "PRICE_FILTER", TickSize: s.TickSize.String()})
	}
	if s.MinNotional.IsPositive() {
		filters = append(filters, order.SymbolFilter{FilterType: "NOTIONAL", MinNotional: s.MinNotional.String()})
	}
	return filters
}

func (c *Container) buildCoreServices() error {
	c.rules = order.NewRulesCache(c.exchange, c.cfg.Risk.DefaultMinNotional.Decimal, c.logger.Named("rules"))
	c.book = inventory.NewBook()
	c.queue = signal.NewQueue(c.cfg.Signals.QueueSize)

	guards := risk.MultiGuard{Guards: []risk.Guard{risk.ExposureGuard{Counter: c.exchange}}}
	if circuit := risk.NewPriceCircuit(c.cfg.Risk.CircuitOneMinute.Decimal, c.cfg.Risk.CircuitFiveMinute.Decimal); circuit.Enabled() {
		guards.Guards = append(guards.Guards, circuit)
	}
	sizer := risk.NewSizer(
		risk.SizerConfig{QuoteAsset: c.cfg.Risk.QuoteAsset},
		guards,
		c.exchange, c.exchange, c.rules,
		c.logger.Named("sizer"),
	)
	exec := c.cfg.Execution
	// 入场单与保护单共用一个下单间隔
	limiter := gateway.NewMinIntervalLimiter(orderInterval)
	brackets := bracket.NewManager(bracket.Config{
		StopLimitOffset:    c.cfg.Bracket.StopLimitOffset.Decimal,
		OCOStopLimitOffset: c.cfg.Bracket.OCOStopLimitOffset.Decimal,
		CallTimeout:        exec.CallTimeout(),
		Limiter:            limiter,
	}, c.exchange, c.rules, c.ledger, c.book, c.logger.Named("bracket"))

	coord, err := engine.New(engine.Config{
		MaxAttempts:       exec.MaxAttempts,
		BaseBackoff:       exec.BaseBackoff(),
		MaxBackoff:        exec.MaxBackoff(),
		SubmitDeadline:    exec.SubmitDeadline(),
		CallTimeout:       exec.CallTimeout(),
		HaltOnLedgerError: c.cfg.HaltOnLedgerError(),
		ConfirmBuffer:     exec.ConfirmBuffer,
	}, engine.Components{
		Exchange:  c.exchange,
		Sizer:     sizer,
		Validator: signal.NewValidator(c.cfg.Risk.RiskDefaults(), c.logger.Named("signal")),
		Signals:   c.queue.C(),
		Ledger:    c.ledger,
		Brackets:  brackets,
		Book:      c.book,
		Limiter:   limiter,
		Monitor:   c.monitor,
		Alerts:    c.alerts,
		Logger:    c.logger,
	})
	if err != nil {
		return fmt.Errorf("create coordinator failed: %w", err)
	}
	c.coordinator = coord

	if iv := exec.ReconcileInterval(); iv > 0 {
		c.reconciler = engine.NewReconciler(engine.ReconcilerConfig{Interval: iv},
			c.exchange, c.ledger, coord.OnExecution, c.logger.Named("reconciler"))
	}

	if c.cfgPath != "" {
		c.watcher, err = config.NewWatcher(c.cfgPath, reloadCooldown, c.logger.Named("config"), c.applyConfig)
		if err != nil {
			return err
		}
	}

	c.logger.Info("core services built")
	return nil
}

// applyConfig 热更新只下发风险默认值，其余字段需要重启生效。
func (c *Container) applyConfig(cfg config.AppConfig) {
	c.coordinator.SetRiskDefaults(cfg.Risk.RiskDefaults())
}

func (c *Container) registerLifecycleComponents() error {
	coordRunner := &runnerComponent{
		name:   "coordinator",
		logger: c.logger,
		run: func(ctx context.Context) error {
			err := c.coordinator.Run(ctx)
			c.runErr <- err
			return err
		},
	}
	c.lifecycle.Register(&runRecordComponent{
		store:  c.ledger,
		coord:  c.coordinator,
		mode:   c.runMode(),
		env:    c.cfg.Env,
		exit:   coordRunner.exitErr,
		logger: c.logger,
	})

	if c.cfg.Metrics.Addr != "" {
		c.lifecycle.Register(&httpServerComponent{
			name:    "metrics_server",
			handler: c.monitor.Handler(),
			addr:    c.cfg.Metrics.Addr,
			logger:  c.logger,
			server:  &c.metricsServer,
		})
	}
	if c.watcher != nil {
		c.lifecycle.Register(&watcherComponent{watcher: c.watcher})
	}

	// 协调器先于信号源与回报流启动
	c.lifecycle.Register(coordRunner)
	c.lifecycle.Register(&runnerComponent{
		name:   "confirmations",
		logger: c.logger,
		run:    c.drainConfirmations,
	})

	if c.reconciler != nil {
		c.lifecycle.Register(&runnerComponent{
			name:   "reconciler",
			logger: c.logger,
			run:    c.reconciler.Run,
		})
	}

	if c.stream != nil {
		handler := &gateway.UserDataHandler{
			OnExecution: c.coordinator.OnExecution,
			Logger:      c.logger.Named("stream"),
		}
		c.lifecycle.Register(&runnerComponent{
			name:   "user_stream",
			logger: c.logger,
			run:    func(ctx context.Context) error { return c.stream.Run(ctx, handler) },
		})
	}

	src, err := c.openSignalSource()
	if err != nil {
		return err
	}
	c.signalSource = src
	c.lifecycle.Register(&runnerComponent{
		name:     "signal_reader",
		logger:   c.logger,
		detached: true,
		run: func(ctx context.Context) error {
			err := signal.ReadJSONLines(ctx, src, c.queue, c.logger.Named("signal"))
			if err == nil {
				c.logger.Info("signal source exhausted")
			}
			return err
		},
	})
	return nil
}

func (c *Container) runMode() string {
	switch {
	case c.cfg.Exchange.DryRun:
		return "PAPER"
	case strings.Contains(c.cfg.Exchange.BaseURL, "testnet"):
		return "TESTNET"
	default:
		return "LIVE"
	}
}

func (c *Container) openSignalSource() (io.ReadCloser, error) {
	if c.opts.Signals != nil {
		return io.NopCloser(c.opts.Signals), nil
	}
	switch c.cfg.Signals.Source {
	case "", "-":
		return io.NopCloser(os.Stdin), nil
	default:
		f, err := os.Open(c.cfg.Signals.Source)
		if err != nil {
			return nil, fmt.Errorf("open signal source: %w", err)
		}
		return f, nil
	}
}

// drainConfirmations 把开仓确认写入日志，供下游采集。
func (c *Container) drainConfirmations(ctx context.Context) error {
	log := c.logger.Named("confirm")
	for {
		select {
		case <-ctx.Done():
			return nil
		case cf := <-c.coordinator.Confirmations():
			log.Info("signal confirmation",
				zap.String("signal_id", cf.SignalID),
				zap.String("symbol", cf.Symbol),
				zap.String("status", string(cf.Status)),
				zap.String("order_id", cf.OrderID),
				zap.String("executed_qty", cf.ExecutedQty.String()),
				zap.String("avg_price", cf.AvgPrice.String()),
				zap.String("reason", cf.Reason),
			)
		}
	}
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started")
	return nil
}

// Done 协调器退出时返回其错误，正常停止为 nil。
func (c *Container) Done() <-chan error {
	return c.runErr
}

func (c *Container) Stop() error {
	c.logger.Info("stopping container...")

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, zap.String("action", "stop"))
	}
	if c.signalSource != nil {
		_ = c.signalSource.Close()
	}

	stats := c.coordinator.GetStatistics()
	c.logger.Info("container stopped",
		zap.Int64("signals", stats.TotalSignals),
		zap.Int64("orders", stats.TotalOrders),
		zap.Int64("rejected", stats.TotalRejected),
		zap.Int64("failed", stats.TotalFailed),
		zap.Int("open_positions", c.book.Count()),
	)

	if c.ledger != nil {
		if cerr := c.ledger.Close(); cerr != nil {
			c.logger.LogError(cerr, zap.String("action", "close_ledger"))
		}
	}
	_ = c.logger.Close()
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

func (c *Container) Coordinator() *engine.Coordinator { return c.coordinator }
func (c *Container) Ledger() *ledger.Store            { return c.ledger }
func (c *Container) Monitor() *monitor.Monitor        { return c.monitor }
