package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"signal-executor/config"
	"signal-executor/gateway"
	"signal-executor/infrastructure/logger"
)

// 订阅用户数据流并打印解析后的订单回报，用于排查回报字段。
func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Exchange.StreamURL == "" {
		log.Fatalf("exchange.streamURL 未配置")
	}
	lg, err := logger.New(logger.Config{Level: "debug", Format: "console"})
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer lg.Close()

	ex := cfg.Exchange
	_, stream := gateway.BuildBinance(gateway.BinanceConfig{
		BaseURL:    ex.BaseURL,
		APIKey:     ex.APIKey,
		APISecret:  ex.APISecret,
		RecvWindow: time.Duration(ex.RecvWindowMs) * time.Millisecond,
	}, gateway.UserStreamConfig{
		BaseEndpoint: ex.StreamURL,
		KeepAlive:    time.Duration(ex.KeepAliveSec) * time.Second,
	}, lg.Named("stream"))
	stream.OnReconnect = func() { lg.Warn("user stream reconnecting") }

	handler := &gateway.UserDataHandler{
		OnExecution: func(rep gateway.ExecutionReport) {
			lg.LogOrder("execution_report", rep.ClientOrderID,
				zap.String("symbol", rep.Symbol),
				zap.Int64("order_id", rep.OrderID),
				zap.Int64("order_list_id", rep.OrderListID),
				zap.String("side", string(rep.Side)),
				zap.String("type", string(rep.Type)),
				zap.String("execution_type", rep.ExecutionType),
				zap.String("status", string(rep.Status)),
				zap.String("last_qty", rep.LastQty.String()),
				zap.String("last_price", rep.LastPrice.String()),
				zap.String("cum_qty", rep.CumQty.String()),
				zap.Int64("trade_id", rep.TradeID),
			)
		},
		Logger: lg.Named("stream"),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := stream.Run(ctx, handler); err != nil {
		log.Fatalf("用户数据流退出: %v", err)
	}
}
