package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"signal-executor/config"
	"signal-executor/gateway"
	"signal-executor/ledger"
	"signal-executor/order"
)

// 紧急撤掉交易对的全部现货挂单（含止盈止损），并同步账本状态。
func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	symbol := flag.String("symbol", "BTCUSDT", "交易对")
	dry := flag.Bool("dry", false, "只列出挂单，不撤销")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	client := gateway.NewBinanceClient(gateway.BinanceConfig{
		BaseURL:    cfg.Exchange.BaseURL,
		APIKey:     cfg.Exchange.APIKey,
		APISecret:  cfg.Exchange.APISecret,
		RecvWindow: time.Duration(cfg.Exchange.RecvWindowMs) * time.Millisecond,
		Limiter:    gateway.NewTokenBucketLimiter(cfg.Exchange.RateLimit, cfg.Exchange.RateBurst),
	})
	store, err := ledger.Open(cfg.Ledger, nil)
	if err != nil {
		log.Printf("账本不可用，仅撤单: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sym := strings.ToUpper(*symbol)
	open, err := client.OpenOrders(ctx, sym)
	if err != nil {
		log.Fatalf("查询挂单失败: %v", err)
	}
	if len(open) == 0 {
		fmt.Printf("[%s] 当前无挂单\n", sym)
		return
	}

	failed := 0
	for _, o := range open {
		fmt.Printf("[%s] %d %s %s qty=%s price=%s stop=%s client=%s\n",
			sym, o.OrderID, o.Side, o.Type, o.OrigQty, o.Price, o.StopPrice, o.ClientOrderID)
		if *dry {
			continue
		}
		if err := client.CancelOrder(ctx, sym, o.OrderID); err != nil {
			log.Printf("撤单 %d 失败: %v", o.OrderID, err)
			failed++
			continue
		}
		if store != nil {
			markCanceled(ctx, store, sym, o.OrderID)
		}
	}
	if store != nil {
		_ = store.Close()
	}
	if failed > 0 {
		log.Fatalf("[%s] %d 笔撤单失败", sym, failed)
	}
	if !*dry {
		fmt.Printf("[%s] 已撤销 %d 笔挂单\n", sym, len(open))
	}
}

func markCanceled(ctx context.Context, store *ledger.Store, symbol string, orderID int64) {
	rec, err := store.FindByExchangeOrderID(ctx, symbol, fmt.Sprint(orderID))
	if err != nil {
		return
	}
	if err := store.UpdateStatus(ctx, rec.ID, order.StatusCanceled, "canceled by panic tool"); err != nil {
		log.Printf("更新账本失败 %d: %v", orderID, err)
	}
}
