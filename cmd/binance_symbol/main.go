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
	"signal-executor/order"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	symbol := flag.String("symbol", "BTCUSDT", "查询的交易对(如 BTCUSDT)")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil && !config.IsMissingCredentials(err) {
		log.Fatalf("加载配置失败: %v", err)
	}

	// exchangeInfo 是公共接口，不需要密钥
	client := gateway.NewBinanceClient(gateway.BinanceConfig{
		BaseURL: cfg.Exchange.BaseURL,
		Limiter: gateway.NewTokenBucketLimiter(cfg.Exchange.RateLimit, cfg.Exchange.RateBurst),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sym := strings.ToUpper(strings.TrimSpace(*symbol))
	filters, err := client.SymbolFilters(ctx, sym)
	if err != nil {
		log.Fatalf("获取交易对信息失败: %v", err)
	}
	rules := order.ParseFilters(sym, filters)
	if !rules.MinNotional.IsPositive() {
		rules.MinNotional = cfg.Risk.DefaultMinNotional.Decimal
		rules.Source = order.RulesFromDefault
	}
	price, err := client.SymbolPrice(ctx, sym)
	if err != nil {
		log.Fatalf("获取最新价失败: %v", err)
	}

	fmt.Printf("%s 最新价=%s 规则来源=%s\n", rules.Symbol, price, rules.Source)
	fmt.Printf("  TickSize=%s\n", rules.TickSize)
	fmt.Printf("  StepSize=%s MinQty=%s MaxQty=%s\n", rules.StepSize, rules.MinQty, rules.MaxQty)
	fmt.Printf("  MinNotional=%s 对应数量(按步长向下取整)=%s\n", rules.MinNotional, rules.QtyForQuote(rules.MinNotional, price))
}
