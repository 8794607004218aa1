package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"signal-executor/config"
	"signal-executor/gateway"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "path to config file")
	assetFilter := flag.String("asset", "", "optional asset filter (e.g. USDT)")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	client := gateway.NewBinanceClient(gateway.BinanceConfig{
		BaseURL:    cfg.Exchange.BaseURL,
		APIKey:     cfg.Exchange.APIKey,
		APISecret:  cfg.Exchange.APISecret,
		RecvWindow: time.Duration(cfg.Exchange.RecvWindowMs) * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	acct, err := client.Account(ctx)
	if err != nil {
		log.Fatalf("fetch account: %v", err)
	}
	fmt.Printf("canTrade=%v\n", acct.CanTrade)

	filter := strings.ToUpper(strings.TrimSpace(*assetFilter))
	shown := 0
	for _, b := range acct.Balances {
		if filter != "" && strings.ToUpper(b.Asset) != filter {
			continue
		}
		free, _ := decimal.NewFromString(b.Free)
		locked, _ := decimal.NewFromString(b.Locked)
		// 不带过滤时跳过零余额
		if filter == "" && free.IsZero() && locked.IsZero() {
			continue
		}
		fmt.Printf("%s free=%s locked=%s\n", b.Asset, free, locked)
		shown++
	}
	if filter != "" && shown == 0 {
		fmt.Printf("no balances matched asset %s\n", filter)
	}
}
