package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"signal-executor/config"
	"signal-executor/ledger"
	"signal-executor/order"
)

// 账本汇总：按交易对统计买卖成交额、手续费、已实现盈亏以及信号结果。
type stats struct {
	orders       int
	fills        int
	buyQty       decimal.Decimal
	sellQty      decimal.Decimal
	buyNotional  decimal.Decimal
	sellNotional decimal.Decimal
	fees         map[string]decimal.Decimal
	byRole       map[ledger.Role]int
}

func newStats() *stats {
	return &stats{fees: map[string]decimal.Decimal{}, byRole: map[ledger.Role]int{}}
}

func (s *stats) addFill(side order.Side, f ledger.Fill) {
	if f.Qty.Sign() <= 0 {
		return
	}
	s.fills++
	notion := f.Price.Mul(f.Qty)
	switch side {
	case order.SideBuy:
		s.buyQty = s.buyQty.Add(f.Qty)
		s.buyNotional = s.buyNotional.Add(notion)
	case order.SideSell:
		s.sellQty = s.sellQty.Add(f.Qty)
		s.sellNotional = s.sellNotional.Add(notion)
	}
	if f.CommissionAsset != "" && !f.Commission.IsZero() {
		s.fees[f.CommissionAsset] = s.fees[f.CommissionAsset].Add(f.Commission)
	}
}

// realized 已平仓部分按买入均价计算
func (s *stats) realized() decimal.Decimal {
	if s.buyQty.IsZero() || s.sellQty.IsZero() {
		return decimal.Zero
	}
	avgBuy := s.buyNotional.Div(s.buyQty)
	closed := decimal.Min(s.buyQty, s.sellQty)
	avgSell := s.sellNotional.Div(s.sellQty)
	return avgSell.Sub(avgBuy).Mul(closed)
}

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	dsn := flag.String("dsn", "", "账本 DSN，默认取配置 ledger.dsn")
	symbol := flag.String("symbol", "", "仅统计指定交易对 (默认全量)")
	sinceStr := flag.String("since", "", "仅统计此时间之后的记录 (RFC3339，例如 2025-11-22T00:00:00Z)")
	flag.Parse()

	var since time.Time
	if *sinceStr != "" {
		var err error
		since, err = time.Parse(time.RFC3339Nano, *sinceStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "解析 since 参数失败: %v\n", err)
			os.Exit(1)
		}
	}

	cfg := config.Default()
	if loaded, err := config.LoadWithEnvOverrides(*cfgPath); err == nil || config.IsMissingCredentials(err) {
		cfg = loaded
	}
	if *dsn != "" {
		cfg.Ledger.DSN = *dsn
	}
	store, err := ledger.Open(cfg.Ledger, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "打开账本失败: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	orders, err := store.Orders(ctx, strings.ToUpper(*symbol))
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取订单失败: %v\n", err)
		os.Exit(1)
	}

	bySymbol := map[string]*stats{}
	for _, o := range orders {
		if !since.IsZero() && o.CreatedAt.Before(since) {
			continue
		}
		st, ok := bySymbol[o.Symbol]
		if !ok {
			st = newStats()
			bySymbol[o.Symbol] = st
		}
		st.orders++
		st.byRole[o.Role]++
		fills, err := store.Fills(ctx, o.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "读取成交失败 order=%d: %v\n", o.ID, err)
			continue
		}
		for _, f := range fills {
			st.addFill(o.Side, f)
		}
	}

	symbols := make([]string, 0, len(bySymbol))
	for s := range bySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		st := bySymbol[s]
		fmt.Printf("[%s] 订单=%d (入场=%d 止盈=%d 止损=%d OCO=%d) 成交=%d\n", s, st.orders,
			st.byRole[ledger.RoleEntry], st.byRole[ledger.RoleTakeProfit], st.byRole[ledger.RoleStopLoss], st.byRole[ledger.RoleOCO], st.fills)
		fmt.Printf("  买入 %s (%s)  卖出 %s (%s)  已实现盈亏≈%s\n",
			st.buyQty, st.buyNotional.StringFixed(4), st.sellQty, st.sellNotional.StringFixed(4), st.realized().StringFixed(4))
		for asset, fee := range st.fees {
			fmt.Printf("  手续费 %s %s\n", fee, asset)
		}
	}

	signals, err := store.Signals(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取信号失败: %v\n", err)
		os.Exit(1)
	}
	outcomes := map[ledger.SignalOutcome]int{}
	for _, rec := range signals {
		if *symbol != "" && !strings.EqualFold(rec.Symbol, *symbol) {
			continue
		}
		if !since.IsZero() && rec.CreatedAt.Before(since) {
			continue
		}
		outcomes[rec.Outcome]++
	}
	fmt.Printf("信号: 接受=%d 拒绝=%d 无效=%d 失败=%d\n",
		outcomes[ledger.SignalAccepted], outcomes[ledger.SignalRejected], outcomes[ledger.SignalInvalid], outcomes[ledger.SignalFailed])
}
