package risk

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"signal-executor/order"
	"signal-executor/signal"
)

func tick(price string, ts time.Time) signal.Signal {
	return signal.Signal{Symbol: "BTCUSDT", Side: order.SideBuy, Price: d(price), ReceivedAt: ts}
}

func TestPriceCircuit(t *testing.T) {
	cb := NewPriceCircuit(d("0.01"), d("0.02"))
	ctx := context.Background()
	now := time.Now()
	// stable prices
	for i := 0; i < 5; i++ {
		if err := cb.PreSize(ctx, tick("100", now.Add(time.Duration(i)*10*time.Second))); err != nil {
			t.Fatalf("did not expect trip: %v", err)
		}
	}
	// jump 2% within 1m triggers
	err := cb.PreSize(ctx, tick("102", now.Add(45*time.Second)))
	r, ok := AsRejection(err)
	if !ok || r.Code() != "CircuitOpen" {
		t.Fatalf("expected CircuitOpen, got %v", err)
	}

	// 其他交易对不受影响
	other := tick("5", now.Add(45*time.Second))
	other.Symbol = "ETHUSDT"
	if err := cb.PreSize(ctx, other); err != nil {
		t.Fatalf("unexpected trip for other symbol: %v", err)
	}
}

func TestPriceCircuitFiveMinuteWindow(t *testing.T) {
	cb := NewPriceCircuit(decimal.Zero, d("0.02"))
	ctx := context.Background()
	now := time.Now()
	prices := []string{"100", "100.8", "101.6", "102.5"}
	for i, p := range prices[:3] {
		if err := cb.PreSize(ctx, tick(p, now.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("step %d: unexpected trip: %v", i, err)
		}
	}
	if err := cb.PreSize(ctx, tick(prices[3], now.Add(3*time.Minute))); err == nil {
		t.Fatalf("expected 5m trip")
	}
	// 窗口滑过后恢复
	if err := cb.PreSize(ctx, tick("102.5", now.Add(10*time.Minute))); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
}

func TestPriceCircuitDisabled(t *testing.T) {
	cb := NewPriceCircuit(decimal.Zero, decimal.Zero)
	if cb.Enabled() {
		t.Fatalf("zero thresholds should disable circuit")
	}
	now := time.Now()
	_ = cb.PreSize(context.Background(), tick("100", now))
	if err := cb.PreSize(context.Background(), tick("200", now.Add(time.Second))); err != nil {
		t.Fatalf("disabled circuit tripped: %v", err)
	}
}
