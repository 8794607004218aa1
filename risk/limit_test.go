package risk

import (
	"context"
	"errors"
	"testing"

	"signal-executor/signal"
)

func TestExposureGuard(t *testing.T) {
	sig := signal.Signal{Symbol: "BTCUSDT", Risk: signal.RiskParams{MaxOpenPositions: 2}}
	ctx := context.Background()

	m := &fakeMarket{openOrders: 1}
	if err := (ExposureGuard{Counter: m}).PreSize(ctx, sig); err != nil {
		t.Fatalf("unexpected: %v", err)
	}

	m.openOrders = 2
	if err := (ExposureGuard{Counter: m}).PreSize(ctx, sig); !errors.Is(err, ErrExposureLimitReached) {
		t.Fatalf("expected limit reached, got %v", err)
	}

	// 查询失败按未知敞口拒绝
	m.openErr = errors.New("timeout")
	err := (ExposureGuard{Counter: m}).PreSize(ctx, sig)
	if !errors.Is(err, ErrExposureUnknown) {
		t.Fatalf("expected exposure unknown, got %v", err)
	}
	if r, _ := AsRejection(err); r == nil || r.Cause == nil {
		t.Fatalf("expected cause to be kept")
	}

	// 未配置上限不限制
	sig.Risk.MaxOpenPositions = 0
	m.openErr, m.openOrders = nil, 100
	if err := (ExposureGuard{Counter: m}).PreSize(ctx, sig); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}
