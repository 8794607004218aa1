package risk

import (
	"context"

	"signal-executor/signal"
)

// OpenOrderCounter 返回交易对在交易所的当前挂单数。
type OpenOrderCounter interface {
	OpenOrderCount(ctx context.Context, symbol string) (int, error)
}

// ExposureGuard 挂单数达到 MaxOpenPositions 时拒绝。
// 查询失败时同样拒绝（ExposureUnknown），不在敞口未知时加仓。
type ExposureGuard struct {
	Counter OpenOrderCounter
}

func (g ExposureGuard) PreSize(ctx context.Context, sig signal.Signal) error {
	if g.Counter == nil {
		return nil
	}
	n, err := g.Counter.OpenOrderCount(ctx, sig.Symbol)
	if err != nil {
		r := reject(ErrExposureUnknown, "symbol %s", sig.Symbol)
		r.Cause = err
		return r
	}
	limit := sig.Risk.MaxOpenPositions
	if limit > 0 && n >= limit {
		return reject(ErrExposureLimitReached, "%d open orders for %s, max %d", n, sig.Symbol, limit)
	}
	return nil
}
