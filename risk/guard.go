package risk

import (
	"context"

	"signal-executor/signal"
)

// Guard 是下单前的硬性检查，敞口检查等都可实现。
type Guard interface {
	PreSize(ctx context.Context, sig signal.Signal) error
}

// MultiGuard 顺序执行多个 Guard，只要有一个返回错误则中止。
type MultiGuard struct {
	Guards []Guard
}

func (m MultiGuard) PreSize(ctx context.Context, sig signal.Signal) error {
	for _, g := range m.Guards {
		if g == nil {
			continue
		}
		if err := g.PreSize(ctx, sig); err != nil {
			return err
		}
	}
	return nil
}
