package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"signal-executor/gateway"
	"signal-executor/order"
)

// Submit 同步提交订单：每次请求前先过限流器，临时性错误按指数退避重试，
// 其余交易所错误立即返回 Rejected。req.ClientOrderID 在所有重试中保持不变。
func (c *Coordinator) Submit(ctx context.Context, req order.Request) Result {
	start := time.Now()
	defer func() { c.monitor.RecordSubmitLatency(time.Since(start).Seconds()) }()

	if c.cfg.SubmitDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.SubmitDeadline)
		defer cancel()
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.backoff(attempt - 1)
			c.log.Warn("retrying order submit",
				zap.String("symbol", req.Symbol),
				zap.String("client_order_id", req.ClientOrderID),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return TransportFailure{Cause: errors.Join(lastErr, err), Attempts: attempt - 1}
			}
		}

		resp, err := c.createOrder(ctx, req)
		if err == nil {
			return classify(resp)
		}

		// 前一次请求其实已经到达交易所，按 clientOrderId 查回结果
		if attempt > 1 && errors.Is(err, gateway.ErrDuplicateOrder) {
			c.log.Warn("duplicate client order id on retry, querying original order",
				zap.String("symbol", req.Symbol),
				zap.String("client_order_id", req.ClientOrderID),
			)
			resp, qerr := c.queryOrder(ctx, req.Symbol, req.ClientOrderID)
			if qerr == nil {
				return classify(resp)
			}
			return TransportFailure{Cause: errors.Join(err, qerr), Attempts: attempt}
		}

		if ctx.Err() != nil {
			return TransportFailure{Cause: err, Attempts: attempt}
		}
		if !gateway.IsTransient(err) {
			rej := Rejected{Reason: err.Error(), Err: err}
			if apiErr, ok := gateway.AsAPIError(err); ok {
				rej.Reason = apiErr.Msg
				rej.Code = apiErr.Code
			}
			return rej
		}
		lastErr = err
	}
	return TransportFailure{Cause: lastErr, Attempts: c.cfg.MaxAttempts}
}

func (c *Coordinator) createOrder(ctx context.Context, req order.Request) (*gateway.OrderResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	c.monitor.RecordSubmitAttempt()
	return c.exchange.CreateOrder(cctx, req)
}

func (c *Coordinator) queryOrder(ctx context.Context, symbol, clientOrderID string) (*gateway.OrderResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	return c.exchange.QueryOrder(cctx, symbol, clientOrderID)
}

// backoff 第 n 次重试前的等待：base * 2^(n-1)，不超过 MaxBackoff。
func (c *Coordinator) backoff(n int) time.Duration {
	d := c.cfg.BaseBackoff
	for i := 1; i < n; i++ {
		d *= 2
		if c.cfg.MaxBackoff > 0 && d >= c.cfg.MaxBackoff {
			return c.cfg.MaxBackoff
		}
	}
	if c.cfg.MaxBackoff > 0 && d > c.cfg.MaxBackoff {
		return c.cfg.MaxBackoff
	}
	return d
}

func (c *Coordinator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.CallTimeout > 0 {
		return context.WithTimeout(ctx, c.cfg.CallTimeout)
	}
	return context.WithCancel(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
