package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinIntervalLimiterSpacesCalls(t *testing.T) {
	l := NewMinIntervalLimiter(30 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(ctx))
	}
	// 第一次立即放行，之后每次间隔 30ms
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}

func TestMinIntervalLimiterCancel(t *testing.T) {
	l := NewMinIntervalLimiter(time.Second)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
}

func TestMinIntervalLimiterDisabled(t *testing.T) {
	l := NewMinIntervalLimiter(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
}

func TestTokenBucketLimiterBurst(t *testing.T) {
	l := NewTokenBucketLimiter(50, 2)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx))
	assert.Less(t, time.Since(start), 15*time.Millisecond, "burst 内不等待")

	require.NoError(t, l.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}
