package signal

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Publish(ctx, map[string]any{"n": i}))
	}
	assert.ErrorIs(t, q.TryPublish(map[string]any{"n": 3}), ErrQueueFull)
	assert.Equal(t, 3, q.Len())

	for i := 0; i < 3; i++ {
		got := <-q.C()
		assert.Equal(t, i, got["n"])
	}
}

func TestQueuePublishRespectsContext(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.TryPublish(map[string]any{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Publish(ctx, map[string]any{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReadJSONLines(t *testing.T) {
	input := strings.Join([]string{
		`{"symbol":"BTCUSDT","side":"BUY","price":50000.12,"risk_params":{}}`,
		``,
		`# comment`,
		`not json`,
		`{"symbol":"ETHUSDT","side":"SELL","price":3000,"risk_params":{}}`,
	}, "\n")
	q := NewQueue(10)
	require.NoError(t, ReadJSONLines(context.Background(), strings.NewReader(input), q, nil))
	require.Equal(t, 2, q.Len())

	first := <-q.C()
	assert.Equal(t, "BTCUSDT", first["symbol"])
	assert.Equal(t, json.Number("50000.12"), first["price"])

	sig, err := Validate(first)
	require.NoError(t, err)
	assert.Equal(t, "50000.12", sig.Price.String())
}

func TestReadJSONLinesSkipsOversizedLine(t *testing.T) {
	huge := `{"symbol":"` + strings.Repeat("X", maxLineBytes+10) + `"}`
	input := strings.Join([]string{
		`{"symbol":"BTCUSDT","side":"BUY","price":1,"risk_params":{}}`,
		huge,
		`{"symbol":"ETHUSDT","side":"SELL","price":2,"risk_params":{}}`,
	}, "\n")
	core, logs := observer.New(zapcore.WarnLevel)
	q := NewQueue(10)

	require.NoError(t, ReadJSONLines(context.Background(), strings.NewReader(input), q, zap.New(core)))
	require.Equal(t, 2, q.Len())
	assert.Equal(t, "BTCUSDT", (<-q.C())["symbol"])
	assert.Equal(t, "ETHUSDT", (<-q.C())["symbol"])

	entries := logs.FilterMessage("skip oversized signal line").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].ContextMap()["line"])
}

func TestReadJSONLinesOversizedLastLine(t *testing.T) {
	input := `{"symbol":"BTCUSDT","side":"BUY","price":1,"risk_params":{}}` + "\n" + strings.Repeat("y", maxLineBytes*2)
	q := NewQueue(10)
	require.NoError(t, ReadJSONLines(context.Background(), strings.NewReader(input), q, nil))
	assert.Equal(t, 1, q.Len())
}
