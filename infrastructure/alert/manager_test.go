package alert

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSendAlert(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	err := mgr.SendAlert(Alert{
		Level:   LevelWarning,
		Message: "test message",
		Fields:  map[string]any{"key": "value"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, mock.Count())

	a := mock.Alerts()[0]
	assert.Equal(t, LevelWarning, a.Level)
	assert.Equal(t, "test message", a.Message)
	assert.Equal(t, "value", a.Fields["key"])
	assert.False(t, a.Timestamp.IsZero())
	assert.Equal(t, []string{"mock"}, mgr.ChannelNames())
}

func TestSendAlertLevels(t *testing.T) {
	tests := []struct {
		name   string
		sendFn func(*Manager) error
		want   Level
	}{
		{"warning", func(m *Manager) error { return m.SendWarning("w", nil) }, LevelWarning},
		{"error", func(m *Manager) error { return m.SendError("e", nil) }, LevelError},
		{"critical", func(m *Manager) error { return m.SendCritical("c", nil) }, LevelCritical},
		{"ledger", func(m *Manager) error { return m.LedgerFailure("BTCUSDT", "1", errors.New("locked")) }, LevelCritical},
		{"bracket", func(m *Manager) error { return m.BracketFailure("BTCUSDT", "OCO", errors.New("rejected")) }, LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockChannel("mock")
			mgr := NewManager([]Channel{mock}, time.Minute)
			require.NoError(t, tt.sendFn(mgr))
			require.Equal(t, 1, mock.Count())
			assert.Equal(t, tt.want, mock.Alerts()[0].Level)
		})
	}
}

func TestThrottling(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, time.Hour)

	for i := 0; i < 3; i++ {
		require.NoError(t, mgr.SendError("same", nil))
	}
	assert.Equal(t, 1, mock.Count())

	// 不同消息不受影响
	require.NoError(t, mgr.SendError("other", nil))
	assert.Equal(t, 2, mock.Count())

	mgr.ResetThrottle()
	require.NoError(t, mgr.SendError("same", nil))
	assert.Equal(t, 3, mock.Count())
}

func TestThrottlerWindow(t *testing.T) {
	th := NewThrottler(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return now }

	assert.True(t, th.Allow("k"))
	now = now.Add(30 * time.Second)
	assert.False(t, th.Allow("k"))
	now = now.Add(31 * time.Second)
	assert.True(t, th.Allow("k"))
}

func TestAllChannelsFailing(t *testing.T) {
	a := NewMockChannel("a")
	b := NewMockChannel("b")
	a.SetShouldError(true)
	mgr := NewManager([]Channel{a, b}, time.Minute)

	// 部分失败不算失败
	assert.NoError(t, mgr.SendError("x", nil))

	b.SetShouldError(true)
	err := mgr.SendError("y", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel a")
	assert.Contains(t, err.Error(), "channel b")
}

func TestNilManager(t *testing.T) {
	var mgr *Manager
	assert.NoError(t, mgr.LedgerFailure("BTCUSDT", "1", nil))
}

func TestLogChannel(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ch := NewLogChannel("log", zap.New(core))
	mgr := NewManager([]Channel{ch}, time.Minute)

	require.NoError(t, mgr.LedgerFailure("ETHUSDT", "42", errors.New("database is locked")))

	entries := logs.All()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, zapcore.ErrorLevel, e.Level)
	assert.Equal(t, "ledger write failed for executed order", e.Message)
	ctx := e.ContextMap()
	assert.Equal(t, "CRITICAL", ctx["alert_level"])
	assert.Equal(t, "ETHUSDT", ctx["symbol"])
	assert.Equal(t, "42", ctx["order_id"])
	assert.Equal(t, "database is locked", ctx["error"])
}
