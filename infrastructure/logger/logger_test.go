package logger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewWritesFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Level:      "info",
		Outputs:    []string{"file"},
		OutputFile: filepath.Join(dir, "logs", "bot.log"),
		ErrorFile:  filepath.Join(dir, "logs", "error.log"),
		Format:     "json",
	}
	l, err := New(cfg)
	require.NoError(t, err)

	l.LogOrder("submitted", "123", zap.String("symbol", "BTCUSDT"))
	l.LogError(errors.New("ledger down"))
	_ = l.Close()

	all, err := os.ReadFile(cfg.OutputFile)
	require.NoError(t, err)
	assert.Contains(t, string(all), `"order_id":"123"`)

	errs, err := os.ReadFile(cfg.ErrorFile)
	require.NoError(t, err)
	assert.Contains(t, string(errs), "ledger down")
	assert.False(t, strings.Contains(string(errs), `"order_id":"123"`))
}

func TestDomainHelpers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := Wrap(zap.New(core))

	l.LogSignal("ACCEPTED", "sig-1", "BTCUSDT")
	l.LogRejection("NotionalBelowMinimum", "BTCUSDT", zap.String("detail", "quote 2.5"))

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "signal_event", logs.All()[0].Message)
	assert.Equal(t, "ACCEPTED", logs.All()[0].ContextMap()["outcome"])
	assert.Equal(t, zapcore.WarnLevel, logs.All()[1].Level)
	assert.Equal(t, "NotionalBelowMinimum", logs.All()[1].ContextMap()["reason"])
}
