package monitor

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorCounters(t *testing.T) {
	m := New(DefaultConfig())

	m.RecordSignalReceived()
	m.RecordSignalReceived()
	m.RecordSignalInvalid()
	m.RecordSizingRejection("NOTIONAL_BELOW_MINIMUM")
	m.RecordSizingRejection("NOTIONAL_BELOW_MINIMUM")
	m.RecordSizingRejection("EXPOSURE_LIMIT_REACHED")
	m.RecordSubmitAttempt()
	m.RecordSubmitAttempt()
	m.RecordSubmitAttempt()
	m.RecordOrderAccepted()
	m.RecordBracket("OCO", "ok")
	m.RecordLedgerError("create_order")
	m.SetOpenPositions(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.signalsReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.signalsInvalid))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sizingRejections.WithLabelValues("NOTIONAL_BELOW_MINIMUM")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sizingRejections.WithLabelValues("EXPOSURE_LIMIT_REACHED")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.submitAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersAccepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bracketOrders.WithLabelValues("OCO", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerErrors.WithLabelValues("create_order")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.openPositions))
}

func TestNilMonitorIsNoop(t *testing.T) {
	var m *Monitor
	assert.NotPanics(t, func() {
		m.RecordSignalReceived()
		m.RecordSizingRejection("x")
		m.RecordSubmitLatency(0.2)
		m.SetOpenPositions(1)
		m.RecordStreamEvent("TRADE")
	})
}

func TestMonitorHandler(t *testing.T) {
	m := New(Config{Namespace: "test", Subsystem: "exec"})
	m.RecordOrderSubmitted()
	m.RecordSubmitLatency(0.3)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "test_exec_orders_submitted_total 1")
	assert.Contains(t, string(body), "test_exec_submit_latency_seconds_count 1")
}
