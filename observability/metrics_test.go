package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMultisendMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMultisendMetrics(reg)

	m.RecordBatch("native", 20*time.Millisecond)
	m.RecordBatch("native", 10*time.Millisecond)
	m.RecordTransfer("asset", "success")
	m.RecordTransfer("asset", "non-true-return")
	m.RecordTransfer("asset", "success")
	m.RecordRejection("native", "")
	m.RecordRefund("failed")
	m.SetPause(true)

	require.Equal(t, 2.0, testutil.ToFloat64(m.batches.WithLabelValues("native")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.transfers.WithLabelValues("asset", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.transfers.WithLabelValues("asset", "non-true-return")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues("native", "unknown")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.refunds.WithLabelValues("failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.pauseEngaged))
	m.SetPause(false)
	require.Equal(t, 0.0, testutil.ToFloat64(m.pauseEngaged))
	require.Equal(t, 1, testutil.CollectAndCount(m.latency))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *MultisendMetrics
	m.RecordBatch("native", time.Second)
	m.RecordTransfer("native", "success")
	m.RecordRejection("native", "x")
	m.RecordRefund("ok")
	m.SetPause(true)

	var api *APIMetrics
	api.Observe("/v1/stats", "GET", 200, time.Second)
}

func TestAPIMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAPIMetrics(reg)
	m.Observe("/v1/stats", "GET", 200, time.Millisecond)
	m.Observe("/v1/stats", "GET", 500, time.Millisecond)
	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/v1/stats", "GET", "500")))
}

func TestSingletonsRegisterOnce(t *testing.T) {
	require.Same(t, Multisend(), Multisend())
	require.Same(t, API(), API())
}
