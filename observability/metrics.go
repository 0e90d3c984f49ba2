package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	multisendMetricsOnce sync.Once
	multisendRegistry    *MultisendMetrics

	apiMetricsOnce sync.Once
	apiRegistry    *APIMetrics
)

// MultisendMetrics bundles the collectors describing batch disbursement.
type MultisendMetrics struct {
	batches      *prometheus.CounterVec
	transfers    *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	refunds      *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	pauseEngaged prometheus.Gauge
}

// Multisend returns the lazily-initialised metrics registry registered with
// the default Prometheus registerer.
func Multisend() *MultisendMetrics {
	multisendMetricsOnce.Do(func() {
		multisendRegistry = NewMultisendMetrics(prometheus.DefaultRegisterer)
	})
	return multisendRegistry
}

// NewMultisendMetrics builds the collectors and registers them with reg. Tests
// pass a private registry.
func NewMultisendMetrics(reg prometheus.Registerer) *MultisendMetrics {
	m := &MultisendMetrics{
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "multisend",
			Subsystem: "engine",
			Name:      "batches_total",
			Help:      "Count of accepted batches segmented by mode.",
		}, []string{"mode"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "multisend",
			Subsystem: "engine",
			Name:      "transfers_total",
			Help:      "Count of per-recipient transfer outcomes segmented by mode and result.",
		}, []string{"mode", "result"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "multisend",
			Subsystem: "engine",
			Name:      "rejections_total",
			Help:      "Count of calls rejected before any transfer segmented by mode and reason.",
		}, []string{"mode", "reason"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "multisend",
			Subsystem: "engine",
			Name:      "refunds_total",
			Help:      "Count of native refund attempts segmented by result.",
		}, []string{"result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "multisend",
			Subsystem: "engine",
			Name:      "batch_duration_seconds",
			Help:      "Latency distribution for accepted batches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		pauseEngaged: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "multisend",
			Subsystem: "engine",
			Name:      "pause_engaged",
			Help:      "Indicates whether the multisend pause guard is active (1) or not (0).",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.batches, m.transfers, m.rejections, m.refunds, m.latency, m.pauseEngaged)
	}
	return m
}

// RecordBatch counts an accepted batch and its latency.
func (m *MultisendMetrics) RecordBatch(mode string, d time.Duration) {
	if m == nil {
		return
	}
	label := labelValue(mode)
	m.batches.WithLabelValues(label).Inc()
	m.latency.WithLabelValues(label).Observe(d.Seconds())
}

// RecordTransfer counts one recipient outcome. Result is "success" or the
// failure reason.
func (m *MultisendMetrics) RecordTransfer(mode, result string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(labelValue(mode), labelValue(result)).Inc()
}

// RecordRejection counts a call that failed a precondition.
func (m *MultisendMetrics) RecordRejection(mode, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(labelValue(mode), labelValue(reason)).Inc()
}

// RecordRefund counts a refund attempt.
func (m *MultisendMetrics) RecordRefund(result string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(labelValue(result)).Inc()
}

// SetPause toggles the pause_engaged gauge.
func (m *MultisendMetrics) SetPause(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.pauseEngaged.Set(1)
		return
	}
	m.pauseEngaged.Set(0)
}

// APIMetrics records HTTP API activity.
type APIMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// API returns the lazily-initialised HTTP metrics registry.
func API() *APIMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = NewAPIMetrics(prometheus.DefaultRegisterer)
	})
	return apiRegistry
}

// NewAPIMetrics builds the HTTP collectors and registers them with reg.
func NewAPIMetrics(reg prometheus.Registerer) *APIMetrics {
	m := &APIMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "multisend",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total HTTP requests segmented by route, method and status code.",
		}, []string{"route", "method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "multisend",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for HTTP handlers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.latency)
	}
	return m
}

// Observe records the outcome of one request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *APIMetrics) Observe(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	route, method = labelValue(route), labelValue(method)
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(d.Seconds())
}

func labelValue(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
