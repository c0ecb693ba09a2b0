package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics records market engine activity.
type LedgerMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	volume     *prometheus.CounterVec
	faults     *prometheus.CounterVec
	halted     prometheus.Gauge
}

// GatewayMetrics records caller gateway activity.
type GatewayMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	authFails *prometheus.CounterVec
	throttles *prometheus.CounterVec
	streams   prometheus.Gauge
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics

	gatewayMetricsOnce sync.Once
	gatewayRegistry    *GatewayMetrics
)

// Ledger returns the lazily-initialised market engine metrics registered with
// the default Prometheus registry.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "openrate",
				Subsystem: "market",
				Name:      "operations_total",
				Help:      "Market engine operations segmented by operation and result code.",
			}, []string{"operation", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "openrate",
				Subsystem: "market",
				Name:      "operation_duration_seconds",
				Help:      "Latency of market engine operations including sequencing and commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "openrate",
				Subsystem: "market",
				Name:      "volume_base_units_total",
				Help:      "Token volume moved through market vaults in base units.",
			}, []string{"operation"}),
			faults: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "openrate",
				Subsystem: "market",
				Name:      "consistency_faults_total",
				Help:      "Internal consistency faults that halted a market.",
			}, []string{"reason"}),
			halted: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "openrate",
				Subsystem: "market",
				Name:      "halted_markets",
				Help:      "Number of markets halted by consistency faults.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.latency,
			ledgerRegistry.volume,
			ledgerRegistry.faults,
			ledgerRegistry.halted,
		)
	})
	return ledgerRegistry
}

// ObserveOperation records the outcome of an engine operation. code is "ok" on
// success or the engine error code otherwise.
func (m *LedgerMetrics) ObserveOperation(operation, code string, duration time.Duration) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	if code == "" {
		code = "ok"
	}
	m.operations.WithLabelValues(operation, code).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// AddVolume accumulates token volume moved by an operation.
func (m *LedgerMetrics) AddVolume(operation string, amount uint64) {
	if m == nil || amount == 0 {
		return
	}
	m.volume.WithLabelValues(operation).Add(float64(amount))
}

// RecordFault counts a consistency fault and tracks the halted market count.
func (m *LedgerMetrics) RecordFault(reason string, haltedMarkets int) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.faults.WithLabelValues(reason).Inc()
	m.halted.Set(float64(haltedMarkets))
}

// Gateway returns the lazily-initialised caller gateway metrics.
func Gateway() *GatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &GatewayMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "openrate",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "HTTP requests segmented by route, method and status.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "openrate",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			authFails: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "openrate",
				Subsystem: "gateway",
				Name:      "auth_failures_total",
				Help:      "Rejected request signatures and operator tokens.",
			}, []string{"scheme"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "openrate",
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Requests rejected by the rate limiter.",
			}, []string{"route"}),
			streams: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "openrate",
				Subsystem: "gateway",
				Name:      "event_streams",
				Help:      "Open websocket event streams.",
			}),
		}
		prometheus.MustRegister(
			gatewayRegistry.requests,
			gatewayRegistry.latency,
			gatewayRegistry.authFails,
			gatewayRegistry.throttles,
			gatewayRegistry.streams,
		)
	})
	return gatewayRegistry
}

// ObserveRequest records a completed HTTP request.
func (m *GatewayMetrics) ObserveRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(route, method, statusClass(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordAuthFailure counts a rejected credential for the named scheme.
func (m *GatewayMetrics) RecordAuthFailure(scheme string) {
	if m == nil {
		return
	}
	m.authFails.WithLabelValues(scheme).Inc()
}

// RecordThrottle counts a rate-limited request.
func (m *GatewayMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(route).Inc()
}

// StreamOpened and StreamClosed track live websocket subscribers.
func (m *GatewayMetrics) StreamOpened() {
	if m != nil {
		m.streams.Inc()
	}
}

func (m *GatewayMetrics) StreamClosed() {
	if m != nil {
		m.streams.Dec()
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
