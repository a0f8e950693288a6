// Package metrics provides Prometheus metrics for the call service and the relay.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors shared by both binaries.
type Metrics struct {
	// Call initiation
	CallRequestsTotal    *prometheus.CounterVec
	BackendDuration      *prometheus.HistogramVec
	NotificationsTotal   *prometheus.CounterVec
	RateLimitStoreErrors prometheus.Counter
	RateLimitPurged      prometheus.Counter

	// Relay
	RelaySessionsActive prometheus.Gauge
	RelaySessionsTotal  *prometheus.CounterVec
	RelayFramesTotal    *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Default returns the process-wide collectors, registering them on first use.
func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = newMetrics()
	})
	return defaultMetrics
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.CallRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demo_call_requests_total",
			Help: "Call initiation requests by outcome",
		},
		[]string{"outcome"},
	)

	m.BackendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "demo_call_backend_duration_seconds",
			Help:    "Duration of call backend dispatches in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	m.NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demo_call_notifications_total",
			Help: "Call notifications by sink and status",
		},
		[]string{"sink", "status"},
	)

	m.RateLimitStoreErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "demo_call_rate_limit_store_errors_total",
			Help: "Rate limit store failures that were failed open",
		},
	)

	m.RateLimitPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "demo_call_rate_limit_purged_total",
			Help: "Rate limit records removed by the retention sweeper",
		},
	)

	m.RelaySessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_sessions_active",
			Help: "Relay sessions currently bridged or connecting",
		},
	)

	m.RelaySessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_sessions_total",
			Help: "Finished relay sessions by how they ended",
		},
		[]string{"result"},
	)

	m.RelayFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_frames_total",
			Help: "Audio frames relayed by direction",
		},
		[]string{"direction"},
	)

	return m
}
