// Package monitoring provides the zap logger, Prometheus metrics and
// OpenTelemetry tracing used by the service.
package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/turtacn/admit/pkg/constants"
)

// Metrics manages the Prometheus metrics.
type Metrics struct {
	Decisions       *prometheus.CounterVec
	StoreErrors     *prometheus.CounterVec
	Fallbacks       *prometheus.CounterVec
	BucketsEvict    prometheus.Counter
	BucketsLive     prometheus.Gauge
	IDsIssued       prometheus.Counter
	HTTPRequests    *prometheus.CounterVec
	HTTPRequestTime *prometheus.HistogramVec
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admit_decisions_total",
				Help: "Admission decisions by route class and result.",
			},
			[]string{"class", "result"},
		),
		StoreErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admit_store_errors_total",
				Help: "Failed counter store operations.",
			},
			[]string{"op"},
		),
		Fallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admit_fallback_total",
				Help: "Decisions taken by a fallback policy.",
			},
			[]string{"policy"},
		),
		BucketsEvict: f.NewCounter(prometheus.CounterOpts{
			Name: "admit_buckets_evicted_total",
			Help: "Idle buckets removed by the sweeper.",
		}),
		BucketsLive: f.NewGauge(prometheus.GaugeOpts{
			Name: "admit_buckets_active",
			Help: "Buckets tracked after the last sweep.",
		}),
		IDsIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "admit_ids_issued_total",
			Help: "Unique ids issued.",
		}),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admit_http_requests_total",
				Help: "HTTP requests by route and status.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "admit_http_request_duration_seconds",
				Help:    "Latency of HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// RecordDecision counts one admission decision.
func (m *Metrics) RecordDecision(class constants.RouteClass, allowed bool) {
	result := "rejected"
	if allowed {
		result = "allowed"
	}
	m.Decisions.WithLabelValues(string(class), result).Inc()
}

// RecordStoreError counts a failed store operation.
func (m *Metrics) RecordStoreError(op string) {
	m.StoreErrors.WithLabelValues(op).Inc()
}

// RecordFallback counts a decision taken by policy.
func (m *Metrics) RecordFallback(policy constants.FallbackPolicy) {
	m.Fallbacks.WithLabelValues(string(policy)).Inc()
}

// BucketsEvicted adds n swept buckets.
func (m *Metrics) BucketsEvicted(n int) {
	m.BucketsEvict.Add(float64(n))
}

// BucketsActive sets the live bucket count.
func (m *Metrics) BucketsActive(n int) {
	m.BucketsLive.Set(float64(n))
}

// IDIssued counts one generated id.
func (m *Metrics) IDIssued() {
	m.IDsIssued.Inc()
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestTime.WithLabelValues(method, route).Observe(duration.Seconds())
}
