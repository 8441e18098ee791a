// Package metrics exposes Prometheus counters for linkage operations and the
// HTTP console.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sloppy/hostlink/internal/linkage"
)

// Metrics implements linkage.Recorder.
type Metrics struct {
	gatherer prometheus.Gatherer

	operations  *prometheus.CounterVec
	opDuration  *prometheus.HistogramVec
	entities    *prometheus.CounterVec
	reqCount    *prometheus.CounterVec
	reqDuration *prometheus.HistogramVec
}

var _ linkage.Recorder = (*Metrics)(nil)

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		gatherer: reg,
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hostlink_linkage_operations_total",
				Help: "Number of linkage operations by action and result",
			},
			[]string{"action", "result"},
		),
		opDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hostlink_linkage_operation_duration_seconds",
				Help:    "Duration of linkage operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		entities: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hostlink_entities_total",
				Help: "Dependent entities detached or deleted by unlink operations",
			},
			[]string{"action", "effect"},
		),
		reqCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hostlink_http_requests_total",
				Help: "Number of HTTP requests",
			},
			[]string{"route", "code"},
		),
		reqDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hostlink_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
	reg.MustRegister(m.operations, m.opDuration, m.entities, m.reqCount, m.reqDuration)
	return m
}

// ObserveOperation counts one engine call. Refusals are labelled by error kind.
func (m *Metrics) ObserveOperation(action linkage.Action, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = string(linkage.KindOf(err))
		if result == "" {
			result = "error"
		}
	}
	m.operations.WithLabelValues(string(action), result).Inc()
	m.opDuration.WithLabelValues(string(action)).Observe(elapsed.Seconds())
}

// ObserveEntities counts entities touched by an unlink.
func (m *Metrics) ObserveEntities(action linkage.Action, detached, deleted int) {
	if detached > 0 {
		m.entities.WithLabelValues(string(action), "detached").Add(float64(detached))
	}
	if deleted > 0 {
		m.entities.WithLabelValues(string(action), "deleted").Add(float64(deleted))
	}
}

// ObserveRequest counts one HTTP request under its route pattern.
func (m *Metrics) ObserveRequest(route string, code int, elapsed time.Duration) {
	m.reqCount.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.reqDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
