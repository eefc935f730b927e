// Package metrics exposes Prometheus instrumentation for request routing,
// async dispatch and bootstrap verification. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var latencyBuckets = []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds the collectors registered for one Runtime.
type Metrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	asyncLive prometheus.Gauge
	bootstrap *prometheus.CounterVec
	listPages *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dss_requests_total",
			Help: "Object requests dispatched, by operation, cluster and outcome.",
		}, []string{"op", "cluster", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dss_request_duration_seconds",
			Help:    "Object request latency in seconds.",
			Buckets: latencyBuckets,
		}, []string{"op"}),
		asyncLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dss_async_inflight",
			Help: "Async requests submitted and not yet completed.",
		}),
		bootstrap: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dss_bootstrap_total",
			Help: "Bootstrap verification runs by resulting status.",
		}, []string{"status"}),
		listPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dss_list_calls_total",
			Help: "List calls issued against cluster endpoints.",
		}, []string{"cluster"}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.latency, m.asyncLive, m.bootstrap, m.listPages} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveRequest records one completed request.
func (m *Metrics) ObserveRequest(op string, cluster int, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.requests.WithLabelValues(op, strconv.Itoa(cluster), outcome).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// AsyncStarted marks an async request as in flight.
func (m *Metrics) AsyncStarted() {
	if m == nil {
		return
	}
	m.asyncLive.Inc()
}

// AsyncDone marks an async request as completed.
func (m *Metrics) AsyncDone() {
	if m == nil {
		return
	}
	m.asyncLive.Dec()
}

// ObserveBootstrap records the status a bootstrap run ended in.
func (m *Metrics) ObserveBootstrap(status string) {
	if m == nil {
		return
	}
	m.bootstrap.WithLabelValues(status).Inc()
}

// ObserveList records one list call against cluster.
func (m *Metrics) ObserveList(cluster int) {
	if m == nil {
		return
	}
	m.listPages.WithLabelValues(strconv.Itoa(cluster)).Inc()
}
