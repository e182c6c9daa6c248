// Package metrics provides Prometheus instrumentation for the static-site host.
//
// Metric names follow <namespace>_<subsystem>_<name>_<unit>, namespace "spa_server".
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "spa_server"

// Registry bundles the metrics every component of the host reports to.
type Registry struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	ACMEIssuanceTotal *prometheus.CounterVec
	ACMERenewalTotal  *prometheus.CounterVec

	ReloadDuration prometheus.Histogram
	ReloadTotal    *prometheus.CounterVec
}

// NewRegistry constructs and registers all metrics against the default registerer.
func NewRegistry() *Registry {
	return &Registry{
		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served, by host and status code.",
		}, []string{"host", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"host"}),
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "File cache lookups that found the requested path.",
		}, []string{"host"}),
		CacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "File cache lookups that did not find the requested path.",
		}, []string{"host"}),
		ACMEIssuanceTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acme",
			Name:      "issuance_total",
			Help:      "ACME certificate issuance attempts, by host and result.",
		}, []string{"host", "result"}),
		ACMERenewalTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acme",
			Name:      "renewal_total",
			Help:      "ACME certificate renewal attempts, by host and result.",
		}, []string{"host", "result"}),
		ReloadDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reload",
			Name:      "duration_seconds",
			Help:      "Hot reload wall-clock duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		ReloadTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reload",
			Name:      "total",
			Help:      "Hot reload attempts, by result.",
		}, []string{"result"}),
	}
}

// InstrumentHandler wraps an http.Handler, recording request count and latency per host.
func (r *Registry) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, req)

		host := req.Host
		r.HTTPRequestsTotal.WithLabelValues(host, strconv.Itoa(sw.status)).Inc()
		r.HTTPRequestDuration.WithLabelValues(host).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
