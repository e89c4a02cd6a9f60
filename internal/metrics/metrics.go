// Package metrics exposes Prometheus counters for the HTTP service and
// the code engine. All methods are safe on a nil *Registry so callers
// without metrics need no guards.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lexotp"

type Registry struct {
	reg *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	codes            *prometheus.CounterVec
	imports          *prometheus.CounterVec
	importedAccounts prometheus.Counter
	exportParts      prometheus.Counter
	provisioned      prometheus.Counter
	streamsActive    prometheus.Gauge
}

// New builds a private registry with the Go and process collectors.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "route"},
		),
		codes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "codes_total",
				Help:      "Codes computed, by caller and whether a code was available.",
			},
			[]string{"source", "result"},
		),
		imports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "imports_total",
				Help:      "Import requests by link format and outcome.",
			},
			[]string{"format", "result"},
		),
		importedAccounts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imported_accounts_total",
			Help:      "Accounts returned by successful imports.",
		}),
		exportParts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_parts_total",
			Help:      "Migration links produced by exports.",
		}),
		provisioned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "secrets_provisioned_total",
			Help:      "Secrets generated for enrollment.",
		}),
		streamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Open websocket code streams.",
		}),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.httpRequests,
		r.httpDuration,
		r.codes,
		r.imports,
		r.importedAccounts,
		r.exportParts,
		r.provisioned,
		r.streamsActive,
	)
	return r
}

func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveRequest records one finished request. route is the matched mux
// pattern, never the raw path, to keep label cardinality bounded.
func (r *Registry) ObserveRequest(method, route string, status int, d time.Duration) {
	if r == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (r *Registry) ObserveCode(source string, available bool) {
	if r == nil {
		return
	}
	result := "available"
	if !available {
		result = "unavailable"
	}
	r.codes.WithLabelValues(source, result).Inc()
}

func (r *Registry) ObserveImport(format string, accounts int, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.imports.WithLabelValues(format, "error").Inc()
		return
	}
	r.imports.WithLabelValues(format, "ok").Inc()
	r.importedAccounts.Add(float64(accounts))
}

func (r *Registry) ObserveExport(parts int) {
	if r == nil {
		return
	}
	r.exportParts.Add(float64(parts))
}

func (r *Registry) ObserveProvision() {
	if r == nil {
		return
	}
	r.provisioned.Inc()
}

// StreamOpened increments the active stream gauge and returns the func
// that decrements it.
func (r *Registry) StreamOpened() func() {
	if r == nil {
		return func() {}
	}
	r.streamsActive.Inc()
	return r.streamsActive.Dec
}
