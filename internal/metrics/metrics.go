// Package metrics exposes docgate's Prometheus instruments. A Metrics value
// plugs into the provider client as its Observer, into the retry policy as
// its OnRetry hook, into the gateway as its BatchObserver and into the proxy
// router as middleware.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clinicdocs/docgate/internal/provider"
)

const namespace = "docgate"

// Metrics holds the instruments and the private registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	retries          *prometheus.CounterVec
	batchChunks      prometheus.Counter
	batchFiles       *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates the instruments and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		providerCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Provider calls by operation and outcome kind (\"ok\" on success).",
		}, []string{"op", "outcome", "code"}),
		providerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Latency of single provider calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"op"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retries scheduled by the retry engine, by the error kind that caused them.",
		}, []string{"kind"}),
		batchChunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_chunks_total",
			Help:      "Batch upload chunks processed.",
		}),
		batchFiles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_files_total",
			Help:      "Files in batch uploads by result.",
		}, []string{"result"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Proxy requests by route pattern, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Proxy request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// ObserveCall implements provider.Observer.
func (m *Metrics) ObserveCall(op string, status int, kind provider.Kind, elapsed time.Duration) {
	outcome := "ok"
	if kind != "" {
		outcome = string(kind)
	}
	code := ""
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.providerCalls.WithLabelValues(op, outcome, code).Inc()
	m.providerDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// OnRetry matches retry.Policy.OnRetry.
func (m *Metrics) OnRetry(_ int, _ time.Duration, err *provider.GatewayError) {
	kind := "unknown"
	if err != nil {
		kind = string(err.Kind)
	}
	m.retries.WithLabelValues(kind).Inc()
}

// ObserveChunk implements gateway.BatchObserver.
func (m *Metrics) ObserveChunk(_, uploaded, failed int) {
	m.batchChunks.Inc()
	m.batchFiles.WithLabelValues("uploaded").Add(float64(uploaded))
	m.batchFiles.WithLabelValues("failed").Add(float64(failed))
}

// Middleware records every proxy request under its chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
