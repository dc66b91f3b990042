// Package metrics provides Prometheus metrics for conversions and the HTTP surface.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"geoarrow-convert/pkg/convert"
)

// Collector records conversion and HTTP metrics into its own registry.
type Collector struct {
	registry            *prometheus.Registry
	conversions         *prometheus.CounterVec
	conversionDuration  *prometheus.HistogramVec
	rowsConverted       *prometheus.CounterVec
	inputBytes          *prometheus.CounterVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector creates a collector. An empty namespace defaults to "geoarrow".
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "geoarrow"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		conversions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_total",
				Help:      "Total number of GeoParquet conversions",
			},
			[]string{"surface", "status", "stage"},
		),

		conversionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "conversion_duration_seconds",
				Help:      "Conversion duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"surface"},
		),

		rowsConverted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_converted_total",
				Help:      "Total number of rows written with a GeoArrow geometry column",
			},
			[]string{"kind"},
		),

		inputBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "input_bytes_total",
				Help:      "Total GeoParquet bytes received",
			},
			[]string{"surface"},
		),

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveConversion records the outcome of one conversion. The stage label
// is the failing stage, or "none" on success.
func (c *Collector) ObserveConversion(surface string, duration time.Duration, err error) {
	status, stage := "success", "none"
	if err != nil {
		status = "error"
		stage = string(convert.StageOf(err))
		if stage == "" {
			stage = "unknown"
		}
	}

	c.conversions.WithLabelValues(surface, status, stage).Inc()
	c.conversionDuration.WithLabelValues(surface).Observe(duration.Seconds())
}

// AddRows adds converted rows for a geometry kind.
func (c *Collector) AddRows(kind string, rows int64) {
	if rows <= 0 {
		return
	}
	c.rowsConverted.WithLabelValues(kind).Add(float64(rows))
}

// AddInputBytes adds received GeoParquet bytes for a surface.
func (c *Collector) AddInputBytes(surface string, n int) {
	if n <= 0 {
		return
	}
	c.inputBytes.WithLabelValues(surface).Add(float64(n))
}

// IncHTTPRequests increments the HTTP request counter.
func (c *Collector) IncHTTPRequests(method, path, status string) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// ObserveHTTPDuration records HTTP request duration.
func (c *Collector) ObserveHTTPDuration(method, path string, duration time.Duration) {
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler returns the Prometheus HTTP handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Middleware returns HTTP middleware for metrics collection.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := normalizePath(r.URL.Path)
		c.IncHTTPRequests(r.Method, path, statusToString(wrapped.statusCode))
		c.ObserveHTTPDuration(r.Method, path, time.Since(start))
	})
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// normalizePath caps path length to keep label cardinality bounded.
func normalizePath(path string) string {
	if len(path) > 32 {
		return path[:32] + "..."
	}
	return path
}

func statusToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
