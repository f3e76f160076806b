package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the registry
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Registry metrics
	PublishesTotal       *prometheus.CounterVec
	TarballDownloads     prometheus.Counter
	ProxiedRequestsTotal prometheus.Counter

	// Authorization metrics
	AuthDenialsTotal *prometheus.CounterVec

	// Token metrics
	TokensIssuedTotal  prometheus.Counter
	TokensRevokedTotal prometheus.Counter

	// Storage metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "satchel_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "satchel_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		PublishesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "satchel_publishes_total",
				Help: "Package publish attempts by result",
			},
			[]string{"result"},
		),
		TarballDownloads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "satchel_tarball_downloads_total",
				Help: "Tarballs served from the blob store",
			},
		),
		ProxiedRequestsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "satchel_proxied_requests_total",
				Help: "Metadata requests proxied to the fallback registry",
			},
		),
		AuthDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "satchel_auth_denials_total",
				Help: "Authorization denials by entity and operation",
			},
			[]string{"entity", "operation"},
		),
		TokensIssuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "satchel_tokens_issued_total",
				Help: "Access tokens issued",
			},
		),
		TokensRevokedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "satchel_tokens_revoked_total",
				Help: "Access tokens revoked",
			},
		),
		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "satchel_storage_operations_total",
				Help: "Storage operations by backend, operation and result",
			},
			[]string{"backend", "operation", "result"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "satchel_storage_operation_duration_seconds",
				Help:    "Storage operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend", "operation"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PublishesTotal,
		m.TarballDownloads,
		m.ProxiedRequestsTotal,
		m.AuthDenialsTotal,
		m.TokensIssuedTotal,
		m.TokensRevokedTotal,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
	)

	return m
}

// Handler returns the HTTP handler serving the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware instruments HTTP handlers with request count and duration.
// Paths are deliberately not used as a label: package names are unbounded
// and would explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rw.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
