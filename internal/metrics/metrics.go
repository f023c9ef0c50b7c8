package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OpRegister       = "register"
	OpLogin          = "login"
	OpRefresh        = "refresh"
	OpLogout         = "logout"
	OpRevoke         = "revoke"
	OpRevokeAll      = "revoke_all"
	OpChangePassword = "change_password"

	ResultOK           = "ok"
	ResultInvalid      = "invalid"
	ResultConflict     = "conflict"
	ResultUnauthorized = "unauthorized"
	ResultError        = "error"
)

// Metrics is safe to use as a nil pointer; every recorder becomes a no-op.
type Metrics struct {
	reg prometheus.Gatherer

	operations   *prometheus.CounterVec
	reuse        prometheus.Counter
	revoked      prometheus.Counter
	purged       prometheus.Counter
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge
}

func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		reg: reg,

		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_operations_total",
			Help: "Session operations by outcome.",
		}, []string{"op", "result"}),
		reuse: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_refresh_reuse_total",
			Help: "Rotated refresh tokens presented again.",
		}),
		revoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_refresh_tokens_revoked_total",
			Help: "Refresh tokens revoked by logout, revoke-all or reuse detection.",
		}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_refresh_tokens_purged_total",
			Help: "Expired refresh tokens deleted by the cleanup job.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
	}
	reg.MustRegister(m.operations, m.reuse, m.revoked, m.purged, m.httpRequests, m.httpDuration, m.httpInFlight)
	return m
}

func (m *Metrics) Operation(op, result string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) Reuse() {
	if m == nil {
		return
	}
	m.reuse.Inc()
}

func (m *Metrics) Revoked(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.revoked.Add(float64(n))
}

func (m *Metrics) Purged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.purged.Add(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Middleware records count, latency and in-flight requests per route template.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if m == nil {
			return next
		}
		return func(c echo.Context) error {
			m.httpInFlight.Inc()
			defer m.httpInFlight.Dec()

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			code := strconv.Itoa(status)
			m.httpRequests.WithLabelValues(c.Request().Method, path, code).Inc()
			m.httpDuration.WithLabelValues(c.Request().Method, path, code).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
