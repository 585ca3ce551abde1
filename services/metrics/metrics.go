package metricsvc

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edmm_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "edmm_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	upstreamCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edmm_upstream_calls_total",
		Help: "Total number of upstream calls answered with an envelope, by envelope code.",
	}, []string{"path", "code"})

	upstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "edmm_upstream_latency_seconds",
		Help:    "Histogram of upstream call latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})

	loginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edmm_logins_total",
		Help: "Total number of login steps, by outcome.",
	}, []string{"step", "outcome"})

	reloginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edmm_token_expiries_total",
		Help: "Total number of expired tokens handled, by recovery outcome.",
	}, []string{"outcome"})

	syncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edmm_syncs_total",
		Help: "Total number of domain syncs, by outcome.",
	}, []string{"domain", "outcome"})
)

// Middleware records request metrics, labelled by route pattern.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := errors.Cause(err).(*echo.HTTPError); ok {
					status = he.Code
				} else if status < http.StatusBadRequest {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unknown"
			}
			method := c.Request().Method
			httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUpstream records one upstream call. Its signature matches upstream.Observer.
func ObserveUpstream(path string, code int, took time.Duration) {
	path = pathPattern(path)
	upstreamCallsTotal.WithLabelValues(path, strconv.Itoa(code)).Inc()
	upstreamLatency.WithLabelValues(path).Observe(took.Seconds())
}

// pathPattern replaces the numeric segments of an upstream path, e.g. "eleves/42/messages/7.awp"
// becomes "eleves/:id/messages/:id.awp".
func pathPattern(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		name := strings.TrimSuffix(seg, ".awp")
		if name != "" && strings.Trim(name, "0123456789") == "" {
			segments[i] = ":id" + strings.TrimPrefix(seg, name)
		}
	}
	return strings.Join(segments, "/")
}

// ObserveLogin records the outcome of a login step ("login" or "doubleauth").
func ObserveLogin(step, outcome string) {
	loginsTotal.WithLabelValues(step, outcome).Inc()
}

// ObserveRelogin records how an expired token was handled. Its signature matches recovery.Observer.
func ObserveRelogin(outcome string) {
	reloginsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSync records the outcome of a domain sync. Its signature matches datasync.Observer.
func ObserveSync(domain, outcome string) {
	syncsTotal.WithLabelValues(domain, outcome).Inc()
}
