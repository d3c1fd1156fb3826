// Package metrics holds the Prometheus collectors of the service.  The
// collectors exist from package init so that recording never needs a nil
// check; Register exposes them on a registry.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	rateLimitDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_rate_limit_decisions_total",
		Help: "Rate limiter decisions by key type",
	}, []string{"key_type", "outcome"}) // outcome: allowed|denied|store_error

	hashDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auth_password_hash_duration_seconds",
		Help:    "Time spent in argon2id on the hashing pool",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
	}, []string{"op"}) // op: hash|verify

	mailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_mail_total",
		Help: "Outbound mail by result",
	}, []string{"result"}) // result: sent|failed|dropped

	tokenEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_token_events_total",
		Help: "Token lifecycle events",
	}, []string{"event"}) // event: issued|rotated|rotation_rejected|revoked

	auditTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_audit_events_total",
		Help: "Audit log writes by result",
	}, []string{"result"}) // result: written|failed|dropped
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDuration, rateLimitDecisions,
		hashDuration, mailTotal, tokenEvents, auditTotal,
	}
}

// Register adds every collector to reg (DefaultRegisterer when nil) and
// returns the /metrics handler.  Registering twice is not an error.
func Register(reg prometheus.Registerer) (http.Handler, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range collectors() {
		if err := registerCollector(reg, c); err != nil {
			return nil, err
		}
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(g, promhttp.HandlerOpts{}), nil
	}
	return promhttp.Handler(), nil
}

func registerCollector(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}

func RecordRateLimit(keyType, outcome string) {
	rateLimitDecisions.WithLabelValues(keyType, outcome).Inc()
}

// ObserveHash matches utils.Hasher.Observe.
func ObserveHash(op string, seconds float64) {
	hashDuration.WithLabelValues(op).Observe(seconds)
}

func RecordMail(result string) { mailTotal.WithLabelValues(result).Inc() }

func RecordToken(event string) { tokenEvents.WithLabelValues(event).Inc() }

func RecordAudit(result string) { auditTotal.WithLabelValues(result).Inc() }

// Middleware records request count and latency per route template, so
// /v1/keys/:id is one series regardless of the id.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			method := c.Request().Method
			status := strconv.Itoa(c.Response().Status)
			httpRequestsTotal.WithLabelValues(method, path, status).Inc()
			httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
