package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iqbts_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "iqbts_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Login metrics
	loginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iqbts_login_attempts_total",
			Help: "Login attempts by outcome",
		},
		[]string{"outcome"},
	)

	rateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iqbts_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"scope"},
	)

	// Trading session metrics
	handleReleaseFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iqbts_handle_release_failures_total",
			Help: "Trading handles that could not be closed or disconnected",
		},
		[]string{"method"},
	)

	tradingCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iqbts_trading_calls_total",
			Help: "Calls made through live trading handles",
		},
		[]string{"operation", "result"},
	)
)

// Login outcomes recorded by RecordLogin.
const (
	LoginSuccess     = "success"
	LoginBadRequest  = "bad_request"
	LoginRejected    = "rejected"
	LoginLocked      = "locked"
	LoginServerError = "server_error"
)

// RecordLogin counts a login attempt outcome.
func RecordLogin(outcome string) {
	loginAttemptsTotal.WithLabelValues(outcome).Inc()
}

// RecordRateLimited counts a request rejected by the rate limiter.
func RecordRateLimited(scope string) {
	rateLimitedTotal.WithLabelValues(scope).Inc()
}

// RecordReleaseFailure counts a handle that could not be released.
func RecordReleaseFailure(method string) {
	if method == "" {
		method = "none"
	}
	handleReleaseFailuresTotal.WithLabelValues(method).Inc()
}

// RecordTradingCall counts a balance or reset call and whether it succeeded.
func RecordTradingCall(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	tradingCallsTotal.WithLabelValues(operation, result).Inc()
}

// RegisterActiveSessions exposes the number of registered trading handles as
// a gauge. Registering twice is not an error.
func RegisterActiveSessions(count func() int) error {
	gauge := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "iqbts_trading_sessions_active",
			Help: "Number of live trading handles in the session registry",
		},
		func() float64 { return float64(count()) },
	)
	if err := prometheus.Register(gauge); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}

// Metrics returns a middleware that records Prometheus HTTP metrics.
func Metrics() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			path := routePattern(r)

			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// routePattern returns chi's matched route to keep label cardinality bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return "unmatched"
}
