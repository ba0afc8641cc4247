package stats

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the ad blocker
type Metrics struct {
	// Rewrite metrics
	blockedTotal   *prometheus.CounterVec
	rewritesTotal  *prometheus.CounterVec
	rewriteLatency *prometheus.HistogramVec

	// Capture metrics
	verdictsTotal *prometheus.CounterVec

	// Sink metrics
	noticesTotal *prometheus.CounterVec
	storeErrors  *prometheus.CounterVec

	// Configuration reload metrics
	ruleReloads *prometheus.CounterVec
	rulesActive prometheus.Gauge

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics instance on a private registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		blockedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adblock_blocked_total",
				Help: "Total number of blocked ads by stats counter",
			},
			[]string{"counter"},
		),

		rewritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adblock_rewrites_total",
				Help: "Total number of exchanges handled by app, route and outcome",
			},
			[]string{"app", "route", "outcome"},
		),

		rewriteLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "adblock_rewrite_duration_seconds",
				Help:    "Time spent rewriting a response in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
			},
			[]string{"app"},
		),

		verdictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adblock_verdicts_total",
				Help: "Total number of capture verdicts by app and tier",
			},
			[]string{"app", "tier"},
		),

		noticesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adblock_notices_total",
				Help: "Total number of notices by notifier and status",
			},
			[]string{"notifier", "status"},
		),

		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adblock_store_errors_total",
				Help: "Total number of stats store failures by operation",
			},
			[]string{"op"},
		),

		ruleReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adblock_rule_reloads_total",
				Help: "Total number of rule reload attempts by status",
			},
			[]string{"status"},
		),

		rulesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "adblock_rules_active",
				Help: "Number of URL rules in the active rule set",
			},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adblock_http_requests_total",
				Help: "Total number of admin HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "adblock_http_request_duration_seconds",
				Help:    "Admin HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.blockedTotal,
		m.rewritesTotal,
		m.rewriteLatency,
		m.verdictsTotal,
		m.noticesTotal,
		m.storeErrors,
		m.ruleReloads,
		m.rulesActive,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	return m
}

// RecordBlocked records an increment of a stats counter
func (m *Metrics) RecordBlocked(counter string) {
	m.blockedTotal.WithLabelValues(counter).Inc()
}

// RecordRewrite records a handled exchange
func (m *Metrics) RecordRewrite(app, route, outcome string, duration time.Duration) {
	m.rewritesTotal.WithLabelValues(app, route, outcome).Inc()
	m.rewriteLatency.WithLabelValues(app).Observe(duration.Seconds())
}

// RecordVerdict records a capture verdict
func (m *Metrics) RecordVerdict(app, tier string) {
	m.verdictsTotal.WithLabelValues(app, tier).Inc()
}

// RecordNotice records a notifier delivery attempt
func (m *Metrics) RecordNotice(notifier, status string) {
	m.noticesTotal.WithLabelValues(notifier, status).Inc()
}

// RecordStoreError records a failed store read or write
func (m *Metrics) RecordStoreError(op string) {
	m.storeErrors.WithLabelValues(op).Inc()
}

// RecordRuleReload records a rule reload attempt and the resulting rule count
func (m *Metrics) RecordRuleReload(status string, rules int) {
	m.ruleReloads.WithLabelValues(status).Inc()
	if status == "success" {
		m.rulesActive.Set(float64(rules))
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MetricsMiddleware creates HTTP middleware that records request metrics
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.RecordHTTPRequest(r.Method, getEndpointName(r.URL.Path), strconv.Itoa(wrapped.statusCode), time.Since(start))
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not support http.Hijacker")
}

// getEndpointName extracts a normalized endpoint name from the path
func getEndpointName(path string) string {
	switch path {
	case "/healthz":
		return "healthz"
	case "/stats":
		return "stats"
	case "/metrics":
		return "metrics"
	default:
		return "unknown"
	}
}
