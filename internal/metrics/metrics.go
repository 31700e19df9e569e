package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ensure Metrics implements Recorder interface at compile time
var _ Recorder = (*Metrics)(nil)

// Metrics holds all Prometheus metrics for the identity subsystem
type Metrics struct {
	AuthAttemptsTotal      *prometheus.CounterVec
	AuthLoginTotal         *prometheus.CounterVec
	AuthLogoutTotal        prometheus.Counter
	SessionsCreatedTotal   *prometheus.CounterVec
	SessionsRevokedTotal   *prometheus.CounterVec
	SessionsRefreshedTotal *prometheus.CounterVec
	SessionsActive         prometheus.Gauge
	TokensIssuedTotal      *prometheus.CounterVec
	GrantsConsumedTotal    *prometheus.CounterVec
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Init returns the Prometheus-backed Recorder when enabled, otherwise a
// zero-overhead NoopRecorder. sync.Once keeps Prometheus registration
// from running twice.
func Init(enabled bool) Recorder {
	if !enabled {
		return NewNoopRecorder()
	}
	once.Do(func() {
		defaultMetrics = initMetrics()
	})
	return defaultMetrics
}

func initMetrics() *Metrics {
	return &Metrics{
		AuthAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_attempts_total",
				Help: "Total number of credential verification attempts",
			},
			[]string{"source", "result"}, // source: local, delegated
		),
		AuthLoginTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_login_total",
				Help: "Total number of login attempts",
			},
			[]string{"method", "result"},
		),
		AuthLogoutTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "auth_logout_total",
				Help: "Total number of logouts",
			},
		),
		SessionsCreatedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessions_created_total",
				Help: "Total number of sessions created",
			},
			[]string{"tier"}, // standard, remember_me
		),
		SessionsRevokedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessions_revoked_total",
				Help: "Total number of sessions revoked",
			},
			[]string{"reason"}, // logout, expired, limit, refresh_failed, bulk
		),
		SessionsRefreshedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessions_refreshed_total",
				Help: "Total number of session refresh attempts",
			},
			[]string{"result"}, // success, exhausted
		),
		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sessions_active",
				Help: "Current number of active sessions",
			},
		),
		TokensIssuedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauth_tokens_issued_total",
				Help: "Total number of tokens issued by the authorization server",
			},
			[]string{"grant_type"},
		),
		GrantsConsumedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauth_grants_consumed_total",
				Help: "Total number of single-use grant consumption attempts",
			},
			[]string{"kind", "result"}, // result: success, replayed, expired
		),
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

func (m *Metrics) RecordAuthAttempt(source, result string) {
	m.AuthAttemptsTotal.WithLabelValues(source, result).Inc()
}

func (m *Metrics) RecordLogin(method, result string) {
	m.AuthLoginTotal.WithLabelValues(method, result).Inc()
}

func (m *Metrics) RecordLogout() {
	m.AuthLogoutTotal.Inc()
}

func (m *Metrics) RecordSessionCreated(rememberMe bool) {
	tier := "standard"
	if rememberMe {
		tier = "remember_me"
	}
	m.SessionsCreatedTotal.WithLabelValues(tier).Inc()
}

func (m *Metrics) RecordSessionRevoked(reason string) {
	m.SessionsRevokedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordSessionsRevoked(reason string, count int) {
	if count > 0 {
		m.SessionsRevokedTotal.WithLabelValues(reason).Add(float64(count))
	}
}

func (m *Metrics) RecordSessionRefreshed(result string) {
	m.SessionsRefreshedTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SetSessionsActive(count float64) {
	m.SessionsActive.Set(count)
}

func (m *Metrics) RecordTokenIssued(grantType string) {
	m.TokensIssuedTotal.WithLabelValues(grantType).Inc()
}

func (m *Metrics) RecordGrantConsumed(kind, result string) {
	m.GrantsConsumedTotal.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// StatusLabel formats an HTTP status code as a metric label.
func StatusLabel(code int) string {
	return strconv.Itoa(code)
}
