package metrics

import "time"

// Recorder is the instrumentation contract consumed by services and
// middleware. Production wiring uses the Prometheus implementation;
// tests and metric-less deployments use NoopRecorder.
type Recorder interface {
	// Authentication
	RecordAuthAttempt(source, result string)
	RecordLogin(method, result string)
	RecordLogout()

	// Sessions
	RecordSessionCreated(rememberMe bool)
	RecordSessionRevoked(reason string)
	RecordSessionsRevoked(reason string, count int)
	RecordSessionRefreshed(result string)
	SetSessionsActive(count float64)

	// Authorization server
	RecordTokenIssued(grantType string)
	RecordGrantConsumed(kind, result string)

	// HTTP
	RecordHTTPRequest(method, path, status string, duration time.Duration)
}
