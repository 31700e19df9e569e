package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods. Used when
// metrics are disabled and in tests.
type NoopRecorder struct{}

var _ Recorder = (*NoopRecorder)(nil)

func NewNoopRecorder() *NoopRecorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) RecordAuthAttempt(source, result string)        {}
func (n *NoopRecorder) RecordLogin(method, result string)              {}
func (n *NoopRecorder) RecordLogout()                                  {}
func (n *NoopRecorder) RecordSessionCreated(rememberMe bool)           {}
func (n *NoopRecorder) RecordSessionRevoked(reason string)             {}
func (n *NoopRecorder) RecordSessionsRevoked(reason string, count int) {}
func (n *NoopRecorder) RecordSessionRefreshed(result string)           {}
func (n *NoopRecorder) SetSessionsActive(count float64)                {}
func (n *NoopRecorder) RecordTokenIssued(grantType string)             {}
func (n *NoopRecorder) RecordGrantConsumed(kind, result string)        {}
func (n *NoopRecorder) RecordHTTPRequest(method, path, status string, duration time.Duration) {
}
