package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/learnhub-io/identity/internal/config"
	"github.com/learnhub-io/identity/internal/metrics"
	"github.com/learnhub-io/identity/internal/models"
	"github.com/learnhub-io/identity/internal/provider"
	"github.com/learnhub-io/identity/internal/store"
	"github.com/learnhub-io/identity/internal/verifier"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestService(t *testing.T) (*Service, *store.Store, *verifier.Verifier) {
	t.Helper()

	s, err := store.New("sqlite", ":memory:", store.Options{})
	require.NoError(t, err)

	cfg := &config.Config{
		JWTSecret:              "test-secret",
		JWTExpiration:          time.Hour,
		RefreshTokenExpiration: 24 * time.Hour,
		BaseURL:                "http://localhost:8080",
		SessionLifetime:        604800 * time.Second,
		RememberMeLifetime:     2592000 * time.Second,
		SessionLimit:           3,
		RefreshThreshold:       5 * time.Minute,
		SessionTokenBytes:      48,
	}

	v := verifier.New(cfg, nil, metrics.NewNoopRecorder())
	svc := NewService(s, cfg, v, nil, metrics.NewNoopRecorder())
	return svc, s, v
}

func createTestIdentity(t *testing.T, s *store.Store, n int) *models.Identity {
	t.Helper()
	identity := &models.Identity{
		Email:    fmt.Sprintf("user%d@example.com", n),
		Username: fmt.Sprintf("user%d", n),
		Role:     "user",
		Status:   "active",
	}
	require.NoError(t, s.CreateIdentity(identity))
	return identity
}

func issuePair(t *testing.T, v *verifier.Verifier, identity *models.Identity) *verifier.TokenPair {
	t.Helper()
	pair, err := v.IssueLocalPair(identity.ID, identity.Email, identity.Username, []string{identity.Role}, nil)
	require.NoError(t, err)
	return pair
}

func TestCreateAndGet(t *testing.T) {
	svc, _, v := setupTestService(t)
	identity := createTestIdentity(t, svc.store, 1)
	pair := issuePair(t, v, identity)

	token, err := svc.Create(context.Background(), identity.ID, pair, Metadata{
		UserAgent: "test-agent",
		IPAddress: "127.0.0.1",
	}, false)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	resolved, err := svc.Get(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, identity.ID, resolved.Identity.ID)
	assert.Equal(t, pair.AccessToken, resolved.Session.AccessToken)
	assert.True(t, resolved.Session.IsActive)
	assert.Equal(t, "test-agent", resolved.Session.UserAgent)
}

func TestCreate_RejectsInvalidPair(t *testing.T) {
	svc, _, _ := setupTestService(t)
	identity := createTestIdentity(t, svc.store, 1)

	_, err := svc.Create(context.Background(), identity.ID, &verifier.TokenPair{
		AccessToken: "not-a-valid-token",
	}, Metadata{}, false)
	assert.ErrorIs(t, err, ErrInvalidTokenPair)
}

func TestCreate_SessionLifetimeByTier(t *testing.T) {
	svc, s, v := setupTestService(t)
	identity := createTestIdentity(t, svc.store, 1)

	standard, err := svc.Create(context.Background(), identity.ID, issuePair(t, v, identity), Metadata{}, false)
	require.NoError(t, err)
	extended, err := svc.Create(context.Background(), identity.ID, issuePair(t, v, identity), Metadata{}, true)
	require.NoError(t, err)

	stdRecord, err := s.GetSession(standard)
	require.NoError(t, err)
	extRecord, err := s.GetSession(extended)
	require.NoError(t, err)

	assert.False(t, stdRecord.RememberMe)
	assert.True(t, extRecord.RememberMe)
	// Remember-me sessions live 30 days, standard ones 7.
	assert.True(t, extRecord.ExpiresAt.After(stdRecord.ExpiresAt.Add(20*24*time.Hour)))
}

func TestCreate_EnforcesSessionLimit(t *testing.T) {
	svc, _, v := setupTestService(t)
	identity := createTestIdentity(t, svc.store, 1)

	var tokens []string
	for i := 0; i < 3; i++ {
		token, err := svc.Create(context.Background(), identity.ID, issuePair(t, v, identity), Metadata{}, false)
		require.NoError(t, err)
		tokens = append(tokens, token)
		// Distinct activity timestamps so the eviction order is stable.
		require.NoError(t, svc.store.TouchSessionActivity(token, time.Now().Add(time.Duration(i)*time.Second)))
	}

	// The fourth session evicts the oldest-by-activity one.
	_, err := svc.Create(context.Background(), identity.ID, issuePair(t, v, identity), Metadata{}, false)
	require.NoError(t, err)

	active, err := svc.List(context.Background(), identity.ID)
	require.NoError(t, err)
	assert.Len(t, active, 3)

	_, err = svc.Get(context.Background(), tokens[0])
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestGet_LazilyRevokesExpired(t *testing.T) {
	svc, s, v := setupTestService(t)
	identity := createTestIdentity(t, svc.store, 1)

	token, err := svc.Create(context.Background(), identity.ID, issuePair(t, v, identity), Metadata{}, false)
	require.NoError(t, err)

	record, err := s.GetSession(token)
	require.NoError(t, err)
	record.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, s.UpdateSession(record))

	_, err = svc.Get(context.Background(), token)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// The record was deactivated, not just hidden.
	stale, err := s.GetSession(token)
	require.NoError(t, err)
	assert.False(t, stale.IsActive)
}

func TestGet_UnknownToken(t *testing.T) {
	svc, _, _ := setupTestService(t)
	_, err := svc.Get(context.Background(), "no-such-token")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestNeedsRefresh(t *testing.T) {
	svc, s, v := setupTestService(t)
	identity := createTestIdentity(t, svc.store, 1)

	token, err := svc.Create(context.Background(), identity.ID, issuePair(t, v, identity), Metadata{}, false)
	require.NoError(t, err)

	// Fresh access token, one hour out: no refresh needed against a
	// five minute threshold.
	needs, err := svc.NeedsRefresh(context.Background(), token)
	require.NoError(t, err)
	assert.False(t, needs)

	record, err := s.GetSession(token)
	require.NoError(t, err)
	record.AccessExpiresAt = time.Now().Add(2 * time.Minute)
	require.NoError(t, s.UpdateSession(record))

	needs, err = svc.NeedsRefresh(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, needs)
}

func TestRefresh_LocalPath(t *testing.T) {
	svc, s, v := setupTestService(t)
	identity := createTestIdentity(t, svc.store, 1)

	token, err := svc.Create(context.Background(), identity.ID, issuePair(t, v, identity), Metadata{}, false)
	require.NoError(t, err)

	before, err := s.GetSession(token)
	require.NoError(t, err)

	require.NoError(t, svc.Refresh(context.Background(), token))

	after, err := s.GetSession(token)
	require.NoError(t, err)
	assert.NotEqual(t, before.AccessToken, after.AccessToken)
	assert.True(t, after.IsActive)
}

func TestRefresh_ConcurrentCallsStayMonotonic(t *testing.T) {
	svc, s, v := setupTestService(t)
	identity := createTestIdentity(t, svc.store, 1)

	token, err := svc.Create(context.Background(), identity.ID, issuePair(t, v, identity), Metadata{}, false)
	require.NoError(t, err)

	before, err := s.GetSession(token)
	require.NoError(t, err)

	// Racing refreshes must never deactivate the session or move its
	// access expiry backwards; the losing writers are absorbed by the
	// monotonic token update.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.Refresh(context.Background(), token)
		}()
	}
	wg.Wait()

	settled, err := s.GetSession(token)
	require.NoError(t, err)
	assert.True(t, settled.IsActive)
	assert.False(t, settled.AccessExpiresAt.Before(before.AccessExpiresAt))

	// A follow-up refresh on the settled state still succeeds.
	require.NoError(t, svc.Refresh(context.Background(), token))
	after, err := s.GetSession(token)
	require.NoError(t, err)
	assert.True(t, after.IsActive)
	assert.False(t, after.AccessExpiresAt.Before(settled.AccessExpiresAt))
}

func TestRefresh_ExhaustedRevokesSession(t *testing.T) {
	svc, s, v := setupTestService(t)
	identity := createTestIdentity(t, svc.store, 1)

	token, err := svc.Create(context.Background(), identity.ID, issuePair(t, v, identity), Metadata{}, false)
	require.NoError(t, err)

	// Corrupt the stored refresh token so both refresh paths fail.
	record, err := s.GetSession(token)
	require.NoError(t, err)
	record.RefreshToken = "garbage"
	require.NoError(t, s.UpdateSession(record))

	err = svc.Refresh(context.Background(), token)
	assert.ErrorIs(t, err, ErrRefreshExhausted)

	_, err = svc.Get(context.Background(), token)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

// failingRefresher always fails, exercising the local fallback.
type failingRefresher struct{}

func (f *failingRefresher) Refresh(ctx context.Context, refreshToken string) (*provider.TokenSet, error) {
	return nil, provider.ErrUnavailable
}

func (f *failingRefresher) Logout(ctx context.Context, refreshToken string) error {
	return errors.New("provider down")
}

func TestRefresh_DelegatedFailureFallsBackToLocal(t *testing.T) {
	svc, s, v := setupTestService(t)
	svc.provider = &failingRefresher{}
	identity := createTestIdentity(t, svc.store, 1)

	token, err := svc.Create(context.Background(), identity.ID, issuePair(t, v, identity), Metadata{}, false)
	require.NoError(t, err)

	require.NoError(t, svc.Refresh(context.Background(), token))

	after, err := s.GetSession(token)
	require.NoError(t, err)
	assert.True(t, after.IsActive)
}

func TestRevoke(t *testing.T) {
	svc, _, v := setupTestService(t)
	identity := createTestIdentity(t, svc.store, 1)

	token, err := svc.Create(context.Background(), identity.ID, issuePair(t, v, identity), Metadata{}, false)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), token))

	_, err = svc.Get(context.Background(), token)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Revoking again reports not found.
	err = svc.Revoke(context.Background(), token)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRevoke_ProviderLogoutFailureIsNonFatal(t *testing.T) {
	svc, _, v := setupTestService(t)
	svc.provider = &failingRefresher{}
	identity := createTestIdentity(t, svc.store, 1)

	token, err := svc.Create(context.Background(), identity.ID, issuePair(t, v, identity), Metadata{}, false)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), token))
}

func TestRevokeOthers(t *testing.T) {
	svc, _, v := setupTestService(t)
	identity := createTestIdentity(t, svc.store, 1)

	var tokens []string
	for i := 0; i < 3; i++ {
		token, err := svc.Create(context.Background(), identity.ID, issuePair(t, v, identity), Metadata{}, false)
		require.NoError(t, err)
		tokens = append(tokens, token)
	}

	count, err := svc.RevokeOthers(context.Background(), identity.ID, tokens[2])
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	_, err = svc.Get(context.Background(), tokens[2])
	assert.NoError(t, err)
}

func TestRevokeAll(t *testing.T) {
	svc, _, v := setupTestService(t)
	identity := createTestIdentity(t, svc.store, 1)

	for i := 0; i < 2; i++ {
		_, err := svc.Create(context.Background(), identity.ID, issuePair(t, v, identity), Metadata{}, false)
		require.NoError(t, err)
	}

	count, err := svc.RevokeAll(context.Background(), identity.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	active, err := svc.List(context.Background(), identity.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestCleanupExpired(t *testing.T) {
	svc, s, v := setupTestService(t)
	identity := createTestIdentity(t, svc.store, 1)

	live, err := svc.Create(context.Background(), identity.ID, issuePair(t, v, identity), Metadata{}, false)
	require.NoError(t, err)
	dead, err := svc.Create(context.Background(), identity.ID, issuePair(t, v, identity), Metadata{}, false)
	require.NoError(t, err)

	record, err := s.GetSession(dead)
	require.NoError(t, err)
	record.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, s.UpdateSession(record))

	count, err := svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, err = svc.Get(context.Background(), live)
	assert.NoError(t, err)
}

func TestTouchActivity(t *testing.T) {
	svc, s, v := setupTestService(t)
	identity := createTestIdentity(t, svc.store, 1)

	token, err := svc.Create(context.Background(), identity.ID, issuePair(t, v, identity), Metadata{}, false)
	require.NoError(t, err)

	at := time.Now().Add(time.Hour)
	require.NoError(t, svc.TouchActivity(context.Background(), token))

	require.NoError(t, s.TouchSessionActivity(token, at))
	record, err := s.GetSession(token)
	require.NoError(t, err)
	assert.WithinDuration(t, at, record.LastActivityAt, time.Second)
}
