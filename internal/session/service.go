// Package session owns the session record lifecycle: create, fetch,
// refresh, revoke, limit enforcement, and expiry cleanup. A session
// wraps an access/refresh token pair behind an opaque random token and
// moves Created -> Active -> Expired/Revoked; refresh is a transition
// that stays in Active.
package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/learnhub-io/identity/internal/config"
	"github.com/learnhub-io/identity/internal/metrics"
	"github.com/learnhub-io/identity/internal/models"
	"github.com/learnhub-io/identity/internal/provider"
	"github.com/learnhub-io/identity/internal/store"
	"github.com/learnhub-io/identity/internal/util"
	"github.com/learnhub-io/identity/internal/verifier"
)

// DelegatedRefresher is the slice of the provider client the session
// store needs: refresh and best-effort logout.
type DelegatedRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*provider.TokenSet, error)
	Logout(ctx context.Context, refreshToken string) error
}

// Metadata captures device information recorded at session creation.
type Metadata struct {
	UserAgent string
	IPAddress string
}

// Resolved is the joined identity + session record returned by Get.
type Resolved struct {
	Session  *models.Session
	Identity *models.Identity
}

// Service implements the session state machine over the relational
// store. The store is the single source of truth: no in-process cache
// is consulted for trust decisions.
type Service struct {
	store    *store.Store
	config   *config.Config
	verifier *verifier.Verifier
	provider DelegatedRefresher // nil when no delegated provider is configured
	metrics  metrics.Recorder
}

func NewService(
	s *store.Store,
	cfg *config.Config,
	v *verifier.Verifier,
	p DelegatedRefresher,
	m metrics.Recorder,
) *Service {
	return &Service{
		store:    s,
		config:   cfg,
		verifier: v,
		provider: p,
		metrics:  m,
	}
}

// Create verifies the incoming token pair, enforces the concurrent
// session limit, and persists a new session. Only the opaque token is
// returned; the underlying pair never leaves the server.
func (s *Service) Create(
	ctx context.Context,
	identityID int64,
	pair *verifier.TokenPair,
	meta Metadata,
	rememberMe bool,
) (string, error) {
	// Ingestion check: the access token must verify through the
	// credential verifier before we wrap it in a session.
	claims, err := s.verifier.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTokenPair, err)
	}

	token, err := util.RandomToken(s.config.SessionTokenBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}

	now := time.Now()
	lifetime := s.config.SessionLifetime
	if rememberMe {
		lifetime = s.config.RememberMeLifetime
	}

	accessExpiresAt := pair.AccessExpiresAt
	if accessExpiresAt.IsZero() {
		accessExpiresAt = claims.ExpiresAt
	}
	refreshExpiresAt := pair.RefreshExpiresAt
	if refreshExpiresAt.IsZero() {
		refreshExpiresAt = s.refreshExpiryOf(pair.RefreshToken, now)
	}

	// Limit enforcement happens before insertion so the invariant
	// holds at every point in time.
	if err := s.enforceSessionLimit(ctx, identityID); err != nil {
		return "", err
	}

	record := &models.Session{
		Token:            token,
		IdentityID:       identityID,
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: refreshExpiresAt,
		ExpiresAt:        now.Add(lifetime),
		RememberMe:       rememberMe,
		UserAgent:        meta.UserAgent,
		IPAddress:        meta.IPAddress,
		IsActive:         true,
		LastActivityAt:   now,
	}
	if err := s.store.CreateSession(record); err != nil {
		return "", fmt.Errorf("failed to persist session: %w", err)
	}

	s.metrics.RecordSessionCreated(rememberMe)
	return token, nil
}

// refreshExpiryOf derives a refresh expiry for bookkeeping. The
// unverified decode is acceptable here: the refresh token's
// authenticity is re-established on every refresh.
func (s *Service) refreshExpiryOf(refreshToken string, now time.Time) time.Time {
	if refreshToken != "" {
		if claims, err := verifier.DecodeUnverified(refreshToken); err == nil && !claims.ExpiresAt.IsZero() {
			return claims.ExpiresAt
		}
	}
	return now.Add(s.config.RefreshTokenExpiration)
}

// Get returns the joined identity + session record only if the session
// is active and unexpired. An expired session is lazily revoked and
// reported as not found; no soft-expired record is ever returned.
func (s *Service) Get(ctx context.Context, token string) (*Resolved, error) {
	record, err := s.store.GetSession(token)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	if !record.IsActive {
		return nil, ErrSessionNotFound
	}
	if record.IsExpired() {
		if err := s.store.DeactivateSession(token); err != nil && err != store.ErrNotFound {
			log.Printf("[Session] Failed to lazily revoke expired session: %v", err)
		}
		s.metrics.RecordSessionRevoked("expired")
		return nil, ErrSessionNotFound
	}

	identity, err := s.store.GetIdentityByID(record.IdentityID)
	if err != nil {
		return nil, ErrSessionNotFound
	}

	return &Resolved{Session: record, Identity: identity}, nil
}

// NeedsRefresh reports whether the remaining access-token lifetime has
// dropped to or below the configured threshold.
func (s *Service) NeedsRefresh(ctx context.Context, token string) (bool, error) {
	record, err := s.store.GetSession(token)
	if err != nil {
		return false, ErrSessionNotFound
	}
	if !record.IsActive || record.IsExpired() {
		return false, ErrSessionNotFound
	}
	return record.NeedsRefresh(s.config.RefreshThreshold), nil
}

// Refresh renews the embedded token pair: the delegated provider path
// first when configured, the local path as fallback. When both fail the
// session is revoked and ErrRefreshExhausted raised, forcing re-login.
//
// Safe to call redundantly from concurrent requests: expiries only move
// forward (guarded UPDATE in the store), so a race wastes at most one
// extra network call and never corrupts state.
func (s *Service) Refresh(ctx context.Context, token string) error {
	record, err := s.store.GetSession(token)
	if err != nil {
		return ErrSessionNotFound
	}
	if !record.IsActive || record.IsExpired() {
		return ErrSessionNotFound
	}

	pair, err := s.renewTokenPair(ctx, record)
	if err != nil {
		// A dead refresh token is a terminal state.
		if revokeErr := s.store.DeactivateSession(token); revokeErr != nil && revokeErr != store.ErrNotFound {
			log.Printf("[Session] Failed to revoke session after refresh failure: %v", revokeErr)
		}
		s.metrics.RecordSessionRefreshed("exhausted")
		s.metrics.RecordSessionRevoked("refresh_failed")
		return fmt.Errorf("%w: %v", ErrRefreshExhausted, err)
	}

	if err := s.store.UpdateSessionTokens(
		token,
		pair.AccessToken, pair.RefreshToken,
		pair.AccessExpiresAt, pair.RefreshExpiresAt,
	); err != nil {
		return fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	s.metrics.RecordSessionRefreshed("success")
	return nil
}

// renewTokenPair runs the delegated-then-local refresh chain.
func (s *Service) renewTokenPair(ctx context.Context, record *models.Session) (*verifier.TokenPair, error) {
	var delegatedErr error

	if s.provider != nil && record.RefreshToken != "" {
		set, err := s.provider.Refresh(ctx, record.RefreshToken)
		if err == nil {
			refreshExpiresAt := set.RefreshExpiresAt
			if refreshExpiresAt.IsZero() {
				// Provider omitted a refresh lifetime: preserve the
				// remaining lifetime of the stored refresh token.
				refreshExpiresAt = record.RefreshExpiresAt
			}
			return &verifier.TokenPair{
				AccessToken:      set.AccessToken,
				RefreshToken:     set.RefreshToken,
				AccessExpiresAt:  set.AccessExpiresAt,
				RefreshExpiresAt: refreshExpiresAt,
			}, nil
		}
		delegatedErr = err
		log.Printf("[Session] Delegated refresh failed, trying local path: %v", err)
	}

	pair, localErr := s.verifier.RefreshLocalPair(record.RefreshToken)
	if localErr == nil {
		return pair, nil
	}

	if delegatedErr != nil {
		return nil, fmt.Errorf("delegated: %v; local: %v", delegatedErr, localErr)
	}
	return nil, localErr
}

// Revoke logs the session out. Provider-side logout is best-effort:
// its failure is logged and never blocks local revocation.
func (s *Service) Revoke(ctx context.Context, token string) error {
	record, err := s.store.GetSession(token)
	if err != nil {
		return ErrSessionNotFound
	}

	if s.provider != nil && record.RefreshToken != "" {
		if err := s.provider.Logout(ctx, record.RefreshToken); err != nil {
			log.Printf("[Session] Provider logout failed (non-fatal): %v", err)
		}
	}

	if err := s.store.DeactivateSession(token); err != nil {
		if err == store.ErrNotFound {
			return ErrSessionNotFound
		}
		return err
	}
	s.metrics.RecordSessionRevoked("logout")
	return nil
}

// RevokeOthers revokes every active session of the identity except the
// given one. Returns the number revoked.
func (s *Service) RevokeOthers(ctx context.Context, identityID int64, keepToken string) (int64, error) {
	count, err := s.store.DeactivateOtherSessions(identityID, keepToken)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordSessionsRevoked("bulk", int(count))
	return count, nil
}

// RevokeAll revokes every active session of the identity. Returns the
// number revoked.
func (s *Service) RevokeAll(ctx context.Context, identityID int64) (int64, error) {
	count, err := s.store.DeactivateAllSessions(identityID)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordSessionsRevoked("bulk", int(count))
	return count, nil
}

// CleanupExpired batch-marks all past-expiry active sessions inactive.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	count, err := s.store.DeactivateExpiredSessions()
	if err != nil {
		return 0, err
	}
	s.metrics.RecordSessionsRevoked("expired", int(count))
	return count, nil
}

// TouchActivity records a last-activity ping. Failures are the
// caller's to log; the request path treats them as fire-and-forget.
func (s *Service) TouchActivity(ctx context.Context, token string) error {
	return s.store.TouchSessionActivity(token, time.Now())
}

// List returns the identity's active sessions, most recent activity first.
func (s *Service) List(ctx context.Context, identityID int64) ([]models.Session, error) {
	return s.store.ActiveSessionsByIdentity(identityID)
}

// enforceSessionLimit revokes oldest-by-activity sessions until the
// identity is one below the configured limit, making room for the
// session about to be created.
func (s *Service) enforceSessionLimit(ctx context.Context, identityID int64) error {
	if s.config.SessionLimit <= 0 {
		return nil
	}

	// Cheap count first; the common case is well under the limit.
	count, err := s.store.CountActiveSessions(identityID)
	if err != nil {
		return fmt.Errorf("failed to enforce session limit: %w", err)
	}
	if count < int64(s.config.SessionLimit) {
		return nil
	}

	sessions, err := s.store.ActiveSessionsByIdentity(identityID)
	if err != nil {
		return fmt.Errorf("failed to enforce session limit: %w", err)
	}
	if len(sessions) < s.config.SessionLimit {
		return nil
	}

	// Sessions arrive most-recent first; everything at or past
	// limit-1 goes, oldest first in effect.
	for _, victim := range sessions[s.config.SessionLimit-1:] {
		if err := s.store.DeactivateSession(victim.Token); err != nil && err != store.ErrNotFound {
			return fmt.Errorf("failed to revoke session over limit: %w", err)
		}
		s.metrics.RecordSessionRevoked("limit")
	}
	return nil
}
