package store

import (
	"errors"
	"time"

	"github.com/learnhub-io/identity/internal/models"

	"gorm.io/gorm"
)

// Session operations

func (s *Store) CreateSession(session *models.Session) error {
	return s.db.Create(session).Error
}

func (s *Store) GetSession(token string) (*models.Session, error) {
	var session models.Session
	if err := s.db.Where("token = ?", token).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (s *Store) UpdateSession(session *models.Session) error {
	return s.db.Save(session).Error
}

// TouchSessionActivity updates only the last-activity timestamp.
func (s *Store) TouchSessionActivity(token string, at time.Time) error {
	return s.db.Model(&models.Session{}).
		Where("token = ?", token).
		Update("last_activity_at", at).Error
}

// DeactivateSession marks one session inactive. Returns ErrNotFound if
// no active session matched.
func (s *Store) DeactivateSession(token string) error {
	res := s.db.Model(&models.Session{}).
		Where("token = ? AND is_active = ?", token, true).
		Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveSessionsByIdentity returns active sessions ordered by last
// activity, most recent first. Used for limit enforcement and listing.
func (s *Store) ActiveSessionsByIdentity(identityID int64) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db.Where("identity_id = ? AND is_active = ?", identityID, true).
		Order("last_activity_at DESC").
		Find(&sessions).Error
	return sessions, err
}

// CountActiveSessions counts active, unexpired sessions for an identity.
func (s *Store) CountActiveSessions(identityID int64) (int64, error) {
	var count int64
	err := s.db.Model(&models.Session{}).
		Where("identity_id = ? AND is_active = ? AND expires_at > ?", identityID, true, time.Now()).
		Count(&count).Error
	return count, err
}

// CountAllActiveSessions counts active, unexpired sessions across all
// identities. Feeds the sessions-active gauge.
func (s *Store) CountAllActiveSessions() (int64, error) {
	var count int64
	err := s.db.Model(&models.Session{}).
		Where("is_active = ? AND expires_at > ?", true, time.Now()).
		Count(&count).Error
	return count, err
}

// DeactivateOtherSessions marks all active sessions of an identity
// inactive except the given token. Returns the number revoked.
func (s *Store) DeactivateOtherSessions(identityID int64, keepToken string) (int64, error) {
	res := s.db.Model(&models.Session{}).
		Where("identity_id = ? AND is_active = ? AND token != ?", identityID, true, keepToken).
		Update("is_active", false)
	return res.RowsAffected, res.Error
}

// DeactivateAllSessions marks all active sessions of an identity
// inactive. Returns the number revoked.
func (s *Store) DeactivateAllSessions(identityID int64) (int64, error) {
	res := s.db.Model(&models.Session{}).
		Where("identity_id = ? AND is_active = ?", identityID, true).
		Update("is_active", false)
	return res.RowsAffected, res.Error
}

// DeactivateExpiredSessions batch-marks all past-expiry active sessions
// inactive. Returns the number affected.
func (s *Store) DeactivateExpiredSessions() (int64, error) {
	res := s.db.Model(&models.Session{}).
		Where("is_active = ? AND expires_at < ?", true, time.Now()).
		Update("is_active", false)
	return res.RowsAffected, res.Error
}

// SessionsNeedingRefresh returns active, unexpired sessions whose
// access token expires within the threshold window. Backs the
// background refresh scan.
func (s *Store) SessionsNeedingRefresh(threshold time.Duration, limit int) ([]models.Session, error) {
	now := time.Now()
	var sessions []models.Session
	err := s.db.Where(
		"is_active = ? AND expires_at > ? AND access_expires_at <= ?",
		true, now, now.Add(threshold),
	).
		Order("access_expires_at ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// UpdateSessionTokens persists refreshed token material with monotonic
// expiries: a concurrent refresh that already advanced the expiry
// further is never rolled back.
func (s *Store) UpdateSessionTokens(
	token, accessToken, refreshToken string,
	accessExpiresAt, refreshExpiresAt time.Time,
) error {
	return s.db.Model(&models.Session{}).
		Where("token = ? AND access_expires_at <= ?", token, accessExpiresAt).
		Updates(map[string]any{
			"access_token":       accessToken,
			"refresh_token":      refreshToken,
			"access_expires_at":  accessExpiresAt,
			"refresh_expires_at": refreshExpiresAt,
			"updated_at":         time.Now(),
		}).Error
}
