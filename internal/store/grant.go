package store

import (
	"errors"
	"time"

	"github.com/learnhub-io/identity/internal/models"

	"gorm.io/gorm"
)

// Grant operations. These back the authorization server's storage
// adapter; heterogeneous grant kinds share this one table.

func (s *Store) CreateGrant(grant *models.Grant) error {
	return s.db.Create(grant).Error
}

func (s *Store) GetGrant(kind, id string) (*models.Grant, error) {
	var grant models.Grant
	err := s.db.Where("kind = ? AND id = ?", kind, id).First(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &grant, nil
}

// GetGrantBySecondaryKey looks a grant up by its kind-specific
// secondary key (token hash, user code).
func (s *Store) GetGrantBySecondaryKey(kind, key string) (*models.Grant, error) {
	var grant models.Grant
	err := s.db.Where("kind = ? AND secondary_key = ?", kind, key).First(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &grant, nil
}

// UpsertGrant creates the grant or replaces payload and expiry of an
// existing one with the same kind and id.
func (s *Store) UpsertGrant(grant *models.Grant) error {
	var existing models.Grant
	err := s.db.Where("kind = ? AND id = ?", grant.Kind, grant.ID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.Create(grant).Error
	}
	if err != nil {
		return err
	}
	return s.db.Model(&models.Grant{}).
		Where("kind = ? AND id = ?", grant.Kind, grant.ID).
		Updates(map[string]any{
			"secondary_key": grant.SecondaryKey,
			"identity_id":   grant.IdentityID,
			"client_id":     grant.ClientID,
			"grant_id":      grant.GrantID,
			"payload":       grant.Payload,
			"expires_at":    grant.ExpiresAt,
		}).Error
}

// ConsumeGrant marks a single-use grant consumed exactly once. The
// guarded UPDATE makes double consumption race-safe: the second caller
// sees 0 rows updated and gets ErrGrantConsumed.
func (s *Store) ConsumeGrant(kind, id string) error {
	res := s.db.Model(&models.Grant{}).
		Where("kind = ? AND id = ? AND consumed_at IS NULL", kind, id).
		Update("consumed_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrGrantConsumed
	}
	return nil
}

func (s *Store) DeleteGrant(kind, id string) error {
	return s.db.Where("kind = ? AND id = ?", kind, id).Delete(&models.Grant{}).Error
}

// DeleteGrantsByGrantID removes every artifact descending from one
// authorization (revocation cascade).
func (s *Store) DeleteGrantsByGrantID(grantID string) (int64, error) {
	res := s.db.Where("grant_id = ?", grantID).Delete(&models.Grant{})
	return res.RowsAffected, res.Error
}

// DeleteExpiredGrants purges grants past expiry. Returns the number deleted.
func (s *Store) DeleteExpiredGrants() (int64, error) {
	res := s.db.Where("expires_at < ?", time.Now()).Delete(&models.Grant{})
	return res.RowsAffected, res.Error
}
