package store

import (
	"errors"
	"fmt"

	"github.com/learnhub-io/identity/internal/models"

	"gorm.io/gorm"
)

// Identity operations

func (s *Store) GetIdentityByID(id int64) (*models.Identity, error) {
	var identity models.Identity
	if err := s.db.Where("id = ?", id).First(&identity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &identity, nil
}

func (s *Store) GetIdentityByEmail(email string) (*models.Identity, error) {
	var identity models.Identity
	if err := s.db.Where("email = ?", email).First(&identity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &identity, nil
}

func (s *Store) GetIdentityByUsername(username string) (*models.Identity, error) {
	var identity models.Identity
	if err := s.db.Where("username = ?", username).First(&identity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &identity, nil
}

// GetIdentityByExternalID finds an identity by its delegated-provider subject.
func (s *Store) GetIdentityByExternalID(externalID string) (*models.Identity, error) {
	var identity models.Identity
	err := s.db.Where("external_id = ?", externalID).First(&identity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &identity, nil
}

func (s *Store) CreateIdentity(identity *models.Identity) error {
	// Username/email uniqueness surfaces as a conflict, not a bare
	// driver error, so callers can branch on it.
	var existing models.Identity
	if err := s.db.Where("email = ?", identity.Email).First(&existing).Error; err == nil {
		return ErrEmailConflict
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to check email: %w", err)
	}
	if err := s.db.Where("username = ?", identity.Username).First(&existing).Error; err == nil {
		return ErrUsernameConflict
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to check username: %w", err)
	}
	return s.db.Create(identity).Error
}

func (s *Store) UpdateIdentity(identity *models.Identity) error {
	return s.db.Save(identity).Error
}

func (s *Store) DeleteIdentity(id int64) error {
	return s.db.Delete(&models.Identity{}, "id = ?", id).Error
}
