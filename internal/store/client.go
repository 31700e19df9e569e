package store

import (
	"errors"

	"github.com/learnhub-io/identity/internal/models"

	"gorm.io/gorm"
)

// OAuth client operations. Clients have their own shape and access
// patterns and therefore dedicated storage, unlike grants.

func (s *Store) GetClient(clientID string) (*models.Client, error) {
	var client models.Client
	if err := s.db.Where("client_id = ?", clientID).First(&client).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &client, nil
}

func (s *Store) ListClients() ([]models.Client, error) {
	var clients []models.Client
	if err := s.db.Order("created_at DESC").Find(&clients).Error; err != nil {
		return nil, err
	}
	return clients, nil
}

func (s *Store) CreateClient(client *models.Client) error {
	return s.db.Create(client).Error
}

func (s *Store) UpdateClient(client *models.Client) error {
	return s.db.Save(client).Error
}

func (s *Store) DeleteClient(clientID string) error {
	return s.db.Where("client_id = ?", clientID).Delete(&models.Client{}).Error
}
