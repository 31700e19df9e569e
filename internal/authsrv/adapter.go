package authsrv

import (
	"context"
	"errors"

	"github.com/learnhub-io/identity/internal/models"
	"github.com/learnhub-io/identity/internal/store"
)

// Storage is the persistence boundary of the authorization server.
// Every protocol artifact (codes, tokens, device grants) round-trips
// through this interface, which keeps the server logic testable
// against any backend.
type Storage interface {
	Save(ctx context.Context, grant *models.Grant) error
	Find(ctx context.Context, kind, id string) (*models.Grant, error)
	FindBySecondaryKey(ctx context.Context, kind, key string) (*models.Grant, error)
	Upsert(ctx context.Context, grant *models.Grant) error
	MarkConsumed(ctx context.Context, kind, id string) error
	Destroy(ctx context.Context, kind, id string) error
	RevokeByGrantID(ctx context.Context, grantID string) (int64, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

// StoreAdapter implements Storage on the relational store.
type StoreAdapter struct {
	store *store.Store
}

func NewStoreAdapter(s *store.Store) *StoreAdapter {
	return &StoreAdapter{store: s}
}

func (a *StoreAdapter) Save(ctx context.Context, grant *models.Grant) error {
	return a.store.CreateGrant(grant)
}

func (a *StoreAdapter) Find(ctx context.Context, kind, id string) (*models.Grant, error) {
	grant, err := a.store.GetGrant(kind, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrGrantNotFound
		}
		return nil, err
	}
	return grant, nil
}

func (a *StoreAdapter) FindBySecondaryKey(ctx context.Context, kind, key string) (*models.Grant, error) {
	grant, err := a.store.GetGrantBySecondaryKey(kind, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrGrantNotFound
		}
		return nil, err
	}
	return grant, nil
}

func (a *StoreAdapter) Upsert(ctx context.Context, grant *models.Grant) error {
	return a.store.UpsertGrant(grant)
}

func (a *StoreAdapter) MarkConsumed(ctx context.Context, kind, id string) error {
	err := a.store.ConsumeGrant(kind, id)
	if errors.Is(err, store.ErrGrantConsumed) {
		return ErrCodeAlreadyUsed
	}
	return err
}

func (a *StoreAdapter) Destroy(ctx context.Context, kind, id string) error {
	return a.store.DeleteGrant(kind, id)
}

func (a *StoreAdapter) RevokeByGrantID(ctx context.Context, grantID string) (int64, error) {
	return a.store.DeleteGrantsByGrantID(grantID)
}

func (a *StoreAdapter) CleanupExpired(ctx context.Context) (int64, error) {
	return a.store.DeleteExpiredGrants()
}
