package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/learnhub-io/identity/internal/models"
)

// Role/permission operations. Permission tokens carry the "perm:"
// prefix; the role namespace never does, so the two can share claim
// lists without ambiguity.

var ErrInvalidPermission = errors.New("permission tokens must carry the perm: prefix")

// GrantPermission attaches a permission token to a role. Granting an
// already-held permission is a no-op.
func (s *Store) GrantPermission(role, permission string) error {
	if role == "" || !strings.HasPrefix(permission, models.PermissionNamespacePrefix) {
		return ErrInvalidPermission
	}
	entry := &models.RolePermission{Role: role, Permission: permission}
	err := s.db.Where("role = ? AND permission = ?", role, permission).
		FirstOrCreate(entry).Error
	if err != nil {
		return fmt.Errorf("failed to grant permission: %w", err)
	}
	return nil
}

// RevokePermission removes a permission token from a role.
func (s *Store) RevokePermission(role, permission string) error {
	return s.db.Where("role = ? AND permission = ?", role, permission).
		Delete(&models.RolePermission{}).Error
}

// PermissionsForRole returns the role's permission tokens, sorted.
func (s *Store) PermissionsForRole(role string) ([]string, error) {
	var permissions []string
	err := s.db.Model(&models.RolePermission{}).
		Where("role = ?", role).
		Order("permission ASC").
		Pluck("permission", &permissions).Error
	if err != nil {
		return nil, err
	}
	return permissions, nil
}

// PermissionsForIdentity resolves an identity's role and returns the
// permissions attached to it.
func (s *Store) PermissionsForIdentity(identityID int64) ([]string, error) {
	identity, err := s.GetIdentityByID(identityID)
	if err != nil {
		return nil, err
	}
	return s.PermissionsForRole(identity.Role)
}
