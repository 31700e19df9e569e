// Package sync reconciles the delegated provider's profile with the
// local identity record. At delegated login the provider is
// authoritative for identity attributes; locally-owned fields are
// never overwritten.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/learnhub-io/identity/internal/models"
	"github.com/learnhub-io/identity/internal/provider"
	"github.com/learnhub-io/identity/internal/store"
)

var (
	// ErrCompositeRole is returned when a role token would bundle
	// permission tokens. Role and permission namespaces stay strictly
	// disjoint to prevent privilege leakage through role composition.
	ErrCompositeRole = errors.New("composite roles are not permitted")

	// ErrIdentityNotFound mirrors the store error at this layer.
	ErrIdentityNotFound = errors.New("identity not found")
)

// permissionPrefix marks tokens that live in the permission namespace.
const permissionPrefix = models.PermissionNamespacePrefix

// Directory is the slice of the provider client the resolver needs.
type Directory interface {
	CreateUser(ctx context.Context, update provider.UserUpdate) (string, error)
	UpdateUser(ctx context.Context, externalID string, update provider.UserUpdate) error
	EnsureRealmRole(ctx context.Context, name string) (*provider.RoleRepresentation, error)
	AssignRealmRole(ctx context.Context, externalID string, role *provider.RoleRepresentation) error
}

// Resolver applies delegated profiles over local identities and pushes
// local edits back, best-effort.
type Resolver struct {
	store         *store.Store
	directory     Directory // nil when no delegated provider is configured
	defaultRole   string
	defaultStatus string
}

func NewResolver(s *store.Store, directory Directory) *Resolver {
	return &Resolver{
		store:         s,
		directory:     directory,
		defaultRole:   "user",
		defaultStatus: "active",
	}
}

// SyncDelegatedLogin reconciles the provider's canonical profile with
// the local record. The identity is located by external reference
// first, then by email. Delegated fields (email, username, names,
// email-verified timestamp) overwrite local values; locally-owned
// fields (credential hash, bio, avatar, phone, locale, role, status)
// are preserved. An unknown profile creates a new identity with the
// default role and status.
func (r *Resolver) SyncDelegatedLogin(ctx context.Context, profile *provider.Profile) (*models.Identity, error) {
	identity, err := r.locate(profile)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to locate identity: %w", err)
		}
		return r.createFromProfile(profile)
	}

	identity.ExternalID = profile.Subject
	identity.Email = profile.Email
	if profile.Username != "" {
		identity.Username = profile.Username
	}
	identity.GivenName = profile.GivenName
	identity.FamilyName = profile.FamilyName
	if profile.EmailVerified && identity.EmailVerifiedAt == nil {
		now := time.Now()
		identity.EmailVerifiedAt = &now
	}
	// PasswordHash, Bio, AvatarURL, Phone, Locale, Role, Status stay as-is.

	if err := r.store.UpdateIdentity(identity); err != nil {
		return nil, fmt.Errorf("failed to update identity from delegated profile: %w", err)
	}
	return identity, nil
}

func (r *Resolver) locate(profile *provider.Profile) (*models.Identity, error) {
	if identity, err := r.store.GetIdentityByExternalID(profile.Subject); err == nil {
		return identity, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return r.store.GetIdentityByEmail(profile.Email)
}

func (r *Resolver) createFromProfile(profile *provider.Profile) (*models.Identity, error) {
	username := profile.Username
	if username == "" {
		username = profile.Email
	}
	identity := &models.Identity{
		ExternalID: profile.Subject,
		Email:      profile.Email,
		Username:   username,
		GivenName:  profile.GivenName,
		FamilyName: profile.FamilyName,
		Locale:     profile.Locale,
		Role:       r.defaultRole,
		Status:     r.defaultStatus,
	}
	if profile.EmailVerified {
		now := time.Now()
		identity.EmailVerifiedAt = &now
	}
	if err := r.store.CreateIdentity(identity); err != nil {
		return nil, fmt.Errorf("failed to create identity from delegated profile: %w", err)
	}
	return identity, nil
}

// PushLocalProfile propagates locally-edited identity attributes to the
// delegated provider's directory. Best-effort: failures are logged and
// never surfaced; local and remote directories realign at next login.
func (r *Resolver) PushLocalProfile(ctx context.Context, identity *models.Identity) {
	if r.directory == nil || identity.ExternalID == "" {
		return
	}
	err := r.directory.UpdateUser(ctx, identity.ExternalID, provider.UserUpdate{
		Email:      identity.Email,
		Username:   identity.Username,
		GivenName:  identity.GivenName,
		FamilyName: identity.FamilyName,
	})
	if err != nil {
		log.Printf("[Sync] Failed to push profile to provider (non-fatal): %v", err)
	}
}

// AssignRole assigns exactly one role token to the identity, locally
// and (best-effort) at the provider. Role tokens must live outside the
// permission namespace; composite role names are refused.
func (r *Resolver) AssignRole(ctx context.Context, identityID int64, role string) error {
	if err := validateRoleToken(role); err != nil {
		return err
	}

	identity, err := r.store.GetIdentityByID(identityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrIdentityNotFound
		}
		return err
	}

	identity.Role = role
	if err := r.store.UpdateIdentity(identity); err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}

	if r.directory != nil && identity.ExternalID != "" {
		realmRole, err := r.directory.EnsureRealmRole(ctx, role)
		if err != nil {
			log.Printf("[Sync] Failed to ensure provider role %q (non-fatal): %v", role, err)
			return nil
		}
		if err := r.directory.AssignRealmRole(ctx, identity.ExternalID, realmRole); err != nil {
			log.Printf("[Sync] Failed to assign provider role %q (non-fatal): %v", role, err)
		}
	}
	return nil
}

// validateRoleToken keeps the role namespace disjoint from the
// permission namespace. A role that names permission tokens (directly
// or as a bundle) is composite and refused.
func validateRoleToken(role string) error {
	if role == "" {
		return fmt.Errorf("%w: empty role", ErrCompositeRole)
	}
	if strings.HasPrefix(role, permissionPrefix) {
		return fmt.Errorf("%w: %q is a permission token", ErrCompositeRole, role)
	}
	if strings.ContainsAny(role, ",+ ") {
		return fmt.Errorf("%w: %q bundles multiple tokens", ErrCompositeRole, role)
	}
	return nil
}
