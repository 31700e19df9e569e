package sync

import (
	"context"
	"testing"
	"time"

	"github.com/learnhub-io/identity/internal/models"
	"github.com/learnhub-io/identity/internal/provider"
	"github.com/learnhub-io/identity/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestResolver(t *testing.T) (*Resolver, *store.Store) {
	t.Helper()
	s, err := store.New("sqlite", ":memory:", store.Options{})
	require.NoError(t, err)
	return NewResolver(s, nil), s
}

// fakeDirectory records directory calls for push tests.
type fakeDirectory struct {
	updated      []string
	ensuredRoles []string
	assigned     []string
	err          error
}

func (f *fakeDirectory) CreateUser(ctx context.Context, update provider.UserUpdate) (string, error) {
	return "ext-created", f.err
}

func (f *fakeDirectory) UpdateUser(ctx context.Context, externalID string, update provider.UserUpdate) error {
	f.updated = append(f.updated, externalID)
	return f.err
}

func (f *fakeDirectory) EnsureRealmRole(ctx context.Context, name string) (*provider.RoleRepresentation, error) {
	f.ensuredRoles = append(f.ensuredRoles, name)
	if f.err != nil {
		return nil, f.err
	}
	return &provider.RoleRepresentation{ID: "role-id", Name: name}, nil
}

func (f *fakeDirectory) AssignRealmRole(ctx context.Context, externalID string, role *provider.RoleRepresentation) error {
	f.assigned = append(f.assigned, externalID+":"+role.Name)
	return f.err
}

func TestSyncDelegatedLogin_CreatesUnknownIdentity(t *testing.T) {
	resolver, s := setupTestResolver(t)

	identity, err := resolver.SyncDelegatedLogin(context.Background(), &provider.Profile{
		Subject:       "ext-1",
		Email:         "new@example.com",
		EmailVerified: true,
		Username:      "newuser",
		GivenName:     "New",
		FamilyName:    "User",
		Locale:        "de",
	})
	require.NoError(t, err)

	assert.Equal(t, "ext-1", identity.ExternalID)
	assert.Equal(t, "user", identity.Role)
	assert.Equal(t, "active", identity.Status)
	assert.Equal(t, "de", identity.Locale)
	require.NotNil(t, identity.EmailVerifiedAt)

	stored, err := s.GetIdentityByExternalID("ext-1")
	require.NoError(t, err)
	assert.Equal(t, "newuser", stored.Username)
}

func TestSyncDelegatedLogin_UsernameFallsBackToEmail(t *testing.T) {
	resolver, _ := setupTestResolver(t)

	identity, err := resolver.SyncDelegatedLogin(context.Background(), &provider.Profile{
		Subject: "ext-2",
		Email:   "only-email@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "only-email@example.com", identity.Username)
}

func TestSyncDelegatedLogin_PreservesLocallyOwnedFields(t *testing.T) {
	resolver, s := setupTestResolver(t)

	existing := &models.Identity{
		ExternalID:   "ext-3",
		Email:        "olduser@example.com",
		Username:     "olduser",
		PasswordHash: "local-hash",
		Bio:          "my bio",
		AvatarURL:    "https://cdn.example.com/a.png",
		Phone:        "+123",
		Locale:       "fr",
		Role:         "admin",
		Status:       "active",
	}
	require.NoError(t, s.CreateIdentity(existing))

	identity, err := resolver.SyncDelegatedLogin(context.Background(), &provider.Profile{
		Subject:    "ext-3",
		Email:      "renamed@example.com",
		Username:   "renamed",
		GivenName:  "Re",
		FamilyName: "Named",
	})
	require.NoError(t, err)

	// Delegated attributes win.
	assert.Equal(t, "renamed@example.com", identity.Email)
	assert.Equal(t, "renamed", identity.Username)
	assert.Equal(t, "Re", identity.GivenName)

	// Locally-owned fields survive untouched.
	assert.Equal(t, "local-hash", identity.PasswordHash)
	assert.Equal(t, "my bio", identity.Bio)
	assert.Equal(t, "https://cdn.example.com/a.png", identity.AvatarURL)
	assert.Equal(t, "+123", identity.Phone)
	assert.Equal(t, "fr", identity.Locale)
	assert.Equal(t, "admin", identity.Role)
}

func TestSyncDelegatedLogin_LinksByEmail(t *testing.T) {
	resolver, s := setupTestResolver(t)

	// A local-only account logging in through the provider for the
	// first time is matched by email and linked.
	local := &models.Identity{
		Email:        "link@example.com",
		Username:     "linkme",
		PasswordHash: "hash",
		Role:         "user",
		Status:       "active",
	}
	require.NoError(t, s.CreateIdentity(local))

	identity, err := resolver.SyncDelegatedLogin(context.Background(), &provider.Profile{
		Subject: "ext-4",
		Email:   "link@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, local.ID, identity.ID)
	assert.Equal(t, "ext-4", identity.ExternalID)
	assert.Equal(t, "hash", identity.PasswordHash)
}

func TestSyncDelegatedLogin_EmailVerifiedSetOnce(t *testing.T) {
	resolver, s := setupTestResolver(t)

	verifiedAt := time.Now().Add(-48 * time.Hour)
	existing := &models.Identity{
		ExternalID:      "ext-5",
		Email:           "verified@example.com",
		Username:        "verified",
		Role:            "user",
		Status:          "active",
		EmailVerifiedAt: &verifiedAt,
	}
	require.NoError(t, s.CreateIdentity(existing))

	identity, err := resolver.SyncDelegatedLogin(context.Background(), &provider.Profile{
		Subject:       "ext-5",
		Email:         "verified@example.com",
		EmailVerified: true,
	})
	require.NoError(t, err)

	// The original verification timestamp is never re-stamped.
	require.NotNil(t, identity.EmailVerifiedAt)
	assert.WithinDuration(t, verifiedAt, *identity.EmailVerifiedAt, time.Second)
}

func TestPushLocalProfile(t *testing.T) {
	resolver, s := setupTestResolver(t)
	dir := &fakeDirectory{}
	resolver.directory = dir

	linked := &models.Identity{
		ExternalID: "ext-6",
		Email:      "push@example.com",
		Username:   "pusher",
		Role:       "user",
		Status:     "active",
	}
	require.NoError(t, s.CreateIdentity(linked))

	resolver.PushLocalProfile(context.Background(), linked)
	assert.Equal(t, []string{"ext-6"}, dir.updated)

	// Local-only identities have nothing to push to.
	resolver.PushLocalProfile(context.Background(), &models.Identity{Email: "x@example.com"})
	assert.Len(t, dir.updated, 1)
}

func TestAssignRole(t *testing.T) {
	resolver, s := setupTestResolver(t)
	dir := &fakeDirectory{}
	resolver.directory = dir

	identity := &models.Identity{
		ExternalID: "ext-7",
		Email:      "role@example.com",
		Username:   "rolehaver",
		Role:       "user",
		Status:     "active",
	}
	require.NoError(t, s.CreateIdentity(identity))

	require.NoError(t, resolver.AssignRole(context.Background(), identity.ID, "editor"))

	updated, err := s.GetIdentityByID(identity.ID)
	require.NoError(t, err)
	assert.Equal(t, "editor", updated.Role)
	assert.Equal(t, []string{"editor"}, dir.ensuredRoles)
	assert.Equal(t, []string{"ext-7:editor"}, dir.assigned)
}

func TestAssignRole_UnknownIdentity(t *testing.T) {
	resolver, _ := setupTestResolver(t)
	err := resolver.AssignRole(context.Background(), 9999, "editor")
	assert.ErrorIs(t, err, ErrIdentityNotFound)
}

func TestAssignRole_RejectsCompositeTokens(t *testing.T) {
	resolver, s := setupTestResolver(t)
	identity := &models.Identity{
		Email:    "strict@example.com",
		Username: "strict",
		Role:     "user",
		Status:   "active",
	}
	require.NoError(t, s.CreateIdentity(identity))

	for _, role := range []string{
		"",
		"perm:documents.read", // permission namespace
		"editor,viewer",       // bundle
		"editor viewer",
		"editor+viewer",
	} {
		err := resolver.AssignRole(context.Background(), identity.ID, role)
		assert.ErrorIs(t, err, ErrCompositeRole, "role %q must be refused", role)
	}

	// The stored role is untouched by refused assignments.
	unchanged, err := s.GetIdentityByID(identity.ID)
	require.NoError(t, err)
	assert.Equal(t, "user", unchanged.Role)
}

func TestAssignRole_ProviderFailureIsNonFatal(t *testing.T) {
	resolver, s := setupTestResolver(t)
	resolver.directory = &fakeDirectory{err: provider.ErrUnavailable}

	identity := &models.Identity{
		ExternalID: "ext-8",
		Email:      "besteffort@example.com",
		Username:   "besteffort",
		Role:       "user",
		Status:     "active",
	}
	require.NoError(t, s.CreateIdentity(identity))

	// The local assignment sticks even when the provider is down.
	require.NoError(t, resolver.AssignRole(context.Background(), identity.ID, "editor"))
	updated, err := s.GetIdentityByID(identity.ID)
	require.NoError(t, err)
	assert.Equal(t, "editor", updated.Role)
}
