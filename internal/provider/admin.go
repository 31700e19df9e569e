package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// UserUpdate carries the locally-edited profile fields pushed back to
// the provider's directory. Only identity attributes travel; locally
// owned fields stay local.
type UserUpdate struct {
	Email      string `json:"email,omitempty"`
	Username   string `json:"username,omitempty"`
	GivenName  string `json:"firstName,omitempty"`
	FamilyName string `json:"lastName,omitempty"`
}

// RoleRepresentation is the provider's realm role shape. Composite
// roles are deliberately never created here: role and permission
// namespaces stay disjoint.
type RoleRepresentation struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Composite bool   `json:"composite"`
}

func (c *Client) adminRequest(
	ctx context.Context,
	method, endpoint string,
	body any,
) (*http.Response, error) {
	token, err := c.adminTokens.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: admin token: %v", ErrUnavailable, err)
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}

// CreateUser registers a user in the provider's directory and returns
// the new subject id.
func (c *Client) CreateUser(ctx context.Context, update UserUpdate) (string, error) {
	resp, err := c.adminRequest(ctx, http.MethodPost, c.adminEndpoint("/users"), map[string]any{
		"email":     update.Email,
		"username":  update.Username,
		"firstName": update.GivenName,
		"lastName":  update.FamilyName,
		"enabled":   true,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: create user %s - %s", ErrUnavailable, resp.Status, string(body))
	}

	// Subject id arrives in the Location header: .../users/<id>
	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("%w: create user response missing Location", ErrUnavailable)
	}
	parsed, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	segments := splitPath(parsed.Path)
	return segments[len(segments)-1], nil
}

// UpdateUser pushes locally-edited profile attributes to the provider.
// Callers treat failures as non-fatal.
func (c *Client) UpdateUser(ctx context.Context, externalID string, update UserUpdate) error {
	resp, err := c.adminRequest(ctx, http.MethodPut,
		c.adminEndpoint("/users/"+url.PathEscape(externalID)), update)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrUserNotFound
	default:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: update user %s - %s", ErrUnavailable, resp.Status, string(body))
	}
}

// GetRealmRole fetches a realm role by name.
func (c *Client) GetRealmRole(ctx context.Context, name string) (*RoleRepresentation, error) {
	resp, err := c.adminRequest(ctx, http.MethodGet,
		c.adminEndpoint("/roles/"+url.PathEscape(name)), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrUserNotFound
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: get role %s - %s", ErrUnavailable, resp.Status, string(body))
	}

	var role RoleRepresentation
	if err := json.NewDecoder(resp.Body).Decode(&role); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &role, nil
}

// EnsureRealmRole creates a non-composite realm role if it does not
// exist yet and returns its representation.
func (c *Client) EnsureRealmRole(ctx context.Context, name string) (*RoleRepresentation, error) {
	if role, err := c.GetRealmRole(ctx, name); err == nil {
		return role, nil
	}

	resp, err := c.adminRequest(ctx, http.MethodPost, c.adminEndpoint("/roles"),
		RoleRepresentation{Name: name, Composite: false})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusConflict {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: create role %s - %s", ErrUnavailable, resp.Status, string(body))
	}
	return c.GetRealmRole(ctx, name)
}

// AssignRealmRole maps exactly one realm role onto a user, replacing
// any previously assigned role set.
func (c *Client) AssignRealmRole(ctx context.Context, externalID string, role *RoleRepresentation) error {
	resp, err := c.adminRequest(ctx, http.MethodPost,
		c.adminEndpoint("/users/"+url.PathEscape(externalID)+"/role-mappings/realm"),
		[]RoleRepresentation{*role})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrUserNotFound
	default:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: assign role %s - %s", ErrUnavailable, resp.Status, string(body))
	}
}

func splitPath(path string) []string {
	var segments []string
	for _, segment := range bytes.Split([]byte(path), []byte("/")) {
		if len(segment) > 0 {
			segments = append(segments, string(segment))
		}
	}
	if len(segments) == 0 {
		return []string{""}
	}
	return segments
}
