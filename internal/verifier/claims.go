package verifier

import (
	"sort"
	"time"
)

// Claims is the canonical normalized shape produced by every
// verification path, local or delegated.
type Claims struct {
	Subject     string // local identity id or delegated provider subject
	Email       string
	Username    string
	Roles       []string
	Permissions []string
	ExpiresAt   time.Time
	IssuedAt    time.Time

	// Source names the strategy that produced the claims ("local" or
	// "delegated"); used for logging only.
	Source string
}

// NormalizeClaims maps a raw claim set into the canonical shape.
// Local tokens carry flat "roles"/"permissions" arrays. Delegated
// tokens nest roles under realm_access.roles and
// resource_access.<client>.roles; both groups are flattened and
// de-duplicated.
func NormalizeClaims(raw map[string]any) *Claims {
	c := &Claims{
		Subject:  stringClaim(raw, "sub"),
		Email:    stringClaim(raw, "email"),
		Username: stringClaim(raw, "preferred_username"),
	}
	if c.Username == "" {
		c.Username = stringClaim(raw, "username")
	}

	if exp, ok := numericClaim(raw, "exp"); ok {
		c.ExpiresAt = time.Unix(exp, 0)
	}
	if iat, ok := numericClaim(raw, "iat"); ok {
		c.IssuedAt = time.Unix(iat, 0)
	}

	c.Roles = collectRoles(raw)
	c.Permissions = stringSlice(raw["permissions"])

	return c
}

// collectRoles gathers roles from every location a token may carry
// them and returns a sorted, de-duplicated list.
func collectRoles(raw map[string]any) []string {
	seen := make(map[string]bool)
	var roles []string

	add := func(values []string) {
		for _, r := range values {
			if r != "" && !seen[r] {
				seen[r] = true
				roles = append(roles, r)
			}
		}
	}

	// Flat list (local tokens)
	add(stringSlice(raw["roles"]))

	// realm_access.roles (delegated tokens)
	if realm, ok := raw["realm_access"].(map[string]any); ok {
		add(stringSlice(realm["roles"]))
	}

	// resource_access.<client>.roles (delegated tokens)
	if resources, ok := raw["resource_access"].(map[string]any); ok {
		for _, v := range resources {
			if client, ok := v.(map[string]any); ok {
				add(stringSlice(client["roles"]))
			}
		}
	}

	sort.Strings(roles)
	return roles
}

func stringClaim(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return s
}

func numericClaim(raw map[string]any, key string) (int64, bool) {
	switch v := raw[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}

func stringSlice(v any) []string {
	switch values := v.(type) {
	case []string:
		return values
	case []any:
		out := make([]string, 0, len(values))
		for _, item := range values {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
