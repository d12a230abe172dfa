package federated

import "strings"

// DefaultRoleClaim is the claim consulted when none is configured.
const DefaultRoleClaim = "role"

// RoleMapper turns provider claims into a local role.
//
// Resolution order: the configured role claim when it names a known role,
// then membership in the privileged email list, then RoleUser.
type RoleMapper struct {
	claim      string
	privileged map[string]struct{}
}

func NewRoleMapper(claim string, privilegedEmails []string) *RoleMapper {
	claim = strings.TrimSpace(claim)
	if claim == "" {
		claim = DefaultRoleClaim
	}
	m := &RoleMapper{claim: claim, privileged: make(map[string]struct{}, len(privilegedEmails))}
	for _, e := range privilegedEmails {
		if e = normalizeEmail(e); e != "" {
			m.privileged[e] = struct{}{}
		}
	}
	return m
}

// Resolve picks the role for a subject with the given claims and email.
func (m *RoleMapper) Resolve(claims map[string]any, email string) string {
	if m == nil {
		return RoleUser
	}
	if role, ok := m.fromClaim(claims[m.claim]); ok {
		return role
	}
	if _, ok := m.privileged[normalizeEmail(email)]; ok && email != "" {
		return RoleAdmin
	}
	return RoleUser
}

func (m *RoleMapper) fromClaim(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return knownRole(t)
	case []string:
		return pickRole(t)
	case []any:
		vals := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				vals = append(vals, s)
			}
		}
		return pickRole(vals)
	default:
		return "", false
	}
}

// pickRole prefers admin when a list claim carries several known roles.
func pickRole(vals []string) (string, bool) {
	found := ""
	for _, v := range vals {
		role, ok := knownRole(v)
		if !ok {
			continue
		}
		if role == RoleAdmin {
			return role, true
		}
		found = role
	}
	return found, found != ""
}

func knownRole(raw string) (string, bool) {
	switch r := strings.ToLower(strings.TrimSpace(raw)); r {
	case RoleAdmin, RoleUser:
		return r, true
	default:
		return "", false
	}
}
