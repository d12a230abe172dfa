package auth

import (
	"slices"
	"strings"
	"time"
)

// Role is the coarse privilege tier carried in tokens.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// ParseRole normalizes raw into a known role.
func ParseRole(raw string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	return r, r.Valid()
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// User is the durable credential record owned by the identity store.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	Permissions  []string  `json:"permissions,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.Permissions = slices.Clone(u.Permissions)
	return &out
}

// HasPermission reports whether the user carries the permission key.
// Admins implicitly hold every permission.
func (u *User) HasPermission(key string) bool {
	if u == nil {
		return false
	}
	if u.Role == RoleAdmin {
		return true
	}
	return slices.Contains(u.Permissions, key)
}

// Claims returns the minimal identity embedded into issued tokens.
func (u *User) Claims() UserClaims {
	return UserClaims{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
}

// UserClaims is the subject data the credential issuer signs.
type UserClaims struct {
	ID    string
	Email string
	Name  string
	Role  Role
}

// UserUpdate is a partial update; nil fields are left untouched.
type UserUpdate struct {
	Email        *string
	Name         *string
	Role         *Role
	PasswordHash *string
	Permissions  *[]string
}

// NormalizeEmail lower-cases and trims an address for indexing.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n")
}

func normalizePermissions(perms []string) []string {
	if len(perms) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(perms))
	var out []string
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
