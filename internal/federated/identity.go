// Package federated handles identity tokens minted by an external provider.
//
// It offers two trust tiers with distinct result types. Decoder reads a
// token payload without checking its signature and yields an
// UnverifiedIdentity, which is fit for display only. Verifier checks the
// provider's signature and audience and yields a VerifiedIdentity, the only
// form that may be exchanged for self-issued credentials.
package federated

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrInvalidToken covers every decode or verification failure.
	ErrInvalidToken = errors.New("federated: invalid token")
	// ErrNotConfigured is returned when no provider has been configured.
	ErrNotConfigured = errors.New("federated: provider not configured")
)

// Role names shared with the self-issued credential system.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Identity is the subject data read from a provider token.
type Identity struct {
	Subject       string    `json:"subject"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"emailVerified"`
	Name          string    `json:"name,omitempty"`
	Role          string    `json:"role"`
	Issuer        string    `json:"issuer"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// UnverifiedIdentity came from a payload whose signature was not checked.
type UnverifiedIdentity struct {
	Identity
}

// VerifiedIdentity came from a token whose signature and audience were checked.
type VerifiedIdentity struct {
	Identity
}

func stringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}

func boolClaim(claims map[string]any, key string) bool {
	switch v := claims[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
