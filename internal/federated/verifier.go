package federated

import (
	"context"
	"strings"
	"time"

	"google.golang.org/api/idtoken"
)

// Verifier checks provider tokens at full trust.
type Verifier interface {
	Verify(ctx context.Context, token string) (VerifiedIdentity, error)
}

// TokenValidator is the signature check performed by the provider SDK.
// *idtoken.Validator satisfies it.
type TokenValidator interface {
	Validate(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)
}

// GoogleVerifier validates Google-issued ID tokens against an audience.
type GoogleVerifier struct {
	validator TokenValidator
	audience  string
	roles     *RoleMapper
}

var _ Verifier = (*GoogleVerifier)(nil)

// NewGoogleVerifier builds a verifier backed by idtoken.NewValidator.
func NewGoogleVerifier(ctx context.Context, audience string, roles *RoleMapper) (*GoogleVerifier, error) {
	v, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, err
	}
	return NewVerifierWithValidator(v, audience, roles)
}

// NewVerifierWithValidator wires an explicit validator.
func NewVerifierWithValidator(v TokenValidator, audience string, roles *RoleMapper) (*GoogleVerifier, error) {
	audience = strings.TrimSpace(audience)
	if v == nil || audience == "" {
		return nil, ErrNotConfigured
	}
	return &GoogleVerifier{validator: v, audience: audience, roles: roles}, nil
}

func (g *GoogleVerifier) Verify(ctx context.Context, token string) (VerifiedIdentity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return VerifiedIdentity{}, ErrInvalidToken
	}
	payload, err := g.validator.Validate(ctx, token, g.audience)
	if err != nil || payload == nil {
		return VerifiedIdentity{}, ErrInvalidToken
	}
	email := normalizeEmail(stringClaim(payload.Claims, "email"))
	if payload.Subject == "" || email == "" {
		return VerifiedIdentity{}, ErrInvalidToken
	}
	return VerifiedIdentity{Identity: Identity{
		Subject:       payload.Subject,
		Email:         email,
		EmailVerified: boolClaim(payload.Claims, "email_verified"),
		Name:          stringClaim(payload.Claims, "name"),
		Role:          g.roles.Resolve(payload.Claims, email),
		Issuer:        payload.Issuer,
		ExpiresAt:     time.Unix(payload.Expires, 0).UTC(),
	}}, nil
}
