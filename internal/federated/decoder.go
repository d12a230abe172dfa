package federated

import (
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Decoder reads provider tokens at the reduced trust tier.
type Decoder interface {
	Decode(token string) (UnverifiedIdentity, error)
}

// PayloadDecoder decodes a JWT payload without verifying its signature. It
// rejects tokens that carry no expiry, have expired, or name another issuer.
type PayloadDecoder struct {
	issuer string
	roles  *RoleMapper
	now    func() time.Time
}

var _ Decoder = (*PayloadDecoder)(nil)

func NewPayloadDecoder(issuer string, roles *RoleMapper, now func() time.Time) (*PayloadDecoder, error) {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return nil, ErrNotConfigured
	}
	if now == nil {
		now = time.Now
	}
	return &PayloadDecoder{issuer: issuer, roles: roles, now: now}, nil
}

func (d *PayloadDecoder) Decode(token string) (UnverifiedIdentity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return UnverifiedIdentity{}, ErrInvalidToken
	}
	tok, err := jwt.ParseInsecure([]byte(token))
	if err != nil {
		return UnverifiedIdentity{}, ErrInvalidToken
	}
	exp := tok.Expiration()
	if exp.IsZero() || !d.now().Before(exp) {
		return UnverifiedIdentity{}, ErrInvalidToken
	}
	if tok.Issuer() != d.issuer {
		return UnverifiedIdentity{}, ErrInvalidToken
	}
	claims := tok.PrivateClaims()
	email := normalizeEmail(stringClaim(claims, "email"))
	return UnverifiedIdentity{Identity: Identity{
		Subject:       tok.Subject(),
		Email:         email,
		EmailVerified: boolClaim(claims, "email_verified"),
		Name:          stringClaim(claims, "name"),
		Role:          d.roles.Resolve(claims, email),
		Issuer:        tok.Issuer(),
		ExpiresAt:     exp.UTC(),
	}}, nil
}
