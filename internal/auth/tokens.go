package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour

	defaultIssuer   = "gatehouse"
	minSecretLength = 32
)

// ErrInvalidToken indicates the token failed validation. It is the only error
// Verify returns, whatever the underlying reason.
var ErrInvalidToken = errors.New("invalid token")

var errWeakSecret = fmt.Errorf("auth secret must be at least %d bytes", minSecretLength)

// Kind separates access tokens from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Claims represents JWT claims used across the service.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
	Kind  Kind   `json:"kind"`
	jwt.RegisteredClaims
}

// User returns the subject data carried by the token.
func (c *Claims) User() UserClaims {
	return UserClaims{ID: c.Subject, Email: c.Email, Name: c.Name, Role: c.Role}
}

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Issuer mints signed token pairs.
type Issuer interface {
	Issue(claims UserClaims) (TokenPair, error)
}

// Verifier validates self-issued tokens with full signature checks. It is the
// only capability that may back an authorization decision.
type Verifier interface {
	Verify(token string, kind Kind) (*Claims, error)
}

// TokenAuthority both issues and verifies tokens.
type TokenAuthority interface {
	Issuer
	Verifier
}

// TokenService signs and verifies HS256 tokens with an injected secret and clock.
type TokenService struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

var _ TokenAuthority = (*TokenService)(nil)

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithTokenClock overrides time source (useful for tests).
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewTokenService constructs a TokenService signing with secret.
func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < minSecretLength {
		return nil, errWeakSecret
	}
	s := &TokenService{
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Issue signs a fresh access/refresh pair for the given subject.
func (s *TokenService) Issue(c UserClaims) (TokenPair, error) {
	if strings.TrimSpace(c.ID) == "" {
		return TokenPair{}, fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}
	if !c.Role.Valid() {
		return TokenPair{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, c.Role)
	}
	now := s.now().UTC()
	accessExp := now.Add(s.accessTTL)
	access, err := s.sign(c, KindAccess, now, accessExp)
	if err != nil {
		return TokenPair{}, err
	}
	refreshExp := now.Add(s.refreshTTL)
	refresh, err := s.sign(c, KindRefresh, now, refreshExp)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *TokenService) sign(c UserClaims, kind Kind, now, exp time.Time) (string, error) {
	claims := Claims{
		Email: c.Email,
		Name:  c.Name,
		Role:  c.Role,
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   c.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

// Verify checks structure, signature, issuer, expiry and kind.
func (s *TokenService) Verify(token string, kind Kind) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	parsed, err := parser.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Kind != kind {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
