package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTokens(t *testing.T, now time.Time, opts ...TokenOption) *TokenService {
	t.Helper()
	opts = append([]TokenOption{WithTokenClock(func() time.Time { return now })}, opts...)
	svc, err := NewTokenService(testSecret, opts...)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return svc
}

var bob = UserClaims{ID: "01HZZZZZZZZZZZZZZZZZZZZZZZ", Email: "bob@example.com", Name: "Bob", Role: RoleUser}

func TestIssueVerifyRoundTrip(t *testing.T) {
	svc := newTokens(t, t0)
	pair, err := svc.Issue(bob)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !pair.AccessExpiresAt.Equal(t0.Add(DefaultAccessTTL)) || !pair.RefreshExpiresAt.Equal(t0.Add(DefaultRefreshTTL)) {
		t.Fatalf("unexpected expiries: %v %v", pair.AccessExpiresAt, pair.RefreshExpiresAt)
	}

	claims, err := svc.Verify(pair.AccessToken, KindAccess)
	if err != nil {
		t.Fatalf("Verify access: %v", err)
	}
	if claims.User() != bob {
		t.Fatalf("claims mismatch: %+v", claims.User())
	}
	if claims.Kind != KindAccess || claims.Issuer != defaultIssuer || claims.ID == "" {
		t.Fatalf("registered claims not set: %+v", claims)
	}

	refresh, err := svc.Verify(pair.RefreshToken, KindRefresh)
	if err != nil {
		t.Fatalf("Verify refresh: %v", err)
	}
	if refresh.Subject != bob.ID {
		t.Fatalf("refresh subject: %s", refresh.Subject)
	}
}

func TestVerifyRejectsWrongKind(t *testing.T) {
	svc := newTokens(t, t0)
	pair, err := svc.Issue(bob)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc.Verify(pair.RefreshToken, KindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh accepted as access: %v", err)
	}
	if _, err := svc.Verify(pair.AccessToken, KindRefresh); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access accepted as refresh: %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	pair, err := newTokens(t, t0).Issue(bob)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	later := newTokens(t, t0.Add(DefaultAccessTTL+time.Second))
	if _, err := later.Verify(pair.AccessToken, KindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired access token accepted: %v", err)
	}
	if _, err := later.Verify(pair.RefreshToken, KindRefresh); err != nil {
		t.Fatalf("refresh token should still be valid: %v", err)
	}
	muchLater := newTokens(t, t0.Add(DefaultRefreshTTL+time.Second))
	if _, err := muchLater.Verify(pair.RefreshToken, KindRefresh); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired refresh token accepted: %v", err)
	}
}

func TestVerifyRejectsForgeries(t *testing.T) {
	svc := newTokens(t, t0)
	pair, err := svc.Issue(bob)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other, err := NewTokenService(strings.Repeat("z", 32), WithTokenClock(func() time.Time { return t0 }))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	foreign, _ := other.Issue(bob)

	otherIssuer := newTokens(t, t0, WithIssuer("someone-else"))
	wrongIss, _ := otherIssuer.Issue(bob)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		Role: RoleAdmin,
		Kind: KindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultIssuer,
			Subject:   bob.ID,
			IssuedAt:  jwt.NewNumericDate(t0),
			ExpiresAt: jwt.NewNumericDate(t0.Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign hs512: %v", err)
	}

	parts := strings.Split(pair.AccessToken, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not.a.token",
		"foreign key":  foreign.AccessToken,
		"wrong issuer": wrongIss.AccessToken,
		"wrong alg":    hs512,
		"tampered":     tampered,
		"no signature": parts[0] + "." + parts[1] + ".",
	}
	for name, tok := range cases {
		if _, err := svc.Verify(tok, KindAccess); err != ErrInvalidToken {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestVerifyRejectsMissingExpiry(t *testing.T) {
	svc := newTokens(t, t0)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: RoleUser,
		Kind: KindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   defaultIssuer,
			Subject:  bob.ID,
			IssuedAt: jwt.NewNumericDate(t0),
		},
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.Verify(tok, KindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token without exp accepted: %v", err)
	}
}

func TestNewTokenServiceRejectsWeakSecret(t *testing.T) {
	if _, err := NewTokenService("short"); err == nil {
		t.Fatalf("expected weak secret error")
	}
}

func TestIssueValidatesClaims(t *testing.T) {
	svc := newTokens(t, t0)
	if _, err := svc.Issue(UserClaims{Role: RoleUser}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing id: %v", err)
	}
	if _, err := svc.Issue(UserClaims{ID: "x", Role: "root"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown role: %v", err)
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse", 4)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword(hash, "correct horse"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong horse"); err == nil {
		t.Fatalf("wrong password accepted")
	}
	if _, err := HashPassword("", 4); err == nil {
		t.Fatalf("empty password hashed")
	}
}
