package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"gatehouse.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var errNoToken = errors.New("missing access token")

// accessToken prefers the Authorization header and falls back to the cookie.
func accessToken(r *http.Request) (string, error) {
	if h := strings.TrimSpace(r.Header.Get(authHeader)); h != "" {
		return extractBearerToken(h)
	}
	if v := cookieValue(r, cookieAccess); v != "" {
		return v, nil
	}
	return "", errNoToken
}

// authenticate verifies the request's access token.
func (a *API) authenticate(r *http.Request) (*auth.Claims, error) {
	token, err := accessToken(r)
	if err != nil {
		return nil, auth.ErrInvalidToken
	}
	return a.deps.Service.Authenticate(token)
}

func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := a.authenticate(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="gatehouse"`)
			writeAuthError(w, r, err)
			return
		}
		ctx := auth.ContextWithClaims(r.Context(), claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errNoToken
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errNoToken
	}
	return token, nil
}
