package httpapi

import (
	"net/http"
	"time"

	"gatehouse.org/internal/auth"
)

const (
	cookieAccess    = "access_token"
	cookieRefresh   = "refresh_token"
	cookieSession   = "session_id"
	cookieFederated = "federated_token"
)

func (a *API) newCookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   a.deps.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

// setAuthCookies writes the token pair and, when present, the session id.
func (a *API) setAuthCookies(w http.ResponseWriter, res auth.LoginResult) {
	http.SetCookie(w, a.newCookie(cookieAccess, res.Tokens.AccessToken, a.deps.AccessTTL))
	http.SetCookie(w, a.newCookie(cookieRefresh, res.Tokens.RefreshToken, a.deps.RefreshTTL))
	if res.Session != nil {
		http.SetCookie(w, a.newCookie(cookieSession, res.Session.ID, a.deps.SessionTTL))
	}
}

// clearAuthCookies expires every cookie this service sets.
func (a *API) clearAuthCookies(w http.ResponseWriter) {
	for _, name := range []string{cookieAccess, cookieRefresh, cookieSession, cookieFederated} {
		c := a.newCookie(name, "", 0)
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		http.SetCookie(w, c)
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
