package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/federated"
	"gatehouse.org/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type exchangeRequest struct {
	IDToken string `json:"idToken"`
}

type tokenResponse struct {
	User        *auth.User `json:"user"`
	AccessToken string     `json:"accessToken"`
	ExpiresAt   time.Time  `json:"expiresAt"`
}

func respondTokens(w http.ResponseWriter, res auth.LoginResult) {
	writeJSON(w, http.StatusOK, tokenResponse{
		User:        res.User,
		AccessToken: res.Tokens.AccessToken,
		ExpiresAt:   res.Tokens.AccessExpiresAt,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}
	res, err := a.deps.Service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			_ = audit.LogEvent(r.Context(), audit.EventLoginFailed, map[string]any{
				"email":     auth.NormalizeEmail(req.Email),
				"remote_ip": clientIP(r),
			})
		}
		writeAuthError(w, r, err)
		return
	}
	a.setAuthCookies(w, res)
	_ = audit.LogEvent(auth.ContextWithClaims(r.Context(), claimsOf(res.User)), audit.EventLoginSucceeded, map[string]any{
		"method": "password",
	})
	respondTokens(w, res)
}

// claimsOf lets audit entries carry the user id before any token is presented.
func claimsOf(u *auth.User) *auth.Claims {
	c := &auth.Claims{Email: u.Email, Name: u.Name, Role: u.Role}
	c.Subject = u.ID
	return c
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	// The body is optional; an unreadable one falls back to the cookie.
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		req = refreshRequest{}
	}
	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		token = cookieValue(r, cookieRefresh)
	}
	if token == "" {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	res, err := a.deps.Service.Refresh(r.Context(), token, cookieValue(r, cookieSession))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrUnauthorized) {
			_ = audit.LogEvent(r.Context(), audit.EventRefreshFailed, map[string]any{"remote_ip": clientIP(r)})
		}
		writeAuthError(w, r, err)
		return
	}
	a.setAuthCookies(w, res)
	respondTokens(w, res)
}

// handleLogout always succeeds. Session and provider failures are logged.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if claims, err := a.authenticate(r); err == nil {
		ctx = auth.ContextWithClaims(ctx, claims)
	}
	sessionID := cookieValue(r, cookieSession)
	if err := a.deps.Service.Logout(ctx, sessionID); err != nil {
		obs.LogError("logout_session_destroy_failed", err, map[string]any{
			"request_id": RequestIDFromContext(ctx),
		})
	}
	if ft := cookieValue(r, cookieFederated); ft != "" {
		if err := a.deps.SignOuter.SignOut(ctx, ft); err != nil {
			obs.LogError("logout_federated_signout_failed", err, map[string]any{
				"request_id": RequestIDFromContext(ctx),
			})
		}
	}
	a.clearAuthCookies(w)
	_ = audit.LogEvent(ctx, audit.EventLogout, map[string]any{"had_session": sessionID != ""})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, err := a.authenticate(r)
	if err != nil {
		body := map[string]any{
			"error":         "unauthorized",
			"authenticated": false,
		}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			body["request_id"] = rid
		}
		if id, ok := a.federatedDisplay(r); ok {
			body["federated"] = id
		}
		writeJSON(w, http.StatusUnauthorized, body)
		return
	}
	user, sess, err := a.deps.Service.WhoAmI(r.Context(), claims.Subject, cookieValue(r, cookieSession))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":          user,
		"session":       sess,
		"authenticated": true,
	})
}

// federatedDisplay decodes the provider cookie for display only. The result
// never grants access.
func (a *API) federatedDisplay(r *http.Request) (federated.Identity, bool) {
	if a.deps.FederatedDecoder == nil {
		return federated.Identity{}, false
	}
	raw := cookieValue(r, cookieFederated)
	if raw == "" {
		return federated.Identity{}, false
	}
	id, err := a.deps.FederatedDecoder.Decode(raw)
	if err != nil {
		return federated.Identity{}, false
	}
	return id.Identity, true
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.deps.Service.Register(r.Context(), auth.NewAccount{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(auth.ContextWithClaims(r.Context(), claimsOf(user)), audit.EventRegistered, map[string]any{
		"role": string(user.Role),
	})
	w.Header().Set("Location", "/users/"+user.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	if err := a.deps.Service.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventPasswordChanged, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleFederatedExchange(w http.ResponseWriter, r *http.Request) {
	if a.deps.FederatedVerifier == nil {
		writeAuthError(w, r, federated.ErrNotConfigured)
		return
	}
	var req exchangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.IDToken) == "" {
		writeError(w, r, http.StatusBadRequest, "idToken is required")
		return
	}
	identity, err := a.deps.FederatedVerifier.Verify(r.Context(), req.IDToken)
	if err != nil {
		_ = audit.LogEvent(r.Context(), audit.EventFederatedRejected, map[string]any{"reason": "verification"})
		writeAuthError(w, r, err)
		return
	}
	res, err := a.deps.Service.ExchangeFederated(r.Context(), identity)
	if err != nil {
		_ = audit.LogEvent(r.Context(), audit.EventFederatedRejected, map[string]any{
			"issuer": identity.Issuer,
			"email":  identity.Email,
		})
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "no account linked to this identity")
			return
		}
		writeAuthError(w, r, err)
		return
	}
	a.setAuthCookies(w, res)
	_ = audit.LogEvent(auth.ContextWithClaims(r.Context(), claimsOf(res.User)), audit.EventFederatedExchanged, map[string]any{
		"issuer": identity.Issuer,
	})
	respondTokens(w, res)
}
