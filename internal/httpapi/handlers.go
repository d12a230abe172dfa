package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/federated"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/otp"
	"gatehouse.org/internal/session"
	"gatehouse.org/internal/store/kv"
	"gatehouse.org/internal/store/pg"
)

const serviceName = "gatehouse"

// ReadyProbe pings the backing stores that are configured.
type ReadyProbe struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := pg.Ping(ctx, rp.DB); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := kv.Ping(ctx, rp.Redis); err != nil {
			return err
		}
	}
	return nil
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Deps are the collaborators the HTTP layer needs. Service and OTP are
// required; the federated parts are optional.
type Deps struct {
	Service *auth.Service
	OTP     otp.Ledger
	Ready   readinessChecker

	// FederatedDecoder reads the federated_token cookie for display in /me.
	FederatedDecoder federated.Decoder
	// FederatedVerifier backs /federated/exchange; nil answers 503.
	FederatedVerifier federated.Verifier
	SignOuter         federated.SignOuter

	// SecureCookies marks every cookie Secure.
	SecureCookies bool
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SessionTTL    time.Duration

	OTPMaxAttempts  int
	RateLimitBurst  int
	RateLimitPerSec float64
	CORSOrigins     []string
	Version         string

	// TrustedProxies are the peers whose X-Forwarded-For is believed.
	TrustedProxies []netip.Prefix
}

// API is the HTTP layer.
type API struct {
	deps   Deps
	router chi.Router
}

func New(d Deps) *API {
	if d.Ready == nil {
		d.Ready = ReadyProbe{}
	}
	if d.SignOuter == nil {
		d.SignOuter = federated.NopSignOuter{}
	}
	if d.AccessTTL <= 0 {
		d.AccessTTL = auth.DefaultAccessTTL
	}
	if d.RefreshTTL <= 0 {
		d.RefreshTTL = auth.DefaultRefreshTTL
	}
	if d.SessionTTL <= 0 {
		d.SessionTTL = session.DefaultTTL
	}
	if d.OTPMaxAttempts <= 0 {
		d.OTPMaxAttempts = otp.DefaultMaxAttempts
	}
	if d.RateLimitBurst <= 0 {
		d.RateLimitBurst = 20
	}
	if d.RateLimitPerSec <= 0 {
		d.RateLimitPerSec = 10
	}
	a := &API{deps: d}
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RealIP(a.deps.TrustedProxies), RequestID, LoggingJSON, Recover, SecurityHeaders)
	if len(a.deps.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   a.deps.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           600,
		}))
	}
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, 1<<20) })
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	limited := func(next http.Handler) http.Handler {
		return RateLimit(next, a.deps.RateLimitBurst, a.deps.RateLimitPerSec)
	}

	r.With(limited).Post("/login", a.handleLogin)
	r.Post("/refresh", a.handleRefresh)
	r.Post("/logout", a.handleLogout)
	r.Get("/me", a.handleMe)
	r.With(limited).Post("/register", a.handleRegister)
	r.With(limited).Post("/federated/exchange", a.handleFederatedExchange)

	r.Post("/otp/store", a.handleOTPStore)
	r.With(limited).Post("/otp/verify", a.handleOTPVerify)

	r.Group(func(r chi.Router) {
		r.Use(a.requireAuth)
		r.Post("/me/password", a.handleChangePassword)
		r.Get("/users", a.handleListUsers)
		r.Patch("/users/{id}", a.handleUpdateUser)
		r.Delete("/users/{id}", a.handleDeleteUser)
	})
	return r
}

// Handler returns the root handler wrapped with metrics.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.deps.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		obs.LogError("readiness_failed", err, nil)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
