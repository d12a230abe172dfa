package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gatehouse.org/internal/federated"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/session"
)

// Service orchestrates credential checks, token issuance and session tracking.
type Service struct {
	users      UserStore
	sessions   session.Registry
	tokens     TokenAuthority
	bcryptCost int
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithBcryptCost sets the cost used when hashing new passwords.
func WithBcryptCost(cost int) ServiceOption {
	return func(s *Service) error {
		if cost < 0 || cost > 31 {
			return fmt.Errorf("auth: bcrypt cost %d out of range", cost)
		}
		s.bcryptCost = cost
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(users UserStore, sessions session.Registry, tokens TokenAuthority, opts ...ServiceOption) (*Service, error) {
	if users == nil || sessions == nil || tokens == nil {
		return nil, errors.New("auth: user store, session registry and token authority are required")
	}
	svc := &Service{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Tokens exposes the verifier used to authenticate requests.
func (s *Service) Tokens() Verifier { return s.tokens }

// LoginResult is what a successful login, refresh or exchange hands back.
type LoginResult struct {
	User    *User
	Tokens  TokenPair
	Session *session.Session
}

func snapshotOf(u *User) session.Snapshot {
	return session.Snapshot{ID: u.ID, Email: u.Email, Name: u.Name, Role: string(u.Role)}
}

// Login checks email and password and issues a token pair plus a new session.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		burnPasswordCheck(password)
		obs.LoginsTotal.WithLabelValues("failure").Inc()
		return LoginResult{}, ErrUnauthorized
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("login lookup: %w", err)
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		obs.LoginsTotal.WithLabelValues("failure").Inc()
		return LoginResult{}, ErrUnauthorized
	}
	res, err := s.start(ctx, user)
	if err != nil {
		return LoginResult{}, err
	}
	obs.LoginsTotal.WithLabelValues("success").Inc()
	return res, nil
}

func (s *Service) start(ctx context.Context, user *User) (LoginResult, error) {
	pair, err := s.tokens.Issue(user.Claims())
	if err != nil {
		return LoginResult{}, err
	}
	sess, err := s.openSession(ctx, user)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{User: user, Tokens: pair, Session: sess}, nil
}

func (s *Service) openSession(ctx context.Context, user *User) (*session.Session, error) {
	id, err := session.NewID()
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Create(ctx, id, snapshotOf(user))
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// Refresh exchanges a valid refresh token for a fresh pair built from the
// current user record. Refresh tokens are not single-use: the presented
// token stays valid until it expires.
//
// The session named by sessionID is updated and extended when it belongs to
// the token's user; if it is gone or foreign a new one is opened. Session
// failures are logged and never fail the refresh.
func (s *Service) Refresh(ctx context.Context, refreshToken, sessionID string) (LoginResult, error) {
	claims, err := s.tokens.Verify(refreshToken, KindRefresh)
	if err != nil {
		obs.RefreshesTotal.WithLabelValues("invalid_token").Inc()
		return LoginResult{}, ErrInvalidToken
	}
	user, err := s.users.FindByID(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		obs.RefreshesTotal.WithLabelValues("unknown_user").Inc()
		return LoginResult{}, fmt.Errorf("%w: user no longer exists", ErrUnauthorized)
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("refresh lookup: %w", err)
	}
	pair, err := s.tokens.Issue(user.Claims())
	if err != nil {
		return LoginResult{}, err
	}
	res := LoginResult{User: user, Tokens: pair}
	res.Session = s.carrySession(ctx, user, sessionID)
	obs.RefreshesTotal.WithLabelValues("success").Inc()
	return res, nil
}

func (s *Service) carrySession(ctx context.Context, user *User, sessionID string) *session.Session {
	if sessionID != "" {
		sess, err := s.extendSession(ctx, user, sessionID)
		switch {
		case err == nil:
			return sess
		case !errors.Is(err, session.ErrNotFound):
			// The session still exists; opening another would orphan it.
			obs.LogError("session_refresh_failed", err, map[string]any{"user_id": user.ID})
			return nil
		}
	}
	sess, err := s.openSession(ctx, user)
	if err != nil {
		obs.LogError("session_create_failed", err, map[string]any{"user_id": user.ID})
		return nil
	}
	return sess
}

// extendSession refreshes the snapshot and lifetime of a session owned by
// user. A session that is missing or belongs to someone else reports
// session.ErrNotFound.
func (s *Service) extendSession(ctx context.Context, user *User, sessionID string) (*session.Session, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.User.ID != user.ID {
		return nil, session.ErrNotFound
	}
	if err := s.sessions.Update(ctx, sessionID, snapshotOf(user)); err != nil {
		return nil, err
	}
	if err := s.sessions.Extend(ctx, sessionID); err != nil {
		return nil, err
	}
	sess, err = s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, session.ErrNotFound
	}
	return sess, nil
}

// Authenticate verifies an access token. Every failure is ErrInvalidToken.
func (s *Service) Authenticate(token string) (*Claims, error) {
	return s.tokens.Verify(token, KindAccess)
}

// WhoAmI loads the user named by an authenticated request along with its
// session, if any. A session that belongs to someone else is not returned.
func (s *Service) WhoAmI(ctx context.Context, userID, sessionID string) (*User, *session.Session, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if sessionID == "" {
		return user, nil, nil
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		obs.LogError("session_read_failed", err, map[string]any{"user_id": user.ID})
		return user, nil, nil
	}
	if sess != nil && sess.User.ID != user.ID {
		sess = nil
	}
	return user, sess, nil
}

// Logout destroys the session. Callers report success regardless of the
// returned error, which exists for logging.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return s.sessions.Destroy(ctx, sessionID)
}

// NewAccount is the input to Register.
type NewAccount struct {
	Email    string
	Password string
	Name     string
}

// Register creates a user. When no admin exists yet the new account becomes
// admin so a fresh deployment can be bootstrapped.
func (s *Service) Register(ctx context.Context, in NewAccount) (*User, error) {
	email := NormalizeEmail(in.Email)
	if !validEmail(email) {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = email[:strings.IndexByte(email, '@')]
	}
	hasAdmin, err := s.users.HasAdmin(ctx)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	role := RoleUser
	if !hasAdmin {
		role = RoleAdmin
	}
	hash, err := HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	u := &User{Email: email, Name: name, Role: role, PasswordHash: hash}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// ChangePassword replaces the password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	if current == "" || len(next) < minPasswordLen {
		return fmt.Errorf("%w: new password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return ErrUnauthorized
	}
	hash, err := HashPassword(next, s.bcryptCost)
	if err != nil {
		return err
	}
	_, err = s.users.Update(ctx, userID, UserUpdate{PasswordHash: &hash})
	return err
}

// requireAdmin checks the caller in ctx against the stored record, so a
// demoted admin loses access before their token expires.
func (s *Service) requireAdmin(ctx context.Context) (*User, error) {
	id, ok := UserIDFromContext(ctx)
	if !ok {
		return nil, ErrUnauthorized
	}
	actor, err := s.users.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if actor.Role != RoleAdmin {
		return nil, ErrForbidden
	}
	return actor, nil
}

// ListUsers returns every user. Admin only.
func (s *Service) ListUsers(ctx context.Context) ([]*User, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.users.List(ctx)
}

// UpdateUser applies an admin edit. An admin cannot demote themselves.
func (s *Service) UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	actor, err := s.requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	if upd.PasswordHash != nil {
		return nil, fmt.Errorf("%w: passwords change through ChangePassword", ErrInvalidInput)
	}
	if actor.ID == id && upd.Role != nil && *upd.Role != RoleAdmin {
		return nil, fmt.Errorf("%w: cannot remove your own admin role", ErrInvalidInput)
	}
	return s.users.Update(ctx, id, upd)
}

// DeleteUser removes a user. An admin cannot delete themselves.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	actor, err := s.requireAdmin(ctx)
	if err != nil {
		return err
	}
	if actor.ID == id {
		return fmt.Errorf("%w: cannot delete your own account", ErrInvalidInput)
	}
	return s.users.Delete(ctx, id)
}

// ExchangeFederated trades a verified provider identity for self-issued
// credentials. The provider email must be verified and must match an
// existing account; the stored role is used, never the provider's.
func (s *Service) ExchangeFederated(ctx context.Context, id federated.VerifiedIdentity) (LoginResult, error) {
	if id.Email == "" || !id.EmailVerified {
		return LoginResult{}, fmt.Errorf("%w: provider email not verified", ErrUnauthorized)
	}
	user, err := s.users.FindByEmail(ctx, id.Email)
	if err != nil {
		return LoginResult{}, err
	}
	res, err := s.start(ctx, user)
	if err != nil {
		return LoginResult{}, err
	}
	obs.LoginsTotal.WithLabelValues("federated").Inc()
	return res, nil
}
