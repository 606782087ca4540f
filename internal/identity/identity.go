// Package identity models the signed-in actor and the explicit per-user
// context that replaces process-wide "current user" state.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrUnauthorized indicates an operation required a signed-in actor and there was none.
var ErrUnauthorized = errors.New("unauthorized: no signed-in user")

// RoleAdmin is the role that may triage every ticket.
const RoleAdmin = "admin"

// Principal is a resolved identity.
type Principal struct {
	UserID string
	Email  string
	Role   string
	// Token is the opaque credential the principal was resolved from.
	Token string
}

// IsAdmin reports whether p may manage all tickets.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Scope holds the signed-in principal for one user surface and the teardown
// hooks bound to that sign-in (live subscriptions and the like).
// A Scope starts signed out.
type Scope struct {
	mu        sync.Mutex
	principal *Principal
	cleanups  []func()
	logger    *slog.Logger
}

// NewScope creates a signed-out scope.
func NewScope(logger *slog.Logger) *Scope {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scope{logger: logger}
}

// ForPrincipal creates a scope already signed in as p.
func ForPrincipal(p Principal, logger *slog.Logger) *Scope {
	sc := NewScope(logger)
	sc.SignIn(p)
	return sc
}

// SignIn establishes p as the actor. Signing in as a different user first
// tears down everything bound to the previous one.
func (s *Scope) SignIn(p Principal) {
	s.mu.Lock()
	prev := s.principal
	var stale []func()
	if prev != nil && prev.UserID != p.UserID {
		stale = s.cleanups
		s.cleanups = nil
	}
	s.principal = &p
	s.mu.Unlock()

	runCleanups(stale)
	s.logger.Debug("signed in", "user_id", p.UserID, "role", p.Role)
}

// SignOut clears the actor and runs all registered teardown hooks.
func (s *Scope) SignOut() {
	s.mu.Lock()
	if s.principal == nil {
		s.mu.Unlock()
		return
	}
	userID := s.principal.UserID
	s.principal = nil
	hooks := s.cleanups
	s.cleanups = nil
	s.mu.Unlock()

	runCleanups(hooks)
	s.logger.Debug("signed out", "user_id", userID)
}

// Actor returns the signed-in principal or ErrUnauthorized.
func (s *Scope) Actor() (Principal, error) {
	if s == nil {
		return Principal{}, ErrUnauthorized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.principal == nil {
		return Principal{}, ErrUnauthorized
	}
	return *s.principal, nil
}

// OnSignOut registers fn to run when the current actor signs out or is replaced.
// If nobody is signed in, fn runs immediately.
func (s *Scope) OnSignOut(fn func()) {
	s.mu.Lock()
	if s.principal == nil {
		s.mu.Unlock()
		fn()
		return
	}
	s.cleanups = append(s.cleanups, fn)
	s.mu.Unlock()
}

// Logger returns the scope's logger annotated with the actor, if any.
func (s *Scope) Logger() *slog.Logger {
	if p, err := s.Actor(); err == nil {
		return s.logger.With("user_id", p.UserID)
	}
	return s.logger
}

// Cleanups run in reverse registration order.
func runCleanups(fns []func()) {
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

type ctxKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
