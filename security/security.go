package security

import (
	"context"
	"slices"
	"sync"
)

// Principal names an authenticated caller.
type Principal string

// Anonymous is the principal of unauthenticated callers.
const Anonymous Principal = "anonymous"

type principalKey struct{}

// WithPrincipal returns a context whose caller is p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller carried by ctx, or Anonymous.
func PrincipalFrom(ctx context.Context) Principal {
	if p, ok := ctx.Value(principalKey{}).(Principal); ok && p != "" {
		return p
	}
	return Anonymous
}

// Service answers identity and authorization questions about the caller.
type Service interface {
	CallerPrincipal(ctx context.Context) Principal
	// IsCallerAuthorized reports whether the caller holds at least one of roles.
	IsCallerAuthorized(ctx context.Context, roles []string) bool
	IsCallerInRole(ctx context.Context, role string) bool
}

// Static is an in-memory role realm.
type Static struct {
	roles map[Principal][]string
	mu    sync.RWMutex
}

// NewStatic creates an empty realm.
func NewStatic() *Static {
	return &Static{roles: make(map[Principal][]string)}
}

// Grant adds roles to p.
func (s *Static) Grant(p Principal, roles ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range roles {
		if !slices.Contains(s.roles[p], r) {
			s.roles[p] = append(s.roles[p], r)
		}
	}
}

// Revoke removes roles from p.
func (s *Static) Revoke(p Principal, roles ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[p] = slices.DeleteFunc(s.roles[p], func(r string) bool {
		return slices.Contains(roles, r)
	})
}

// Roles returns the roles of p.
func (s *Static) Roles(p Principal) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.roles[p])
}

func (s *Static) CallerPrincipal(ctx context.Context) Principal {
	return PrincipalFrom(ctx)
}

func (s *Static) IsCallerAuthorized(ctx context.Context, roles []string) bool {
	p := PrincipalFrom(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range roles {
		if slices.Contains(s.roles[p], r) {
			return true
		}
	}
	return false
}

func (s *Static) IsCallerInRole(ctx context.Context, role string) bool {
	return s.IsCallerAuthorized(ctx, []string{role})
}

// AllowAll is a Service that authorizes every caller for every role.
type AllowAll struct{}

func (AllowAll) CallerPrincipal(ctx context.Context) Principal      { return PrincipalFrom(ctx) }
func (AllowAll) IsCallerAuthorized(context.Context, []string) bool { return true }
func (AllowAll) IsCallerInRole(context.Context, string) bool       { return true }
