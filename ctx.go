package auth

import (
	"context"

	"github.com/goliatone/go-router"
)

var identityCtxKey = &contextKey{"identity"}
var sessionCtxKey = &contextKey{"session"}

type contextKey struct {
	name string
}

// WithContext sets the Identity in the given context
func WithContext(r context.Context, identity *Identity) context.Context {
	return context.WithValue(r, identityCtxKey, identity)
}

// FromContext finds the identity from the context.
func FromContext(ctx context.Context) (*Identity, bool) {
	raw, ok := ctx.Value(identityCtxKey).(*Identity)
	return raw, ok
}

// WithSessionContext sets the Session in the given context
func WithSessionContext(r context.Context, session Session) context.Context {
	return context.WithValue(r, sessionCtxKey, session)
}

// GetSession extracts the Session from the standard context
func GetSession(ctx context.Context) (Session, bool) {
	raw, ok := ctx.Value(sessionCtxKey).(Session)
	return raw, ok
}

// GetRouterSession extracts the Session from the router context
func GetRouterSession(ctx router.Context, key string) (Session, bool) {
	if key == "" {
		key = "user" // Default key used by JWT middleware
	}
	raw := ctx.Locals(key)
	if raw == nil {
		return nil, false
	}
	session, ok := raw.(Session)
	return session, ok
}

// RoleFromContext reads the role off the context session. The session is
// the only place a role claim lives between requests; callers that want
// the current directory role after a role change must resolve the
// identity again.
func RoleFromContext(ctx context.Context) (UserRole, bool) {
	session, ok := GetSession(ctx)
	if !ok {
		return "", false
	}
	role := session.GetRole()
	if !role.IsValid() {
		return "", false
	}
	return role, true
}
