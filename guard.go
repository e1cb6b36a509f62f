package auth

import (
	"context"
)

// AuthState is the outcome of the ordered authorization check.
type AuthState string

const (
	// StateLoading means session resolution is still in flight. Authorize
	// is synchronous and never returns it; clients that resolve sessions
	// asynchronously report it while waiting for a Decision.
	StateLoading AuthState = "loading"
	// StateUnauthenticated means no valid session; redirect to login.
	StateUnauthenticated AuthState = "unauthenticated"
	// StatePendingVerification means the session is real but the email is
	// unconfirmed and the resource requires confirmation.
	StatePendingVerification AuthState = "pending_verification"
	// StateForbidden means the session's role does not match the
	// resource's required role.
	StateForbidden AuthState = "forbidden"
	// StateAuthorized means render.
	StateAuthorized AuthState = "authorized"
)

// AccessPolicy annotates a protected resource: the role it demands, if
// any, and whether it requires a confirmed email.
type AccessPolicy struct {
	RequiredRole    UserRole
	RequireVerified bool
}

// Decision is the gate's verdict plus the actionable follow-up: where to
// send the user and, for login redirects, where to bring them back to.
type Decision struct {
	State      AuthState
	Session    *SessionObject
	RedirectTo string
	ReturnTo   string
	Notice     string
}

// SessionResolver turns a raw bearer token into a validated session,
// consulting the revocation oracle. The Issuer implements it.
type SessionResolver interface {
	SessionFromToken(ctx context.Context, raw string) (*SessionObject, error)
}

// VerificationPromptPath is where unverified accounts are sent.
var VerificationPromptPath = "/auth/verify-email"

// Gate runs the ordered authorization check guarding protected resources:
// session first, then verification, then role. An account that has not
// proven its mailbox must not learn whether its role fits a page, so the
// verification check always runs first.
type Gate struct {
	resolver SessionResolver
	logger   Logger
}

// NewGate builds a gate over the session resolver.
func NewGate(resolver SessionResolver) *Gate {
	return &Gate{
		resolver: resolver,
		logger:   defLogger{},
	}
}

func (g *Gate) WithLogger(logger Logger) *Gate {
	if logger != nil {
		g.logger = logger
	}
	return g
}

// Authorize checks the raw token against the policy. requestedPath is
// remembered for post-login return on unauthenticated redirects.
func (g *Gate) Authorize(ctx context.Context, rawToken string, policy AccessPolicy, requestedPath string) Decision {
	if rawToken == "" {
		return g.unauthenticated(policy, requestedPath)
	}

	session, err := g.resolver.SessionFromToken(ctx, rawToken)
	if err != nil {
		g.logger.Debug("gate rejected token", "error", err)
		return g.unauthenticated(policy, requestedPath)
	}

	if policy.RequireVerified && !session.GetEmailVerified() {
		return Decision{
			State:      StatePendingVerification,
			Session:    session,
			RedirectTo: VerificationPromptPath,
			Notice:     "Please verify your email address to continue.",
		}
	}

	if policy.RequiredRole != "" && policy.RequiredRole != session.GetRole() {
		// Redirect to the caller's own dashboard, never a login page,
		// and never silently render the restricted content.
		return Decision{
			State:      StateForbidden,
			Session:    session,
			RedirectTo: session.GetRole().DashboardPath(),
			Notice:     "You do not have access to that page.",
		}
	}

	return Decision{
		State:   StateAuthorized,
		Session: session,
	}
}

func (g *Gate) unauthenticated(policy AccessPolicy, requestedPath string) Decision {
	redirect := "/"
	if policy.RequiredRole != "" {
		redirect = policy.RequiredRole.LoginPath()
	}
	return Decision{
		State:      StateUnauthenticated,
		RedirectTo: redirect,
		ReturnTo:   requestedPath,
	}
}
