package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Session holds attributes that are part of an auth session
type Session interface {
	GetUserID() string
	GetUserUUID() (uuid.UUID, error)
	GetSessionID() string
	GetRole() UserRole
	GetEmailVerified() bool
	GetDeviceMarker() string
	GetIssuer() string
	GetIssuedAt() *time.Time
	GetData() map[string]any
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetSigningMethod() string
	GetContextKey() string
	GetTokenExpiration() int
	GetIdleTimeout() time.Duration
	GetTokenLookup() string
	GetAuthScheme() string
	GetIssuer() string
	GetAudience() []string
	GetRejectedRouteKey() string
	GetRejectedRouteDefault() string
}

// LoginPayload is what a login form binds into: the credentials plus the
// role of the entry point the user came through.
type LoginPayload interface {
	GetIdentifier() string
	GetPassword() string
	GetRole() UserRole
	GetDeviceMarker() string
}

// CredentialProvider is the external credential store the issuer layers
// policy on top of. The provider owns hashing and verification; the issuer
// owns who may call it and in what order.
type CredentialProvider interface {
	CreateCredential(ctx context.Context, email, password string) error
	VerifyCredential(ctx context.Context, email, password string) error
	UpdatePassword(ctx context.Context, email, password string) error
}

// TokenService signs and validates session tokens.
type TokenService interface {
	Generate(identity *Identity, sessionID uuid.UUID, deviceMarker string) (string, error)
	Validate(tokenString string) (AuthClaims, error)
}

// Notifier dispatches the emails the credential flows produce. All methods
// are fire-and-forget from the issuer's perspective; delivery failures are
// logged, never surfaced to the requester.
type Notifier interface {
	SendConfirmation(ctx context.Context, email string) error
	SendWelcome(ctx context.Context, email string, role UserRole) error
	SendMagicLink(ctx context.Context, email string, token *LoginToken) error
	SendPasswordReset(ctx context.Context, email string, token *LoginToken) error
}

type noopNotifier struct{}

func (noopNotifier) SendConfirmation(context.Context, string) error             { return nil }
func (noopNotifier) SendWelcome(context.Context, string, UserRole) error        { return nil }
func (noopNotifier) SendMagicLink(context.Context, string, *LoginToken) error   { return nil }
func (noopNotifier) SendPasswordReset(context.Context, string, *LoginToken) error {
	return nil
}

func normalizeNotifier(n Notifier) Notifier {
	if n == nil {
		return noopNotifier{}
	}
	return n
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
