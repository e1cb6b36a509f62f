package auth

import (
	"github.com/goliatone/go-errors"
)

// Text codes surfaced to the route layer; stable across refactors so UI
// copy and redirects can key off them.
const (
	TextCodeValidationFailed   = "VALIDATION_FAILED"
	TextCodeEmailInUse         = "EMAIL_IN_USE"
	TextCodeIdentityNotFound   = "IDENTITY_NOT_FOUND"
	TextCodeRoleMismatch       = "ROLE_MISMATCH"
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeTokenConsumed      = "TOKEN_CONSUMED"
	TextCodeNotAuthorized      = "NOT_AUTHORIZED"
	TextCodeCredentialOrphaned = "CREDENTIAL_ORPHANED"
	TextCodeRoleUnchanged      = "ROLE_UNCHANGED"
	TextCodeRoleChangePending  = "ROLE_CHANGE_PENDING"
	TextCodeTooManyAttempts    = "TOO_MANY_LOGIN_ATTEMPTS"
	TextCodeSessionRevoked     = "SESSION_REVOKED"
)

// ErrIdentityNotFound is returned when no identity exists for an email; the
// route layer turns it into a redirect to sign-up.
var ErrIdentityNotFound = errors.New("identity not found", errors.CategoryNotFound).
	WithTextCode(TextCodeIdentityNotFound).
	WithCode(errors.CodeNotFound)

// ErrInvalidCredentials is the single authentication failure for bad
// passwords; it never distinguishes which half of the pair was wrong.
var ErrInvalidCredentials = errors.New("invalid email or password", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrTokenExpired is returned for magic-link or reset tokens past their
// time bound, and for already-consumed tokens (replay attempts).
var ErrTokenExpired = errors.New("token expired or already used", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrSessionRevoked is returned when a request bears a token whose session
// row was revoked or idled out. Revocation is authoritative, not advisory.
var ErrSessionRevoked = errors.New("session revoked", errors.CategoryAuth).
	WithTextCode(TextCodeSessionRevoked).
	WithCode(errors.CodeUnauthorized)

// ErrNotAuthorized is the generic authorization-gate failure.
var ErrNotAuthorized = errors.New("not authorized", errors.CategoryAuthz).
	WithTextCode(TextCodeNotAuthorized).
	WithCode(errors.CodeForbidden)

// ErrTooManyLoginAttempts throttles password sign-in during the cooldown
// window.
var ErrTooManyLoginAttempts = errors.New("too many login attempts", errors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyAttempts)

// ErrNoOpRoleChange rejects a role-change request for the role the account
// already holds. No record is written.
var ErrNoOpRoleChange = errors.New("requested role matches current role", errors.CategoryValidation).
	WithTextCode(TextCodeRoleUnchanged).
	WithCode(errors.CodeBadRequest)

// ErrRoleChangePending rejects a second request while one is still pending.
var ErrRoleChangePending = errors.New("a role change request is already pending", errors.CategoryConflict).
	WithTextCode(TextCodeRoleChangePending).
	WithCode(errors.CodeConflict)

// NewValidationError wraps malformed input failures. Wrap returns nil for
// a nil cause, so callers without one get a fresh error instead.
func NewValidationError(cause error, msg string) *errors.Error {
	err := errors.New(msg, errors.CategoryValidation)
	if cause != nil {
		err = errors.Wrap(cause, errors.CategoryValidation, msg)
	}
	return err.
		WithTextCode(TextCodeValidationFailed).
		WithCode(errors.CodeBadRequest)
}

// NewConflictError reports that an email is already bound to a role. The
// existing role is carried in metadata so the caller can point the user at
// the right sign-in entry instead of a bare failure.
func NewConflictError(email string, existingRole UserRole) *errors.Error {
	return errors.New("email already registered", errors.CategoryConflict).
		WithTextCode(TextCodeEmailInUse).
		WithCode(errors.CodeConflict).
		WithMetadata(map[string]any{
			"email":         email,
			"existing_role": string(existingRole),
			"redirect":      existingRole.LoginPath(),
		})
}

// NewRoleMismatchError reports that the entry point's implied role differs
// from the account's stored role. Metadata names the actual role and the
// login path the user should be sent to.
func NewRoleMismatchError(entryRole, actualRole UserRole) *errors.Error {
	return errors.New("account is registered under a different role", errors.CategoryAuthz).
		WithTextCode(TextCodeRoleMismatch).
		WithCode(errors.CodeForbidden).
		WithMetadata(map[string]any{
			"entry_role":  string(entryRole),
			"actual_role": string(actualRole),
			"redirect":    actualRole.LoginPath(),
		})
}

// NewConsistencyError flags a credential that exists without a matching
// identity record. The credential is never rolled back; the error schedules
// reconciliation instead.
func NewConsistencyError(cause error, email string) *errors.Error {
	return errors.Wrap(cause, errors.CategoryInternal, "credential created but identity record failed").
		WithTextCode(TextCodeCredentialOrphaned).
		WithCode(errors.CodeInternal).
		WithMetadata(map[string]any{
			"email": email,
		})
}

// IsConflict checks for the email-already-registered failure.
func IsConflict(err error) bool {
	return hasTextCode(err, TextCodeEmailInUse)
}

// IsRoleMismatch checks for the wrong-entry-point failure.
func IsRoleMismatch(err error) bool {
	return hasTextCode(err, TextCodeRoleMismatch)
}

// IsConsistencyError checks for the orphaned-credential failure.
func IsConsistencyError(err error) bool {
	return hasTextCode(err, TextCodeCredentialOrphaned)
}

// IsExpiredToken checks for expired or replayed single-use tokens.
func IsExpiredToken(err error) bool {
	return hasTextCode(err, TextCodeTokenExpired)
}

// ConflictingRole extracts the role already bound to the email from a
// ConflictError.
func ConflictingRole(err error) (UserRole, bool) {
	return roleFromMetadata(err, "existing_role")
}

// MismatchedRole extracts the account's actual role from a
// RoleMismatchError.
func MismatchedRole(err error) (UserRole, bool) {
	return roleFromMetadata(err, "actual_role")
}

// RedirectTarget extracts the actionable redirect path carried by conflict
// and role-mismatch errors.
func RedirectTarget(err error) (string, bool) {
	var richErr *errors.Error
	if !errors.As(err, &richErr) || richErr.Metadata == nil {
		return "", false
	}
	target, ok := richErr.Metadata["redirect"].(string)
	return target, ok && target != ""
}

func hasTextCode(err error, code string) bool {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

func roleFromMetadata(err error, key string) (UserRole, bool) {
	var richErr *errors.Error
	if !errors.As(err, &richErr) || richErr.Metadata == nil {
		return "", false
	}
	raw, ok := richErr.Metadata[key].(string)
	if !ok {
		return "", false
	}
	return ParseRole(raw)
}
