package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// NormalizeEmail applies the canonical form used everywhere an email is
// compared or stored: trimmed and lowercased. The unique index on
// identities.email assumes input already passed through here.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Identity binds one normalized email to one role. Owned by the identity
// directory; Confirmed only ever transitions false -> true and Role is
// rewritten exclusively by an approved role change.
type Identity struct {
	bun.BaseModel `bun:"table:identities,alias:idn"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email         string     `bun:"email,notnull,unique" json:"email,omitempty"`
	Role          UserRole   `bun:"user_role,notnull" json:"user_role,omitempty"`
	Confirmed     bool       `bun:"is_email_verified" json:"is_email_verified,omitempty"`
	FirstName     string     `bun:"first_name" json:"first_name,omitempty"`
	LastName      string     `bun:"last_name" json:"last_name,omitempty"`
	Phone         string     `bun:"phone_number" json:"phone_number,omitempty"`
	CompanyName   string     `bun:"company_name" json:"company_name,omitempty"`
	LastUsedRole  UserRole   `bun:"last_used_role,nullzero" json:"last_used_role,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// SessionRecord is the durable half of a session: the revocation oracle and
// the idle-activity bookkeeping behind every issued token.
type SessionRecord struct {
	bun.BaseModel  `bun:"table:sessions,alias:ses"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	IdentityID     uuid.UUID  `bun:"identity_id,notnull,type:uuid" json:"identity_id,omitempty"`
	DeviceMarker   string     `bun:"device_marker" json:"device_marker,omitempty"`
	IssuedAt       *time.Time `bun:"issued_at,nullzero,default:current_timestamp" json:"issued_at,omitempty"`
	LastActivityAt *time.Time `bun:"last_activity_at,nullzero,default:current_timestamp" json:"last_activity_at,omitempty"`
	RevokedAt      *time.Time `bun:"revoked_at,nullzero" json:"revoked_at,omitempty"`
}

// Revoked reports whether the session has been explicitly invalidated.
func (s *SessionRecord) Revoked() bool {
	return s.RevokedAt != nil
}

// IdleSince returns the reference instant for the idle-window check.
func (s *SessionRecord) IdleSince() time.Time {
	if s.LastActivityAt != nil {
		return *s.LastActivityAt
	}
	if s.IssuedAt != nil {
		return *s.IssuedAt
	}
	return time.Time{}
}

// LoginTokenPurpose discriminates single-use token flows.
type LoginTokenPurpose string

const (
	// TokenPurposeMagicLink is a passwordless sign-in token.
	TokenPurposeMagicLink LoginTokenPurpose = "magic_link"
	// TokenPurposePasswordReset is a reset-password token.
	TokenPurposePasswordReset LoginTokenPurpose = "password_reset"
)

// LoginToken is a single-use, time-bound token for magic-link sign-in and
// password resets. ClaimedRole is the role the requester asserted; it is
// re-validated against the directory at redemption time.
type LoginToken struct {
	bun.BaseModel `bun:"table:login_tokens,alias:ltk"`
	ID            uuid.UUID         `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email         string            `bun:"email,notnull" json:"email,omitempty"`
	ClaimedRole   UserRole          `bun:"claimed_role" json:"claimed_role,omitempty"`
	Purpose       LoginTokenPurpose `bun:"purpose,notnull" json:"purpose,omitempty"`
	ExpiresAt     *time.Time        `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	ConsumedAt    *time.Time        `bun:"consumed_at,nullzero" json:"consumed_at,omitempty"`
	CreatedAt     *time.Time        `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Expired reports whether the token's time bound has passed.
func (t *LoginToken) Expired(now time.Time) bool {
	return t.ExpiresAt == nil || now.After(*t.ExpiresAt)
}

// RoleChangeStatus is the workflow state of a RoleChangeRequest.
type RoleChangeStatus string

const (
	// RoleChangePending awaits administrative action.
	RoleChangePending RoleChangeStatus = "pending"
	// RoleChangeApproved is terminal; the directory role was rewritten.
	RoleChangeApproved RoleChangeStatus = "approved"
	// RoleChangeRejected is terminal.
	RoleChangeRejected RoleChangeStatus = "rejected"
)

// RoleChangeRequest records an account holder's request to switch roles.
// Created by the holder, transitioned only by an admin, terminal once
// approved or rejected.
type RoleChangeRequest struct {
	bun.BaseModel `bun:"table:role_change_requests,alias:rcr"`
	ID            uuid.UUID        `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID        `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	CurrentRole   UserRole         `bun:"current_role,notnull" json:"current_role,omitempty"`
	RequestedRole UserRole         `bun:"requested_role,notnull" json:"requested_role,omitempty"`
	Status        RoleChangeStatus `bun:"status,notnull" json:"status,omitempty"`
	CreatedAt     *time.Time       `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time       `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Terminal reports whether the request reached a final state.
func (r *RoleChangeRequest) Terminal() bool {
	return r.Status == RoleChangeApproved || r.Status == RoleChangeRejected
}

// LoginActivity is a write-once audit record. Rows are appended on every
// successful sign-in and never mutated.
type LoginActivity struct {
	bun.BaseModel `bun:"table:login_activity,alias:lga"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	LoginTime     *time.Time `bun:"login_time,nullzero,default:current_timestamp" json:"login_time,omitempty"`
	DeviceInfo    string     `bun:"device_info" json:"device_info,omitempty"`
}

// Credential is the local credential provider's storage. It deliberately
// lives apart from identities: a credential row without a matching identity
// is the reconcilable inconsistency described by ConsistencyError.
type Credential struct {
	bun.BaseModel `bun:"table:credentials,alias:crd"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email         string     `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash  string     `bun:"password_hash,notnull" json:"password_hash,omitempty"`
	LoginAttempts int        `bun:"login_attempts" json:"login_attempts,omitempty"`
	AttemptAt     *time.Time `bun:"login_attempt_at,nullzero" json:"login_attempt_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}
