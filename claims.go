package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthClaims represents structured session token claims. The session id is
// the handle the revocation oracle keys on; role and verification state are
// a cache the gate re-validates against the directory when it matters.
type AuthClaims interface {
	Subject() string
	UserID() string
	SessionID() string
	Role() UserRole
	EmailVerified() bool
	DeviceMarker() string
	Expires() time.Time
	IssuedAt() time.Time
}

// JWTClaims is the concrete implementation of AuthClaims
type JWTClaims struct {
	jwt.RegisteredClaims
	UID      string `json:"uid,omitempty"`
	SID      string `json:"sid,omitempty"`
	UserRole string `json:"role,omitempty"`
	Verified bool   `json:"email_verified,omitempty"`
	Device   string `json:"device,omitempty"`
}

var _ AuthClaims = (*JWTClaims)(nil)

// Subject returns the subject claim
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the user ID
func (c *JWTClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject()
}

// SessionID returns the id of the durable session record backing the token.
func (c *JWTClaims) SessionID() string {
	return c.SID
}

// Role returns the role claim as carried at issuance time.
func (c *JWTClaims) Role() UserRole {
	return UserRole(c.UserRole)
}

// EmailVerified reports the confirmation state at issuance time.
func (c *JWTClaims) EmailVerified() bool {
	return c.Verified
}

// DeviceMarker returns the device/browser context the session was issued to.
func (c *JWTClaims) DeviceMarker() string {
	return c.Device
}

// Expires returns the expiration time
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}
