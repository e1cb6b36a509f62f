package auth

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ Session = &SessionObject{}

// SessionObject is the in-memory view of a validated session, built from
// token claims after the durable session record cleared the revocation and
// idle-window checks.
type SessionObject struct {
	UserID         string         `json:"user_id,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	Role           UserRole       `json:"role,omitempty"`
	EmailVerified  bool           `json:"email_verified,omitempty"`
	DeviceMarker   string         `json:"device_marker,omitempty"`
	Issuer         string         `json:"issuer,omitempty"`
	IssuedAt       *time.Time     `json:"issued_at,omitempty"`
	ExpirationDate *time.Time     `json:"expiration_date,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

func (s *SessionObject) GetUserID() string {
	return s.UserID
}

func (s *SessionObject) GetUserUUID() (uuid.UUID, error) {
	return uuid.Parse(s.UserID)
}

func (s *SessionObject) GetSessionID() string {
	return s.SessionID
}

func (s *SessionObject) GetRole() UserRole {
	return s.Role
}

func (s *SessionObject) GetEmailVerified() bool {
	return s.EmailVerified
}

func (s *SessionObject) GetDeviceMarker() string {
	return s.DeviceMarker
}

func (s *SessionObject) GetIssuer() string {
	return s.Issuer
}

func (s *SessionObject) GetIssuedAt() *time.Time {
	return s.IssuedAt
}

func (s *SessionObject) GetData() map[string]any {
	return s.Data
}

func (s SessionObject) String() string {
	issuedAt := "<nil>"
	if s.IssuedAt != nil {
		issuedAt = s.IssuedAt.Format(time.RFC1123)
	}
	return fmt.Sprintf(
		"user=%s sid=%s role=%s verified=%t iss=%s iat=%s",
		s.UserID,
		s.SessionID,
		s.Role,
		s.EmailVerified,
		s.Issuer,
		issuedAt,
	)
}

// sessionFromAuthClaims builds a SessionObject from validated claims.
func sessionFromAuthClaims(claims AuthClaims) (*SessionObject, error) {
	if claims == nil {
		return nil, ErrInvalidCredentials
	}

	issuedAt := claims.IssuedAt()
	expiresAt := claims.Expires()

	issuer := ""
	if jwtClaims, ok := claims.(*JWTClaims); ok {
		issuer = jwtClaims.RegisteredClaims.Issuer
	}

	return &SessionObject{
		UserID:         claims.UserID(),
		SessionID:      claims.SessionID(),
		Role:           claims.Role(),
		EmailVerified:  claims.EmailVerified(),
		DeviceMarker:   claims.DeviceMarker(),
		Issuer:         issuer,
		IssuedAt:       &issuedAt,
		ExpirationDate: &expiresAt,
	}, nil
}
