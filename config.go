package auth

import "time"

// DefaultIdleTimeout is the inactivity window after which a session is
// force-signed-out.
const DefaultIdleTimeout = 30 * time.Minute

// SimpleConfig is a plain-struct Config implementation with workable
// defaults for everything but the signing key.
type SimpleConfig struct {
	SigningKey           string
	SigningMethod        string
	ContextKey           string
	TokenExpiration      int
	IdleTimeout          time.Duration
	TokenLookup          string
	AuthScheme           string
	Issuer               string
	Audience             []string
	RejectedRouteKey     string
	RejectedRouteDefault string
}

var _ Config = (*SimpleConfig)(nil)

func (c *SimpleConfig) GetSigningKey() string { return c.SigningKey }

func (c *SimpleConfig) GetSigningMethod() string {
	if c.SigningMethod == "" {
		return "HS256"
	}
	return c.SigningMethod
}

func (c *SimpleConfig) GetContextKey() string {
	if c.ContextKey == "" {
		return "user"
	}
	return c.ContextKey
}

// GetTokenExpiration is the token TTL in hours.
func (c *SimpleConfig) GetTokenExpiration() int {
	if c.TokenExpiration == 0 {
		return 24
	}
	return c.TokenExpiration
}

func (c *SimpleConfig) GetIdleTimeout() time.Duration {
	if c.IdleTimeout == 0 {
		return DefaultIdleTimeout
	}
	return c.IdleTimeout
}

func (c *SimpleConfig) GetTokenLookup() string {
	if c.TokenLookup == "" {
		return "cookie:" + c.GetContextKey()
	}
	return c.TokenLookup
}

func (c *SimpleConfig) GetAuthScheme() string {
	if c.AuthScheme == "" {
		return "Bearer"
	}
	return c.AuthScheme
}

func (c *SimpleConfig) GetIssuer() string {
	if c.Issuer == "" {
		return "tradehub"
	}
	return c.Issuer
}

func (c *SimpleConfig) GetAudience() []string { return c.Audience }

func (c *SimpleConfig) GetRejectedRouteKey() string {
	if c.RejectedRouteKey == "" {
		return "rejected_route"
	}
	return c.RejectedRouteKey
}

func (c *SimpleConfig) GetRejectedRouteDefault() string {
	if c.RejectedRouteDefault == "" {
		return "/"
	}
	return c.RejectedRouteDefault
}
