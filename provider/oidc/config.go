package oidc

import (
	"fmt"
	"strings"
	"time"
)

// Config holds OIDC provider configuration for token validation.
type Config struct {
	// Issuer is the provider's issuer URL (e.g. "https://accounts.example.com").
	Issuer string

	// Audience is the client/application identifier(s) to validate against.
	Audience []string

	// JWKSURL overrides the JWKS endpoint (optional).
	// Default: "{Issuer}/.well-known/jwks.json".
	JWKSURL string

	// RefreshInterval is how often to refresh cached JWKS keys.
	// Default: 1 hour.
	RefreshInterval time.Duration

	// RefreshTimeout bounds a single JWKS refresh.
	// Default: 10 seconds.
	RefreshTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(issuer string, audience []string) Config {
	return Config{
		Issuer:          issuer,
		Audience:        audience,
		RefreshInterval: time.Hour,
		RefreshTimeout:  10 * time.Second,
	}
}

func (c Config) jwksURL() string {
	if c.JWKSURL != "" {
		return c.JWKSURL
	}
	issuer := strings.TrimSuffix(strings.TrimSpace(c.Issuer), "/")
	if issuer == "" {
		return ""
	}
	return fmt.Sprintf("%s/.well-known/jwks.json", issuer)
}

func (c Config) issuerURL() string {
	return strings.TrimSuffix(strings.TrimSpace(c.Issuer), "/")
}
