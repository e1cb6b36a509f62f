package oidc

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/MicahParks/keyfunc/v2"
	auth "github.com/anushkaps/tradehub-sub000"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// idTokenClaims is the subset of OIDC ID token claims the directory cares
// about.
type idTokenClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// TokenValidator validates provider-issued ID tokens using JWKS.
type TokenValidator struct {
	config  Config
	jwks    *keyfunc.JWKS
	keyFunc jwt.Keyfunc
}

var _ auth.ExternalTokenValidator = (*TokenValidator)(nil)

// NewTokenValidator creates a validator that resolves signing keys from
// the provider's JWKS endpoint and keeps them refreshed in the background.
func NewTokenValidator(cfg Config) (*TokenValidator, error) {
	jwksURL := cfg.jwksURL()
	if jwksURL == "" {
		return nil, fmt.Errorf("oidc: issuer or JWKS URL is required")
	}

	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   cfg.RefreshInterval,
		RefreshTimeout:    cfg.RefreshTimeout,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, fmt.Errorf("oidc: failed to load JWKS from %s: %w", jwksURL, err)
	}

	return &TokenValidator{
		config:  cfg,
		jwks:    jwks,
		keyFunc: jwks.Keyfunc,
	}, nil
}

// NewTokenValidatorWithKeyfunc creates a validator with a fixed key
// resolver. Meant for static keys and tests.
func NewTokenValidatorWithKeyfunc(cfg Config, keyFunc jwt.Keyfunc) *TokenValidator {
	return &TokenValidator{
		config:  cfg,
		keyFunc: keyFunc,
	}
}

// Close stops the background JWKS refresh.
func (v *TokenValidator) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}

// ValidateIdentityToken implements auth.ExternalTokenValidator.
func (v *TokenValidator) ValidateIdentityToken(ctx context.Context, rawToken string) (*auth.ExternalIdentity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
	}
	if issuer := v.config.issuerURL(); issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if len(v.config.Audience) == 1 {
		opts = append(opts, jwt.WithAudience(v.config.Audience[0]))
	}

	token, err := jwt.ParseWithClaims(rawToken, &idTokenClaims{}, v.keyFunc, opts...)
	if err != nil {
		return nil, normalizeValidationError(err)
	}

	claims, ok := token.Claims.(*idTokenClaims)
	if !ok || !token.Valid {
		return nil, invalidTokenError(nil)
	}

	if len(v.config.Audience) > 1 && !audienceMatches(claims.Audience, v.config.Audience) {
		return nil, invalidTokenError(jwt.ErrTokenInvalidAudience)
	}

	if claims.Subject == "" || claims.Email == "" {
		return nil, invalidTokenError(fmt.Errorf("token missing subject or email claim"))
	}

	return &auth.ExternalIdentity{
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
	}, nil
}

func audienceMatches(tokenAud jwt.ClaimStrings, allowed []string) bool {
	for _, aud := range tokenAud {
		for _, want := range allowed {
			if aud == want {
				return true
			}
		}
	}
	return false
}

func normalizeValidationError(err error) error {
	if stderrors.Is(err, jwt.ErrTokenExpired) {
		return auth.ErrTokenExpired
	}
	return invalidTokenError(err)
}

func invalidTokenError(cause error) error {
	richErr := goerrors.New("invalid identity token", goerrors.CategoryAuth).
		WithTextCode(auth.TextCodeInvalidCredentials).
		WithCode(goerrors.CodeUnauthorized).
		WithMetadata(map[string]any{
			"provider": "oidc",
		})
	if cause != nil {
		richErr = richErr.WithMetadata(map[string]any{
			"provider": "oidc",
			"cause":    cause.Error(),
		})
	}
	return richErr
}
