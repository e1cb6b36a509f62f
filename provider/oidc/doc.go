// Package oidc validates identity tokens issued by an external OpenID
// Connect provider, resolving signing keys from the provider's JWKS
// endpoint. It implements auth.ExternalTokenValidator so the credential
// issuer can accept federated sign-ins without owning the keys.
package oidc
