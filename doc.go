// Package auth implements the identity, session, and role-authorization
// core of the TradeHub marketplace.
//
// The package owns four concerns:
//
//   - the identity directory: one normalized email maps to exactly one
//     account role, enforced by a storage-level unique index
//   - the credential issuer: sign-up, password sign-in, single-use magic
//     links, external identity-provider callbacks, and enumeration-safe
//     password resets
//   - session lifecycle: idle-timeout monitoring, single-device and
//     all-device revocation, append-only login audit records
//   - the authorization gate: the ordered session -> verification -> role
//     check guarding protected routes, plus the role-change workflow that
//     is the only path allowed to rewrite an identity's role
//
// Cryptography is delegated: password hashes live behind the
// CredentialProvider interface and session proofs are signed JWTs issued
// by the TokenService. The policy layered on top of those primitives is
// what this package specifies and tests.
package auth
