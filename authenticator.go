package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// DefaultMagicLinkTTL bounds magic-link tokens.
const DefaultMagicLinkTTL = 15 * time.Minute

// DefaultResetTokenTTL bounds password-reset tokens.
const DefaultResetTokenTTL = 1 * time.Hour

// ExternalIdentity is the proof an external identity provider hands back
// after validating its own token.
type ExternalIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
}

// ExternalTokenValidator validates a token issued by an external identity
// provider and maps it to the email it proves. provider/oidc implements it
// over JWKS.
type ExternalTokenValidator interface {
	ValidateIdentityToken(ctx context.Context, rawToken string) (*ExternalIdentity, error)
}

// AuthResult is a freshly issued session: the signed token plus its
// in-memory view and the identity it belongs to.
type AuthResult struct {
	Token    string
	Session  *SessionObject
	Identity *Identity
}

// Issuer is the credential issuer: every entry path into a session goes
// through it, and every exit (revocation) too. It layers role policy on
// top of the CredentialProvider and TokenService primitives.
type Issuer struct {
	repo         RepositoryManager
	directory    *Directory
	credentials  CredentialProvider
	tokenService TokenService
	external     ExternalTokenValidator
	notifier     Notifier
	activitySink ActivitySink
	logger       Logger
	idleWindow   time.Duration
	magicLinkTTL time.Duration
	resetTTL     time.Duration
}

// NewIssuer returns a credential issuer wired to the repository manager and
// credential provider, with the token service built from cfg.
func NewIssuer(repo RepositoryManager, credentials CredentialProvider, cfg Config) *Issuer {
	tokenService := NewTokenService(
		[]byte(cfg.GetSigningKey()),
		cfg.GetTokenExpiration(),
		cfg.GetIssuer(),
		cfg.GetAudience(),
		defLogger{},
	)

	return &Issuer{
		repo:         repo,
		directory:    NewDirectory(repo),
		credentials:  credentials,
		tokenService: tokenService,
		notifier:     noopNotifier{},
		activitySink: noopActivitySink{},
		logger:       defLogger{},
		idleWindow:   cfg.GetIdleTimeout(),
		magicLinkTTL: DefaultMagicLinkTTL,
		resetTTL:     DefaultResetTokenTTL,
	}
}

func (s *Issuer) WithLogger(logger Logger) *Issuer {
	if logger != nil {
		s.logger = logger
		s.directory = s.directory.WithLogger(logger)
	}
	return s
}

// WithNotifier configures the email dispatcher.
func (s *Issuer) WithNotifier(n Notifier) *Issuer {
	s.notifier = normalizeNotifier(n)
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Issuer) WithActivitySink(sink ActivitySink) *Issuer {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithExternalValidator configures the external identity-provider entry
// path.
func (s *Issuer) WithExternalValidator(v ExternalTokenValidator) *Issuer {
	s.external = v
	return s
}

// WithTokenService overrides the session token service.
func (s *Issuer) WithTokenService(ts TokenService) *Issuer {
	if ts != nil {
		s.tokenService = ts
	}
	return s
}

// WithMagicLinkTTL overrides the magic-link token time bound.
func (s *Issuer) WithMagicLinkTTL(ttl time.Duration) *Issuer {
	if ttl > 0 {
		s.magicLinkTTL = ttl
	}
	return s
}

// Directory exposes the identity directory backing this issuer.
func (s *Issuer) Directory() *Directory {
	return s.directory
}

// TokenService returns the token service used by this issuer.
func (s *Issuer) TokenService() TokenService {
	return s.tokenService
}

// LookupEmail resolves whether the email is bound, and to which role. Used
// by the route layer as a UX shortcut before sign-up.
func (s *Issuer) LookupEmail(ctx context.Context, email string) (LookupResult, error) {
	return s.directory.Lookup(ctx, email)
}

// SignUp validates the payload, pre-checks the email, creates the external
// credential, then the identity record — in that order. A conflict aborts
// before any credential exists. A credential that outlives a failed
// identity insert is flagged for reconciliation, never rolled back: the
// account must stay loginable.
func (s *Issuer) SignUp(ctx context.Context, req SignUpRequest) (*Identity, error) {
	if err := req.Validate(); err != nil {
		return nil, NewValidationError(err, "invalid sign-up payload")
	}

	email := NormalizeEmail(req.Email)
	role, ok := ParseRole(req.Role)
	if !ok {
		return nil, NewValidationError(nil, "invalid role: "+req.Role)
	}

	if existing, err := s.directory.Lookup(ctx, email); err != nil {
		return nil, err
	} else if existing.Exists {
		s.emit(ctx, ActivityEventSignupConflict, ActorRef{Type: "unknown"}, "", map[string]any{
			"email":         email,
			"existing_role": string(existing.Role),
		})
		return nil, NewConflictError(email, existing.Role)
	}

	if err := s.credentials.CreateCredential(ctx, email, req.Password); err != nil {
		if IsConflict(err) {
			return nil, s.conflictFromCredential(ctx, email, err)
		}
		return nil, err
	}

	identity, err := s.directory.Create(ctx, &Identity{
		Email:       email,
		Role:        role,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Phone:       NormalizePhone(req.Phone),
		CompanyName: req.CompanyName,
	})
	if err != nil {
		if IsConflict(err) {
			return nil, err
		}

		// The credential is now the source of truth for "account
		// exists". Surface the inconsistency for reconciliation.
		s.emit(ctx, ActivityEventSignupOrphaned, ActorRef{Type: "system"}, "", map[string]any{
			"email": email,
			"error": err.Error(),
		})
		return nil, NewConsistencyError(err, email)
	}

	s.emit(ctx, ActivityEventSignupSuccess, ActorRef{ID: identity.ID.String(), Type: "user"}, identity.ID.String(), map[string]any{
		"email": email,
		"role":  string(role),
	})

	if err := s.notifier.SendConfirmation(ctx, email); err != nil {
		s.logger.Warn("failed to send confirmation email", "email", email, "error", err)
	}
	if err := s.notifier.SendWelcome(ctx, email, role); err != nil {
		s.logger.Warn("failed to send welcome email", "email", email, "error", err)
	}

	return identity, nil
}

// SignIn is the password entry path. The entry point's implied role is
// checked against the stored role before the password is ever verified: a
// mismatch redirects, it does not authenticate.
func (s *Issuer) SignIn(ctx context.Context, email, password string, entryRole UserRole, deviceMarker string) (*AuthResult, error) {
	email = NormalizeEmail(email)

	identity, err := s.repo.Identities().GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			s.emitLoginFailure(ctx, email, ErrIdentityNotFound)
			return nil, ErrIdentityNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "sign-in lookup failed")
	}

	if identity.Role != entryRole {
		s.emitLoginFailure(ctx, email, NewRoleMismatchError(entryRole, identity.Role))
		return nil, NewRoleMismatchError(entryRole, identity.Role)
	}

	if err := s.credentials.VerifyCredential(ctx, email, password); err != nil {
		s.emitLoginFailure(ctx, email, err)
		return nil, err
	}

	return s.establishSession(ctx, identity, deviceMarker)
}

// RequestMagicLink issues a single-use token bound to the email and the
// claimed role. When the account is known and the roles already disagree
// the request fails fast; redemption re-checks regardless, because the
// binding happens before the account's real role is confirmed to the
// requester.
func (s *Issuer) RequestMagicLink(ctx context.Context, email string, claimedRole UserRole) error {
	email = NormalizeEmail(email)
	if !claimedRole.IsValid() {
		return NewValidationError(nil, "invalid role: "+string(claimedRole))
	}

	if existing, err := s.directory.Lookup(ctx, email); err != nil {
		return err
	} else if existing.Exists && existing.Role != claimedRole {
		return NewRoleMismatchError(claimedRole, existing.Role)
	}

	token, err := s.repo.LoginTokens().Issue(ctx, email, claimedRole, TokenPurposeMagicLink, s.magicLinkTTL)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to issue magic link token")
	}

	s.emit(ctx, ActivityEventMagicLinkIssued, ActorRef{Type: "unknown"}, "", map[string]any{
		"email": email,
		"role":  string(claimedRole),
	})

	if err := s.notifier.SendMagicLink(ctx, email, token); err != nil {
		s.logger.Warn("failed to send magic link email", "email", email, "error", err)
	}

	return nil
}

// RedeemMagicLink consumes the token (second use fails with
// ErrTokenExpired), proves email possession, and re-resolves the actual
// role. On mismatch the session created during redemption is revoked
// before the error returns — the claimed role is never trusted blindly.
func (s *Issuer) RedeemMagicLink(ctx context.Context, tokenID uuid.UUID, deviceMarker string) (*AuthResult, error) {
	token, err := s.repo.LoginTokens().Consume(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	if token.Purpose != TokenPurposeMagicLink {
		return nil, ErrTokenExpired
	}

	identity, err := s.repo.Identities().GetByEmail(ctx, token.Email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "magic link lookup failed")
	}

	// Redemption proves possession of the mailbox regardless of how the
	// role check below goes.
	if !identity.Confirmed {
		if err := s.directory.MarkConfirmed(ctx, identity.ID); err != nil {
			s.logger.Warn("failed to mark identity confirmed", "id", identity.ID, "error", err)
		} else {
			identity.Confirmed = true
		}
	}

	result, err := s.establishSession(ctx, identity, deviceMarker)
	if err != nil {
		return nil, err
	}

	if token.ClaimedRole != "" && token.ClaimedRole != identity.Role {
		if sid, parseErr := uuid.Parse(result.Session.SessionID); parseErr == nil {
			if revokeErr := s.repo.Sessions().Revoke(ctx, sid); revokeErr != nil {
				s.logger.Error("failed to revoke session after role mismatch", "sid", sid, "error", revokeErr)
			}
		}
		return nil, NewRoleMismatchError(token.ClaimedRole, identity.Role)
	}

	s.emit(ctx, ActivityEventMagicLinkRedeemed, ActorRef{ID: identity.ID.String(), Type: "user"}, identity.ID.String(), map[string]any{
		"email": token.Email,
	})

	return result, nil
}

// ExternalSignIn is the identity-provider entry path: proof of identity is
// delegated to the provider's token, then the same post-callback role
// re-validation as magic-link redemption applies.
func (s *Issuer) ExternalSignIn(ctx context.Context, rawToken string, claimedRole UserRole, deviceMarker string) (*AuthResult, error) {
	if s.external == nil {
		return nil, goerrors.New("no external identity provider configured", goerrors.CategoryOperation)
	}

	proof, err := s.external.ValidateIdentityToken(ctx, rawToken)
	if err != nil {
		return nil, err
	}

	identity, err := s.repo.Identities().GetByEmail(ctx, proof.Email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "external sign-in lookup failed")
	}

	if proof.EmailVerified && !identity.Confirmed {
		if err := s.directory.MarkConfirmed(ctx, identity.ID); err != nil {
			s.logger.Warn("failed to mark identity confirmed", "id", identity.ID, "error", err)
		} else {
			identity.Confirmed = true
		}
	}

	result, err := s.establishSession(ctx, identity, deviceMarker)
	if err != nil {
		return nil, err
	}

	if claimedRole != "" && claimedRole != identity.Role {
		if sid, parseErr := uuid.Parse(result.Session.SessionID); parseErr == nil {
			if revokeErr := s.repo.Sessions().Revoke(ctx, sid); revokeErr != nil {
				s.logger.Error("failed to revoke session after role mismatch", "sid", sid, "error", revokeErr)
			}
		}
		return nil, NewRoleMismatchError(claimedRole, identity.Role)
	}

	return result, nil
}

// RequestPasswordReset never reveals whether the account exists: internal
// role resolution only picks the redirect, the caller always sees the same
// generic success.
func (s *Issuer) RequestPasswordReset(ctx context.Context, email string) error {
	email = NormalizeEmail(email)

	existing, err := s.directory.Lookup(ctx, email)
	if err != nil {
		s.logger.Error("password reset lookup failed", "email", email, "error", err)
		return nil
	}

	if !existing.Exists {
		return nil
	}

	token, err := s.repo.LoginTokens().Issue(ctx, email, existing.Role, TokenPurposePasswordReset, s.resetTTL)
	if err != nil {
		s.logger.Error("failed to issue reset token", "email", email, "error", err)
		return nil
	}

	if err := s.notifier.SendPasswordReset(ctx, email, token); err != nil {
		s.logger.Warn("failed to send reset email", "email", email, "error", err)
	}

	return nil
}

// FinalizePasswordReset consumes the reset token, installs the new
// credential, and revokes every outstanding session for the identity.
func (s *Issuer) FinalizePasswordReset(ctx context.Context, tokenID uuid.UUID, newPassword string) error {
	if err := ValidatePasswordStrength(newPassword); err != nil {
		return NewValidationError(err, "password does not meet requirements")
	}

	token, err := s.repo.LoginTokens().Consume(ctx, tokenID)
	if err != nil {
		return err
	}

	if token.Purpose != TokenPurposePasswordReset {
		return ErrTokenExpired
	}

	identity, err := s.repo.Identities().GetByEmail(ctx, token.Email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrIdentityNotFound
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "password reset lookup failed")
	}

	if err := s.credentials.UpdatePassword(ctx, token.Email, newPassword); err != nil {
		return err
	}

	// Proof of mailbox possession, same as magic-link redemption.
	if !identity.Confirmed {
		if err := s.directory.MarkConfirmed(ctx, identity.ID); err != nil {
			s.logger.Warn("failed to mark identity confirmed", "id", identity.ID, "error", err)
		}
	}

	if _, err := s.repo.Sessions().RevokeAllForIdentity(ctx, identity.ID); err != nil {
		s.logger.Error("failed to revoke sessions after password reset", "id", identity.ID, "error", err)
	}

	s.emit(ctx, ActivityEventPasswordReset, ActorRef{ID: identity.ID.String(), Type: "user"}, identity.ID.String(), map[string]any{
		"email": token.Email,
	})

	return nil
}

// SignOut revokes the calling device's session only.
func (s *Issuer) SignOut(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.repo.Sessions().Revoke(ctx, sessionID); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke session")
	}

	s.emit(ctx, ActivityEventSessionRevoked, ActorRef{Type: "user"}, "", map[string]any{
		"session_id": sessionID.String(),
		"scope":      "device",
	})

	return nil
}

// SignOutAll revokes every outstanding session for the identity. Any
// subsequent request bearing one of those tokens is rejected: revocation is
// the oracle, not best effort.
func (s *Issuer) SignOutAll(ctx context.Context, identityID uuid.UUID) error {
	revoked, err := s.repo.Sessions().RevokeAllForIdentity(ctx, identityID)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke sessions")
	}

	s.emit(ctx, ActivityEventSessionRevoked, ActorRef{ID: identityID.String(), Type: "user"}, identityID.String(), map[string]any{
		"scope":   "global",
		"revoked": revoked,
	})

	return nil
}

// SessionFromToken validates the signed token, then defers to the session
// store: a perfectly valid signature over a revoked or idle session is
// still a rejection.
func (s *Issuer) SessionFromToken(ctx context.Context, raw string) (*SessionObject, error) {
	claims, err := s.tokenService.Validate(raw)
	if err != nil {
		return nil, err
	}

	sid, err := uuid.Parse(claims.SessionID())
	if err != nil {
		return nil, ErrSessionRevoked
	}

	if _, err := s.repo.Sessions().Active(ctx, sid, s.idleWindow); err != nil {
		return nil, err
	}

	return sessionFromAuthClaims(claims)
}

// RecordActivity extends the session's idle window.
func (s *Issuer) RecordActivity(ctx context.Context, sessionID uuid.UUID) error {
	return s.repo.Sessions().Touch(ctx, sessionID)
}

func (s *Issuer) establishSession(ctx context.Context, identity *Identity, deviceMarker string) (*AuthResult, error) {
	record, err := s.repo.Sessions().Start(ctx, identity.ID, deviceMarker)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to start session")
	}

	token, err := s.tokenService.Generate(identity, record.ID, deviceMarker)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if _, err := s.repo.LoginActivity().Create(ctx, &LoginActivity{
		ID:         uuid.New(),
		UserID:     identity.ID,
		LoginTime:  &now,
		DeviceInfo: deviceMarker,
	}); err != nil {
		s.logger.Warn("failed to append login activity", "id", identity.ID, "error", err)
	}

	if err := s.repo.Identities().TrackLastUsedRole(ctx, identity.ID, identity.Role); err != nil {
		s.logger.Warn("failed to persist last used role", "id", identity.ID, "error", err)
	}

	s.emit(ctx, ActivityEventLoginSuccess, ActorRef{ID: identity.ID.String(), Type: "user"}, identity.ID.String(), map[string]any{
		"email":  identity.Email,
		"role":   string(identity.Role),
		"device": deviceMarker,
	})

	session := &SessionObject{
		UserID:        identity.ID.String(),
		SessionID:     record.ID.String(),
		Role:          identity.Role,
		EmailVerified: identity.Confirmed,
		DeviceMarker:  deviceMarker,
		IssuedAt:      record.IssuedAt,
	}

	return &AuthResult{
		Token:    token,
		Session:  session,
		Identity: identity,
	}, nil
}

func (s *Issuer) conflictFromCredential(ctx context.Context, email string, cause error) error {
	if existing, err := s.directory.Lookup(ctx, email); err == nil && existing.Exists {
		return NewConflictError(email, existing.Role)
	}
	// Credential exists but no identity row: the reconcilable state.
	return NewConsistencyError(cause, email)
}

func (s *Issuer) emitLoginFailure(ctx context.Context, email string, cause error) {
	s.emit(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
		"email": email,
		"error": cause.Error(),
	})
}

func (s *Issuer) emit(ctx context.Context, eventType ActivityEventType, actor ActorRef, userID string, metadata map[string]any) {
	sink := normalizeActivitySink(s.activitySink)
	event := ActivityEvent{
		EventType: eventType,
		Actor:     actor,
		UserID:    userID,
		Metadata:  metadata,
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	if err := sink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error: %v", err)
	}
}
