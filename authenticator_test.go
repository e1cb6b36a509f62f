package auth_test

import (
	"context"
	"testing"
	"time"

	auth "github.com/anushkaps/tradehub-sub000"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

const testPassword = "Sup3r$ecret"

func setupIssuer(t *testing.T) (*auth.Issuer, auth.RepositoryManager, *bun.DB, *capturingSink, func()) {
	t.Helper()

	repo, db, cleanup := setupRepo(t)
	sink := &capturingSink{}

	issuer := auth.NewIssuer(repo, auth.NewLocalCredentials(db), testConfig()).
		WithActivitySink(sink)

	return issuer, repo, db, sink, cleanup
}

func listTokens(t *testing.T, db *bun.DB) []*auth.LoginToken {
	t.Helper()
	var tokens []*auth.LoginToken
	err := db.NewSelect().Model(&tokens).Order("created_at ASC").Scan(context.Background())
	require.NoError(t, err)
	return tokens
}

func signUp(t *testing.T, issuer *auth.Issuer, email string, role auth.UserRole) *auth.Identity {
	t.Helper()
	identity, err := issuer.SignUp(context.Background(), auth.SignUpRequest{
		Email:     email,
		Password:  testPassword,
		Role:      string(role),
		FirstName: "Pat",
		LastName:  "Doe",
	})
	require.NoError(t, err)
	return identity
}

func TestSignUpAndSignIn(t *testing.T) {
	issuer, _, _, sink, cleanup := setupIssuer(t)
	defer cleanup()

	ctx := context.Background()
	identity := signUp(t, issuer, "pat@example.com", auth.RoleHomeowner)
	assert.Equal(t, auth.RoleHomeowner, identity.Role)
	assert.True(t, sink.hasEvent(auth.ActivityEventSignupSuccess))

	result, err := issuer.SignIn(ctx, "pat@example.com", testPassword, auth.RoleHomeowner, "laptop")
	require.NoError(t, err)
	require.NotEmpty(t, result.Token)
	assert.Equal(t, auth.RoleHomeowner, result.Session.Role)
	assert.Equal(t, identity.ID.String(), result.Session.UserID)
	assert.True(t, sink.hasEvent(auth.ActivityEventLoginSuccess))

	// The issued token round-trips through the revocation oracle.
	session, err := issuer.SessionFromToken(ctx, result.Token)
	require.NoError(t, err)
	assert.Equal(t, result.Session.SessionID, session.SessionID)
}

func TestSignUpDuplicateEmailNamesExistingRole(t *testing.T) {
	issuer, _, _, sink, cleanup := setupIssuer(t)
	defer cleanup()

	signUp(t, issuer, "pat@example.com", auth.RoleHomeowner)

	_, err := issuer.SignUp(context.Background(), auth.SignUpRequest{
		Email:     "Pat@Example.com",
		Password:  testPassword,
		Role:      string(auth.RoleProfessional),
		FirstName: "Pat",
		LastName:  "Doe",
	})
	require.Error(t, err)
	assert.True(t, auth.IsConflict(err))

	existing, ok := auth.ConflictingRole(err)
	require.True(t, ok)
	assert.Equal(t, auth.RoleHomeowner, existing)
	assert.True(t, sink.hasEvent(auth.ActivityEventSignupConflict))
}

func TestSignUpNormalizesPhone(t *testing.T) {
	issuer, repo, _, _, cleanup := setupIssuer(t)
	defer cleanup()

	ctx := context.Background()
	_, err := issuer.SignUp(ctx, auth.SignUpRequest{
		Email:     "pat@example.com",
		Password:  testPassword,
		Role:      string(auth.RoleHomeowner),
		FirstName: "Pat",
		LastName:  "Doe",
		Phone:     "(650) 253-0000",
	})
	require.NoError(t, err)

	// The directory stores the E.164 form, not what the form carried.
	identity, err := repo.Identities().GetByEmail(ctx, "pat@example.com")
	require.NoError(t, err)
	assert.Equal(t, "+16502530000", identity.Phone)
}

func TestSignInRoleMismatchBeforePasswordCheck(t *testing.T) {
	issuer, _, _, _, cleanup := setupIssuer(t)
	defer cleanup()

	signUp(t, issuer, "pat@example.com", auth.RoleProfessional)

	// Wrong entry point AND wrong password: the mismatch wins, so the
	// response does not leak whether the password was right.
	_, err := issuer.SignIn(context.Background(), "pat@example.com", "wrong-password", auth.RoleHomeowner, "")
	require.Error(t, err)
	assert.True(t, auth.IsRoleMismatch(err))

	actual, ok := auth.MismatchedRole(err)
	require.True(t, ok)
	assert.Equal(t, auth.RoleProfessional, actual)

	redirect, ok := auth.RedirectTarget(err)
	require.True(t, ok)
	assert.Equal(t, auth.RoleProfessional.LoginPath(), redirect)
}

func TestSignInWrongPassword(t *testing.T) {
	issuer, _, _, sink, cleanup := setupIssuer(t)
	defer cleanup()

	signUp(t, issuer, "pat@example.com", auth.RoleHomeowner)

	_, err := issuer.SignIn(context.Background(), "pat@example.com", "wrong-password", auth.RoleHomeowner, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	assert.True(t, sink.hasEvent(auth.ActivityEventLoginFailure))
}

func TestSignInUnknownEmail(t *testing.T) {
	issuer, _, _, _, cleanup := setupIssuer(t)
	defer cleanup()

	_, err := issuer.SignIn(context.Background(), "ghost@example.com", testPassword, auth.RoleHomeowner, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrIdentityNotFound)
}

func TestMagicLinkIssueAndRedeem(t *testing.T) {
	issuer, _, db, sink, cleanup := setupIssuer(t)
	defer cleanup()

	ctx := context.Background()
	signUp(t, issuer, "pat@example.com", auth.RoleHomeowner)

	require.NoError(t, issuer.RequestMagicLink(ctx, "pat@example.com", auth.RoleHomeowner))
	assert.True(t, sink.hasEvent(auth.ActivityEventMagicLinkIssued))

	tokens := listTokens(t, db)
	require.Len(t, tokens, 1)

	result, err := issuer.RedeemMagicLink(ctx, tokens[0].ID, "phone")
	require.NoError(t, err)
	require.NotNil(t, result.Identity)
	assert.Equal(t, auth.RoleHomeowner, result.Session.Role)
	// Redemption proves mailbox possession.
	assert.True(t, result.Identity.Confirmed)
	assert.True(t, sink.hasEvent(auth.ActivityEventMagicLinkRedeemed))

	// Second redemption of the same token fails: single use.
	_, err = issuer.RedeemMagicLink(ctx, tokens[0].ID, "phone")
	require.Error(t, err)
	assert.True(t, auth.IsExpiredToken(err))
}

func TestMagicLinkExpiredToken(t *testing.T) {
	issuer, _, db, _, cleanup := setupIssuer(t)
	defer cleanup()

	ctx := context.Background()
	signUp(t, issuer, "pat@example.com", auth.RoleHomeowner)

	issuer.WithMagicLinkTTL(time.Nanosecond)
	require.NoError(t, issuer.RequestMagicLink(ctx, "pat@example.com", auth.RoleHomeowner))

	tokens := listTokens(t, db)
	require.Len(t, tokens, 1)

	time.Sleep(5 * time.Millisecond)

	_, err := issuer.RedeemMagicLink(ctx, tokens[0].ID, "")
	require.Error(t, err)
	assert.True(t, auth.IsExpiredToken(err))
}

func TestMagicLinkRequestRoleMismatchFailsFast(t *testing.T) {
	issuer, _, _, _, cleanup := setupIssuer(t)
	defer cleanup()

	signUp(t, issuer, "pat@example.com", auth.RoleProfessional)

	err := issuer.RequestMagicLink(context.Background(), "pat@example.com", auth.RoleHomeowner)
	require.Error(t, err)
	assert.True(t, auth.IsRoleMismatch(err))
}

func TestMagicLinkRedeemRevokesSessionOnRoleMismatch(t *testing.T) {
	issuer, repo, db, _, cleanup := setupIssuer(t)
	defer cleanup()

	ctx := context.Background()
	signUp(t, issuer, "pat@example.com", auth.RoleHomeowner)

	// Issue the token claiming the wrong role directly; the request path
	// would have refused it, but stale links and races still reach
	// redemption with a claim the directory no longer agrees with.
	token, err := repo.LoginTokens().Issue(ctx, "pat@example.com", auth.RoleProfessional, auth.TokenPurposeMagicLink, time.Hour)
	require.NoError(t, err)

	_, err = issuer.RedeemMagicLink(ctx, token.ID, "")
	require.Error(t, err)
	assert.True(t, auth.IsRoleMismatch(err))

	// Whatever session redemption created must already be dead.
	var count int
	err = db.NewSelect().
		Model((*auth.SessionRecord)(nil)).
		Where("revoked_at IS NULL").
		ColumnExpr("count(*)").
		Scan(ctx, &count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestPasswordResetIsEnumerationSafe(t *testing.T) {
	issuer, _, db, _, cleanup := setupIssuer(t)
	defer cleanup()

	ctx := context.Background()

	// Unknown email: same nil error, no token issued.
	require.NoError(t, issuer.RequestPasswordReset(ctx, "ghost@example.com"))
	assert.Len(t, listTokens(t, db), 0)

	// Known email: same nil error, token issued.
	signUp(t, issuer, "pat@example.com", auth.RoleHomeowner)
	require.NoError(t, issuer.RequestPasswordReset(ctx, "pat@example.com"))

	tokens := listTokens(t, db)
	require.Len(t, tokens, 1)
	assert.Equal(t, auth.TokenPurposePasswordReset, tokens[0].Purpose)
}

func TestFinalizePasswordResetRevokesAllSessions(t *testing.T) {
	issuer, _, db, sink, cleanup := setupIssuer(t)
	defer cleanup()

	ctx := context.Background()
	signUp(t, issuer, "pat@example.com", auth.RoleHomeowner)

	// Two live sessions on different devices.
	first, err := issuer.SignIn(ctx, "pat@example.com", testPassword, auth.RoleHomeowner, "laptop")
	require.NoError(t, err)
	second, err := issuer.SignIn(ctx, "pat@example.com", testPassword, auth.RoleHomeowner, "phone")
	require.NoError(t, err)

	require.NoError(t, issuer.RequestPasswordReset(ctx, "pat@example.com"))
	tokens := listTokens(t, db)
	require.Len(t, tokens, 1)

	const newPassword = "N3w!Password"
	require.NoError(t, issuer.FinalizePasswordReset(ctx, tokens[0].ID, newPassword))
	assert.True(t, sink.hasEvent(auth.ActivityEventPasswordReset))

	// Both outstanding tokens are now rejected.
	_, err = issuer.SessionFromToken(ctx, first.Token)
	assert.Error(t, err)
	_, err = issuer.SessionFromToken(ctx, second.Token)
	assert.Error(t, err)

	// Old password no longer works, new one does.
	_, err = issuer.SignIn(ctx, "pat@example.com", testPassword, auth.RoleHomeowner, "")
	assert.Error(t, err)
	result, err := issuer.SignIn(ctx, "pat@example.com", newPassword, auth.RoleHomeowner, "")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)

	// The reset token is single use.
	err = issuer.FinalizePasswordReset(ctx, tokens[0].ID, "An0ther!Pass")
	require.Error(t, err)
	assert.True(t, auth.IsExpiredToken(err))
}

func TestFinalizePasswordResetRejectsWeakPassword(t *testing.T) {
	issuer, _, _, _, cleanup := setupIssuer(t)
	defer cleanup()

	err := issuer.FinalizePasswordReset(context.Background(), uuid.New(), "weak")
	require.Error(t, err)
}

func TestSignOutRevokesSingleDevice(t *testing.T) {
	issuer, _, _, _, cleanup := setupIssuer(t)
	defer cleanup()

	ctx := context.Background()
	signUp(t, issuer, "pat@example.com", auth.RoleHomeowner)

	laptop, err := issuer.SignIn(ctx, "pat@example.com", testPassword, auth.RoleHomeowner, "laptop")
	require.NoError(t, err)
	phone, err := issuer.SignIn(ctx, "pat@example.com", testPassword, auth.RoleHomeowner, "phone")
	require.NoError(t, err)

	sid, err := uuid.Parse(laptop.Session.SessionID)
	require.NoError(t, err)
	require.NoError(t, issuer.SignOut(ctx, sid))

	// The revoked session dies, the other survives.
	_, err = issuer.SessionFromToken(ctx, laptop.Token)
	assert.Error(t, err)
	_, err = issuer.SessionFromToken(ctx, phone.Token)
	assert.NoError(t, err)
}

func TestSignOutAllRevokesEverything(t *testing.T) {
	issuer, _, _, _, cleanup := setupIssuer(t)
	defer cleanup()

	ctx := context.Background()
	identity := signUp(t, issuer, "pat@example.com", auth.RoleHomeowner)

	laptop, err := issuer.SignIn(ctx, "pat@example.com", testPassword, auth.RoleHomeowner, "laptop")
	require.NoError(t, err)
	phone, err := issuer.SignIn(ctx, "pat@example.com", testPassword, auth.RoleHomeowner, "phone")
	require.NoError(t, err)

	require.NoError(t, issuer.SignOutAll(ctx, identity.ID))

	_, err = issuer.SessionFromToken(ctx, laptop.Token)
	assert.Error(t, err)
	_, err = issuer.SessionFromToken(ctx, phone.Token)
	assert.Error(t, err)
}

func TestSessionIdleWindowExpiry(t *testing.T) {
	repo, db, cleanup := setupRepo(t)
	defer cleanup()

	cfg := testConfig()
	cfg.IdleTimeout = 150 * time.Millisecond

	issuer := auth.NewIssuer(repo, auth.NewLocalCredentials(db), cfg)

	ctx := context.Background()
	_, err := issuer.SignUp(ctx, auth.SignUpRequest{
		Email:     "pat@example.com",
		Password:  testPassword,
		Role:      string(auth.RoleHomeowner),
		FirstName: "Pat",
		LastName:  "Doe",
	})
	require.NoError(t, err)

	result, err := issuer.SignIn(ctx, "pat@example.com", testPassword, auth.RoleHomeowner, "")
	require.NoError(t, err)

	sid, err := uuid.Parse(result.Session.SessionID)
	require.NoError(t, err)

	// Activity inside the window keeps the session alive.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, issuer.RecordActivity(ctx, sid))
	time.Sleep(50 * time.Millisecond)
	_, err = issuer.SessionFromToken(ctx, result.Token)
	require.NoError(t, err)

	// Silence past the window kills it.
	time.Sleep(250 * time.Millisecond)
	_, err = issuer.SessionFromToken(ctx, result.Token)
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrSessionRevoked)
}

// failingExternal always rejects the provider token.
type failingExternal struct{}

func (failingExternal) ValidateIdentityToken(ctx context.Context, raw string) (*auth.ExternalIdentity, error) {
	return nil, auth.ErrInvalidCredentials
}

// staticExternal accepts any token as proof for a fixed identity.
type staticExternal struct {
	identity auth.ExternalIdentity
}

func (s staticExternal) ValidateIdentityToken(ctx context.Context, raw string) (*auth.ExternalIdentity, error) {
	return &s.identity, nil
}

func TestExternalSignIn(t *testing.T) {
	issuer, _, _, _, cleanup := setupIssuer(t)
	defer cleanup()

	ctx := context.Background()
	signUp(t, issuer, "pat@example.com", auth.RoleProfessional)

	issuer.WithExternalValidator(staticExternal{identity: auth.ExternalIdentity{
		Subject:       "ext|123",
		Email:         "pat@example.com",
		EmailVerified: true,
	}})

	result, err := issuer.ExternalSignIn(ctx, "provider-token", auth.RoleProfessional, "laptop")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleProfessional, result.Session.Role)
	// Provider-verified email confirms the identity.
	assert.True(t, result.Identity.Confirmed)

	// Claimed role disagreeing with the directory is rejected after the
	// callback, same as magic-link redemption.
	_, err = issuer.ExternalSignIn(ctx, "provider-token", auth.RoleHomeowner, "laptop")
	require.Error(t, err)
	assert.True(t, auth.IsRoleMismatch(err))
}

func TestExternalSignInProviderRejection(t *testing.T) {
	issuer, _, _, _, cleanup := setupIssuer(t)
	defer cleanup()

	issuer.WithExternalValidator(failingExternal{})

	_, err := issuer.ExternalSignIn(context.Background(), "bad-token", auth.RoleHomeowner, "")
	assert.Error(t, err)
}

func TestExternalSignInUnconfigured(t *testing.T) {
	issuer, _, _, _, cleanup := setupIssuer(t)
	defer cleanup()

	_, err := issuer.ExternalSignIn(context.Background(), "token", auth.RoleHomeowner, "")
	assert.Error(t, err)
}

func TestSignUpOrphanedCredentialIsFlagged(t *testing.T) {
	issuer, _, db, sink, cleanup := setupIssuer(t)
	defer cleanup()

	ctx := context.Background()

	// Force the identity insert to fail after the credential write by
	// blocking this email at the storage level.
	_, err := db.Exec(`CREATE TRIGGER block_orphan BEFORE INSERT ON identities
WHEN NEW.email = 'orphan@example.com'
BEGIN
    SELECT RAISE(ABORT, 'identity insert rejected');
END;`)
	require.NoError(t, err)

	_, err = issuer.SignUp(ctx, auth.SignUpRequest{
		Email:     "orphan@example.com",
		Password:  testPassword,
		Role:      string(auth.RoleHomeowner),
		FirstName: "Orphan",
		LastName:  "Doe",
	})
	require.Error(t, err)
	assert.True(t, auth.IsConsistencyError(err))
	assert.True(t, sink.hasEvent(auth.ActivityEventSignupOrphaned))

	// The credential survives for reconciliation; it is never rolled back.
	var count int
	err = db.NewSelect().
		Model((*auth.Credential)(nil)).
		Where("email = ?", "orphan@example.com").
		ColumnExpr("count(*)").
		Scan(ctx, &count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
