package auth_test

import (
	"context"
	"testing"
	"time"

	auth "github.com/anushkaps/tradehub-sub000"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalCredentialsRoundTrip(t *testing.T) {
	_, db, cleanup := setupRepo(t)
	defer cleanup()

	ctx := context.Background()
	creds := auth.NewLocalCredentials(db)

	require.NoError(t, creds.CreateCredential(ctx, "Pat@Example.com", testPassword))

	// Lookup is normalized, same as creation.
	assert.NoError(t, creds.VerifyCredential(ctx, "pat@example.com", testPassword))

	err := creds.VerifyCredential(ctx, "pat@example.com", "wrong-password")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestLocalCredentialsDuplicateEmail(t *testing.T) {
	_, db, cleanup := setupRepo(t)
	defer cleanup()

	ctx := context.Background()
	creds := auth.NewLocalCredentials(db)

	require.NoError(t, creds.CreateCredential(ctx, "pat@example.com", testPassword))

	err := creds.CreateCredential(ctx, "pat@example.com", "An0ther!Pass")
	require.Error(t, err)
	assert.True(t, auth.IsConflict(err))
}

func TestLocalCredentialsUnknownEmail(t *testing.T) {
	_, db, cleanup := setupRepo(t)
	defer cleanup()

	creds := auth.NewLocalCredentials(db)

	err := creds.VerifyCredential(context.Background(), "ghost@example.com", testPassword)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestLocalCredentialsFailureTracking(t *testing.T) {
	_, db, cleanup := setupRepo(t)
	defer cleanup()

	ctx := context.Background()
	creds := auth.NewLocalCredentials(db)

	require.NoError(t, creds.CreateCredential(ctx, "pat@example.com", testPassword))

	err := creds.VerifyCredential(ctx, "pat@example.com", "wrong-password")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)

	var attempts int
	err = db.NewSelect().
		Model((*auth.Credential)(nil)).
		Column("login_attempts").
		Where("email = ?", "pat@example.com").
		Scan(ctx, &attempts)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	// A successful verification clears the counter.
	require.NoError(t, creds.VerifyCredential(ctx, "pat@example.com", testPassword))

	err = db.NewSelect().
		Model((*auth.Credential)(nil)).
		Column("login_attempts").
		Where("email = ?", "pat@example.com").
		Scan(ctx, &attempts)
	require.NoError(t, err)
	assert.Equal(t, 0, attempts)
}

func TestLocalCredentialsLockout(t *testing.T) {
	_, db, cleanup := setupRepo(t)
	defer cleanup()

	ctx := context.Background()
	creds := auth.NewLocalCredentials(db)

	require.NoError(t, creds.CreateCredential(ctx, "pat@example.com", testPassword))

	// Push the counter past the ceiling directly rather than paying for
	// six bcrypt comparisons.
	now := time.Now()
	_, err := db.NewUpdate().
		Model((*auth.Credential)(nil)).
		Set("login_attempts = ?", auth.MaxLoginAttempts+1).
		Set("login_attempt_at = ?", now).
		Where("email = ?", "pat@example.com").
		Exec(ctx)
	require.NoError(t, err)

	// Even the correct password is refused during the cooldown.
	err = creds.VerifyCredential(ctx, "pat@example.com", testPassword)
	assert.ErrorIs(t, err, auth.ErrTooManyLoginAttempts)
}

func TestLocalCredentialsLockoutExpires(t *testing.T) {
	_, db, cleanup := setupRepo(t)
	defer cleanup()

	ctx := context.Background()
	creds := auth.NewLocalCredentials(db)

	require.NoError(t, creds.CreateCredential(ctx, "pat@example.com", testPassword))

	// A stale attempt timestamp outside the cooldown window resets the
	// counter on the next verification.
	stale := time.Now().Add(-48 * time.Hour)
	_, err := db.NewUpdate().
		Model((*auth.Credential)(nil)).
		Set("login_attempts = ?", auth.MaxLoginAttempts+1).
		Set("login_attempt_at = ?", stale).
		Where("email = ?", "pat@example.com").
		Exec(ctx)
	require.NoError(t, err)

	assert.NoError(t, creds.VerifyCredential(ctx, "pat@example.com", testPassword))
}

func TestLocalCredentialsUpdatePassword(t *testing.T) {
	_, db, cleanup := setupRepo(t)
	defer cleanup()

	ctx := context.Background()
	creds := auth.NewLocalCredentials(db)

	require.NoError(t, creds.CreateCredential(ctx, "pat@example.com", testPassword))

	const newPassword = "N3w!Password"
	require.NoError(t, creds.UpdatePassword(ctx, "pat@example.com", newPassword))

	assert.ErrorIs(t, creds.VerifyCredential(ctx, "pat@example.com", testPassword), auth.ErrInvalidCredentials)
	assert.NoError(t, creds.VerifyCredential(ctx, "pat@example.com", newPassword))
}

func TestLocalCredentialsUpdatePasswordUnknownEmail(t *testing.T) {
	_, db, cleanup := setupRepo(t)
	defer cleanup()

	creds := auth.NewLocalCredentials(db)

	err := creds.UpdatePassword(context.Background(), "ghost@example.com", testPassword)
	assert.ErrorIs(t, err, auth.ErrIdentityNotFound)
}
