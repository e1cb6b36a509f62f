package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// MaxLoginAttempts is the maximum number of failed verifications a
// credential gets before the cooldown kicks in.
var MaxLoginAttempts = 5

// CoolDownPeriod is the window during which the attempt counter holds.
var CoolDownPeriod = "24h"

// LocalCredentials is the default CredentialProvider: bcrypt hashes in a
// credentials table separate from the identity directory. The separation is
// what makes the orphaned-credential inconsistency representable at all.
type LocalCredentials struct {
	repo   repository.Repository[*Credential]
	db     *bun.DB
	logger Logger
}

var _ CredentialProvider = (*LocalCredentials)(nil)

// NewLocalCredentials builds the bcrypt-backed credential provider.
func NewLocalCredentials(db *bun.DB) *LocalCredentials {
	repo := repository.NewRepository[*Credential](db, repository.ModelHandlers[*Credential]{
		NewRecord: func() *Credential { return &Credential{} },
		GetID: func(c *Credential) uuid.UUID {
			if c == nil {
				return uuid.Nil
			}
			return c.ID
		},
		SetID: func(c *Credential, id uuid.UUID) {
			if c != nil {
				c.ID = id
			}
		},
		GetIdentifier: func() string { return "email" },
	})

	return &LocalCredentials{
		repo:   repo,
		db:     db,
		logger: defLogger{},
	}
}

func (l *LocalCredentials) WithLogger(logger Logger) *LocalCredentials {
	if logger != nil {
		l.logger = logger
	}
	return l
}

// CreateCredential hashes and stores a new credential for the email.
func (l *LocalCredentials) CreateCredential(ctx context.Context, email, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	record := &Credential{
		ID:           uuid.New(),
		Email:        NormalizeEmail(email),
		PasswordHash: hash,
	}

	if _, err := l.repo.Create(ctx, record); err != nil {
		if isUniqueViolation(err) {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "credential already exists").
				WithTextCode(TextCodeEmailInUse)
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store credential")
	}

	return nil
}

// VerifyCredential checks the password and maintains the attempt counter.
// Lookup misses and hash mismatches collapse into the same failure.
func (l *LocalCredentials) VerifyCredential(ctx context.Context, email, password string) error {
	record, err := l.getByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrInvalidCredentials
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve credential")
	}

	if record.AttemptAt != nil {
		expired, err := IsOutsideThresholdPeriod(*record.AttemptAt, CoolDownPeriod)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to calculate attempt cooldown")
		}
		if expired {
			record.LoginAttempts = 0
		}
	}

	if record.LoginAttempts > MaxLoginAttempts {
		return ErrTooManyLoginAttempts
	}

	if err := ComparePasswordAndHash(password, record.PasswordHash); err != nil {
		if trackErr := l.trackAttempt(ctx, record); trackErr != nil {
			l.logger.Warn("failed to track login attempt", "error", trackErr)
		}
		return ErrInvalidCredentials
	}

	if err := l.resetAttempts(ctx, record); err != nil {
		l.logger.Warn("failed to reset login attempts", "error", err)
	}

	return nil
}

// UpdatePassword replaces the stored hash and clears the attempt counter.
func (l *LocalCredentials) UpdatePassword(ctx context.Context, email, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	res, err := l.db.NewUpdate().
		Model((*Credential)(nil)).
		Set("password_hash = ?", hash).
		Set("login_attempts = 0").
		Set("login_attempt_at = NULL").
		Set("updated_at = ?", time.Now()).
		Where("email = ?", NormalizeEmail(email)).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update credential")
	}

	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrIdentityNotFound
	}

	return nil
}

func (l *LocalCredentials) getByEmail(ctx context.Context, email string) (*Credential, error) {
	record := &Credential{}
	err := l.db.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, repository.NewRecordNotFound().WithMetadata(map[string]any{
				"email": NormalizeEmail(email),
			})
		}
		return nil, err
	}
	return record, nil
}

func (l *LocalCredentials) trackAttempt(ctx context.Context, record *Credential) error {
	now := time.Now()
	_, err := l.db.NewUpdate().
		Model((*Credential)(nil)).
		Set("login_attempts = login_attempts + 1").
		Set("login_attempt_at = ?", now).
		Where("id = ?", record.ID).
		Exec(ctx)
	return err
}

func (l *LocalCredentials) resetAttempts(ctx context.Context, record *Credential) error {
	_, err := l.db.NewUpdate().
		Model((*Credential)(nil)).
		Set("login_attempts = 0").
		Set("login_attempt_at = NULL").
		Where("id = ?", record.ID).
		Exec(ctx)
	return err
}
