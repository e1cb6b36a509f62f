package auth

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// LookupResult answers "is this email taken, and under which role".
type LookupResult struct {
	Exists bool
	Role   UserRole
}

// Directory owns the one-email-one-role invariant. Reads go through the
// indexed email lookup; writes lean on the storage-level unique index to
// resolve races, never on the application-level pre-check.
type Directory struct {
	repo   RepositoryManager
	logger Logger
}

// NewDirectory builds a Directory over the repository manager.
func NewDirectory(repo RepositoryManager) *Directory {
	return &Directory{
		repo:   repo,
		logger: defLogger{},
	}
}

func (d *Directory) WithLogger(logger Logger) *Directory {
	if logger != nil {
		d.logger = logger
	}
	return d
}

// Lookup normalizes the email and resolves its binding, if any.
func (d *Directory) Lookup(ctx context.Context, email string) (LookupResult, error) {
	identity, err := d.repo.Identities().GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return LookupResult{}, nil
		}
		return LookupResult{}, goerrors.Wrap(err, goerrors.CategoryInternal, "email lookup failed")
	}

	return LookupResult{Exists: true, Role: identity.Role}, nil
}

// Create writes a new identity. Any existing binding for the email, same
// role included, fails with ConflictError naming the existing role so the
// caller can direct the user to sign in instead.
func (d *Directory) Create(ctx context.Context, record *Identity) (*Identity, error) {
	return d.CreateTx(ctx, d.repo, record)
}

// CreateTx is Create inside a caller-managed transaction scope.
func (d *Directory) CreateTx(ctx context.Context, tx repository.TransactionManager, record *Identity) (*Identity, error) {
	if record == nil {
		return nil, NewValidationError(nil, "identity must not be nil")
	}
	if !record.Role.IsValid() {
		return nil, NewValidationError(nil, "invalid role: "+string(record.Role))
	}

	record.Email = NormalizeEmail(record.Email)

	// UX pre-check only. Two sign-ups racing past this both reach the
	// insert; the unique index picks the single winner below.
	if existing, err := d.Lookup(ctx, record.Email); err == nil && existing.Exists {
		return nil, NewConflictError(record.Email, existing.Role)
	}

	var created *Identity
	err := tx.RunInTx(ctx, nil, func(ctx context.Context, btx bun.Tx) error {
		var err error
		created, err = d.repo.Identities().CreateTx(ctx, btx, record)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, d.conflictForEmail(ctx, record.Email, err)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create identity")
	}

	return created, nil
}

// MarkConfirmed flips the confirmation flag. Monotonic: once confirmed,
// always confirmed.
func (d *Directory) MarkConfirmed(ctx context.Context, id uuid.UUID) error {
	if err := d.repo.Identities().MarkConfirmed(ctx, id); err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrIdentityNotFound
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark identity confirmed")
	}
	return nil
}

// updateRole rewrites an identity's role. Unexported: only the role change
// workflow calls it, and only on approval.
func (d *Directory) updateRole(ctx context.Context, tx bun.IDB, id uuid.UUID, role UserRole) (*Identity, error) {
	if !role.IsValid() {
		return nil, NewValidationError(nil, "invalid role: "+string(role))
	}

	identity, err := d.repo.Identities().UpdateRoleTx(ctx, tx, id, role)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update identity role")
	}

	return identity, nil
}

// conflictForEmail re-reads the race winner so the ConflictError can name
// the role actually bound to the email.
func (d *Directory) conflictForEmail(ctx context.Context, email string, cause error) error {
	winner, err := d.repo.Identities().GetByEmail(ctx, email)
	if err != nil {
		d.logger.Warn("could not resolve conflicting identity", "email", email, "error", err)
		return goerrors.Wrap(cause, goerrors.CategoryConflict, "email already registered").
			WithTextCode(TextCodeEmailInUse).
			WithCode(goerrors.CodeConflict)
	}

	return NewConflictError(email, winner.Role)
}
