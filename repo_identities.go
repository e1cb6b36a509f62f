package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var markConfirmedSQL = `UPDATE "identities" AS "idn"
SET
	"is_email_verified" = TRUE,
	"updated_at" = ?
WHERE
	"idn"."deleted_at" IS NULL
AND (
	"idn"."id" = ?
) RETURNING *;`

var updateRoleSQL = `UPDATE "identities" AS "idn"
SET
	"user_role" = ?,
	"updated_at" = ?
WHERE
	"idn"."deleted_at" IS NULL
AND (
	"idn"."id" = ?
) RETURNING *;`

type Identities interface {
	repository.Repository[*Identity]

	GetByEmail(ctx context.Context, email string, criteria ...repository.SelectCriteria) (*Identity, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string, criteria ...repository.SelectCriteria) (*Identity, error)
	Create(ctx context.Context, record *Identity, criteria ...repository.InsertCriteria) (*Identity, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Identity, criteria ...repository.InsertCriteria) (*Identity, error)
	MarkConfirmed(ctx context.Context, id uuid.UUID) error
	MarkConfirmedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
	UpdateRoleTx(ctx context.Context, tx bun.IDB, id uuid.UUID, role UserRole) (*Identity, error)
	TrackLastUsedRole(ctx context.Context, id uuid.UUID, role UserRole) error
}

type identities struct {
	repository.Repository[*Identity]
	db *bun.DB
}

var (
	_ Identities                       = (*identities)(nil)
	_ repository.Repository[*Identity] = (*identities)(nil)
)

func NewIdentitiesRepository(db *bun.DB) Identities {
	repo := repository.NewRepository[*Identity](db, repository.ModelHandlers[*Identity]{
		NewRecord: func() *Identity { return &Identity{} },
		GetID: func(i *Identity) uuid.UUID {
			if i == nil {
				return uuid.Nil
			}
			return i.ID
		},
		SetID: func(i *Identity, id uuid.UUID) {
			if i != nil {
				i.ID = id
			}
		},
		GetIdentifier: func() string { return "email" },
	})

	return &identities{
		Repository: repo,
		db:         db,
	}
}

func (a *identities) GetByEmail(ctx context.Context, email string, criteria ...repository.SelectCriteria) (*Identity, error) {
	return a.GetByEmailTx(ctx, a.db, email, criteria...)
}

// GetByEmailTx is an indexed lookup on the normalized email column. The
// unique index backing it is the authority that resolves sign-up races;
// callers treat this only as a read, never as a reservation.
func (a *identities) GetByEmailTx(ctx context.Context, tx bun.IDB, email string, criteria ...repository.SelectCriteria) (*Identity, error) {
	record := &Identity{}
	q := tx.NewSelect().Model(record)

	for _, c := range criteria {
		q.Apply(c)
	}

	err := q.
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

func (a *identities) Create(ctx context.Context, record *Identity, criteria ...repository.InsertCriteria) (*Identity, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *identities) CreateTx(ctx context.Context, tx bun.IDB, record *Identity, criteria ...repository.InsertCriteria) (*Identity, error) {
	prepareIdentityDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *identities) MarkConfirmed(ctx context.Context, id uuid.UUID) error {
	return a.MarkConfirmedTx(ctx, a.db, id)
}

// MarkConfirmedTx only ever sets the flag; there is no path back to
// unconfirmed.
func (a *identities) MarkConfirmedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	res, err := a.Repository.RawTx(ctx, tx, markConfirmedSQL, time.Now(), id.String())
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound().WithMetadata(map[string]any{
			"id": id.String(),
		})
	}

	return nil
}

// UpdateRoleTx rewrites the role column. The role change workflow is the
// only caller.
func (a *identities) UpdateRoleTx(ctx context.Context, tx bun.IDB, id uuid.UUID, role UserRole) (*Identity, error) {
	res, err := a.Repository.RawTx(ctx, tx, updateRoleSQL, string(role), time.Now(), id.String())
	if err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return nil, repository.NewRecordNotFound().WithMetadata(map[string]any{
			"id": id.String(),
		})
	}

	return res[0], nil
}

// TrackLastUsedRole persists the role resolved at sign-in for UI
// defaulting. Best effort; failures are the caller's to log, not to fail
// the sign-in over.
func (a *identities) TrackLastUsedRole(ctx context.Context, id uuid.UUID, role UserRole) error {
	_, err := a.db.NewUpdate().
		Model((*Identity)(nil)).
		Set("last_used_role = ?", string(role)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func prepareIdentityDefaults(record *Identity) {
	if record == nil {
		return
	}

	record.Email = NormalizeEmail(record.Email)

	if record.ID == uuid.Nil {
		if id, err := hashid.NewUUID(record.Email); err == nil {
			record.ID = id
		} else {
			record.ID = uuid.New()
		}
	}
}
