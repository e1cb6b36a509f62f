package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var updateRoleChangeStatusSQL = `UPDATE "role_change_requests" AS "rcr"
SET
	"status" = ?,
	"updated_at" = ?
WHERE
	"rcr"."id" = ?
RETURNING *;`

// RoleChanges stores role-change workflow records.
type RoleChanges interface {
	repository.Repository[*RoleChangeRequest]

	PendingForUser(ctx context.Context, userID uuid.UUID) (*RoleChangeRequest, error)
	PendingForUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (*RoleChangeRequest, error)
	UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status RoleChangeStatus) (*RoleChangeRequest, error)
}

type roleChanges struct {
	repository.Repository[*RoleChangeRequest]
	db *bun.DB
}

var _ RoleChanges = (*roleChanges)(nil)

func NewRoleChangesRepository(db *bun.DB) RoleChanges {
	repo := repository.NewRepository[*RoleChangeRequest](db, repository.ModelHandlers[*RoleChangeRequest]{
		NewRecord: func() *RoleChangeRequest { return &RoleChangeRequest{} },
		GetID: func(r *RoleChangeRequest) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *RoleChangeRequest, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
	})

	return &roleChanges{
		Repository: repo,
		db:         db,
	}
}

func (r *roleChanges) PendingForUser(ctx context.Context, userID uuid.UUID) (*RoleChangeRequest, error) {
	return r.PendingForUserTx(ctx, r.db, userID)
}

func (r *roleChanges) PendingForUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (*RoleChangeRequest, error) {
	record := &RoleChangeRequest{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.status = ?", string(RoleChangePending)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, repository.NewRecordNotFound().WithMetadata(map[string]any{
				"user_id": userID.String(),
			})
		}
		return nil, err
	}

	return record, nil
}

func (r *roleChanges) UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status RoleChangeStatus) (*RoleChangeRequest, error) {
	res, err := r.Repository.RawTx(ctx, tx, updateRoleChangeStatusSQL, string(status), time.Now(), id.String())
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
