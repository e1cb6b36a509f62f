package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Sessions is the durable session store and the revocation oracle the
// authorization gate trusts.
type Sessions interface {
	repository.Repository[*SessionRecord]

	Start(ctx context.Context, identityID uuid.UUID, deviceMarker string) (*SessionRecord, error)
	StartTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, deviceMarker string) (*SessionRecord, error)
	Active(ctx context.Context, id uuid.UUID, idleWindow time.Duration) (*SessionRecord, error)
	Touch(ctx context.Context, id uuid.UUID) error
	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
	RevokeAllForIdentity(ctx context.Context, identityID uuid.UUID) (int64, error)
	RevokeAllForIdentityTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID) (int64, error)
}

type sessions struct {
	repository.Repository[*SessionRecord]
	db  *bun.DB
	now func() time.Time
}

var _ Sessions = (*sessions)(nil)

type SessionsOption func(*sessions)

// WithSessionsClock injects a custom clock (useful for tests).
func WithSessionsClock(clock func() time.Time) SessionsOption {
	return func(s *sessions) {
		if clock != nil {
			s.now = clock
		}
	}
}

func NewSessionsRepository(db *bun.DB, opts ...SessionsOption) Sessions {
	repo := repository.NewRepository[*SessionRecord](db, repository.ModelHandlers[*SessionRecord]{
		NewRecord: func() *SessionRecord { return &SessionRecord{} },
		GetID: func(s *SessionRecord) uuid.UUID {
			if s == nil {
				return uuid.Nil
			}
			return s.ID
		},
		SetID: func(s *SessionRecord, id uuid.UUID) {
			if s != nil {
				s.ID = id
			}
		},
	})

	repoSessions := &sessions{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repoSessions)
		}
	}

	return repoSessions
}

func (s *sessions) Start(ctx context.Context, identityID uuid.UUID, deviceMarker string) (*SessionRecord, error) {
	return s.StartTx(ctx, s.db, identityID, deviceMarker)
}

func (s *sessions) StartTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, deviceMarker string) (*SessionRecord, error) {
	now := s.now()
	record := &SessionRecord{
		ID:             uuid.New(),
		IdentityID:     identityID,
		DeviceMarker:   deviceMarker,
		IssuedAt:       &now,
		LastActivityAt: &now,
	}
	return s.Repository.CreateTx(ctx, tx, record)
}

// Active resolves the session record and applies the validity invariant:
// the row exists, was not revoked, and saw activity within the idle window.
// Any other outcome is a hard rejection, not a soft miss.
func (s *sessions) Active(ctx context.Context, id uuid.UUID, idleWindow time.Duration) (*SessionRecord, error) {
	record, err := s.Repository.GetByID(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrSessionRevoked
		}
		return nil, err
	}

	if record.Revoked() {
		return nil, ErrSessionRevoked
	}

	if idleWindow > 0 && s.now().Sub(record.IdleSince()) > idleWindow {
		return nil, ErrSessionRevoked
	}

	return record, nil
}

// Touch records qualifying activity, extending the idle window.
func (s *sessions) Touch(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.NewUpdate().
		Model((*SessionRecord)(nil)).
		Set("last_activity_at = ?", s.now()).
		Where("id = ?", id).
		Where("revoked_at IS NULL").
		Exec(ctx)
	return err
}

func (s *sessions) Revoke(ctx context.Context, id uuid.UUID) error {
	return s.RevokeTx(ctx, s.db, id)
}

func (s *sessions) RevokeTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	_, err := tx.NewUpdate().
		Model((*SessionRecord)(nil)).
		Set("revoked_at = ?", s.now()).
		Where("id = ?", id).
		Where("revoked_at IS NULL").
		Exec(ctx)
	return err
}

func (s *sessions) RevokeAllForIdentity(ctx context.Context, identityID uuid.UUID) (int64, error) {
	return s.RevokeAllForIdentityTx(ctx, s.db, identityID)
}

func (s *sessions) RevokeAllForIdentityTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID) (int64, error) {
	res, err := tx.NewUpdate().
		Model((*SessionRecord)(nil)).
		Set("revoked_at = ?", s.now()).
		Where("identity_id = ?", identityID).
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return 0, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return rows, nil
}
