package auth

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Identities() Identities
	Sessions() Sessions
	LoginTokens() LoginTokens
	RoleChanges() RoleChanges
	LoginActivity() repository.Repository[*LoginActivity]
}

func NewLoginActivityRepository(db *bun.DB) repository.Repository[*LoginActivity] {
	handlers := repository.ModelHandlers[*LoginActivity]{
		NewRecord: func() *LoginActivity {
			return &LoginActivity{}
		},
		GetID: func(record *LoginActivity) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *LoginActivity, id uuid.UUID) {
			record.ID = id
		},
	}
	return repository.NewRepository(db, handlers)
}

type mngr struct {
	db            *bun.DB
	identities    Identities
	sessions      Sessions
	loginTokens   LoginTokens
	roleChanges   RoleChanges
	loginActivity repository.Repository[*LoginActivity]
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:            db,
		identities:    NewIdentitiesRepository(db),
		sessions:      NewSessionsRepository(db),
		loginTokens:   NewLoginTokensRepository(db),
		roleChanges:   NewRoleChangesRepository(db),
		loginActivity: NewLoginActivityRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.identities == nil {
		return errors.New("repository identities should be initialized")
	}

	if m.sessions == nil {
		return errors.New("repository sessions should be initialized")
	}

	if m.loginTokens == nil {
		return errors.New("repository loginTokens should be initialized")
	}

	if m.roleChanges == nil {
		return errors.New("repository roleChanges should be initialized")
	}

	if m.loginActivity == nil {
		return errors.New("repository loginActivity should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Identities() Identities { return m.identities }

func (m mngr) Sessions() Sessions { return m.sessions }

func (m mngr) LoginTokens() LoginTokens { return m.loginTokens }

func (m mngr) RoleChanges() RoleChanges { return m.roleChanges }

func (m mngr) LoginActivity() repository.Repository[*LoginActivity] { return m.loginActivity }

// isNoRows matches the driver-level empty result.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation detects unique-index violations across the drivers we
// run against: sqlite during tests, postgres in production.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "SQLSTATE=23505") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
