package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// consumeLoginTokenSQL marks a token consumed only if it still is not.
// The conditional update is what closes the replay window: two racing
// redemptions resolve to exactly one returned row.
var consumeLoginTokenSQL = `UPDATE "login_tokens" AS "ltk"
SET
	"consumed_at" = ?
WHERE
	"ltk"."id" = ?
AND "ltk"."consumed_at" IS NULL
RETURNING *;`

// LoginTokens stores single-use magic-link and password-reset tokens.
type LoginTokens interface {
	repository.Repository[*LoginToken]

	Issue(ctx context.Context, email string, claimedRole UserRole, purpose LoginTokenPurpose, ttl time.Duration) (*LoginToken, error)
	IssueTx(ctx context.Context, tx bun.IDB, email string, claimedRole UserRole, purpose LoginTokenPurpose, ttl time.Duration) (*LoginToken, error)
	Consume(ctx context.Context, id uuid.UUID) (*LoginToken, error)
	ConsumeTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*LoginToken, error)
}

type loginTokens struct {
	repository.Repository[*LoginToken]
	db  *bun.DB
	now func() time.Time
}

var _ LoginTokens = (*loginTokens)(nil)

type LoginTokensOption func(*loginTokens)

// WithLoginTokensClock injects a custom clock (useful for tests).
func WithLoginTokensClock(clock func() time.Time) LoginTokensOption {
	return func(l *loginTokens) {
		if clock != nil {
			l.now = clock
		}
	}
}

func NewLoginTokensRepository(db *bun.DB, opts ...LoginTokensOption) LoginTokens {
	repo := repository.NewRepository[*LoginToken](db, repository.ModelHandlers[*LoginToken]{
		NewRecord: func() *LoginToken { return &LoginToken{} },
		GetID: func(t *LoginToken) uuid.UUID {
			if t == nil {
				return uuid.Nil
			}
			return t.ID
		},
		SetID: func(t *LoginToken, id uuid.UUID) {
			if t != nil {
				t.ID = id
			}
		},
	})

	repoTokens := &loginTokens{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repoTokens)
		}
	}

	return repoTokens
}

func (l *loginTokens) Issue(ctx context.Context, email string, claimedRole UserRole, purpose LoginTokenPurpose, ttl time.Duration) (*LoginToken, error) {
	return l.IssueTx(ctx, l.db, email, claimedRole, purpose, ttl)
}

func (l *loginTokens) IssueTx(ctx context.Context, tx bun.IDB, email string, claimedRole UserRole, purpose LoginTokenPurpose, ttl time.Duration) (*LoginToken, error) {
	expiresAt := l.now().Add(ttl)
	record := &LoginToken{
		ID:          uuid.New(),
		Email:       NormalizeEmail(email),
		ClaimedRole: claimedRole,
		Purpose:     purpose,
		ExpiresAt:   &expiresAt,
	}
	return l.Repository.CreateTx(ctx, tx, record)
}

func (l *loginTokens) Consume(ctx context.Context, id uuid.UUID) (*LoginToken, error) {
	return l.ConsumeTx(ctx, l.db, id)
}

// ConsumeTx atomically marks a token used and returns it. A missing row, a
// replay, or a past time bound all surface as ErrTokenExpired so the caller
// cannot distinguish them.
func (l *loginTokens) ConsumeTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*LoginToken, error) {
	now := l.now()

	res, err := l.Repository.RawTx(ctx, tx, consumeLoginTokenSQL, now, id.String())
	if err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return nil, ErrTokenExpired
	}

	token := res[0]
	if token.Expired(now) {
		return nil, ErrTokenExpired
	}

	return token, nil
}
