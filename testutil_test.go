package auth_test

import (
	"context"
	"database/sql"
	"io/fs"
	"testing"

	auth "github.com/anushkaps/tradehub-sub000"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// setupDB opens an in-memory database and applies the embedded migrations.
func setupDB(t *testing.T) (*bun.DB, func()) {
	t.Helper()

	sqlDB, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqlDB, sqlitedialect.New())

	_, err = bunDB.Exec("PRAGMA foreign_keys = ON;")
	require.NoError(t, err)

	migrations := auth.GetMigrationsFS()
	entries, err := fs.ReadDir(migrations, "data/sql/migrations")
	require.NoError(t, err)

	for _, entry := range entries {
		content, err := fs.ReadFile(migrations, "data/sql/migrations/"+entry.Name())
		require.NoError(t, err)
		_, err = bunDB.Exec(string(content))
		require.NoError(t, err, "migration %s", entry.Name())
	}

	cleanup := func() {
		_ = bunDB.Close()
		_ = sqlDB.Close()
	}

	return bunDB, cleanup
}

func setupRepo(t *testing.T) (auth.RepositoryManager, *bun.DB, func()) {
	t.Helper()
	db, cleanup := setupDB(t)
	return auth.NewRepositoryManager(db), db, cleanup
}

func testConfig() *auth.SimpleConfig {
	return &auth.SimpleConfig{
		SigningKey: "test-signing-key",
		Issuer:     "test-issuer",
		Audience:   []string{"test:audience"},
	}
}

func seedIdentity(t *testing.T, repo auth.RepositoryManager, email string, role auth.UserRole) *auth.Identity {
	t.Helper()
	identity, err := repo.Identities().Create(context.Background(), &auth.Identity{
		Email: email,
		Role:  role,
	})
	require.NoError(t, err)
	return identity
}

// capturingSink collects activity events for assertions.
type capturingSink struct {
	events []auth.ActivityEvent
}

func (c *capturingSink) Record(ctx context.Context, evt auth.ActivityEvent) error {
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) hasEvent(eventType auth.ActivityEventType) bool {
	for _, evt := range c.events {
		if evt.EventType == eventType {
			return true
		}
	}
	return false
}
