package testutil

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/edmm/storage/database"
)

// OpenDB returns a migrated in-memory sqlite database, closed with the test.
func OpenDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = database.Migrate(context.Background(), db)
	require.NoError(t, err)
	return db
}
