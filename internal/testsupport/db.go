package testsupport

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"curator/internal/database"
	"curator/internal/utils"
)

// OpenDB returns a migrated database in a temporary directory, closed when
// the test ends.
func OpenDB(t testing.TB) *sql.DB {
	t.Helper()
	db, err := database.Open(context.Background(), filepath.Join(t.TempDir(), "curator.db"), utils.Discard())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
