package store

import (
	"database/sql"

	"github.com/sqlopt/engine/internal/common/logger"
)

// newTestStore wraps an already-open *sql.DB (typically sqlmock) as a Store
// without dialing a real driver or running migrations, so tests can assert
// exact statement shape and scanning behavior against a mock.
func newTestStore(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver, log: logger.NewLogger("store_test")}
}
