// Package store implements the Observability Store (C1, spec §4.1): the
// single source of truth for connections, discovered queries, optimizations,
// applied fixes, feedback, patterns, workload samples, and index
// recommendations. It is a thin, explicit SQL layer over database/sql —
// no ORM — matching the teacher's direct-SQL style in its builtin plugin
// collectors.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sqlopt/engine/internal/apperrors"
	"github.com/sqlopt/engine/internal/common/config"
	"github.com/sqlopt/engine/internal/common/logger"
)

// Store is the SQL-backed Observability Store. A single *Store instance is
// safe for concurrent use; it relies on database/sql's own connection
// pooling and each operation's own transaction for isolation.
type Store struct {
	db     *sql.DB
	driver string
	log    logger.Logger
}

// Open connects to the configured store backend and returns a ready Store.
// Unset or "sqlite" driver uses cfg.DSN as a file path (or ":memory:").
func Open(cfg *config.StoreConfig, log logger.Logger) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}
	sqlDriverName := driver
	if driver == "sqlite" {
		sqlDriverName = "sqlite3"
	}

	db, err := sql.Open(sqlDriverName, cfg.DSN)
	if err != nil {
		return nil, apperrors.WrapFatal(err, "open store backend %q", driver)
	}
	db.SetMaxOpenConns(cfg.ConnectionPoolSize)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.WrapUnavailable(err, "ping store backend %q", driver)
	}

	s := &Store{db: db, driver: driver, log: log.WithField("component", "store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, apperrors.WrapFatal(err, "run store migrations")
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// ph renders a positional placeholder for this backend's driver: "$N" for
// postgres, "?" for sqlite and mysql.
func (s *Store) ph(n int) string {
	if s.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// autoIncrementType returns the driver-appropriate auto-incrementing
// primary key column type used by the migration DDL.
func (s *Store) autoIncrementType() string {
	switch s.driver {
	case "postgres":
		return "BIGSERIAL PRIMARY KEY"
	case "mysql":
		return "BIGINT PRIMARY KEY AUTO_INCREMENT"
	default:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
}
