// Package gateway defines the engine-agnostic boundary through which the
// optimization engine talks to a target database: connectivity, catalog
// introspection, workload sampling, plan capture, and controlled execution
// (spec §4.2). Concrete implementations live one per supported engine.
package gateway

import (
	"context"
	"time"

	"github.com/sqlopt/engine/internal/model"
)

// ColumnDef is one column of a table's schema_ddl introspection result.
type ColumnDef struct {
	Name     string
	DataType string
	Nullable bool
}

// TableSchema is the DDL-shape introspection result for a single table
// (spec §4.2 "Catalog introspection").
type TableSchema struct {
	Table   string
	Columns []ColumnDef
	Indexes []model.ExistingIndex
}

// PlanCaptureResult is what the gateway returns after running EXPLAIN (with
// ANALYZE when permitted) inside a transaction that is always rolled back,
// never committed (spec §4.2 "Plan capture").
type PlanCaptureResult struct {
	Plan       *model.Plan
	RawJSON    string
	UsedAnalyze bool
}

// Gateway is the capability surface every engine adapter implements. All
// methods are safe to call concurrently; calls for the same ConnectionID
// share that connection's pooled *sql.DB and are not serialized.
type Gateway interface {
	// Engine identifies which model.Engine this adapter serves.
	Engine() model.Engine

	// Open establishes (or reuses) a pooled connection for a Connection's
	// decrypted credentials. Implementations must not log the credentials.
	Open(ctx context.Context, conn *model.Connection, creds model.DecryptedCredentials) error

	// TestConnection performs a lightweight round-trip (e.g. SELECT 1) to
	// confirm a connection is reachable.
	TestConnection(ctx context.Context, connectionID int64) error

	// Close releases pooled resources for a connection.
	Close(ctx context.Context, connectionID int64) error

	// SchemaDDL introspects the named tables; an empty list introspects
	// every table visible to the credentials in use.
	SchemaDDL(ctx context.Context, connectionID int64, tables []string) ([]TableSchema, error)

	// TopQueries reads the engine's performance view (e.g.
	// pg_stat_statements) for the top queries by total time since the last
	// reset, up to limit rows. Returns apperrors.Capability when the view
	// is unavailable.
	TopQueries(ctx context.Context, connectionID int64, limit int) ([]model.RawSample, error)

	// CapturePlan runs EXPLAIN (and ANALYZE when analyze is true) for sql
	// inside a transaction that is rolled back unconditionally, regardless
	// of outcome.
	CapturePlan(ctx context.Context, connectionID int64, sql string, analyze bool) (*PlanCaptureResult, error)

	// ExecuteDDL runs a single DDL statement outside any transaction
	// (engines that require DDL autocommit) and returns how long it took.
	ExecuteDDL(ctx context.Context, connectionID int64, ddl string) (time.Duration, error)

	// ExecuteInTx runs fn inside a transaction and always rolls it back,
	// regardless of fn's outcome; used for safe measurement and dry runs.
	ExecuteInTx(ctx context.Context, connectionID int64, fn func(ctx context.Context, tx Tx) error) error

	// ExistingIndexes lists indexes already present on table.
	ExistingIndexes(ctx context.Context, connectionID int64, table string) ([]model.ExistingIndex, error)
}

// Tx is the narrow transaction surface exposed to ExecuteInTx callbacks so
// callers never see the underlying *sql.Tx / driver type.
type Tx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) error
	QueryRowContext(ctx context.Context, query string, args ...interface{}) Row
}

// Row mirrors the one method of *sql.Row that callers need, so Tx doesn't
// leak database/sql.
type Row interface {
	Scan(dest ...interface{}) error
}
