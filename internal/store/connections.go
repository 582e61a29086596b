package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/sqlopt/engine/internal/apperrors"
	"github.com/sqlopt/engine/internal/model"
)

// CreateConnection inserts a new Connection, enforcing the uniqueness of
// (engine, host, port, database, username) among non-deleted rows at the
// database level via a pre-check (portable across sqlite/postgres/mysql
// without relying on a partial-unique-index syntax all three share).
func (s *Store) CreateConnection(ctx context.Context, conn *model.Connection) (int64, error) {
	var existing int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM connections
		WHERE engine = `+s.ph(1)+` AND host = `+s.ph(2)+` AND port = `+s.ph(3)+`
		  AND database_name = `+s.ph(4)+` AND username = `+s.ph(5)+` AND deleted_at IS NULL`,
		conn.Engine.String(), conn.Host, conn.Port, conn.Database, conn.Username,
	).Scan(&existing)
	if err == nil {
		return 0, apperrors.NewConflict("connection with the same engine/host/port/database/username already exists (id %d)", existing)
	}
	if err != sql.ErrNoRows {
		return 0, apperrors.WrapUnavailable(err, "check connection uniqueness")
	}

	conn.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO connections
			(display_name, engine, host, port, database_name, username, encrypted_password, tls_enabled, monitoring_enabled, created_at)
		VALUES (`+s.ph(1)+`, `+s.ph(2)+`, `+s.ph(3)+`, `+s.ph(4)+`, `+s.ph(5)+`, `+s.ph(6)+`, `+s.ph(7)+`, `+s.ph(8)+`, `+s.ph(9)+`, `+s.ph(10)+`)`,
		conn.DisplayName, conn.Engine.String(), conn.Host, conn.Port, conn.Database,
		conn.Username, conn.EncryptedPassword, conn.TLSEnabled, conn.MonitoringEnabled, conn.CreatedAt,
	)
	if err != nil {
		return 0, apperrors.WrapUnavailable(err, "insert connection")
	}
	return res.LastInsertId()
}

// GetConnection fetches a single non-deleted connection by id.
func (s *Store) GetConnection(ctx context.Context, id int64) (*model.Connection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, engine, host, port, database_name, username,
		       encrypted_password, tls_enabled, monitoring_enabled, created_at, deleted_at
		FROM connections WHERE id = `+s.ph(1)+` AND deleted_at IS NULL`, id)
	return scanConnection(row)
}

// ListConnections returns every non-deleted connection, ordered by id.
func (s *Store) ListConnections(ctx context.Context) ([]*model.Connection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, engine, host, port, database_name, username,
		       encrypted_password, tls_enabled, monitoring_enabled, created_at, deleted_at
		FROM connections WHERE deleted_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, apperrors.WrapUnavailable(err, "list connections")
	}
	defer rows.Close()

	var out []*model.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// UpdateConnection overwrites a connection's mutable fields (display name,
// host/port/credentials, TLS and monitoring flags). Engine and the
// uniqueness tuple it participates in are immutable after creation; callers
// that need to change them must delete and recreate the connection.
func (s *Store) UpdateConnection(ctx context.Context, conn *model.Connection) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE connections SET
			display_name = `+s.ph(1)+`, host = `+s.ph(2)+`, port = `+s.ph(3)+`,
			database_name = `+s.ph(4)+`, username = `+s.ph(5)+`, encrypted_password = `+s.ph(6)+`,
			tls_enabled = `+s.ph(7)+`, monitoring_enabled = `+s.ph(8)+`
		WHERE id = `+s.ph(9)+` AND deleted_at IS NULL`,
		conn.DisplayName, conn.Host, conn.Port, conn.Database, conn.Username, conn.EncryptedPassword,
		conn.TLSEnabled, conn.MonitoringEnabled, conn.ID,
	)
	if err != nil {
		return apperrors.WrapUnavailable(err, "update connection %d", conn.ID)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperrors.NewNotFound("connection %d not found", conn.ID)
	}
	return nil
}

// DeleteConnection soft-deletes a connection and cascades deletion to every
// row that references it (spec §3 "cascade-delete-on-connection-delete").
func (s *Store) DeleteConnection(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.WrapUnavailable(err, "begin delete-connection transaction")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `UPDATE connections SET deleted_at = `+s.ph(1)+` WHERE id = `+s.ph(2)+` AND deleted_at IS NULL`, now, id)
	if err != nil {
		return apperrors.WrapUnavailable(err, "soft-delete connection %d", id)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperrors.NewNotFound("connection %d not found", id)
	}

	cascades := []string{
		`DELETE FROM discovered_queries WHERE connection_id = ` + s.ph(1),
		`DELETE FROM workload_samples WHERE connection_id = ` + s.ph(1),
		`DELETE FROM index_recommendations WHERE connection_id = ` + s.ph(1),
		`DELETE FROM optimizations WHERE connection_id = ` + s.ph(1),
	}
	for _, stmt := range cascades {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return apperrors.WrapUnavailable(err, "cascade delete for connection %d", id)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.WrapUnavailable(err, "commit delete-connection transaction")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConnection(row rowScanner) (*model.Connection, error) {
	var c model.Connection
	var engine string
	var deletedAt sql.NullTime
	err := row.Scan(&c.ID, &c.DisplayName, &engine, &c.Host, &c.Port, &c.Database, &c.Username,
		&c.EncryptedPassword, &c.TLSEnabled, &c.MonitoringEnabled, &c.CreatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("connection not found")
	}
	if err != nil {
		return nil, apperrors.WrapUnavailable(err, "scan connection")
	}
	e, ok := model.ParseEngine(engine)
	if !ok {
		return nil, apperrors.WrapFatal(nil, "unknown engine %q stored for connection %d", engine, c.ID)
	}
	c.Engine = e
	if deletedAt.Valid {
		t := deletedAt.Time
		c.DeletedAt = &t
	}
	return &c, nil
}
