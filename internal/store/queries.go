package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/sqlopt/engine/internal/apperrors"
	"github.com/sqlopt/engine/internal/model"
)

// UpsertQuery merges one polled RawSample into a connection's
// DiscoveredQuery lifetime counters (spec §4.3 "upsert_query"). Counters
// are monotonic across polls; if the incoming cumulative counters are
// smaller than what is on record, the source has reset (e.g.
// pg_stat_statements was reset or evicted) and the row rebaselines from the
// current sample rather than spawning a new row (spec §9 open question #1).
func (s *Store) UpsertQuery(ctx context.Context, connectionID int64, fingerprint, normalizedSQL string, sample model.RawSample) (*model.DiscoveredQuery, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.WrapUnavailable(err, "begin upsert-query transaction")
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var existing model.DiscoveredQuery
	row := tx.QueryRowContext(ctx, `
		SELECT id, first_seen, lifetime_calls, lifetime_total_exec_ms, lifetime_rows, reset_count
		FROM discovered_queries
		WHERE connection_id = `+s.ph(1)+` AND fingerprint = `+s.ph(2), connectionID, fingerprint)

	scanErr := row.Scan(&existing.ID, &existing.FirstSeen, &existing.LifetimeCalls, &existing.LifetimeTotalExecMs, &existing.LifetimeRows, &existing.ResetCount)
	switch scanErr {
	case sql.ErrNoRows:
		res, err := tx.ExecContext(ctx, `
			INSERT INTO discovered_queries
				(connection_id, fingerprint, sample_sql, normalized_sql, first_seen, last_seen,
				 lifetime_calls, lifetime_total_exec_ms, lifetime_rows, source_query_id, reset_count)
			VALUES (`+s.ph(1)+`, `+s.ph(2)+`, `+s.ph(3)+`, `+s.ph(4)+`, `+s.ph(5)+`, `+s.ph(6)+`, `+s.ph(7)+`, `+s.ph(8)+`, `+s.ph(9)+`, `+s.ph(10)+`, 0)`,
			connectionID, fingerprint, sample.SQL, normalizedSQL, now, now,
			sample.Calls, sample.TotalExecMs, sample.Rows, sample.SourceQueryID)
		if err != nil {
			return nil, apperrors.WrapUnavailable(err, "insert discovered query")
		}
		id, _ := res.LastInsertId()
		if err := tx.Commit(); err != nil {
			return nil, apperrors.WrapUnavailable(err, "commit upsert-query transaction")
		}
		return &model.DiscoveredQuery{
			ID: id, ConnectionID: connectionID, Fingerprint: fingerprint, SampleSQL: sample.SQL,
			NormalizedSQL: normalizedSQL, FirstSeen: now, LastSeen: now,
			LifetimeCalls: sample.Calls, LifetimeTotalExecMs: sample.TotalExecMs, LifetimeRows: sample.Rows,
			SourceQueryID: sample.SourceQueryID,
		}, nil
	case nil:
		reset := sample.Calls < existing.LifetimeCalls
		newCalls := sample.Calls
		newTotalExecMs := sample.TotalExecMs
		newRows := sample.Rows
		resetCount := existing.ResetCount
		if !reset {
			newCalls += existing.LifetimeCalls
			newTotalExecMs += existing.LifetimeTotalExecMs
			newRows += existing.LifetimeRows
		} else {
			resetCount++
		}

		_, err := tx.ExecContext(ctx, `
			UPDATE discovered_queries SET
				sample_sql = `+s.ph(1)+`, normalized_sql = `+s.ph(2)+`, last_seen = `+s.ph(3)+`,
				lifetime_calls = `+s.ph(4)+`, lifetime_total_exec_ms = `+s.ph(5)+`, lifetime_rows = `+s.ph(6)+`,
				source_query_id = `+s.ph(7)+`, reset_count = `+s.ph(8)+`
			WHERE id = `+s.ph(9),
			sample.SQL, normalizedSQL, now, newCalls, newTotalExecMs, newRows, sample.SourceQueryID, resetCount, existing.ID)
		if err != nil {
			return nil, apperrors.WrapUnavailable(err, "update discovered query %d", existing.ID)
		}
		if err := tx.Commit(); err != nil {
			return nil, apperrors.WrapUnavailable(err, "commit upsert-query transaction")
		}
		return &model.DiscoveredQuery{
			ID: existing.ID, ConnectionID: connectionID, Fingerprint: fingerprint, SampleSQL: sample.SQL,
			NormalizedSQL: normalizedSQL, FirstSeen: existing.FirstSeen, LastSeen: now,
			LifetimeCalls: newCalls, LifetimeTotalExecMs: newTotalExecMs, LifetimeRows: newRows,
			SourceQueryID: sample.SourceQueryID, ResetCount: resetCount,
		}, nil
	default:
		return nil, apperrors.WrapUnavailable(scanErr, "scan existing discovered query")
	}
}

// GetQuery fetches one DiscoveredQuery by id.
func (s *Store) GetQuery(ctx context.Context, id int64) (*model.DiscoveredQuery, error) {
	var q model.DiscoveredQuery
	err := s.db.QueryRowContext(ctx, `
		SELECT id, connection_id, fingerprint, sample_sql, normalized_sql, first_seen, last_seen,
		       lifetime_calls, lifetime_total_exec_ms, lifetime_rows, source_query_id, reset_count
		FROM discovered_queries WHERE id = `+s.ph(1), id).
		Scan(&q.ID, &q.ConnectionID, &q.Fingerprint, &q.SampleSQL, &q.NormalizedSQL, &q.FirstSeen, &q.LastSeen,
			&q.LifetimeCalls, &q.LifetimeTotalExecMs, &q.LifetimeRows, &q.SourceQueryID, &q.ResetCount)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("discovered query %d not found", id)
	}
	if err != nil {
		return nil, apperrors.WrapUnavailable(err, "scan discovered query %d", id)
	}
	return &q, nil
}

// CountDiscoveredQueries returns the total number of DiscoveredQuery rows
// across every connection (spec §6.1 "Dashboard.stats"
// total_queries_discovered).
func (s *Store) CountDiscoveredQueries(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM discovered_queries`).Scan(&n); err != nil {
		return 0, apperrors.WrapUnavailable(err, "count discovered queries")
	}
	return n, nil
}

// ListTopQueries returns the DiscoveredQuery rows with the highest lifetime
// total execution time across every connection, up to limit (spec §6.1
// "Dashboard.top_queries(limit)").
func (s *Store) ListTopQueries(ctx context.Context, limit int) ([]*model.DiscoveredQuery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, connection_id, fingerprint, sample_sql, normalized_sql, first_seen, last_seen,
		       lifetime_calls, lifetime_total_exec_ms, lifetime_rows, source_query_id, reset_count
		FROM discovered_queries ORDER BY lifetime_total_exec_ms DESC LIMIT `+s.ph(1), limit)
	if err != nil {
		return nil, apperrors.WrapUnavailable(err, "list top queries")
	}
	defer rows.Close()

	var out []*model.DiscoveredQuery
	for rows.Next() {
		var q model.DiscoveredQuery
		if err := rows.Scan(&q.ID, &q.ConnectionID, &q.Fingerprint, &q.SampleSQL, &q.NormalizedSQL, &q.FirstSeen, &q.LastSeen,
			&q.LifetimeCalls, &q.LifetimeTotalExecMs, &q.LifetimeRows, &q.SourceQueryID, &q.ResetCount); err != nil {
			return nil, apperrors.WrapFatal(err, "scan discovered query row")
		}
		out = append(out, &q)
	}
	return out, nil
}

// ListTopQueriesByConnection returns a connection's DiscoveredQuery rows
// ordered by lifetime total execution time, descending, up to limit.
func (s *Store) ListTopQueriesByConnection(ctx context.Context, connectionID int64, limit int) ([]*model.DiscoveredQuery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, connection_id, fingerprint, sample_sql, normalized_sql, first_seen, last_seen,
		       lifetime_calls, lifetime_total_exec_ms, lifetime_rows, source_query_id, reset_count
		FROM discovered_queries WHERE connection_id = `+s.ph(1)+`
		ORDER BY lifetime_total_exec_ms DESC LIMIT `+s.ph(2), connectionID, limit)
	if err != nil {
		return nil, apperrors.WrapUnavailable(err, "list top queries for connection %d", connectionID)
	}
	defer rows.Close()

	var out []*model.DiscoveredQuery
	for rows.Next() {
		var q model.DiscoveredQuery
		if err := rows.Scan(&q.ID, &q.ConnectionID, &q.Fingerprint, &q.SampleSQL, &q.NormalizedSQL, &q.FirstSeen, &q.LastSeen,
			&q.LifetimeCalls, &q.LifetimeTotalExecMs, &q.LifetimeRows, &q.SourceQueryID, &q.ResetCount); err != nil {
			return nil, apperrors.WrapFatal(err, "scan discovered query row")
		}
		out = append(out, &q)
	}
	return out, nil
}
