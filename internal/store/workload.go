package store

import (
	"context"
	"database/sql"

	"github.com/sqlopt/engine/internal/apperrors"
	"github.com/sqlopt/engine/internal/model"
)

// RecordWorkloadSample upserts one hour-bucketed WorkloadSample for a
// connection (spec §3 "WorkloadSample"); (connection_id, bucket_start) is
// unique, so a repeated poll within the same bucket overwrites rather than
// duplicates.
func (s *Store) RecordWorkloadSample(ctx context.Context, sample *model.WorkloadSample) error {
	var existing int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM workload_samples WHERE connection_id = `+s.ph(1)+` AND bucket_start = `+s.ph(2),
		sample.ConnectionID, sample.BucketStart).Scan(&existing)

	switch err {
	case sql.ErrNoRows:
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO workload_samples (connection_id, bucket_start, total_queries, slow_queries, mean_exec_ms, workload_class, degraded)
			VALUES (`+s.ph(1)+`,`+s.ph(2)+`,`+s.ph(3)+`,`+s.ph(4)+`,`+s.ph(5)+`,`+s.ph(6)+`,`+s.ph(7)+`)`,
			sample.ConnectionID, sample.BucketStart, sample.TotalQueries, sample.SlowQueries,
			sample.MeanExecMs, string(sample.WorkloadClass), sample.Degraded)
	case nil:
		_, err = s.db.ExecContext(ctx, `
			UPDATE workload_samples SET total_queries = `+s.ph(1)+`, slow_queries = `+s.ph(2)+`,
				mean_exec_ms = `+s.ph(3)+`, workload_class = `+s.ph(4)+`, degraded = `+s.ph(5)+`
			WHERE id = `+s.ph(6),
			sample.TotalQueries, sample.SlowQueries, sample.MeanExecMs, string(sample.WorkloadClass), sample.Degraded, existing)
	default:
		return apperrors.WrapUnavailable(err, "check existing workload sample")
	}
	if err != nil {
		return apperrors.WrapUnavailable(err, "persist workload sample")
	}
	return nil
}

// ListWorkloadSamples returns a connection's samples ordered by
// bucket_start ascending, up to limit most recent buckets (0 = unlimited).
func (s *Store) ListWorkloadSamples(ctx context.Context, connectionID int64, limit int) ([]*model.WorkloadSample, error) {
	query := `
		SELECT connection_id, bucket_start, total_queries, slow_queries, mean_exec_ms, workload_class, degraded
		FROM workload_samples WHERE connection_id = ` + s.ph(1) + ` ORDER BY bucket_start DESC`
	args := []interface{}{connectionID}
	if limit > 0 {
		query += ` LIMIT ` + s.ph(2)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.WrapUnavailable(err, "list workload samples for connection %d", connectionID)
	}
	defer rows.Close()

	var out []*model.WorkloadSample
	for rows.Next() {
		var w model.WorkloadSample
		var class string
		if err := rows.Scan(&w.ConnectionID, &w.BucketStart, &w.TotalQueries, &w.SlowQueries, &w.MeanExecMs, &class, &w.Degraded); err != nil {
			return nil, apperrors.WrapFatal(err, "scan workload sample row")
		}
		w.WorkloadClass = model.WorkloadClass(class)
		out = append(out, &w)
	}
	// reverse to ascending order so callers see oldest-first time series
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
