package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sqlopt/engine/internal/apperrors"
	"github.com/sqlopt/engine/internal/model"
)

// CreateAppliedFix persists a freshly prepared AppliedFix row.
func (s *Store) CreateAppliedFix(ctx context.Context, f *model.AppliedFix) (int64, error) {
	safety, _ := json.Marshal(f.SafetyCheck)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO applied_fixes
			(optimization_id, fix_type, forward_sql, rollback_sql, status, execution_time_sec, safety_check, applied_at, reverted_at)
		VALUES (`+s.ph(1)+`,`+s.ph(2)+`,`+s.ph(3)+`,`+s.ph(4)+`,`+s.ph(5)+`,`+s.ph(6)+`,`+s.ph(7)+`,`+s.ph(8)+`,`+s.ph(9)+`)`,
		f.OptimizationID, string(f.FixType), f.ForwardSQL, f.RollbackSQL, string(f.Status),
		f.ExecutionTimeSec, string(safety), f.AppliedAt, f.RevertedAt)
	if err != nil {
		return 0, apperrors.WrapUnavailable(err, "insert applied fix")
	}
	return res.LastInsertId()
}

// GetAppliedFix fetches one AppliedFix by id.
func (s *Store) GetAppliedFix(ctx context.Context, id int64) (*model.AppliedFix, error) {
	return s.scanAppliedFixByID(ctx, s.db, id)
}

func (s *Store) scanAppliedFixByID(ctx context.Context, q queryer, id int64) (*model.AppliedFix, error) {
	var f model.AppliedFix
	var fixType, status string
	var safety sql.NullString
	var appliedAt, revertedAt sql.NullTime

	err := q.QueryRowContext(ctx, `
		SELECT id, optimization_id, fix_type, forward_sql, rollback_sql, status,
		       execution_time_sec, safety_check, applied_at, reverted_at
		FROM applied_fixes WHERE id = `+s.ph(1), id).
		Scan(&f.ID, &f.OptimizationID, &fixType, &f.ForwardSQL, &f.RollbackSQL, &status,
			&f.ExecutionTimeSec, &safety, &appliedAt, &revertedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("applied fix %d not found", id)
	}
	if err != nil {
		return nil, apperrors.WrapUnavailable(err, "scan applied fix %d", id)
	}

	f.FixType = model.FixType(fixType)
	f.Status = model.FixStatus(status)
	if safety.Valid && safety.String != "" {
		var rec model.SafetyCheckRecord
		if err := json.Unmarshal([]byte(safety.String), &rec); err == nil {
			f.SafetyCheck = &rec
		}
	}
	if appliedAt.Valid {
		t := appliedAt.Time
		f.AppliedAt = &t
	}
	if revertedAt.Valid {
		t := revertedAt.Time
		f.RevertedAt = &t
	}
	return &f, nil
}

// UpdateAppliedFixStatus transitions an AppliedFix's status, stamping
// applied_at/reverted_at as appropriate (spec §4.6.1/§4.6.3).
func (s *Store) UpdateAppliedFixStatus(ctx context.Context, id int64, status model.FixStatus) error {
	now := time.Now().UTC()
	var query string
	var args []interface{}

	switch status {
	case model.FixApplied:
		query = `UPDATE applied_fixes SET status = ` + s.ph(1) + `, applied_at = ` + s.ph(2) + ` WHERE id = ` + s.ph(3)
		args = []interface{}{string(status), now, id}
	case model.FixReverted:
		query = `UPDATE applied_fixes SET status = ` + s.ph(1) + `, reverted_at = ` + s.ph(2) + ` WHERE id = ` + s.ph(3)
		args = []interface{}{string(status), now, id}
	default:
		query = `UPDATE applied_fixes SET status = ` + s.ph(1) + ` WHERE id = ` + s.ph(2)
		args = []interface{}{string(status), id}
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return apperrors.WrapUnavailable(err, "update applied fix %d status", id)
	}
	return nil
}

// ListAppliedFixesByOptimization returns every fix recorded against one
// optimization, oldest first.
func (s *Store) ListAppliedFixesByOptimization(ctx context.Context, optimizationID int64) ([]*model.AppliedFix, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM applied_fixes WHERE optimization_id = `+s.ph(1)+` ORDER BY id ASC`, optimizationID)
	if err != nil {
		return nil, apperrors.WrapUnavailable(err, "list applied fixes for optimization %d", optimizationID)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, apperrors.WrapFatal(err, "scan applied fix id")
		}
		ids = append(ids, id)
	}
	rows.Close()

	out := make([]*model.AppliedFix, 0, len(ids))
	for _, id := range ids {
		f, err := s.GetAppliedFix(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
