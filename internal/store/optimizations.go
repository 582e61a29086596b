package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/sqlopt/engine/internal/apperrors"
	"github.com/sqlopt/engine/internal/model"
)

// optimizationLocks gives every Optimization id an in-process mutex so two
// concurrent status transitions on the same row serialize instead of
// racing; database/sql's own transaction isolation still guards the
// durable state, this only avoids a lost-update read-modify-write on the
// status column from within one process (spec §8 "concurrency
// serialization").
var optimizationLocks sync.Map // map[int64]*sync.Mutex

func lockFor(id int64) *sync.Mutex {
	v, _ := optimizationLocks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// CreateOptimization persists a freshly generated Optimization in
// GENERATED status.
func (s *Store) CreateOptimization(ctx context.Context, o *model.Optimization) (int64, error) {
	o.CreatedAt = time.Now().UTC()
	o.Status = model.StatusGenerated

	recs, _ := json.Marshal(o.GeneralRecommendations)
	issues, _ := json.Marshal(o.DetectedIssues)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO optimizations
			(connection_id, query_id, original_sql, optimized_sql, explanation, general_recommendations,
			 execution_plan_snapshot, estimated_improvement_pct, detected_issues, parsing_strategy, created_at, status)
		VALUES (`+s.ph(1)+`,`+s.ph(2)+`,`+s.ph(3)+`,`+s.ph(4)+`,`+s.ph(5)+`,`+s.ph(6)+`,`+s.ph(7)+`,`+s.ph(8)+`,`+s.ph(9)+`,`+s.ph(10)+`,`+s.ph(11)+`,`+s.ph(12)+`)`,
		o.ConnectionID, o.QueryID, o.OriginalSQL, o.OptimizedSQL, o.Explanation, string(recs),
		o.ExecutionPlanSnapshot, o.EstimatedImprovementPct, string(issues), string(o.ParsingStrategy), o.CreatedAt, string(o.Status))
	if err != nil {
		return 0, apperrors.WrapUnavailable(err, "insert optimization")
	}
	return res.LastInsertId()
}

// GetOptimization fetches one Optimization by id.
func (s *Store) GetOptimization(ctx context.Context, id int64) (*model.Optimization, error) {
	return s.scanOptimizationByID(ctx, s.db, id)
}

func (s *Store) scanOptimizationByID(ctx context.Context, q queryer, id int64) (*model.Optimization, error) {
	var o model.Optimization
	var recs, issues string
	var validation sql.NullString
	var strategy, status string
	var queryID sql.NullInt64
	var appliedAt sql.NullTime

	err := q.QueryRowContext(ctx, `
		SELECT id, connection_id, query_id, original_sql, optimized_sql, explanation, general_recommendations,
		       execution_plan_snapshot, estimated_improvement_pct, detected_issues, validation_result,
		       parsing_strategy, created_at, applied_at, status
		FROM optimizations WHERE id = `+s.ph(1), id).
		Scan(&o.ID, &o.ConnectionID, &queryID, &o.OriginalSQL, &o.OptimizedSQL, &o.Explanation, &recs,
			&o.ExecutionPlanSnapshot, &o.EstimatedImprovementPct, &issues, &validation,
			&strategy, &o.CreatedAt, &appliedAt, &status)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("optimization %d not found", id)
	}
	if err != nil {
		return nil, apperrors.WrapUnavailable(err, "scan optimization %d", id)
	}

	if queryID.Valid {
		o.QueryID = &queryID.Int64
	}
	if appliedAt.Valid {
		t := appliedAt.Time
		o.AppliedAt = &t
	}
	json.Unmarshal([]byte(recs), &o.GeneralRecommendations)
	json.Unmarshal([]byte(issues), &o.DetectedIssues)
	if validation.Valid && validation.String != "" {
		var vr model.ValidationResult
		if err := json.Unmarshal([]byte(validation.String), &vr); err == nil {
			o.ValidationResult = &vr
		}
	}
	o.ParsingStrategy = model.ParsingStrategy(strategy)
	o.Status = model.OptimizationStatus(status)
	return &o, nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// TransitionOptimization atomically moves an Optimization from its current
// status to `to`, rejecting the transition with apperrors.Conflict if it is
// not a legal edge in model.CanTransition (spec §4.6.4). appliedAt is set
// only on a transition into APPLIED; validationResult is persisted only on
// a transition into VALIDATED or VALIDATION_FAILED.
func (s *Store) TransitionOptimization(ctx context.Context, id int64, to model.OptimizationStatus, validationResult *model.ValidationResult) error {
	lock := lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.WrapUnavailable(err, "begin transition transaction")
	}
	defer tx.Rollback()

	current, err := s.scanOptimizationByID(ctx, tx, id)
	if err != nil {
		return err
	}

	if !model.CanTransition(current.Status, to) {
		return apperrors.NewConflict("illegal optimization transition %s -> %s for id %d", current.Status, to, id)
	}

	var args []interface{}
	query := `UPDATE optimizations SET status = ` + s.ph(1)
	args = append(args, string(to))
	next := 2

	if to == model.StatusApplied {
		now := time.Now().UTC()
		query += `, applied_at = ` + s.ph(next)
		args = append(args, now)
		next++
	}
	if validationResult != nil {
		vr, _ := json.Marshal(validationResult)
		query += `, validation_result = ` + s.ph(next)
		args = append(args, string(vr))
		next++
	}
	query += ` WHERE id = ` + s.ph(next)
	args = append(args, id)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return apperrors.WrapUnavailable(err, "update optimization %d status", id)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.WrapUnavailable(err, "commit transition transaction")
	}
	return nil
}

// ListOptimizations returns every recorded optimization across every
// connection, most recent first (spec §6.1 "Dashboard.stats" and
// ".detection_summary" both aggregate over this).
func (s *Store) ListOptimizations(ctx context.Context) ([]*model.Optimization, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM optimizations ORDER BY created_at DESC`)
	if err != nil {
		return nil, apperrors.WrapUnavailable(err, "list optimizations")
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, apperrors.WrapFatal(err, "scan optimization id")
		}
		ids = append(ids, id)
	}
	rows.Close()

	out := make([]*model.Optimization, 0, len(ids))
	for _, id := range ids {
		o, err := s.GetOptimization(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// ListOptimizationsByConnection returns a connection's optimizations, most
// recent first.
func (s *Store) ListOptimizationsByConnection(ctx context.Context, connectionID int64) ([]*model.Optimization, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM optimizations WHERE connection_id = `+s.ph(1)+` ORDER BY created_at DESC`, connectionID)
	if err != nil {
		return nil, apperrors.WrapUnavailable(err, "list optimizations for connection %d", connectionID)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, apperrors.WrapFatal(err, "scan optimization id")
		}
		ids = append(ids, id)
	}
	rows.Close()

	out := make([]*model.Optimization, 0, len(ids))
	for _, id := range ids {
		o, err := s.GetOptimization(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}
