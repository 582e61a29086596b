package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sqlopt/engine/internal/apperrors"
	"github.com/sqlopt/engine/internal/model"
)

// RecordFeedback persists an operator's ground-truth verdict after applying
// an optimization (spec §4.7). AccuracyScore and ActualImprovementPct are
// expected to already be computed by the caller (internal/feedback owns
// that arithmetic); this layer only persists.
func (s *Store) RecordFeedback(ctx context.Context, f *model.Feedback) (int64, error) {
	before, _ := json.Marshal(f.BeforeMetrics)
	after, _ := json.Marshal(f.AfterMetrics)
	f.MeasuredAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback
			(optimization_id, before_metrics, after_metrics, actual_improvement_pct, estimated_improvement_pct,
			 accuracy_score, operator_rating, operator_comment, status, applied_at, measured_at)
		VALUES (`+s.ph(1)+`,`+s.ph(2)+`,`+s.ph(3)+`,`+s.ph(4)+`,`+s.ph(5)+`,`+s.ph(6)+`,`+s.ph(7)+`,`+s.ph(8)+`,`+s.ph(9)+`,`+s.ph(10)+`,`+s.ph(11)+`)`,
		f.OptimizationID, string(before), string(after), f.ActualImprovementPct, f.EstimatedImprovementPct,
		f.AccuracyScore, f.OperatorRating, f.OperatorComment, string(f.Status), f.AppliedAt, f.MeasuredAt)
	if err != nil {
		return 0, apperrors.WrapUnavailable(err, "insert feedback")
	}
	return res.LastInsertId()
}

// ListFeedback returns every feedback row, optionally restricted to
// optimizations against one connection, newest first (spec §6.1
// "Feedback.stats(connection_id?)").
func (s *Store) ListFeedback(ctx context.Context, connectionID *int64) ([]*model.Feedback, error) {
	query := `
		SELECT f.id, f.optimization_id, f.before_metrics, f.after_metrics, f.actual_improvement_pct,
		       f.estimated_improvement_pct, f.accuracy_score, f.operator_rating, f.operator_comment,
		       f.status, f.applied_at, f.measured_at
		FROM feedback f`
	var args []interface{}
	if connectionID != nil {
		query += ` JOIN optimizations o ON o.id = f.optimization_id WHERE o.connection_id = ` + s.ph(1)
		args = append(args, *connectionID)
	}
	query += ` ORDER BY f.measured_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.WrapUnavailable(err, "list feedback")
	}
	defer rows.Close()
	return scanFeedbackRows(rows)
}

// ListFeedbackByOptimization returns every feedback row recorded for one
// optimization, oldest first.
func (s *Store) ListFeedbackByOptimization(ctx context.Context, optimizationID int64) ([]*model.Feedback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, optimization_id, before_metrics, after_metrics, actual_improvement_pct, estimated_improvement_pct,
		       accuracy_score, operator_rating, operator_comment, status, applied_at, measured_at
		FROM feedback WHERE optimization_id = `+s.ph(1)+` ORDER BY measured_at ASC`, optimizationID)
	if err != nil {
		return nil, apperrors.WrapUnavailable(err, "list feedback for optimization %d", optimizationID)
	}
	defer rows.Close()
	return scanFeedbackRows(rows)
}

func scanFeedbackRows(rows *sql.Rows) ([]*model.Feedback, error) {
	var out []*model.Feedback
	for rows.Next() {
		var f model.Feedback
		var before, after, status string
		var rating sql.NullInt64
		if err := rows.Scan(&f.ID, &f.OptimizationID, &before, &after, &f.ActualImprovementPct, &f.EstimatedImprovementPct,
			&f.AccuracyScore, &rating, &f.OperatorComment, &status, &f.AppliedAt, &f.MeasuredAt); err != nil {
			return nil, apperrors.WrapFatal(err, "scan feedback row")
		}
		json.Unmarshal([]byte(before), &f.BeforeMetrics)
		json.Unmarshal([]byte(after), &f.AfterMetrics)
		if rating.Valid {
			v := int(rating.Int64)
			f.OperatorRating = &v
		}
		f.Status = model.FeedbackStatus(status)
		out = append(out, &f)
	}
	return out, nil
}
