package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sqlopt/engine/internal/apperrors"
	"github.com/sqlopt/engine/internal/model"
)

// RecordIndexRecommendation inserts a new IndexRecommendation in
// RECOMMENDED status, or increments times_referenced if an identical
// (connection, table, columns, action) recommendation already exists.
func (s *Store) RecordIndexRecommendation(ctx context.Context, rec *model.IndexRecommendation) (int64, error) {
	cols, _ := json.Marshal(rec.Columns)

	var existing int64
	var timesReferenced int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, times_referenced FROM index_recommendations
		WHERE connection_id = `+s.ph(1)+` AND table_name = `+s.ph(2)+` AND columns = `+s.ph(3)+` AND action = `+s.ph(4)+`
		  AND status = `+s.ph(5),
		rec.ConnectionID, rec.Table, string(cols), string(rec.Action), string(model.IndexRecommended),
	).Scan(&existing, &timesReferenced)

	switch err {
	case sql.ErrNoRows:
		rec.CreatedAt = time.Now().UTC()
		rec.Status = model.IndexRecommended
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO index_recommendations
				(connection_id, table_name, columns, kind, action, estimated_benefit, times_referenced, status, created_at)
			VALUES (`+s.ph(1)+`,`+s.ph(2)+`,`+s.ph(3)+`,`+s.ph(4)+`,`+s.ph(5)+`,`+s.ph(6)+`,1,`+s.ph(7)+`,`+s.ph(8)+`)`,
			rec.ConnectionID, rec.Table, string(cols), string(rec.Kind), string(rec.Action),
			rec.EstimatedBenefit, string(rec.Status), rec.CreatedAt)
		if err != nil {
			return 0, apperrors.WrapUnavailable(err, "insert index recommendation")
		}
		return res.LastInsertId()
	case nil:
		_, err = s.db.ExecContext(ctx, `UPDATE index_recommendations SET times_referenced = `+s.ph(1)+` WHERE id = `+s.ph(2),
			timesReferenced+1, existing)
		if err != nil {
			return 0, apperrors.WrapUnavailable(err, "bump index recommendation reference count")
		}
		return existing, nil
	default:
		return 0, apperrors.WrapUnavailable(err, "check existing index recommendation")
	}
}

// UpdateIndexRecommendationStatus transitions a recommendation to CREATED,
// DROPPED, or REJECTED and stamps acted_at.
func (s *Store) UpdateIndexRecommendationStatus(ctx context.Context, id int64, status model.IndexRecommendationStatus) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE index_recommendations SET status = `+s.ph(1)+`, acted_at = `+s.ph(2)+` WHERE id = `+s.ph(3),
		string(status), now, id)
	if err != nil {
		return apperrors.WrapUnavailable(err, "update index recommendation %d", id)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperrors.NewNotFound("index recommendation %d not found", id)
	}
	return nil
}

// ListIndexRecommendations returns a connection's recommendations ordered
// by estimated_benefit descending.
func (s *Store) ListIndexRecommendations(ctx context.Context, connectionID int64) ([]*model.IndexRecommendation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, connection_id, table_name, columns, kind, action, estimated_benefit, times_referenced, status, created_at, acted_at
		FROM index_recommendations WHERE connection_id = `+s.ph(1)+` ORDER BY estimated_benefit DESC`, connectionID)
	if err != nil {
		return nil, apperrors.WrapUnavailable(err, "list index recommendations for connection %d", connectionID)
	}
	defer rows.Close()

	var out []*model.IndexRecommendation
	for rows.Next() {
		var r model.IndexRecommendation
		var cols, kind, action, status string
		var actedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.ConnectionID, &r.Table, &cols, &kind, &action, &r.EstimatedBenefit,
			&r.TimesReferenced, &status, &r.CreatedAt, &actedAt); err != nil {
			return nil, apperrors.WrapFatal(err, "scan index recommendation row")
		}
		json.Unmarshal([]byte(cols), &r.Columns)
		r.Kind = model.IndexKind(kind)
		r.Action = model.IndexAction(action)
		r.Status = model.IndexRecommendationStatus(status)
		if actedAt.Valid {
			t := actedAt.Time
			r.ActedAt = &t
		}
		out = append(out, &r)
	}
	return out, nil
}
