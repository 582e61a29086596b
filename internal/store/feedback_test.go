package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlopt/engine/internal/model"
)

func TestRecordFeedback_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := newTestStore(db, "sqlite")

	mock.ExpectExec(`INSERT INTO feedback`).WillReturnResult(sqlmock.NewResult(3, 1))

	id, err := s.RecordFeedback(context.Background(), &model.Feedback{
		OptimizationID:          1,
		ActualImprovementPct:    42,
		EstimatedImprovementPct: 38,
		AccuracyScore:           0.9,
		Status:                  model.FeedbackSuccess,
		AppliedAt:               time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListFeedback_NoConnectionFilterOmitsJoin(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := newTestStore(db, "sqlite")

	rows := sqlmock.NewRows([]string{
		"id", "optimization_id", "before_metrics", "after_metrics", "actual_improvement_pct",
		"estimated_improvement_pct", "accuracy_score", "operator_rating", "operator_comment",
		"status", "applied_at", "measured_at",
	}).AddRow(1, 10, "{}", "{}", 40.0, 35.0, 0.9, nil, "", "SUCCESS", time.Now(), time.Now())

	mock.ExpectQuery(`FROM feedback f ORDER BY f\.measured_at DESC`).WillReturnRows(rows)

	out, err := s.ListFeedback(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(1), out[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListFeedback_ConnectionFilterJoinsOptimizations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := newTestStore(db, "sqlite")

	rows := sqlmock.NewRows([]string{
		"id", "optimization_id", "before_metrics", "after_metrics", "actual_improvement_pct",
		"estimated_improvement_pct", "accuracy_score", "operator_rating", "operator_comment",
		"status", "applied_at", "measured_at",
	})

	mock.ExpectQuery(`FROM feedback f JOIN optimizations o ON o\.id = f\.optimization_id WHERE o\.connection_id = `).
		WithArgs(int64(5)).
		WillReturnRows(rows)

	connID := int64(5)
	out, err := s.ListFeedback(context.Background(), &connID)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListFeedbackByOptimization_OrdersOldestFirst(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := newTestStore(db, "sqlite")

	rows := sqlmock.NewRows([]string{
		"id", "optimization_id", "before_metrics", "after_metrics", "actual_improvement_pct",
		"estimated_improvement_pct", "accuracy_score", "operator_rating", "operator_comment",
		"status", "applied_at", "measured_at",
	}).
		AddRow(1, 9, "{}", "{}", 40.0, 35.0, 0.9, nil, "", "SUCCESS", time.Now(), time.Now()).
		AddRow(2, 9, "{}", "{}", 10.0, 35.0, 0.3, 4, "looked fine", "PARTIAL", time.Now(), time.Now())

	mock.ExpectQuery(`FROM feedback WHERE optimization_id = `).
		WithArgs(int64(9)).
		WillReturnRows(rows)

	out, err := s.ListFeedbackByOptimization(context.Background(), 9)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(1), out[0].ID)
	assert.Equal(t, int64(2), out[1].ID)
	require.NotNil(t, out[1].OperatorRating)
	assert.Equal(t, 4, *out[1].OperatorRating)
	assert.NoError(t, mock.ExpectationsWereMet())
}
