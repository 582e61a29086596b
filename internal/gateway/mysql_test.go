package gateway

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlopt/engine/internal/apperrors"
	"github.com/sqlopt/engine/internal/common/logger"
)

func TestMySQLGateway_TopQueries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	pool := NewPool(logger.NewLogger("test"))
	pool.Put(1, db)
	gw := NewMySQLGateway(pool, logger.NewLogger("test"))

	mock.ExpectQuery(`SELECT digest_text, count_star, sum_timer_wait`).
		WillReturnRows(sqlmock.NewRows([]string{"digest_text", "count_star", "sum_timer_wait", "sum_rows_sent", "digest"}).
			AddRow("SELECT * FROM orders WHERE id = ?", 20, 1.5, 20, "abc123"))

	samples, err := gw.TopQueries(context.Background(), 1, 5)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, int64(20), samples[0].Calls)
	assert.Equal(t, float64(-1), samples[0].BufferHitRatio)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLGateway_TopQueries_CapabilityUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	pool := NewPool(logger.NewLogger("test"))
	pool.Put(1, db)
	gw := NewMySQLGateway(pool, logger.NewLogger("test"))

	mock.ExpectQuery(`SELECT digest_text, count_star`).WillReturnError(assert.AnError)

	_, err = gw.TopQueries(context.Background(), 1, 5)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.Capability))
}

func TestMySQLGateway_CapturePlan(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	pool := NewPool(logger.NewLogger("test"))
	pool.Put(1, db)
	gw := NewMySQLGateway(pool, logger.NewLogger("test"))

	planJSON := `{"query_block": {"cost_info": {"query_cost": "12.50"}, "table": {"table_name": "orders", "access_type": "ALL", "cost_info": {"query_cost": "12.50"}, "rows_examined_per_scan": 100}}}`

	mock.ExpectBegin()
	mock.ExpectQuery(`EXPLAIN FORMAT=JSON`).
		WillReturnRows(sqlmock.NewRows([]string{"EXPLAIN"}).AddRow(planJSON))
	mock.ExpectRollback()

	result, err := gw.CapturePlan(context.Background(), 1, "SELECT * FROM orders", false)
	require.NoError(t, err)
	require.NotNil(t, result.Plan)
	assert.Equal(t, "orders", result.Plan.Root.Relation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLGateway_ExistingIndexes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	pool := NewPool(logger.NewLogger("test"))
	pool.Put(1, db)
	gw := NewMySQLGateway(pool, logger.NewLogger("test"))

	mock.ExpectQuery(`SELECT index_name, column_name, non_unique, seq_in_index`).
		WithArgs("orders").
		WillReturnRows(sqlmock.NewRows([]string{"index_name", "column_name", "non_unique", "seq_in_index"}).
			AddRow("idx_orders_customer", "customer_id", 1, 1))

	indexes, err := gw.ExistingIndexes(context.Background(), 1, "orders")
	require.NoError(t, err)
	require.Len(t, indexes, 1)
	assert.Equal(t, "customer_id", indexes[0].LeadingColumn)
}
