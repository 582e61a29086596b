package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/sqlopt/engine/internal/apperrors"
	"github.com/sqlopt/engine/internal/common/logger"
	"github.com/sqlopt/engine/internal/model"
)

// MySQLGateway is the Gateway implementation for MySQL/MariaDB, reading
// performance_schema.events_statements_summary_by_digest for workload
// sampling and EXPLAIN FORMAT=JSON for plan capture.
type MySQLGateway struct {
	pool *Pool
	log  logger.Logger
}

// NewMySQLGateway constructs a MySQL adapter backed by pool.
func NewMySQLGateway(pool *Pool, log logger.Logger) *MySQLGateway {
	return &MySQLGateway{pool: pool, log: log.WithField("gateway", "mysql")}
}

func (g *MySQLGateway) Engine() model.Engine { return model.EngineMySQL }

func (g *MySQLGateway) Open(ctx context.Context, conn *model.Connection, creds model.DecryptedCredentials) error {
	tls := "false"
	if conn.TLSEnabled {
		tls = "true"
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&tls=%s",
		creds.Username, creds.Password, creds.Host, creds.Port, creds.Database, tls)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return apperrors.WrapUnavailable(err, "open mysql connection %d", conn.ID)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return apperrors.WrapUnavailable(err, "ping mysql connection %d", conn.ID)
	}
	g.pool.Put(conn.ID, db)
	return nil
}

func (g *MySQLGateway) TestConnection(ctx context.Context, connectionID int64) error {
	s, err := g.pool.Get(connectionID)
	if err != nil {
		return err
	}
	if err := s.db.PingContext(ctx); err != nil {
		s.recordFailure()
		return apperrors.WrapUnavailable(err, "test connection %d", connectionID)
	}
	s.recordSuccess()
	return nil
}

func (g *MySQLGateway) Close(ctx context.Context, connectionID int64) error {
	g.pool.Remove(connectionID)
	return nil
}

func (g *MySQLGateway) SchemaDDL(ctx context.Context, connectionID int64, tables []string) ([]TableSchema, error) {
	s, err := g.pool.Get(connectionID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT table_name, column_name, data_type, is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_schema = DATABASE()`
	args := []interface{}{}
	if len(tables) > 0 {
		placeholders := ""
		for i, t := range tables {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, t)
		}
		query += fmt.Sprintf(" AND table_name IN (%s)", placeholders)
	}
	query += ` ORDER BY table_name, ordinal_position`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.recordFailure()
		return nil, apperrors.WrapUnavailable(err, "introspect schema on connection %d", connectionID)
	}
	defer rows.Close()

	schemas := map[string]*TableSchema{}
	var order []string
	for rows.Next() {
		var table, col, dtype string
		var nullable bool
		if err := rows.Scan(&table, &col, &dtype, &nullable); err != nil {
			return nil, apperrors.WrapFatal(err, "scan schema row")
		}
		ts, ok := schemas[table]
		if !ok {
			ts = &TableSchema{Table: table}
			schemas[table] = ts
			order = append(order, table)
		}
		ts.Columns = append(ts.Columns, ColumnDef{Name: col, DataType: dtype, Nullable: nullable})
	}
	s.recordSuccess()

	result := make([]TableSchema, 0, len(order))
	for _, t := range order {
		idx, err := g.ExistingIndexes(ctx, connectionID, t)
		if err == nil {
			schemas[t].Indexes = idx
		}
		result = append(result, *schemas[t])
	}
	return result, nil
}

func (g *MySQLGateway) TopQueries(ctx context.Context, connectionID int64, limit int) ([]model.RawSample, error) {
	s, err := g.pool.Get(connectionID)
	if err != nil {
		return nil, err
	}

	const query = `
		SELECT digest_text, count_star, sum_timer_wait / 1000000000, sum_rows_sent, digest
		FROM performance_schema.events_statements_summary_by_digest
		WHERE digest_text IS NOT NULL
		ORDER BY sum_timer_wait DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		s.recordFailure()
		return nil, apperrors.NewCapability("performance_schema digest summary unavailable on connection %d: %v", connectionID, err)
	}
	defer rows.Close()

	var samples []model.RawSample
	for rows.Next() {
		var sample model.RawSample
		if err := rows.Scan(&sample.SQL, &sample.Calls, &sample.TotalExecMs, &sample.Rows, &sample.SourceQueryID); err != nil {
			return nil, apperrors.WrapFatal(err, "scan top-query row")
		}
		sample.ConnectionID = connectionID
		sample.BufferHitRatio = -1
		samples = append(samples, sample)
	}
	s.recordSuccess()
	return samples, nil
}

func (g *MySQLGateway) CapturePlan(ctx context.Context, connectionID int64, sqlText string, analyze bool) (*PlanCaptureResult, error) {
	s, err := g.pool.Get(connectionID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		s.recordFailure()
		return nil, apperrors.WrapUnavailable(err, "begin plan-capture transaction on connection %d", connectionID)
	}
	defer tx.Rollback()

	explain := "EXPLAIN FORMAT=JSON "
	if analyze {
		explain = "EXPLAIN ANALYZE FORMAT=JSON "
	}

	var raw string
	err = tx.QueryRowContext(ctx, explain+sqlText).Scan(&raw)
	if err != nil && analyze {
		err = tx.QueryRowContext(ctx, "EXPLAIN FORMAT=JSON "+sqlText).Scan(&raw)
		analyze = false
	}
	if err != nil {
		s.recordFailure()
		return nil, apperrors.WrapUnavailable(err, "explain query on connection %d", connectionID)
	}
	s.recordSuccess()

	plan, perr := parseMySQLPlanJSON(raw, analyze)
	if perr != nil {
		return nil, apperrors.WrapFatal(perr, "parse mysql plan json")
	}
	return &PlanCaptureResult{Plan: plan, RawJSON: raw, UsedAnalyze: analyze}, nil
}

func (g *MySQLGateway) ExecuteDDL(ctx context.Context, connectionID int64, ddl string) (time.Duration, error) {
	s, err := g.pool.Get(connectionID)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		s.recordFailure()
		return time.Since(start), apperrors.WrapUnavailable(err, "execute ddl on connection %d", connectionID)
	}
	s.recordSuccess()
	return time.Since(start), nil
}

func (g *MySQLGateway) ExecuteInTx(ctx context.Context, connectionID int64, fn func(ctx context.Context, tx Tx) error) error {
	s, err := g.pool.Get(connectionID)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.recordFailure()
		return apperrors.WrapUnavailable(err, "begin transaction on connection %d", connectionID)
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqlTx{tx}); err != nil {
		return err
	}
	s.recordSuccess()
	return nil
}

func (g *MySQLGateway) ExistingIndexes(ctx context.Context, connectionID int64, table string) ([]model.ExistingIndex, error) {
	s, err := g.pool.Get(connectionID)
	if err != nil {
		return nil, err
	}
	const query = `
		SELECT index_name, column_name, non_unique, seq_in_index
		FROM information_schema.statistics
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY index_name, seq_in_index`

	rows, err := s.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, apperrors.WrapUnavailable(err, "list indexes for table %s", table)
	}
	defer rows.Close()

	byName := map[string]*model.ExistingIndex{}
	var order []string
	for rows.Next() {
		var idxName, col string
		var nonUnique, seq int
		if err := rows.Scan(&idxName, &col, &nonUnique, &seq); err != nil {
			return nil, apperrors.WrapFatal(err, "scan index row")
		}
		ix, ok := byName[idxName]
		if !ok {
			ix = &model.ExistingIndex{Name: idxName, Table: table, Kind: model.IndexBTree, TimesUsed: -1}
			byName[idxName] = ix
			order = append(order, idxName)
		}
		ix.Columns = append(ix.Columns, col)
		if ix.LeadingColumn == "" {
			ix.LeadingColumn = col
		}
	}
	result := make([]model.ExistingIndex, 0, len(order))
	for _, n := range order {
		result = append(result, *byName[n])
	}
	return result, nil
}

// mysqlTable is one "table" node within a MySQL EXPLAIN FORMAT=JSON
// query_block. MySQL's plan JSON has no uniform child-array the way
// Postgres's does: joins nest under "nested_loop", subqueries under
// "query_block" inside "materialized_from_subquery" or an attached
// "attached_subqueries" list. This walks the shapes that matter for
// detection: scans, joins, and sorts.
type mysqlTable struct {
	TableName    string          `json:"table_name"`
	AccessType   string          `json:"access_type"`
	KeyUsed      string          `json:"key"`
	RowsExamined json.RawMessage `json:"rows_examined_per_scan"`
	RowsProduced json.RawMessage `json:"rows_produced_per_join"`
	FilterCost   json.RawMessage `json:"filtered"`
	CostInfo     struct {
		ReadCost  string `json:"read_cost"`
		EvalCost  string `json:"eval_cost"`
		QueryCost string `json:"query_cost"`
	} `json:"cost_info"`
	UsedKeyParts []string `json:"used_key_parts"`
}

type mysqlQueryBlock struct {
	CostInfo struct {
		QueryCost string `json:"query_cost"`
	} `json:"cost_info"`
	OrderingOperation *struct {
		UsingFilesort bool              `json:"using_filesort"`
		NestedLoop    []mysqlNestedItem `json:"nested_loop"`
		Table         *mysqlTable       `json:"table"`
	} `json:"ordering_operation"`
	GroupingOperation *struct {
		NestedLoop []mysqlNestedItem `json:"nested_loop"`
		Table      *mysqlTable       `json:"table"`
	} `json:"grouping_operation"`
	NestedLoop []mysqlNestedItem `json:"nested_loop"`
	Table      *mysqlTable       `json:"table"`
}

type mysqlNestedItem struct {
	Table *mysqlTable `json:"table"`
}

func parseMySQLPlanJSON(raw string, analyzed bool) (*model.Plan, error) {
	var doc struct {
		QueryBlock mysqlQueryBlock `json:"query_block"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, err
	}

	var children []*model.PlanNode
	qb := doc.QueryBlock
	switch {
	case qb.OrderingOperation != nil:
		sortNode := &model.PlanNode{OpType: model.OpSort, Extra: map[string]interface{}{}}
		sortNode.Children = mysqlChildNodes(qb.OrderingOperation.NestedLoop, qb.OrderingOperation.Table)
		children = []*model.PlanNode{sortNode}
	case qb.GroupingOperation != nil:
		aggNode := &model.PlanNode{OpType: model.OpAggregate, Extra: map[string]interface{}{}}
		aggNode.Children = mysqlChildNodes(qb.GroupingOperation.NestedLoop, qb.GroupingOperation.Table)
		children = []*model.PlanNode{aggNode}
	default:
		children = mysqlChildNodes(qb.NestedLoop, qb.Table)
	}

	root := &model.PlanNode{OpType: model.OpUnknown, Extra: map[string]interface{}{}}
	if qc, err := strconv.ParseFloat(qb.CostInfo.QueryCost, 64); err == nil {
		root.Cost.Total = qc
	}
	if len(children) == 1 {
		root = children[0]
	} else {
		root.Children = children
	}

	return &model.Plan{
		Root:       root,
		Engine:     model.EngineMySQL,
		Analyzed:   analyzed,
		NativeJSON: raw,
	}, nil
}

func mysqlChildNodes(nestedLoop []mysqlNestedItem, table *mysqlTable) []*model.PlanNode {
	if len(nestedLoop) > 0 {
		joinNode := &model.PlanNode{OpType: model.OpNestedLoop, Extra: map[string]interface{}{}}
		for _, item := range nestedLoop {
			if item.Table != nil {
				joinNode.Children = append(joinNode.Children, mysqlTableNode(item.Table))
			}
		}
		return []*model.PlanNode{joinNode}
	}
	if table != nil {
		return []*model.PlanNode{mysqlTableNode(table)}
	}
	return nil
}

func mysqlTableNode(t *mysqlTable) *model.PlanNode {
	node := &model.PlanNode{
		OpType:   mapMySQLAccessType(t.AccessType),
		Relation: t.TableName,
		Rows:     model.RowEstimate{Actual: -1},
		Extra:    map[string]interface{}{},
	}
	if t.KeyUsed != "" {
		node.Extra["index_name"] = t.KeyUsed
	}
	if qc, err := strconv.ParseFloat(t.CostInfo.QueryCost, 64); err == nil {
		node.Cost.Total = qc
	}
	var rowsExamined float64
	if len(t.RowsExamined) > 0 {
		json.Unmarshal(t.RowsExamined, &rowsExamined)
		node.Rows.Estimated = rowsExamined
	}
	return node
}

func mapMySQLAccessType(accessType string) model.PlanOpType {
	switch accessType {
	case "ALL":
		return model.OpSeqScan
	case "index":
		return model.OpIndexOnlyScan
	case "range", "ref", "eq_ref", "const", "fulltext":
		return model.OpIndexScan
	case "index_merge":
		return model.OpBitmapScan
	default:
		return model.OpUnknown
	}
}
