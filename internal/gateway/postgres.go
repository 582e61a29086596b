package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/sqlopt/engine/internal/apperrors"
	"github.com/sqlopt/engine/internal/common/logger"
	"github.com/sqlopt/engine/internal/model"
)

// PostgresGateway is the Gateway implementation for PostgreSQL, reading
// pg_stat_statements for workload sampling and EXPLAIN (FORMAT JSON) for
// plan capture.
type PostgresGateway struct {
	pool *Pool
	log  logger.Logger
}

// NewPostgresGateway constructs a PostgreSQL adapter backed by pool.
func NewPostgresGateway(pool *Pool, log logger.Logger) *PostgresGateway {
	return &PostgresGateway{pool: pool, log: log.WithField("gateway", "postgresql")}
}

func (g *PostgresGateway) Engine() model.Engine { return model.EnginePG }

func (g *PostgresGateway) Open(ctx context.Context, conn *model.Connection, creds model.DecryptedCredentials) error {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		creds.Host, creds.Port, creds.Username, creds.Password, creds.Database, sslMode(conn))
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return apperrors.WrapUnavailable(err, "open postgres connection %d", conn.ID)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return apperrors.WrapUnavailable(err, "ping postgres connection %d", conn.ID)
	}
	g.pool.Put(conn.ID, db)
	return nil
}

func sslMode(conn *model.Connection) string {
	if conn.TLSEnabled {
		return "require"
	}
	return "disable"
}

func (g *PostgresGateway) TestConnection(ctx context.Context, connectionID int64) error {
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

func (g *PostgresGateway) Close(ctx context.Context, connectionID int64) error {
	g.pool.Remove(connectionID)
	return nil
}

func (g *PostgresGateway) SchemaDDL(ctx context.Context, connectionID int64, tables []string) ([]TableSchema, error) {
	s, err := g.pool.Get(connectionID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT table_name, column_name, data_type, is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_schema = 'public'`
	args := []interface{}{}
	if len(tables) > 0 {
		query += ` AND table_name = ANY($1)`
		args = append(args, pq.Array(tables))
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

func (g *PostgresGateway) TopQueries(ctx context.Context, connectionID int64, limit int) ([]model.RawSample, error) {
	s, err := g.pool.Get(connectionID)
	if err != nil {
		return nil, err
	}

	const query = `
		SELECT query, calls, total_exec_time, mean_exec_time, rows, shared_blks_hit, shared_blks_read
		FROM pg_stat_statements
		ORDER BY total_exec_time DESC
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		s.recordFailure()
		return nil, apperrors.NewCapability("pg_stat_statements unavailable on connection %d: %v", connectionID, err)
	}
	defer rows.Close()

	var samples []model.RawSample
	for rows.Next() {
		var sample model.RawSample
		var meanExecMs float64
		var hits, reads int64
		if err := rows.Scan(&sample.SQL, &sample.Calls, &sample.TotalExecMs, &meanExecMs,
			&sample.Rows, &hits, &reads); err != nil {
			return nil, apperrors.WrapFatal(err, "scan top-query row")
		}
		sample.ConnectionID = connectionID
		sample.BufferHitRatio = -1
		if hits+reads > 0 {
			sample.BufferHitRatio = float64(hits) / float64(hits+reads)
		}
		samples = append(samples, sample)
	}
	s.recordSuccess()
	return samples, nil
}

func (g *PostgresGateway) CapturePlan(ctx context.Context, connectionID int64, sqlText string, analyze bool) (*PlanCaptureResult, error) {
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

	explainPrefix := "EXPLAIN (FORMAT JSON"
	if analyze {
		explainPrefix += ", ANALYZE, BUFFERS"
	}
	explainPrefix += ") "

	var raw string
	err = tx.QueryRowContext(ctx, explainPrefix+sqlText).Scan(&raw)
	if err != nil && analyze {
		// Some statements (DDL, certain CTEs) reject ANALYZE; fall back to
		// a plan-only EXPLAIN rather than failing capture outright.
		err = tx.QueryRowContext(ctx, "EXPLAIN (FORMAT JSON) "+sqlText).Scan(&raw)
		analyze = false
	}
	if err != nil {
		s.recordFailure()
		return nil, apperrors.WrapUnavailable(err, "explain query on connection %d", connectionID)
	}
	s.recordSuccess()

	plan, perr := parsePostgresPlanJSON(raw)
	if perr != nil {
		return nil, apperrors.WrapFatal(perr, "parse postgres plan json")
	}
	return &PlanCaptureResult{Plan: plan, RawJSON: raw, UsedAnalyze: analyze}, nil
}

func (g *PostgresGateway) ExecuteDDL(ctx context.Context, connectionID int64, ddl string) (time.Duration, error) {
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

func (g *PostgresGateway) ExecuteInTx(ctx context.Context, connectionID int64, fn func(ctx context.Context, tx Tx) error) error {
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

func (g *PostgresGateway) ExistingIndexes(ctx context.Context, connectionID int64, table string) ([]model.ExistingIndex, error) {
	s, err := g.pool.Get(connectionID)
	if err != nil {
		return nil, err
	}
	const query = `
		SELECT i.relname, a.attname, ix.indisunique,
		       COALESCE(s.idx_scan, -1)
		FROM pg_class t
		JOIN pg_index ix ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		LEFT JOIN pg_stat_user_indexes s ON s.indexrelid = i.oid
		WHERE t.relname = $1
		ORDER BY i.relname, a.attnum`

	rows, err := s.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, apperrors.WrapUnavailable(err, "list indexes for table %s", table)
	}
	defer rows.Close()

	byName := map[string]*model.ExistingIndex{}
	var order []string
	for rows.Next() {
		var idxName, col string
		var unique bool
		var used int64
		if err := rows.Scan(&idxName, &col, &unique, &used); err != nil {
			return nil, apperrors.WrapFatal(err, "scan index row")
		}
		ix, ok := byName[idxName]
		if !ok {
			ix = &model.ExistingIndex{Name: idxName, Table: table, Kind: model.IndexBTree, TimesUsed: used}
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

// sqlTx adapts *sql.Tx to the narrow Tx interface.
type sqlTx struct{ tx *sql.Tx }

func (t *sqlTx) ExecContext(ctx context.Context, query string, args ...interface{}) error {
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

func (t *sqlTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

func parsePostgresPlanJSON(raw string) (*model.Plan, error) {
	var doc []struct {
		Plan          json.RawMessage `json:"Plan"`
		PlanningTime  float64         `json:"Planning Time"`
		ExecutionTime float64         `json:"Execution Time"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, err
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("empty explain output")
	}
	root, err := decodePostgresNode(doc[0].Plan)
	if err != nil {
		return nil, err
	}

	plan := &model.Plan{
		Root:        root,
		Engine:      model.EnginePG,
		Analyzed:    doc[0].ExecutionTime > 0,
		NativeJSON:  raw,
		PlanningMs:  doc[0].PlanningTime,
		ExecutionMs: doc[0].ExecutionTime,
	}
	for _, n := range plan.Nodes() {
		plan.BufferHits += int64(hitsFromExtra(n))
		plan.BufferReads += int64(readsFromExtra(n))
	}
	return plan, nil
}

func hitsFromExtra(n *model.PlanNode) int64 {
	if v, ok := n.Extra["shared_hit_blocks"].(int64); ok {
		return v
	}
	return 0
}

func readsFromExtra(n *model.PlanNode) int64 {
	if v, ok := n.Extra["shared_read_blocks"].(int64); ok {
		return v
	}
	return 0
}

type pgPlanNode struct {
	NodeType     string       `json:"Node Type"`
	RelationName string       `json:"Relation Name"`
	IndexName    string       `json:"Index Name"`
	PlanRows     float64      `json:"Plan Rows"`
	ActualRows   *float64     `json:"Actual Rows"`
	StartupCost  float64      `json:"Startup Cost"`
	TotalCost    float64      `json:"Total Cost"`
	ActualTimeMs *float64     `json:"Actual Total Time"`
	SharedHit    *int64       `json:"Shared Hit Blocks"`
	SharedRead   *int64       `json:"Shared Read Blocks"`
	SortKey      []string     `json:"Sort Key"`
	Filter       string       `json:"Filter"`
	Plans        []pgPlanNode `json:"Plans"`
}

func decodePostgresNode(raw json.RawMessage) (*model.PlanNode, error) {
	var n pgPlanNode
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, err
	}
	rows := model.RowEstimate{Estimated: n.PlanRows, Actual: -1}
	if n.ActualRows != nil {
		rows.Actual = *n.ActualRows
	}
	node := &model.PlanNode{
		OpType:   mapPostgresOp(n.NodeType, n.SortKey),
		Relation: n.RelationName,
		Rows:     rows,
		Cost:     model.CostEstimate{Startup: n.StartupCost, Total: n.TotalCost},
		Extra:    map[string]interface{}{},
	}
	if n.IndexName != "" {
		node.Extra["index_name"] = n.IndexName
	}
	if n.Filter != "" {
		node.Extra["filter"] = n.Filter
	}
	if n.ActualTimeMs != nil {
		node.Extra["actual_time_ms"] = *n.ActualTimeMs
	}
	if n.SharedHit != nil {
		node.Extra["shared_hit_blocks"] = *n.SharedHit
	}
	if n.SharedRead != nil {
		node.Extra["shared_read_blocks"] = *n.SharedRead
	}
	for _, c := range n.Plans {
		childRaw, _ := json.Marshal(c)
		child, err := decodePostgresNode(childRaw)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

func mapPostgresOp(nodeType string, sortKey []string) model.PlanOpType {
	switch nodeType {
	case "Seq Scan":
		return model.OpSeqScan
	case "Index Scan", "Index Only Scan":
		return model.OpIndexScan
	case "Bitmap Heap Scan", "Bitmap Index Scan":
		return model.OpBitmapScan
	case "Nested Loop":
		return model.OpNestedLoop
	case "Hash Join":
		return model.OpHashJoin
	case "Merge Join":
		return model.OpMergeJoin
	case "Sort":
		return model.OpSort
	case "Aggregate", "HashAggregate", "GroupAggregate":
		return model.OpAggregate
	case "WindowAgg":
		return model.OpWindowAgg
	case "Limit":
		return model.OpLimit
	case "Materialize", "CTE Scan":
		return model.OpMaterialize
	default:
		if len(sortKey) > 0 {
			return model.OpSort
		}
		return model.OpUnknown
	}
}
