package facade

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlopt/engine/internal/apperrors"
	"github.com/sqlopt/engine/internal/common/config"
	"github.com/sqlopt/engine/internal/common/logger"
	"github.com/sqlopt/engine/internal/discovery"
	"github.com/sqlopt/engine/internal/gateway"
	"github.com/sqlopt/engine/internal/model"
	"github.com/sqlopt/engine/internal/secrets"
)

// fakeStore is an in-memory Store covering every method the facade and its
// wired components need, in the style of internal/discovery's own fakeStore.
type fakeStore struct {
	connections map[int64]*model.Connection
	nextConnID  int64

	optimizations map[int64]*model.Optimization
	nextOptID     int64

	fixes      map[int64]*model.AppliedFix
	nextFixID  int64

	queries map[int64]*model.DiscoveredQuery

	samples map[int64][]*model.WorkloadSample

	recommendations map[int64]*model.IndexRecommendation
	nextRecID       int64

	feedback []*model.Feedback

	patterns map[string]*model.OptimizationPattern
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		connections:     map[int64]*model.Connection{},
		optimizations:   map[int64]*model.Optimization{},
		fixes:           map[int64]*model.AppliedFix{},
		queries:         map[int64]*model.DiscoveredQuery{},
		samples:         map[int64][]*model.WorkloadSample{},
		recommendations: map[int64]*model.IndexRecommendation{},
		patterns:        map[string]*model.OptimizationPattern{},
	}
}

func (f *fakeStore) CreateConnection(ctx context.Context, conn *model.Connection) (int64, error) {
	f.nextConnID++
	conn.ID = f.nextConnID
	f.connections[conn.ID] = conn
	return conn.ID, nil
}

func (f *fakeStore) GetConnection(ctx context.Context, id int64) (*model.Connection, error) {
	c, ok := f.connections[id]
	if !ok {
		return nil, apperrors.NewNotFound("connection %d not found", id)
	}
	return c, nil
}

func (f *fakeStore) ListConnections(ctx context.Context) ([]*model.Connection, error) {
	out := make([]*model.Connection, 0, len(f.connections))
	for _, c := range f.connections {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeStore) UpdateConnection(ctx context.Context, conn *model.Connection) error {
	if _, ok := f.connections[conn.ID]; !ok {
		return apperrors.NewNotFound("connection %d not found", conn.ID)
	}
	f.connections[conn.ID] = conn
	return nil
}

func (f *fakeStore) DeleteConnection(ctx context.Context, id int64) error {
	delete(f.connections, id)
	return nil
}

func (f *fakeStore) GetOptimization(ctx context.Context, id int64) (*model.Optimization, error) {
	o, ok := f.optimizations[id]
	if !ok {
		return nil, apperrors.NewNotFound("optimization %d not found", id)
	}
	return o, nil
}

func (f *fakeStore) ListOptimizationsByConnection(ctx context.Context, connectionID int64) ([]*model.Optimization, error) {
	var out []*model.Optimization
	for _, o := range f.optimizations {
		if o.ConnectionID == connectionID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeStore) ListOptimizations(ctx context.Context) ([]*model.Optimization, error) {
	out := make([]*model.Optimization, 0, len(f.optimizations))
	for _, o := range f.optimizations {
		out = append(out, o)
	}
	return out, nil
}

func (f *fakeStore) CreateOptimization(ctx context.Context, o *model.Optimization) (int64, error) {
	f.nextOptID++
	o.ID = f.nextOptID
	o.Status = model.StatusGenerated
	f.optimizations[o.ID] = o
	return o.ID, nil
}

func (f *fakeStore) TransitionOptimization(ctx context.Context, id int64, to model.OptimizationStatus, validationResult *model.ValidationResult) error {
	o, ok := f.optimizations[id]
	if !ok {
		return apperrors.NewNotFound("optimization %d not found", id)
	}
	o.Status = to
	if validationResult != nil {
		o.ValidationResult = validationResult
	}
	return nil
}

func (f *fakeStore) CreateAppliedFix(ctx context.Context, fix *model.AppliedFix) (int64, error) {
	f.nextFixID++
	fix.ID = f.nextFixID
	f.fixes[fix.ID] = fix
	return fix.ID, nil
}

func (f *fakeStore) GetAppliedFix(ctx context.Context, id int64) (*model.AppliedFix, error) {
	fix, ok := f.fixes[id]
	if !ok {
		return nil, apperrors.NewNotFound("fix %d not found", id)
	}
	return fix, nil
}

func (f *fakeStore) UpdateAppliedFixStatus(ctx context.Context, id int64, status model.FixStatus) error {
	fix, ok := f.fixes[id]
	if !ok {
		return apperrors.NewNotFound("fix %d not found", id)
	}
	fix.Status = status
	return nil
}

func (f *fakeStore) ListAppliedFixesByOptimization(ctx context.Context, optimizationID int64) ([]*model.AppliedFix, error) {
	var out []*model.AppliedFix
	for _, fix := range f.fixes {
		if fix.OptimizationID == optimizationID {
			out = append(out, fix)
		}
	}
	return out, nil
}

func (f *fakeStore) GetQuery(ctx context.Context, id int64) (*model.DiscoveredQuery, error) {
	q, ok := f.queries[id]
	if !ok {
		return nil, apperrors.NewNotFound("query %d not found", id)
	}
	return q, nil
}

func (f *fakeStore) ListTopQueriesByConnection(ctx context.Context, connectionID int64, limit int) ([]*model.DiscoveredQuery, error) {
	var out []*model.DiscoveredQuery
	for _, q := range f.queries {
		if q.ConnectionID == connectionID {
			out = append(out, q)
		}
	}
	return out, nil
}

func (f *fakeStore) ListTopQueries(ctx context.Context, limit int) ([]*model.DiscoveredQuery, error) {
	out := make([]*model.DiscoveredQuery, 0, len(f.queries))
	for _, q := range f.queries {
		out = append(out, q)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) CountDiscoveredQueries(ctx context.Context) (int64, error) {
	return int64(len(f.queries)), nil
}

func (f *fakeStore) ListWorkloadSamples(ctx context.Context, connectionID int64, limit int) ([]*model.WorkloadSample, error) {
	return f.samples[connectionID], nil
}

// RecordWorkloadSample satisfies discovery.Store so a fakeStore can back a
// real *discovery.Scheduler in tests.
func (f *fakeStore) RecordWorkloadSample(ctx context.Context, sample *model.WorkloadSample) error {
	f.samples[sample.ConnectionID] = append(f.samples[sample.ConnectionID], sample)
	return nil
}

// UpsertQuery satisfies discovery.Store; facade tests that only need
// MonitoringStatus()'s zero-value shape never actually drive a poll, so this
// just needs to compile against the interface.
func (f *fakeStore) UpsertQuery(ctx context.Context, connectionID int64, fingerprint, normalizedSQL string, sample model.RawSample) (*model.DiscoveredQuery, error) {
	q := &model.DiscoveredQuery{ConnectionID: connectionID, Fingerprint: fingerprint, SampleSQL: sample.SQL, NormalizedSQL: normalizedSQL}
	f.queries[int64(len(f.queries)+1)] = q
	return q, nil
}

func (f *fakeStore) RecordIndexRecommendation(ctx context.Context, rec *model.IndexRecommendation) (int64, error) {
	f.nextRecID++
	rec.ID = f.nextRecID
	f.recommendations[rec.ID] = rec
	return rec.ID, nil
}

func (f *fakeStore) UpdateIndexRecommendationStatus(ctx context.Context, id int64, status model.IndexRecommendationStatus) error {
	rec, ok := f.recommendations[id]
	if !ok {
		return apperrors.NewNotFound("recommendation %d not found", id)
	}
	rec.Status = status
	return nil
}

func (f *fakeStore) ListIndexRecommendations(ctx context.Context, connectionID int64) ([]*model.IndexRecommendation, error) {
	var out []*model.IndexRecommendation
	for _, r := range f.recommendations {
		if r.ConnectionID == connectionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) RecordFeedback(ctx context.Context, fb *model.Feedback) (int64, error) {
	fb.ID = int64(len(f.feedback) + 1)
	f.feedback = append(f.feedback, fb)
	return fb.ID, nil
}

func (f *fakeStore) ListFeedback(ctx context.Context, connectionID *int64) ([]*model.Feedback, error) {
	return f.feedback, nil
}

func (f *fakeStore) ListFeedbackByOptimization(ctx context.Context, optimizationID int64) ([]*model.Feedback, error) {
	var out []*model.Feedback
	for _, fb := range f.feedback {
		if fb.OptimizationID == optimizationID {
			out = append(out, fb)
		}
	}
	return out, nil
}

func (f *fakeStore) LookupPattern(ctx context.Context, engine model.Engine, signature string) (*model.OptimizationPattern, error) {
	p, ok := f.patterns[engine.String()+"|"+signature]
	if !ok {
		return nil, apperrors.NewNotFound("pattern not found")
	}
	return p, nil
}

func (f *fakeStore) TopPatterns(ctx context.Context, engine model.Engine, patternType model.PatternType, limit int) ([]*model.OptimizationPattern, error) {
	var out []*model.OptimizationPattern
	for _, p := range f.patterns {
		if p.Engine == engine && p.Type == patternType {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) RecordPatternOutcome(ctx context.Context, engine model.Engine, patternType model.PatternType, signature, originalTemplate, optimizedTemplate string, success bool, improvementPct float64) error {
	key := engine.String() + "|" + signature
	p, ok := f.patterns[key]
	if !ok {
		p = &model.OptimizationPattern{Type: patternType, Signature: signature, Engine: engine}
		f.patterns[key] = p
	}
	p.LifetimeApplications++
	if success {
		p.LifetimeSuccesses++
	}
	return nil
}

func (f *fakeStore) SeedPattern(ctx context.Context, engine model.Engine, patternType model.PatternType, signature, originalTemplate, optimizedTemplate string) error {
	key := engine.String() + "|" + signature
	if _, ok := f.patterns[key]; ok {
		return nil
	}
	f.patterns[key] = &model.OptimizationPattern{Type: patternType, Signature: signature, Engine: engine, OriginalTemplate: originalTemplate, OptimizedTemplate: optimizedTemplate}
	return nil
}

func (f *fakeStore) ListPatterns(ctx context.Context, engine *model.Engine) ([]*model.OptimizationPattern, error) {
	out := make([]*model.OptimizationPattern, 0, len(f.patterns))
	for _, p := range f.patterns {
		if engine == nil || p.Engine == *engine {
			out = append(out, p)
		}
	}
	return out, nil
}

var _ Store = (*fakeStore)(nil)

// fakeGateway is a minimal gateway.Gateway double; TestConnection's outcome
// is controlled per instance so CreateConnection/UpdateConnection's
// test-then-persist behavior is exercisable both ways.
type fakeGateway struct {
	engine       model.Engine
	testErr      error
	opened       []int64
	closed       []int64
	capturePlan  *model.Plan
	capturePlanRawJSON string
}

func (g *fakeGateway) Engine() model.Engine { return g.engine }

func (g *fakeGateway) Open(ctx context.Context, conn *model.Connection, creds model.DecryptedCredentials) error {
	g.opened = append(g.opened, conn.ID)
	return nil
}

func (g *fakeGateway) TestConnection(ctx context.Context, connectionID int64) error { return g.testErr }

func (g *fakeGateway) Close(ctx context.Context, connectionID int64) error {
	g.closed = append(g.closed, connectionID)
	return nil
}

func (g *fakeGateway) SchemaDDL(ctx context.Context, connectionID int64, tables []string) ([]gateway.TableSchema, error) {
	return nil, nil
}

func (g *fakeGateway) TopQueries(ctx context.Context, connectionID int64, limit int) ([]model.RawSample, error) {
	return nil, nil
}

func (g *fakeGateway) CapturePlan(ctx context.Context, connectionID int64, sql string, analyze bool) (*gateway.PlanCaptureResult, error) {
	return &gateway.PlanCaptureResult{Plan: g.capturePlan, RawJSON: g.capturePlanRawJSON, UsedAnalyze: analyze}, nil
}

func (g *fakeGateway) ExecuteDDL(ctx context.Context, connectionID int64, ddl string) (time.Duration, error) {
	return time.Millisecond, nil
}

func (g *fakeGateway) ExecuteInTx(ctx context.Context, connectionID int64, fn func(ctx context.Context, tx gateway.Tx) error) error {
	return nil
}

func (g *fakeGateway) ExistingIndexes(ctx context.Context, connectionID int64, table string) ([]model.ExistingIndex, error) {
	return nil, nil
}

var _ gateway.Gateway = (*fakeGateway)(nil)

func testFacade(t *testing.T, st *fakeStore, gw *fakeGateway) *Facade {
	t.Helper()
	cfg := config.Default()
	log := logger.NewLogger("facade_test")
	sched := discovery.New(st, map[model.Engine]gateway.Gateway{model.EnginePG: gw}, &cfg.Discovery, log)
	secretStore, err := secrets.NewAESGCMStore(make([]byte, 32))
	require.NoError(t, err)
	return New(Deps{
		Store:     st,
		Secrets:   secretStore,
		Gateways:  map[model.Engine]gateway.Gateway{model.EnginePG: gw},
		Scheduler: sched,
		Cfg:       cfg,
		Log:       log,
	})
}

func TestCreateConnection_PersistsOnlyAfterSuccessfulTest(t *testing.T) {
	st := newFakeStore()
	gw := &fakeGateway{engine: model.EnginePG}
	f := testFacade(t, st, gw)

	conn, err := f.CreateConnection(context.Background(), CreateConnectionRequest{
		DisplayName: "primary", Engine: "PG", Host: "localhost", Port: 5432, Database: "app", Username: "app", Password: "secret",
	})
	require.NoError(t, err)
	assert.NotZero(t, conn.ID)
	assert.NotEmpty(t, conn.EncryptedPassword)
	assert.Len(t, st.connections, 1)
	assert.Equal(t, []int64{0}, gw.closed) // test session always closed, even connectionID 0
}

func TestCreateConnection_FailedTestNeverPersists(t *testing.T) {
	st := newFakeStore()
	gw := &fakeGateway{engine: model.EnginePG, testErr: apperrors.NewUnavailable("connection refused")}
	f := testFacade(t, st, gw)

	_, err := f.CreateConnection(context.Background(), CreateConnectionRequest{
		Engine: "PG", Host: "localhost", Port: 5432, Database: "app", Username: "app", Password: "secret",
	})
	require.Error(t, err)
	assert.Empty(t, st.connections)
}

func TestUpdateConnection_NilPasswordSkipsRetest(t *testing.T) {
	st := newFakeStore()
	gw := &fakeGateway{engine: model.EnginePG}
	f := testFacade(t, st, gw)

	created, err := f.CreateConnection(context.Background(), CreateConnectionRequest{
		Engine: "PG", Host: "localhost", Port: 5432, Database: "app", Username: "app", Password: "secret",
	})
	require.NoError(t, err)
	originalCipher := created.EncryptedPassword

	updated, err := f.UpdateConnection(context.Background(), UpdateConnectionRequest{
		ID: created.ID, DisplayName: "renamed", Host: "localhost", Port: 5432, Database: "app", Username: "app",
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.DisplayName)
	assert.Equal(t, originalCipher, updated.EncryptedPassword)
}

func TestMonitoringStatus_ZeroValueBeforeStart(t *testing.T) {
	st := newFakeStore()
	gw := &fakeGateway{engine: model.EnginePG}
	f := testFacade(t, st, gw)

	status := f.MonitoringStatus()
	assert.False(t, status.Running)
	assert.True(t, status.LastPollTime.IsZero())
	assert.Zero(t, status.QueriesDiscoveredLifetime)
}

func TestDashboardStats_EmptyStoreReturnsZeroValues(t *testing.T) {
	st := newFakeStore()
	gw := &fakeGateway{engine: model.EnginePG}
	f := testFacade(t, st, gw)

	stats, err := f.DashboardStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalConnections)
	assert.Zero(t, stats.TotalQueriesDiscovered)
	assert.Equal(t, 0, stats.TotalOptimizations)
	assert.Empty(t, stats.TopBottlenecks)
}

func TestGenerateFixes_BucketsByIssueType(t *testing.T) {
	st := newFakeStore()
	gw := &fakeGateway{engine: model.EnginePG}
	f := testFacade(t, st, gw)

	st.optimizations[1] = &model.Optimization{
		ID:           1,
		ConnectionID: 1,
		OptimizedSQL: "SELECT a, b FROM t WHERE id = $1",
		DetectedIssues: []*model.DetectedIssue{
			{Type: model.IssueMissingIndex, Severity: model.SeverityHigh, Title: "missing index"},
			{Type: model.IssueStaleStatistics, Severity: model.SeverityMedium, Title: "stale stats"},
			{Type: model.IssueSuboptimalPattern, Severity: model.SeverityLow, Title: "select star"},
		},
	}

	fixes, err := f.GenerateFixes(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Len(t, fixes.Indexes, 1)
	assert.Len(t, fixes.Maintenance, 1)
	assert.Len(t, fixes.Rewrites, 1)
	assert.Empty(t, fixes.Config)
}

func TestExplainPlan_SummarizesCapturedPlan(t *testing.T) {
	st := newFakeStore()
	st.connections[1] = &model.Connection{ID: 1, Engine: model.EnginePG}
	plan := &model.Plan{
		Engine: model.EnginePG,
		Root: &model.PlanNode{
			OpType:   model.OpSeqScan,
			Relation: "orders",
			Cost:     model.CostEstimate{Total: 1000},
			Rows:     model.RowEstimate{Estimated: 50000, Actual: -1},
		},
	}
	gw := &fakeGateway{engine: model.EnginePG, capturePlan: plan}
	f := testFacade(t, st, gw)

	exp, err := f.ExplainPlan(context.Background(), 1, "SELECT * FROM orders")
	require.NoError(t, err)
	assert.Contains(t, exp.KeyOperations, string(model.OpSeqScan))
	require.NotNil(t, exp.EstimatedCost)
	assert.Equal(t, 1000.0, *exp.EstimatedCost)
}

func TestRollback_DispatchesByFixID(t *testing.T) {
	st := newFakeStore()
	gw := &fakeGateway{engine: model.EnginePG}
	f := testFacade(t, st, gw)

	st.connections[1] = &model.Connection{ID: 1, Engine: model.EnginePG}
	st.optimizations[1] = &model.Optimization{ID: 1, ConnectionID: 1}
	st.fixes[1] = &model.AppliedFix{ID: 1, OptimizationID: 1, RollbackSQL: "DROP INDEX idx_x", Status: model.FixApplied}

	fixID := int64(1)
	fix, err := f.Rollback(context.Background(), 1, &fixID)
	require.NoError(t, err)
	assert.Equal(t, model.FixReverted, fix.Status)
}
