package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlopt/engine/internal/apperrors"
	"github.com/sqlopt/engine/internal/cache"
	"github.com/sqlopt/engine/internal/common/config"
	"github.com/sqlopt/engine/internal/common/logger"
	"github.com/sqlopt/engine/internal/completion"
	"github.com/sqlopt/engine/internal/detector"
	"github.com/sqlopt/engine/internal/gateway"
	"github.com/sqlopt/engine/internal/model"
)

// fakeStore is a minimal in-memory stand-in for the orchestrator's Store
// dependency.
type fakeStore struct {
	conn       *model.Connection
	getConnErr error

	pattern    *model.OptimizationPattern
	patternErr error
	topPatterns []*model.OptimizationPattern

	created   *model.Optimization
	createErr error
}

func (s *fakeStore) GetConnection(ctx context.Context, id int64) (*model.Connection, error) {
	if s.getConnErr != nil {
		return nil, s.getConnErr
	}
	return s.conn, nil
}

func (s *fakeStore) GetQuery(ctx context.Context, id int64) (*model.DiscoveredQuery, error) {
	return nil, apperrors.NewNotFound("query %d not found", id)
}

func (s *fakeStore) LookupPattern(ctx context.Context, engine model.Engine, signature string) (*model.OptimizationPattern, error) {
	if s.patternErr != nil {
		return nil, s.patternErr
	}
	if s.pattern == nil {
		return nil, apperrors.NewNotFound("no pattern for signature %s", signature)
	}
	return s.pattern, nil
}

func (s *fakeStore) TopPatterns(ctx context.Context, engine model.Engine, patternType model.PatternType, limit int) ([]*model.OptimizationPattern, error) {
	return s.topPatterns, nil
}

func (s *fakeStore) CreateOptimization(ctx context.Context, o *model.Optimization) (int64, error) {
	if s.createErr != nil {
		return 0, s.createErr
	}
	s.created = o
	return 42, nil
}

// fakeGateway is a stand-in gateway.Gateway that lets each test script its
// own plan-capture behaviour.
type fakeGateway struct {
	engine model.Engine

	schemas    []gateway.TableSchema
	schemaErr  error

	capturePlan func(ctx context.Context, sql string, analyze bool) (*gateway.PlanCaptureResult, error)
}

func (g *fakeGateway) Engine() model.Engine { return g.engine }
func (g *fakeGateway) Open(ctx context.Context, conn *model.Connection, creds model.DecryptedCredentials) error {
	return nil
}
func (g *fakeGateway) TestConnection(ctx context.Context, connectionID int64) error { return nil }
func (g *fakeGateway) Close(ctx context.Context, connectionID int64) error          { return nil }
func (g *fakeGateway) SchemaDDL(ctx context.Context, connectionID int64, tables []string) ([]gateway.TableSchema, error) {
	return g.schemas, g.schemaErr
}
func (g *fakeGateway) TopQueries(ctx context.Context, connectionID int64, limit int) ([]model.RawSample, error) {
	return nil, nil
}
func (g *fakeGateway) CapturePlan(ctx context.Context, connectionID int64, sql string, analyze bool) (*gateway.PlanCaptureResult, error) {
	return g.capturePlan(ctx, sql, analyze)
}
func (g *fakeGateway) ExecuteDDL(ctx context.Context, connectionID int64, ddl string) (time.Duration, error) {
	return 0, nil
}
func (g *fakeGateway) ExecuteInTx(ctx context.Context, connectionID int64, fn func(ctx context.Context, tx gateway.Tx) error) error {
	return nil
}
func (g *fakeGateway) ExistingIndexes(ctx context.Context, connectionID int64, table string) ([]model.ExistingIndex, error) {
	return nil, nil
}

// fakeCompletion is a scriptable completion.Service.
type fakeCompletion struct {
	raw string
	err error
}

func (c *fakeCompletion) Complete(ctx context.Context, req *completion.Request) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return c.raw, nil
}

func testConn() *model.Connection {
	return &model.Connection{ID: 1, Engine: model.EnginePG, DisplayName: "primary"}
}

func testCfg() *config.OptimizerConfig {
	return &config.OptimizerConfig{
		CompletionSoftTimeoutSec: 5,
		CompletionHardTimeoutSec: 10,
		MinImprovementPct:        10,
		MaxRegressionPct:         5,
	}
}

func testDetector() *detector.Detector {
	return detector.New(&config.DetectorConfig{
		DefaultLargeTableRows:    100000,
		StaleStatsRatio:          10.0,
		MissingIndexRowThreshold: 10000,
		MaxOrBranches:            3,
		HighIOThreshold:          0.3,
		LargeTableRows:           map[string]int64{},
	}, logger.NewLogger("orchestrator_test"))
}

func TestOptimize_HappyPath(t *testing.T) {
	st := &fakeStore{conn: testConn()}
	gw := &fakeGateway{
		engine: model.EnginePG,
		capturePlan: func(ctx context.Context, sql string, analyze bool) (*gateway.PlanCaptureResult, error) {
			require.True(t, analyze)
			return &gateway.PlanCaptureResult{
				Plan:        &model.Plan{Root: &model.PlanNode{OpType: "SeqScan", Relation: "users"}},
				RawJSON:     `{"root":"SeqScan"}`,
				UsedAnalyze: true,
			}, nil
		},
	}
	comp := &fakeCompletion{raw: "<SQL>SELECT id FROM users WHERE active = true</SQL>\nEstimated improvement: 30%\n- Add an index on users(active)"}

	orch := New(st, map[model.Engine]gateway.Gateway{model.EnginePG: gw}, testDetector(), comp, nil, testCfg(), logger.NewLogger("orchestrator_test"))

	opt, err := orch.Optimize(context.Background(), 1, "SELECT id FROM users WHERE active = true", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), opt.ID)
	assert.Equal(t, "SELECT id FROM users WHERE active = true", opt.OptimizedSQL)
	assert.Equal(t, model.StrategyTaggedSection, opt.ParsingStrategy)
	assert.Equal(t, 30.0, opt.EstimatedImprovementPct)
	assert.Equal(t, []string{"Add an index on users(active)"}, opt.GeneralRecommendations)
	require.NotNil(t, st.created)
	assert.Same(t, opt, st.created)
}

func TestOptimize_PlanCaptureFallsBackOnCapabilityError(t *testing.T) {
	st := &fakeStore{conn: testConn()}
	var analyzeCalls []bool
	gw := &fakeGateway{
		engine: model.EnginePG,
		capturePlan: func(ctx context.Context, sql string, analyze bool) (*gateway.PlanCaptureResult, error) {
			analyzeCalls = append(analyzeCalls, analyze)
			if analyze {
				return nil, apperrors.NewCapability("pg_stat_statements unavailable")
			}
			return &gateway.PlanCaptureResult{
				Plan:    &model.Plan{Root: &model.PlanNode{OpType: "SeqScan"}},
				RawJSON: `{"root":"SeqScan"}`,
			}, nil
		},
	}
	comp := &fakeCompletion{raw: "<SQL>SELECT 1</SQL>"}

	orch := New(st, map[model.Engine]gateway.Gateway{model.EnginePG: gw}, testDetector(), comp, nil, testCfg(), logger.NewLogger("orchestrator_test"))

	opt, err := orch.Optimize(context.Background(), 1, "SELECT 1", nil)
	require.NoError(t, err)
	require.Equal(t, []bool{true, false}, analyzeCalls)
	assert.Equal(t, "SELECT 1", opt.OptimizedSQL)
}

func TestOptimize_CompletionFailureNeverPropagates(t *testing.T) {
	st := &fakeStore{conn: testConn()}
	gw := &fakeGateway{
		engine: model.EnginePG,
		capturePlan: func(ctx context.Context, sql string, analyze bool) (*gateway.PlanCaptureResult, error) {
			return &gateway.PlanCaptureResult{Plan: &model.Plan{Root: &model.PlanNode{OpType: "SeqScan"}}, RawJSON: "{}"}, nil
		},
	}
	comp := &fakeCompletion{err: apperrors.NewUnavailable("connection refused")}

	orch := New(st, map[model.Engine]gateway.Gateway{model.EnginePG: gw}, testDetector(), comp, nil, testCfg(), logger.NewLogger("orchestrator_test"))

	opt, err := orch.Optimize(context.Background(), 1, "SELECT 1", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StrategyFailedUpstream, opt.ParsingStrategy)
	assert.Empty(t, opt.OptimizedSQL)
	assert.Contains(t, opt.Explanation, "completion service")
}

func TestOptimize_NoCompletionServiceConfigured(t *testing.T) {
	st := &fakeStore{conn: testConn()}
	gw := &fakeGateway{
		engine: model.EnginePG,
		capturePlan: func(ctx context.Context, sql string, analyze bool) (*gateway.PlanCaptureResult, error) {
			return &gateway.PlanCaptureResult{Plan: &model.Plan{Root: &model.PlanNode{OpType: "SeqScan"}}, RawJSON: "{}"}, nil
		},
	}

	orch := New(st, map[model.Engine]gateway.Gateway{model.EnginePG: gw}, testDetector(), nil, nil, testCfg(), logger.NewLogger("orchestrator_test"))

	opt, err := orch.Optimize(context.Background(), 1, "SELECT 1", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StrategyFailedUpstream, opt.ParsingStrategy)
}

func TestOptimize_UnknownEngineReturnsCapabilityError(t *testing.T) {
	st := &fakeStore{conn: testConn()}
	orch := New(st, map[model.Engine]gateway.Gateway{}, testDetector(), &fakeCompletion{}, nil, testCfg(), logger.NewLogger("orchestrator_test"))

	_, err := orch.Optimize(context.Background(), 1, "SELECT 1", nil)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.Capability))
}

func TestOptimize_ConnectionLookupErrorPropagates(t *testing.T) {
	st := &fakeStore{getConnErr: apperrors.NewNotFound("connection 1 not found")}
	orch := New(st, map[model.Engine]gateway.Gateway{}, testDetector(), &fakeCompletion{}, nil, testCfg(), logger.NewLogger("orchestrator_test"))

	_, err := orch.Optimize(context.Background(), 1, "SELECT 1", nil)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.NotFound))
}

func TestLookupPatternCached_PopulatesCacheOnMiss(t *testing.T) {
	pattern := &model.OptimizationPattern{ID: 7, Engine: model.EnginePG, Signature: "sig-1", Type: model.PatternAntiPattern}
	st := &fakeStore{pattern: pattern}
	cch := cache.NewMemoryCache(100)
	orch := New(st, map[model.Engine]gateway.Gateway{}, testDetector(), nil, cch, testCfg(), logger.NewLogger("orchestrator_test"))

	got, ok := orch.lookupPatternCached(context.Background(), model.EnginePG, "sig-1")
	require.True(t, ok)
	assert.Equal(t, pattern.ID, got.ID)

	raw, found := cch.Get(context.Background(), cache.PatternKey("PG", "sig-1"))
	require.True(t, found)
	var cached model.OptimizationPattern
	require.NoError(t, json.Unmarshal([]byte(raw), &cached))
	assert.Equal(t, pattern.ID, cached.ID)
}

func TestLookupPatternCached_ServesFromCacheWithoutStore(t *testing.T) {
	st := &fakeStore{patternErr: apperrors.NewFatal("store should not be consulted on a cache hit")}
	cch := cache.NewMemoryCache(100)
	orch := New(st, map[model.Engine]gateway.Gateway{}, testDetector(), nil, cch, testCfg(), logger.NewLogger("orchestrator_test"))

	raw, err := json.Marshal(&model.OptimizationPattern{ID: 9, Signature: "sig-2"})
	require.NoError(t, err)
	require.NoError(t, cch.Set(context.Background(), cache.PatternKey("PG", "sig-2"), string(raw), time.Minute))

	got, ok := orch.lookupPatternCached(context.Background(), model.EnginePG, "sig-2")
	require.True(t, ok)
	assert.Equal(t, int64(9), got.ID)
}
