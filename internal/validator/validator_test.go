package validator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlopt/engine/internal/apperrors"
	"github.com/sqlopt/engine/internal/common/config"
	"github.com/sqlopt/engine/internal/common/logger"
	"github.com/sqlopt/engine/internal/gateway"
	"github.com/sqlopt/engine/internal/model"
)

type fakeStore struct {
	opt  *model.Optimization
	conn *model.Connection

	transitionedTo     model.OptimizationStatus
	transitionedResult *model.ValidationResult
	transitionErr      error
}

func (s *fakeStore) GetOptimization(ctx context.Context, id int64) (*model.Optimization, error) {
	return s.opt, nil
}

func (s *fakeStore) GetConnection(ctx context.Context, id int64) (*model.Connection, error) {
	return s.conn, nil
}

func (s *fakeStore) TransitionOptimization(ctx context.Context, id int64, to model.OptimizationStatus, vr *model.ValidationResult) error {
	if s.transitionErr != nil {
		return s.transitionErr
	}
	s.transitionedTo = to
	s.transitionedResult = vr
	return nil
}

type fakeRow struct{ val int64 }

func (r fakeRow) Scan(dest ...interface{}) error {
	*(dest[0].(*int64)) = r.val
	return nil
}

// fakeGateway measures a query by inspecting whether the caller's sql
// (visible inside the wrapped counting query) contains an "optimized"
// marker, so tests can give the original and optimized statements distinct
// row counts and simulated costs.
type fakeGateway struct {
	engine model.Engine

	originalRows, optimizedRows   int64
	originalDelay, optimizedDelay time.Duration
	execErr                       error
}

func (g *fakeGateway) Engine() model.Engine { return g.engine }
func (g *fakeGateway) Open(ctx context.Context, conn *model.Connection, creds model.DecryptedCredentials) error {
	return nil
}
func (g *fakeGateway) TestConnection(ctx context.Context, connectionID int64) error { return nil }
func (g *fakeGateway) Close(ctx context.Context, connectionID int64) error          { return nil }
func (g *fakeGateway) SchemaDDL(ctx context.Context, connectionID int64, tables []string) ([]gateway.TableSchema, error) {
	return nil, nil
}
func (g *fakeGateway) TopQueries(ctx context.Context, connectionID int64, limit int) ([]model.RawSample, error) {
	return nil, nil
}
func (g *fakeGateway) CapturePlan(ctx context.Context, connectionID int64, sql string, analyze bool) (*gateway.PlanCaptureResult, error) {
	return nil, nil
}
func (g *fakeGateway) ExecuteDDL(ctx context.Context, connectionID int64, ddl string) (time.Duration, error) {
	return 0, nil
}
func (g *fakeGateway) ExistingIndexes(ctx context.Context, connectionID int64, table string) ([]model.ExistingIndex, error) {
	return nil, nil
}

func (g *fakeGateway) ExecuteInTx(ctx context.Context, connectionID int64, fn func(ctx context.Context, tx gateway.Tx) error) error {
	if g.execErr != nil {
		return g.execErr
	}
	return fn(ctx, &fakeTx{g: g})
}

type fakeTx struct{ g *fakeGateway }

func (t *fakeTx) ExecContext(ctx context.Context, query string, args ...interface{}) error {
	return nil
}

func (t *fakeTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) gateway.Row {
	if strings.Contains(query, "optimized_marker") {
		time.Sleep(t.g.optimizedDelay)
		return fakeRow{val: t.g.optimizedRows}
	}
	time.Sleep(t.g.originalDelay)
	return fakeRow{val: t.g.originalRows}
}

type fakeApplicator struct {
	rolledBackConn int64
	called         bool
	err            error
}

func (a *fakeApplicator) RollbackLast(ctx context.Context, connectionID int64) (*model.AppliedFix, error) {
	a.called = true
	a.rolledBackConn = connectionID
	return &model.AppliedFix{ID: 1}, a.err
}

func testValidatorCfg() *config.ValidatorConfig {
	return &config.ValidatorConfig{Iterations: 3, AutoRevertOnRegression: true}
}

func testOptimizerCfg() *config.OptimizerConfig {
	return &config.OptimizerConfig{MinImprovementPct: 10.0, MaxRegressionPct: 5.0}
}

func newValidator(t *testing.T, gw gateway.Gateway, st *fakeStore, app Applicator, vcfg *config.ValidatorConfig) *Validator {
	t.Helper()
	gateways := map[model.Engine]gateway.Gateway{model.EnginePG: gw}
	return New(st, gateways, app, vcfg, testOptimizerCfg(), logger.NewLogger("validator_test"))
}

func TestValidateN_OverridesConfiguredIterationCount(t *testing.T) {
	st := &fakeStore{
		opt:  &model.Optimization{ID: 1, ConnectionID: 1, OriginalSQL: "SELECT * FROM t", OptimizedSQL: "SELECT * FROM t /* optimized_marker */"},
		conn: &model.Connection{ID: 1, Engine: model.EnginePG},
	}
	gw := &fakeGateway{engine: model.EnginePG, originalRows: 100, optimizedRows: 100}
	v := newValidator(t, gw, st, nil, testValidatorCfg())

	result, err := v.ValidateN(context.Background(), 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Iterations)
}

func TestValidateN_ZeroOrNegativeFallsBackToConfiguredDefault(t *testing.T) {
	st := &fakeStore{
		opt:  &model.Optimization{ID: 1, ConnectionID: 1, OriginalSQL: "SELECT * FROM t", OptimizedSQL: "SELECT * FROM t /* optimized_marker */"},
		conn: &model.Connection{ID: 1, Engine: model.EnginePG},
	}
	gw := &fakeGateway{engine: model.EnginePG, originalRows: 100, optimizedRows: 100}
	v := newValidator(t, gw, st, nil, testValidatorCfg())

	result, err := v.ValidateN(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Iterations)
}

func TestValidate_FasterOptimizationMarksValidated(t *testing.T) {
	st := &fakeStore{
		opt:  &model.Optimization{ID: 1, ConnectionID: 1, OriginalSQL: "SELECT * FROM t", OptimizedSQL: "SELECT * FROM t /* optimized_marker */"},
		conn: &model.Connection{ID: 1, Engine: model.EnginePG},
	}
	gw := &fakeGateway{
		engine:        model.EnginePG,
		originalRows:  100,
		optimizedRows: 100,
		originalDelay: 4 * time.Millisecond,
	}
	v := newValidator(t, gw, st, nil, testValidatorCfg())

	result, err := v.Validate(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, result.IsFaster)
	assert.Empty(t, result.RegressedOn)
	assert.Equal(t, 3, result.Iterations)
	assert.Equal(t, model.StatusValidated, st.transitionedTo)
	assert.Same(t, result, st.transitionedResult)
}

func TestValidate_NoImprovementMarksValidationFailedAndAutoReverts(t *testing.T) {
	st := &fakeStore{
		opt:  &model.Optimization{ID: 2, ConnectionID: 7, OriginalSQL: "SELECT * FROM t", OptimizedSQL: "SELECT * FROM t /* optimized_marker */"},
		conn: &model.Connection{ID: 7, Engine: model.EnginePG},
	}
	gw := &fakeGateway{engine: model.EnginePG, originalRows: 100, optimizedRows: 100}
	app := &fakeApplicator{}
	v := newValidator(t, gw, st, app, testValidatorCfg())

	result, err := v.Validate(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, result.IsFaster)
	assert.Equal(t, model.StatusValidationFailed, st.transitionedTo)
	assert.True(t, app.called)
	assert.Equal(t, int64(7), app.rolledBackConn)
}

func TestValidate_AutoRevertDisabledSkipsRollback(t *testing.T) {
	st := &fakeStore{
		opt:  &model.Optimization{ID: 3, ConnectionID: 1, OriginalSQL: "SELECT * FROM t", OptimizedSQL: "SELECT * FROM t /* optimized_marker */"},
		conn: &model.Connection{ID: 1, Engine: model.EnginePG},
	}
	gw := &fakeGateway{engine: model.EnginePG, originalRows: 100, optimizedRows: 100}
	app := &fakeApplicator{}
	v := newValidator(t, gw, st, app, &config.ValidatorConfig{Iterations: 2, AutoRevertOnRegression: false})

	result, err := v.Validate(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, result.IsFaster)
	assert.False(t, app.called)
}

func TestValidate_RowRegressionFailsEvenWhenFaster(t *testing.T) {
	st := &fakeStore{
		opt:  &model.Optimization{ID: 4, ConnectionID: 1, OriginalSQL: "SELECT * FROM t", OptimizedSQL: "SELECT * FROM t /* optimized_marker */"},
		conn: &model.Connection{ID: 1, Engine: model.EnginePG},
	}
	gw := &fakeGateway{
		engine:        model.EnginePG,
		originalRows:  100,
		optimizedRows: 200,
		originalDelay: 4 * time.Millisecond,
	}
	v := newValidator(t, gw, st, nil, testValidatorCfg())

	result, err := v.Validate(context.Background(), 4)
	require.NoError(t, err)
	assert.False(t, result.IsFaster)
	assert.Contains(t, result.RegressedOn, "rows_returned")
}

func TestValidate_RejectsOptimizationWithoutOptimizedSQL(t *testing.T) {
	st := &fakeStore{opt: &model.Optimization{ID: 5, ConnectionID: 1, OriginalSQL: "SELECT 1"}}
	v := newValidator(t, &fakeGateway{engine: model.EnginePG}, st, nil, testValidatorCfg())

	_, err := v.Validate(context.Background(), 5)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.Input))
}

func TestValidate_UnknownEngineReturnsCapabilityError(t *testing.T) {
	st := &fakeStore{
		opt:  &model.Optimization{ID: 6, ConnectionID: 1, OriginalSQL: "SELECT 1", OptimizedSQL: "SELECT 1"},
		conn: &model.Connection{ID: 1, Engine: model.EngineMySQL},
	}
	v := newValidator(t, &fakeGateway{engine: model.EnginePG}, st, nil, testValidatorCfg())

	_, err := v.Validate(context.Background(), 6)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.Capability))
}

func TestAggregate_MeanAndStdDev(t *testing.T) {
	agg := aggregate([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, agg.Mean, 1e-9)
	assert.InDelta(t, 2.138, agg.StdDev, 1e-3)
	assert.Equal(t, 8, agg.N)
}

func TestAggregate_SingleSampleHasZeroStdDev(t *testing.T) {
	agg := aggregate([]float64{42})
	assert.Equal(t, 42.0, agg.Mean)
	assert.Equal(t, 0.0, agg.StdDev)
}

func TestRegressionPct_ZeroBaselineNeverRegresses(t *testing.T) {
	assert.Equal(t, 0.0, regressionPct(0, 100))
}

func TestRegressionPct_ImprovementIsNotRegression(t *testing.T) {
	assert.Equal(t, 0.0, regressionPct(100, 90))
}

func TestRegressionPct_GrowthComputesPercentage(t *testing.T) {
	assert.InDelta(t, 10.0, regressionPct(100, 110), 1e-9)
}
