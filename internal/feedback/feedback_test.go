package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlopt/engine/internal/common/logger"
	"github.com/sqlopt/engine/internal/model"
)

type fakeStore struct {
	opt  *model.Optimization
	conn *model.Connection

	recordedFeedback []*model.Feedback
	nextFeedbackID   int64

	listFeedback           []*model.Feedback
	listFeedbackErr        error
	lastConnectionIDFilter *int64

	recordedOutcomes []recordedOutcome
	recordOutcomeErr error

	seeded []seededPattern
}

type recordedOutcome struct {
	engine            model.Engine
	patternType       model.PatternType
	signature         string
	originalTemplate  string
	optimizedTemplate string
	success           bool
	improvementPct    float64
}

type seededPattern struct {
	engine            model.Engine
	patternType       model.PatternType
	signature         string
	originalTemplate  string
	optimizedTemplate string
}

func (f *fakeStore) GetOptimization(ctx context.Context, id int64) (*model.Optimization, error) {
	return f.opt, nil
}

func (f *fakeStore) GetConnection(ctx context.Context, id int64) (*model.Connection, error) {
	return f.conn, nil
}

func (f *fakeStore) RecordFeedback(ctx context.Context, fb *model.Feedback) (int64, error) {
	f.nextFeedbackID++
	f.recordedFeedback = append(f.recordedFeedback, fb)
	return f.nextFeedbackID, nil
}

func (f *fakeStore) ListFeedback(ctx context.Context, connectionID *int64) ([]*model.Feedback, error) {
	f.lastConnectionIDFilter = connectionID
	return f.listFeedback, f.listFeedbackErr
}

func (f *fakeStore) ListFeedbackByOptimization(ctx context.Context, optimizationID int64) ([]*model.Feedback, error) {
	return f.listFeedback, f.listFeedbackErr
}

func (f *fakeStore) RecordPatternOutcome(ctx context.Context, engine model.Engine, patternType model.PatternType, signature, originalTemplate, optimizedTemplate string, success bool, improvementPct float64) error {
	f.recordedOutcomes = append(f.recordedOutcomes, recordedOutcome{
		engine: engine, patternType: patternType, signature: signature,
		originalTemplate: originalTemplate, optimizedTemplate: optimizedTemplate,
		success: success, improvementPct: improvementPct,
	})
	return f.recordOutcomeErr
}

func (f *fakeStore) SeedPattern(ctx context.Context, engine model.Engine, patternType model.PatternType, signature, originalTemplate, optimizedTemplate string) error {
	f.seeded = append(f.seeded, seededPattern{engine, patternType, signature, originalTemplate, optimizedTemplate})
	return nil
}

func (f *fakeStore) LookupPattern(ctx context.Context, engine model.Engine, signature string) (*model.OptimizationPattern, error) {
	return nil, nil
}

func (f *fakeStore) TopPatterns(ctx context.Context, engine model.Engine, patternType model.PatternType, limit int) ([]*model.OptimizationPattern, error) {
	return nil, nil
}

func testLogger() logger.Logger { return logger.NewLogger("feedback_test") }

func baseOptimization() *model.Optimization {
	return &model.Optimization{
		ID:                      1,
		ConnectionID:            7,
		OriginalSQL:             "SELECT * FROM orders WHERE status = 'open'",
		OptimizedSQL:            "SELECT id, status FROM orders WHERE status = 'open'",
		EstimatedImprovementPct: 30,
		DetectedIssues: []*model.DetectedIssue{
			{Type: model.IssueMissingIndex, Severity: model.SeverityHigh},
			{Type: model.IssueSuboptimalPattern, Severity: model.SeverityMedium},
		},
	}
}

func TestSubmit_ComputesImprovementAndAccuracyAndRecordsSuccess(t *testing.T) {
	fs := &fakeStore{opt: baseOptimization(), conn: &model.Connection{ID: 7, Engine: model.EnginePG}}
	lib := New(fs, 10, testLogger())

	before := model.PerformanceMetrics{ExecutionTimeMs: 100}
	after := model.PerformanceMetrics{ExecutionTimeMs: 60}

	fb, err := lib.Submit(context.Background(), 1, before, after, nil, "")
	require.NoError(t, err)

	assert.InDelta(t, 40.0, fb.ActualImprovementPct, 0.0001)
	// accuracy = 1 - min(1, |40-30|/max(1,40)) = 1 - 10/40 = 0.75
	assert.InDelta(t, 0.75, fb.AccuracyScore, 0.0001)
	assert.Equal(t, model.FeedbackSuccess, fb.Status)
	assert.Equal(t, int64(1), fb.ID)

	require.Len(t, fs.recordedOutcomes, 1)
	outcome := fs.recordedOutcomes[0]
	assert.True(t, outcome.success)
	assert.Equal(t, model.PatternIndexRecommendation, outcome.patternType)
	assert.InDelta(t, 40.0, outcome.improvementPct, 0.0001)
}

func TestSubmit_BelowThresholdIsPartialNotSuccess(t *testing.T) {
	fs := &fakeStore{opt: baseOptimization(), conn: &model.Connection{ID: 7, Engine: model.EnginePG}}
	lib := New(fs, 10, testLogger())

	before := model.PerformanceMetrics{ExecutionTimeMs: 100}
	after := model.PerformanceMetrics{ExecutionTimeMs: 95}

	fb, err := lib.Submit(context.Background(), 1, before, after, nil, "")
	require.NoError(t, err)

	assert.InDelta(t, 5.0, fb.ActualImprovementPct, 0.0001)
	assert.Equal(t, model.FeedbackPartial, fb.Status)
	require.Len(t, fs.recordedOutcomes, 1)
	assert.False(t, fs.recordedOutcomes[0].success)
}

func TestSubmit_RegressionIsFailed(t *testing.T) {
	fs := &fakeStore{opt: baseOptimization(), conn: &model.Connection{ID: 7, Engine: model.EnginePG}}
	lib := New(fs, 10, testLogger())

	before := model.PerformanceMetrics{ExecutionTimeMs: 100}
	after := model.PerformanceMetrics{ExecutionTimeMs: 150}

	fb, err := lib.Submit(context.Background(), 1, before, after, nil, "")
	require.NoError(t, err)

	assert.Less(t, fb.ActualImprovementPct, 0.0)
	assert.Equal(t, model.FeedbackFailed, fb.Status)
}

func TestSubmit_ZeroBeforeExecutionTimeYieldsZeroImprovement(t *testing.T) {
	fs := &fakeStore{opt: baseOptimization(), conn: &model.Connection{ID: 7, Engine: model.EnginePG}}
	lib := New(fs, 10, testLogger())

	before := model.PerformanceMetrics{ExecutionTimeMs: 0}
	after := model.PerformanceMetrics{ExecutionTimeMs: 0}

	fb, err := lib.Submit(context.Background(), 1, before, after, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 0.0, fb.ActualImprovementPct)
}

func TestSubmit_UsesOptimizationAppliedAtWhenPresent(t *testing.T) {
	applied := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	opt := baseOptimization()
	opt.AppliedAt = &applied
	fs := &fakeStore{opt: opt, conn: &model.Connection{ID: 7, Engine: model.EnginePG}}
	lib := New(fs, 10, testLogger())

	fb, err := lib.Submit(context.Background(), 1, model.PerformanceMetrics{ExecutionTimeMs: 100}, model.PerformanceMetrics{ExecutionTimeMs: 50}, nil, "")
	require.NoError(t, err)
	assert.True(t, applied.Equal(fb.AppliedAt))
}

func TestClassifyPatternType_PicksMostSevereIssue(t *testing.T) {
	opt := &model.Optimization{
		DetectedIssues: []*model.DetectedIssue{
			{Type: model.IssueSuboptimalPattern, Severity: model.SeverityLow},
			{Type: model.IssuePoorJoinStrategy, Severity: model.SeverityCritical},
			{Type: model.IssueMissingIndex, Severity: model.SeverityHigh},
		},
	}
	assert.Equal(t, model.PatternJoinOptimization, classifyPatternType(opt))
}

func TestClassifyPatternType_NoIssuesFallsBackToQueryRewrite(t *testing.T) {
	opt := &model.Optimization{}
	assert.Equal(t, model.PatternQueryRewrite, classifyPatternType(opt))
}

func TestAccuracyScore_PerfectEstimateIsOne(t *testing.T) {
	assert.Equal(t, 1.0, accuracyScore(25, 25))
}

func TestAccuracyScore_ZeroActualUsesFloorOfOne(t *testing.T) {
	// actual=0, estimated=50: 1 - min(1, 50/max(1,0)) = 1 - min(1, 50) = 0
	assert.Equal(t, 0.0, accuracyScore(0, 50))
}

func TestStats_AggregatesAcrossFeedback(t *testing.T) {
	fs := &fakeStore{listFeedback: []*model.Feedback{
		{AccuracyScore: 0.8, ActualImprovementPct: 20, Status: model.FeedbackSuccess},
		{AccuracyScore: 0.6, ActualImprovementPct: 5, Status: model.FeedbackPartial},
		{AccuracyScore: 0.9, ActualImprovementPct: 30, Status: model.FeedbackSuccess},
	}}
	lib := New(fs, 10, testLogger())

	stats, err := lib.Stats(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.InDelta(t, (0.8+0.6+0.9)/3, stats.MeanAccuracy, 0.0001)
	assert.InDelta(t, (20.0+5.0+30.0)/3, stats.MeanImprovement, 0.0001)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 0.0001)
}

func TestStats_EmptyFeedbackReturnsZeroValueStats(t *testing.T) {
	fs := &fakeStore{listFeedback: nil}
	lib := New(fs, 10, testLogger())

	stats, err := lib.Stats(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, &Stats{}, stats)
}

func TestStats_PassesConnectionIDFilterThrough(t *testing.T) {
	fs := &fakeStore{listFeedback: nil}
	lib := New(fs, 10, testLogger())

	connID := int64(42)
	_, err := lib.Stats(context.Background(), &connID)
	require.NoError(t, err)
	require.NotNil(t, fs.lastConnectionIDFilter)
	assert.Equal(t, int64(42), *fs.lastConnectionIDFilter)
}

func TestSeedCommonPatterns_SeedsAllFiveNamedPatterns(t *testing.T) {
	fs := &fakeStore{}
	lib := New(fs, 10, testLogger())

	err := lib.SeedCommonPatterns(context.Background(), model.EngineMySQL)
	require.NoError(t, err)
	require.Len(t, fs.seeded, 5)
	for _, s := range fs.seeded {
		assert.Equal(t, model.EngineMySQL, s.engine)
		assert.NotEmpty(t, s.signature)
		assert.NotEmpty(t, s.originalTemplate)
		assert.NotEmpty(t, s.optimizedTemplate)
	}
}
