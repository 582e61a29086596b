// Package feedback implements the Feedback & Pattern Library (C7, spec
// §4.7): ingesting ground-truth outcomes, updating the reusable
// query-rewrite pattern library with Welford-aggregated statistics, and
// seeding the fixed set of well-known anti-pattern rewrites on startup.
package feedback

import (
	"context"
	"math"
	"time"

	"github.com/sqlopt/engine/internal/common/logger"
	"github.com/sqlopt/engine/internal/model"
	"github.com/sqlopt/engine/internal/normalize"
	"github.com/sqlopt/engine/internal/store"
)

// Store is the subset of *store.Store the library depends on.
type Store interface {
	GetOptimization(ctx context.Context, id int64) (*model.Optimization, error)
	GetConnection(ctx context.Context, id int64) (*model.Connection, error)
	RecordFeedback(ctx context.Context, f *model.Feedback) (int64, error)
	ListFeedback(ctx context.Context, connectionID *int64) ([]*model.Feedback, error)
	ListFeedbackByOptimization(ctx context.Context, optimizationID int64) ([]*model.Feedback, error)
	RecordPatternOutcome(ctx context.Context, engine model.Engine, patternType model.PatternType, signature, originalTemplate, optimizedTemplate string, success bool, improvementPct float64) error
	SeedPattern(ctx context.Context, engine model.Engine, patternType model.PatternType, signature, originalTemplate, optimizedTemplate string) error
	LookupPattern(ctx context.Context, engine model.Engine, signature string) (*model.OptimizationPattern, error)
	TopPatterns(ctx context.Context, engine model.Engine, patternType model.PatternType, limit int) ([]*model.OptimizationPattern, error)
}

var _ Store = (*store.Store)(nil)

// Stats is the aggregate Feedback.stats(connection_id?) result (spec §6.1).
type Stats struct {
	Total           int
	MeanAccuracy    float64
	MeanImprovement float64
	SuccessRate     float64
}

// Library is the concrete C7 implementation.
type Library struct {
	store                  Store
	minSuccessThresholdPct float64
	log                    logger.Logger
}

// New builds a Library. minSuccessThresholdPct is the actual-improvement
// cutoff above which a submitted Feedback counts as a pattern success
// (spec §4.7 default 10%).
func New(st Store, minSuccessThresholdPct float64, log logger.Logger) *Library {
	return &Library{
		store:                  st,
		minSuccessThresholdPct: minSuccessThresholdPct,
		log:                    log.WithField("component", "feedback"),
	}
}

// Submit ingests a ground-truth outcome for optimizationID: computes
// actual_improvement_pct and accuracy_score, persists the Feedback record,
// and folds the outcome into the matching OptimizationPattern's rolling
// statistics (spec §4.7).
func (l *Library) Submit(ctx context.Context, optimizationID int64, before, after model.PerformanceMetrics, rating *int, comment string) (*model.Feedback, error) {
	opt, err := l.store.GetOptimization(ctx, optimizationID)
	if err != nil {
		return nil, err
	}
	conn, err := l.store.GetConnection(ctx, opt.ConnectionID)
	if err != nil {
		return nil, err
	}

	actual := actualImprovementPct(before, after)
	accuracy := accuracyScore(actual, opt.EstimatedImprovementPct)
	success := actual >= l.minSuccessThresholdPct

	status := model.FeedbackFailed
	switch {
	case success:
		status = model.FeedbackSuccess
	case actual > 0:
		status = model.FeedbackPartial
	}

	appliedAt := time.Now().UTC()
	if opt.AppliedAt != nil {
		appliedAt = *opt.AppliedAt
	}

	f := &model.Feedback{
		OptimizationID:          optimizationID,
		BeforeMetrics:           before,
		AfterMetrics:            after,
		ActualImprovementPct:    actual,
		EstimatedImprovementPct: opt.EstimatedImprovementPct,
		AccuracyScore:           accuracy,
		OperatorRating:          rating,
		OperatorComment:         comment,
		Status:                  status,
		AppliedAt:               appliedAt,
	}
	id, err := l.store.RecordFeedback(ctx, f)
	if err != nil {
		return nil, err
	}
	f.ID = id

	patternType := classifyPatternType(opt)
	signature := normalize.PatternSignature(opt.OriginalSQL)
	if err := l.store.RecordPatternOutcome(ctx, conn.Engine, patternType, signature, opt.OriginalSQL, opt.OptimizedSQL, success, actual); err != nil {
		l.log.WithField("optimization_id", optimizationID).WithField("error", err.Error()).
			Error("failed to update pattern statistics for submitted feedback")
		return f, err
	}
	return f, nil
}

// Stats aggregates every Feedback row, optionally scoped to one connection
// (spec §6.1 "Feedback.stats(connection_id?)").
func (l *Library) Stats(ctx context.Context, connectionID *int64) (*Stats, error) {
	rows, err := l.store.ListFeedback(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &Stats{}, nil
	}

	var sumAccuracy, sumImprovement float64
	var successes int
	for _, f := range rows {
		sumAccuracy += f.AccuracyScore
		sumImprovement += f.ActualImprovementPct
		if f.Status == model.FeedbackSuccess {
			successes++
		}
	}
	n := float64(len(rows))
	return &Stats{
		Total:           len(rows),
		MeanAccuracy:    sumAccuracy / n,
		MeanImprovement: sumImprovement / n,
		SuccessRate:     float64(successes) / n,
	}, nil
}

// History returns every Feedback recorded for one optimization, oldest
// first.
func (l *Library) History(ctx context.Context, optimizationID int64) ([]*model.Feedback, error) {
	return l.store.ListFeedbackByOptimization(ctx, optimizationID)
}

// TopPatterns returns the library's best-evidenced patterns for an engine
// and type, ranked success_rate * log(1 + applications) (spec §4.7).
func (l *Library) TopPatterns(ctx context.Context, engine model.Engine, patternType model.PatternType, limit int) ([]*model.OptimizationPattern, error) {
	return l.store.TopPatterns(ctx, engine, patternType, limit)
}

// commonPattern is a seed row for one well-known anti-pattern rewrite.
type commonPattern struct {
	patternType       model.PatternType
	signature         string
	originalTemplate  string
	optimizedTemplate string
}

// commonPatterns is the fixed seed list from spec §4.7: "SELECT * →
// explicit columns; correlated subquery → join; OR chain → IN; UNION →
// UNION ALL when duplicate-free; function-on-column → sargable rewrite".
// Signatures are deliberately loose fragments, not full PatternSignature
// output, since these seeds describe a shape rather than one exact query.
var commonPatterns = []commonPattern{
	{
		patternType:       model.PatternAntiPattern,
		signature:         "SELECT * FROM",
		originalTemplate:  "SELECT * FROM t",
		optimizedTemplate: "SELECT col1, col2, ... FROM t",
	},
	{
		patternType:       model.PatternJoinOptimization,
		signature:         "SELECT WHERE EXISTS ( SELECT FROM correlated )",
		originalTemplate:  "SELECT * FROM a WHERE EXISTS (SELECT 1 FROM b WHERE b.a_id = a.id)",
		optimizedTemplate: "SELECT a.* FROM a JOIN b ON b.a_id = a.id",
	},
	{
		patternType:       model.PatternQueryRewrite,
		signature:         "SELECT WHERE col = ? OR col = ? OR col = ?",
		originalTemplate:  "SELECT * FROM t WHERE col = ? OR col = ? OR col = ?",
		optimizedTemplate: "SELECT * FROM t WHERE col IN (?, ?, ?)",
	},
	{
		patternType:       model.PatternQueryRewrite,
		signature:         "SELECT UNION SELECT",
		originalTemplate:  "SELECT ... UNION SELECT ...",
		optimizedTemplate: "SELECT ... UNION ALL SELECT ...",
	},
	{
		patternType:       model.PatternIndexRecommendation,
		signature:         "SELECT WHERE FUNC ( col ) = ?",
		originalTemplate:  "SELECT * FROM t WHERE LOWER(col) = ?",
		optimizedTemplate: "SELECT * FROM t WHERE col = ? -- with a case-insensitive or expression index",
	},
}

// SeedCommonPatterns idempotently seeds the fixed list of well-known
// anti-pattern rewrites for one engine (spec §4.7 "Common patterns").
// Safe to call on every startup.
func (l *Library) SeedCommonPatterns(ctx context.Context, engine model.Engine) error {
	for _, p := range commonPatterns {
		if err := l.store.SeedPattern(ctx, engine, p.patternType, p.signature, p.originalTemplate, p.optimizedTemplate); err != nil {
			return err
		}
	}
	return nil
}

// actualImprovementPct is (before - after) / before on execution time,
// mirroring the Validator's own improvement arithmetic (spec §4.6.2/§4.7
// share the same definition of "improvement").
func actualImprovementPct(before, after model.PerformanceMetrics) float64 {
	if before.ExecutionTimeMs <= 0 {
		return 0
	}
	return (before.ExecutionTimeMs - after.ExecutionTimeMs) / before.ExecutionTimeMs * 100
}

// accuracyScore implements spec §4.7's
// accuracy_score = 1 - min(1, |actual - estimated| / max(1, actual)).
func accuracyScore(actual, estimated float64) float64 {
	denom := math.Max(1, actual)
	diff := math.Abs(actual - estimated)
	return 1 - math.Min(1, diff/denom)
}

// classifyPatternType maps an Optimization's most severe detected issue to
// the OptimizationPattern bucket its outcome should update. Falls back to
// PatternQueryRewrite when no issue was recorded (e.g. an ad-hoc optimize
// call with no prior detection pass).
func classifyPatternType(opt *model.Optimization) model.PatternType {
	var best *model.DetectedIssue
	for _, issue := range opt.DetectedIssues {
		if best == nil || issue.Severity > best.Severity {
			best = issue
		}
	}
	if best == nil {
		return model.PatternQueryRewrite
	}
	switch best.Type {
	case model.IssueMissingIndex, model.IssueInefficientIndex, model.IssueFullTableScan, model.IssueWrongCardinality:
		return model.PatternIndexRecommendation
	case model.IssuePoorJoinStrategy:
		return model.PatternJoinOptimization
	case model.IssueHighIOWorkload, model.IssueInefficientReporting:
		return model.PatternAggregationOptimization
	case model.IssueSuboptimalPattern, model.IssueORMGenerated:
		return model.PatternAntiPattern
	case model.IssueStaleStatistics:
		return model.PatternQueryRewrite
	default:
		return model.PatternQueryRewrite
	}
}
