package facade

import (
	"context"

	"github.com/sqlopt/engine/internal/apperrors"
	"github.com/sqlopt/engine/internal/applicator"
	"github.com/sqlopt/engine/internal/detector"
	"github.com/sqlopt/engine/internal/model"
	"github.com/sqlopt/engine/internal/normalize"
)

// Optimize runs the full optimization pipeline for an ad-hoc SQL statement
// against connectionID (spec §6.1 "Optimizer.optimize").
func (f *Facade) Optimize(ctx context.Context, connectionID int64, sql string, queryID *int64) (*model.Optimization, error) {
	return f.orchestrator.Optimize(ctx, connectionID, sql, queryID)
}

// PlanExplanation is Optimizer.explain_plan's response shape (spec §6.1).
type PlanExplanation struct {
	Explanation    string
	Summary        string
	KeyOperations  []string
	Bottlenecks    []string
	EstimatedCost  *float64
}

// ExplainPlan captures and explains sql's execution plan against
// connectionID without generating a rewrite or persisting an Optimization:
// it runs only the plan-capture and detection halves of the optimize
// pipeline (spec §6.1 "Optimizer.explain_plan(connection_id, sql, plan?)").
func (f *Facade) ExplainPlan(ctx context.Context, connectionID int64, sql string) (*PlanExplanation, error) {
	conn, err := f.store.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	gw, ok := f.gateways[conn.Engine]
	if !ok {
		return nil, apperrors.NewCapability("no gateway registered for engine %s", conn.Engine)
	}

	result, err := gw.CapturePlan(ctx, connectionID, sql, true)
	if err != nil && apperrors.Is(err, apperrors.Capability) {
		result, err = gw.CapturePlan(ctx, connectionID, sql, false)
	}
	if err != nil {
		return nil, apperrors.WrapUpstream(err, "capture plan for connection %d", connectionID)
	}

	normalizedSQL := normalize.Normalize(sql)
	detection := f.detector.Detect(&detector.Input{
		Engine:        conn.Engine,
		SQL:           sql,
		NormalizedSQL: normalizedSQL,
		Plan:          result.Plan,
	})

	return summarizePlan(result.Plan, detection), nil
}

// summarizePlan turns a captured Plan and its DetectionResult into the flat
// explain_plan response: key_operations names every distinct operator type
// the plan touches; bottlenecks is each detected issue's title, already
// ordered by severity by the detector.
func summarizePlan(plan *model.Plan, detection *model.DetectionResult) *PlanExplanation {
	exp := &PlanExplanation{Summary: detection.Summary}
	for _, issue := range detection.Issues {
		exp.Bottlenecks = append(exp.Bottlenecks, issue.Title)
	}

	if plan == nil {
		exp.Explanation = "no execution plan could be captured for this statement"
		return exp
	}

	seen := map[model.PlanOpType]bool{}
	plan.Walk(func(n *model.PlanNode) {
		if !seen[n.OpType] {
			seen[n.OpType] = true
			exp.KeyOperations = append(exp.KeyOperations, string(n.OpType))
		}
	})

	cost := plan.Root.Cost.Total
	exp.EstimatedCost = &cost
	exp.Explanation = planNarrative(plan, detection)
	return exp
}

// planNarrative is a short human-readable summary of a plan's shape,
// mirroring what the orchestrator asks an upstream completion service to
// produce, but computed locally since explain_plan has no completion round
// trip to make (spec §6.1 distinguishes it from optimize by never calling
// the CompletionService).
func planNarrative(plan *model.Plan, detection *model.DetectionResult) string {
	root := plan.Root
	narrative := "root operation " + string(root.OpType)
	if root.Relation != "" {
		narrative += " on " + root.Relation
	}
	if detection.Total == 0 {
		return narrative + "; no issues detected"
	}
	return narrative + "; " + detection.Summary
}

// FixCategories is Optimizer.generate_fixes's response shape, bucketing
// candidate fixes by the transport-facing category names spec §6.1 uses
// (indexes/maintenance/rewrites/config) rather than model.FixType's wire
// values.
type FixCategories struct {
	Indexes     []*model.IndexRecommendation
	Maintenance []string
	Rewrites    []string
	Config      []string
}

// GenerateFixes derives candidate fixes from optimizationID's detected
// issues, bucketed into the four categories spec §6.1 names. categories, if
// non-empty, restricts which buckets are populated.
func (f *Facade) GenerateFixes(ctx context.Context, optimizationID int64, categories map[string]bool) (*FixCategories, error) {
	opt, err := f.store.GetOptimization(ctx, optimizationID)
	if err != nil {
		return nil, err
	}

	want := func(bucket string) bool {
		return len(categories) == 0 || categories[bucket]
	}

	out := &FixCategories{}
	for _, issue := range opt.DetectedIssues {
		switch issue.Type {
		case model.IssueMissingIndex, model.IssueInefficientIndex, model.IssueWrongCardinality:
			if want("indexes") {
				out.Indexes = append(out.Indexes, &model.IndexRecommendation{
					ConnectionID:     opt.ConnectionID,
					Action:           model.IndexActionCreate,
					EstimatedBenefit: estimatedBenefit(issue),
					Status:           model.IndexRecommended,
				})
			}
		case model.IssueStaleStatistics:
			if want("maintenance") {
				out.Maintenance = append(out.Maintenance, "ANALYZE the affected table to refresh planner statistics")
			}
		case model.IssueFullTableScan, model.IssueHighIOWorkload:
			if want("maintenance") {
				out.Maintenance = append(out.Maintenance, "VACUUM the affected table to reclaim bloat driving the scan cost")
			}
		case model.IssueSuboptimalPattern, model.IssueORMGenerated, model.IssuePoorJoinStrategy, model.IssueInefficientReporting:
			if want("rewrites") && opt.OptimizedSQL != "" {
				out.Rewrites = append(out.Rewrites, opt.OptimizedSQL)
			}
		}
	}
	if want("config") && len(out.Indexes) == 0 && len(out.Maintenance) == 0 && len(out.Rewrites) == 0 {
		out.Config = append(out.Config, "no targeted fix was derivable from detected issues; review server-level configuration manually")
	}
	return out, nil
}

// ApplyFixRequest is Optimizer.apply_fix's input (spec §6.1).
type ApplyFixRequest struct {
	OptimizationID int64
	ConnectionID   int64
	FixType        model.FixType
	SQL            string
	PriorState     string
	DryRun         bool
	SkipSafety     bool
}

// ApplyFix runs the applicator's safety-gated apply for req.
func (f *Facade) ApplyFix(ctx context.Context, req ApplyFixRequest) (*model.AppliedFix, error) {
	return f.applicator.Apply(ctx, &applicator.FixRequest{
		OptimizationID: req.OptimizationID,
		ConnectionID:   req.ConnectionID,
		FixType:        req.FixType,
		ForwardSQL:     req.SQL,
		PriorState:     req.PriorState,
		DryRun:         req.DryRun,
		SkipSafety:     req.SkipSafety,
	})
}

// Validate re-measures optimizationID's original and optimized SQL,
// overriding the configured iteration count when iterations > 0 (spec §6.1
// "Optimizer.validate(optimization_id, iterations)").
func (f *Facade) Validate(ctx context.Context, optimizationID int64, iterations int) (*model.ValidationResult, error) {
	return f.validator.ValidateN(ctx, optimizationID, iterations)
}

// Rollback reverts one specific applied fix, or the most recently applied
// fix for connectionID when fixID is nil (spec §6.1 "Optimizer.rollback
// (fix_id?)").
func (f *Facade) Rollback(ctx context.Context, connectionID int64, fixID *int64) (*model.AppliedFix, error) {
	if fixID != nil {
		return f.applicator.RollbackByID(ctx, *fixID)
	}
	return f.applicator.RollbackLast(ctx, connectionID)
}

// estimatedBenefit approximates an index recommendation's payoff from its
// triggering issue's severity, since the detector's per-rule Metrics bags
// carry rule-specific numbers (selectivity, row ratios) rather than a
// single comparable benefit figure.
func estimatedBenefit(issue *model.DetectedIssue) float64 {
	switch issue.Severity {
	case model.SeverityCritical:
		return 75
	case model.SeverityHigh:
		return 50
	case model.SeverityMedium:
		return 25
	default:
		return 10
	}
}
