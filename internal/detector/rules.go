package detector

import (
	"fmt"
	"regexp"
	"time"

	"github.com/expr-lang/expr"

	"github.com/sqlopt/engine/internal/common/config"
	"github.com/sqlopt/engine/internal/model"
)

// evalNode runs a boolean expr-lang condition against one plan node's
// exported fields plus the supplied threshold values, the same
// env-then-compile-then-run shape used throughout this package's
// expression-driven rules.
func evalNode(condition string, node *model.PlanNode, extra map[string]interface{}) (bool, error) {
	env := map[string]interface{}{
		"op_type":        string(node.OpType),
		"relation":       node.Relation,
		"estimated_rows": node.Rows.Estimated,
		"actual_rows":    node.Rows.Actual,
		"has_actual":     node.Rows.HasActual(),
		"row_ratio":      node.Rows.Ratio(),
		"cost":           node.Cost.Total,
	}
	for k, v := range extra {
		env[k] = v
	}
	program, err := expr.Compile(condition, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile rule condition: %w", err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate rule condition: %w", err)
	}
	matched, _ := out.(bool)
	return matched, nil
}

// missingIndexRule fires when a sequential scan's row estimate exceeds the
// configured missing-index threshold, independent of overall table size —
// a small table with a selective filter and no index still wastes work
// proportional to its estimate (spec §4.4 "MISSING_INDEX").
type missingIndexRule struct{}

func (missingIndexRule) Detect(in *Input, cfg *config.DetectorConfig) []*model.DetectedIssue {
	if in.Plan == nil {
		return nil
	}
	var issues []*model.DetectedIssue
	for _, n := range in.Plan.Nodes() {
		if n.OpType != model.OpSeqScan || n.Relation == "" {
			continue
		}
		tableRows := in.TableRows[n.Relation]
		ok, err := evalNode(
			"op_type == 'SEQ_SCAN' && estimated_rows > missing_index_row_threshold",
			n, map[string]interface{}{
				"missing_index_row_threshold": cfg.MissingIndexRowThreshold,
			})
		if err != nil || !ok {
			continue
		}
		issues = append(issues, &model.DetectedIssue{
			Type:        model.IssueMissingIndex,
			Severity:    model.SeverityHigh,
			Title:       fmt.Sprintf("Missing index on %s", n.Relation),
			Description: fmt.Sprintf("Sequential scan on %s (~%d rows) estimates %d rows returned; no suitable index is used.", n.Relation, tableRows, int64(n.Rows.Estimated)),
			AffectedObjects: []string{n.Relation},
			Recommendations: []string{fmt.Sprintf("Consider an index on %s covering the scan's filter columns.", n.Relation)},
			Metrics:     map[string]interface{}{"table_rows": tableRows, "estimated_rows": n.Rows.Estimated},
			DetectedAt:  time.Now(),
		})
	}
	return issues
}

// inefficientIndexRule fires when an index scan returns more than 20% of
// its table's rows (actual rows / table rows > 0.2): the index is used but
// barely narrows the scan (spec §4.4 "INEFFICIENT_INDEX").
type inefficientIndexRule struct{}

func (inefficientIndexRule) Detect(in *Input, cfg *config.DetectorConfig) []*model.DetectedIssue {
	if in.Plan == nil {
		return nil
	}
	var issues []*model.DetectedIssue
	for _, n := range in.Plan.Nodes() {
		if n.OpType != model.OpIndexScan || !n.Rows.HasActual() {
			continue
		}
		idxName, _ := n.Extra["index_name"].(string)
		tableRows := in.TableRows[n.Relation]
		if tableRows <= 0 || n.Rows.Actual <= 0 {
			continue
		}
		selectivity := n.Rows.Actual / float64(tableRows)
		if selectivity <= 0.2 {
			continue
		}
		issues = append(issues, &model.DetectedIssue{
			Type:        model.IssueInefficientIndex,
			Severity:    model.SeverityMedium,
			Title:       fmt.Sprintf("Low-selectivity index on %s", n.Relation),
			Description: fmt.Sprintf("Index %s on %s returns %.0f%% of the table's rows; it narrows the scan very little.", idxName, n.Relation, selectivity*100),
			AffectedObjects: []string{n.Relation, idxName},
			Recommendations: []string{"Consider a more selective composite index or re-ordering predicate columns."},
			Metrics:     map[string]interface{}{"selectivity": selectivity},
			DetectedAt:  time.Now(),
		})
	}
	return issues
}

// poorJoinStrategyRule fires on a nested-loop join whose inner side is
// itself a sequential scan over a table above the large-table threshold —
// an O(N*M) shape the planner should usually avoid at that scale (spec §4.4
// "POOR_JOIN_STRATEGY").
type poorJoinStrategyRule struct{}

func (poorJoinStrategyRule) Detect(in *Input, cfg *config.DetectorConfig) []*model.DetectedIssue {
	if in.Plan == nil {
		return nil
	}
	var issues []*model.DetectedIssue
	in.Plan.Walk(func(n *model.PlanNode) {
		if n.OpType != model.OpNestedLoop {
			return
		}
		for _, child := range n.Children {
			if child.OpType == model.OpSeqScan && in.TableRows[child.Relation] > cfg.LargeTableThreshold(in.Engine.String()) {
				issues = append(issues, &model.DetectedIssue{
					Type:        model.IssuePoorJoinStrategy,
					Severity:    model.SeverityHigh,
					Title:       fmt.Sprintf("Nested loop over large table %s", child.Relation),
					Description: fmt.Sprintf("A nested-loop join scans %s (~%d rows) on its inner side for every outer row.", child.Relation, in.TableRows[child.Relation]),
					AffectedObjects: []string{child.Relation},
					Recommendations: []string{"Consider a hash or merge join, or add an index to support an index-nested-loop."},
					DetectedAt:  time.Now(),
				})
			}
		}
	})
	return issues
}

// fullTableScanRule fires on any sequential scan over a table above the
// large-table threshold, independent of whether an index would help (spec
// §4.4 "FULL_TABLE_SCAN" — broader signal than MISSING_INDEX).
type fullTableScanRule struct{}

func (fullTableScanRule) Detect(in *Input, cfg *config.DetectorConfig) []*model.DetectedIssue {
	if in.Plan == nil {
		return nil
	}
	var issues []*model.DetectedIssue
	for _, n := range in.Plan.Nodes() {
		if n.OpType != model.OpSeqScan {
			continue
		}
		rows := in.TableRows[n.Relation]
		ok, err := evalNode("op_type == 'SEQ_SCAN' && table_rows > threshold", n, map[string]interface{}{
			"table_rows": rows,
			"threshold":  cfg.LargeTableThreshold(in.Engine.String()),
		})
		if err != nil || !ok {
			continue
		}
		issues = append(issues, &model.DetectedIssue{
			Type:        model.IssueFullTableScan,
			Severity:    model.SeverityMedium,
			Title:       fmt.Sprintf("Full table scan on %s", n.Relation),
			Description: fmt.Sprintf("%s (~%d rows) is scanned in full.", n.Relation, rows),
			AffectedObjects: []string{n.Relation},
			Metrics:     map[string]interface{}{"table_rows": rows},
			DetectedAt:  time.Now(),
		})
	}
	return issues
}

var (
	selectStarPattern     = regexp.MustCompile(`(?i)select\s+\*`)
	orChainPattern        = regexp.MustCompile(`(?i)\bor\b`)
	correlatedSubqPattern = regexp.MustCompile(`(?i)where\s+.*\(\s*select\b.*=\s*\w+\.\w+`)
	unionPattern          = regexp.MustCompile(`(?i)\bunion\b`)
	unionAllPattern       = regexp.MustCompile(`(?i)\bunion\s+all\b`)
	functionOnColPattern  = regexp.MustCompile(`(?i)where\s+\w+\s*\(\s*\w+\.\w+\s*\)\s*=`)
	leadingWildcardPattern = regexp.MustCompile(`(?i)\blike\s+'%`)
	notInSubqueryPattern   = regexp.MustCompile(`(?i)\bnot\s+in\s*\(\s*select\b`)
	scalarSubqSelectPattern = regexp.MustCompile(`(?i)select\s+(?:[\w.*]+\s*,\s*)*\(\s*select\b`)
)

// suboptimalPatternRule does textual matching over the SQL (not the plan)
// for the common anti-patterns the pattern library also knows how to
// rewrite (spec §4.4 "SUBOPTIMAL_PATTERN", §4.7).
type suboptimalPatternRule struct{}

func (suboptimalPatternRule) Detect(in *Input, cfg *config.DetectorConfig) []*model.DetectedIssue {
	var issues []*model.DetectedIssue
	add := func(title, desc string, sev model.Severity) {
		issues = append(issues, &model.DetectedIssue{
			Type:        model.IssueSuboptimalPattern,
			Severity:    sev,
			Title:       title,
			Description: desc,
			DetectedAt:  time.Now(),
		})
	}
	sql := in.NormalizedSQL
	if selectStarPattern.MatchString(sql) {
		add("SELECT * used", "Selecting all columns prevents index-only scans and over-fetches data.", model.SeverityLow)
	}
	if len(orChainPattern.FindAllStringIndex(sql, -1))+1 > cfg.MaxOrBranches {
		add("Long OR chain", "A chain of OR predicates often prevents index use; consider rewriting as IN.", model.SeverityMedium)
	}
	if correlatedSubqPattern.MatchString(sql) {
		add("Correlated subquery", "A correlated subquery re-executes per outer row; consider rewriting as a join.", model.SeverityHigh)
	}
	if len(unionPattern.FindAllStringIndex(sql, -1)) > len(unionAllPattern.FindAllStringIndex(sql, -1)) {
		add("UNION without ALL", "UNION deduplicates with an implicit sort/hash; use UNION ALL if duplicates are acceptable.", model.SeverityLow)
	}
	if functionOnColPattern.MatchString(sql) {
		add("Function wrapping an indexed column", "Wrapping a column in a function makes the predicate non-sargable.", model.SeverityMedium)
	}
	// leadingWildcardPattern needs the literal LIKE pattern's text, which
	// NormalizedSQL has already blanked to "?"; match against the raw SQL.
	if leadingWildcardPattern.MatchString(in.SQL) {
		add("Leading wildcard LIKE", "A LIKE pattern starting with % cannot use a standard B-tree index and forces a full scan.", model.SeverityMedium)
	}
	if notInSubqueryPattern.MatchString(sql) {
		add("NOT IN with subquery", "NOT IN (SELECT ...) silently returns no rows if the subquery yields a NULL and usually can't use an index; rewrite as NOT EXISTS.", model.SeverityHigh)
	}
	if scalarSubqSelectPattern.MatchString(sql) {
		add("Scalar subquery in SELECT list", "A subquery in the SELECT list re-executes per outer row; consider a join or window function.", model.SeverityMedium)
	}
	return issues
}

// staleStatisticsRule fires when a plan node's row estimate diverges
// sharply from the actual row count, the signature of stale planner
// statistics (spec §4.4 "STALE_STATISTICS").
type staleStatisticsRule struct{}

func (staleStatisticsRule) Detect(in *Input, cfg *config.DetectorConfig) []*model.DetectedIssue {
	if in.Plan == nil {
		return nil
	}
	var issues []*model.DetectedIssue
	for _, n := range in.Plan.Nodes() {
		if !n.Rows.HasActual() || n.Rows.Estimated <= 0 {
			continue
		}
		ratio := n.Rows.Ratio()
		if ratio == 0 {
			continue
		}
		if ratio > cfg.StaleStatsRatio || (ratio > 0 && 1/ratio > cfg.StaleStatsRatio) {
			issues = append(issues, &model.DetectedIssue{
				Type:        model.IssueStaleStatistics,
				Severity:    model.SeverityMedium,
				Title:       fmt.Sprintf("Planner estimate off by %.1fx on %s", ratio, n.Relation),
				Description: fmt.Sprintf("Estimated %d rows, actual %d — statistics may be stale.", int64(n.Rows.Estimated), int64(n.Rows.Actual)),
				AffectedObjects: []string{n.Relation},
				Recommendations: []string{"Run ANALYZE (or the engine's equivalent) on this table."},
				Metrics:     map[string]interface{}{"estimate_ratio": ratio},
				DetectedAt:  time.Now(),
			})
		}
	}
	return issues
}

// wrongCardinalityRule fires when a join's actual row output is an order of
// magnitude larger than its estimate, signalling the planner chose a join
// strategy sized for the wrong cardinality (spec §4.4 "WRONG_CARDINALITY").
type wrongCardinalityRule struct{}

func (wrongCardinalityRule) Detect(in *Input, cfg *config.DetectorConfig) []*model.DetectedIssue {
	if in.Plan == nil {
		return nil
	}
	var issues []*model.DetectedIssue
	joinOps := map[model.PlanOpType]bool{model.OpNestedLoop: true, model.OpHashJoin: true, model.OpMergeJoin: true}
	for _, n := range in.Plan.Nodes() {
		if !joinOps[n.OpType] || !n.Rows.HasActual() || n.Rows.Estimated <= 0 {
			continue
		}
		if n.Rows.Ratio() >= 10 {
			issues = append(issues, &model.DetectedIssue{
				Type:        model.IssueWrongCardinality,
				Severity:    model.SeverityHigh,
				Title:       fmt.Sprintf("%s cardinality misestimate", n.OpType),
				Description: fmt.Sprintf("Join estimated %d rows but produced %d; the chosen join strategy likely doesn't suit this cardinality.", int64(n.Rows.Estimated), int64(n.Rows.Actual)),
				Metrics:     map[string]interface{}{"row_ratio": n.Rows.Ratio()},
				DetectedAt:  time.Now(),
			})
		}
	}
	return issues
}

var ormMarkerPattern = regexp.MustCompile(`(?i)/\*\s*(generated by|hibernate|entity framework|sqlalchemy|activerecord)`)

// ormGeneratedRule flags SQL bearing an ORM-generated marker comment,
// surfaced as a lower-urgency informational finding rather than a
// performance defect in itself (spec §4.4 "ORM_GENERATED").
type ormGeneratedRule struct{}

func (ormGeneratedRule) Detect(in *Input, cfg *config.DetectorConfig) []*model.DetectedIssue {
	if !ormMarkerPattern.MatchString(in.SQL) {
		return nil
	}
	return []*model.DetectedIssue{{
		Type:        model.IssueORMGenerated,
		Severity:    model.SeverityLow,
		Title:       "ORM-generated query",
		Description: "This query carries an ORM marker comment; rewrites should preserve semantics the ORM depends on.",
		DetectedAt:  time.Now(),
	}}
}

// highIOWorkloadRule fires when the fraction of buffer accesses that needed
// a physical read (Plan.IOHitRatio: reads / (hits + reads)) exceeds the
// configured threshold, indicating the query is disk-bound rather than
// cache-served (spec §4.4 "HIGH_IO_WORKLOAD").
type highIOWorkloadRule struct{}

func (highIOWorkloadRule) Detect(in *Input, cfg *config.DetectorConfig) []*model.DetectedIssue {
	if in.Plan == nil {
		return nil
	}
	ratio := in.Plan.IOHitRatio()
	if ratio < 0 {
		return nil
	}
	env := map[string]interface{}{"io_ratio": ratio, "threshold": cfg.HighIOThreshold}
	program, err := expr.Compile("io_ratio > threshold", expr.Env(env), expr.AsBool())
	if err != nil {
		return nil
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil
	}
	if matched, _ := out.(bool); !matched {
		return nil
	}
	return []*model.DetectedIssue{{
		Type:        model.IssueHighIOWorkload,
		Severity:    model.SeverityHigh,
		Title:       "High disk I/O ratio",
		Description: fmt.Sprintf("%.0f%% of buffer accesses required a physical read.", ratio*100),
		Metrics:     map[string]interface{}{"io_ratio": ratio},
		DetectedAt:  time.Now(),
	}}
}

// inefficientReportingRule fires when a plan stacks multiple window-function
// or aggregate nodes with a sort beneath each, a shape typical of reporting
// queries that recompute aggregates the database could share (spec §4.4
// "INEFFICIENT_REPORTING").
type inefficientReportingRule struct{}

func (inefficientReportingRule) Detect(in *Input, cfg *config.DetectorConfig) []*model.DetectedIssue {
	if in.Plan == nil {
		return nil
	}
	windowCount := 0
	sortCount := 0
	for _, n := range in.Plan.Nodes() {
		if n.OpType == model.OpWindowAgg {
			windowCount++
		}
		if n.OpType == model.OpSort {
			sortCount++
		}
	}
	if windowCount < 2 || sortCount < 2 {
		return nil
	}
	return []*model.DetectedIssue{{
		Type:        model.IssueInefficientReporting,
		Severity:    model.SeverityMedium,
		Title:       "Redundant window/sort stacking",
		Description: fmt.Sprintf("Plan contains %d window-function nodes and %d sorts; a single windowed pass may replace several.", windowCount, sortCount),
		Metrics:     map[string]interface{}{"window_nodes": windowCount, "sort_nodes": sortCount},
		DetectedAt:  time.Now(),
	}}
}
