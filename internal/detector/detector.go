// Package detector evaluates a captured execution plan (and the SQL text
// it came from) against a fixed library of rules, producing the structured
// findings an Optimization attaches to its CompletionRequest (spec §4.4).
package detector

import (
	"sort"
	"time"

	"github.com/sqlopt/engine/internal/common/config"
	"github.com/sqlopt/engine/internal/common/logger"
	"github.com/sqlopt/engine/internal/model"
)

// Input bundles everything a rule may need to evaluate.
type Input struct {
	Engine        model.Engine
	SQL           string
	NormalizedSQL string
	Plan          *model.Plan
	TableRows     map[string]int64 // table name -> approximate row count
	TableStats    map[string]TableStats
	ExistingIdx   map[string][]model.ExistingIndex // table -> indexes
}

// TableStats is the planner-statistics freshness signal a rule can consult
// (spec §4.4 "STALE_STATISTICS").
type TableStats struct {
	EstimatedRows int64
	ActualRows    int64
	LastAnalyzed  time.Time
}

// Rule is one detection rule. Detect returns zero or more findings; rules
// never error — an internal failure is logged and treated as no finding.
type Rule interface {
	Detect(in *Input, cfg *config.DetectorConfig) []*model.DetectedIssue
}

// Detector runs the fixed rule library over an Input and assembles a
// stably-ordered DetectionResult (spec §8: severity desc, type asc, title
// asc).
type Detector struct {
	rules []Rule
	cfg   *config.DetectorConfig
	log   logger.Logger
}

// New constructs a Detector with the full built-in rule library.
func New(cfg *config.DetectorConfig, log logger.Logger) *Detector {
	return &Detector{
		cfg: cfg,
		log: log.WithField("component", "detector"),
		rules: []Rule{
			&missingIndexRule{},
			&inefficientIndexRule{},
			&poorJoinStrategyRule{},
			&fullTableScanRule{},
			&suboptimalPatternRule{},
			&staleStatisticsRule{},
			&wrongCardinalityRule{},
			&ormGeneratedRule{},
			&highIOWorkloadRule{},
			&inefficientReportingRule{},
		},
	}
}

// Detect runs every rule and returns a stably-ordered result.
func (d *Detector) Detect(in *Input) *model.DetectionResult {
	var issues []*model.DetectedIssue
	for _, r := range d.rules {
		found := safeDetect(r, in, d.cfg, d.log)
		issues = append(issues, found...)
	}

	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Severity != issues[j].Severity {
			return issues[i].Severity > issues[j].Severity
		}
		if issues[i].Type != issues[j].Type {
			return issues[i].Type < issues[j].Type
		}
		return issues[i].Title < issues[j].Title
	})

	counts := map[model.Severity]int{}
	for _, i := range issues {
		counts[i.Severity]++
	}

	return &model.DetectionResult{
		Issues:           issues,
		CountsBySeverity: counts,
		Total:            len(issues),
		Summary:          summarize(issues),
	}
}

func safeDetect(r Rule, in *Input, cfg *config.DetectorConfig, log logger.Logger) (found []*model.DetectedIssue) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Warnf("detection rule panicked, skipping: %v", rec)
			found = nil
		}
	}()
	return r.Detect(in, cfg)
}

func summarize(issues []*model.DetectedIssue) string {
	if len(issues) == 0 {
		return "no issues detected"
	}
	counts := map[model.IssueType]int{}
	for _, i := range issues {
		counts[i.Type]++
	}
	return formatSummary(len(issues), counts)
}
