package orchestrator

import (
	"regexp"
	"strconv"

	"github.com/sqlopt/engine/internal/model"
)

// percentHintPattern matches a structured percent hint the CompletionService
// response may carry, e.g. "Estimated improvement: 35%".
var percentHintPattern = regexp.MustCompile(`(?i)estimated improvement:?\s*(\d+(?:\.\d+)?)\s*%`)

// severityWeight and a fixed per-issue-type improvement hint together
// approximate spec §4.5's "Σ (severity_weight × issue_improvement_hint)".
var severityWeight = map[model.Severity]float64{
	model.SeverityLow:      0.25,
	model.SeverityMedium:   0.5,
	model.SeverityHigh:     0.75,
	model.SeverityCritical: 1.0,
}

var issueImprovementHint = map[model.IssueType]float64{
	model.IssueMissingIndex:         40,
	model.IssueInefficientIndex:     25,
	model.IssuePoorJoinStrategy:     30,
	model.IssueFullTableScan:        35,
	model.IssueSuboptimalPattern:    20,
	model.IssueStaleStatistics:      15,
	model.IssueWrongCardinality:     20,
	model.IssueORMGenerated:         15,
	model.IssueHighIOWorkload:       25,
	model.IssueInefficientReporting: 20,
}

// estimateImprovement returns a structured percent hint found in the
// completion response if present, otherwise derives a rough estimate from
// the detected issues, clamped to [0, 95] (spec §4.5 "Estimated
// improvement").
func estimateImprovement(rawResponse string, issues []*model.DetectedIssue) float64 {
	if m := percentHintPattern.FindStringSubmatch(rawResponse); len(m) > 1 {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return clamp(v, 0, 95)
		}
	}

	var total float64
	for _, issue := range issues {
		total += severityWeight[issue.Severity] * issueImprovementHint[issue.Type]
	}
	return clamp(total, 0, 95)
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
