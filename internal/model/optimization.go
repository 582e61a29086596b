package model

import "time"

// OptimizationStatus is the Optimization lifecycle state (spec §4.6.4):
//
//	GENERATED -> APPLIED -> (VALIDATED | VALIDATION_FAILED) -> (REVERTED)?
//
// REVERTED is also reachable directly from APPLIED on explicit operator
// action. GENERATED is terminal if no fix is ever applied.
type OptimizationStatus string

const (
	StatusGenerated        OptimizationStatus = "GENERATED"
	StatusApplied          OptimizationStatus = "APPLIED"
	StatusReverted         OptimizationStatus = "REVERTED"
	StatusValidated        OptimizationStatus = "VALIDATED"
	StatusValidationFailed OptimizationStatus = "VALIDATION_FAILED"
)

// ParsingStrategy records which layered parsing strategy (spec §4.5)
// successfully extracted SQL from a CompletionService response.
type ParsingStrategy string

const (
	StrategyTaggedSection   ParsingStrategy = "tagged_section"
	StrategyFencedCodeBlock ParsingStrategy = "fenced_code_block"
	StrategyFirstSQLToken   ParsingStrategy = "first_sql_token"
	StrategyKeywordDensity  ParsingStrategy = "keyword_density"
	StrategyFullResponse    ParsingStrategy = "full_response_validated"
	StrategyEmergencyRegex  ParsingStrategy = "emergency_regex"
	StrategyRawResponse     ParsingStrategy = "raw_response"
	StrategyFailedUpstream  ParsingStrategy = "failed_upstream"
)

// Optimization is one end-to-end attempt to improve a query (spec §3).
type Optimization struct {
	ID                      int64
	ConnectionID            int64
	QueryID                 *int64 // nullable: ad-hoc queries have none
	OriginalSQL             string
	OptimizedSQL            string
	Explanation             string
	GeneralRecommendations  []string
	ExecutionPlanSnapshot   string // opaque JSON
	EstimatedImprovementPct float64
	DetectedIssues          []*DetectedIssue
	ValidationResult        *ValidationResult // nullable
	ParsingStrategy         ParsingStrategy
	CreatedAt               time.Time
	AppliedAt               *time.Time
	Status                  OptimizationStatus
}

// validTransitions enumerates the legal Optimization state machine edges
// (spec §4.6.4). Any transition not listed here is illegal.
var validTransitions = map[OptimizationStatus]map[OptimizationStatus]bool{
	StatusGenerated: {
		StatusApplied: true,
	},
	StatusApplied: {
		StatusValidated:        true,
		StatusValidationFailed: true,
		StatusReverted:         true,
	},
	StatusValidated: {
		StatusReverted: true,
	},
	StatusValidationFailed: {
		StatusReverted: true,
	},
	StatusReverted: {},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal edge
// in the Optimization state machine.
func CanTransition(from, to OptimizationStatus) bool {
	edges, ok := validTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}
