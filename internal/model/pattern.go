package model

// PatternType categorizes a reusable query-rewrite pattern (spec §3
// "OptimizationPattern").
type PatternType string

const (
	PatternJoinOptimization      PatternType = "JOIN_OPTIMIZATION"
	PatternSubqueryOptimization  PatternType = "SUBQUERY_OPTIMIZATION"
	PatternIndexRecommendation   PatternType = "INDEX_RECOMMENDATION"
	PatternQueryRewrite          PatternType = "QUERY_REWRITE"
	PatternAggregationOptimization PatternType = "AGGREGATION_OPTIMIZATION"
	PatternWindowFunction        PatternType = "WINDOW_FUNCTION"
	PatternCTEOptimization       PatternType = "CTE_OPTIMIZATION"
	PatternAntiPattern           PatternType = "ANTI_PATTERN"
)

// OptimizationPattern is a reusable rewrite pattern keyed by signature
// (spec §3). Signature is unique per Engine; SuccessRate =
// Successes/Applications when Applications >= 1.
type OptimizationPattern struct {
	ID                     int64
	Type                   PatternType
	Signature              string
	OriginalTemplate       string
	OptimizedTemplate      string
	Engine                 Engine
	LifetimeApplications   int64
	LifetimeSuccesses      int64
	RollingSuccessRate     float64
	RollingMeanImprovement float64

	// WelfordM2 is the running sum of squared deviations used by Welford's
	// algorithm to update RollingMeanImprovement without replaying history.
	// It is an implementation detail of the rolling aggregate, not part of
	// the persisted contract beyond round-tripping through the store.
	WelfordM2   float64
	WelfordMean float64
	WelfordN    int64
}
