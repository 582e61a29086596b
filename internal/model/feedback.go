package model

import "time"

// FeedbackStatus records the operator's ground-truth verdict after applying
// an optimization (spec §3 "Feedback").
type FeedbackStatus string

const (
	FeedbackSuccess FeedbackStatus = "SUCCESS"
	FeedbackFailed  FeedbackStatus = "FAILED"
	FeedbackPartial FeedbackStatus = "PARTIAL"
)

// PerformanceMetrics is a value object (not persisted on its own) describing
// one measurement of a query's execution characteristics (spec §3). Any
// subset may be absent (zero value with the corresponding Has* flag false)
// depending on what the engine exposes.
type PerformanceMetrics struct {
	ExecutionTimeMs float64
	PlanningTimeMs  float64
	RowsReturned    int64
	BufferHits      int64
	BufferReads     int64
	IOCost          float64

	HasPlanningTime bool
	HasBufferStats  bool
	HasIOCost       bool
}

// Feedback is the ground-truth record after applying an optimization
// (spec §3).
type Feedback struct {
	ID                      int64
	OptimizationID          int64
	BeforeMetrics           PerformanceMetrics
	AfterMetrics            PerformanceMetrics
	ActualImprovementPct    float64
	EstimatedImprovementPct float64
	AccuracyScore           float64
	OperatorRating          *int // 1..5, nullable
	OperatorComment         string
	Status                  FeedbackStatus
	AppliedAt               time.Time
	MeasuredAt              time.Time
}
