package model

import "time"

// WorkloadClass is the inferred shape of a connection's workload over a
// bucket (spec §3 "WorkloadSample").
type WorkloadClass string

const (
	WorkloadOLTP  WorkloadClass = "OLTP"
	WorkloadOLAP  WorkloadClass = "OLAP"
	WorkloadMixed WorkloadClass = "MIXED"
)

// SlowQueryThresholdMs is the fixed threshold (spec §3) above which a query
// execution counts as "slow" for WorkloadSample.SlowQueries.
const SlowQueryThresholdMs = 1000.0

// WorkloadSample is a time-bucketed roll-up per connection (spec §3).
type WorkloadSample struct {
	ConnectionID  int64
	BucketStart   time.Time // hour truncation
	TotalQueries  int64
	SlowQueries   int64
	MeanExecMs    float64
	WorkloadClass WorkloadClass
	// Degraded marks a bucket where the connection's performance-view
	// capability was unavailable for part or all of the poll (spec §4.2,
	// §9 "Degraded connection").
	Degraded bool
}

// ClassifyWorkload infers an OLTP/OLAP/MIXED label from a query rate and
// mean execution time: high call volume with fast, short executions reads
// as OLTP; low volume with long executions reads as OLAP; anything that
// straddles both thresholds is MIXED.
func ClassifyWorkload(totalQueries int64, meanExecMs float64) WorkloadClass {
	const oltpMeanMs = 50.0
	const olapMeanMs = 500.0
	const highVolume = 1000

	fast := meanExecMs <= oltpMeanMs
	slow := meanExecMs >= olapMeanMs
	busy := totalQueries >= highVolume

	switch {
	case fast && busy:
		return WorkloadOLTP
	case slow && !busy:
		return WorkloadOLAP
	default:
		return WorkloadMixed
	}
}
