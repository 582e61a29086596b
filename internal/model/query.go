package model

import "time"

// DiscoveredQuery is one logically distinct query observed on a connection
// (spec §3 "DiscoveredQuery"). (ConnectionID, Fingerprint) is unique;
// LastSeen >= FirstSeen; counters only increase across polls unless a
// source reset is detected, in which case the lifetime rebaselines from the
// current sample (spec §9 open question #1 — this implementation rebaselines
// the same row rather than creating a new one).
type DiscoveredQuery struct {
	ID             int64
	ConnectionID   int64
	Fingerprint    string
	SampleSQL      string
	NormalizedSQL  string
	FirstSeen      time.Time
	LastSeen       time.Time
	LifetimeCalls  int64
	LifetimeTotalExecMs float64
	LifetimeRows   int64
	SourceQueryID  string // opaque engine-reported id, e.g. PG's queryid

	// ResetCount records how many times a source-side counter reset has
	// been detected and rebaselined for this row.
	ResetCount int
}

// AvgExecMs returns the lifetime mean execution time, or 0 if no calls have
// been observed yet.
func (q *DiscoveredQuery) AvgExecMs() float64 {
	if q.LifetimeCalls == 0 {
		return 0
	}
	return q.LifetimeTotalExecMs / float64(q.LifetimeCalls)
}

// AvgRows returns the lifetime mean rows returned per call.
func (q *DiscoveredQuery) AvgRows() float64 {
	if q.LifetimeCalls == 0 {
		return 0
	}
	return float64(q.LifetimeRows) / float64(q.LifetimeCalls)
}

// RawSample is one aggregated sample pulled from a target's performance
// catalog during a discovery poll, before it is merged into a
// DiscoveredQuery's lifetime counters.
type RawSample struct {
	ConnectionID   int64
	SQL            string
	Calls          int64
	TotalExecMs    float64
	Rows           int64
	SourceQueryID  string
	BufferHitRatio float64 // -1 when the engine exposes no buffer counters
}
