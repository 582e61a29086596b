package model

import "time"

// IndexKind names the physical index structure (spec §3
// "IndexRecommendation").
type IndexKind string

const (
	IndexBTree IndexKind = "BTREE"
	IndexHash  IndexKind = "HASH"
	IndexGIN   IndexKind = "GIN"
	IndexGiST  IndexKind = "GIST"
)

// IndexAction is whether the recommendation is to create or drop an index.
type IndexAction string

const (
	IndexActionCreate IndexAction = "CREATE"
	IndexActionDrop   IndexAction = "DROP"
)

// IndexRecommendationStatus tracks whether an index recommendation has been
// acted on.
type IndexRecommendationStatus string

const (
	IndexRecommended IndexRecommendationStatus = "RECOMMENDED"
	IndexCreated     IndexRecommendationStatus = "CREATED"
	IndexDropped     IndexRecommendationStatus = "DROPPED"
	IndexRejected    IndexRecommendationStatus = "REJECTED"
)

// IndexRecommendation is an index a query plan suggests should exist or be
// dropped (spec §3).
type IndexRecommendation struct {
	ID               int64
	ConnectionID     int64
	Table            string
	Columns          []string
	Kind             IndexKind
	Action           IndexAction
	EstimatedBenefit float64
	TimesReferenced  int64
	Status           IndexRecommendationStatus
	CreatedAt        time.Time
	ActedAt          *time.Time
}

// ExistingIndex describes an index already present on a target table, as
// reported by the gateway's index catalog introspection (spec §4.2).
type ExistingIndex struct {
	Name          string
	Table         string
	Columns       []string
	Kind          IndexKind
	TimesUsed     int64 // -1 when the engine does not expose usage counters
	LeadingColumn string
}
