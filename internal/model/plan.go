package model

// PlanOpType is the controlled vocabulary every engine's native plan
// operator name is mapped into (spec §4.4).
type PlanOpType string

const (
	OpSeqScan       PlanOpType = "SEQ_SCAN"
	OpIndexScan     PlanOpType = "INDEX_SCAN"
	OpIndexOnlyScan PlanOpType = "INDEX_ONLY_SCAN"
	OpBitmapScan    PlanOpType = "BITMAP_SCAN"
	OpNestedLoop    PlanOpType = "NESTED_LOOP"
	OpHashJoin      PlanOpType = "HASH_JOIN"
	OpMergeJoin     PlanOpType = "MERGE_JOIN"
	OpAggregate     PlanOpType = "AGGREGATE"
	OpSort          PlanOpType = "SORT"
	OpLimit         PlanOpType = "LIMIT"
	OpGather        PlanOpType = "GATHER"
	OpCTE           PlanOpType = "CTE"
	OpMaterialize   PlanOpType = "MATERIALIZE"
	OpHash          PlanOpType = "HASH"
	OpFilter        PlanOpType = "FILTER"
	OpWindowAgg     PlanOpType = "WINDOW_AGG"
	OpUnknown       PlanOpType = "UNKNOWN"
)

// RowEstimate holds an operator's estimated vs. actual row count, when the
// engine's EXPLAIN ANALYZE output provides both.
type RowEstimate struct {
	Estimated float64
	Actual    float64 // -1 when not available (EXPLAIN without ANALYZE)
}

// HasActual reports whether an actual row count was captured.
func (r RowEstimate) HasActual() bool { return r.Actual >= 0 }

// Ratio returns Actual/Estimated, or 0 if either is unavailable/zero.
func (r RowEstimate) Ratio() float64 {
	if !r.HasActual() || r.Estimated <= 0 {
		return 0
	}
	return r.Actual / r.Estimated
}

// CostEstimate holds an operator's estimated cost, in the engine's native
// cost units (not comparable across engines).
type CostEstimate struct {
	Startup float64
	Total   float64
}

// PlanNode is one operator in a normalized execution plan tree (spec §4.4).
type PlanNode struct {
	OpType   PlanOpType
	Relation string // qualified table/index name, when applicable
	Cost     CostEstimate
	Rows     RowEstimate
	Width    int
	Children []*PlanNode
	// Extra carries engine-specific detail (filter text, index name,
	// buffer counters) that detectors may consult but never require.
	Extra map[string]interface{}
}

// Plan is a normalized execution plan, the engine-agnostic shape produced
// by explain() (spec §4.2 "Plan capture").
type Plan struct {
	Root          *PlanNode
	Engine        Engine
	Analyzed      bool // true if produced via EXPLAIN ANALYZE
	NativeJSON    string
	PlanningMs    float64
	ExecutionMs   float64
	BufferHits    int64
	BufferReads   int64
}

// Walk calls fn for every node in the plan tree, root first, depth-first.
func (p *Plan) Walk(fn func(*PlanNode)) {
	if p == nil || p.Root == nil {
		return
	}
	var visit func(*PlanNode)
	visit = func(n *PlanNode) {
		fn(n)
		for _, c := range n.Children {
			visit(c)
		}
	}
	visit(p.Root)
}

// Nodes returns every node in the plan tree as a flat slice.
func (p *Plan) Nodes() []*PlanNode {
	var out []*PlanNode
	p.Walk(func(n *PlanNode) { out = append(out, n) })
	return out
}

// IOHitRatio returns BufferReads / (BufferHits + BufferReads), or -1 if the
// engine does not expose buffer counters (both are zero).
func (p *Plan) IOHitRatio() float64 {
	total := p.BufferHits + p.BufferReads
	if total == 0 {
		return -1
	}
	return float64(p.BufferReads) / float64(total)
}
