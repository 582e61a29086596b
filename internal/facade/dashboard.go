package facade

import (
	"context"
	"sort"
	"time"

	"github.com/sqlopt/engine/internal/model"
)

// DashboardStats is Dashboard.stats()'s response shape (spec §6.1).
type DashboardStats struct {
	TotalConnections        int
	TotalQueriesDiscovered  int64
	TotalOptimizations      int
	AvgImprovementPct       float64
	TopBottlenecks          []string
	TotalDetectedIssues     int
	OptimizationsWithIssues int
}

// DashboardStats aggregates totals across every connection. Per spec §6.1
// ("when no connections exist, all read operations return empty/zero
// values; they never fail"), an empty store yields a zero-valued
// DashboardStats rather than an error.
func (f *Facade) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	conns, err := f.store.ListConnections(ctx)
	if err != nil {
		return nil, err
	}
	totalQueries, err := f.store.CountDiscoveredQueries(ctx)
	if err != nil {
		return nil, err
	}
	opts, err := f.store.ListOptimizations(ctx)
	if err != nil {
		return nil, err
	}

	stats := &DashboardStats{
		TotalConnections:       len(conns),
		TotalQueriesDiscovered: totalQueries,
		TotalOptimizations:     len(opts),
	}

	bottleneckCounts := map[string]int{}
	var improvementSum float64
	var improvementCount int
	for _, o := range opts {
		if len(o.DetectedIssues) > 0 {
			stats.OptimizationsWithIssues++
		}
		stats.TotalDetectedIssues += len(o.DetectedIssues)
		for _, issue := range o.DetectedIssues {
			bottleneckCounts[issue.Title]++
		}
		if o.Status == model.StatusValidated || o.Status == model.StatusApplied {
			improvementSum += o.EstimatedImprovementPct
			improvementCount++
		}
	}
	if improvementCount > 0 {
		stats.AvgImprovementPct = improvementSum / float64(improvementCount)
	}
	stats.TopBottlenecks = topByCount(bottleneckCounts, 5)
	return stats, nil
}

// QueriesWithIssues returns every DiscoveredQuery whose most recent
// optimization recorded at least one detected issue (spec §6.1
// "Dashboard.queries_with_issues()").
func (f *Facade) QueriesWithIssues(ctx context.Context) ([]*model.DiscoveredQuery, error) {
	opts, err := f.store.ListOptimizations(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[int64]bool{}
	out := make([]*model.DiscoveredQuery, 0)
	for _, o := range opts {
		if len(o.DetectedIssues) == 0 || o.QueryID == nil || seen[*o.QueryID] {
			continue
		}
		seen[*o.QueryID] = true
		q, err := f.store.GetQuery(ctx, *o.QueryID)
		if err != nil {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

// TopQueries returns the highest-cost DiscoveredQuery rows across every
// connection (spec §6.1 "Dashboard.top_queries(limit)").
func (f *Facade) TopQueries(ctx context.Context, limit int) ([]*model.DiscoveredQuery, error) {
	return f.store.ListTopQueries(ctx, limit)
}

// PerformanceTrendPoint is one connection's workload trend contribution.
type PerformanceTrendPoint struct {
	ConnectionID int64
	BucketStart  time.Time
	MeanExecMs   float64
}

// PerformanceTrends reduces every connection's workload samples from the
// last hours hours into a single chronological series (spec §6.1
// "Dashboard.performance_trends(hours)").
func (f *Facade) PerformanceTrends(ctx context.Context, hours int) ([]PerformanceTrendPoint, error) {
	conns, err := f.store.ListConnections(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	var out []PerformanceTrendPoint
	for _, c := range conns {
		samples, err := f.store.ListWorkloadSamples(ctx, c.ID, 0)
		if err != nil {
			return nil, err
		}
		for _, s := range samples {
			if hours > 0 && s.BucketStart.Before(cutoff) {
				continue
			}
			out = append(out, PerformanceTrendPoint{ConnectionID: c.ID, BucketStart: s.BucketStart, MeanExecMs: s.MeanExecMs})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart.Before(out[j].BucketStart) })
	return out, nil
}

// DetectionSummary is Dashboard.detection_summary()'s response shape: issue
// counts bucketed by type and by severity across every optimization ever
// recorded.
type DetectionSummary struct {
	ByType     map[model.IssueType]int
	BySeverity map[model.Severity]int
	Total      int
}

// DetectionSummary tallies every detected issue across every optimization
// (spec §6.1 "Dashboard.detection_summary()").
func (f *Facade) DetectionSummary(ctx context.Context) (*DetectionSummary, error) {
	opts, err := f.store.ListOptimizations(ctx)
	if err != nil {
		return nil, err
	}
	summary := &DetectionSummary{ByType: map[model.IssueType]int{}, BySeverity: map[model.Severity]int{}}
	for _, o := range opts {
		for _, issue := range o.DetectedIssues {
			summary.ByType[issue.Type]++
			summary.BySeverity[issue.Severity]++
			summary.Total++
		}
	}
	return summary, nil
}

// topByCount returns the n keys with the highest counts, descending, ties
// broken alphabetically for determinism.
func topByCount(counts map[string]int, n int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}
