package facade

import (
	"context"
	"time"

	"github.com/sqlopt/engine/internal/model"
)

// WorkloadAnalysis is Workload.analysis(connection_id, days)'s response
// shape: an aggregate read over the connection's recent hourly buckets.
type WorkloadAnalysis struct {
	TotalQueries     int64
	SlowQueries      int64
	MeanExecMs       float64
	DominantClass    model.WorkloadClass
	DegradedBuckets  int
	Samples          []*model.WorkloadSample
}

// WorkloadAnalysis aggregates connectionID's workload samples from the last
// days days (spec §6.1 "Workload.analysis(connection_id, days)").
func (f *Facade) WorkloadAnalysis(ctx context.Context, connectionID int64, days int) (*WorkloadAnalysis, error) {
	samples, err := f.recentSamples(ctx, connectionID, days)
	if err != nil {
		return nil, err
	}
	out := &WorkloadAnalysis{Samples: samples}
	if len(samples) == 0 {
		out.DominantClass = model.WorkloadClass("")
		return out, nil
	}

	classCounts := map[model.WorkloadClass]int{}
	var execSum float64
	for _, s := range samples {
		out.TotalQueries += s.TotalQueries
		out.SlowQueries += s.SlowQueries
		execSum += s.MeanExecMs
		classCounts[s.WorkloadClass]++
		if s.Degraded {
			out.DegradedBuckets++
		}
	}
	out.MeanExecMs = execSum / float64(len(samples))
	out.DominantClass = dominantClass(classCounts)
	return out, nil
}

// WorkloadPatterns returns connectionID's sample history unmodified, the
// bucket-level view spec §6.1 "Workload.patterns" exposes on top of
// .analysis's aggregate.
func (f *Facade) WorkloadPatterns(ctx context.Context, connectionID int64, days int) ([]*model.WorkloadSample, error) {
	return f.recentSamples(ctx, connectionID, days)
}

// WorkloadTrendPoint is one bucket's contribution to a trend series.
type WorkloadTrendPoint struct {
	BucketStart time.Time
	MeanExecMs  float64
	TotalQueries int64
}

// WorkloadTrends reduces connectionID's recent samples to a time series of
// (bucket, mean_exec_ms, total_queries), oldest first (spec §6.1
// "Workload.trends").
func (f *Facade) WorkloadTrends(ctx context.Context, connectionID int64, days int) ([]WorkloadTrendPoint, error) {
	samples, err := f.recentSamples(ctx, connectionID, days)
	if err != nil {
		return nil, err
	}
	out := make([]WorkloadTrendPoint, 0, len(samples))
	for _, s := range samples {
		out = append(out, WorkloadTrendPoint{BucketStart: s.BucketStart, MeanExecMs: s.MeanExecMs, TotalQueries: s.TotalQueries})
	}
	return out, nil
}

// WorkloadRecommendations derives plain-language guidance from
// connectionID's recent workload shape (spec §6.1 "Workload.recommendations").
func (f *Facade) WorkloadRecommendations(ctx context.Context, connectionID int64, days int) ([]string, error) {
	analysis, err := f.WorkloadAnalysis(ctx, connectionID, days)
	if err != nil {
		return nil, err
	}
	var recs []string
	if len(analysis.Samples) == 0 {
		return recs, nil
	}
	if analysis.TotalQueries > 0 && float64(analysis.SlowQueries)/float64(analysis.TotalQueries) > 0.1 {
		recs = append(recs, "more than 10% of sampled queries are slow; prioritize optimize/explain_plan on the top offenders")
	}
	if analysis.DegradedBuckets > 0 {
		recs = append(recs, "some polling buckets were degraded; check connectivity and gateway capability support")
	}
	switch analysis.DominantClass {
	case model.WorkloadOLAP:
		recs = append(recs, "workload reads as OLAP; review index and statistics freshness for reporting queries")
	case model.WorkloadMixed:
		recs = append(recs, "workload is mixed OLTP/OLAP; consider isolating reporting queries from transactional load")
	}
	return recs, nil
}

func (f *Facade) recentSamples(ctx context.Context, connectionID int64, days int) ([]*model.WorkloadSample, error) {
	samples, err := f.store.ListWorkloadSamples(ctx, connectionID, 0)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		return samples, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	out := make([]*model.WorkloadSample, 0, len(samples))
	for _, s := range samples {
		if !s.BucketStart.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out, nil
}

func dominantClass(counts map[model.WorkloadClass]int) model.WorkloadClass {
	var best model.WorkloadClass
	bestCount := -1
	for class, n := range counts {
		if n > bestCount {
			best, bestCount = class, n
		}
	}
	return best
}
