package facade

import (
	"context"
	"strings"

	"github.com/sqlopt/engine/internal/model"
)

// PatternFilter narrows Patterns.list by engine and/or type; a nil field
// leaves that dimension unfiltered.
type PatternFilter struct {
	Engine *model.Engine
	Type   *model.PatternType
}

// ListPatterns returns every recorded pattern matching filter.
func (f *Facade) ListPatterns(ctx context.Context, filter PatternFilter) ([]*model.OptimizationPattern, error) {
	patterns, err := f.store.ListPatterns(ctx, filter.Engine)
	if err != nil {
		return nil, err
	}
	if filter.Type == nil {
		return patterns, nil
	}
	out := make([]*model.OptimizationPattern, 0, len(patterns))
	for _, p := range patterns {
		if p.Type == *filter.Type {
			out = append(out, p)
		}
	}
	return out, nil
}

// SearchPatterns returns every pattern whose signature or template text
// contains query, case-insensitively (spec §6.1 "Patterns.search(query)").
func (f *Facade) SearchPatterns(ctx context.Context, query string) ([]*model.OptimizationPattern, error) {
	patterns, err := f.store.ListPatterns(ctx, nil)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	out := make([]*model.OptimizationPattern, 0)
	for _, p := range patterns {
		if strings.Contains(strings.ToLower(p.Signature), needle) ||
			strings.Contains(strings.ToLower(p.OriginalTemplate), needle) ||
			strings.Contains(strings.ToLower(p.OptimizedTemplate), needle) {
			out = append(out, p)
		}
	}
	return out, nil
}

// PatternStatistics is Patterns.statistics()'s response shape: the pattern
// library's aggregate health across every recorded pattern.
type PatternStatistics struct {
	TotalPatterns          int
	TotalApplications      int64
	TotalSuccesses         int64
	OverallSuccessRate     float64
	MeanRollingImprovement float64
}

// PatternStatisticsOverview aggregates every recorded pattern into one
// summary (spec §6.1 "Patterns.statistics()").
func (f *Facade) PatternStatisticsOverview(ctx context.Context) (*PatternStatistics, error) {
	patterns, err := f.store.ListPatterns(ctx, nil)
	if err != nil {
		return nil, err
	}
	stats := &PatternStatistics{TotalPatterns: len(patterns)}
	if len(patterns) == 0 {
		return stats, nil
	}

	var improvementSum float64
	for _, p := range patterns {
		stats.TotalApplications += p.LifetimeApplications
		stats.TotalSuccesses += p.LifetimeSuccesses
		improvementSum += p.RollingMeanImprovement
	}
	if stats.TotalApplications > 0 {
		stats.OverallSuccessRate = float64(stats.TotalSuccesses) / float64(stats.TotalApplications)
	}
	stats.MeanRollingImprovement = improvementSum / float64(len(patterns))
	return stats, nil
}

// TopPatterns delegates to the pattern library's ranked lookup (spec §6.1
// "Patterns.top(limit)").
func (f *Facade) TopPatterns(ctx context.Context, engine model.Engine, patternType model.PatternType, limit int) ([]*model.OptimizationPattern, error) {
	return f.feedback.TopPatterns(ctx, engine, patternType, limit)
}

// LoadCommonPatterns seeds the built-in anti-pattern rewrites for engine
// (spec §6.1 "Patterns.load_common()").
func (f *Facade) LoadCommonPatterns(ctx context.Context, engine model.Engine) error {
	return f.feedback.SeedCommonPatterns(ctx, engine)
}
