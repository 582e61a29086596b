package store

import (
	"context"
	"database/sql"
	"math"

	"github.com/sqlopt/engine/internal/apperrors"
	"github.com/sqlopt/engine/internal/model"
)

// welfordUpdate folds one new improvement-pct observation into a running
// (mean, m2, n) triple using Welford's online algorithm, so the rolling
// mean and variance update without replaying history (spec §4.7, SPEC_FULL
// §C "Welford aggregation").
func welfordUpdate(mean, m2 float64, n int64, x float64) (newMean, newM2 float64, newN int64) {
	newN = n + 1
	delta := x - mean
	newMean = mean + delta/float64(newN)
	delta2 := x - newMean
	newM2 = m2 + delta*delta2
	return newMean, newM2, newN
}

// LookupPattern finds the OptimizationPattern matching (engine, signature),
// or apperrors.NotFound if none has been recorded yet.
func (s *Store) LookupPattern(ctx context.Context, engine model.Engine, signature string) (*model.OptimizationPattern, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, signature, original_template, optimized_template, engine,
		       lifetime_applications, lifetime_successes, rolling_success_rate, rolling_mean_improvement,
		       welford_m2, welford_mean, welford_n
		FROM optimization_patterns WHERE engine = `+s.ph(1)+` AND signature = `+s.ph(2), engine.String(), signature)
	return scanPattern(row)
}

// TopPatterns returns up to limit patterns ranked by
// success_rate * log(1 + applications), the ranking spec §4.7 specifies so
// that a pattern with more confirmed applications outranks one with a
// higher rate but too little evidence.
func (s *Store) TopPatterns(ctx context.Context, engine model.Engine, patternType model.PatternType, limit int) ([]*model.OptimizationPattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, signature, original_template, optimized_template, engine,
		       lifetime_applications, lifetime_successes, rolling_success_rate, rolling_mean_improvement,
		       welford_m2, welford_mean, welford_n
		FROM optimization_patterns WHERE engine = `+s.ph(1)+` AND type = `+s.ph(2)+` AND lifetime_applications >= 1`,
		engine.String(), string(patternType))
	if err != nil {
		return nil, apperrors.WrapUnavailable(err, "list patterns")
	}
	defer rows.Close()

	var patterns []*model.OptimizationPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}

	rank := func(p *model.OptimizationPattern) float64 {
		return p.RollingSuccessRate * math.Log(1+float64(p.LifetimeApplications))
	}
	for i := 1; i < len(patterns); i++ {
		for j := i; j > 0 && rank(patterns[j]) > rank(patterns[j-1]); j-- {
			patterns[j], patterns[j-1] = patterns[j-1], patterns[j]
		}
	}
	if limit > 0 && len(patterns) > limit {
		patterns = patterns[:limit]
	}
	return patterns, nil
}

// RecordPatternOutcome upserts a pattern's Welford aggregates after one
// application outcome (success bool, improvementPct the observed
// improvement). It creates the pattern row on first sight when no row
// exists yet; SeedPattern inserts its own zero-statistics row and does not
// go through this method.
func (s *Store) RecordPatternOutcome(ctx context.Context, engine model.Engine, patternType model.PatternType, signature, originalTemplate, optimizedTemplate string, success bool, improvementPct float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.WrapUnavailable(err, "begin pattern-outcome transaction")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, lifetime_applications, lifetime_successes, welford_m2, welford_mean, welford_n
		FROM optimization_patterns WHERE engine = `+s.ph(1)+` AND signature = `+s.ph(2), engine.String(), signature)

	var id, applications, successes, welfordN int64
	var m2, mean float64
	scanErr := row.Scan(&id, &applications, &successes, &m2, &mean, &welfordN)

	newMean, newM2, newN := welfordUpdate(mean, m2, welfordN, improvementPct)
	applications++
	if success {
		successes++
	}
	successRate := float64(successes) / float64(applications)

	switch scanErr {
	case sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO optimization_patterns
				(type, signature, original_template, optimized_template, engine,
				 lifetime_applications, lifetime_successes, rolling_success_rate, rolling_mean_improvement,
				 welford_m2, welford_mean, welford_n)
			VALUES (`+s.ph(1)+`,`+s.ph(2)+`,`+s.ph(3)+`,`+s.ph(4)+`,`+s.ph(5)+`,`+s.ph(6)+`,`+s.ph(7)+`,`+s.ph(8)+`,`+s.ph(9)+`,`+s.ph(10)+`,`+s.ph(11)+`,`+s.ph(12)+`)`,
			string(patternType), signature, originalTemplate, optimizedTemplate, engine.String(),
			applications, successes, successRate, newMean, newM2, newMean, newN)
	case nil:
		_, err = tx.ExecContext(ctx, `
			UPDATE optimization_patterns SET
				lifetime_applications = `+s.ph(1)+`, lifetime_successes = `+s.ph(2)+`,
				rolling_success_rate = `+s.ph(3)+`, rolling_mean_improvement = `+s.ph(4)+`,
				welford_m2 = `+s.ph(5)+`, welford_mean = `+s.ph(6)+`, welford_n = `+s.ph(7)+`
			WHERE id = `+s.ph(8),
			applications, successes, successRate, newMean, newM2, newMean, newN, id)
	default:
		return apperrors.WrapUnavailable(scanErr, "scan pattern for outcome update")
	}
	if err != nil {
		return apperrors.WrapUnavailable(err, "persist pattern outcome")
	}
	if err := tx.Commit(); err != nil {
		return apperrors.WrapUnavailable(err, "commit pattern-outcome transaction")
	}
	return nil
}

// SeedPattern idempotently inserts a built-in pattern with zero lifetime
// applications if it does not already exist (spec §4.7 "idempotent
// common-pattern seeding"); re-seeding never overwrites accumulated stats.
func (s *Store) SeedPattern(ctx context.Context, engine model.Engine, patternType model.PatternType, signature, originalTemplate, optimizedTemplate string) error {
	var existing int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM optimization_patterns WHERE engine = `+s.ph(1)+` AND signature = `+s.ph(2), engine.String(), signature).Scan(&existing)
	if err == nil {
		return nil // already seeded
	}
	if err != sql.ErrNoRows {
		return apperrors.WrapUnavailable(err, "check pattern seed")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO optimization_patterns
			(type, signature, original_template, optimized_template, engine,
			 lifetime_applications, lifetime_successes, rolling_success_rate, rolling_mean_improvement,
			 welford_m2, welford_mean, welford_n)
		VALUES (`+s.ph(1)+`,`+s.ph(2)+`,`+s.ph(3)+`,`+s.ph(4)+`,`+s.ph(5)+`,0,0,0,0,0,0,0)`,
		string(patternType), signature, originalTemplate, optimizedTemplate, engine.String())
	if err != nil {
		return apperrors.WrapUnavailable(err, "seed pattern %s", signature)
	}
	return nil
}

// ListPatterns returns every recorded pattern, optionally restricted to one
// engine, ordered by lifetime_applications descending (spec §6.1
// "Patterns.list/.search/.statistics" all enumerate from this).
func (s *Store) ListPatterns(ctx context.Context, engine *model.Engine) ([]*model.OptimizationPattern, error) {
	query := `
		SELECT id, type, signature, original_template, optimized_template, engine,
		       lifetime_applications, lifetime_successes, rolling_success_rate, rolling_mean_improvement,
		       welford_m2, welford_mean, welford_n
		FROM optimization_patterns`
	var args []interface{}
	if engine != nil {
		query += ` WHERE engine = ` + s.ph(1)
		args = append(args, engine.String())
	}
	query += ` ORDER BY lifetime_applications DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.WrapUnavailable(err, "list patterns")
	}
	defer rows.Close()

	var out []*model.OptimizationPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func scanPattern(row rowScanner) (*model.OptimizationPattern, error) {
	var p model.OptimizationPattern
	var pType, engine string
	err := row.Scan(&p.ID, &pType, &p.Signature, &p.OriginalTemplate, &p.OptimizedTemplate, &engine,
		&p.LifetimeApplications, &p.LifetimeSuccesses, &p.RollingSuccessRate, &p.RollingMeanImprovement,
		&p.WelfordM2, &p.WelfordMean, &p.WelfordN)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("pattern not found")
	}
	if err != nil {
		return nil, apperrors.WrapUnavailable(err, "scan pattern")
	}
	p.Type = model.PatternType(pType)
	e, ok := model.ParseEngine(engine)
	if !ok {
		return nil, apperrors.WrapFatal(nil, "unknown engine %q stored for pattern %d", engine, p.ID)
	}
	p.Engine = e
	return &p, nil
}
