package store

import "fmt"

// migrate applies the fixed schema; every statement is idempotent
// (CREATE TABLE IF NOT EXISTS) so it is safe to run on every Open.
func (s *Store) migrate() error {
	pk := s.autoIncrementType()

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS connections (
			id %s,
			display_name TEXT NOT NULL,
			engine TEXT NOT NULL,
			host TEXT NOT NULL,
			port INTEGER NOT NULL,
			database_name TEXT NOT NULL,
			username TEXT NOT NULL,
			encrypted_password BLOB NOT NULL,
			tls_enabled BOOLEAN NOT NULL DEFAULT 0,
			monitoring_enabled BOOLEAN NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL,
			deleted_at TIMESTAMP
		)`, pk),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS discovered_queries (
			id %s,
			connection_id BIGINT NOT NULL,
			fingerprint TEXT NOT NULL,
			sample_sql TEXT NOT NULL,
			normalized_sql TEXT NOT NULL,
			first_seen TIMESTAMP NOT NULL,
			last_seen TIMESTAMP NOT NULL,
			lifetime_calls BIGINT NOT NULL DEFAULT 0,
			lifetime_total_exec_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
			lifetime_rows BIGINT NOT NULL DEFAULT 0,
			source_query_id TEXT NOT NULL DEFAULT '',
			reset_count INTEGER NOT NULL DEFAULT 0,
			UNIQUE(connection_id, fingerprint)
		)`, pk),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS optimizations (
			id %s,
			connection_id BIGINT NOT NULL,
			query_id BIGINT,
			original_sql TEXT NOT NULL,
			optimized_sql TEXT NOT NULL,
			explanation TEXT NOT NULL DEFAULT '',
			general_recommendations TEXT NOT NULL DEFAULT '[]',
			execution_plan_snapshot TEXT NOT NULL DEFAULT '',
			estimated_improvement_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
			detected_issues TEXT NOT NULL DEFAULT '[]',
			validation_result TEXT,
			parsing_strategy TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			applied_at TIMESTAMP,
			status TEXT NOT NULL
		)`, pk),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS applied_fixes (
			id %s,
			optimization_id BIGINT NOT NULL,
			fix_type TEXT NOT NULL,
			forward_sql TEXT NOT NULL,
			rollback_sql TEXT NOT NULL,
			status TEXT NOT NULL,
			execution_time_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
			safety_check TEXT,
			applied_at TIMESTAMP,
			reverted_at TIMESTAMP
		)`, pk),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS feedback (
			id %s,
			optimization_id BIGINT NOT NULL,
			before_metrics TEXT NOT NULL DEFAULT '{}',
			after_metrics TEXT NOT NULL DEFAULT '{}',
			actual_improvement_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
			estimated_improvement_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
			accuracy_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			operator_rating INTEGER,
			operator_comment TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL,
			measured_at TIMESTAMP NOT NULL
		)`, pk),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS optimization_patterns (
			id %s,
			type TEXT NOT NULL,
			signature TEXT NOT NULL,
			original_template TEXT NOT NULL DEFAULT '',
			optimized_template TEXT NOT NULL DEFAULT '',
			engine TEXT NOT NULL,
			lifetime_applications BIGINT NOT NULL DEFAULT 0,
			lifetime_successes BIGINT NOT NULL DEFAULT 0,
			rolling_success_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			rolling_mean_improvement DOUBLE PRECISION NOT NULL DEFAULT 0,
			welford_m2 DOUBLE PRECISION NOT NULL DEFAULT 0,
			welford_mean DOUBLE PRECISION NOT NULL DEFAULT 0,
			welford_n BIGINT NOT NULL DEFAULT 0,
			UNIQUE(engine, signature)
		)`, pk),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS workload_samples (
			id %s,
			connection_id BIGINT NOT NULL,
			bucket_start TIMESTAMP NOT NULL,
			total_queries BIGINT NOT NULL DEFAULT 0,
			slow_queries BIGINT NOT NULL DEFAULT 0,
			mean_exec_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
			workload_class TEXT NOT NULL,
			degraded BOOLEAN NOT NULL DEFAULT 0,
			UNIQUE(connection_id, bucket_start)
		)`, pk),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS index_recommendations (
			id %s,
			connection_id BIGINT NOT NULL,
			table_name TEXT NOT NULL,
			columns TEXT NOT NULL DEFAULT '[]',
			kind TEXT NOT NULL,
			action TEXT NOT NULL,
			estimated_benefit DOUBLE PRECISION NOT NULL DEFAULT 0,
			times_referenced BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			acted_at TIMESTAMP
		)`, pk),
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}
