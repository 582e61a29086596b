package applicator

import (
	"regexp"
	"strings"
	"time"

	"github.com/Knetic/govaluate"

	"github.com/sqlopt/engine/internal/apperrors"
	"github.com/sqlopt/engine/internal/common/config"
	"github.com/sqlopt/engine/internal/model"
)

var dangerousStatementPattern = regexp.MustCompile(`(?i)\b(DROP\s+TABLE|DROP\s+DATABASE|TRUNCATE)\b`)

// statements splits a SQL batch on every semicolon, including ones inside
// string literals or comments. It is a lexical split, not a parser: good
// enough to flag "more than one statement",
// which is all the syntax gate needs.
func statements(sql string) []string {
	var out []string
	for _, part := range strings.Split(sql, ";") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// checkSyntax is the first safety gate (spec §4.6.1): reject multi-statement
// batches that contain a dangerous statement, unless skipSafety is set.
func checkSyntax(sql string, skipSafety bool) error {
	if skipSafety {
		return nil
	}
	stmts := statements(sql)
	hasDangerous := dangerousStatementPattern.MatchString(sql)
	if len(stmts) > 1 && hasDangerous {
		return apperrors.NewSafetyCheckFailed(&model.SafetyCheckRecord{
			ChecksPerformed: []string{"syntax"},
			Errors:          []string{"multi-statement with dangerous operation"},
		})
	}
	return nil
}

// inBusinessHours reports whether now falls inside the configured business
// hours window. When BusinessHoursExpression is set, it is evaluated as a
// boolean govaluate expression over hour/weekday/start/end instead of the
// plain [start, end) range, so an operator can encode exceptions (e.g.
// weekends never count) without a code change.
func inBusinessHours(cfg *config.ApplicatorConfig, now time.Time) bool {
	if !cfg.BusinessHoursEnabled {
		return false
	}
	if strings.TrimSpace(cfg.BusinessHoursExpression) == "" {
		return plainHourRange(cfg, now)
	}

	expr, err := govaluate.NewEvaluableExpression(cfg.BusinessHoursExpression)
	if err != nil {
		return plainHourRange(cfg, now)
	}
	result, err := expr.Evaluate(map[string]interface{}{
		"hour":    float64(now.Hour()),
		"weekday": float64(now.Weekday()),
		"start":   float64(cfg.BusinessHoursStart),
		"end":     float64(cfg.BusinessHoursEnd),
	})
	if err != nil {
		return plainHourRange(cfg, now)
	}
	b, ok := result.(bool)
	return ok && b
}

func plainHourRange(cfg *config.ApplicatorConfig, now time.Time) bool {
	h := now.Hour()
	return h >= cfg.BusinessHoursStart && h < cfg.BusinessHoursEnd
}

// lockChecker is an optional capability a Gateway implementation may offer;
// gateways that don't implement it simply skip the active-lock gate (spec
// §4.6.1 "engine-specific query against lock catalogs").
type lockChecker interface {
	ActiveLock(connectionID int64, table string) (bool, error)
}

var (
	createIndexPattern = regexp.MustCompile(`(?i)^CREATE\s+(?:UNIQUE\s+)?INDEX\s+(?:IF\s+NOT\s+EXISTS\s+)?([a-zA-Z_][a-zA-Z0-9_]*)\s+ON\b`)
	analyzePattern     = regexp.MustCompile(`(?i)^ANALYZE\b`)
	vacuumPattern      = regexp.MustCompile(`(?i)^VACUUM\b`)
	onTablePattern     = regexp.MustCompile(`(?i)\bON\s+([a-zA-Z_][a-zA-Z0-9_.]*)`)
	analyzeTablePattern = regexp.MustCompile(`(?i)^(?:ANALYZE|VACUUM)\s+([a-zA-Z_][a-zA-Z0-9_.]*)`)
)

// primaryTargetTable best-effort extracts the table a fix statement targets,
// for the active-lock gate's lookup key. Returns "" when none is found;
// callers skip the gate rather than fail closed on an unrecognized shape.
func primaryTargetTable(sql string) string {
	trimmed := strings.TrimSpace(sql)
	if m := onTablePattern.FindStringSubmatch(trimmed); len(m) > 1 {
		return m[1]
	}
	if m := analyzeTablePattern.FindStringSubmatch(trimmed); len(m) > 1 {
		return m[1]
	}
	return ""
}

// deriveRollback implements spec §4.6.3. priorState carries the value
// captured before apply for fix types whose rollback is "the prior value" —
// DROP_INDEX (the index's prior DDL), QUERY_REWRITE_RECORD and CONFIG_CHANGE
// (the prior SQL/setting) — since those cannot be derived from forwardSQL
// alone.
func deriveRollback(fixType model.FixType, forwardSQL, priorState string) (string, error) {
	trimmed := strings.TrimSpace(forwardSQL)
	switch fixType {
	case model.FixIndexCreate:
		if m := createIndexPattern.FindStringSubmatch(trimmed); len(m) > 1 {
			return "DROP INDEX IF EXISTS " + m[1], nil
		}
		return "", apperrors.NewSafetyCheckFailed(&model.SafetyCheckRecord{
			ChecksPerformed: []string{"rollback_derivable"},
			Errors:          []string{"could not parse index name out of CREATE INDEX statement"},
		})
	case model.FixIndexDrop:
		if priorState == "" {
			return "", apperrors.NewSafetyCheckFailed(&model.SafetyCheckRecord{
				ChecksPerformed: []string{"rollback_derivable"},
				Errors:          []string{"no pre-captured catalog snapshot to reconstitute dropped index"},
			})
		}
		return priorState, nil
	case model.FixStatisticsUpdate:
		if analyzePattern.MatchString(trimmed) {
			return "-- no-op: ANALYZE is not reversible and requires none", nil
		}
		return "", apperrors.NewSafetyCheckFailed(&model.SafetyCheckRecord{
			ChecksPerformed: []string{"rollback_derivable"},
			Errors:          []string{"statistics update fix is not an ANALYZE statement"},
		})
	case model.FixVacuum:
		if vacuumPattern.MatchString(trimmed) {
			return "-- no-op: VACUUM is not reversible and requires none", nil
		}
		return "", apperrors.NewSafetyCheckFailed(&model.SafetyCheckRecord{
			ChecksPerformed: []string{"rollback_derivable"},
			Errors:          []string{"maintenance fix is not a VACUUM statement"},
		})
	case model.FixQueryRewriteRecord, model.FixConfigChange:
		if priorState == "" {
			return "", apperrors.NewSafetyCheckFailed(&model.SafetyCheckRecord{
				ChecksPerformed: []string{"rollback_derivable"},
				Errors:          []string{"no prior value captured to roll back to"},
			})
		}
		return priorState, nil
	default:
		return "", apperrors.NewSafetyCheckFailed(&model.SafetyCheckRecord{
			ChecksPerformed: []string{"rollback_derivable"},
			Errors:          []string{"unknown fix type, rollback cannot be derived"},
		})
	}
}
