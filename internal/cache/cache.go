// Package cache implements the advisory lookup cache the spec's performance
// section (§5) asks for: pattern-signature lookups and recent workload
// stats are read far more often than they change, so both the in-process
// discovery scheduler and the optimizer consult a cache in front of the
// store before issuing SQL. A miss is never an error here: cache content is
// advisory, never authoritative, so every implementation degrades to "ask
// the store" rather than failing the caller.
package cache

import (
	"context"
	"strconv"
	"time"
)

// Cache is a narrow get/set/delete advisory cache. Get's second return
// value is false on both a true miss and an expired entry; callers never
// need to distinguish the two.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// PatternKey builds the cache key for an OptimizationPattern lookup.
func PatternKey(engine, signature string) string {
	return "pattern:" + engine + ":" + signature
}

// WorkloadStatsKey builds the cache key for a connection's most recent
// workload classification.
func WorkloadStatsKey(connectionID int64) string {
	return "workload:" + strconv.FormatInt(connectionID, 10)
}
