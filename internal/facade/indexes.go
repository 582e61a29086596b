package facade

import (
	"context"
	"fmt"
	"strings"

	"github.com/sqlopt/engine/internal/apperrors"
	"github.com/sqlopt/engine/internal/applicator"
	"github.com/sqlopt/engine/internal/model"
)

// IndexRecommendations returns connectionID's open (RECOMMENDED) index
// suggestions (spec §6.1 "Indexes.recommendations(connection_id)").
func (f *Facade) IndexRecommendations(ctx context.Context, connectionID int64) ([]*model.IndexRecommendation, error) {
	all, err := f.store.ListIndexRecommendations(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	out := make([]*model.IndexRecommendation, 0, len(all))
	for _, r := range all {
		if r.Status == model.IndexRecommended {
			out = append(out, r)
		}
	}
	return out, nil
}

// IndexHistory returns every index recommendation ever recorded for
// connectionID regardless of status (spec §6.1 "Indexes.history").
func (f *Facade) IndexHistory(ctx context.Context, connectionID int64) ([]*model.IndexRecommendation, error) {
	return f.store.ListIndexRecommendations(ctx, connectionID)
}

// UnusedIndexes reports table's indexes the target engine's usage
// counters show as never scanned (spec §6.1 "Indexes.unused"). Engines that
// don't expose usage counters report ExistingIndex.TimesUsed == -1 and are
// skipped rather than misreported as unused.
func (f *Facade) UnusedIndexes(ctx context.Context, connectionID int64, table string) ([]model.ExistingIndex, error) {
	conn, err := f.store.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	gw, ok := f.gateways[conn.Engine]
	if !ok {
		return nil, apperrors.NewCapability("no gateway registered for engine %s", conn.Engine)
	}
	indexes, err := gw.ExistingIndexes(ctx, connectionID, table)
	if err != nil {
		return nil, err
	}
	out := make([]model.ExistingIndex, 0)
	for _, idx := range indexes {
		if idx.TimesUsed == 0 {
			out = append(out, idx)
		}
	}
	return out, nil
}

// MissingIndexes is the subset of connectionID's open recommendations whose
// Action is CREATE (spec §6.1 "Indexes.missing").
func (f *Facade) MissingIndexes(ctx context.Context, connectionID int64) ([]*model.IndexRecommendation, error) {
	recs, err := f.IndexRecommendations(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	out := make([]*model.IndexRecommendation, 0, len(recs))
	for _, r := range recs {
		if r.Action == model.IndexActionCreate {
			out = append(out, r)
		}
	}
	return out, nil
}

// CreateIndex applies a recommendation's CREATE INDEX DDL through the
// applicator's safety gates and marks the recommendation CREATED on success
// (spec §6.1 "Indexes.create").
func (f *Facade) CreateIndex(ctx context.Context, recommendationID int64, optimizationID int64, dryRun, skipSafety bool) (*model.AppliedFix, error) {
	return f.actOnIndex(ctx, recommendationID, optimizationID, model.FixIndexCreate, model.IndexCreated, dryRun, skipSafety)
}

// DropIndex applies a recommendation's DROP INDEX DDL through the
// applicator's safety gates and marks the recommendation DROPPED on success
// (spec §6.1 "Indexes.drop").
func (f *Facade) DropIndex(ctx context.Context, recommendationID int64, optimizationID int64, dryRun, skipSafety bool) (*model.AppliedFix, error) {
	return f.actOnIndex(ctx, recommendationID, optimizationID, model.FixIndexDrop, model.IndexDropped, dryRun, skipSafety)
}

func (f *Facade) actOnIndex(ctx context.Context, recommendationID, optimizationID int64, fixType model.FixType, onSuccess model.IndexRecommendationStatus, dryRun, skipSafety bool) (*model.AppliedFix, error) {
	rec, err := f.lookupRecommendation(ctx, recommendationID)
	if err != nil {
		return nil, err
	}

	ddl := indexDDL(fixType, rec)
	fix, err := f.applicator.Apply(ctx, &applicator.FixRequest{
		OptimizationID: optimizationID,
		ConnectionID:   rec.ConnectionID,
		FixType:        fixType,
		ForwardSQL:     ddl,
		DryRun:         dryRun,
		SkipSafety:     skipSafety,
	})
	if err != nil {
		return fix, err
	}
	if fix.Status == model.FixApplied {
		if err := f.store.UpdateIndexRecommendationStatus(ctx, recommendationID, onSuccess); err != nil {
			return fix, err
		}
	}
	return fix, nil
}

// lookupRecommendation scans every connection's recommendations for
// recommendationID, since store.ListIndexRecommendations is scoped by
// connection and there is no by-id lookup; index actions are infrequent
// enough that this doesn't need its own store method.
func (f *Facade) lookupRecommendation(ctx context.Context, recommendationID int64) (*model.IndexRecommendation, error) {
	conns, err := f.store.ListConnections(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range conns {
		recs, err := f.store.ListIndexRecommendations(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if r.ID == recommendationID {
				return r, nil
			}
		}
	}
	return nil, apperrors.NewNotFound("index recommendation %d not found", recommendationID)
}

// indexDDL renders a generic CREATE/DROP INDEX statement for rec. The name
// is derived deterministically from table and columns so repeated calls for
// the same recommendation target the same index name.
func indexDDL(fixType model.FixType, rec *model.IndexRecommendation) string {
	name := fmt.Sprintf("idx_%s_%s", rec.Table, strings.Join(rec.Columns, "_"))
	if fixType == model.FixIndexDrop {
		return fmt.Sprintf("DROP INDEX %s", name)
	}
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)", name, rec.Table, strings.Join(rec.Columns, ", "))
}
