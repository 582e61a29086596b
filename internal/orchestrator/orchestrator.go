// Package orchestrator implements the Optimization Orchestrator (C5, spec
// §4.5): given a connection and a SQL statement, it gathers schema and plan
// context, runs the Issue Detector, consults the CompletionService, and
// persists the resulting Optimization — guaranteeing a row is written even
// when the CompletionService fails.
package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sqlopt/engine/internal/apperrors"
	"github.com/sqlopt/engine/internal/cache"
	"github.com/sqlopt/engine/internal/common/config"
	"github.com/sqlopt/engine/internal/common/logger"
	"github.com/sqlopt/engine/internal/completion"
	"github.com/sqlopt/engine/internal/detector"
	"github.com/sqlopt/engine/internal/gateway"
	"github.com/sqlopt/engine/internal/model"
	"github.com/sqlopt/engine/internal/normalize"
	"github.com/sqlopt/engine/internal/store"
)

// patternCacheTTL bounds how long a pattern-signature lookup is trusted
// before the orchestrator re-checks the store; pattern rows only change
// through feedback outcomes, which are infrequent relative to optimize
// calls.
const patternCacheTTL = 10 * time.Minute

// Store is the subset of *store.Store the orchestrator depends on.
type Store interface {
	GetConnection(ctx context.Context, id int64) (*model.Connection, error)
	GetQuery(ctx context.Context, id int64) (*model.DiscoveredQuery, error)
	LookupPattern(ctx context.Context, engine model.Engine, signature string) (*model.OptimizationPattern, error)
	TopPatterns(ctx context.Context, engine model.Engine, patternType model.PatternType, limit int) ([]*model.OptimizationPattern, error)
	CreateOptimization(ctx context.Context, o *model.Optimization) (int64, error)
}

var _ Store = (*store.Store)(nil)

// Orchestrator is the concrete C5 implementation.
type Orchestrator struct {
	store      Store
	gateways   map[model.Engine]gateway.Gateway
	detector   *detector.Detector
	completion completion.Service
	cache      cache.Cache
	cfg        *config.OptimizerConfig
	log        logger.Logger
}

// New builds an Orchestrator. gateways must have one entry per supported
// model.Engine; completionSvc may be nil, in which case every optimization
// resolves to parsing_strategy=failed_upstream (spec §4.5's "treated as
// best-effort" applies even to "service not configured"). cch may be nil,
// in which case every pattern lookup goes straight to the store.
func New(st Store, gateways map[model.Engine]gateway.Gateway, det *detector.Detector, completionSvc completion.Service, cch cache.Cache, cfg *config.OptimizerConfig, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		store:      st,
		gateways:   gateways,
		detector:   det,
		completion: completionSvc,
		cache:      cch,
		cfg:        cfg,
		log:        log.WithField("component", "orchestrator"),
	}
}

// Optimize runs the full C5 pipeline for an ad-hoc SQL statement against
// connectionID. queryID, if non-nil, links the resulting Optimization back
// to a DiscoveredQuery.
func (o *Orchestrator) Optimize(ctx context.Context, connectionID int64, sql string, queryID *int64) (*model.Optimization, error) {
	conn, err := o.store.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	gw, ok := o.gateways[conn.Engine]
	if !ok {
		return nil, apperrors.NewCapability("no gateway registered for engine %s", conn.Engine)
	}

	schemaDDL := o.fetchSchemaDDL(ctx, gw, connectionID, sql)
	planResult, planJSON := o.capturePlan(ctx, gw, connectionID, sql)

	normalizedSQL := normalize.Normalize(sql)
	detection := o.runDetector(conn.Engine, sql, normalizedSQL, planResult)

	candidates := o.lookupCandidatePatterns(ctx, conn.Engine, normalizedSQL)

	opt := &model.Optimization{
		ConnectionID:          connectionID,
		QueryID:               queryID,
		OriginalSQL:           sql,
		ExecutionPlanSnapshot: planJSON,
		DetectedIssues:        detection.Issues,
	}

	req := &completion.Request{
		Role:              completion.RoleOptimizer,
		Engine:            conn.Engine,
		SQL:               sql,
		SchemaDDL:         schemaDDL,
		PlanJSON:          planJSON,
		DetectedIssues:    detection.Issues,
		CandidatePatterns: candidates,
	}

	raw, strategy, completionErr := o.invokeCompletion(ctx, req)
	if completionErr != nil {
		opt.ParsingStrategy = model.StrategyFailedUpstream
		opt.OptimizedSQL = ""
		opt.Explanation = "optimization request to the completion service did not complete: " + completionErr.Error()
	} else {
		opt.OptimizedSQL = raw
		opt.ParsingStrategy = strategy
		opt.Explanation = extractExplanation(raw)
		opt.GeneralRecommendations = extractRecommendations(raw)
		opt.EstimatedImprovementPct = estimateImprovement(raw, detection.Issues)
	}

	id, err := o.store.CreateOptimization(ctx, opt)
	if err != nil {
		return nil, err
	}
	opt.ID = id
	return opt, nil
}

// invokeCompletion calls the CompletionService under the configured
// soft/hard deadline and parses its response (spec §4.5 "CompletionService
// contract"). Any failure is reported to the caller rather than panicking;
// Optimize is responsible for never letting it escape as the overall error.
func (o *Orchestrator) invokeCompletion(ctx context.Context, req *completion.Request) (string, model.ParsingStrategy, error) {
	if o.completion == nil {
		return "", "", apperrors.NewUnavailable("no completion service configured")
	}

	soft := time.Duration(o.cfg.CompletionSoftTimeoutSec) * time.Second
	hard := time.Duration(o.cfg.CompletionHardTimeoutSec) * time.Second
	if hard <= soft {
		hard = soft + 30*time.Second
	}

	callCtx, cancel := context.WithTimeout(ctx, hard)
	defer cancel()

	raw, err := o.completion.Complete(callCtx, req)
	if err != nil {
		o.log.Warnf("completion service failed: %v", err)
		return "", "", apperrors.WrapUpstream(err, "completion service call")
	}

	sql, strategy := parseResponse(raw)
	return sql, strategy, nil
}

func (o *Orchestrator) fetchSchemaDDL(ctx context.Context, gw gateway.Gateway, connectionID int64, sql string) string {
	tables := referencedTables(sql)
	schemas, err := gw.SchemaDDL(ctx, connectionID, tables)
	if err != nil {
		o.log.Warnf("schema introspection failed for connection %d: %v", connectionID, err)
		return ""
	}
	b, _ := json.Marshal(schemas)
	return string(b)
}

// capturePlan obtains an explain plan, falling back to analyze=false on a
// capability failure (spec §4.5 step 2).
func (o *Orchestrator) capturePlan(ctx context.Context, gw gateway.Gateway, connectionID int64, sql string) (*model.Plan, string) {
	result, err := gw.CapturePlan(ctx, connectionID, sql, true)
	if err != nil && apperrors.Is(err, apperrors.Capability) {
		result, err = gw.CapturePlan(ctx, connectionID, sql, false)
	}
	if err != nil {
		o.log.Warnf("plan capture failed for connection %d: %v", connectionID, err)
		return nil, ""
	}
	return result.Plan, result.RawJSON
}

func (o *Orchestrator) runDetector(engine model.Engine, sql, normalizedSQL string, plan *model.Plan) *model.DetectionResult {
	in := &detector.Input{
		Engine:        engine,
		SQL:           sql,
		NormalizedSQL: normalizedSQL,
		Plan:          plan,
	}
	return o.detector.Detect(in)
}

// lookupCandidatePatterns consults the pattern library by exact signature
// match first, then rounds out the candidate set with the top-ranked
// anti-pattern rewrites for additional prompt context (spec §4.5 step 4).
func (o *Orchestrator) lookupCandidatePatterns(ctx context.Context, engine model.Engine, normalizedSQL string) []*model.OptimizationPattern {
	signature := normalize.PatternSignature(normalizedSQL)

	var candidates []*model.OptimizationPattern
	if p, ok := o.lookupPatternCached(ctx, engine, signature); ok {
		candidates = append(candidates, p)
	}

	top, err := o.store.TopPatterns(ctx, engine, model.PatternAntiPattern, 3)
	if err == nil {
		candidates = append(candidates, top...)
	}
	return candidates
}

// lookupPatternCached consults the advisory cache before the store. A miss
// or a corrupt cache entry both fall through to the store transparently;
// the cache is never the source of truth.
func (o *Orchestrator) lookupPatternCached(ctx context.Context, engine model.Engine, signature string) (*model.OptimizationPattern, bool) {
	key := cache.PatternKey(engine.String(), signature)
	if o.cache != nil {
		if raw, ok := o.cache.Get(ctx, key); ok {
			var p model.OptimizationPattern
			if err := json.Unmarshal([]byte(raw), &p); err == nil {
				return &p, true
			}
		}
	}

	p, err := o.store.LookupPattern(ctx, engine, signature)
	if err != nil {
		return nil, false
	}
	if o.cache != nil {
		if raw, err := json.Marshal(p); err == nil {
			if err := o.cache.Set(ctx, key, string(raw), patternCacheTTL); err != nil {
				o.log.Debugf("pattern cache set failed for %s: %v", key, err)
			}
		}
	}
	return p, true
}
