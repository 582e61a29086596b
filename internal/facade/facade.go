// Package facade assembles every internal component into the capability
// surface a transport layer calls (spec §6.1): Connection, Monitoring,
// Optimizer, Feedback, Patterns, Indexes, Workload, and Dashboard. It owns
// no business logic of its own beyond request/response shaping and cross-
// cutting aggregation that doesn't belong to any single component.
package facade

import (
	"context"

	"github.com/sqlopt/engine/internal/applicator"
	"github.com/sqlopt/engine/internal/cache"
	"github.com/sqlopt/engine/internal/common/config"
	"github.com/sqlopt/engine/internal/common/logger"
	"github.com/sqlopt/engine/internal/completion"
	"github.com/sqlopt/engine/internal/detector"
	"github.com/sqlopt/engine/internal/discovery"
	"github.com/sqlopt/engine/internal/feedback"
	"github.com/sqlopt/engine/internal/gateway"
	"github.com/sqlopt/engine/internal/model"
	"github.com/sqlopt/engine/internal/orchestrator"
	"github.com/sqlopt/engine/internal/secrets"
	"github.com/sqlopt/engine/internal/store"
	"github.com/sqlopt/engine/internal/validator"
)

// Store is the union of every *store.Store method a capability group
// reaches for directly (beyond what it already gets through a narrower
// component-owned Store interface).
type Store interface {
	CreateConnection(ctx context.Context, conn *model.Connection) (int64, error)
	GetConnection(ctx context.Context, id int64) (*model.Connection, error)
	ListConnections(ctx context.Context) ([]*model.Connection, error)
	UpdateConnection(ctx context.Context, conn *model.Connection) error
	DeleteConnection(ctx context.Context, id int64) error

	GetOptimization(ctx context.Context, id int64) (*model.Optimization, error)
	ListOptimizationsByConnection(ctx context.Context, connectionID int64) ([]*model.Optimization, error)
	ListOptimizations(ctx context.Context) ([]*model.Optimization, error)
	CreateOptimization(ctx context.Context, o *model.Optimization) (int64, error)
	TransitionOptimization(ctx context.Context, id int64, to model.OptimizationStatus, validationResult *model.ValidationResult) error

	CreateAppliedFix(ctx context.Context, f *model.AppliedFix) (int64, error)
	GetAppliedFix(ctx context.Context, id int64) (*model.AppliedFix, error)
	UpdateAppliedFixStatus(ctx context.Context, id int64, status model.FixStatus) error
	ListAppliedFixesByOptimization(ctx context.Context, optimizationID int64) ([]*model.AppliedFix, error)

	GetQuery(ctx context.Context, id int64) (*model.DiscoveredQuery, error)
	ListTopQueriesByConnection(ctx context.Context, connectionID int64, limit int) ([]*model.DiscoveredQuery, error)
	ListTopQueries(ctx context.Context, limit int) ([]*model.DiscoveredQuery, error)
	CountDiscoveredQueries(ctx context.Context) (int64, error)

	ListWorkloadSamples(ctx context.Context, connectionID int64, limit int) ([]*model.WorkloadSample, error)

	RecordIndexRecommendation(ctx context.Context, rec *model.IndexRecommendation) (int64, error)
	UpdateIndexRecommendationStatus(ctx context.Context, id int64, status model.IndexRecommendationStatus) error
	ListIndexRecommendations(ctx context.Context, connectionID int64) ([]*model.IndexRecommendation, error)

	RecordFeedback(ctx context.Context, f *model.Feedback) (int64, error)
	ListFeedback(ctx context.Context, connectionID *int64) ([]*model.Feedback, error)
	ListFeedbackByOptimization(ctx context.Context, optimizationID int64) ([]*model.Feedback, error)

	LookupPattern(ctx context.Context, engine model.Engine, signature string) (*model.OptimizationPattern, error)
	ListPatterns(ctx context.Context, engine *model.Engine) ([]*model.OptimizationPattern, error)
	TopPatterns(ctx context.Context, engine model.Engine, patternType model.PatternType, limit int) ([]*model.OptimizationPattern, error)
	RecordPatternOutcome(ctx context.Context, engine model.Engine, patternType model.PatternType, signature, originalTemplate, optimizedTemplate string, success bool, improvementPct float64) error
	SeedPattern(ctx context.Context, engine model.Engine, patternType model.PatternType, signature, originalTemplate, optimizedTemplate string) error
}

var _ Store = (*store.Store)(nil)

// Facade is the concrete capability surface. One instance is built per
// running process and shared by every transport session.
type Facade struct {
	store    Store
	secrets  secrets.SecretStore
	gateways map[model.Engine]gateway.Gateway

	scheduler    *discovery.Scheduler
	orchestrator *orchestrator.Orchestrator
	applicator   *applicator.Applicator
	validator    *validator.Validator
	feedback     *feedback.Library
	detector     *detector.Detector

	cfg *config.Config
	log logger.Logger
}

// Deps bundles the already-constructed components New wires together. Every
// field is required except CompletionSvc, which may be nil (optimize then
// always records parsing_strategy=failed_upstream, per
// internal/orchestrator's contract), and Cache, which may be nil (the
// orchestrator then runs uncached).
type Deps struct {
	Store         Store
	Secrets       secrets.SecretStore
	Gateways      map[model.Engine]gateway.Gateway
	Scheduler     *discovery.Scheduler
	CompletionSvc completion.Service
	Cache         cache.Cache
	Cfg           *config.Config
	Log           logger.Logger
}

// New builds a Facade, constructing the orchestrator/applicator/validator/
// feedback/detector components from Deps's shared Store and gateway map so
// every component and the facade itself see the same underlying rows.
func New(d Deps) *Facade {
	det := detector.New(&d.Cfg.Detector, d.Log)

	orch := orchestrator.New(d.Store, d.Gateways, det, d.CompletionSvc, d.Cache, &d.Cfg.Optimizer, d.Log)
	app := applicator.New(d.Store, d.Gateways, &d.Cfg.Applicator, d.Log)
	val := validator.New(d.Store, d.Gateways, app, &d.Cfg.Validator, &d.Cfg.Optimizer, d.Log)
	fb := feedback.New(d.Store, d.Cfg.Optimizer.MinImprovementPct, d.Log)

	return &Facade{
		store:        d.Store,
		secrets:      d.Secrets,
		gateways:     d.Gateways,
		scheduler:    d.Scheduler,
		orchestrator: orch,
		applicator:   app,
		validator:    val,
		feedback:     fb,
		detector:     det,
		cfg:          d.Cfg,
		log:          d.Log.WithField("component", "facade"),
	}
}
