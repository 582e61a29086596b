// Package applicator implements the Fix Applicator (C6.1, spec §4.6.1):
// safety-gated, transactional-where-possible application of a generated
// fix against a target database, with a per-connection LIFO rollback
// stack so rollback_last/rollback_all always have a well-defined order.
package applicator

import (
	"context"
	"time"

	"github.com/sqlopt/engine/internal/apperrors"
	"github.com/sqlopt/engine/internal/common/config"
	"github.com/sqlopt/engine/internal/common/logger"
	"github.com/sqlopt/engine/internal/gateway"
	"github.com/sqlopt/engine/internal/model"
	"github.com/sqlopt/engine/internal/store"
)

// Store is the subset of *store.Store the applicator depends on.
type Store interface {
	GetConnection(ctx context.Context, id int64) (*model.Connection, error)
	CreateAppliedFix(ctx context.Context, f *model.AppliedFix) (int64, error)
	GetAppliedFix(ctx context.Context, id int64) (*model.AppliedFix, error)
	UpdateAppliedFixStatus(ctx context.Context, id int64, status model.FixStatus) error
	TransitionOptimization(ctx context.Context, id int64, to model.OptimizationStatus, validationResult *model.ValidationResult) error
	GetOptimization(ctx context.Context, id int64) (*model.Optimization, error)
}

var _ Store = (*store.Store)(nil)

// FixRequest is one apply_fix call (spec §4.6.1).
type FixRequest struct {
	OptimizationID int64
	ConnectionID   int64
	FixType        model.FixType
	ForwardSQL     string

	// PriorState is the value to roll back to for fix types whose rollback
	// cannot be derived from ForwardSQL alone (DROP_INDEX, QUERY_REWRITE_RECORD,
	// CONFIG_CHANGE) — the caller captures it before requesting the apply.
	PriorState string

	DryRun     bool
	SkipSafety bool
}

// Applicator is the concrete C6.1 implementation.
type Applicator struct {
	store    Store
	gateways map[model.Engine]gateway.Gateway
	cfg      *config.ApplicatorConfig
	stacks   *rollbackStacks
	locks    *connLocks
	log      logger.Logger
}

// New builds an Applicator. gateways must have one entry per supported
// model.Engine that fixes will be applied against.
func New(st Store, gateways map[model.Engine]gateway.Gateway, cfg *config.ApplicatorConfig, log logger.Logger) *Applicator {
	return &Applicator{
		store:    st,
		gateways: gateways,
		cfg:      cfg,
		stacks:   newRollbackStacks(),
		locks:    newConnLocks(),
		log:      log.WithField("component", "applicator"),
	}
}

// Apply runs the ordered safety gates and, on dry_run=false, executes the
// fix and pushes it onto the connection's rollback stack (spec §4.6.1).
func (a *Applicator) Apply(ctx context.Context, req *FixRequest) (*model.AppliedFix, error) {
	unlock := a.locks.lock(req.ConnectionID)
	defer unlock()

	opt, err := a.store.GetOptimization(ctx, req.OptimizationID)
	if err != nil {
		return nil, err
	}
	if opt.Status != model.StatusGenerated {
		return nil, apperrors.NewConflict("optimization %d is %s, not %s; it cannot be applied again", req.OptimizationID, opt.Status, model.StatusGenerated)
	}

	conn, err := a.store.GetConnection(ctx, req.ConnectionID)
	if err != nil {
		return nil, err
	}
	gw, ok := a.gateways[conn.Engine]
	if !ok {
		return nil, apperrors.NewCapability("no gateway registered for engine %s", conn.Engine)
	}

	checksPerformed := []string{"syntax"}
	if err := checkSyntax(req.ForwardSQL, req.SkipSafety); err != nil {
		return nil, err
	}

	if !req.SkipSafety {
		checksPerformed = append(checksPerformed, "business_hours")
		if inBusinessHours(a.cfg, time.Now()) {
			fix := &model.AppliedFix{
				OptimizationID: req.OptimizationID,
				FixType:        req.FixType,
				ForwardSQL:     req.ForwardSQL,
				Status:         model.FixDryRunFailed,
				SafetyCheck: &model.SafetyCheckRecord{
					ChecksPerformed: checksPerformed,
					Warnings:        []string{"apply requested during configured business hours"},
				},
			}
			id, err := a.store.CreateAppliedFix(ctx, fix)
			if err != nil {
				return nil, err
			}
			fix.ID = id
			return fix, nil
		}
	}

	var lockWarnings []string
	if !req.SkipSafety {
		if lc, ok := gw.(lockChecker); ok {
			checksPerformed = append(checksPerformed, "active_lock")
			table := primaryTargetTable(req.ForwardSQL)
			if table != "" {
				locked, err := lc.ActiveLock(req.ConnectionID, table)
				if err != nil {
					return nil, apperrors.WrapUnavailable(err, "active lock check for connection %d", req.ConnectionID)
				}
				if locked {
					return nil, apperrors.NewSafetyCheckFailed(&model.SafetyCheckRecord{
						ChecksPerformed: checksPerformed,
						Errors:          []string{"target table is held by a conflicting lock"},
					})
				}
			}
		}
	}

	checksPerformed = append(checksPerformed, "rollback_derivable")
	rollbackSQL, err := deriveRollback(req.FixType, req.ForwardSQL, req.PriorState)
	if err != nil {
		if !req.SkipSafety {
			return nil, err
		}
		rollbackSQL = ""
		lockWarnings = append(lockWarnings, "rollback could not be derived; skip_safety=true allowed the apply anyway")
	}

	safety := &model.SafetyCheckRecord{ChecksPerformed: checksPerformed, Warnings: lockWarnings}

	fix := &model.AppliedFix{
		OptimizationID: req.OptimizationID,
		FixType:        req.FixType,
		ForwardSQL:     req.ForwardSQL,
		RollbackSQL:    rollbackSQL,
		SafetyCheck:    safety,
	}

	if req.DryRun {
		fix.Status = model.FixDryRunOK
		id, err := a.store.CreateAppliedFix(ctx, fix)
		if err != nil {
			return nil, err
		}
		fix.ID = id
		return fix, nil
	}

	dur, execErr := gw.ExecuteDDL(ctx, req.ConnectionID, req.ForwardSQL)
	fix.ExecutionTimeSec = dur.Seconds()
	if execErr != nil {
		fix.Status = model.FixFailed
		id, err := a.store.CreateAppliedFix(ctx, fix)
		if err != nil {
			return nil, err
		}
		fix.ID = id
		return fix, apperrors.WrapUnavailable(execErr, "apply fix for optimization %d", req.OptimizationID)
	}

	now := time.Now().UTC()
	fix.Status = model.FixApplied
	fix.AppliedAt = &now
	id, err := a.store.CreateAppliedFix(ctx, fix)
	if err != nil {
		return nil, err
	}
	fix.ID = id
	a.stacks.push(req.ConnectionID, id)

	if err := a.store.TransitionOptimization(ctx, req.OptimizationID, model.StatusApplied, nil); err != nil {
		return fix, err
	}
	return fix, nil
}

// RollbackLast pops and executes the most recently applied fix's rollback
// SQL for connectionID (spec §4.6.1 "rollback_last").
func (a *Applicator) RollbackLast(ctx context.Context, connectionID int64) (*model.AppliedFix, error) {
	id, ok := a.stacks.pop(connectionID)
	if !ok {
		return nil, apperrors.NewNotFound("no applied fixes to roll back for connection %d", connectionID)
	}
	return a.rollbackOne(ctx, connectionID, id)
}

// RollbackAll drains the connection's rollback stack in LIFO order (spec
// §4.6.1 "rollback_all").
func (a *Applicator) RollbackAll(ctx context.Context, connectionID int64) ([]*model.AppliedFix, error) {
	ids := a.stacks.drain(connectionID)
	out := make([]*model.AppliedFix, 0, len(ids))
	for _, id := range ids {
		fix, err := a.rollbackOne(ctx, connectionID, id)
		if err != nil {
			return out, err
		}
		out = append(out, fix)
	}
	return out, nil
}

// RollbackByID rolls back one specific previously applied fix regardless
// of its position in the connection's rollback stack (spec §6.1
// "rollback(fix_id?)" when fix_id is given). Unlike RollbackLast/RollbackAll
// it does not pop the stack, since the fix being reverted may not be the
// most recent one applied; callers that also rely on the LIFO stack for a
// later rollback_all should be aware a fix reverted this way stays on the
// stack and will be re-attempted (idempotently, since its forward SQL was
// already undone) if rollback_all later walks past it.
func (a *Applicator) RollbackByID(ctx context.Context, fixID int64) (*model.AppliedFix, error) {
	opt, err := a.resolveOptimizationForFix(ctx, fixID)
	if err != nil {
		return nil, err
	}
	return a.rollbackOne(ctx, opt.ConnectionID, fixID)
}

func (a *Applicator) resolveOptimizationForFix(ctx context.Context, fixID int64) (*model.Optimization, error) {
	fix, err := a.store.GetAppliedFix(ctx, fixID)
	if err != nil {
		return nil, err
	}
	return a.store.GetOptimization(ctx, fix.OptimizationID)
}

func (a *Applicator) rollbackOne(ctx context.Context, connectionID, fixID int64) (*model.AppliedFix, error) {
	fix, err := a.store.GetAppliedFix(ctx, fixID)
	if err != nil {
		return nil, err
	}
	conn, err := a.store.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	gw, ok := a.gateways[conn.Engine]
	if !ok {
		return nil, apperrors.NewCapability("no gateway registered for engine %s", conn.Engine)
	}

	if _, err := gw.ExecuteDDL(ctx, connectionID, fix.RollbackSQL); err != nil {
		return nil, apperrors.WrapUnavailable(err, "execute rollback sql for fix %d", fixID)
	}
	if err := a.store.UpdateAppliedFixStatus(ctx, fixID, model.FixReverted); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	fix.Status = model.FixReverted
	fix.RevertedAt = &now
	return fix, nil
}
