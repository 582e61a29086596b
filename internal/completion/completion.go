// Package completion defines the Optimization Orchestrator's abstract
// CompletionService contract (spec §4.5) and ships one concrete,
// swappable binding to it.
package completion

import (
	"context"

	"github.com/sqlopt/engine/internal/model"
)

// Role identifies which prompt role a CompletionRequest is assembled for.
// The orchestrator only ever uses RoleOptimizer today; the type exists so
// a future caller (e.g. a feedback-explanation prompt) has somewhere to
// plug in without widening Service's contract.
type Role string

// RoleOptimizer is the only role the orchestrator currently issues.
const RoleOptimizer Role = "OPTIMIZER"

// Request is the CompletionRequest the orchestrator assembles per spec
// §4.5 step 5.
type Request struct {
	Role             Role
	Engine           model.Engine
	SQL              string
	SchemaDDL        string
	PlanJSON         string
	DetectedIssues   []*model.DetectedIssue
	CandidatePatterns []*model.OptimizationPattern
}

// Service is the abstract external text-completion backend (spec §4.5,
// §6.3): exactly one operation, best-effort, cancellation-aware. The
// orchestrator never treats a Service failure as fatal — see
// internal/orchestrator's failed_upstream handling.
type Service interface {
	// Complete returns the raw completion text. Callers are expected to
	// pass a context with a deadline; Complete must honour cancellation
	// rather than run past it.
	Complete(ctx context.Context, req *Request) (string, error)
}
