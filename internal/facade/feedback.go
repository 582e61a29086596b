package facade

import (
	"context"

	"github.com/sqlopt/engine/internal/feedback"
	"github.com/sqlopt/engine/internal/model"
)

// SubmitFeedback records an operator's ground-truth verdict for
// optimizationID (spec §6.1 "Feedback.submit").
func (f *Facade) SubmitFeedback(ctx context.Context, optimizationID int64, before, after model.PerformanceMetrics, rating *int, comment string) (*model.Feedback, error) {
	return f.feedback.Submit(ctx, optimizationID, before, after, rating, comment)
}

// FeedbackStats aggregates feedback across every optimization, or just
// those against connectionID when given (spec §6.1 "Feedback.stats").
func (f *Facade) FeedbackStats(ctx context.Context, connectionID *int64) (*feedback.Stats, error) {
	return f.feedback.Stats(ctx, connectionID)
}
