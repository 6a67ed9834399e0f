package reminder

import (
	"context"
	stderrors "errors"

	"go.uber.org/zap"
)

// Rollover extends every stored recurrence plan by one more horizon. Plans
// continue from where their last batch ended, so an interval cadence keeps
// its phase and fixed-hour cadences produce the same occurrence ids again
// (which are skipped when already present). Each plan is handled on its own;
// one failing plan does not stop the others.
func (e *Engine) Rollover(ctx context.Context) error {
	plans, err := e.repo.Plans(ctx)
	if err != nil {
		return e.notificationFailed("failed to load recurrence plans", err)
	}

	now := e.clock.Now()
	var errs []error
	total := 0

	for _, plan := range plans {
		from := now
		if plan.HorizonEnd.After(now) {
			from = plan.HorizonEnd
		}

		n, err := e.scheduleFrom(ctx, plan.SubjectID, plan.Spec(), from)
		if err != nil {
			e.logger.Warn("Rollover failed for plan",
				zap.String("subject_id", plan.SubjectID),
				zap.String("kind", string(plan.Kind)),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		total += n
	}

	e.logger.Info("Rollover complete", zap.Int("plans", len(plans)), zap.Int("occurrences", total))
	return stderrors.Join(errs...)
}
