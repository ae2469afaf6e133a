package tasks

import "context"

// newDeliverySweepTask runs the auto-delete sweep over delivered
// messages whose delete time has passed.
func newDeliverySweepTask(deps TaskDeps) ScheduledTaskFunc {
	return func(ctx context.Context) error {
		return deps.Sweeper.Sweep(ctx)
	}
}

// newPendingFetchExpiryTask releases info-mode artifacts whose
// deferred-fetch window has expired.
func newPendingFetchExpiryTask(deps TaskDeps) ScheduledTaskFunc {
	return func(ctx context.Context) error {
		return deps.Dispatcher.ExpirePending(ctx)
	}
}
