package tasks

import (
	"context"
)

// ScheduledTaskFunc is the signature every scheduled task implements.
// The context provided by the scheduler must be respected for
// cancellation.
type ScheduledTaskFunc func(ctx context.Context) error

// RegisterAllTasks returns the full task registry. Keys match the
// scheduler section of the configuration.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	tasks := make(map[string]ScheduledTaskFunc)

	tasks["delivery_sweep"] = newDeliverySweepTask(deps)
	tasks["pending_fetch_expiry"] = newPendingFetchExpiryTask(deps)
	tasks["sql_maintenance"] = newSQLMaintenanceTask(deps)

	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}
