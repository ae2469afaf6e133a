// Package tasks implements the scheduled background tasks: the
// delivery deletion sweep, pending-fetch expiry, and SQL maintenance.
package tasks

import (
	"log/slog"

	"github.com/tunegrab/tunegrab/internal/database"
	"github.com/tunegrab/tunegrab/internal/delivery"
)

// TaskDeps provides the dependencies scheduled tasks need.
type TaskDeps struct {
	Logger     *slog.Logger
	Store      database.Store
	Sweeper    *delivery.Sweeper
	Dispatcher *delivery.Dispatcher
}
