// Package handlers contains the Telegram command, message, and
// callback handlers, along with their registration and middleware.
package handlers

import (
	"log/slog"

	"github.com/tunegrab/tunegrab/internal/config"
	"github.com/tunegrab/tunegrab/internal/database"
	"github.com/tunegrab/tunegrab/internal/delivery"
	"github.com/tunegrab/tunegrab/internal/gate"
	"github.com/tunegrab/tunegrab/internal/queue"
	"github.com/tunegrab/tunegrab/internal/settings"
)

// HandlerDeps provides dependencies for the Telegram handlers. It is
// shared as a pointer so components constructed after the bot instance
// (queue, dispatcher, gate) can be filled in before polling starts.
type HandlerDeps struct {
	Logger     *slog.Logger
	Config     *config.Config
	Store      database.Store
	Settings   *settings.Store
	Panel      *PanelState
	Queue      *queue.Queue
	Dispatcher *delivery.Dispatcher
	Gate       *gate.Gate
}
