// Package gate implements the subscription gate: delivery requires
// membership of the configured channel, when one is configured.
package gate

import (
	"context"
	"log/slog"

	"github.com/tunegrab/tunegrab/internal/settings"
)

// Status is the three-valued gate answer. Unknown means the membership
// check itself failed and must never be collapsed into Yes or No.
type Status int

const (
	Unknown Status = iota
	Yes
	No
)

func (s Status) String() string {
	switch s {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "unknown"
	}
}

// Members abstracts the chat-membership lookup against the transport.
type Members interface {
	// IsChannelMember reports whether userID is a member (or admin, or
	// owner) of the channel. Errors indicate the check itself failed,
	// typically because the bot lacks rights on the channel.
	IsChannelMember(ctx context.Context, channel string, userID int64) (bool, error)
}

// Gate answers subscription checks against the currently configured
// channel. The channel is read from the settings store at check time.
type Gate struct {
	settings *settings.Store
	members  Members
	logger   *slog.Logger
}

// New creates a Gate.
func New(settingsStore *settings.Store, members Members, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		settings: settingsStore,
		members:  members,
		logger:   logger.With("component", "gate"),
	}
}

// Check returns the gate status for userID. With no channel configured
// the gate is open and always answers Yes.
func (g *Gate) Check(ctx context.Context, userID int64) Status {
	channel := g.settings.Snapshot().ForceSubChannel
	if channel == "" {
		return Yes
	}

	member, err := g.members.IsChannelMember(ctx, channel, userID)
	if err != nil {
		g.logger.ErrorContext(ctx, "Subscription check failed",
			"channel", channel, "user_id", userID, "error", err)
		return Unknown
	}
	if member {
		return Yes
	}
	return No
}

// Channel returns the currently configured subscription channel, empty
// when the gate is open.
func (g *Gate) Channel() string {
	return g.settings.Snapshot().ForceSubChannel
}
