// Package settings holds the live runtime settings of the bot. Unlike
// the static process configuration, these values are mutable through
// the admin panel and survive restarts via the database store.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/tunegrab/tunegrab/internal/config"
	"github.com/tunegrab/tunegrab/internal/database"
	"github.com/tunegrab/tunegrab/internal/media"
)

// Upload modes.
const (
	UploadModeDirect = "direct"
	UploadModeInfo   = "info"
)

// Persisted setting keys.
const (
	KeyUploadMode        = "upload_mode"
	KeyQueueEnabled      = "queue_enabled"
	KeyAutoDeleteMinutes = "auto_delete_minutes"
	KeyAllowedGroupID    = "allowed_group_id"
	KeyForceSubChannel   = "force_sub_channel"
)

// Settings is a complete snapshot of the runtime settings. Snapshots
// are values; mutating one never affects the store.
type Settings struct {
	UploadMode        string
	QueueEnabled      bool
	AutoDeleteMinutes int
	AllowedGroupID    int64
	ForceSubChannel   string
}

// Store is the single owner of the runtime settings. Every setter
// validates, persists durably, and only then updates the in-memory
// value, so a failed write never leaves a half-applied state visible.
type Store struct {
	mu     sync.RWMutex
	cur    Settings
	db     database.Store
	logger *slog.Logger
}

// NewStore seeds missing keys from the configured defaults, loads the
// persisted values, and returns the ready store.
func NewStore(ctx context.Context, db database.Store, defaults config.SettingDefaults, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		db:     db,
		logger: logger.With("component", "settings"),
	}

	seeds := map[string]string{
		KeyUploadMode:        defaults.UploadMode,
		KeyQueueEnabled:      strconv.FormatBool(defaults.QueueEnabled),
		KeyAutoDeleteMinutes: strconv.Itoa(defaults.AutoDeleteMinutes),
		KeyAllowedGroupID:    strconv.FormatInt(defaults.AllowedGroupID, 10),
		KeyForceSubChannel:   defaults.ForceSubChannel,
	}
	for key, value := range seeds {
		if err := db.SeedSetting(ctx, key, value); err != nil {
			return nil, fmt.Errorf("failed to seed setting %q: %w", key, err)
		}
	}

	if err := s.load(ctx); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Runtime settings loaded",
		"upload_mode", s.cur.UploadMode,
		"queue_enabled", s.cur.QueueEnabled,
		"auto_delete_minutes", s.cur.AutoDeleteMinutes)
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	read := func(key string) (string, error) {
		value, found, err := s.db.GetSetting(ctx, key)
		if err != nil {
			return "", err
		}
		if !found {
			return "", fmt.Errorf("setting %q missing after seeding", key)
		}
		return value, nil
	}

	mode, err := read(KeyUploadMode)
	if err != nil {
		return err
	}
	if mode != UploadModeDirect && mode != UploadModeInfo {
		s.logger.Warn("Persisted upload mode invalid, falling back to direct", "value", mode)
		mode = UploadModeDirect
	}

	queueRaw, err := read(KeyQueueEnabled)
	if err != nil {
		return err
	}
	queueEnabled, err := strconv.ParseBool(queueRaw)
	if err != nil {
		s.logger.Warn("Persisted queue flag invalid, falling back to disabled", "value", queueRaw)
		queueEnabled = false
	}

	delayRaw, err := read(KeyAutoDeleteMinutes)
	if err != nil {
		return err
	}
	delay, err := strconv.Atoi(delayRaw)
	if err != nil || delay < 0 {
		s.logger.Warn("Persisted auto-delete delay invalid, falling back to 0", "value", delayRaw)
		delay = 0
	}

	groupRaw, err := read(KeyAllowedGroupID)
	if err != nil {
		return err
	}
	groupID, err := strconv.ParseInt(groupRaw, 10, 64)
	if err != nil {
		s.logger.Warn("Persisted group id invalid, falling back to 0", "value", groupRaw)
		groupID = 0
	}

	channel, err := read(KeyForceSubChannel)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cur = Settings{
		UploadMode:        mode,
		QueueEnabled:      queueEnabled,
		AutoDeleteMinutes: delay,
		AllowedGroupID:    groupID,
		ForceSubChannel:   channel,
	}
	s.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current settings.
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// SetUploadMode switches between direct and info delivery.
func (s *Store) SetUploadMode(ctx context.Context, mode string) error {
	if mode != UploadModeDirect && mode != UploadModeInfo {
		return media.NewFlowError(media.KindConfigInvalid,
			fmt.Errorf("upload mode must be %q or %q, got %q", UploadModeDirect, UploadModeInfo, mode))
	}
	return s.commit(ctx, KeyUploadMode, mode, func(cur *Settings) {
		cur.UploadMode = mode
	})
}

// SetQueueEnabled toggles the per-chat request queue.
func (s *Store) SetQueueEnabled(ctx context.Context, enabled bool) error {
	return s.commit(ctx, KeyQueueEnabled, strconv.FormatBool(enabled), func(cur *Settings) {
		cur.QueueEnabled = enabled
	})
}

// SetAutoDeleteMinutes sets the post-delivery deletion delay. Zero
// disables auto-deletion.
func (s *Store) SetAutoDeleteMinutes(ctx context.Context, minutes int) error {
	if minutes < 0 {
		return media.NewFlowError(media.KindConfigInvalid,
			fmt.Errorf("auto-delete delay must be >= 0, got %d", minutes))
	}
	return s.commit(ctx, KeyAutoDeleteMinutes, strconv.Itoa(minutes), func(cur *Settings) {
		cur.AutoDeleteMinutes = minutes
	})
}

// SetAllowedGroupID changes the group authorized to send requests.
func (s *Store) SetAllowedGroupID(ctx context.Context, chatID int64) error {
	if chatID == 0 {
		return media.NewFlowError(media.KindConfigInvalid,
			fmt.Errorf("allowed group id cannot be zero"))
	}
	return s.commit(ctx, KeyAllowedGroupID, strconv.FormatInt(chatID, 10), func(cur *Settings) {
		cur.AllowedGroupID = chatID
	})
}

// SetForceSubChannel sets the subscription channel. An empty value
// disables the gate. Usernames are normalized to @-prefixed form;
// numeric channel ids are kept as-is.
func (s *Store) SetForceSubChannel(ctx context.Context, channel string) error {
	channel = strings.TrimSpace(channel)
	if channel != "" && !strings.HasPrefix(channel, "@") && !strings.HasPrefix(channel, "-") {
		channel = "@" + channel
	}
	return s.commit(ctx, KeyForceSubChannel, channel, func(cur *Settings) {
		cur.ForceSubChannel = channel
	})
}

// commit persists the new value and then applies it in memory. The
// database write happening first is what makes setter failures leave
// the store unchanged.
func (s *Store) commit(ctx context.Context, key, value string, apply func(*Settings)) error {
	if err := s.db.SetSetting(ctx, key, value); err != nil {
		return fmt.Errorf("failed to persist setting %q: %w", key, err)
	}

	s.mu.Lock()
	apply(&s.cur)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Runtime setting changed", "key", key, "value", value)
	return nil
}
