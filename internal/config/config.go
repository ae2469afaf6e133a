// Package config loads and validates the static process configuration.
// Values come from defaults, an optional config.yaml, and BOT_*
// environment variables, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-telegram/bot/models"
	"github.com/spf13/viper"
)

// Config holds every static (non-runtime-mutable) parameter. Runtime
// settings such as the upload mode live in the settings store; their
// boot defaults are seeded from the Defaults section here.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Download  DownloadConfig  `mapstructure:"download"`
	Spotify   SpotifyConfig   `mapstructure:"spotify"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Defaults  SettingDefaults `mapstructure:"defaults"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// TelegramConfig holds bot credentials and the admin list. BotInfo is
// populated at startup via GetMe and is not read from configuration.
type TelegramConfig struct {
	Token        string  `mapstructure:"token" validate:"required"`
	AdminUserIDs []int64 `mapstructure:"admin_user_ids" validate:"required,min=1"`

	BotInfo *models.User `mapstructure:"-"`
}

// DatabaseConfig holds the SQLite database location.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// DownloadConfig configures the yt-dlp boundary.
type DownloadConfig struct {
	YTDLPPath     string        `mapstructure:"ytdlp_path" validate:"required"`
	Dir           string        `mapstructure:"dir" validate:"required"`
	SearchTimeout time.Duration `mapstructure:"search_timeout" validate:"min=1s,max=5m"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout" validate:"min=10s,max=30m"`
}

// SpotifyConfig holds optional Spotify API credentials. When unset,
// Spotify links are rejected instead of unwrapped.
type SpotifyConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// QueueConfig tunes the request pipeline.
type QueueConfig struct {
	ResolveRetryBackoff time.Duration `mapstructure:"resolve_retry_backoff" validate:"min=100ms,max=1m"`
	FetchCooldown       time.Duration `mapstructure:"fetch_cooldown" validate:"min=1s,max=1h"`
	PendingFetchTTL     time.Duration `mapstructure:"pending_fetch_ttl" validate:"min=1m,max=168h"`
}

// SettingDefaults seeds the persisted settings store on first boot.
type SettingDefaults struct {
	UploadMode        string `mapstructure:"upload_mode" validate:"oneof=direct info"`
	QueueEnabled      bool   `mapstructure:"queue_enabled"`
	AutoDeleteMinutes int    `mapstructure:"auto_delete_minutes" validate:"min=0"`
	AllowedGroupID    int64  `mapstructure:"allowed_group_id"`
	ForceSubChannel   string `mapstructure:"force_sub_channel"`
}

// TaskConfig enables and schedules one background task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// SchedulerConfig maps task names to their schedules.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// Load reads configuration from defaults, config.yaml, and BOT_*
// environment variables, then validates the result.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Missing config file is fine, defaults plus env apply.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", true)

	// Empty defaults so env-only values are visible to Unmarshal.
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.admin_user_ids", []int64{})
	v.SetDefault("spotify.client_id", "")
	v.SetDefault("spotify.client_secret", "")

	v.SetDefault("database.path", "tunegrab.db")

	v.SetDefault("download.ytdlp_path", "yt-dlp")
	v.SetDefault("download.dir", "downloads")
	v.SetDefault("download.search_timeout", 30*time.Second)
	v.SetDefault("download.fetch_timeout", 10*time.Minute)

	v.SetDefault("queue.resolve_retry_backoff", 2*time.Second)
	v.SetDefault("queue.fetch_cooldown", 5*time.Minute)
	v.SetDefault("queue.pending_fetch_ttl", 24*time.Hour)

	v.SetDefault("defaults.upload_mode", "direct")
	v.SetDefault("defaults.queue_enabled", false)
	v.SetDefault("defaults.auto_delete_minutes", 0)
	v.SetDefault("defaults.allowed_group_id", int64(0))
	v.SetDefault("defaults.force_sub_channel", "")

	v.SetDefault("scheduler.tasks", map[string]TaskConfig{
		"delivery_sweep":       {Enabled: true, Schedule: "*/5 * * * * *"},
		"pending_fetch_expiry": {Enabled: true, Schedule: "0 */10 * * * *"},
		"sql_maintenance":      {Enabled: true, Schedule: "0 0 4 * * *"},
	})
}

// IsAdmin reports whether userID is in the configured admin list.
func (c *TelegramConfig) IsAdmin(userID int64) bool {
	for _, id := range c.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
