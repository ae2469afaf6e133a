package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the data access operations the application needs.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// AddUser registers a user id, ignoring duplicates.
	AddUser(ctx context.Context, userID int64) error

	// CountUsers returns the number of registered users.
	CountUsers(ctx context.Context) (int64, error)

	// AllUserIDs returns every registered user id.
	AllUserIDs(ctx context.Context) ([]int64, error)

	// GetSetting returns the persisted value for key. Found is false
	// when the key has never been written.
	GetSetting(ctx context.Context, key string) (value string, found bool, err error)

	// SetSetting durably writes a setting key, inserting or updating.
	SetSetting(ctx context.Context, key, value string) error

	// SeedSetting writes a setting key only if it does not exist yet.
	SeedSetting(ctx context.Context, key, value string) error

	// RunSQLMaintenance performs database maintenance (VACUUM).
	RunSQLMaintenance(ctx context.Context) error
}

type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a Store implementation backed by sqlx.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) AddUser(ctx context.Context, userID int64) error {
	if userID == 0 {
		return fmt.Errorf("user id cannot be zero")
	}

	query := `INSERT INTO users (user_id, created_at) VALUES (?, ?) ON CONFLICT (user_id) DO NOTHING;`
	if _, err := s.db.ExecContext(ctx, query, userID, time.Now().UTC()); err != nil {
		s.logger.ErrorContext(ctx, "Error adding user", "user_id", userID, "error", err)
		return fmt.Errorf("failed to add user %d: %w", userID, err)
	}

	s.logger.DebugContext(ctx, "User registered", "user_id", userID)
	return nil
}

func (s *sqlxStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM users;`); err != nil {
		s.logger.ErrorContext(ctx, "Error counting users", "error", err)
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

func (s *sqlxStore) AllUserIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, `SELECT user_id FROM users ORDER BY user_id;`); err != nil {
		s.logger.ErrorContext(ctx, "Error listing users", "error", err)
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return ids, nil
}

func (s *sqlxStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, fmt.Errorf("setting key cannot be empty")
	}

	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM settings WHERE key = ?;`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error reading setting", "key", key, "error", err)
		return "", false, fmt.Errorf("failed to read setting %q: %w", key, err)
	}
	return value, true, nil
}

func (s *sqlxStore) SetSetting(ctx context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("setting key cannot be empty")
	}

	query := `
        INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
        ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;
    `
	if _, err := s.db.ExecContext(ctx, query, key, value, time.Now().UTC()); err != nil {
		s.logger.ErrorContext(ctx, "Error writing setting", "key", key, "error", err)
		return fmt.Errorf("failed to write setting %q: %w", key, err)
	}

	s.logger.DebugContext(ctx, "Setting persisted", "key", key, "value", value)
	return nil
}

func (s *sqlxStore) SeedSetting(ctx context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("setting key cannot be empty")
	}

	query := `
        INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
        ON CONFLICT (key) DO NOTHING;
    `
	if _, err := s.db.ExecContext(ctx, query, key, value, time.Now().UTC()); err != nil {
		s.logger.ErrorContext(ctx, "Error seeding setting", "key", key, "error", err)
		return fmt.Errorf("failed to seed setting %q: %w", key, err)
	}
	return nil
}

func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance completed")
	return nil
}
