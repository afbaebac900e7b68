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

// ErrUserNotFound is returned when an operation references a user that has
// no record in the store. Callers must upsert the user before recording
// events; hitting this error mid-flow indicates a coordinator bug.
var ErrUserNotFound = errors.New("user not found")

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// GetUser retrieves a user by Telegram ID. Returns nil, nil if not found.
	GetUser(ctx context.Context, telegramID int64) (*User, error)

	// UpsertUser creates the user record if absent and returns it. An
	// existing record is returned unchanged; concurrent calls for the same
	// identity never produce duplicate rows.
	UpsertUser(ctx context.Context, telegramID int64, username string) (*User, error)

	// RecordEvent appends a chat event for an existing user. Returns
	// ErrUserNotFound if the referenced user does not exist.
	RecordEvent(ctx context.Context, chatID, telegramID int64, timestamp time.Time, payload string) (*ChatEvent, error)

	// CountEventsSince returns the number of events for the user with
	// timestamp at or after since.
	CountEventsSince(ctx context.Context, telegramID int64, since time.Time) (int, error)

	// UpdateLastActivity sets the user's last-message timestamp. Returns
	// ErrUserNotFound if the user does not exist.
	UpdateLastActivity(ctx context.Context, telegramID int64, timestamp time.Time) error

	// PruneEventsBefore deletes chat events older than cutoff and returns
	// the number of rows removed. Used by the scheduled retention task.
	PruneEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUser retrieves a user by Telegram ID. Returns nil, nil if not found.
func (s *sqlxStore) GetUser(ctx context.Context, telegramID int64) (*User, error) {
	if telegramID == 0 {
		return nil, fmt.Errorf("telegram_id cannot be zero")
	}

	var user User
	query := `SELECT id, created_at, updated_at, telegram_id, username, last_message_at
	          FROM users WHERE telegram_id = ?`

	err := s.db.GetContext(ctx, &user, query, telegramID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No user found", "telegram_id", telegramID)
		return nil, nil

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching user",
			"telegram_id", telegramID, "error", err)
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting user", "telegram_id", telegramID, "error", err)
		return nil, fmt.Errorf("failed to get user %d: %w", telegramID, err)
	}

	return &user, nil
}

// UpsertUser creates the user record if absent and returns the stored row.
// The insert uses ON CONFLICT DO NOTHING, so a concurrent creation of the
// same identity is a benign no-op rather than a constraint error.
func (s *sqlxStore) UpsertUser(ctx context.Context, telegramID int64, username string) (*User, error) {
	if telegramID == 0 {
		return nil, fmt.Errorf("telegram_id cannot be zero")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for user upsert",
			"telegram_id", telegramID, "error", err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	now := time.Now().UTC()
	insert := `
        INSERT INTO users (telegram_id, username, last_message_at, created_at, updated_at)
        VALUES (?, ?, NULL, ?, ?)
        ON CONFLICT (telegram_id) DO NOTHING;
    `
	result, err := tx.ExecContext(ctx, insert, telegramID, username, now, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error upserting user", "telegram_id", telegramID, "error", err)
		return nil, fmt.Errorf("failed to upsert user %d: %w", telegramID, err)
	}

	var user User
	query := `SELECT id, created_at, updated_at, telegram_id, username, last_message_at
	          FROM users WHERE telegram_id = ?`
	if err := tx.GetContext(ctx, &user, query, telegramID); err != nil {
		s.logger.ErrorContext(ctx, "Error reading back upserted user", "telegram_id", telegramID, "error", err)
		return nil, fmt.Errorf("failed to read back user %d: %w", telegramID, err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction",
			"telegram_id", telegramID, "error", err)
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	// Successfully committed, set tx to nil to avoid rollback
	tx = nil

	if affected, affErr := result.RowsAffected(); affErr == nil && affected == 1 {
		s.logger.DebugContext(ctx, "User created", "telegram_id", telegramID)
	} else {
		s.logger.DebugContext(ctx, "User already exists", "telegram_id", telegramID)
	}

	return &user, nil
}

// RecordEvent appends a chat event for an existing user. The existence check
// and the insert run in one transaction so the foreign-key invariant holds
// even under concurrent writers.
func (s *sqlxStore) RecordEvent(ctx context.Context, chatID, telegramID int64, timestamp time.Time, payload string) (*ChatEvent, error) {
	if chatID == 0 {
		return nil, fmt.Errorf("chat_id cannot be zero")
	}
	if telegramID == 0 {
		return nil, fmt.Errorf("telegram_id cannot be zero")
	}
	if timestamp.IsZero() {
		return nil, fmt.Errorf("event timestamp cannot be zero")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for recording event",
			"chat_id", chatID, "telegram_id", telegramID, "error", err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	var exists int
	err = tx.GetContext(ctx, &exists, `SELECT 1 FROM users WHERE telegram_id = ? LIMIT 1`, telegramID)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.ErrorContext(ctx, "Attempted to record event for unknown user",
			"chat_id", chatID, "telegram_id", telegramID)
		return nil, fmt.Errorf("record event for user %d: %w", telegramID, ErrUserNotFound)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error checking user existence",
			"telegram_id", telegramID, "error", err)
		return nil, fmt.Errorf("failed to check user %d: %w", telegramID, err)
	}

	event := &ChatEvent{
		ChatID:         chatID,
		UserTelegramID: telegramID,
		Timestamp:      timestamp.UTC(),
		Payload:        payload,
		CreatedAt:      time.Now().UTC(),
	}

	insert := `
        INSERT INTO chat_events (chat_id, user_telegram_id, timestamp, payload, created_at)
        VALUES (:chat_id, :user_telegram_id, :timestamp, :payload, :created_at);
    `
	result, err := tx.NamedExecContext(ctx, insert, event)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error recording event",
			"chat_id", chatID, "telegram_id", telegramID, "error", err)
		return nil, fmt.Errorf("failed to record event (chat %d, user %d): %w", chatID, telegramID, err)
	}

	if id, idErr := result.LastInsertId(); idErr == nil {
		//nolint:gosec // integer overflow conversion is acceptable here
		event.ID = uint(id)
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after recording event",
			"chat_id", chatID, "telegram_id", telegramID, "error", idErr)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction",
			"chat_id", chatID, "telegram_id", telegramID, "error", err)
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	// Successfully committed, set tx to nil to avoid rollback
	tx = nil

	s.logger.DebugContext(ctx, "Event recorded successfully",
		"chat_id", chatID, "telegram_id", telegramID, "event_id", event.ID)
	return event, nil
}

// CountEventsSince returns the number of events for the user with timestamp
// at or after since.
func (s *sqlxStore) CountEventsSince(ctx context.Context, telegramID int64, since time.Time) (int, error) {
	if telegramID == 0 {
		return 0, fmt.Errorf("telegram_id cannot be zero")
	}

	var count int
	query := `SELECT COUNT(*) FROM chat_events WHERE user_telegram_id = ? AND timestamp >= ?`

	err := s.db.GetContext(ctx, &count, query, telegramID, since.UTC())

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while counting events",
			"telegram_id", telegramID, "error", err)
		return 0, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error counting events", "telegram_id", telegramID, "error", err)
		return 0, fmt.Errorf("failed to count events for user %d: %w", telegramID, err)
	}

	s.logger.DebugContext(ctx, "Counted events in window",
		"telegram_id", telegramID, "since", since, "count", count)
	return count, nil
}

// UpdateLastActivity sets the user's last-message timestamp.
func (s *sqlxStore) UpdateLastActivity(ctx context.Context, telegramID int64, timestamp time.Time) error {
	if telegramID == 0 {
		return fmt.Errorf("telegram_id cannot be zero")
	}

	query := `UPDATE users SET last_message_at = ?, updated_at = ? WHERE telegram_id = ?`
	result, err := s.db.ExecContext(ctx, query, timestamp.UTC(), time.Now().UTC(), telegramID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating last activity", "telegram_id", telegramID, "error", err)
		return fmt.Errorf("failed to update last activity for user %d: %w", telegramID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not get affected row count for last activity update",
			"telegram_id", telegramID, "error", err)
		return nil
	}
	if affected == 0 {
		s.logger.ErrorContext(ctx, "Attempted to update last activity for unknown user",
			"telegram_id", telegramID)
		return fmt.Errorf("update last activity for user %d: %w", telegramID, ErrUserNotFound)
	}

	return nil
}

// PruneEventsBefore deletes chat events older than cutoff.
func (s *sqlxStore) PruneEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, fmt.Errorf("prune cutoff cannot be zero")
	}

	query := `DELETE FROM chat_events WHERE timestamp < ?`
	result, err := s.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Error pruning old events", "cutoff", cutoff, "error", err)
		return 0, fmt.Errorf("failed to prune events before %s: %w", cutoff, err)
	}

	count, _ := result.RowsAffected()
	s.logger.InfoContext(ctx, "Pruned old chat events", "cutoff", cutoff, "count", count)
	return count, nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)

	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	return nil
}
