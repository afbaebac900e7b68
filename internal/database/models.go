package database

import (
	"database/sql"
	"time"
)

// User represents a Telegram user known to the bot. The record is created
// idempotently on first contact and keeps the timestamp of the user's most
// recent admitted message for quota bookkeeping.
type User struct {
	ID        uint      `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	TelegramID    int64        `db:"telegram_id"`
	Username      string       `db:"username"`
	LastMessageAt sql.NullTime `db:"last_message_at"` // null until first message
}

// ChatEvent is an append-only record of one processed inbound message.
// Events are never mutated or deleted inline; the event count inside the
// quota window is the source of truth for admission decisions.
type ChatEvent struct {
	ID        uint      `db:"id"`
	CreatedAt time.Time `db:"created_at"`

	ChatID         int64     `db:"chat_id"`
	UserTelegramID int64     `db:"user_telegram_id"`
	Timestamp      time.Time `db:"timestamp"`
	Payload        string    `db:"payload"`
}
