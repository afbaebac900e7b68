// Package quota implements per-user message admission over a rolling time
// window. The persistent event log is the only count source; the tracker
// holds no authoritative in-process state.
package quota

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Decision is the outcome of an admission check.
type Decision int

const (
	// Allowed means the message may be processed and recorded.
	Allowed Decision = iota
	// Denied means the user has exhausted the window quota.
	Denied
)

// String returns a human-readable decision name for logging.
func (d Decision) String() string {
	if d == Denied {
		return "denied"
	}
	return "allowed"
}

// EventCounter is the slice of the persistence store the tracker needs.
type EventCounter interface {
	CountEventsSince(ctx context.Context, telegramID int64, since time.Time) (int, error)
}

// Tracker decides whether a user may send another message based on how many
// events fall inside the trailing window ending at the supplied instant.
type Tracker struct {
	counter     EventCounter
	maxMessages int
	window      time.Duration
	logger      *slog.Logger
}

// NewTracker creates a Tracker enforcing maxMessages per window.
func NewTracker(counter EventCounter, maxMessages int, window time.Duration, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Tracker{
		counter:     counter,
		maxMessages: maxMessages,
		window:      window,
		logger:      logger.With("component", "quota_tracker"),
	}
}

// Admit checks whether a new message from the user is allowed at the given
// instant. A brand-new user with no recorded events is always allowed. The
// caller is responsible for serializing Admit and the subsequent event
// recording per user identity, and for recording exactly one event per
// allowed decision.
func (t *Tracker) Admit(ctx context.Context, telegramID int64, now time.Time) (Decision, error) {
	windowStart := now.Add(-t.window)

	count, err := t.counter.CountEventsSince(ctx, telegramID, windowStart)
	if err != nil {
		t.logger.ErrorContext(ctx, "Failed to count events for admission check",
			"telegram_id", telegramID, "error", err)
		return Denied, err
	}

	decision := Allowed
	if count >= t.maxMessages {
		decision = Denied
	}

	t.logger.DebugContext(ctx, "Admission decision",
		"telegram_id", telegramID,
		"window_start", windowStart,
		"count", count,
		"max", t.maxMessages,
		"decision", decision.String())

	return decision, nil
}
