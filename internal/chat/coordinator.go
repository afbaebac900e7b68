// Package chat implements the conversation coordinator: the end-to-end
// handling of one inbound message, from quota admission through the
// generation backend call to the outbound reply.
package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/botfleet/techbot/internal/config"
	"github.com/botfleet/techbot/internal/database"
	"github.com/botfleet/techbot/internal/quota"
)

// Generator is the generation backend boundary. Implementations must honor
// context cancellation; a deadline exceeded error is reported like any other
// backend failure.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// InboundMessage carries one message event from the chat transport.
type InboundMessage struct {
	UserID     int64
	Username   string
	ChatID     int64
	Text       string
	IsGreeting bool
}

// OutboundReply is the text the transport sends back to the chat.
type OutboundReply struct {
	Text string
}

// Coordinator orchestrates the per-message flow: idempotent user creation,
// quota admission, event recording, and the single backend call. All state
// lives in the store; the coordinator only serializes per-user access to it.
type Coordinator struct {
	logger  *slog.Logger
	cfg     *config.Config
	store   database.Store
	tracker *quota.Tracker
	gen     Generator
	locks   *userLocks

	now func() time.Time // overridable for tests
}

// NewCoordinator creates a Coordinator with all collaborators injected.
func NewCoordinator(
	logger *slog.Logger,
	cfg *config.Config,
	store database.Store,
	tracker *quota.Tracker,
	gen Generator,
) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Coordinator{
		logger:  logger.With("component", "coordinator"),
		cfg:     cfg,
		store:   store,
		tracker: tracker,
		gen:     gen,
		locks:   newUserLocks(),
		now:     time.Now,
	}
}

// Handle processes one inbound message and returns the reply to send.
// Failures never surface internal diagnostics to the user; they are logged
// and answered with the fixed general error message. The per-user lock is
// released before the backend call so a slow generation for one user cannot
// block that user's storage path indefinitely, and never blocks other users
// at all.
func (c *Coordinator) Handle(ctx context.Context, msg InboundMessage) OutboundReply {
	now := c.now().UTC()
	log := c.logger.With("chat_id", msg.ChatID, "user_id", msg.UserID)

	if msg.IsGreeting {
		return c.greet(ctx, log, msg, now)
	}

	reply, admitted := c.admitAndRecord(ctx, log, msg, now)
	if !admitted {
		return reply
	}

	prompt := BuildPrompt(c.cfg.Persona.Description, c.cfg.Persona.AllowedTopics, msg.Text)

	genCtx, cancel := context.WithTimeout(ctx, c.cfg.Gemini.Timeout)
	defer cancel()

	text, err := c.gen.Generate(genCtx, prompt)
	if err != nil {
		// The event stays recorded: the inbound message happened whether or
		// not the backend produced a reply.
		log.ErrorContext(ctx, "Generation backend call failed", "error", err)
		return OutboundReply{Text: c.cfg.Messages.GeneralError}
	}

	log.DebugContext(ctx, "Generated reply", "reply_len", len(text))
	return OutboundReply{Text: text}
}

// admitAndRecord runs the quota-critical section for one user under the
// per-identity lock: ensure the user exists, ask the tracker for a decision,
// and on admission record exactly one event and one last-activity update.
// It reports whether the message was admitted; when it was not, the returned
// reply is final.
func (c *Coordinator) admitAndRecord(ctx context.Context, log *slog.Logger, msg InboundMessage, now time.Time) (OutboundReply, bool) {
	unlock := c.locks.lock(msg.UserID)
	defer unlock()

	if _, err := c.store.UpsertUser(ctx, msg.UserID, msg.Username); err != nil {
		log.ErrorContext(ctx, "Failed to upsert user", "error", err)
		return OutboundReply{Text: c.cfg.Messages.GeneralError}, false
	}

	decision, err := c.tracker.Admit(ctx, msg.UserID, now)
	if err != nil {
		log.ErrorContext(ctx, "Admission check failed", "error", err)
		return OutboundReply{Text: c.cfg.Messages.GeneralError}, false
	}

	if decision == quota.Denied {
		// Expected control outcome, not an error.
		log.InfoContext(ctx, "Message denied by quota")
		return OutboundReply{Text: c.cfg.Messages.QuotaExceeded}, false
	}

	if err := c.recordAdmitted(ctx, log, msg, now); err != nil {
		return OutboundReply{Text: c.cfg.Messages.GeneralError}, false
	}

	return OutboundReply{}, true
}

// greet handles first contact and explicit greeting commands. The welcome
// reply bypasses quota admission but still records a chat event and updates
// last activity, establishing the user's initial state.
func (c *Coordinator) greet(ctx context.Context, log *slog.Logger, msg InboundMessage, now time.Time) OutboundReply {
	unlock := c.locks.lock(msg.UserID)
	defer unlock()

	if _, err := c.store.UpsertUser(ctx, msg.UserID, msg.Username); err != nil {
		log.ErrorContext(ctx, "Failed to upsert user during greeting", "error", err)
		return OutboundReply{Text: c.cfg.Messages.GeneralError}
	}

	if err := c.recordAdmitted(ctx, log, msg, now); err != nil {
		return OutboundReply{Text: c.cfg.Messages.GeneralError}
	}

	log.InfoContext(ctx, "Greeted user")
	return OutboundReply{Text: c.cfg.Messages.Welcome}
}

// recordAdmitted persists the event and last-activity update for a message
// that passed (or bypassed) admission. Must be called under the user's lock.
func (c *Coordinator) recordAdmitted(ctx context.Context, log *slog.Logger, msg InboundMessage, now time.Time) error {
	if _, err := c.store.RecordEvent(ctx, msg.ChatID, msg.UserID, now, msg.Text); err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			// The upsert above makes this unreachable; seeing it means the
			// coordinator flow is broken.
			log.ErrorContext(ctx, "Event references unknown user after upsert", "error", err)
		} else {
			log.ErrorContext(ctx, "Failed to record chat event", "error", err)
		}
		return err
	}

	if err := c.store.UpdateLastActivity(ctx, msg.UserID, now); err != nil {
		log.ErrorContext(ctx, "Failed to update last activity", "error", err)
		return err
	}

	return nil
}
