package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/botfleet/techbot/internal/chat"
)

// NewStartHandler returns a handler for the /start command. The greeting
// bypasses quota admission but still establishes the user's record and
// initial usage state through the coordinator.
func NewStartHandler(deps HandlerDeps) bot.HandlerFunc {
	return startHandler{deps}.Handle
}

// startHandler processes the /start command using injected dependencies.
type startHandler struct {
	deps HandlerDeps
}

func (h startHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "start")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Start handler received update with nil message or sender", "update_id", update.ID)
		return
	}

	msg := update.Message
	log.InfoContext(ctx, "Handling /start command", "chat_id", msg.Chat.ID, "user_id", msg.From.ID)

	reply := h.deps.Coordinator.Handle(ctx, chat.InboundMessage{
		UserID:     msg.From.ID,
		Username:   msg.From.Username,
		ChatID:     msg.Chat.ID,
		Text:       msg.Text,
		IsGreeting: true,
	})

	SendReply(ctx, b, log, msg.Chat.ID, msg.ID, reply.Text)
}
