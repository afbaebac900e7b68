package handlers

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/botfleet/techbot/internal/chat"
)

const sendMessageTimeout = 10 * time.Second

type messageHandler struct {
	deps HandlerDeps
}

// NewMessageHandler creates the default handler for plain text messages.
// It hands each message to the conversation coordinator, which enforces the
// quota and performs the single generation backend call.
func NewMessageHandler(deps HandlerDeps) bot.HandlerFunc {
	return messageHandler{deps}.Handle
}

func (h messageHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "message")

	msg := update.Message
	if msg == nil || msg.From == nil || strings.TrimSpace(msg.Text) == "" {
		log.DebugContext(ctx, "Ignoring update with nil message, empty content, or nil sender", "update_id", update.ID)
		return
	}

	// Unmatched commands fall through to the default handler; they are not
	// conversation input.
	if strings.HasPrefix(msg.Text, "/") {
		log.DebugContext(ctx, "Ignoring unknown command", "chat_id", msg.Chat.ID, "text_prefix", msg.Text[:1])
		return
	}

	log.DebugContext(ctx, "Handling message", "chat_id", msg.Chat.ID, "user_id", msg.From.ID, "message_id", msg.ID)

	_, _ = b.SendChatAction(ctx, &bot.SendChatActionParams{ChatID: msg.Chat.ID, Action: models.ChatActionTyping})

	reply := h.deps.Coordinator.Handle(ctx, chat.InboundMessage{
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Text:     msg.Text,
	})

	SendReply(ctx, b, log, msg.Chat.ID, msg.ID, reply.Text)
}

// SendReply sends a reply message to the chat with a bounded timeout.
func SendReply(ctx context.Context, b *bot.Bot, log *slog.Logger, chatID int64, replyTo int, text string) {
	if b == nil || chatID == 0 || text == "" {
		log.ErrorContext(ctx, "Invalid parameters to SendReply", "chat_id", chatID, "reply_to", replyTo)
		return
	}

	if ctx.Err() != nil {
		log.ErrorContext(ctx, "Context cancelled before sending reply", "error", ctx.Err(), "chat_id", chatID)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendMessageTimeout)
	defer cancel()

	params := &bot.SendMessageParams{ChatID: chatID, Text: text}
	if replyTo > 0 {
		params.ReplyParameters = &models.ReplyParameters{MessageID: replyTo}
	}

	sent, err := b.SendMessage(sendCtx, params)
	if err != nil {
		log.ErrorContext(ctx, "Failed to send reply message", "error", err, "chat_id", chatID)
		return
	}

	log.InfoContext(ctx, "Sent reply", "chat_id", chatID, "message_id", sent.ID)
}
