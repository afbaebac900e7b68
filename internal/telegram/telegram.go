// Package telegram wires the go-telegram/bot client: construction, handler
// registration, and command advertisement.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/botfleet/techbot/internal/bot/handlers"
)

// NewTelegramBot creates a new Telegram bot client with the given token and options.
func NewTelegramBot(token string, log *slog.Logger, opts ...tgbot.Option) (*tgbot.Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}

	b, err := tgbot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	log.Info("Telegram bot client created")
	return b, nil
}

// RegisterHandlers registers all command handlers with the bot instance.
func RegisterHandlers(b *tgbot.Bot, log *slog.Logger, cmdHandlers map[string]handlers.RegisteredHandler) error {
	if b == nil {
		return fmt.Errorf("telegram bot instance is nil")
	}

	for command, h := range cmdHandlers {
		if h.Handler == nil {
			return fmt.Errorf("handler for command %q is nil", command)
		}
		b.RegisterHandler(h.HandlerType, h.Pattern, h.MatchType, h.Handler, h.Middleware...)
		log.Info("Registered command handler", "command", command)
	}

	return nil
}

// SetCommands advertises the registered commands to Telegram so clients can
// offer command completion.
func SetCommands(ctx context.Context, b *tgbot.Bot, log *slog.Logger, cmdHandlers map[string]handlers.RegisteredHandler) error {
	commands := make([]models.BotCommand, 0, len(cmdHandlers))
	for _, h := range cmdHandlers {
		commands = append(commands, models.BotCommand{
			Command:     h.Pattern,
			Description: h.Description,
		})
	}
	sort.Slice(commands, func(i, j int) bool { return commands[i].Command < commands[j].Command })

	if _, err := b.SetMyCommands(ctx, &tgbot.SetMyCommandsParams{Commands: commands}); err != nil {
		return fmt.Errorf("failed to set bot commands: %w", err)
	}

	log.Info("Advertised bot commands", "count", len(commands))
	return nil
}
