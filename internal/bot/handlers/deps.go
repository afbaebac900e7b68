package handlers

import (
	"log/slog"

	"github.com/botfleet/techbot/internal/chat"
	"github.com/botfleet/techbot/internal/config"
)

// HandlerDeps provides dependencies for Telegram command handlers.
type HandlerDeps struct {
	Logger      *slog.Logger
	Config      *config.Config
	Coordinator *chat.Coordinator
}
