// Package config provides configuration loading, validation, and management
// for the TechBot application. It reads config.yaml, applies defaults,
// overlays BOT_* environment variables, and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-telegram/bot/models"
	"github.com/spf13/viper"
)

// Config defines the application configuration parameters for all components
// of the TechBot system: logging, Telegram transport, Gemini integration,
// quota enforcement, persona framing, persistence, and scheduled tasks.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Persona   PersonaConfig   `mapstructure:"persona"`
	Messages  MessagesConfig  `mapstructure:"messages"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LoggerConfig controls log verbosity and output format.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// TelegramConfig holds the bot credential and runtime bot identity.
type TelegramConfig struct {
	Token string `mapstructure:"token" validate:"required"`

	// BotInfo is populated at startup from GetMe, not from the config file.
	BotInfo *models.User `mapstructure:"-"`
}

// GeminiConfig holds the generation backend credential and request tuning.
type GeminiConfig struct {
	APIKey            string        `mapstructure:"api_key"             validate:"required"`
	ModelName         string        `mapstructure:"model_name"          validate:"required"`
	Temperature       float32       `mapstructure:"temperature"         validate:"min=0,max=2"`
	Timeout           time.Duration `mapstructure:"timeout"             validate:"min=1s,max=10m"`
	MaxRetries        int           `mapstructure:"max_retries"         validate:"min=0,max=5"`
	RetryDelaySeconds int           `mapstructure:"retry_delay_seconds" validate:"min=0,max=60"`
}

// QuotaConfig caps per-user message admission over a rolling window.
type QuotaConfig struct {
	MaxMessagesPerDay int           `mapstructure:"max_messages_per_day" validate:"min=1"`
	Window            time.Duration `mapstructure:"window"               validate:"min=1m"`
}

// PersonaConfig frames every generation request with a persona description
// and an advisory list of topics the bot should stick to.
type PersonaConfig struct {
	Description   string   `mapstructure:"description"    validate:"required"`
	AllowedTopics []string `mapstructure:"allowed_topics" validate:"min=1"`
}

// MessagesConfig holds the fixed user-facing reply texts.
type MessagesConfig struct {
	Welcome       string `mapstructure:"welcome"        validate:"required"`
	Help          string `mapstructure:"help"           validate:"required"`
	QuotaExceeded string `mapstructure:"quota_exceeded" validate:"required"`
	GeneralError  string `mapstructure:"general_error"  validate:"required"`
}

// DatabaseConfig holds persistence settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// SchedulerConfig holds the scheduled task definitions keyed by task name.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`

	// EventRetention bounds how far back the prune_events task keeps chat
	// events. Must not be shorter than the quota window, otherwise pruning
	// could remove rows that still count toward admission.
	EventRetention time.Duration `mapstructure:"event_retention" validate:"min=24h"`
}

// TaskConfig enables a named scheduled task with a cron expression.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// LoadConfig loads and validates configuration from:
// 1. Default values
// 2. The YAML file at configPath (optional)
// 3. BOT_* environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows from a default or
	// the config file. The credentials have neither, so they need explicit
	// bindings or env-only deployments would fail validation.
	v.MustBindEnv("telegram.token")
	v.MustBindEnv("gemini.api_key")

	// A missing config file is fine; defaults plus environment carry the
	// required values in container deployments.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file %q: %w", configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	if cfg.Scheduler.EventRetention < cfg.Quota.Window {
		return nil, fmt.Errorf("scheduler.event_retention (%s) must not be shorter than quota.window (%s)",
			cfg.Scheduler.EventRetention, cfg.Quota.Window)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", false)

	v.SetDefault("gemini.model_name", "gemini-2.0-flash")
	v.SetDefault("gemini.temperature", 1.0)
	v.SetDefault("gemini.timeout", 2*time.Minute)
	v.SetDefault("gemini.max_retries", 2)
	v.SetDefault("gemini.retry_delay_seconds", 5)

	v.SetDefault("quota.max_messages_per_day", 50)
	v.SetDefault("quota.window", 24*time.Hour)

	v.SetDefault("persona.description",
		"You are a helpful and friendly assistant specializing in technology and coding. You are concise and informative.")
	v.SetDefault("persona.allowed_topics",
		[]string{"technology", "coding", "python", "go", "ai", "programming", "data science"})

	v.SetDefault("messages.welcome", "Welcome! I'm your AI assistant. How can I help you today?")
	v.SetDefault("messages.help", "Send me a message and I'll answer. Commands: /start, /help.")
	v.SetDefault("messages.quota_exceeded", "Sorry, you have exceeded the daily message limit.")
	v.SetDefault("messages.general_error", "Sorry, I encountered an error while processing your request.")

	v.SetDefault("database.path", "storage.db")

	v.SetDefault("scheduler.event_retention", 30*24*time.Hour)
	v.SetDefault("scheduler.tasks.sql_maintenance.enabled", true)
	v.SetDefault("scheduler.tasks.sql_maintenance.schedule", "0 0 4 * * *")
	v.SetDefault("scheduler.tasks.prune_events.enabled", false)
	v.SetDefault("scheduler.tasks.prune_events.schedule", "0 30 4 * * *")
}
