package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	DiscordToken      string `envconfig:"DISCORD_TOKEN" required:"true"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	DownloadDir   string        `envconfig:"DOWNLOAD_DIR" required:"true"`
	DownloadDelay time.Duration `envconfig:"DOWNLOAD_DELAY" default:"250ms"`

	OwnerID       string   `envconfig:"OWNER_ID"`
	ApprovedUsers []string `envconfig:"APPROVED_USERS"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`
	DBPath   string `envconfig:"DB_PATH" default:"archiver.db"`

	API struct {
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9090"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}

	Telemetry struct {
		Enabled        bool   `split_words:"true" default:"true"`
		ServiceName    string `split_words:"true" default:"discord_archiver"`
		ServiceVersion string `split_words:"true" default:"dev"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
