package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	DownloadDir       string        `envconfig:"DOWNLOAD_DIR" required:"true"`
	DataDir           string        `envconfig:"DATA_DIR"`
	DBPath            string        `envconfig:"DB_PATH" default:"downloads.db"`
	KeepDownloadedFor time.Duration `envconfig:"KEEP_DOWNLOADED_FOR" default:"168h"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	PollInterval      time.Duration `envconfig:"POLL_INTERVAL" default:"2s"`
	Workers           int           `envconfig:"WORKERS" default:"4"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	WebhookURL        string        `envconfig:"WEBHOOK_URL"`

	Retry struct {
		MaxAttempts     int           `split_words:"true" default:"3"`
		InitialInterval time.Duration `split_words:"true" default:"2s"`
		MaxInterval     time.Duration `split_words:"true" default:"1m"`
	}

	Credentials struct {
		TTL               time.Duration `split_words:"true" default:"8h"`
		GenerationTimeout time.Duration `split_words:"true" default:"30s"`
		ErrorCooldown     time.Duration `split_words:"true" default:"2m"`
	}

	API struct {
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8080"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}

	Telemetry struct {
		Enabled        bool   `split_words:"true" default:"true"`
		ServiceName    string `split_words:"true" default:"media_downloader"`
		ServiceVersion string `split_words:"true" default:"dev"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if cfg.DataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve user config dir: %w", err)
		}

		cfg.DataDir = filepath.Join(base, "media_downloader")
	}

	return &cfg, nil
}

// CredentialsDir is where the cookie artifact and its state record live.
func (c *Config) CredentialsDir() string {
	return filepath.Join(c.DataDir, "cookies")
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
