// Package config provides configuration types, defaults, and persistence for
// the parley reply service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DatabaseConfig holds SQLite database settings.
type DatabaseConfig struct {
	// Path is the SQLite database file. Relative paths resolve against the
	// working directory of the daemon.
	Path string `mapstructure:"path"`
}

// UploadsConfig holds settings for the shared upload tree where generated
// files are persisted and where reply text links point.
type UploadsConfig struct {
	// Root is the on-disk upload directory.
	Root string `mapstructure:"root"`

	// URLPrefix is the public path prefix the web layer serves Root under.
	// Reply text references files as <URLPrefix>/<relative path>.
	URLPrefix string `mapstructure:"url_prefix"`
}

// ReplyConfig tunes the reply orchestrator.
type ReplyConfig struct {
	// DispatchDelay is the artificial pause before a worker is spawned.
	// It smooths bursty load and gives Cancel a window before any process
	// is committed.
	DispatchDelay time.Duration `mapstructure:"dispatch_delay"`

	// PollInterval is the sleep increment while waiting on a worker.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// GracePeriod is how long a cancelled worker gets to exit before it is
	// hard-killed.
	GracePeriod time.Duration `mapstructure:"grace_period"`

	// CommitAttempts bounds the write retry on database contention.
	CommitAttempts int `mapstructure:"commit_attempts"`

	// GenerationTimeout caps a single generation run. Zero disables the cap;
	// crash detection and Cancel remain the only ways out.
	GenerationTimeout time.Duration `mapstructure:"generation_timeout"`
}

// EngineConfig holds fallback generation engine settings. Values stored in
// the database settings table take precedence so admins can retune a running
// service; these apply when the table is empty.
type EngineConfig struct {
	// Name selects the engine implementation ("echo" or "http").
	Name string `mapstructure:"name"`

	// Endpoint is the model service URL for the http engine.
	Endpoint string `mapstructure:"endpoint"`

	// SystemPrompt is prepended to every generation request.
	SystemPrompt string `mapstructure:"system_prompt"`
}

// TracingConfig configures the OpenTelemetry tracing subsystem.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Exporter     string  `mapstructure:"exporter"` // "none", "file", "stdout", "otlp"
	FilePath     string  `mapstructure:"file_path"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	ServiceName  string  `mapstructure:"service_name"`
}

// Config holds all configuration options for parley.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Uploads  UploadsConfig  `mapstructure:"uploads"`
	Reply    ReplyConfig    `mapstructure:"reply"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Path: ".parley/parley.db",
		},
		Uploads: UploadsConfig{
			Root:      "chat_uploads",
			URLPrefix: "/chat_uploads",
		},
		Reply: ReplyConfig{
			DispatchDelay:     1500 * time.Millisecond,
			PollInterval:      100 * time.Millisecond,
			GracePeriod:       time.Second,
			CommitAttempts:    3,
			GenerationTimeout: 0,
		},
		Engine: EngineConfig{
			Name:     "echo",
			Endpoint: "http://localhost:8601/generate",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     "", // Derived from config dir at runtime
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
			ServiceName:  "parley-orchestrator",
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Uploads.Root == "" {
		return fmt.Errorf("uploads.root is required")
	}
	if c.Reply.PollInterval <= 0 {
		return fmt.Errorf("reply.poll_interval must be positive")
	}
	if c.Reply.CommitAttempts < 1 {
		return fmt.Errorf("reply.commit_attempts must be at least 1")
	}
	if c.Reply.DispatchDelay < 0 || c.Reply.GracePeriod < 0 || c.Reply.GenerationTimeout < 0 {
		return fmt.Errorf("reply durations must not be negative")
	}
	return nil
}

// DefaultConfigPath returns the preferred config file location:
// .parley/config.yaml in the working directory if present, otherwise
// ~/.config/parley/config.yaml.
func DefaultConfigPath() string {
	local := filepath.Join(".parley", "config.yaml")
	if _, err := os.Stat(local); err == nil {
		return local
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return local
	}
	return filepath.Join(home, ".config", "parley", "config.yaml")
}
