// Package cmd wires the parley command line: the long-running serve command
// and the hidden worker subcommand the orchestrator re-executes for each
// generation.
package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/parley/internal/config"
)

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Asynchronous reply generation for chat backends",
	Long: `Parley schedules and supervises reply-generation jobs for a chat backend:
each job runs in an isolated worker process, results are committed to SQLite
with bounded retry, and stale upload links in generated text are repaired
before commit.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .parley/config.yaml or ~/.config/parley/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false,
		"enable debug logging")
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("database.path", defaults.Database.Path)
	viper.SetDefault("uploads.root", defaults.Uploads.Root)
	viper.SetDefault("uploads.url_prefix", defaults.Uploads.URLPrefix)
	viper.SetDefault("reply.dispatch_delay", defaults.Reply.DispatchDelay)
	viper.SetDefault("reply.poll_interval", defaults.Reply.PollInterval)
	viper.SetDefault("reply.grace_period", defaults.Reply.GracePeriod)
	viper.SetDefault("reply.commit_attempts", defaults.Reply.CommitAttempts)
	viper.SetDefault("reply.generation_timeout", defaults.Reply.GenerationTimeout)
	viper.SetDefault("engine.name", defaults.Engine.Name)
	viper.SetDefault("engine.endpoint", defaults.Engine.Endpoint)
	viper.SetDefault("engine.system_prompt", defaults.Engine.SystemPrompt)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.file_path", defaults.Tracing.FilePath)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .parley/config.yaml (current directory)
		// 2. ~/.config/parley/config.yaml (user config)
		if _, err := os.Stat(filepath.Join(".parley", "config.yaml")); err == nil {
			viper.SetConfigFile(filepath.Join(".parley", "config.yaml"))
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "parley"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// No config file found anywhere - create default at .parley/config.yaml
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			defaultPath := filepath.Join(".parley", "config.yaml")
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				viper.SetConfigFile(defaultPath)
				_ = viper.ReadInConfig()
			}
			// If write fails, just continue with defaults (no config file)
		}
	}

	_ = viper.Unmarshal(&cfg)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
