package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/parley/internal/config"
	"github.com/zjrosen/parley/internal/log"
	"github.com/zjrosen/parley/internal/reply"
	"github.com/zjrosen/parley/internal/store"
	"github.com/zjrosen/parley/internal/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reply orchestration service",
	Long: `Run the reply orchestrator as a long-lived process. The embedding web
layer schedules jobs against it; this command owns the database, the worker
pool lifecycle, tracing, and config hot-reload. Stops cleanly on SIGINT or
SIGTERM, draining in-flight replies first.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// shutdownTimeout bounds the drain of in-flight replies on exit.
const shutdownTimeout = 30 * time.Second

func runServe(_ *cobra.Command, _ []string) error {
	debug := os.Getenv("PARLEY_DEBUG") != "" || debugFlag
	if debug {
		logPath := os.Getenv("PARLEY_LOG")
		if logPath == "" {
			logPath = "debug.log"
		}
		cleanup, err := log.Init(logPath)
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		defer cleanup()
		log.Info(log.CatConfig, "Parley starting", "debug", true, "logPath", logPath)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	provider, err := tracing.NewProvider(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		FilePath:     cfg.Tracing.FilePath,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
		ServiceName:  cfg.Tracing.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	db, err := store.NewDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	st := store.New(db, store.EngineSettings{
		Name:         cfg.Engine.Name,
		Endpoint:     cfg.Engine.Endpoint,
		SystemPrompt: cfg.Engine.SystemPrompt,
	})
	defer func() { _ = st.Close() }()

	launcher, err := reply.NewExecLauncher()
	if err != nil {
		return fmt.Errorf("creating worker launcher: %w", err)
	}

	orch := reply.New(st, reply.NewInMemoryRegistry(), launcher, reply.Options{
		DispatchDelay:     cfg.Reply.DispatchDelay,
		PollInterval:      cfg.Reply.PollInterval,
		GracePeriod:       cfg.Reply.GracePeriod,
		CommitAttempts:    cfg.Reply.CommitAttempts,
		GenerationTimeout: cfg.Reply.GenerationTimeout,
		UploadRoot:        cfg.Uploads.Root,
		URLPrefix:         cfg.Uploads.URLPrefix,
		DatabasePath:      cfg.Database.Path,
		EngineName:        cfg.Engine.Name,
		EngineEndpoint:    cfg.Engine.Endpoint,
		SystemPrompt:      cfg.Engine.SystemPrompt,
		Tracer:            provider.Tracer(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Re-read engine fallbacks when the config file changes on disk;
	// everything else requires a restart.
	watcher := startConfigWatcher(ctx, st)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Printf("parley %s ready (db: %s, engine: %s)\n", version, cfg.Database.Path, cfg.Engine.Name)
	fmt.Println("Press Ctrl+C to stop")

	sig := <-sigCh
	fmt.Printf("\nReceived %s, shutting down...\n", sig)

	if watcher != nil {
		_ = watcher.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.Error(log.CatOrch, "Error draining replies", "error", err)
	}
	if err := provider.Shutdown(shutdownCtx); err != nil {
		log.Error(log.CatOrch, "Error flushing traces", "error", err)
	}

	fmt.Println("Stopped")
	return nil
}

// startConfigWatcher reloads engine fallback settings when the config file
// changes. Returns nil when no config file is in use.
func startConfigWatcher(ctx context.Context, st *store.Store) *config.Watcher {
	path := viper.ConfigFileUsed()
	if path == "" {
		return nil
	}

	watcher, err := config.NewWatcher(config.DefaultWatchConfig(path))
	if err != nil {
		log.Warn(log.CatConfig, "Config watcher unavailable", "error", err)
		return nil
	}
	changes, err := watcher.Start()
	if err != nil {
		log.Warn(log.CatConfig, "Config watcher unavailable", "error", err)
		_ = watcher.Stop()
		return nil
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				if err := viper.ReadInConfig(); err != nil {
					log.Warn(log.CatConfig, "Config reload failed", "error", err)
					continue
				}
				var next config.Config
				if err := viper.Unmarshal(&next); err != nil {
					log.Warn(log.CatConfig, "Config reload failed", "error", err)
					continue
				}
				if err := next.Validate(); err != nil {
					log.Warn(log.CatConfig, "Ignoring invalid config change", "error", err)
					continue
				}
				cfg = next
				st.SetFallback(store.EngineSettings{
					Name:         next.Engine.Name,
					Endpoint:     next.Engine.Endpoint,
					SystemPrompt: next.Engine.SystemPrompt,
				})
				log.Info(log.CatConfig, "Config reloaded", "engine", next.Engine.Name)
			}
		}
	}()

	return watcher
}
