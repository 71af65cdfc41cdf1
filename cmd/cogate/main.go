// Command cogate is the main entry point for the cogate gateway server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sylvanops/cogate/internal/app"
	"github.com/sylvanops/cogate/internal/config"
)

// Exit codes, for process supervisors.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
	exitBind    = 3
	exitBackend = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "cogate: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "cogate: %v\n", err)
		}
		return exitConfig
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("cogate starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)
	printStartupSummary(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, app.Options{ConfigPath: *configPath, LogLevel: level})
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return exitBackend
	}

	if err := application.Listen(); err != nil {
		slog.Error("failed to bind listen address", "err", err)
		return exitBind
	}

	slog.Info("server ready — press Ctrl+C to shut down")
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return exitRuntime
	}

	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return exitRuntime
	}
	slog.Info("goodbye")
	return exitOK
}

// printStartupSummary logs the configured backends per capability.
func printStartupSummary(cfg *config.Config) {
	summary := func(kind string, entries []config.BackendEntry) {
		if len(entries) == 0 {
			return
		}
		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.ID + " (" + e.Type + ")"
		}
		slog.Info("configured backends", "kind", kind, "backends", ids)
	}
	summary("llm", cfg.Backends.LLM)
	summary("stt", cfg.Backends.STT)
	summary("tts", cfg.Backends.TTS)
	summary("search", cfg.Backends.Search)
	summary("audiogen", cfg.Backends.AudioGen)
	if cfg.Archive.PostgresDSN != "" {
		slog.Info("research archive enabled", "dimensions", cfg.Archive.EmbeddingDimensions)
	}
}
