// Command glasslisten captures microphone and system audio, suppresses the
// echo of the system audio in the microphone stream, and streams 100 ms PCM16
// chunks to a downstream sink. It is controlled over a small HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/MrWong99/glasslisten/internal/app"
	"github.com/MrWong99/glasslisten/internal/config"
	"github.com/MrWong99/glasslisten/internal/observe"
	"github.com/MrWong99/glasslisten/pkg/capture"
)

// version is overridden at build time with -ldflags "-X main.version=…".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "glasslisten.yaml", "path to the YAML configuration file")
	autoStart := flag.Bool("start", false, "start a listening session immediately")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	var level slog.LevelVar
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	var current atomic.Pointer[app.App]
	watcher, err := config.NewWatcher(*configPath, func(d config.ConfigDiff, cfg *config.Config) {
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if a := current.Load(); a != nil {
			a.ApplyConfig(d, cfg)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "glasslisten: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "glasslisten: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()

	cfg := watcher.Current()
	level.Set(slogLevel(cfg.Server.LogLevel))

	slog.Info("glasslisten starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := watcher.Reload(); err != nil {
					slog.Warn("config reload failed", "path", *configPath, "err", err)
				}
			}
		}
	}()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	backend := capture.NewMalgoBackend()
	reg := config.NewRegistry()
	app.RegisterBuiltinTransports(reg)

	application, err := app.New(cfg,
		app.WithRegistry(reg),
		app.WithCaptureDeps(capture.Deps{Backend: backend}),
		app.WithCloser(backend.Close),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	current.Store(application)

	printStartupSummary(cfg, reg)

	if *autoStart {
		if _, err := application.Sessions().Start(ctx, "cli"); err != nil {
			slog.Error("failed to start session", "err", err)
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	code := 0
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, reg *config.Registry) {
	aec := "enabled"
	if !cfg.Audio.EchoCancellation() {
		aec = "disabled"
	}
	transport := cfg.Transport.Name
	if cfg.Transport.Fallback != "" {
		transport += " (fallback " + cfg.Transport.Fallback + ")"
	}
	fmt.Println("glasslisten startup summary")
	fmt.Printf("  Strategy   : %s\n", cfg.Capture.Strategy)
	fmt.Printf("  Chunk      : %d ms\n", cfg.Audio.ChunkDurationMs)
	fmt.Printf("  Echo supp. : %s\n", aec)
	fmt.Printf("  Transport  : %s\n", transport)
	fmt.Printf("  Registered : %s\n", strings.Join(reg.Transports(), ", "))
	fmt.Printf("  Listen addr: %s\n", cfg.Server.ListenAddr)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
