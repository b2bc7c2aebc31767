package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/brodkin/clack-track-sub011/internal/ai"
	"github.com/brodkin/clack-track-sub011/internal/breaker"
	"github.com/brodkin/clack-track-sub011/internal/config"
	"github.com/brodkin/clack-track-sub011/internal/database"
	"github.com/brodkin/clack-track-sub011/internal/display"
	"github.com/brodkin/clack-track-sub011/internal/generator"
	"github.com/brodkin/clack-track-sub011/internal/hass"
	"github.com/brodkin/clack-track-sub011/internal/history"
	"github.com/brodkin/clack-track-sub011/internal/notify"
	"github.com/brodkin/clack-track-sub011/internal/orchestrator"
	"github.com/brodkin/clack-track-sub011/internal/server"
	"github.com/brodkin/clack-track-sub011/internal/trigger"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var servePort int
var serveLogDir string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the clacktrack daemon",
	Long: `Starts the clacktrack daemon: a long-running process that keeps the
split-flap display up to date and exposes a local control API.

The daemon subscribes to Home Assistant events over websocket, runs cron
schedules, and serves a local HTTP API (default: http://127.0.0.1:6022)
so you can:

  • Force a refresh or inspect recent content and vote on it
  • Flip the MASTER and SLEEP_MODE circuits on and off
  • Watch provider circuit breakers trip and recover
  • Create cron schedules that rotate content automatically
  • Stream live events via GET /events (Server-Sent Events)

Example schedules:
  "0 7 * * *"   — every morning at 07:00
  "@every 30m"  — every 30 minutes
  "@hourly"     — on the hour

Quick API reference:
  GET  /health                         liveness check
  GET  /api/status                     daemon status snapshot
  POST /api/refresh                    generate and push a frame now
  GET  /api/history                    recent content (?limit=n)
  POST /api/history/:id/vote           vote on content (body: {"delta":1})
  GET  /api/circuits                   circuit breaker states
  PUT  /api/circuits/:id/state         flip a manual circuit on/off
  POST /api/circuits/:id/reset         reset a provider circuit
  GET  /api/schedules                  list cron schedules
  POST /api/schedules                  create a schedule
  POST /api/triggers/reload            re-read the trigger rule file
  GET  /events                         SSE stream of live events`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0,
		"HTTP port to listen on (default 6022, overrides config)")
	serveCmd.Flags().StringVar(&serveLogDir, "log-dir", "logs",
		"directory to write daemon logs for later inspection")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logFilePath, closeLog, err := setupServeFileLogger(serveLogDir)
	if err != nil {
		return fmt.Errorf("initialising daemon logger: %w", err)
	}
	defer closeLog()

	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 6022
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	providers, err := ai.NewAll(cfg.AI)
	if err != nil {
		return fmt.Errorf("configuring AI providers: %w", err)
	}
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		if p.Name() != "none" {
			names = append(names, p.Name())
		}
	}

	store := breaker.NewStore(db)
	if err := store.Seed(ctx, breaker.DefaultCircuits(names, cfg.Circuits.FailureThreshold)); err != nil {
		return fmt.Errorf("seeding circuits: %w", err)
	}
	engine := breaker.NewEngine(store, cfg.Circuits, nil)

	disp := display.NewClient(cfg.Display)
	hist := history.NewStore(db)
	orch := orchestrator.New(engine, generator.Default(), providers, disp, hist, cfg.AI, nil)
	srv := server.New(cfg, db, orch, engine, hist, disp)

	dispatcher := notify.NewDispatcher(cfg.Notify)
	orch.OnEvent = func(name string, payload map[string]any) {
		srv.Publish(name, payload)
		if dispatcher.IsAnyConfigured() {
			go func() {
				nctx, ncancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer ncancel()
				dispatcher.Notify(nctx, notifyEvent(name, payload))
			}()
		}
	}

	matcher, err := loadMatcher(cfg.Triggers.Path)
	if err != nil {
		return err
	}

	hassClient := hass.NewClient(cfg.HomeAssistant)
	handler := hass.NewHandler(hassClient, orch, matcher, cfg.HomeAssistant.RefreshEvent)
	if cfg.HomeAssistant.URL != "" {
		if err := handler.Initialize(ctx); err != nil {
			slog.Warn("serve: Home Assistant unavailable, continuing without event triggers", "error", err)
		}
		defer func() { _ = handler.Shutdown() }()
	}

	if cfg.Triggers.Path != "" {
		srv.ReloadTriggers = func(rctx context.Context) error {
			m, err := loadMatcher(cfg.Triggers.Path)
			if err != nil {
				return err
			}
			return handler.UpdateTriggerMatcher(rctx, m)
		}
		if cfg.Triggers.Watch {
			watchTriggers(ctx, cfg.Triggers.Path, srv.ReloadTriggers)
		}
	}

	fmt.Printf("clacktrack starting\n")
	fmt.Printf("  Display    : %s\n", cfg.Display.URL)
	fmt.Printf("  Providers  : %s\n", providerSummary(names))
	fmt.Printf("  API        : http://127.0.0.1:%d\n", cfg.Server.Port)
	fmt.Printf("  Events     : http://127.0.0.1:%d/events\n", cfg.Server.Port)
	fmt.Printf("  Logs       : %s\n\n", logFilePath)
	fmt.Println("Press Ctrl+C to stop gracefully.")
	fmt.Println()

	slog.Info("serve: logger initialised", "file", logFilePath)
	return srv.Start(ctx)
}

// loadMatcher reads the trigger rule file and compiles it. An empty path
// disables state-change triggering and returns a nil matcher.
func loadMatcher(path string) (*trigger.Matcher, error) {
	if path == "" {
		return nil, nil
	}
	rules, err := trigger.LoadRules(path)
	if err != nil {
		return nil, fmt.Errorf("loading trigger rules: %w", err)
	}
	m, err := trigger.NewMatcher(rules, nil)
	if err != nil {
		return nil, fmt.Errorf("compiling trigger rules: %w", err)
	}
	return m, nil
}

// watchTriggers hot-reloads the rule file when it changes on disk.
func watchTriggers(ctx context.Context, path string, reload func(context.Context) error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.OnConfigChange(func(fsnotify.Event) {
		if err := reload(ctx); err != nil {
			slog.Warn("serve: trigger reload failed", "error", err)
			return
		}
		slog.Info("serve: trigger rules reloaded", "file", path)
	})
	v.WatchConfig()
}

func providerSummary(names []string) string {
	if len(names) == 0 {
		return "none (art generators only)"
	}
	out := names[0]
	for _, n := range names[1:] {
		out += ", " + n
	}
	return out
}

// notifyEvent shapes an orchestrator lifecycle event for the notification
// channels.
func notifyEvent(name string, payload map[string]any) notify.Event {
	evt := notify.Event{Type: name, Metadata: payload}
	switch name {
	case "circuit.tripped":
		evt.Title = "Provider circuit tripped"
		evt.Body = fmt.Sprintf("Circuit %v opened after repeated failures.", payload["circuit"])
	case "generation.failed":
		evt.Title = "Content generation failed"
		evt.Body = fmt.Sprintf("Generator %v failed: %v", payload["generator"], payload["error"])
	case "display.unreachable":
		evt.Title = "Display unreachable"
		evt.Body = fmt.Sprintf("Frame push failed: %v", payload["error"])
	default:
		evt.Title = name
	}
	return evt
}

func setupServeFileLogger(logDir string) (string, func(), error) {
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating log dir %s: %w", logDir, err)
	}

	ts := time.Now().UTC().Format("20060102-150405")
	runLogPath := filepath.Join(logDir, fmt.Sprintf("clacktrack-%s.log", ts))
	runFile, err := os.OpenFile(runLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", nil, fmt.Errorf("opening run log file: %w", err)
	}

	latestPath := filepath.Join(logDir, "clacktrack.log")
	latestFile, err := os.OpenFile(latestPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = runFile.Close()
		return "", nil, fmt.Errorf("opening latest log file: %w", err)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, runFile, latestFile), &slog.HandlerOptions{
		Level:     level,
		AddSource: verbose,
	})
	slog.SetDefault(slog.New(handler))
	slog.SetLogLoggerLevel(level)

	cleanup := func() {
		_ = latestFile.Close()
		_ = runFile.Close()
	}
	return runLogPath, cleanup, nil
}
