// Package server is the local REST + SSE control plane: circuit and history
// inspection, manual refresh, schedule management, and a live event stream.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/brodkin/clack-track-sub011/internal/breaker"
	"github.com/brodkin/clack-track-sub011/internal/config"
	"github.com/brodkin/clack-track-sub011/internal/database"
	"github.com/brodkin/clack-track-sub011/internal/history"
	"github.com/brodkin/clack-track-sub011/internal/orchestrator"
	"github.com/brodkin/clack-track-sub011/models"
)

// Updater runs one content update. Implemented by the Orchestrator.
type Updater interface {
	GenerateAndSend(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// DisplayPinger checks display reachability for the status endpoint.
type DisplayPinger interface {
	Ping(ctx context.Context) bool
}

// Server is the long-running daemon surface. It combines the content
// orchestrator, a cron Scheduler, and a REST + SSE HTTP server.
type Server struct {
	cfg         *config.Config
	db          database.DB
	updater     Updater
	engine      *breaker.Engine
	hist        *history.Store
	display     DisplayPinger
	scheduler   *Scheduler
	broadcaster *Broadcaster

	// ReloadTriggers, when set, re-reads the trigger rule file and swaps
	// the matcher. Wired by the serve command.
	ReloadTriggers func(ctx context.Context) error

	mu            sync.RWMutex
	startedAt     time.Time
	lastUpdateAt  string
	lastGenerator string
}

// New creates a Server. Call Start() to begin serving.
func New(cfg *config.Config, db database.DB, updater Updater, engine *breaker.Engine,
	hist *history.Store, display DisplayPinger) *Server {
	s := &Server{
		cfg:         cfg,
		db:          db,
		updater:     updater,
		engine:      engine,
		hist:        hist,
		display:     display,
		broadcaster: newBroadcaster(),
		startedAt:   time.Now(),
	}
	s.scheduler = newScheduler(db, s.runScheduled, s.broadcaster.send)
	return s
}

// Publish fans an orchestrator lifecycle event out to SSE subscribers and
// tracks the last successful update. Safe to use as orchestrator.OnEvent.
func (s *Server) Publish(name string, payload map[string]any) {
	if name == "content.updated" {
		s.mu.Lock()
		s.lastUpdateAt = time.Now().UTC().Format(time.RFC3339)
		if g, ok := payload["generator"].(string); ok {
			s.lastGenerator = g
		}
		s.mu.Unlock()
	}
	s.broadcaster.send(SSEEvent{Type: name, Payload: payload})
}

// runScheduled handles one cron firing: a content update with the
// schedule's generator (empty = rotation) and update type.
func (s *Server) runScheduled(sched models.Schedule) {
	res, err := s.updater.GenerateAndSend(context.Background(), orchestrator.Request{
		GeneratorID: sched.GeneratorID,
		UpdateType:  models.UpdateType(sched.UpdateType),
		TriggerName: "schedule:" + sched.Name,
	})
	if err != nil {
		slog.Error("server: scheduled update failed", "schedule", sched.Name, "error", err)
		return
	}
	if res.Blocked {
		slog.Info("server: scheduled update blocked",
			"schedule", sched.Name, "reason", res.BlockReason)
	}
}

// Start runs the server until ctx is cancelled: loads the cron scheduler,
// starts a status ticker, and binds the HTTP listener (blocks until
// shutdown).
func (s *Server) Start(ctx context.Context) error {
	port := s.cfg.Server.Port
	if port == 0 {
		port = 6022
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	go s.runStatusTicker(ctx)

	srv := &http.Server{
		Addr:    addr,
		Handler: buildHandler(s),
	}

	go func() {
		<-ctx.Done()
		s.scheduler.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("server: listening", "addr", "http://"+addr)
	s.broadcaster.send(SSEEvent{
		Type:    "server.started",
		Payload: map[string]string{"addr": "http://" + addr},
	})

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// runStatusTicker broadcasts a status.update SSE event every 5 seconds.
func (s *Server) runStatusTicker(ctx context.Context) {
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.broadcaster.send(SSEEvent{Type: "status.update", Payload: s.currentStatus(ctx)})
		}
	}
}

// currentStatus assembles the live snapshot served by GET /api/status.
func (s *Server) currentStatus(ctx context.Context) Status {
	st := Status{Running: true}

	if master, err := s.engine.Status(ctx, models.CircuitMaster); err == nil {
		st.MasterOn = master.State == models.CircuitOn
	}
	if sleep, err := s.engine.Status(ctx, models.CircuitSleepMode); err == nil {
		st.SleepModeOn = sleep.State == models.CircuitOn
	}
	if all, err := s.engine.StatusAll(ctx); err == nil {
		for _, c := range all {
			if c.Type == models.CircuitProvider && c.State != models.CircuitOn {
				st.OpenCircuits++
			}
		}
	}

	var rows countRow
	if err := s.db.Get(ctx, &rows, "SELECT COUNT(*) AS n FROM content_history"); err == nil {
		st.HistoryRows = rows.N
	}

	if s.display != nil {
		st.DisplayOnline = s.display.Ping(ctx)
	}

	s.mu.RLock()
	st.LastUpdateAt = s.lastUpdateAt
	st.LastGenerator = s.lastGenerator
	st.UptimeSeconds = int64(time.Since(s.startedAt).Seconds())
	s.mu.RUnlock()
	return st
}
