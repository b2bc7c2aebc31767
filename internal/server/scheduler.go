package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/brodkin/clack-track-sub011/internal/database"
	"github.com/brodkin/clack-track-sub011/models"
)

const scheduleCols = "id, name, expr, generator_id, update_type, enabled, last_run_at, created_at, updated_at"

// Scheduler loads schedules from the database and registers them with
// robfig/cron. When a schedule fires it calls triggerFn (running one content
// update) and records last_run_at.
type Scheduler struct {
	db        database.DB
	cron      *cron.Cron
	triggerFn func(models.Schedule)
	broadcast func(SSEEvent)

	mu      sync.Mutex
	entries map[int64]cron.EntryID // schedule DB id → cron entry id
}

func newScheduler(db database.DB, triggerFn func(models.Schedule), broadcast func(SSEEvent)) *Scheduler {
	return &Scheduler{
		db:        db,
		cron:      cron.New(),
		triggerFn: triggerFn,
		broadcast: broadcast,
		entries:   make(map[int64]cron.EntryID),
	}
}

// Start loads all enabled schedules from the DB and starts the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	var schedules []models.Schedule
	if err := s.db.Select(ctx, &schedules,
		"SELECT "+scheduleCols+" FROM schedules WHERE enabled = 1"); err != nil {
		return fmt.Errorf("loading schedules: %w", err)
	}

	for _, sched := range schedules {
		if err := s.register(sched); err != nil {
			slog.Warn("scheduler: skipping schedule with invalid expression",
				"id", sched.ID, "name", sched.Name, "expr", sched.Expr, "error", err)
		}
	}

	s.cron.Start()
	slog.Info("scheduler started", "schedules_loaded", len(schedules))
	return nil
}

// Stop halts the cron runner gracefully.
func (s *Scheduler) Stop() { s.cron.Stop() }

// register adds a schedule to the running cron instance.
func (s *Scheduler) register(sched models.Schedule) error {
	entryID, err := s.cron.AddFunc(sched.Expr, func() {
		if err := s.runSchedule(context.Background(), sched, "schedule.fired"); err != nil {
			slog.Warn("scheduler: firing schedule failed",
				"id", sched.ID, "name", sched.Name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", sched.Expr, err)
	}
	s.mu.Lock()
	s.entries[sched.ID] = entryID
	s.mu.Unlock()
	return nil
}

// validate checks that expr is parseable by robfig/cron without adding it
// permanently to any runner.
func validate(expr string) error {
	tmp := cron.New()
	id, err := tmp.AddFunc(expr, func() {})
	if err != nil {
		return err
	}
	tmp.Remove(id)
	return nil
}

// Add validates, persists, and registers a new schedule. Returns the new DB id.
func (s *Scheduler) Add(ctx context.Context, sched models.Schedule) (int64, error) {
	if err := validate(sched.Expr); err != nil {
		return 0, fmt.Errorf("invalid schedule expression %q: %w", sched.Expr, err)
	}
	if sched.UpdateType == "" {
		sched.UpdateType = string(models.UpdateMinor)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	sched.CreatedAt = now
	sched.UpdatedAt = now

	id, err := s.db.Insert(ctx, "schedules", sched)
	if err != nil {
		return 0, err
	}
	sched.ID = id
	if sched.Enabled {
		if err := s.register(sched); err != nil {
			slog.Warn("scheduler: persisted but could not register schedule",
				"id", id, "error", err)
		}
	}
	return id, nil
}

// Update validates, persists, and re-registers an existing schedule.
func (s *Scheduler) Update(ctx context.Context, id int64, sched models.Schedule) error {
	if err := validate(sched.Expr); err != nil {
		return fmt.Errorf("invalid schedule expression %q: %w", sched.Expr, err)
	}

	var existing models.Schedule
	if err := s.db.Get(ctx, &existing,
		"SELECT "+scheduleCols+" FROM schedules WHERE id = ?", id); err != nil {
		return fmt.Errorf("loading schedule %d: %w", id, err)
	}

	if sched.UpdateType == "" {
		sched.UpdateType = string(models.UpdateMinor)
	}
	sched.ID = id
	sched.CreatedAt = existing.CreatedAt
	sched.LastRunAt = existing.LastRunAt
	sched.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if err := s.db.Update(ctx, "schedules", sched, "id = ?", id); err != nil {
		return err
	}

	s.mu.Lock()
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if sched.Enabled {
		if err := s.register(sched); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a schedule from cron and the DB.
func (s *Scheduler) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
	s.mu.Unlock()
	return s.db.Exec(ctx, "DELETE FROM schedules WHERE id = ?", id)
}

// List returns all schedules ordered by id.
func (s *Scheduler) List(ctx context.Context) ([]models.Schedule, error) {
	var out []models.Schedule
	err := s.db.Select(ctx, &out,
		"SELECT "+scheduleCols+" FROM schedules ORDER BY id")
	return out, err
}

// TriggerNow fires a schedule immediately regardless of its cron expression,
// recording last_run_at.
func (s *Scheduler) TriggerNow(ctx context.Context, id int64) error {
	var sched models.Schedule
	if err := s.db.Get(ctx, &sched,
		"SELECT "+scheduleCols+" FROM schedules WHERE id = ?", id); err != nil {
		return fmt.Errorf("loading schedule %d: %w", id, err)
	}
	return s.runSchedule(ctx, sched, "schedule.triggered")
}

func (s *Scheduler) runSchedule(ctx context.Context, sched models.Schedule, eventType string) error {
	stamp := struct {
		LastRunAt string `db:"last_run_at"`
	}{time.Now().UTC().Format(time.RFC3339)}
	if err := s.db.Update(ctx, "schedules", stamp, "id = ?", sched.ID); err != nil {
		slog.Warn("scheduler: recording last_run_at failed", "id", sched.ID, "error", err)
	}
	if s.broadcast != nil {
		s.broadcast(SSEEvent{Type: eventType, Payload: map[string]any{
			"id": sched.ID, "name": sched.Name, "generator_id": sched.GeneratorID,
		}})
	}
	s.triggerFn(sched)
	return nil
}
