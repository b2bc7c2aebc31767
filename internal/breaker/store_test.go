package breaker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/brodkin/clack-track-sub011/internal/config"
	"github.com/brodkin/clack-track-sub011/internal/database"
	"github.com/brodkin/clack-track-sub011/models"
)

func newTestStore(t *testing.T) *DBStore {
	t.Helper()
	db, err := database.NewSQLite(config.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return NewStore(db)
}

func TestSeedAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	seed := DefaultCircuits([]string{"openai", "anthropic"}, 5)
	if err := store.Seed(ctx, seed); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	c, err := store.Get(ctx, "PROVIDER_OPENAI")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Type != models.CircuitProvider || c.State != models.CircuitOn || c.FailureThreshold != 5 {
		t.Fatalf("unexpected circuit: %+v", c)
	}

	master, err := store.Get(ctx, models.CircuitMaster)
	if err != nil {
		t.Fatalf("Get master: %v", err)
	}
	if master.Type != models.CircuitManual || master.State != models.CircuitOn {
		t.Fatalf("unexpected master circuit: %+v", master)
	}

	sleep, err := store.Get(ctx, models.CircuitSleepMode)
	if err != nil {
		t.Fatalf("Get sleep: %v", err)
	}
	if sleep.State != models.CircuitOff {
		t.Fatalf("sleep mode should default off, got %q", sleep.State)
	}
}

func TestGetUnknownCircuit(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get(context.Background(), "PROVIDER_NOPE"); !errors.Is(err, ErrUnknownCircuit) {
		t.Fatalf("err = %v, want ErrUnknownCircuit", err)
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if err := store.Seed(ctx, DefaultCircuits([]string{"openai"}, 5)); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	c, err := store.Get(ctx, "PROVIDER_OPENAI")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	c.State = models.CircuitOff
	c.FailureCount = 5
	c.LastFailureAt = &now
	c.StateChangedAt = &now
	if err := store.Update(ctx, c); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := store.Get(ctx, "PROVIDER_OPENAI")
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if got.State != models.CircuitOff || got.FailureCount != 5 {
		t.Fatalf("update not persisted: %+v", got)
	}
	if got.StateChangedAt == nil || !got.StateChangedAt.Equal(now) {
		t.Fatalf("state_changed_at = %v, want %v", got.StateChangedAt, now)
	}
	if got.LastSuccessAt != nil {
		t.Fatalf("last_success_at = %v, want nil", got.LastSuccessAt)
	}
}

func TestSeedPreservesExistingState(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seed := DefaultCircuits([]string{"openai"}, 5)
	if err := store.Seed(ctx, seed); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	c, _ := store.Get(ctx, "PROVIDER_OPENAI")
	c.State = models.CircuitOff
	if err := store.Update(ctx, c); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Re-seeding (e.g. restart) must not clobber breaker state.
	if err := store.Seed(ctx, seed); err != nil {
		t.Fatalf("re-Seed: %v", err)
	}
	got, _ := store.Get(ctx, "PROVIDER_OPENAI")
	if got.State != models.CircuitOff {
		t.Fatalf("re-seed reset state to %q", got.State)
	}
}

func TestEngineOverSQLite(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if err := store.Seed(ctx, DefaultCircuits([]string{"openai"}, 2)); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	eng := NewEngine(store, config.CircuitsConfig{
		ResetTimeout:      time.Minute,
		RecoveryThreshold: 1,
	}, nil)

	for i := 0; i < 2; i++ {
		if err := eng.RecordFailure(ctx, "PROVIDER_OPENAI"); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if eng.CanAttempt(ctx, "PROVIDER_OPENAI") {
		t.Fatal("expected circuit off")
	}
	st, err := eng.Status(ctx, "PROVIDER_OPENAI")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != models.CircuitOff || st.ResetAt == nil {
		t.Fatalf("unexpected status: %+v", st)
	}
}
