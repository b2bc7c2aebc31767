package breaker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/brodkin/clack-track-sub011/internal/database"
	"github.com/brodkin/clack-track-sub011/models"
)

// ErrUnknownCircuit is returned when a circuit id has no row in the store.
var ErrUnknownCircuit = errors.New("unknown circuit")

// Store persists circuit rows. All operations are keyed by circuit id and
// must be assumed to fail (the backing database is real I/O); the Engine
// decides what a store failure means for the gate.
type Store interface {
	// Get loads one circuit by id. Returns ErrUnknownCircuit if absent.
	Get(ctx context.Context, id string) (*models.Circuit, error)

	// Update writes c back to its row.
	Update(ctx context.Context, c *models.Circuit) error

	// Seed inserts circuits that do not exist yet. Existing rows are left
	// untouched so breaker state survives restarts.
	Seed(ctx context.Context, circuits []models.Circuit) error

	// List returns all circuits ordered by id.
	List(ctx context.Context) ([]models.Circuit, error)
}

const circuitCols = `id, circuit_type, state, default_state, failure_count, success_count,
	failure_threshold, last_failure_at, last_success_at, state_changed_at`

// DBStore implements Store on top of the shared database layer.
type DBStore struct {
	db database.DB
}

// NewStore creates a circuit store backed by db.
func NewStore(db database.DB) *DBStore {
	return &DBStore{db: db}
}

func (s *DBStore) Get(ctx context.Context, id string) (*models.Circuit, error) {
	var c models.Circuit
	err := s.db.Get(ctx, &c, `SELECT `+circuitCols+` FROM circuits WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCircuit, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading circuit %s: %w", id, err)
	}
	return &c, nil
}

func (s *DBStore) Update(ctx context.Context, c *models.Circuit) error {
	if err := s.db.Update(ctx, "circuits", c, "id = ?", c.ID); err != nil {
		return fmt.Errorf("updating circuit %s: %w", c.ID, err)
	}
	return nil
}

func (s *DBStore) Seed(ctx context.Context, circuits []models.Circuit) error {
	for i := range circuits {
		c := circuits[i]
		_, err := s.Get(ctx, c.ID)
		if err == nil {
			continue // existing breaker state survives restarts
		}
		if !errors.Is(err, ErrUnknownCircuit) {
			return err
		}
		if _, err := s.db.Insert(ctx, "circuits", &c); err != nil {
			return fmt.Errorf("seeding circuit %s: %w", c.ID, err)
		}
	}
	return nil
}

func (s *DBStore) List(ctx context.Context) ([]models.Circuit, error) {
	var circuits []models.Circuit
	if err := s.db.Select(ctx, &circuits,
		`SELECT `+circuitCols+` FROM circuits ORDER BY id`); err != nil {
		return nil, fmt.Errorf("listing circuits: %w", err)
	}
	return circuits, nil
}

// DefaultCircuits builds the seed set: the MASTER and SLEEP_MODE manual
// switches plus one provider circuit per configured AI provider. MASTER
// defaults on, SLEEP_MODE defaults off.
func DefaultCircuits(providers []string, failureThreshold int) []models.Circuit {
	circuits := []models.Circuit{
		{ID: models.CircuitMaster, Type: models.CircuitManual,
			State: models.CircuitOn, DefaultState: models.CircuitOn},
		{ID: models.CircuitSleepMode, Type: models.CircuitManual,
			State: models.CircuitOff, DefaultState: models.CircuitOff},
	}
	for _, p := range providers {
		circuits = append(circuits, models.Circuit{
			ID:               models.ProviderCircuitID(p),
			Type:             models.CircuitProvider,
			State:            models.CircuitOn,
			DefaultState:     models.CircuitOn,
			FailureThreshold: failureThreshold,
		})
	}
	return circuits
}
