package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brodkin/clack-track-sub011/internal/config"
	"github.com/brodkin/clack-track-sub011/models"
)

// Engine evolves circuit state from observed call outcomes and gates
// operations behind it.
//
// Manual circuits (MASTER, SLEEP_MODE) are plain switches: CanAttempt reads
// state and outcome reports are no-ops. Provider circuits run the breaker
// state machine:
//
//	on        → off:       failureThreshold consecutive failures
//	off       → half_open: resetTimeout elapsed, observed lazily at the next
//	                       CanAttempt gate check (never by Status)
//	half_open → on:        recoveryThreshold successes
//	half_open → off:       any failure
//
// All read-modify-write sequences for one circuit are serialised through a
// per-circuit mutex, and a half_open circuit admits exactly one trial call
// at a time (in-flight probe flag).
type Engine struct {
	store Store
	cfg   config.CircuitsConfig
	now   func() time.Time

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	probes map[string]bool               // circuit id → trial call in flight
	types  map[string]models.CircuitType // circuit id → type, from last good read
}

// NewEngine creates an Engine over store. now is injectable for tests; pass
// nil for time.Now.
func NewEngine(store Store, cfg config.CircuitsConfig, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 2 * time.Minute
	}
	if cfg.RecoveryThreshold <= 0 {
		cfg.RecoveryThreshold = 1
	}
	return &Engine{
		store:  store,
		cfg:    cfg,
		now:    now,
		locks:  make(map[string]*sync.Mutex),
		probes: make(map[string]bool),
		types:  make(map[string]models.CircuitType),
	}
}

// CanAttempt reports whether an operation gated by the circuit may proceed.
// For an off provider circuit whose reset timeout has elapsed, it performs
// the off→half_open transition as a side effect and admits the call as the
// single trial.
//
// A store failure fails safe: manual circuits always block, provider
// circuits follow cfg.FailOpenOnStoreError (default: block).
func (e *Engine) CanAttempt(ctx context.Context, id string) bool {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	c, err := e.getCircuit(ctx, id)
	if err != nil {
		return e.storeFailurePolicy(id, err)
	}

	if c.Type == models.CircuitManual {
		return c.State == models.CircuitOn
	}

	switch c.State {
	case models.CircuitOn:
		return true

	case models.CircuitHalfOpen:
		// Single trial at a time.
		return e.claimProbe(id)

	case models.CircuitOff:
		if c.StateChangedAt == nil || e.now().Sub(*c.StateChangedAt) < e.cfg.ResetTimeout {
			return false
		}
		e.transition(c, models.CircuitHalfOpen)
		if err := e.store.Update(ctx, c); err != nil {
			slog.Warn("breaker: persisting half_open transition failed", "circuit", id, "error", err)
			return e.storeFailurePolicy(id, err)
		}
		slog.Info("breaker: reset timeout elapsed, trialing circuit", "circuit", id)
		e.mu.Lock()
		e.probes[id] = true
		e.mu.Unlock()
		return true

	default:
		return false
	}
}

// RecordSuccess reports a successful gated call. No-op for manual circuits.
func (e *Engine) RecordSuccess(ctx context.Context, id string) error {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	defer e.releaseProbe(id)

	c, err := e.getCircuit(ctx, id)
	if err != nil {
		return err
	}
	if c.Type == models.CircuitManual {
		return nil
	}

	now := e.now()
	c.SuccessCount++
	c.FailureCount = 0
	c.LastSuccessAt = &now

	if c.State == models.CircuitHalfOpen && c.SuccessCount >= e.cfg.RecoveryThreshold {
		e.transition(c, models.CircuitOn)
		slog.Info("breaker: circuit recovered", "circuit", id)
	}
	return e.store.Update(ctx, c)
}

// RecordFailure reports a failed gated call. No-op for manual circuits.
// Permanent errors (auth, validation) count the same as transient ones:
// either way the provider call did not succeed.
func (e *Engine) RecordFailure(ctx context.Context, id string) error {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	defer e.releaseProbe(id)

	c, err := e.getCircuit(ctx, id)
	if err != nil {
		return err
	}
	if c.Type == models.CircuitManual {
		return nil
	}

	now := e.now()
	c.FailureCount++
	c.SuccessCount = 0
	c.LastFailureAt = &now

	switch {
	case c.State == models.CircuitHalfOpen:
		// Trial failed — straight back to off.
		e.transition(c, models.CircuitOff)
		slog.Warn("breaker: trial call failed, circuit re-opened", "circuit", id)
	case c.State == models.CircuitOn && c.FailureCount >= c.FailureThreshold:
		e.transition(c, models.CircuitOff)
		slog.Warn("breaker: circuit tripped",
			"circuit", id, "failures", c.FailureThreshold)
	}
	return e.store.Update(ctx, c)
}

// Status returns the read-only diagnostic view of a circuit. It never
// mutates state: an off circuit past its reset timeout is reported as
// attemptable, but the half_open transition waits for a real gate check.
func (e *Engine) Status(ctx context.Context, id string) (*models.CircuitStatus, error) {
	c, err := e.getCircuit(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.status(c), nil
}

// StatusAll returns the diagnostic view of every circuit.
func (e *Engine) StatusAll(ctx context.Context) ([]models.CircuitStatus, error) {
	circuits, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	statuses := make([]models.CircuitStatus, 0, len(circuits))
	for i := range circuits {
		statuses = append(statuses, *e.status(&circuits[i]))
	}
	return statuses, nil
}

// SetManualState flips a manual circuit by admin command.
func (e *Engine) SetManualState(ctx context.Context, id string, state models.CircuitState) error {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	c, err := e.getCircuit(ctx, id)
	if err != nil {
		return err
	}
	if c.Type != models.CircuitManual {
		return fmt.Errorf("circuit %s is not a manual switch", id)
	}
	if state != models.CircuitOn && state != models.CircuitOff {
		return fmt.Errorf("manual circuits are on or off, got %q", state)
	}
	if c.State == state {
		return nil
	}
	e.transition(c, state)
	slog.Info("breaker: manual circuit set", "circuit", id, "state", state)
	return e.store.Update(ctx, c)
}

// Reset restores a circuit to its default state with counters cleared.
func (e *Engine) Reset(ctx context.Context, id string) error {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	defer e.releaseProbe(id)

	c, err := e.getCircuit(ctx, id)
	if err != nil {
		return err
	}
	e.transition(c, c.DefaultState)
	slog.Info("breaker: circuit reset", "circuit", id, "state", c.DefaultState)
	return e.store.Update(ctx, c)
}

func (e *Engine) status(c *models.Circuit) *models.CircuitStatus {
	st := &models.CircuitStatus{Circuit: *c}
	if c.Type == models.CircuitManual {
		st.CanAttempt = c.State == models.CircuitOn
		return st
	}
	switch c.State {
	case models.CircuitOn:
		st.CanAttempt = true
	case models.CircuitHalfOpen:
		e.mu.Lock()
		st.CanAttempt = !e.probes[c.ID]
		e.mu.Unlock()
	case models.CircuitOff:
		if c.StateChangedAt != nil {
			resetAt := c.StateChangedAt.Add(e.cfg.ResetTimeout)
			st.ResetAt = &resetAt
			st.CanAttempt = !e.now().Before(resetAt)
		}
	}
	return st
}

// transition moves c to state, resetting both counters and stamping the
// change time. Counters reset on every transition per the breaker contract.
func (e *Engine) transition(c *models.Circuit, state models.CircuitState) {
	now := e.now()
	c.State = state
	c.FailureCount = 0
	c.SuccessCount = 0
	c.StateChangedAt = &now
}

// getCircuit reads id from the store, remembering the circuit's type so
// storeFailurePolicy can classify it even when later reads fail.
func (e *Engine) getCircuit(ctx context.Context, id string) (*models.Circuit, error) {
	c, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.types[id] = c.Type
	e.mu.Unlock()
	return c, nil
}

func (e *Engine) storeFailurePolicy(id string, err error) bool {
	slog.Error("breaker: circuit store unavailable", "circuit", id, "error", err)
	e.mu.Lock()
	typ, known := e.types[id]
	e.mu.Unlock()
	if known && typ == models.CircuitProvider {
		return e.cfg.FailOpenOnStoreError
	}
	// Manual gates, and circuits never successfully read, always block
	// when their state cannot be read.
	return false
}

func (e *Engine) lockFor(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.locks[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	e.locks[id] = l
	return l
}

func (e *Engine) claimProbe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.probes[id] {
		return false
	}
	e.probes[id] = true
	return true
}

func (e *Engine) releaseProbe(id string) {
	e.mu.Lock()
	delete(e.probes, id)
	e.mu.Unlock()
}
