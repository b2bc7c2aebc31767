package models

import "time"

// CircuitType distinguishes admin-controlled switches from automatic breakers.
type CircuitType string

const (
	// CircuitManual circuits are flipped only by explicit admin action
	// (MASTER, SLEEP_MODE). They never enter half_open.
	CircuitManual CircuitType = "manual"
	// CircuitProvider circuits wrap an AI provider and evolve automatically
	// from observed call outcomes.
	CircuitProvider CircuitType = "provider"
)

// CircuitState is the current position of a circuit.
type CircuitState string

const (
	CircuitOn       CircuitState = "on"
	CircuitOff      CircuitState = "off"
	CircuitHalfOpen CircuitState = "half_open"
)

// Well-known manual circuit IDs seeded at startup.
const (
	CircuitMaster    = "MASTER"
	CircuitSleepMode = "SLEEP_MODE"
)

// ProviderCircuitID returns the circuit id gating the named AI provider
// (e.g. "openai" → "PROVIDER_OPENAI").
func ProviderCircuitID(provider string) string {
	id := "PROVIDER_"
	for _, r := range provider {
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		id += string(r)
	}
	return id
}

// Circuit is a single breaker row persisted in the circuits table.
// Counters are consecutive-outcome counters and are reset to zero on every
// state transition. SuccessCount is only meaningful while State == half_open.
type Circuit struct {
	ID               string       `json:"id"                db:"id"`
	Type             CircuitType  `json:"type"              db:"circuit_type"`
	State            CircuitState `json:"state"             db:"state"`
	DefaultState     CircuitState `json:"default_state"     db:"default_state"`
	FailureCount     int          `json:"failure_count"     db:"failure_count"`
	SuccessCount     int          `json:"success_count"     db:"success_count"`
	FailureThreshold int          `json:"failure_threshold" db:"failure_threshold"`
	LastFailureAt    *time.Time   `json:"last_failure_at"   db:"last_failure_at"`
	LastSuccessAt    *time.Time   `json:"last_success_at"   db:"last_success_at"`
	StateChangedAt   *time.Time   `json:"state_changed_at"  db:"state_changed_at"`
}

// CircuitStatus is the read-only diagnostic view returned by the engine's
// Status query and the /api/circuits endpoint. Computing it never mutates
// the underlying circuit row.
type CircuitStatus struct {
	Circuit
	// CanAttempt reports whether a gate check at the time of the query would
	// have allowed an attempt. For an off provider circuit whose reset
	// timeout has elapsed this is true even though the row still reads off:
	// the half_open transition happens lazily at the next real gate check.
	CanAttempt bool `json:"can_attempt"`
	// ResetAt is when an off provider circuit becomes eligible for a trial
	// call. Nil for manual circuits and circuits that are not off.
	ResetAt *time.Time `json:"reset_at,omitempty"`
}
