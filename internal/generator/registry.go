// Package generator holds the content variants that fill the display:
// AI-prompted text generators and programmatic art generators, selected
// from a registry keyed by generator id.
package generator

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Kind separates generators that need an AI provider from those that
// render frames directly.
type Kind string

const (
	KindAI           Kind = "ai"
	KindProgrammatic Kind = "programmatic"
)

// Context carries the per-invocation inputs a generator may use.
type Context struct {
	Now         time.Time
	TriggerName string         // automation trigger that fired, if any
	EventData   map[string]any // raw event payload, if any
}

// Generator is the single interface all content variants implement.
type Generator interface {
	ID() string
	Kind() Kind
}

// Registry maps generator ids to implementations and provides a stable
// rotation order for scheduled updates.
type Registry struct {
	mu         sync.RWMutex
	generators map[string]Generator
	rotation   []string
	next       int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{generators: make(map[string]Generator)}
}

// Register adds g. Registering a duplicate id is a programming error.
func (r *Registry) Register(g Generator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.generators[g.ID()]; exists {
		return fmt.Errorf("generator %q already registered", g.ID())
	}
	r.generators[g.ID()] = g
	r.rotation = append(r.rotation, g.ID())
	sort.Strings(r.rotation)
	return nil
}

// Get returns the generator with the given id.
func (r *Registry) Get(id string) (Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.generators[id]
	if !ok {
		return nil, fmt.Errorf("unknown generator %q", id)
	}
	return g, nil
}

// Next returns the next generator in rotation order, skipping sleep art
// (which is only selected explicitly when sleep mode is active).
func (r *Registry) Next() (Generator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rotation) == 0 {
		return nil, fmt.Errorf("no generators registered")
	}
	for i := 0; i < len(r.rotation); i++ {
		id := r.rotation[r.next%len(r.rotation)]
		r.next++
		if id == SleepArtID {
			continue
		}
		return r.generators[id], nil
	}
	return nil, fmt.Errorf("no rotatable generators registered")
}

// IDs lists registered generator ids in rotation order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.rotation...)
}

// Default builds the standard registry with every built-in variant.
func Default() *Registry {
	r := NewRegistry()
	for _, g := range builtinAI() {
		// Built-in specs are static; a duplicate here is a bug, not input.
		if err := r.Register(g); err != nil {
			panic(err)
		}
	}
	if err := r.Register(NewPatternArt()); err != nil {
		panic(err)
	}
	if err := r.Register(NewSleepArt()); err != nil {
		panic(err)
	}
	return r
}
