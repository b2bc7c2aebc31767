// Package orchestrator runs one content update end to end: it gates on the
// circuit breaker, picks a generator, produces text through an AI provider
// chain (or renders art directly), composes the frame, and pushes it to the
// display.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brodkin/clack-track-sub011/internal/ai"
	"github.com/brodkin/clack-track-sub011/internal/breaker"
	"github.com/brodkin/clack-track-sub011/internal/config"
	"github.com/brodkin/clack-track-sub011/internal/frame"
	"github.com/brodkin/clack-track-sub011/internal/generator"
	"github.com/brodkin/clack-track-sub011/models"
)

// Block reasons reported when a generation is refused rather than failed.
const (
	BlockMasterOff           = "master_circuit_off"
	BlockProviderUnavailable = "provider_unavailable"
)

// Display pushes composed frames to the physical device.
type Display interface {
	SendFrame(ctx context.Context, f models.Frame, updateType models.UpdateType) error
}

// Recorder persists content history. Persistence is best-effort; failures
// are logged, never returned.
type Recorder interface {
	Record(ctx context.Context, h *models.ContentHistory) error
}

// Request describes one content update.
type Request struct {
	// GeneratorID selects a specific generator; empty means rotate.
	GeneratorID string
	UpdateType  models.UpdateType
	// TriggerName is set when an automation trigger initiated the update.
	TriggerName string
	EventData   map[string]any
}

// Result reports what a generation attempt did.
type Result struct {
	Success     bool                   `json:"success"`
	Blocked     bool                   `json:"blocked"`
	BlockReason string                 `json:"block_reason,omitempty"`
	GeneratorID string                 `json:"generator_id,omitempty"`
	Provider    string                 `json:"provider,omitempty"`
	Text        string                 `json:"text,omitempty"`
	Metadata    map[string]any         `json:"metadata,omitempty"`
	Frame       models.Frame           `json:"frame"`
	History     *models.ContentHistory `json:"history,omitempty"`
	Circuits    []models.CircuitStatus `json:"circuits,omitempty"`
}

// Orchestrator wires the breaker, generator registry, provider chain,
// frame composer, and display client together.
type Orchestrator struct {
	breaker   *breaker.Engine
	registry  *generator.Registry
	providers []ai.Provider
	display   Display
	history   Recorder // nil disables persistence
	cfg       config.AIConfig
	now       func() time.Time

	// OnEvent, when set, receives lifecycle events ("content.updated",
	// "circuit.tripped", "generation.blocked") for SSE and notifications.
	OnEvent func(name string, payload map[string]any)
}

// New creates an Orchestrator. now is injectable for tests; pass nil for
// time.Now. history may be nil.
func New(eng *breaker.Engine, reg *generator.Registry, providers []ai.Provider,
	disp Display, hist Recorder, cfg config.AIConfig, now func() time.Time) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		breaker:   eng,
		registry:  reg,
		providers: providers,
		display:   disp,
		history:   hist,
		cfg:       cfg,
		now:       now,
	}
}

// GenerateAndSend runs one update. A Blocked result is not an error: it
// means the breaker refused the attempt (master circuit off, or every
// provider gated or failing). Errors are reserved for work that was
// admitted and then failed, like a display push that did not go through.
func (o *Orchestrator) GenerateAndSend(ctx context.Context, req Request) (*Result, error) {
	if req.UpdateType == "" {
		req.UpdateType = models.UpdateMinor
	}

	if !o.breaker.CanAttempt(ctx, models.CircuitMaster) {
		slog.Info("orchestrator: update blocked, master circuit off", "trigger", req.TriggerName)
		return o.blocked(ctx, BlockMasterOff), nil
	}

	gen, err := o.pick(ctx, req)
	if err != nil {
		return nil, err
	}

	gc := generator.Context{
		Now:         o.now(),
		TriggerName: req.TriggerName,
		EventData:   req.EventData,
	}

	var (
		f        models.Frame
		text     string
		provider string
		meta     map[string]any
	)
	switch g := gen.(type) {
	case generator.ArtGenerator:
		f = g.Render(gc)
		text = frame.Text(f)

	case generator.AIGenerator:
		text, provider, err = o.generate(ctx, g, gc)
		if errors.Is(err, errAllGated) {
			res := o.blocked(ctx, BlockProviderUnavailable)
			res.GeneratorID = gen.ID()
			o.emit("generation.blocked", map[string]any{
				"generator": gen.ID(), "reason": BlockProviderUnavailable,
			})
			return res, nil
		}
		if err != nil {
			o.emit("generation.failed", map[string]any{
				"generator": gen.ID(), "error": err.Error(),
			})
			return &Result{GeneratorID: gen.ID(), Circuits: o.snapshot(ctx)},
				fmt.Errorf("generating content: %w", err)
		}
		f = frame.Compose(text)
		meta = g.Annotate(gc)

	default:
		return nil, fmt.Errorf("generator %q has no render path", gen.ID())
	}

	if err := o.display.SendFrame(ctx, f, req.UpdateType); err != nil {
		o.emit("display.unreachable", map[string]any{
			"generator": gen.ID(), "error": err.Error(),
		})
		return &Result{GeneratorID: gen.ID(), Provider: provider, Text: text, Frame: f},
			fmt.Errorf("pushing frame to display: %w", err)
	}

	res := &Result{
		Success:     true,
		GeneratorID: gen.ID(),
		Provider:    provider,
		Text:        text,
		Frame:       f,
		Metadata:    meta,
	}
	res.History = o.record(ctx, res, req)
	res.Circuits = o.snapshot(ctx)
	o.emit("content.updated", map[string]any{
		"generator": gen.ID(), "provider": provider, "trigger": req.TriggerName,
	})
	return res, nil
}

// pick resolves the generator for req. While SLEEP_MODE is on every update
// routes to sleep art, keeping the board quiet without touching a provider.
func (o *Orchestrator) pick(ctx context.Context, req Request) (generator.Generator, error) {
	if o.breaker.CanAttempt(ctx, models.CircuitSleepMode) {
		return o.registry.Get(generator.SleepArtID)
	}
	if req.GeneratorID != "" {
		return o.registry.Get(req.GeneratorID)
	}
	return o.registry.Next()
}

// generate walks the provider chain in fallback order. Each provider is
// gated by its own circuit; the breaker records one outcome per admitted
// call (retries of transient errors happen inside that one call).
func (o *Orchestrator) generate(ctx context.Context, g generator.AIGenerator, gc generator.Context) (text, provider string, err error) {
	genReq, err := g.BuildRequest(gc)
	if err != nil {
		return "", "", err
	}

	tried := 0
	for _, p := range o.providers {
		circuitID := models.ProviderCircuitID(p.Name())
		if !o.breaker.CanAttempt(ctx, circuitID) {
			slog.Debug("orchestrator: provider gated by circuit", "provider", p.Name())
			continue
		}
		tried++

		out, callErr := o.callProvider(ctx, p, genReq)
		if callErr != nil {
			o.reportFailure(ctx, p.Name(), circuitID, callErr)
			continue
		}

		if recErr := o.breaker.RecordSuccess(ctx, circuitID); recErr != nil {
			slog.Warn("orchestrator: recording provider success failed",
				"circuit", circuitID, "error", recErr)
		}
		return out, p.Name(), nil
	}

	if tried == 0 {
		return "", "", errAllGated
	}
	return "", "", fmt.Errorf("all %d admitted providers failed", tried)
}

// errAllGated means no provider was even admitted: the breaker refused each
// one, so the update is blocked rather than failed.
var errAllGated = errors.New("all providers gated by circuit breaker")

// callProvider runs one gated provider call, bounded by the configured
// request timeout, with transient-error retries inside.
func (o *Orchestrator) callProvider(ctx context.Context, p ai.Provider, req ai.GenerateRequest) (string, error) {
	if o.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RequestTimeout)
		defer cancel()
	}

	var out string
	err := ai.WithRetry(ctx, p.Name(), o.cfg.MaxAttempts, 0, func() error {
		var genErr error
		out, genErr = p.Generate(ctx, req)
		return genErr
	})
	return out, err
}

func (o *Orchestrator) reportFailure(ctx context.Context, provider, circuitID string, callErr error) {
	slog.Warn("orchestrator: provider call failed",
		"provider", provider, "auth", ai.IsAuthError(callErr), "error", callErr)
	if recErr := o.breaker.RecordFailure(ctx, circuitID); recErr != nil {
		slog.Warn("orchestrator: recording provider failure failed",
			"circuit", circuitID, "error", recErr)
		return
	}
	status, err := o.breaker.Status(ctx, circuitID)
	if err == nil && status.State == models.CircuitOff && status.FailureCount == 0 {
		// FailureCount just reset: this failure completed the trip.
		o.emit("circuit.tripped", map[string]any{
			"circuit": circuitID, "provider": provider, "error": callErr.Error(),
		})
	}
}

// record persists the history row for a successful update. Best-effort.
func (o *Orchestrator) record(ctx context.Context, res *Result, req Request) *models.ContentHistory {
	if o.history == nil {
		return nil
	}
	frameJSON, err := json.Marshal(res.Frame)
	if err != nil {
		slog.Warn("orchestrator: marshaling frame for history failed", "error", err)
		return nil
	}
	h := &models.ContentHistory{
		GeneratorID: res.GeneratorID,
		Provider:    res.Provider,
		Text:        res.Text,
		FrameJSON:   string(frameJSON),
		UpdateType:  string(req.UpdateType),
		TriggerName: req.TriggerName,
		CreatedAt:   o.now().UTC(),
	}
	if len(res.Metadata) > 0 {
		metaJSON, err := json.Marshal(res.Metadata)
		if err != nil {
			slog.Warn("orchestrator: marshaling generator metadata failed", "error", err)
		} else {
			h.Metadata = string(metaJSON)
		}
	}
	if err := o.history.Record(ctx, h); err != nil {
		slog.Warn("orchestrator: persisting content history failed", "error", err)
		return nil
	}
	return h
}

func (o *Orchestrator) blocked(ctx context.Context, reason string) *Result {
	return &Result{Blocked: true, BlockReason: reason, Circuits: o.snapshot(ctx)}
}

func (o *Orchestrator) snapshot(ctx context.Context) []models.CircuitStatus {
	statuses, err := o.breaker.StatusAll(ctx)
	if err != nil {
		slog.Debug("orchestrator: circuit snapshot failed", "error", err)
		return nil
	}
	return statuses
}

func (o *Orchestrator) emit(name string, payload map[string]any) {
	if o.OnEvent == nil {
		return
	}
	// A panicking observer must not take the update path down with it.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("orchestrator: event observer panicked", "event", name, "panic", r)
		}
	}()
	o.OnEvent(name, payload)
}
