package hass

import (
	"context"
	"log/slog"
	"sync"

	"github.com/brodkin/clack-track-sub011/internal/orchestrator"
	"github.com/brodkin/clack-track-sub011/internal/trigger"
	"github.com/brodkin/clack-track-sub011/models"
)

// ManualRefreshTrigger names the trigger recorded on updates forced by the
// manual-refresh event.
const ManualRefreshTrigger = "manual_refresh"

// defaultRefreshEvent is the custom event type that forces a regeneration
// when none is configured.
const defaultRefreshEvent = "clacktrack_refresh"

// ContentUpdater runs one content update. Implemented by the Orchestrator.
type ContentUpdater interface {
	GenerateAndSend(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// Handler ties Home Assistant events to content updates: a manual-refresh
// event forces a major regeneration, state_changed events go through the
// trigger matcher.
type Handler struct {
	source       EventSource
	updater      ContentUpdater
	refreshEvent string

	mu              sync.Mutex
	matcher         *trigger.Matcher
	initialized     bool
	stateSubscribed bool
	shutdown        bool
}

// NewHandler creates a Handler. matcher may be nil to disable state-change
// triggering; refreshEvent falls back to a default when empty.
func NewHandler(source EventSource, updater ContentUpdater, matcher *trigger.Matcher, refreshEvent string) *Handler {
	if refreshEvent == "" {
		refreshEvent = defaultRefreshEvent
	}
	return &Handler{
		source:       source,
		updater:      updater,
		matcher:      matcher,
		refreshEvent: refreshEvent,
	}
}

// Initialize subscribes to the manual-refresh event and, when a matcher is
// configured, to state_changed events.
func (h *Handler) Initialize(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.initialized {
		return nil
	}

	if err := h.source.SubscribeToEvents(ctx, h.refreshEvent, h.onRefresh); err != nil {
		return err
	}
	if h.matcher != nil {
		if err := h.source.SubscribeToEvents(ctx, "state_changed", h.onStateChanged); err != nil {
			return err
		}
		h.stateSubscribed = true
	}
	h.initialized = true
	slog.Info("hass: event handler initialized",
		"refresh_event", h.refreshEvent, "state_triggers", h.matcher != nil)
	return nil
}

// UpdateTriggerMatcher hot-swaps the trigger matcher. The old matcher's
// debounce state is cleaned up; nil disables state-change triggering.
func (h *Handler) UpdateTriggerMatcher(ctx context.Context, m *trigger.Matcher) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.matcher != nil {
		h.matcher.Cleanup()
	}
	h.matcher = m

	if m != nil && h.initialized && !h.stateSubscribed {
		if err := h.source.SubscribeToEvents(ctx, "state_changed", h.onStateChanged); err != nil {
			return err
		}
		h.stateSubscribed = true
	}
	slog.Info("hass: trigger matcher updated", "enabled", m != nil)
	return nil
}

// Shutdown cleans up debounce state and disconnects the event source.
// Safe even if Initialize never ran, and safe to call twice.
func (h *Handler) Shutdown() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return nil
	}
	h.shutdown = true
	if h.matcher != nil {
		h.matcher.Cleanup()
	}
	return h.source.Disconnect()
}

// onRefresh forces an immediate major regeneration, bypassing the matcher.
func (h *Handler) onRefresh(ev Event) {
	slog.Info("hass: manual refresh requested")
	h.update(orchestrator.Request{
		UpdateType:  models.UpdateMajor,
		TriggerName: ManualRefreshTrigger,
		EventData:   ev.Data,
	})
}

// onStateChanged routes a state_changed event through the matcher. Events
// with no entity_id or no new state are ignored without logging; Home
// Assistant emits plenty of both.
func (h *Handler) onStateChanged(ev Event) {
	entityID, _ := ev.Data["entity_id"].(string)
	if entityID == "" {
		return
	}
	newState, ok := ev.Data["new_state"].(map[string]any)
	if !ok {
		return
	}
	state, _ := newState["state"].(string)
	if state == "" {
		return
	}

	h.mu.Lock()
	m := h.matcher
	h.mu.Unlock()
	if m == nil {
		return
	}

	res := m.Match(entityID, state)
	switch {
	case !res.Matched:
		return
	case res.Debounced:
		slog.Debug("hass: trigger debounced",
			"trigger", res.Trigger.Name, "entity", entityID, "state", state)
		return
	}

	slog.Info("hass: trigger fired",
		"trigger", res.Trigger.Name, "entity", entityID, "state", state)
	h.update(orchestrator.Request{
		UpdateType:  models.UpdateMinor,
		TriggerName: res.Trigger.Name,
		EventData:   ev.Data,
	})
}

// update runs one content update, containing any error or panic so the
// event loop survives bad updates.
func (h *Handler) update(req orchestrator.Request) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("hass: content update panicked", "trigger", req.TriggerName, "panic", r)
		}
	}()

	res, err := h.updater.GenerateAndSend(context.Background(), req)
	if err != nil {
		slog.Error("hass: content update failed", "trigger", req.TriggerName, "error", err)
		return
	}
	if res.Blocked {
		slog.Info("hass: content update blocked",
			"trigger", req.TriggerName, "reason", res.BlockReason)
	}
}
