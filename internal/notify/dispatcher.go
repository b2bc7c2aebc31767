// Package notify fans out operational events (tripped circuits, failing
// generation, unreachable display) to configured channels.
package notify

import (
	"context"
	"log/slog"

	"github.com/brodkin/clack-track-sub011/internal/config"
)

// Dispatcher fans out events to all configured channels.
type Dispatcher struct {
	channels []Channel
	events   map[string]bool // event types to send (empty map = use defaults)
}

// defaultEvents is the set of event types that trigger notifications when cfg.Events is empty.
var defaultEvents = map[string]bool{
	"circuit.tripped":     true,
	"generation.failed":   true,
	"display.unreachable": true,
}

// NewDispatcher creates a Dispatcher from the given config.
// Only channels with IsConfigured() == true are active.
func NewDispatcher(cfg config.NotifyConfig) *Dispatcher {
	d := &Dispatcher{}
	if len(cfg.Events) > 0 {
		d.events = make(map[string]bool, len(cfg.Events))
		for _, e := range cfg.Events {
			d.events[e] = true
		}
	} else {
		d.events = defaultEvents
	}

	channels := []Channel{
		NewSlack(cfg.Slack),
		NewTelegram(cfg.Telegram),
		NewWebhook(cfg.Webhook),
	}
	for _, ch := range channels {
		if ch.IsConfigured() {
			d.channels = append(d.channels, ch)
		}
	}
	return d
}

// IsAnyConfigured returns true if at least one channel is ready to send.
func (d *Dispatcher) IsAnyConfigured() bool {
	return len(d.channels) > 0
}

// Notify sends evt to all configured channels. Errors are logged but never returned.
func (d *Dispatcher) Notify(ctx context.Context, evt Event) {
	if !d.events[evt.Type] {
		return
	}
	for _, ch := range d.channels {
		if err := ch.Send(ctx, evt); err != nil {
			slog.Warn("notify: channel send failed", "channel", ch.Name(), "event", evt.Type, "error", err)
		}
	}
}
