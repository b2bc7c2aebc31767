package notify

import "context"

// Event represents an operational notification from clacktrack.
type Event struct {
	Type     string // "circuit.tripped" | "generation.failed" | "display.unreachable" | "circuit.recovered"
	Title    string
	Body     string
	Metadata map[string]any // extra structured data
}

// Channel is implemented by each notification provider.
type Channel interface {
	Name() string
	IsConfigured() bool
	Send(ctx context.Context, evt Event) error
}
