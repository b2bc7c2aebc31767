package ai

import (
	"context"
	"fmt"
)

// NoopProvider is returned when no provider or API key is configured. It is
// never available; the orchestrator falls back to programmatic generators.
type NoopProvider struct{}

func (n *NoopProvider) Name() string { return "none" }

func (n *NoopProvider) IsAvailable(_ context.Context) bool { return false }

func (n *NoopProvider) Generate(_ context.Context, _ GenerateRequest) (string, error) {
	return "", fmt.Errorf("no AI provider configured")
}
