package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/brodkin/clack-track-sub011/internal/config"
)

const (
	anthropicMessagesEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicModelsEndpoint   = "https://api.anthropic.com/v1/models"
	anthropicVersionHeader    = "2023-06-01"
	anthropicDefaultModel     = "claude-3-5-haiku-latest"
)

// AnthropicProvider implements Provider using the Anthropic Claude REST API.
type AnthropicProvider struct {
	cfg    config.AIConfig
	client *http.Client
}

// NewAnthropic creates an AnthropicProvider from cfg.
func NewAnthropic(cfg config.AIConfig) *AnthropicProvider {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &AnthropicProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *AnthropicProvider) Name() string { return "anthropic" }

func (c *AnthropicProvider) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, anthropicModelsEndpoint, nil)
	if err != nil {
		return false
	}
	req.Header.Set("x-api-key", c.cfg.AnthropicKey)
	req.Header.Set("anthropic-version", anthropicVersionHeader)

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Generate asks the messages endpoint for frame text.
func (c *AnthropicProvider) Generate(ctx context.Context, genReq GenerateRequest) (string, error) {
	model := c.cfg.Model
	if model == "" {
		model = anthropicDefaultModel
	}
	maxTokens := genReq.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 256
	}

	payload := map[string]interface{}{
		"model":      model,
		"max_tokens": maxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": genReq.Prompt},
		},
	}
	if genReq.System != "" {
		payload["system"] = genReq.System
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		anthropicMessagesEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("anthropic: building request: %w", err)
	}
	req.Header.Set("x-api-key", c.cfg.AnthropicKey)
	req.Header.Set("anthropic-version", anthropicVersionHeader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("anthropic: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anthropic: status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("anthropic: parsing response: %w", err)
	}
	for _, block := range parsed.Content {
		if block.Type == "text" {
			return strings.TrimSpace(block.Text), nil
		}
	}
	return "", fmt.Errorf("anthropic: empty completion")
}
