// Package display pushes composed frames to the split-flap device over its
// local HTTP API.
package display

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brodkin/clack-track-sub011/internal/config"
	"github.com/brodkin/clack-track-sub011/models"
)

const defaultBackoff = time.Second

// Client talks to the split-flap display device.
type Client struct {
	baseURL     string
	client      *http.Client
	maxAttempts int
	backoff     time.Duration
}

// NewClient creates a display client from cfg.
func NewClient(cfg config.DisplayConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.URL, "/"),
		client:      &http.Client{Timeout: timeout},
		maxAttempts: maxAttempts,
		backoff:     defaultBackoff,
	}
}

// framePayload is the device wire format: one string per row plus the
// animation hint.
type framePayload struct {
	Rows       []string `json:"rows"`
	UpdateType string   `json:"update_type"`
}

// SendFrame pushes f to the device. Transient failures (timeouts,
// connection errors, 5xx, 429) are retried with exponential backoff up to
// the configured attempt count; a 4xx from the device is a protocol error
// and is reported immediately.
func (c *Client) SendFrame(ctx context.Context, f models.Frame, updateType models.UpdateType) error {
	payload := framePayload{
		Rows:       f.Rows[:],
		UpdateType: string(updateType),
	}
	body, _ := json.Marshal(payload)

	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err = c.push(ctx, body)
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt == c.maxAttempts {
			return err
		}
		wait := c.backoff << (attempt - 1)
		slog.Debug("display: retrying after transient error",
			"attempt", attempt, "wait", wait, "error", err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Ping verifies the device is reachable.
func (c *Client) Ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) push(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/frame", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("display: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("display: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("display: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
}

// retryable classifies a push error. 429 and 5xx are transient; other 4xx
// mean the frame payload itself is wrong and a retry cannot help.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "status 429"):
		return true
	case strings.Contains(errStr, "status 5"):
		return true
	case strings.Contains(errStr, "status 4"):
		return false
	default:
		// Network-level failure.
		return true
	}
}
