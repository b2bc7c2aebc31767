// Package hass connects to Home Assistant's websocket API and feeds its
// events into the content pipeline.
package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brodkin/clack-track-sub011/internal/config"
)

// Event is one Home Assistant event as delivered to a callback.
type Event struct {
	Type string         `json:"event_type"`
	Data map[string]any `json:"data"`
}

// EventSource delivers Home Assistant events to registered callbacks.
// Implemented by the websocket Client; faked in tests.
type EventSource interface {
	// SubscribeToEvents registers cb for events of the given type. The
	// callback runs on the read loop's dispatch goroutine.
	SubscribeToEvents(ctx context.Context, eventType string, cb func(Event)) error

	// Disconnect closes the connection. Safe to call more than once.
	Disconnect() error
}

// wsMessage covers every frame shape the HA websocket API sends us.
type wsMessage struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
}

// Client is a Home Assistant websocket API client. It performs the
// auth_required/auth/auth_ok handshake on connect, then multiplexes
// subscribe_events subscriptions over one connection, reconnecting with
// backoff when the read loop drops.
type Client struct {
	url   string
	token string

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID int
	subs   map[string][]func(Event) // event type → callbacks
	subIDs map[int]string           // subscription id → event type
	closed bool
	done   chan struct{}
}

// NewClient builds a client from configuration. No connection is made
// until the first subscription.
func NewClient(cfg config.HomeAssistantConfig) *Client {
	return &Client{
		url:    cfg.URL,
		token:  cfg.Token,
		subs:   make(map[string][]func(Event)),
		subIDs: make(map[int]string),
		done:   make(chan struct{}),
	}
}

// SubscribeToEvents registers cb for eventType, connecting on first use.
func (c *Client) SubscribeToEvents(ctx context.Context, eventType string, cb func(Event)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("hass: client is disconnected")
	}

	if c.conn == nil {
		if err := c.connectLocked(ctx); err != nil {
			return err
		}
	}

	if len(c.subs[eventType]) == 0 {
		// First subscriber for this type: tell Home Assistant before
		// recording the callback, so a failed write can be retried.
		if err := c.subscribeLocked(eventType); err != nil {
			return err
		}
	}
	c.subs[eventType] = append(c.subs[eventType], cb)
	return nil
}

// Disconnect closes the websocket. Idempotent.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// connectLocked dials, authenticates, and starts the read loop.
// Caller holds c.mu.
func (c *Client) connectLocked(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("hass: dialing %s: status %d: %w", c.url, resp.StatusCode, err)
		}
		return fmt.Errorf("hass: dialing %s: %w", c.url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	if err := authenticate(conn, c.token); err != nil {
		conn.Close()
		return err
	}

	c.conn = conn
	go c.readLoop(conn)
	slog.Info("hass: connected", "url", c.url)
	return nil
}

// authenticate runs the auth_required → auth → auth_ok exchange.
func authenticate(conn *websocket.Conn, token string) error {
	var hello wsMessage
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("hass: reading auth challenge: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("hass: unexpected handshake message %q", hello.Type)
	}
	if err := conn.WriteJSON(map[string]string{"type": "auth", "access_token": token}); err != nil {
		return fmt.Errorf("hass: sending auth: %w", err)
	}
	var result wsMessage
	if err := conn.ReadJSON(&result); err != nil {
		return fmt.Errorf("hass: reading auth result: %w", err)
	}
	if result.Type != "auth_ok" {
		return fmt.Errorf("hass: authentication rejected (%s): check websocket token", result.Type)
	}
	return nil
}

// subscribeLocked sends subscribe_events for eventType. Caller holds c.mu.
func (c *Client) subscribeLocked(eventType string) error {
	c.nextID++
	id := c.nextID
	msg := map[string]any{"id": id, "type": "subscribe_events", "event_type": eventType}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("hass: subscribing to %s: %w", eventType, err)
	}
	c.subIDs[id] = eventType
	slog.Debug("hass: subscribed", "event_type", eventType, "id", id)
	return nil
}

// readLoop consumes frames until the connection drops, dispatching events
// to callbacks. A dead connection triggers reconnect with backoff unless
// the client was disconnected deliberately.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("hass: connection lost", "error", err)
			}
			c.reconnect(conn)
			return
		}

		switch msg.Type {
		case "event":
			c.dispatch(msg)
		case "result":
			if msg.Success != nil && !*msg.Success {
				slog.Warn("hass: command rejected", "id", msg.ID)
			}
		case "pong":
			// keepalive reply, nothing to do
		default:
			slog.Debug("hass: ignoring message", "type", msg.Type)
		}
	}
}

func (c *Client) dispatch(msg wsMessage) {
	var payload struct {
		EventType string         `json:"event_type"`
		Data      map[string]any `json:"data"`
	}
	if err := json.Unmarshal(msg.Event, &payload); err != nil {
		slog.Warn("hass: malformed event payload", "error", err)
		return
	}

	c.mu.Lock()
	callbacks := append([]func(Event){}, c.subs[payload.EventType]...)
	c.mu.Unlock()

	ev := Event{Type: payload.EventType, Data: payload.Data}
	for _, cb := range callbacks {
		safeCall(cb, ev)
	}
}

// safeCall invokes cb so a panicking callback cannot kill the read loop.
func safeCall(cb func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("hass: event callback panicked", "event_type", ev.Type, "panic", r)
		}
	}()
	cb(ev)
}

// reconnect re-dials with exponential backoff and restores subscriptions.
func (c *Client) reconnect(dead *websocket.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != dead {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	types := make([]string, 0, len(c.subs))
	for t := range c.subs {
		types = append(types, t)
	}
	c.subIDs = make(map[int]string)
	c.mu.Unlock()

	backoff := time.Second
	for {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		err := c.connectLocked(context.Background())
		if err == nil {
			for _, t := range types {
				if subErr := c.subscribeLocked(t); subErr != nil {
					err = subErr
					break
				}
			}
		}
		if err == nil {
			c.mu.Unlock()
			slog.Info("hass: reconnected", "subscriptions", len(types))
			return
		}
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()

		slog.Warn("hass: reconnect failed", "backoff", backoff, "error", err)
		if backoff < time.Minute {
			backoff *= 2
		}
	}
}

// Ping checks the HTTP API is reachable with the configured token. Used by
// the doctor command, not the event pipeline.
func Ping(ctx context.Context, cfg config.HomeAssistantConfig) error {
	url := httpURL(cfg.URL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/api/", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+cfg.Token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("hass: reaching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hass: status %d from %s", resp.StatusCode, url)
	}
	return nil
}

// httpURL derives the REST base URL from the websocket endpoint.
func httpURL(wsURL string) string {
	u := wsURL
	switch {
	case strings.HasPrefix(u, "wss://"):
		u = "https://" + strings.TrimPrefix(u, "wss://")
	case strings.HasPrefix(u, "ws://"):
		u = "http://" + strings.TrimPrefix(u, "ws://")
	}
	return strings.TrimSuffix(u, "/api/websocket")
}
