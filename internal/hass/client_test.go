package hass

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brodkin/clack-track-sub011/internal/config"
)

// fakeHA is a minimal Home Assistant websocket endpoint: it runs the auth
// handshake, acknowledges subscribe_events, and can push event frames to
// the most recent connection.
type fakeHA struct {
	srv *httptest.Server

	mu     sync.Mutex
	subbed []string
	conn   *websocket.Conn
}

func newFakeHA(t *testing.T) *fakeHA {
	t.Helper()
	f := &fakeHA{}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()

		_ = conn.WriteJSON(map[string]string{"type": "auth_required"})
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg["type"] {
			case "auth":
				_ = conn.WriteJSON(map[string]string{"type": "auth_ok"})
			case "subscribe_events":
				f.mu.Lock()
				f.subbed = append(f.subbed, msg["event_type"].(string))
				f.mu.Unlock()
				_ = conn.WriteJSON(map[string]any{
					"id": msg["id"], "type": "result", "success": true,
				})
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeHA) config() config.HomeAssistantConfig {
	return config.HomeAssistantConfig{
		URL:   "ws" + strings.TrimPrefix(f.srv.URL, "http"),
		Token: "test-token",
	}
}

func (f *fakeHA) push(t *testing.T, eventType string, data map[string]any) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		t.Fatal("no connection to push on")
	}
	err := f.conn.WriteJSON(map[string]any{
		"type": "event", "id": 1,
		"event": map[string]any{"event_type": eventType, "data": data},
	})
	if err != nil {
		t.Fatalf("pushing event: %v", err)
	}
}

func (f *fakeHA) subscriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.subbed...)
}

func TestClientSubscribeAndDispatch(t *testing.T) {
	ha := newFakeHA(t)
	c := NewClient(ha.config())
	defer c.Disconnect()

	got := make(chan Event, 1)
	err := c.SubscribeToEvents(context.Background(), "clacktrack_refresh", func(ev Event) {
		got <- ev
	})
	if err != nil {
		t.Fatalf("SubscribeToEvents: %v", err)
	}
	if subs := ha.subscriptions(); len(subs) != 1 || subs[0] != "clacktrack_refresh" {
		t.Fatalf("server saw subscriptions %v, want [clacktrack_refresh]", subs)
	}

	ha.push(t, "clacktrack_refresh", map[string]any{"source": "test"})
	select {
	case ev := <-got:
		if ev.Type != "clacktrack_refresh" || ev.Data["source"] != "test" {
			t.Errorf("dispatched event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never reached the callback")
	}
}

func TestFailedSubscribeWriteIsRetryable(t *testing.T) {
	ha := newFakeHA(t)
	c := NewClient(ha.config())
	defer c.Disconnect()

	// Hand the client a connection whose underlying socket is already
	// closed, so the subscribe_events write fails without the read loop
	// racing a reconnect.
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		t.Fatalf("dialing fake server: %v", err)
	}
	conn.UnderlyingConn().Close()
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if err := c.SubscribeToEvents(context.Background(), "state_changed", nil); err == nil {
		t.Fatal("expected subscribe error on a dead connection")
	}
	c.mu.Lock()
	pending := len(c.subs["state_changed"])
	c.conn = nil
	c.mu.Unlock()
	if pending != 0 {
		t.Fatalf("failed subscribe left %d callbacks registered; a retry would never re-send subscribe_events", pending)
	}

	// Retry goes through a fresh connection and reaches the server.
	if err := c.SubscribeToEvents(context.Background(), "state_changed", func(Event) {}); err != nil {
		t.Fatalf("retry after failed subscribe: %v", err)
	}
	found := false
	for _, s := range ha.subscriptions() {
		if s == "state_changed" {
			found = true
		}
	}
	if !found {
		t.Error("retry never sent subscribe_events to the server")
	}
}
