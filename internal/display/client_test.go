package display

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brodkin/clack-track-sub011/internal/config"
	"github.com/brodkin/clack-track-sub011/internal/frame"
	"github.com/brodkin/clack-track-sub011/models"
)

func testClient(url string, attempts int) *Client {
	c := NewClient(config.DisplayConfig{
		URL:            url,
		RequestTimeout: 2 * time.Second,
		MaxAttempts:    attempts,
	})
	c.backoff = time.Millisecond
	return c
}

func TestSendFrame(t *testing.T) {
	var got framePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/frame" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := frame.Compose("hello")
	err := testClient(srv.URL, 1).SendFrame(context.Background(), f, models.UpdateMajor)
	if err != nil {
		t.Fatalf("SendFrame: %v", err)
	}
	if len(got.Rows) != models.FrameRows || got.UpdateType != "major" {
		t.Fatalf("payload = %+v", got)
	}
}

func TestSendFrameRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := testClient(srv.URL, 3).SendFrame(context.Background(), models.Frame{}, models.UpdateMinor)
	if err != nil {
		t.Fatalf("SendFrame: %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("got %d calls, want 3", n)
	}
}

func TestSendFrameDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad frame", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := testClient(srv.URL, 3).SendFrame(context.Background(), models.Frame{}, models.UpdateMinor)
	if err == nil {
		t.Fatal("expected error for 400")
	}
	if !strings.Contains(err.Error(), "status 400") {
		t.Fatalf("err = %v, want status 400", err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("400 retried: %d calls", n)
	}
}

func TestSendFrameGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := testClient(srv.URL, 2).SendFrame(context.Background(), models.Frame{}, models.UpdateMinor)
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("got %d calls, want 2", n)
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/status" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if !testClient(srv.URL, 1).Ping(context.Background()) {
		t.Fatal("expected reachable device")
	}
	srv.Close()
	if testClient(srv.URL, 1).Ping(context.Background()) {
		t.Fatal("expected unreachable after close")
	}
}
