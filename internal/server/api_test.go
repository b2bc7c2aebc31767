package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brodkin/clack-track-sub011/internal/breaker"
	"github.com/brodkin/clack-track-sub011/internal/config"
	"github.com/brodkin/clack-track-sub011/internal/database"
	"github.com/brodkin/clack-track-sub011/internal/history"
	"github.com/brodkin/clack-track-sub011/internal/orchestrator"
	"github.com/brodkin/clack-track-sub011/models"
)

type stubUpdater struct {
	requests []orchestrator.Request
	result   *orchestrator.Result
	err      error
}

func (u *stubUpdater) GenerateAndSend(_ context.Context, req orchestrator.Request) (*orchestrator.Result, error) {
	u.requests = append(u.requests, req)
	if u.err != nil {
		return nil, u.err
	}
	if u.result != nil {
		return u.result, nil
	}
	return &orchestrator.Result{Success: true, GeneratorID: req.GeneratorID}, nil
}

type stubPinger struct{ online bool }

func (p stubPinger) Ping(context.Context) bool { return p.online }

func newTestServer(t *testing.T) (*Server, *stubUpdater, database.DB) {
	t.Helper()
	db, err := database.NewSQLite(config.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	store := breaker.NewStore(db)
	if err := store.Seed(ctx, breaker.DefaultCircuits([]string{"openai"}, 5)); err != nil {
		t.Fatalf("seeding circuits: %v", err)
	}
	engine := breaker.NewEngine(store, config.CircuitsConfig{FailureThreshold: 5}, nil)

	upd := &stubUpdater{}
	srv := New(&config.Config{}, db, upd, engine, history.NewStore(db), stubPinger{online: true})
	return srv, upd, db
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	buildHandler(srv).ServeHTTP(rr, req)
	return rr
}

func TestHandleStatus(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rr := doRequest(t, srv, http.MethodGet, "/api/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var st Status
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !st.MasterOn {
		t.Error("master should default on")
	}
	if st.SleepModeOn {
		t.Error("sleep mode should default off")
	}
	if !st.DisplayOnline {
		t.Error("display pinger reports online")
	}
}

func TestHandleRefresh(t *testing.T) {
	srv, upd, _ := newTestServer(t)
	rr := doRequest(t, srv, http.MethodPost, "/api/refresh", `{"generator_id":"weather"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(upd.requests) != 1 {
		t.Fatalf("updater called %d times, want 1", len(upd.requests))
	}
	req := upd.requests[0]
	if req.GeneratorID != "weather" || req.UpdateType != models.UpdateMajor {
		t.Errorf("request = %+v", req)
	}
	if req.TriggerName != "api_refresh" {
		t.Errorf("trigger = %q", req.TriggerName)
	}
}

func TestHandleRefreshBlocked(t *testing.T) {
	srv, upd, _ := newTestServer(t)
	upd.result = &orchestrator.Result{Blocked: true, BlockReason: orchestrator.BlockMasterOff}
	rr := doRequest(t, srv, http.MethodPost, "/api/refresh", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for blocked update, got %d", rr.Code)
	}
}

func TestHistoryAndVotes(t *testing.T) {
	srv, _, db := newTestServer(t)
	hist := history.NewStore(db)
	ctx := context.Background()
	for i, text := range []string{"first", "second"} {
		h := &models.ContentHistory{
			GeneratorID: "weather", Text: text, FrameJSON: "{}",
			UpdateType: "minor", CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if err := hist.Record(ctx, h); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	rr := doRequest(t, srv, http.MethodGet, "/api/history?limit=1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var rows []models.ContentHistory
	if err := json.NewDecoder(rr.Body).Decode(&rows); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(rows) != 1 || rows[0].Text != "second" {
		t.Fatalf("rows = %+v, want newest first", rows)
	}

	rr = doRequest(t, srv, http.MethodPost, "/api/history/1/vote", `{"delta":1}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("vote: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = doRequest(t, srv, http.MethodPost, "/api/history/1/vote", `{"delta":5}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("vote delta 5: expected 400, got %d", rr.Code)
	}
	rr = doRequest(t, srv, http.MethodPost, "/api/history/999/vote", `{"delta":1}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("vote on missing row: expected 400, got %d", rr.Code)
	}
}

func TestCircuitEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodGet, "/api/circuits", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var statuses []models.CircuitStatus
	if err := json.NewDecoder(rr.Body).Decode(&statuses); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(statuses) != 3 { // MASTER, SLEEP_MODE, PROVIDER_OPENAI
		t.Fatalf("got %d circuits, want 3", len(statuses))
	}

	rr = doRequest(t, srv, http.MethodPut, "/api/circuits/MASTER/state", `{"state":"off"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("set state: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	st, err := srv.engine.Status(context.Background(), models.CircuitMaster)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != models.CircuitOff {
		t.Errorf("master state = %s, want off", st.State)
	}

	rr = doRequest(t, srv, http.MethodPut, "/api/circuits/MASTER/state", `{"state":"half_open"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("half_open on manual circuit: expected 400, got %d", rr.Code)
	}

	rr = doRequest(t, srv, http.MethodPost, "/api/circuits/MASTER/reset", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d", rr.Code)
	}
	st, _ = srv.engine.Status(context.Background(), models.CircuitMaster)
	if st.State != models.CircuitOn {
		t.Errorf("master state after reset = %s, want on (default)", st.State)
	}
}

func TestScheduleCRUD(t *testing.T) {
	srv, upd, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/api/schedules",
		`{"name":"hourly","expr":"0 * * * *","generator_id":"weather","enabled":true}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created map[string]int64
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	id := created["id"]
	if id == 0 {
		t.Fatal("create returned zero id")
	}

	rr = doRequest(t, srv, http.MethodPost, "/api/schedules",
		`{"name":"bad","expr":"not a cron"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid expr: expected 400, got %d", rr.Code)
	}

	rr = doRequest(t, srv, http.MethodGet, "/api/schedules", "")
	var schedules []models.Schedule
	if err := json.NewDecoder(rr.Body).Decode(&schedules); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(schedules) != 1 || schedules[0].Name != "hourly" {
		t.Fatalf("schedules = %+v", schedules)
	}

	rr = doRequest(t, srv, http.MethodPost, "/api/schedules/1/trigger", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("trigger: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(upd.requests) != 1 {
		t.Fatalf("updater called %d times, want 1", len(upd.requests))
	}
	if upd.requests[0].TriggerName != "schedule:hourly" {
		t.Errorf("trigger name = %q", upd.requests[0].TriggerName)
	}

	rr = doRequest(t, srv, http.MethodGet, "/api/schedules", "")
	schedules = nil
	if err := json.NewDecoder(rr.Body).Decode(&schedules); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if schedules[0].LastRunAt == "" {
		t.Error("trigger did not record last_run_at")
	}

	rr = doRequest(t, srv, http.MethodPut, "/api/schedules/1",
		`{"name":"half-hourly","expr":"*/30 * * * *","generator_id":"weather","enabled":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = doRequest(t, srv, http.MethodGet, "/api/schedules", "")
	schedules = nil
	if err := json.NewDecoder(rr.Body).Decode(&schedules); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if schedules[0].Name != "half-hourly" || schedules[0].Expr != "*/30 * * * *" {
		t.Fatalf("schedule after update = %+v", schedules[0])
	}
	if schedules[0].LastRunAt == "" {
		t.Error("update should preserve last_run_at")
	}

	rr = doRequest(t, srv, http.MethodDelete, "/api/schedules/1", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rr.Code)
	}
	rr = doRequest(t, srv, http.MethodGet, "/api/schedules", "")
	schedules = nil
	if err := json.NewDecoder(rr.Body).Decode(&schedules); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(schedules) != 0 {
		t.Fatalf("schedules after delete = %+v", schedules)
	}
}

func TestReloadTriggersNotConfigured(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rr := doRequest(t, srv, http.MethodPost, "/api/triggers/reload", "")
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rr.Code)
	}

	srv.ReloadTriggers = func(context.Context) error { return nil }
	rr = doRequest(t, srv, http.MethodPost, "/api/triggers/reload", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
