package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/brodkin/clack-track-sub011/internal/orchestrator"
	"github.com/brodkin/clack-track-sub011/models"
)

// buildHandler wires all REST and SSE routes onto a new ServeMux.
// Uses Go 1.22+ method-prefixed patterns ("GET /path", "POST /path").
func buildHandler(s *Server) http.Handler {
	mux := http.NewServeMux()

	// Health / status
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)

	// Content
	mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/history", s.handleListHistory)
	mux.HandleFunc("POST /api/history/{id}/vote", s.handleVote)

	// Circuits
	mux.HandleFunc("GET /api/circuits", s.handleListCircuits)
	mux.HandleFunc("PUT /api/circuits/{id}/state", s.handleSetCircuitState)
	mux.HandleFunc("POST /api/circuits/{id}/reset", s.handleResetCircuit)

	// Schedule management
	mux.HandleFunc("GET /api/schedules", s.handleListSchedules)
	mux.HandleFunc("POST /api/schedules", s.handleCreateSchedule)
	mux.HandleFunc("PUT /api/schedules/{id}", s.handleUpdateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.handleDeleteSchedule)
	mux.HandleFunc("POST /api/schedules/{id}/trigger", s.handleTriggerSchedule)

	// Trigger rules
	mux.HandleFunc("POST /api/triggers/reload", s.handleReloadTriggers)

	// Server-Sent Events stream
	mux.HandleFunc("GET /events", s.handleEvents)

	return mux
}

// --- HTTP response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// pathID extracts a numeric path parameter by name from the request.
func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	if raw == "" {
		return 0, fmt.Errorf("missing path parameter %q", name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.currentStatus(r.Context()))
}

// refreshRequest is the body for POST /api/refresh. All fields optional.
type refreshRequest struct {
	GeneratorID string `json:"generator_id"`
	UpdateType  string `json:"update_type"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	updateType := models.UpdateMajor
	if req.UpdateType != "" {
		updateType = models.UpdateType(req.UpdateType)
	}

	res, err := s.updater.GenerateAndSend(r.Context(), orchestrator.Request{
		GeneratorID: req.GeneratorID,
		UpdateType:  updateType,
		TriggerName: "api_refresh",
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if res.Blocked {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be 1-500")
			return
		}
		limit = n
	}
	rows, err := s.hist.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if rows == nil {
		rows = []models.ContentHistory{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// voteRequest is the body for POST /api/history/{id}/vote.
type voteRequest struct {
	Delta int `json:"delta"`
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.hist.Vote(r.Context(), id, req.Delta); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "delta": req.Delta})
}

func (s *Server) handleListCircuits(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.engine.StatusAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if statuses == nil {
		statuses = []models.CircuitStatus{}
	}
	writeJSON(w, http.StatusOK, statuses)
}

// circuitStateRequest is the body for PUT /api/circuits/{id}/state.
type circuitStateRequest struct {
	State string `json:"state"`
}

func (s *Server) handleSetCircuitState(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req circuitStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	state := models.CircuitState(req.State)
	if state != models.CircuitOn && state != models.CircuitOff {
		writeError(w, http.StatusBadRequest, "state must be \"on\" or \"off\"")
		return
	}
	if err := s.engine.SetManualState(r.Context(), id, state); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.broadcaster.send(SSEEvent{Type: "circuit.changed", Payload: map[string]any{
		"circuit": id, "state": string(state),
	}})
	writeJSON(w, http.StatusOK, map[string]string{"circuit": id, "state": string(state)})
}

func (s *Server) handleResetCircuit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.engine.Reset(r.Context(), id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.broadcaster.send(SSEEvent{Type: "circuit.reset", Payload: map[string]any{"circuit": id}})
	writeJSON(w, http.StatusOK, map[string]string{"circuit": id})
}

// scheduleRequest is the body for POST/PUT /api/schedules.
type scheduleRequest struct {
	Name        string `json:"name"`
	Expr        string `json:"expr"`
	GeneratorID string `json:"generator_id"`
	UpdateType  string `json:"update_type"`
	Enabled     bool   `json:"enabled"`
}

func (req scheduleRequest) toModel() models.Schedule {
	return models.Schedule{
		Name:        req.Name,
		Expr:        req.Expr,
		GeneratorID: req.GeneratorID,
		UpdateType:  req.UpdateType,
		Enabled:     req.Enabled,
	}
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.scheduler.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if schedules == nil {
		schedules = []models.Schedule{}
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Expr == "" {
		writeError(w, http.StatusBadRequest, "name and expr are required")
		return
	}
	id, err := s.scheduler.Add(r.Context(), req.toModel())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Expr == "" {
		writeError(w, http.StatusBadRequest, "name and expr are required")
		return
	}
	if err := s.scheduler.Update(r.Context(), id, req.toModel()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.scheduler.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTriggerSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.scheduler.TriggerNow(r.Context(), id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}

func (s *Server) handleReloadTriggers(w http.ResponseWriter, r *http.Request) {
	if s.ReloadTriggers == nil {
		writeError(w, http.StatusNotImplemented, "trigger reload not configured")
		return
	}
	if err := s.ReloadTriggers(r.Context()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.broadcaster.send(SSEEvent{Type: "triggers.reloaded"})
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering if behind a proxy

	ch := s.broadcaster.subscribe()
	defer s.broadcaster.unsubscribe(ch)

	// Send initial connected event with current status.
	connected, _ := json.Marshal(SSEEvent{Type: "connected", Payload: s.currentStatus(r.Context())})
	fmt.Fprintf(w, "data: %s\n\n", connected)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			w.Write(frame)
			flusher.Flush()
		}
	}
}
