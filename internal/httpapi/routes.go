package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/greenhouse-network/sentinel/internal/settings"
	"github.com/greenhouse-network/sentinel/internal/twin"
)

// Handler returns the chi router with every route mounted, following
// internal/api/server.go's middleware stack and route-grouping style.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/api/status", s.handleStatus)
	r.Post("/api/goal", s.handleGoal)
	r.Post("/api/actuator", s.handleActuator)
	r.Get("/api/overrides", s.handleOverrides)
	r.Get("/api/settings", s.handleGetSettings)
	r.Post("/api/settings", s.handlePostSettings)
	r.Get("/api/history", s.handleHistory)
	r.Get("/api/ws", s.handleWebSocket)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

type statusResponse struct {
	Status      string         `json:"status"`
	Agents      int            `json:"agents"`
	Connections int            `json:"connections"`
	UptimeS     float64        `json:"uptime_s"`
	Systems     map[string]bool `json:"systems"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:      "running",
		Agents:      len(s.agents.All()),
		Connections: s.ui.ConnectionCount(),
		UptimeS:     time.Since(s.startedAt).Seconds(),
		Systems: map[string]bool{
			// Vector/graph long-term memory is an explicit Non-goal;
			// the Twin simulation is always live.
			"vector":     false,
			"graph":      false,
			"simulation": true,
		},
	})
}

type goalRequest struct {
	Goal string `json:"goal"`
}

func (s *Server) handleGoal(w http.ResponseWriter, r *http.Request) {
	var req goalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Goal == "" {
		writeError(w, http.StatusBadRequest, "missing or malformed goal")
		return
	}
	state, err := s.runGoal(r.Context(), req.Goal)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type actuatorRequest struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Action string  `json:"action"`
}

type actuatorResponse struct {
	Status         string  `json:"status"`
	Actuator       string  `json:"actuator"`
	Value          float64 `json:"value"`
	OverrideActive bool    `json:"override_active"`
	BCC            string  `json:"bcc"`
}

// handleActuator applies a user-sourced actuator write or override clear,
// action ∈ {set, toggle, clear_override, clear_all}.
func (s *Server) handleActuator(w http.ResponseWriter, r *http.Request) {
	var req actuatorRequest
	body, err := readAll(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if req.Action == "clear_all" {
		s.twin.ClearAllOverrides()
		resp := actuatorResponse{Status: "ok", Actuator: "", Value: 0, OverrideActive: false}
		resp.BCC = settings.BCC(canonicalPayload(resp))
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing actuator name")
		return
	}

	switch req.Action {
	case "clear_override":
		if !s.twin.ClearOverride(req.Name) {
			writeError(w, http.StatusNotFound, "unknown actuator")
			return
		}
	case "toggle":
		cur, ok := s.twin.ActuatorValue(req.Name)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown actuator")
			return
		}
		next := cur == 0
		if !s.twin.SetActuator(req.Name, next, boolToFloat(next), twin.SourceUser) {
			writeError(w, http.StatusConflict, "write rejected")
			return
		}
	case "set", "":
		boolVal := req.Value != 0
		if !s.twin.SetActuator(req.Name, boolVal, req.Value, twin.SourceUser) {
			writeError(w, http.StatusNotFound, "unknown actuator or rejected write")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
		return
	}

	val, _ := s.twin.ActuatorValue(req.Name)
	resp := actuatorResponse{
		Status:         "ok",
		Actuator:       req.Name,
		Value:          val,
		OverrideActive: s.twin.OverrideActive(req.Name),
	}
	resp.BCC = settings.BCC(canonicalPayload(resp))
	writeJSON(w, http.StatusOK, resp)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// canonicalPayload renders the response body (with the bcc field blanked) as
// the canonical string the BCC is computed over.
func canonicalPayload(resp actuatorResponse) string {
	resp.BCC = ""
	body, _ := json.Marshal(resp)
	return string(body)
}

type overridesResponse struct {
	Overrides map[string]bool `json:"overrides"`
	Count     int             `json:"count"`
}

func (s *Server) handleOverrides(w http.ResponseWriter, r *http.Request) {
	overrides := s.twin.Overrides()
	writeJSON(w, http.StatusOK, overridesResponse{Overrides: overrides, Count: len(overrides)})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	blob, err := s.settings.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, blob)
}

func (s *Server) handlePostSettings(w http.ResponseWriter, r *http.Request) {
	var blob settings.Blob
	if err := json.NewDecoder(r.Body).Decode(&blob); err != nil {
		writeError(w, http.StatusBadRequest, "malformed settings body")
		return
	}
	bcc, err := s.settings.Save(blob)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to persist settings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "bcc": bcc})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			limit = n
		}
	}
	recs, err := s.history.RecentWorkflows(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
