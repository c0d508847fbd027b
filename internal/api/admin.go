package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/talgya/sharedhealth/internal/engine"
	"github.com/talgya/sharedhealth/internal/vitality"
)

// RegenerateResponse is returned by POST /api/v1/regenerate.
type RegenerateResponse struct {
	Started    bool                   `json:"started"`
	Phase      string                 `json:"phase"`
	Generation engine.GenerationState `json:"generation"`
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "operator request"
	}

	var resp RegenerateResponse
	if !s.onMain(w, r, func() {
		resp.Started = s.Sim.TriggerRegeneration(req.Reason)
		resp.Phase = s.Sim.Manager().Phase().String()
		resp.Generation = s.Sim.Manager().State()
	}) {
		return
	}

	code := http.StatusAccepted
	if !resp.Started {
		code = http.StatusConflict
	}
	slog.Info("regeneration requested", "reason", req.Reason, "started", resp.Started)
	writeJSONStatus(w, code, resp)
}

type joinRequest struct {
	Name string `json:"name"`
}

// handleJoin registers a participant the host has not assigned an id to.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}
	s.connect(w, r, uuid.NewString(), req.Name)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}
	id := r.PathValue("id")
	if req.Name == "" {
		req.Name = id
	}
	s.connect(w, r, id, req.Name)
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request, id, name string) {
	var snapshot any
	if !s.onMain(w, r, func() {
		p := s.Sim.OnConnect(id, name)
		c := *p
		c.Attributes = nil
		c.Inventory = nil
		snapshot = c
	}) {
		return
	}
	writeJSON(w, snapshot)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var err error
	if !s.onMain(w, r, func() { err = s.Sim.OnDisconnect(id) }) {
		return
	}
	writeIngressResult(w, err)
}

func (s *Server) handleDeath(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var err error
	if !s.onMain(w, r, func() { err = s.Sim.OnDeath(id) }) {
		return
	}
	writeIngressResult(w, err)
}

// VitalityRequest is the body of POST /api/v1/participant/{id}/vitality.
type VitalityRequest struct {
	Kind   string  `json:"kind"` // damage, heal, hunger
	Amount float64 `json:"amount"`
	Cause  string  `json:"cause,omitempty"`
}

func (s *Server) handleVitality(w http.ResponseWriter, r *http.Request) {
	var req VitalityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	kind, err := vitality.ParseKind(req.Kind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := r.PathValue("id")
	var out vitality.Outcome
	if !s.onMain(w, r, func() {
		out, err = s.Sim.OnVitalityChanged(id, kind, req.Amount, req.Cause)
	}) {
		return
	}
	if err != nil {
		writeIngressResult(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"applied":  out.Applied,
		"target":   out.Target,
		"affected": out.Affected,
		"skipped":  out.Skipped,
	})
}

func writeIngressResult(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, map[string]bool{"ok": true})
	case errors.Is(err, engine.ErrUnknownParticipant):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engine.ErrInvalidAmount):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusConflict)
	}
}
