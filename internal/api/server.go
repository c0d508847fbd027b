// Package api provides the HTTP API for observing and driving the server.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane and host ingress).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/sharedhealth/internal/engine"
	"github.com/talgya/sharedhealth/internal/notify"
	"github.com/talgya/sharedhealth/internal/persistence"
)

// callTimeout bounds how long a handler waits for the main context.
const callTimeout = 5 * time.Second

// Server serves the core's state over HTTP.
type Server struct {
	Sim         *engine.Simulation
	Eng         *engine.Engine
	DB          *persistence.DB // optional
	Hub         *notify.Hub     // optional; nil disables /stream
	Port        int
	AdminKey    string // Bearer token for POST endpoints. Empty = POST disabled.
	RelayKey    string // Bearer token for the stream endpoint. Empty = streaming disabled.
	CORSOrigins []string

	// TrustedProxies are addresses or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string

	// RegenPerHour caps POST /api/v1/regenerate per client. Zero means 12.
	RegenPerHour int
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	perHour := s.RegenPerHour
	if perHour <= 0 {
		perHour = 12
	}
	regenLimiter := NewRateLimiter(perHour, time.Hour)
	trusted, err := ParseTrustedProxies(s.TrustedProxies)
	if err != nil {
		slog.Error("ignoring trusted proxies", "error", err)
		trusted = nil
	}

	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/participants", s.handleParticipants)
	mux.HandleFunc("GET /api/v1/participant/{id}", s.handleParticipant)
	mux.HandleFunc("GET /api/v1/environments", s.handleEnvironments)
	mux.HandleFunc("GET /api/v1/generations", s.handleGenerations)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	// Websocket telemetry (relay key).
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)

	// Admin endpoints.
	mux.HandleFunc("POST /api/v1/regenerate", s.adminOnly(RateLimitMiddleware(regenLimiter, trusted, s.handleRegenerate)))
	mux.HandleFunc("POST /api/v1/participants", s.adminOnly(s.handleJoin))
	mux.HandleFunc("POST /api/v1/participant/{id}/connect", s.adminOnly(s.handleConnect))
	mux.HandleFunc("POST /api/v1/participant/{id}/disconnect", s.adminOnly(s.handleDisconnect))
	mux.HandleFunc("POST /api/v1/participant/{id}/death", s.adminOnly(s.handleDeath))
	mux.HandleFunc("POST /api/v1/participant/{id}/vitality", s.adminOnly(s.handleVitality))

	return s.corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine. The returned server can
// be shut down by the caller.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "relay_auth", s.RelayKey != "")

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return srv
}

// corsMiddleware adds CORS headers for allowed frontend origins. Localhost
// dev servers are always allowed.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	for _, origin := range s.CORSOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowedOrigins[origin] = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerMatches(r *http.Request, key string) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == key
}

// adminOnly wraps a handler to require the admin bearer token.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no admin key set)", http.StatusForbidden)
			return
		}
		if !bearerMatches(r, s.AdminKey) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// onMain runs fn on the main context on behalf of a request. It writes the
// error response itself and reports whether fn ran. After a false return fn
// will not run later.
func (s *Server) onMain(w http.ResponseWriter, r *http.Request, fn func()) bool {
	ctx, cancel := context.WithTimeout(r.Context(), callTimeout)
	defer cancel()

	err := s.Eng.Call(ctx, fn)
	switch {
	case err == nil:
		return true
	case errors.Is(err, engine.ErrStopped):
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
	default:
		http.Error(w, "main loop busy", http.StatusServiceUnavailable)
	}
	slog.Warn("request could not reach main context", "path", r.URL.Path, "error", err)
	return false
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var st engine.Status
	if !s.onMain(w, r, func() { st = s.Sim.Status() }) {
		return
	}
	writeJSON(w, st)
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	type summary struct {
		ID        string  `json:"id"`
		Name      string  `json:"name"`
		Health    float64 `json:"health"`
		Hunger    int     `json:"hunger"`
		World     string  `json:"world"`
		Mode      string  `json:"mode"`
		Connected bool    `json:"connected"`
	}

	var out []summary
	if !s.onMain(w, r, func() {
		for _, p := range s.Sim.Participants() {
			out = append(out, summary{
				ID:        p.ID,
				Name:      p.Name,
				Health:    p.Health,
				Hunger:    p.Hunger,
				World:     p.Location.World,
				Mode:      p.Mode.String(),
				Connected: p.Connected,
			})
		}
	}) {
		return
	}
	if out == nil {
		out = []summary{}
	}
	writeJSON(w, out)
}

func (s *Server) handleParticipant(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var found bool
	var snapshot any
	if !s.onMain(w, r, func() {
		for _, p := range s.Sim.Participants() {
			if p.ID == id {
				found = true
				snapshot = p
				return
			}
		}
	}) {
		return
	}
	if !found {
		http.Error(w, "participant not found", http.StatusNotFound)
		return
	}
	writeJSON(w, snapshot)
}

func (s *Server) handleEnvironments(w http.ResponseWriter, r *http.Request) {
	type envSummary struct {
		Name      string    `json:"name"`
		Seed      int64     `json:"seed"`
		CreatedAt time.Time `json:"created_at"`
		Waiting   bool      `json:"waiting"`
		Active    bool      `json:"active"`
		Loaded    bool      `json:"loaded"`
	}

	var out []envSummary
	var histErr error
	if !s.onMain(w, r, func() {
		mgr := s.Sim.Manager()
		history, err := mgr.Registry.History()
		if err != nil {
			histErr = err
			return
		}
		for _, env := range history {
			_, loaded := mgr.Registry.Get(env.Name)
			out = append(out, envSummary{
				Name:      env.Name,
				Seed:      env.Seed,
				CreatedAt: env.CreatedAt,
				Waiting:   env.Waiting,
				Active:    env.Name == mgr.ActiveName(),
				Loaded:    loaded,
			})
		}
	}) {
		return
	}
	if histErr != nil {
		slog.Error("list environments failed", "error", histErr)
		http.Error(w, "could not list environments", http.StatusInternalServerError)
		return
	}
	if out == nil {
		out = []envSummary{}
	}
	writeJSON(w, out)
}

func (s *Server) handleGenerations(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "no database configured", http.StatusServiceUnavailable)
		return
	}
	recs, err := s.DB.Generations(queryLimit(r, 20, 200))
	if err != nil {
		slog.Error("query generations failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []engine.GenerationRecord{}
	}
	writeJSON(w, recs)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50, 500)

	var events []engine.Event
	if r.URL.Query().Get("source") == "db" && s.DB != nil {
		var err error
		events, err = s.DB.RecentEvents(limit)
		if err != nil {
			slog.Error("query events failed", "error", err)
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
	} else if !s.onMain(w, r, func() { events = s.Sim.RecentEvents(maxRingRead) }) {
		return
	}

	// Optional category filter.
	if category := r.URL.Query().Get("category"); category != "" {
		var filtered []engine.Event
		for _, e := range events {
			if e.Category == category {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	start := max(len(events)-limit, 0)
	out := events[start:]
	if out == nil {
		out = []engine.Event{}
	}
	writeJSON(w, out)
}

// maxRingRead is how much of the event ring a request may copy.
const maxRingRead = 1000

func queryLimit(r *http.Request, def, ceiling int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= ceiling {
			return n
		}
	}
	return def
}

// handleStream upgrades to a websocket carrying notifications. Requires the
// relay key; ?participant= narrows the stream to one participant.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.Hub == nil || s.RelayKey == "" {
		http.Error(w, "streaming disabled (no relay key)", http.StatusForbidden)
		return
	}
	if !bearerMatches(r, s.RelayKey) && r.URL.Query().Get("key") != s.RelayKey {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	s.Hub.ServeWS(w, r)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

func writeJSONStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}
