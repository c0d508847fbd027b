package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/sharedhealth/internal/engine"
	"github.com/talgya/sharedhealth/internal/entropy"
	"github.com/talgya/sharedhealth/internal/environment"
	"github.com/talgya/sharedhealth/internal/notify"
	"github.com/talgya/sharedhealth/internal/participant"
	"github.com/talgya/sharedhealth/internal/persistence"
	"github.com/talgya/sharedhealth/internal/retention"
	"github.com/talgya/sharedhealth/internal/session"
	"github.com/talgya/sharedhealth/internal/vitality"
	"github.com/talgya/sharedhealth/internal/world"
)

const testAdminKey = "admin-secret"

func newTestServer(t *testing.T, mutate func(*Server)) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	reg, err := environment.NewDiskRegistry(filepath.Join(dir, "worlds"), "lobby")
	require.NoError(t, err)
	db, err := persistence.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	eng := engine.NewEngine()
	eng.Interval = time.Millisecond
	roster := participant.NewRoster()
	hub := notify.NewHub()
	tracker := session.NewTracker("lobby", 5, eng, nil)
	mgr := engine.NewManager(eng, engine.Deps{
		Registry:  reg,
		Storage:   environment.Disk{},
		Roster:    roster,
		Sync:      vitality.NewSynchronizer(roster, hub),
		Tracker:   tracker,
		Actuator:  participant.Direct{},
		Notifier:  hub,
		Generator: world.SimplexGenerator{Config: world.SmallTestConfig()},
		Seeds:     (*entropy.Client)(nil),
		Journal:   db,
	}, engine.ManagerConfig{
		Waiting:            "lobby",
		ProgressEveryTicks: 5,
		Retention:          retention.DefaultPolicy(),
	})
	require.NoError(t, mgr.Init())
	sim := engine.NewSimulation(eng, mgr, engine.SimConfig{
		DeathTriggerDelayTicks: 5,
		WaitingCheckTicks:      20,
		WaitingRadius:          7,
		EventFlushTicks:        10,
	})
	sim.Start()

	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx)
	t.Cleanup(cancel)

	s := &Server{Sim: sim, Eng: eng, DB: db, Hub: hub, AdminKey: testAdminKey, RelayKey: "relay"}
	if mutate != nil {
		mutate(s)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, key string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func status(t *testing.T, base string) engine.Status {
	resp := do(t, http.MethodGet, base+"/api/v1/status", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[engine.Status](t, resp)
}

func TestStatus(t *testing.T) {
	srv := newTestServer(t, nil)
	st := status(t, srv.URL)
	assert.Equal(t, "idle", st.Phase)
	assert.Equal(t, "lobby", st.Waiting)
	assert.Empty(t, st.Active)
}

func TestRegenerateRequiresAdmin(t *testing.T) {
	srv := newTestServer(t, nil)
	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodPost, srv.URL+"/api/v1/regenerate", "", nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodPost, srv.URL+"/api/v1/regenerate", "wrong", nil).StatusCode)

	disabled := newTestServer(t, func(s *Server) { s.AdminKey = "" })
	assert.Equal(t, http.StatusForbidden, do(t, http.MethodPost, disabled.URL+"/api/v1/regenerate", testAdminKey, nil).StatusCode)
}

func TestRegenerateAndObserve(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/regenerate", testAdminKey, map[string]string{"reason": "test"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	rr := decode[RegenerateResponse](t, resp)
	assert.True(t, rr.Started)
	assert.Equal(t, "generating", rr.Phase)

	require.Eventually(t, func() bool {
		st := status(t, srv.URL)
		return st.Completed == 1 && st.Phase == "idle"
	}, 10*time.Second, 10*time.Millisecond)

	st := status(t, srv.URL)
	assert.NotEmpty(t, st.Active)

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/environments", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	envs := decode[[]map[string]any](t, resp)
	require.Len(t, envs, 2)
	assert.Equal(t, st.Active, envs[0]["name"])
	assert.Equal(t, true, envs[0]["active"])
	assert.Equal(t, true, envs[1]["waiting"])

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/generations", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	gens := decode[[]engine.GenerationRecord](t, resp)
	require.Len(t, gens, 1)
	assert.True(t, gens[0].OK)
	assert.Equal(t, st.Active, gens[0].Name)
}

func TestRegenerateRateLimited(t *testing.T) {
	srv := newTestServer(t, func(s *Server) { s.RegenPerHour = 1 })

	first := do(t, http.MethodPost, srv.URL+"/api/v1/regenerate", testAdminKey, nil)
	assert.Equal(t, http.StatusAccepted, first.StatusCode)

	second := do(t, http.MethodPost, srv.URL+"/api/v1/regenerate", testAdminKey, nil)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.NotEmpty(t, second.Header.Get("Retry-After"))
}

func TestParticipantIngress(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/participants", testAdminKey, map[string]string{"name": "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	alice := decode[participant.Participant](t, resp)
	assert.Len(t, alice.ID, 36)
	assert.Equal(t, "lobby", alice.Location.World)

	resp = do(t, http.MethodPost, srv.URL+"/api/v1/participant/bob/connect", testAdminKey, map[string]string{"name": "bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/api/v1/participant/bob/vitality", testAdminKey,
		VitalityRequest{Kind: "damage", Amount: 6, Cause: "fall"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[map[string]any](t, resp)
	assert.Equal(t, true, out["applied"])
	assert.InDelta(t, 14.0, out["target"], 1e-9)

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/participant/"+alice.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[participant.Participant](t, resp)
	assert.Equal(t, 14.0, got.Health)

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/participants", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]map[string]any](t, resp), 2)

	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, srv.URL+"/api/v1/participant/bob/vitality", testAdminKey,
		VitalityRequest{Kind: "poison", Amount: 1}).StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, srv.URL+"/api/v1/participant/bob/vitality", testAdminKey,
		VitalityRequest{Kind: "damage", Amount: -3}).StatusCode)
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodPost, srv.URL+"/api/v1/participant/ghost/death", testAdminKey, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, srv.URL+"/api/v1/participant/ghost", "", nil).StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/api/v1/participant/bob/disconnect", testAdminKey, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDeathTriggersRegeneration(t *testing.T) {
	srv := newTestServer(t, nil)
	do(t, http.MethodPost, srv.URL+"/api/v1/participant/carol/connect", testAdminKey, nil)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/participant/carol/death", testAdminKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool { return status(t, srv.URL).Completed == 1 }, 10*time.Second, 10*time.Millisecond)

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/events?category=death", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := decode[[]engine.Event](t, resp)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Description, "carol died")
}

func TestStreamRequiresRelayKey(t *testing.T) {
	srv := newTestServer(t, nil)
	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodGet, srv.URL+"/api/v1/stream", "", nil).StatusCode)

	disabled := newTestServer(t, func(s *Server) { s.RelayKey = "" })
	assert.Equal(t, http.StatusForbidden, do(t, http.MethodGet, disabled.URL+"/api/v1/stream", "relay", nil).StatusCode)
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, func(s *Server) { s.CORSOrigins = []string{"https://ops.example"} })

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/status", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://ops.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://ops.example", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	assert.Equal(t, 61, rl.RetryAfter("a"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("a"))
}

func TestClientIPIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.7:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "198.51.100.7", clientIP(r, nil))

	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.7", clientIP(r, trusted))
}

func TestClientIPBehindTrustedProxy(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.0.2.1"})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", clientIP(r, trusted))

	// A client-supplied first hop is skipped; the nearest untrusted hop wins.
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 203.0.113.9, 192.0.2.1")
	assert.Equal(t, "203.0.113.9", clientIP(r, trusted))

	r.Header.Set("X-Forwarded-For", "garbage")
	assert.Equal(t, "10.0.0.1", clientIP(r, trusted))

	_, err = ParseTrustedProxies([]string{"10.0.0.0/99"})
	assert.Error(t, err)
}

func TestSpoofedForwardedForCannotDodgeRateLimit(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	h := RateLimitMiddleware(rl, nil, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	for i, want := range []int{http.StatusAccepted, http.StatusTooManyRequests} {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/regenerate", nil)
		r.RemoteAddr = "198.51.100.7:5555"
		r.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		w := httptest.NewRecorder()
		h(w, r)
		assert.Equal(t, want, w.Code)
	}
}
