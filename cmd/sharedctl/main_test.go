package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		n := polls.Add(1)
		st := map[string]any{"phase": "idle", "active": "world_2", "waiting": "waiting_area"}
		if n == 1 {
			st["phase"] = "generating"
			st["generation"] = map[string]any{"in_progress": true, "percent": 40, "label": "Generating terrain"}
		}
		json.NewEncoder(w).Encode(st)
	})
	mux.HandleFunc("GET /api/v1/environments", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{{"name": "world_2", "active": true}})
	})
	mux.HandleFunc("GET /api/v1/generations", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{{"name": "world_2", "ok": true}})
	})
	mux.HandleFunc("POST /api/v1/regenerate", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{"started": true, "phase": "generating"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestReadCommands(t *testing.T) {
	srv, _ := fakeServer(t)

	require.NoError(t, run(t, "status", "--server", srv.URL))
	require.NoError(t, run(t, "environments", "--server", srv.URL))
	require.NoError(t, run(t, "generations", "-n", "3", "--server", srv.URL))
}

func TestRegenerateNeedsAdminKey(t *testing.T) {
	t.Setenv("SHAREDCTL_ADMIN_KEY", "")
	require.NoError(t, rootCmd.PersistentFlags().Set("admin-key", ""))

	_, err := actor()
	assert.Error(t, err)
}

func TestRegenerateWatch(t *testing.T) {
	srv, polls := fakeServer(t)

	require.NoError(t, run(t, "regenerate", "--watch", "--timeout", "10s", "--server", srv.URL, "--admin-key", "k"))
	assert.GreaterOrEqual(t, polls.Load(), int32(2))
}
