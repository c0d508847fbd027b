// Package control is the HTTP client behind sharedctl. It observes the
// server through the public API and acts through the admin endpoints.
package control

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Status mirrors GET /api/v1/status.
type Status struct {
	Tick       uint64 `json:"tick"`
	Uptime     string `json:"uptime"`
	Phase      string `json:"phase"`
	Generation struct {
		InProgress bool   `json:"in_progress"`
		Percent    int    `json:"percent"`
		Label      string `json:"label"`
	} `json:"generation"`
	Active       string   `json:"active"`
	Waiting      string   `json:"waiting"`
	Participants int      `json:"participants"`
	Connected    int      `json:"connected"`
	Disconnected []string `json:"disconnected"`
	Completed    int      `json:"completed"`
}

// Idle reports whether no regeneration is running.
func (s Status) Idle() bool {
	return s.Phase == "idle"
}

// Environment mirrors items from GET /api/v1/environments.
type Environment struct {
	Name      string    `json:"name"`
	Seed      int64     `json:"seed"`
	CreatedAt time.Time `json:"created_at"`
	Waiting   bool      `json:"waiting"`
	Active    bool      `json:"active"`
	Loaded    bool      `json:"loaded"`
}

// Generation mirrors items from GET /api/v1/generations.
type Generation struct {
	Name       string    `json:"name"`
	Seed       int64     `json:"seed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error"`
	Migrated   int       `json:"migrated"`
	ChunkBytes int64     `json:"chunk_bytes"`
	Deleted    int       `json:"deleted"`
}

// Duration is how long the regeneration took.
func (g Generation) Duration() time.Duration {
	return g.FinishedAt.Sub(g.StartedAt)
}

// Observer fetches server state from the API.
type Observer struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewObserver creates an Observer targeting the given API base URL.
func NewObserver(baseURL string) *Observer {
	return &Observer{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Status fetches the current status.
func (o *Observer) Status() (*Status, error) {
	var st Status
	if err := o.fetchJSON("/api/v1/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Environments lists environments on disk, newest first.
func (o *Observer) Environments() ([]Environment, error) {
	var out []Environment
	if err := o.fetchJSON("/api/v1/environments", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Generations lists the most recent regenerations, newest first.
func (o *Observer) Generations(limit int) ([]Generation, error) {
	var out []Generation
	if err := o.fetchJSON(fmt.Sprintf("/api/v1/generations?limit=%d", limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// fetchJSON GETs a path and decodes the JSON response into target.
func (o *Observer) fetchJSON(path string, target any) error {
	resp, err := o.HTTPClient.Get(o.BaseURL + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
