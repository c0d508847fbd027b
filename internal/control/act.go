package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrBusy is returned when the server is already regenerating.
var ErrBusy = errors.New("regeneration already in progress")

// RegenerateResult is the response from POST /api/v1/regenerate.
type RegenerateResult struct {
	Started bool   `json:"started"`
	Phase   string `json:"phase"`
}

// Actor drives the server via the admin API.
type Actor struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
}

// NewActor creates an Actor targeting the given API base URL with admin auth.
func NewActor(baseURL, adminKey string) *Actor {
	return &Actor{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		AdminKey: adminKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Regenerate asks the server to build a new world.
func (a *Actor) Regenerate(reason string) (*RegenerateResult, error) {
	body, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, a.BaseURL+"/api/v1/regenerate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.AdminKey)

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST regenerate: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusAccepted:
	case http.StatusConflict:
		return nil, ErrBusy
	default:
		return nil, fmt.Errorf("regenerate failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result RegenerateResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// Watch polls status every interval, calling fn with each snapshot, until
// the server is idle again or timeout elapses.
func Watch(o *Observer, interval, timeout time.Duration, fn func(*Status)) (*Status, error) {
	deadline := time.Now().Add(timeout)
	for {
		st, err := o.Status()
		if err != nil {
			return nil, err
		}
		fn(st)
		if st.Idle() {
			return st, nil
		}
		if time.Now().After(deadline) {
			return st, fmt.Errorf("still %s after %s", st.Phase, timeout)
		}
		time.Sleep(interval)
	}
}
