package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ameliade/crosspost/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment:    "test",
		Port:           "8080",
		ImageDir:       t.TempDir(),
		GroupCooldown:  0,
		SessionMaxIdle: time.Hour,
	}
}

func TestHandleRoot(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	handleRoot(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if string(body) != "Crosspost API is running" {
		t.Errorf("unexpected body: %q", string(body))
	}
}

func TestServerRequiresSession(t *testing.T) {
	// No database traffic happens before the session check, so a nil pool
	// is fine here.
	server, err := NewServer(testConfig(t), nil)
	if err != nil {
		t.Fatalf("failed to build server: %v", err)
	}

	paths := []string{
		"/api/accounts",
		"/api/drafts",
		"/api/submit",
		"/api/sites",
	}
	for _, path := range paths {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()

		server.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected status 401, got %d", path, w.Code)
		}
	}
}

func TestServerRootIsPublic(t *testing.T) {
	server, err := NewServer(testConfig(t), nil)
	if err != nil {
		t.Fatalf("failed to build server: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}
