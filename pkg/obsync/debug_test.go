package obsync

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDebugHandlerStats(t *testing.T) {
	client := newTestClient(t, nil)
	client.Set("user:1", "v", time.Hour)
	client.Get("user:1")
	client.Get("missing")

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	client.DebugHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var response DebugResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.Stats == nil {
		t.Fatal("Expected stats in response")
	}
	if response.Stats.Hits != 1 || response.Stats.Misses != 1 {
		t.Fatalf("Expected 1 hit / 1 miss, got %d / %d", response.Stats.Hits, response.Stats.Misses)
	}
	if !response.Stats.Online {
		t.Fatal("Expected client reported online")
	}
	if len(response.Keys) != 0 {
		t.Fatalf("/stats must not include keys, got %d", len(response.Keys))
	}
}

func TestDebugHandlerKeys(t *testing.T) {
	client := newTestClient(t, nil)
	client.Set("user:1", "v", time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/keys", nil)
	rec := httptest.NewRecorder()
	client.DebugHandler().ServeHTTP(rec, req)

	var response DebugResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response.Keys) != 1 {
		t.Fatalf("Expected 1 key, got %d", len(response.Keys))
	}
	if response.Keys[0].Key != "user:1" {
		t.Fatalf("Expected user:1, got %q", response.Keys[0].Key)
	}
	if response.Keys[0].State != "Fresh" {
		t.Fatalf("Expected Fresh state, got %q", response.Keys[0].State)
	}
}

func TestDebugHandlerRejectsNonGet(t *testing.T) {
	client := newTestClient(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/stats", nil)
	rec := httptest.NewRecorder()
	client.DebugHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("Expected 405, got %d", rec.Code)
	}
}
