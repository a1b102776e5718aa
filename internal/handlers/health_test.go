package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gluk-w/muxdeck/internal/bridge"
)

func TestHealthCheck(t *testing.T) {
	setupStore(t)
	setupHosts(t, testHost("web1"), testHost("db1"))
	Bridges = bridge.NewRegistry(nil, nil, nil)

	rec := httptest.NewRecorder()
	HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	decodeResponse(t, rec, &body)
	if body["status"] != "healthy" {
		t.Fatalf("unexpected status: %v", body["status"])
	}
	if body["hosts"] != float64(2) {
		t.Fatalf("expected 2 hosts, got %v", body["hosts"])
	}
	if body["hosts_connected"] != float64(0) {
		t.Fatalf("expected 0 connected, got %v", body["hosts_connected"])
	}
	if body["bridges"] != float64(0) {
		t.Fatalf("expected 0 bridges, got %v", body["bridges"])
	}
}
