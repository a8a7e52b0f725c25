package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/messaging-bridge/internal/worker"
)

type fakePool struct{ stats worker.Stats }

func (f fakePool) Stats() worker.Stats { return f.stats }

type fakeCounter int

func (f fakeCounter) SubscriberCount(string) int { return int(f) }

func TestHealth_DatabaseDownReturns503(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)

	h := NewHealthHandler(nil, nil, fakeCounter(3), fakePool{worker.Stats{Name: "ingest", Queued: 2, Capacity: 10}})
	if err := h.Health(c); err != nil {
		t.Fatalf("Health returned error: %v", err)
	}

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}

	var body struct {
		Status     string `json:"status"`
		Components struct {
			Database map[string]string `json:"database"`
			Valkey   map[string]string `json:"valkey"`
			Workers  []worker.Stats    `json:"workers"`
			Streams  map[string]int    `json:"streams"`
		} `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if body.Status != "down" || body.Components.Database["status"] != "down" {
		t.Errorf("unexpected status %+v", body)
	}
	if body.Components.Valkey["status"] != "disabled" {
		t.Errorf("expected valkey disabled, got %v", body.Components.Valkey)
	}
	if len(body.Components.Workers) != 1 || body.Components.Workers[0].Queued != 2 {
		t.Errorf("unexpected worker stats %+v", body.Components.Workers)
	}
	if body.Components.Streams["subscriptions"] != 3 {
		t.Errorf("expected 3 subscriptions, got %v", body.Components.Streams)
	}
}
