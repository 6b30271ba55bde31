package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakePinger struct {
	err error
}

func (f fakePinger) Health(ctx context.Context) error {
	return f.err
}

func TestHealthHandler_Health(t *testing.T) {
	tests := []struct {
		name   string
		db     Pinger
		redis  Pinger
		status int
		want   map[string]string
	}{
		{"all healthy", fakePinger{}, fakePinger{}, http.StatusOK, map[string]string{"database": "healthy", "redis": "healthy"}},
		{"memory mode", nil, nil, http.StatusOK, map[string]string{"database": "disabled", "redis": "disabled"}},
		{"redis down", fakePinger{}, fakePinger{err: errors.New("down")}, http.StatusServiceUnavailable, map[string]string{"database": "healthy", "redis": "unhealthy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.db, tt.redis)
			rr := httptest.NewRecorder()
			h.Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rr.Code)
			}
			var resp HealthResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			for k, v := range tt.want {
				if resp.Services[k] != v {
					t.Fatalf("expected %s=%s, got %s", k, v, resp.Services[k])
				}
			}
		})
	}
}

func TestHealthHandler_ReadyAndLive(t *testing.T) {
	h := NewHealthHandler(fakePinger{err: errors.New("down")}, nil)

	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.Live(rr, httptest.NewRequest(http.MethodGet, "/live", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
