package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Health(ctx context.Context) error
}

type HealthHandler struct {
	db    Pinger
	redis Pinger
}

// NewHealthHandler accepts nil pingers for services the server runs without.
func NewHealthHandler(db, redis Pinger) *HealthHandler {
	return &HealthHandler{db: db, redis: redis}
}

type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services,omitempty"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Services: map[string]string{}}
	status := http.StatusOK
	check := func(name string, p Pinger) {
		if p == nil {
			resp.Services[name] = "disabled"
			return
		}
		if err := p.Health(ctx); err != nil {
			resp.Services[name] = "unhealthy"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			return
		}
		resp.Services[name] = "healthy"
	}
	check("database", h.db)
	check("redis", h.redis)

	writeJSON(w, status, resp)
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.db != nil {
		if err := h.db.Health(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "not ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ready"})
}

func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "alive"})
}
