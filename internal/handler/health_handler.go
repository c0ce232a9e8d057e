package handler

import (
	"context"
	"net/http"
	"time"

	apierrors "github.com/haimerb/iqbts/internal/pkg/errors"
	"github.com/haimerb/iqbts/internal/pkg/response"
)

// Pinger is a dependency that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is a named readiness dependency.
type Check struct {
	Name   string
	Pinger Pinger
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	checks  []Check
	timeout time.Duration
}

// NewHealthHandler creates a health handler that checks each dependency in order.
func NewHealthHandler(checks ...Check) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 5 * time.Second}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{"status": "ok"})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	body := map[string]string{"status": "ok"}
	for _, c := range h.checks {
		if c.Pinger == nil {
			continue
		}
		if err := c.Pinger.Ping(ctx); err != nil {
			response.Error(w, apierrors.ErrServiceUnavailable.WithReason(c.Name))
			return
		}
		body[c.Name] = "connected"
	}
	response.OK(w, body)
}
