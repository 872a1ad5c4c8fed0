package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger checks connectivity of one dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to the Pinger interface.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

const healthCheckTimeout = 5 * time.Second

// HealthChecker serves liveness and readiness probes over registered
// dependencies.
type HealthChecker struct {
	deps map[string]Pinger
}

// NewHealthChecker creates a health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{deps: map[string]Pinger{}}
}

// Register adds a named dependency to the readiness check.
func (h *HealthChecker) Register(name string, p Pinger) {
	h.deps[name] = p
}

// HealthStatus is the readiness response body.
type HealthStatus struct {
	Status       string            `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// Liveness always reports healthy while the process serves requests.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now().UTC(),
	})
}

// Readiness pings every registered dependency; any failure degrades the
// probe to 503.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now().UTC(),
		Dependencies: make(map[string]string, len(h.deps)),
	}

	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			status.Status = StatusUnhealthy
			status.Dependencies[name] = StatusUnhealthy
			continue
		}
		status.Dependencies[name] = StatusHealthy
	}

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}
