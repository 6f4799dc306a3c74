package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusOK        HealthStatus = "ok"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	LatencyMS int64        `json:"latency_ms,omitempty"`
}

// HealthCheckResponse represents the overall health check response.
type HealthCheckResponse struct {
	Status        HealthStatus               `json:"status"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Timestamp     string                     `json:"timestamp"`
	Checks        map[string]ComponentHealth `json:"checks"`
}

// HealthChecker performs health checks on system components.
type HealthChecker struct {
	version   string
	startTime time.Time
	checks    map[string]HealthCheckFunc
	mu        sync.RWMutex
}

// HealthCheckFunc defines a function that checks component health.
type HealthCheckFunc func(ctx context.Context) ComponentHealth

// NewHealthChecker creates a new health checker.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version:   version,
		startTime: time.Now(),
		checks:    make(map[string]HealthCheckFunc),
	}
}

// RegisterCheck registers a health check for a component.
func (hc *HealthChecker) RegisterCheck(name string, checkFunc HealthCheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = checkFunc
}

// Check performs all health checks.
func (hc *HealthChecker) Check(ctx context.Context) HealthCheckResponse {
	response := HealthCheckResponse{
		Status:        HealthStatusOK,
		Version:       hc.version,
		UptimeSeconds: int64(time.Since(hc.startTime).Seconds()),
		Timestamp:     time.Now().Format(time.RFC3339),
		Checks:        make(map[string]ComponentHealth),
	}

	hc.mu.RLock()
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	hc.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		hc.mu.RLock()
		checkFunc := hc.checks[name]
		hc.mu.RUnlock()

		health := checkFunc(ctx)
		response.Checks[name] = health

		switch {
		case health.Status == HealthStatusUnhealthy:
			response.Status = HealthStatusUnhealthy
		case health.Status == HealthStatusDegraded && response.Status != HealthStatusUnhealthy:
			response.Status = HealthStatusDegraded
		}
	}

	return response
}

// Handler returns an HTTP handler for health checks.
func (hc *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		response := hc.Check(ctx)

		w.Header().Set("Content-Type", "application/json")

		// Set HTTP status based on health
		switch response.Status {
		case HealthStatusOK:
			w.WriteHeader(http.StatusOK)
		case HealthStatusDegraded:
			w.WriteHeader(http.StatusOK) // Still 200 but degraded
		case HealthStatusUnhealthy:
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		_ = json.NewEncoder(w).Encode(response)
	}
}

// Common health check functions

// ListenerCheck reports a bound listener.
func ListenerCheck(transport, addr string) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		return ComponentHealth{
			Status:  HealthStatusOK,
			Message: fmt.Sprintf("%s listener on %s", transport, addr),
		}
	}
}

// PingCheck times ping and reports unhealthy when it fails, degraded when it
// is slower than slow.
func PingCheck(name string, slow time.Duration, ping func() error) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		err := ping()
		latency := time.Since(start)

		if err != nil {
			return ComponentHealth{
				Status:    HealthStatusUnhealthy,
				Message:   fmt.Sprintf("%s: %v", name, err),
				LatencyMS: latency.Milliseconds(),
			}
		}
		if latency > slow {
			return ComponentHealth{
				Status:    HealthStatusDegraded,
				Message:   name + " slow",
				LatencyMS: latency.Milliseconds(),
			}
		}
		return ComponentHealth{
			Status:    HealthStatusOK,
			Message:   name + " responsive",
			LatencyMS: latency.Milliseconds(),
		}
	}
}

// DirectoryCheck verifies that path exists, is a directory and accepts new
// files.
func DirectoryCheck(path string) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		info, err := os.Stat(path)
		if err != nil {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: err.Error()}
		}
		if !info.IsDir() {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: path + " is not a directory"}
		}
		f, err := os.CreateTemp(path, ".health-*")
		if err != nil {
			return ComponentHealth{Status: HealthStatusDegraded, Message: "not writable: " + err.Error()}
		}
		name := f.Name()
		f.Close()
		os.Remove(name)
		return ComponentHealth{Status: HealthStatusOK, Message: path + " writable"}
	}
}
