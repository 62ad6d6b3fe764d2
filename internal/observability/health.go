package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const probeTimeout = 3 * time.Second

// HealthChecker answers liveness and readiness queries. Liveness is
// unconditional; readiness probes every registered dependency (execution
// host, history store) and degrades if any of them fail.
type HealthChecker struct {
	mu     sync.Mutex
	probes map[string]func(ctx context.Context) error
	order  []string
	logger *slog.Logger
}

// HealthStatus is the JSON response for health/readiness endpoints.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the status of a single dependency check.
type CheckResult struct {
	Status  string `json:"status"`            // "ok" or "fail"
	Message string `json:"message,omitempty"` // Error message on failure.
}

// NewHealthChecker creates a HealthChecker with no probes registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{
		probes: make(map[string]func(ctx context.Context) error),
		logger: logger,
	}
}

// AddCheck registers a named readiness probe. Registering the same name
// twice replaces the earlier probe.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.probes[name]; !exists {
		h.order = append(h.order, name)
	}
	h.probes[name] = check
}

// CheckHealth reports liveness: "ok" whenever the process can answer.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: "ok"}
}

// CheckReady runs every registered probe concurrently and aggregates the
// results. The status is "ok" only when all probes pass.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	h.mu.Lock()
	names := make([]string, len(h.order))
	copy(names, h.order)
	probes := make(map[string]func(ctx context.Context) error, len(h.probes))
	for name, probe := range h.probes {
		probes[name] = probe
	}
	h.mu.Unlock()

	if len(names) == 0 {
		return HealthStatus{Status: "ok"}
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	status := HealthStatus{
		Status: "ok",
		Checks: make(map[string]CheckResult, len(names)),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, name := range names {
		wg.Add(1)
		go func(name string, probe func(ctx context.Context) error) {
			defer wg.Done()
			err := probe(probeCtx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				status.Status = "degraded"
				status.Checks[name] = CheckResult{Status: "fail", Message: err.Error()}
				if h.logger != nil {
					h.logger.Warn("readiness probe failed",
						slog.String("probe", name),
						slog.String("error", err.Error()),
					)
				}
				return
			}
			status.Checks[name] = CheckResult{Status: "ok"}
		}(name, probes[name])
	}
	wg.Wait()

	return status
}
