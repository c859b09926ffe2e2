package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes one dependency (database, NATS, Redis).
type CheckFunc func(ctx context.Context) error

// HealthChecker serves /healthz (liveness) and /readyz (readiness).
// Readiness requires SetReady(true) and every registered check passing.
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time
	timeout   time.Duration

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		timeout:   2 * time.Second,
		checks:    make(map[string]CheckFunc),
	}
}

// SetReady marks recovery and replay as complete.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// AddCheck registers a named dependency probe for readiness.
func (h *HealthChecker) AddCheck(name string, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = fn
}

// RunChecks probes every dependency and returns the failures by name.
func (h *HealthChecker) RunChecks(ctx context.Context) map[string]string {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	failures := make(map[string]string)
	for _, name := range names {
		h.mu.RLock()
		fn := h.checks[name]
		h.mu.RUnlock()

		cctx, cancel := context.WithTimeout(ctx, h.timeout)
		if err := fn(cctx); err != nil {
			failures[name] = err.Error()
		}
		cancel()
	}
	return failures
}

func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not_ready",
		})
		return
	}
	if failures := h.RunChecks(r.Context()); len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "degraded",
			"checks": failures,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ready",
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
