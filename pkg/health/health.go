// Package health provides liveness and readiness probe endpoints. Each
// registered check runs on the probe request with its own timeout; the
// ready flag gates readiness during startup and graceful drain.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc reports nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc
}

// Health aggregates checks behind /livez and /readyz endpoints.
type Health struct {
	mu        sync.Mutex
	liveness  []check
	readiness []check
	ready     atomic.Bool
}

// New creates an empty Health service. Readiness starts false until
// SetReady(true).
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check consulted by the liveness endpoint.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	h.liveness = append(h.liveness, check{name: name, timeout: timeout, fn: fn})
	h.mu.Unlock()
}

// AddReadinessCheck registers a check consulted by the readiness endpoint.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	h.readiness = append(h.readiness, check{name: name, timeout: timeout, fn: fn})
	h.mu.Unlock()
}

// SetReady flips the readiness gate; used on startup completion and at the
// start of graceful shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// LiveEndpoint serves the liveness probe.
func (h *Health) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	checks := h.liveness
	h.mu.Unlock()
	writeStatus(w, r, runChecks(r.Context(), checks))
}

// ReadyEndpoint serves the readiness probe. It fails outright while the
// ready gate is down, regardless of the checks.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		writeStatus(w, r, map[string]string{"ready": "not ready"})
		return
	}
	h.mu.Lock()
	checks := h.readiness
	h.mu.Unlock()
	writeStatus(w, r, runChecks(r.Context(), checks))
}

func runChecks(ctx context.Context, checks []check) map[string]string {
	failures := map[string]string{}
	for _, c := range checks {
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.fn(cctx)
		cancel()
		if err != nil {
			failures[c.name] = err.Error()
		}
	}
	return failures
}

func writeStatus(w http.ResponseWriter, _ *http.Request, failures map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	status := http.StatusOK
	body := map[string]any{"status": "ok"}
	if len(failures) > 0 {
		status = http.StatusServiceUnavailable
		body = map[string]any{"status": "unavailable", "failures": failures}
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// GoroutineCountCheck fails when the process has more than threshold
// goroutines, a proxy for leaks.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return &goroutineError{count: n, threshold: threshold}
		}
		return nil
	}
}

type goroutineError struct {
	count, threshold int
}

func (e *goroutineError) Error() string {
	return fmt.Sprintf("too many goroutines: %d > %d", e.count, e.threshold)
}
