// ABOUTME: Process health endpoints: liveness, readiness, and in-process metrics
// ABOUTME: No business logic; readiness delegates to the configured probe

package api

import (
	"context"
	"net/http"
	"time"
)

// Metrics is returned by GET /health/metrics.
type Metrics struct {
	TotalRequests     int64   `json:"total_requests"`
	ActiveConnections int64   `json:"active_connections"`
	ErrorRate         float64 `json:"error_rate"`
	Executions        int64   `json:"executions"`
	ExecutionFailures int64   `json:"execution_failures"`
	InFlightTools     int64   `json:"in_flight_tools"`
	UptimeSeconds     int64   `json:"uptime_seconds"`
}

func (a *API) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (a *API) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := a.ready(ctx); err != nil {
		a.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Snapshot returns the current metrics.
func (a *API) Snapshot() Metrics {
	m := Metrics{
		TotalRequests:     a.requests.Load(),
		ActiveConnections: a.active.Load(),
		UptimeSeconds:     int64(time.Since(a.startedAt).Seconds()),
	}
	if m.TotalRequests > 0 {
		m.ErrorRate = float64(a.failures.Load()) / float64(m.TotalRequests)
	}
	c := a.executor.Counters()
	m.Executions, m.ExecutionFailures = c.Executions, c.Failures
	if a.inFlight != nil {
		m.InFlightTools = a.inFlight()
	}
	return m
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Snapshot())
}
