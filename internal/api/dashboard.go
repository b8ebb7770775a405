// ABOUTME: Dashboard summary for the caller: apps, tools, enablement, and execution counts

package api

import (
	"net/http"

	"github.com/2389/toolgate/internal/execution"
)

// DashboardStats is returned by GET /dashboard/stats.
type DashboardStats struct {
	TotalApps      int `json:"totalApps"`
	ConfiguredApps int `json:"configuredApps"`
	TotalTools     int `json:"totalTools"`
	EnabledTools   int `json:"enabledTools"`
	Executions     int `json:"executions"`
	Failures       int `json:"failures"`
}

func (a *API) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := caller(r).UserID

	connected, err := a.vault.Connected(ctx, uid)
	if err != nil {
		a.logger.Error("dashboard: listing credentials", "error", err)
		writeError(w, execution.KindInternal, "internal error")
		return
	}
	enabled, err := a.store.ListEnabledToolIDs(ctx, uid)
	if err != nil {
		a.logger.Error("dashboard: listing enablements", "error", err)
		writeError(w, execution.KindInternal, "internal error")
		return
	}
	runs, err := a.store.ExecutionStats(ctx, uid)
	if err != nil {
		a.logger.Error("dashboard: execution stats", "error", err)
		writeError(w, execution.KindInternal, "internal error")
		return
	}

	stats := DashboardStats{Executions: runs.Total, Failures: runs.Failures}
	for _, app := range a.registry.Apps() {
		stats.TotalApps++
		if connected[app.Info.ID] {
			stats.ConfiguredApps++
		}
	}
	// Only count enablements of tools still registered.
	for _, t := range a.registry.List() {
		stats.TotalTools++
		if t.EnabledIn(enabled) {
			stats.EnabledTools++
		}
	}
	writeJSON(w, http.StatusOK, stats)
}
