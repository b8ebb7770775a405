// ABOUTME: Tool registry listings, guess-by-description, and per-user enablement
// ABOUTME: Tools are exposed with their numeric id and qualified app.tool name

package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/2389/toolgate/internal/adapters"
	"github.com/2389/toolgate/internal/execution"
	"github.com/2389/toolgate/internal/packs"
	"github.com/2389/toolgate/internal/store"
)

const (
	defaultGuessLimit = 5
	maxGuessLimit     = 50
)

// ToolResponse is the public view of a registered tool.
type ToolResponse struct {
	ID            int64           `json:"id"`
	AppID         string          `json:"app_id"`
	Name          string          `json:"name"`
	QualifiedName string          `json:"qualified_name"`
	Description   string          `json:"description"`
	InputSchema   adapters.Schema `json:"input_schema"`
	RequiresAuth  bool            `json:"requires_auth"`
	AlwaysEnabled bool            `json:"always_enabled,omitempty"`
	Enabled       *bool           `json:"enabled,omitempty"`
}

// GuessResponse is one ranked suggestion.
type GuessResponse struct {
	ToolResponse
	Score float64 `json:"score"`
}

func toolResponse(t *packs.Tool, enabled map[int64]bool) ToolResponse {
	out := ToolResponse{
		ID:            t.ID,
		AppID:         t.AppID,
		Name:          t.Name,
		QualifiedName: t.QualifiedName(),
		Description:   t.Description,
		InputSchema:   t.InputSchema,
		RequiresAuth:  t.RequiresAuth,
		AlwaysEnabled: t.AlwaysEnabled,
	}
	if enabled != nil {
		on := t.EnabledIn(enabled)
		out.Enabled = &on
	}
	return out
}

func toolResponses(tools []*packs.Tool, enabled map[int64]bool) []ToolResponse {
	out := make([]ToolResponse, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolResponse(t, enabled))
	}
	return out
}

func (a *API) handleGuessTools(w http.ResponseWriter, r *http.Request) {
	description := strings.TrimSpace(r.URL.Query().Get("description"))
	if description == "" {
		invalid(w, "description", "field required")
		return
	}
	limit, ok := queryInt(r, "limit", defaultGuessLimit)
	if !ok || limit < 1 || limit > maxGuessLimit {
		invalid(w, "limit", "must be between 1 and 50")
		return
	}

	matches := a.registry.Guess(description, limit)
	out := make([]GuessResponse, 0, len(matches))
	for _, m := range matches {
		out = append(out, GuessResponse{ToolResponse: toolResponse(m.Tool, nil), Score: m.Score})
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggested_tools": out})
}

func (a *API) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toolResponses(a.registry.List(), nil))
}

func (a *API) handleGetTool(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		invalid(w, "id", "must be a positive integer")
		return
	}
	t, err := a.registry.GetByID(id)
	if err != nil {
		writeError(w, execution.KindNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toolResponse(t, nil))
}

func (a *API) handleUserTools(w http.ResponseWriter, r *http.Request) {
	enabled, err := a.store.ListEnabledToolIDs(r.Context(), caller(r).UserID)
	if err != nil {
		a.logger.Error("listing enabled tools", "error", err)
		writeError(w, execution.KindInternal, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toolResponses(a.registry.List(), enabled))
}

func (a *API) handleToolEnablement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		invalid(w, "id", "must be a positive integer")
		return
	}
	t, err := a.registry.GetByID(id)
	if err != nil {
		writeError(w, execution.KindNotFound, err.Error())
		return
	}
	var req EnablementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if req.Enabled == nil {
		invalid(w, "enabled", "field required")
		return
	}

	uid := caller(r).UserID
	if err := a.store.SetToolEnablement(r.Context(), uid, t.ID, *req.Enabled); err != nil {
		a.logger.Error("setting tool enablement", "user_id", uid, "tool_id", t.ID, "error", err)
		writeFailure(w, err)
		return
	}
	a.audit(r.Context(), uid, store.AuditUpdateEnablement, "tool", strconv.FormatInt(t.ID, 10), map[string]any{"enabled": *req.Enabled})

	on := *req.Enabled
	writeJSON(w, http.StatusOK, toolResponse(t, map[int64]bool{t.ID: on}))
}
