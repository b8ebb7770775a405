// ABOUTME: Execution endpoints: run by descriptor or id, rate a run, and read execution logs
// ABOUTME: Responses carry the taxonomy status with a success flag and the log id

package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/2389/toolgate/internal/adapters"
	"github.com/2389/toolgate/internal/execution"
	"github.com/2389/toolgate/internal/store"
)

// ExecuteRequest is the body of POST /execute. Tool may be qualified
// ("github.list_repositories") when App is empty; Parameters is accepted
// as an alias of Params.
type ExecuteRequest struct {
	App        string          `json:"app"`
	Tool       string          `json:"tool"`
	Params     json.RawMessage `json:"params"`
	Parameters json.RawMessage `json:"parameters"`
}

func (req *ExecuteRequest) params() json.RawMessage {
	if len(req.Params) > 0 {
		return req.Params
	}
	return req.Parameters
}

// ExecuteResponse is returned by both execute endpoints.
type ExecuteResponse struct {
	Success bool            `json:"success"`
	LogID   *int64          `json:"log_id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorBody      `json:"error,omitempty"`
}

// LogResponse is the public view of an execution log.
type LogResponse struct {
	ID             int64           `json:"id"`
	ToolID         *int64          `json:"tool_id"`
	AppID          string          `json:"app_id"`
	ToolName       string          `json:"tool_name"`
	Request        json.RawMessage `json:"request"`
	Result         json.RawMessage `json:"result,omitempty"`
	Outcome        store.Outcome   `json:"outcome"`
	Error          string          `json:"error,omitempty"`
	UpstreamStatus int             `json:"upstream_status,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	DurationMS     int64           `json:"duration_ms"`
	Rating         *int            `json:"rating"`
	RatedAt        *time.Time      `json:"rated_at,omitempty"`
}

// rawOrString embeds stored JSON text, falling back to a JSON string.
func rawOrString(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}

func logResponse(l *store.ExecutionLog) LogResponse {
	return LogResponse{
		ID:             l.ID,
		ToolID:         l.ToolID,
		AppID:          l.AppID,
		ToolName:       l.ToolName,
		Request:        rawOrString(l.RequestPayload),
		Result:         rawOrString(l.ResultPayload),
		Outcome:        l.Outcome,
		Error:          l.ErrorMessage,
		UpstreamStatus: l.UpstreamStatus,
		StartedAt:      l.StartedAt,
		DurationMS:     l.Duration.Milliseconds(),
		Rating:         l.Rating,
		RatedAt:        l.RatedAt,
	}
}

func writeExecution(w http.ResponseWriter, res *execution.Result, err error) {
	if err != nil {
		e := execution.Classify(err)
		resp := ExecuteResponse{Error: &ErrorBody{Kind: e.Kind, Message: e.Message, Fields: e.Fields}}
		if e.LogID != 0 {
			resp.LogID = &e.LogID
		}
		writeJSON(w, e.Status(), resp)
		return
	}
	writeJSON(w, http.StatusOK, ExecuteResponse{Success: true, LogID: &res.LogID, Result: res.Output})
}

func (a *API) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	app, tool := strings.TrimSpace(req.App), strings.TrimSpace(req.Tool)
	if app == "" {
		app, tool, _ = strings.Cut(tool, ".")
	}

	var fields []adapters.FieldError
	if app == "" {
		fields = append(fields, adapters.FieldError{Field: "app", Message: "field required"})
	}
	if tool == "" {
		fields = append(fields, adapters.FieldError{Field: "tool", Message: "field required"})
	}
	if len(fields) > 0 {
		writeError(w, execution.KindValidation, "invalid request", fields...)
		return
	}

	res, err := a.executor.ExecuteByDescriptor(r.Context(), caller(r).UserID, app, tool, req.params())
	writeExecution(w, res, err)
}

func (a *API) handleExecuteByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		invalid(w, "id", "must be a positive integer")
		return
	}
	var req ExecuteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, err)
		return
	}

	res, err := a.executor.ExecuteByID(r.Context(), caller(r).UserID, id, req.params())
	writeExecution(w, res, err)
}

func (a *API) handleRate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		invalid(w, "id", "must be a positive integer")
		return
	}
	if r.URL.Query().Get("rating") == "" {
		invalid(w, "rating", "field required")
		return
	}
	rating, ok := queryInt(r, "rating", 0)
	if !ok {
		invalid(w, "rating", "must be between 1 and 5")
		return
	}

	if err := a.executor.Rate(r.Context(), caller(r).UserID, id, rating); err != nil {
		if e := execution.Classify(err); e.Kind == execution.KindInternal {
			a.logger.Error("rating execution", "log_id", id, "error", err)
		}
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "log_id": id, "rating": rating})
}

func (a *API) handleListLogs(w http.ResponseWriter, r *http.Request) {
	var f store.ExecutionLogFilter
	limit, ok := queryInt(r, "limit", 0)
	if !ok {
		invalid(w, "limit", "must be a non-negative integer")
		return
	}
	f.Limit = limit
	if r.URL.Query().Get("tool_id") != "" {
		n, ok := queryInt(r, "tool_id", 0)
		if !ok || n == 0 {
			invalid(w, "tool_id", "must be a positive integer")
			return
		}
		toolID := int64(n)
		f.ToolID = &toolID
	}

	logs, err := a.executor.Logs(r.Context(), caller(r).UserID, f)
	if err != nil {
		a.logger.Error("listing execution logs", "error", err)
		writeFailure(w, err)
		return
	}
	out := make([]LogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, logResponse(l))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleGetLog(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		invalid(w, "id", "must be a positive integer")
		return
	}
	l, err := a.executor.Log(r.Context(), caller(r).UserID, id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logResponse(l))
}
