// ABOUTME: App catalog, credential connect/disconnect, and per-app tool lookups
// ABOUTME: Connect parses the app-specific body through the adapter and stores it in the vault

package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/2389/toolgate/internal/adapters"
	"github.com/2389/toolgate/internal/execution"
	"github.com/2389/toolgate/internal/packs"
	"github.com/2389/toolgate/internal/store"
	"github.com/2389/toolgate/internal/vault"
)

// AppResponse is one entry of the app catalog.
type AppResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	CredentialKind string `json:"credential_kind,omitempty"`
	ToolCount      int    `json:"tool_count"`
	Connected      bool   `json:"connected"`
}

// ConnectResponse is returned by POST /apps/{app}/connect.
type ConnectResponse struct {
	AppID        string            `json:"app_id"`
	Kind         string            `json:"kind"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CredentialID int64             `json:"credential_id"`
	Verified     bool              `json:"verified"`
}

// EnablementRequest is the body of the enablement endpoints.
type EnablementRequest struct {
	Enabled *bool `json:"enabled"`
}

func (a *API) lookupApp(w http.ResponseWriter, appID string) (*packs.App, bool) {
	app, err := a.registry.App(appID)
	if err != nil {
		writeError(w, execution.KindNotFound, "unknown app: "+appID)
		return nil, false
	}
	return app, true
}

func (a *API) handleListApps(w http.ResponseWriter, r *http.Request) {
	connected, err := a.vault.Connected(r.Context(), caller(r).UserID)
	if err != nil {
		a.logger.Error("listing connected apps", "error", err)
		writeError(w, execution.KindInternal, "internal error")
		return
	}

	apps := a.registry.Apps()
	out := make([]AppResponse, 0, len(apps))
	for _, app := range apps {
		out = append(out, AppResponse{
			ID:             app.Info.ID,
			Name:           app.Info.Name,
			Description:    app.Info.Description,
			CredentialKind: app.Info.CredentialKind,
			ToolCount:      len(app.Tools),
			Connected:      connected[app.Info.ID],
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleUserApps(w http.ResponseWriter, r *http.Request) {
	infos, err := a.vault.List(r.Context(), caller(r).UserID)
	if err != nil {
		a.logger.Error("listing credentials", "error", err)
		writeError(w, execution.KindInternal, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (a *API) handleConnect(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "app")
	app, ok := a.lookupApp(w, appID)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil || len(body) > maxBodySize {
		invalid(w, "body", "could not read request body")
		return
	}

	cred, err := app.Adapter.ParseCredential(body)
	if err != nil {
		var verr *adapters.ValidationError
		if errors.As(err, &verr) {
			writeError(w, execution.KindValidation, "invalid credential", verr.Fields...)
			return
		}
		a.logger.Error("parsing credential", "app_id", appID, "error", err)
		writeError(w, execution.KindInternal, "internal error")
		return
	}
	cred.AppID = appID

	verify := r.URL.Query().Get("verify") == "true"
	if verify {
		if msg, ok := a.verifyCredential(r.Context(), app, &cred); !ok {
			writeError(w, execution.KindValidation, "credential rejected", adapters.FieldError{Field: "credential", Message: msg})
			return
		}
	}

	uid := caller(r).UserID
	id, err := a.vault.Store(r.Context(), uid, cred)
	if err != nil {
		a.logger.Error("storing credential", "user_id", uid, "app_id", appID, "error", err)
		writeError(w, execution.KindInternal, "internal error")
		return
	}
	a.audit(r.Context(), uid, store.AuditConnectApp, "credential", appID, map[string]any{"kind": cred.Kind, "verified": verify})

	writeJSON(w, http.StatusCreated, ConnectResponse{
		AppID:        appID,
		Kind:         cred.Kind,
		Metadata:     cred.Metadata,
		CredentialID: id,
		Verified:     verify,
	})
}

// verifyCredential runs the adapter's upstream check. It returns a message safe to show the user.
func (a *API) verifyCredential(ctx context.Context, app *packs.App, cred *vault.Credential) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, a.verifyTimeout)
	defer cancel()

	err := app.Adapter.Verify(ctx, cred)
	if err == nil {
		return "", true
	}
	a.logger.Warn("credential verification failed", "app_id", app.Info.ID, "error", err)

	var aerr *adapters.AdapterError
	switch {
	case errors.As(err, &aerr):
		return aerr.Message, false
	case errors.Is(err, context.DeadlineExceeded):
		return "verification timed out", false
	default:
		return "verification failed", false
	}
}

func (a *API) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "app")
	uid := caller(r).UserID

	err := a.vault.Revoke(r.Context(), uid, appID)
	if errors.Is(err, vault.ErrNotConnected) {
		writeError(w, execution.KindNotConnected, "app not connected: "+appID)
		return
	}
	if err != nil {
		a.logger.Error("revoking credential", "user_id", uid, "app_id", appID, "error", err)
		writeError(w, execution.KindInternal, "internal error")
		return
	}
	a.audit(r.Context(), uid, store.AuditDisconnectApp, "credential", appID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAppEnablement(w http.ResponseWriter, r *http.Request) {
	app, ok := a.lookupApp(w, chi.URLParam(r, "app"))
	if !ok {
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

	ids := make([]int64, len(app.Tools))
	for i, t := range app.Tools {
		ids[i] = t.ID
	}
	uid := caller(r).UserID
	if err := a.store.SetToolEnablements(r.Context(), uid, ids, *req.Enabled); err != nil {
		a.logger.Error("setting app enablement", "user_id", uid, "app_id", app.Info.ID, "error", err)
		writeError(w, execution.KindInternal, "internal error")
		return
	}
	a.audit(r.Context(), uid, store.AuditUpdateEnablement, "app", app.Info.ID, map[string]any{"enabled": *req.Enabled})

	writeJSON(w, http.StatusOK, map[string]any{
		"app_id":   app.Info.ID,
		"enabled":  *req.Enabled,
		"tool_ids": ids,
	})
}

func (a *API) handleListAppTools(w http.ResponseWriter, r *http.Request) {
	app, ok := a.lookupApp(w, chi.URLParam(r, "app"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toolResponses(app.Tools, nil))
}

func (a *API) handleGetAppTool(w http.ResponseWriter, r *http.Request) {
	appID, name := chi.URLParam(r, "app"), chi.URLParam(r, "tool")
	t, err := a.registry.GetByAppAndName(appID, name)
	if err != nil {
		writeError(w, execution.KindNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toolResponse(t, nil))
}
