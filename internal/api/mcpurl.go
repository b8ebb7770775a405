// ABOUTME: MCP URL endpoints: issue-or-return, regenerate, and revoke the caller's MCP token
// ABOUTME: The URL embeds the token so an MCP client needs no separate login

package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/toolgate/internal/execution"
	"github.com/2389/toolgate/internal/mcp"
)

// MCPURLResponse is returned by the MCP URL endpoints.
type MCPURLResponse struct {
	URL         string     `json:"url"`
	TokenID     string     `json:"token_id"`
	ExpiresAt   *time.Time `json:"expires_at"`
	Description string     `json:"description"`
}

// SetPublicURL replaces the base used in MCP URLs, e.g. once a tailnet name is known.
func (a *API) SetPublicURL(u string) {
	a.publicURL.Store(u)
}

// baseURL is the configured public URL, or one derived from the request.
func (a *API) baseURL(r *http.Request) string {
	if u, _ := a.publicURL.Load().(string); u != "" {
		return strings.TrimRight(u, "/")
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (a *API) mcpURLResponse(r *http.Request, issued *mcp.Issued) (MCPURLResponse, error) {
	connected, err := a.vault.Connected(r.Context(), caller(r).UserID)
	if err != nil {
		return MCPURLResponse{}, err
	}
	var apps []string
	for _, app := range a.registry.Apps() {
		if connected[app.Info.ID] {
			apps = append(apps, app.Info.Name)
		}
	}
	desc := "No apps connected yet; built-in tools only."
	if len(apps) > 0 {
		desc = fmt.Sprintf("Access to your enabled tools for: %s.", strings.Join(apps, ", "))
	}

	return MCPURLResponse{
		URL:         a.baseURL(r) + "/mcp?token=" + url.QueryEscape(issued.Token),
		TokenID:     issued.TokenID,
		ExpiresAt:   issued.ExpiresAt,
		Description: desc,
	}, nil
}

func (a *API) writeMCPURL(w http.ResponseWriter, r *http.Request, issued *mcp.Issued) {
	resp, err := a.mcpURLResponse(r, issued)
	if err != nil {
		a.logger.Error("describing mcp url", "error", err)
		writeError(w, execution.KindInternal, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetMCPURL(w http.ResponseWriter, r *http.Request) {
	uid := caller(r).UserID
	issued, err := a.tokens.Current(r.Context(), uid)
	if err != nil {
		a.logger.Error("issuing mcp token", "user_id", uid, "error", err)
		writeError(w, execution.KindInternal, "internal error")
		return
	}
	a.writeMCPURL(w, r, issued)
}

func (a *API) handleRegenerateMCPURL(w http.ResponseWriter, r *http.Request) {
	uid := caller(r).UserID
	issued, err := a.tokens.Regenerate(r.Context(), uid)
	if err != nil {
		a.logger.Error("regenerating mcp token", "user_id", uid, "error", err)
		writeError(w, execution.KindInternal, "internal error")
		return
	}
	a.writeMCPURL(w, r, issued)
}

func (a *API) handleRevokeMCPURL(w http.ResponseWriter, r *http.Request) {
	uid := caller(r).UserID
	n, err := a.tokens.Revoke(r.Context(), uid)
	if err != nil {
		a.logger.Error("revoking mcp token", "user_id", uid, "error", err)
		writeError(w, execution.KindInternal, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}
