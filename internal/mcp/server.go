// ABOUTME: MCP-compatible HTTP endpoint exposing each user's enabled tools to external clients.
// ABOUTME: Implements the Streamable HTTP transport (JSON responses) with per-user session binding.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/2389/toolgate/internal/auth"
	"github.com/2389/toolgate/internal/execution"
	"github.com/2389/toolgate/internal/packs"
)

// Supported MCP protocol versions
var supportedProtocolVersions = map[string]bool{
	"2025-03-26": true,
	"2025-06-18": true,
	"2025-11-25": true,
}

// latestProtocolVersion is the version we advertise in initialize responses
const latestProtocolVersion = "2025-11-25"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// sessionIdleTimeout drops sessions not used for this long.
const sessionIdleTimeout = 24 * time.Hour

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// MCPToolInfo represents an MCP tool definition.
type MCPToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"inputSchema"`
}

// MCPListToolsResult is the result for tools/list.
type MCPListToolsResult struct {
	Tools []MCPToolInfo `json:"tools"`
}

// MCPCallToolParams are the params for tools/call.
type MCPCallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// MCPCallToolResult is the result for tools/call.
type MCPCallToolResult struct {
	Content []MCPContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

// MCPContent represents content in a tool result.
type MCPContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// mcpSession tracks an active MCP client session.
type mcpSession struct {
	id              string
	protocolVersion string
	userID          int64
	lastSeen        time.Time
}

// sessionStore manages active MCP sessions (in-memory).
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*mcpSession
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*mcpSession)}
}

func (s *sessionStore) create(protocolVersion string, userID int64) *mcpSession {
	now := time.Now()
	sess := &mcpSession{
		id:              uuid.New().String(),
		protocolVersion: protocolVersion,
		userID:          userID,
		lastSeen:        now,
	}
	s.mu.Lock()
	for id, old := range s.sessions {
		if now.Sub(old.lastSeen) > sessionIdleTimeout {
			delete(s.sessions, id)
		}
	}
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

// touch returns the session and marks it used.
func (s *sessionStore) touch(id string) (*mcpSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if ok {
		sess.lastSeen = time.Now()
	}
	return sess, ok
}

func (s *sessionStore) delete(id string) bool {
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	return existed
}

func (s *sessionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Authenticator resolves a raw bearer or MCP token to a caller.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*auth.AuthContext, error)
}

// Executor runs tools on behalf of a user.
type Executor interface {
	ExecuteByDescriptor(ctx context.Context, userID int64, appID, toolName string, params json.RawMessage) (*execution.Result, error)
}

// EnabledTools lists the ids of tools a user has enabled.
type EnabledTools interface {
	ListEnabledToolIDs(ctx context.Context, userID int64) (map[int64]bool, error)
}

// Config holds configuration for the MCP server.
type Config struct {
	Registry      *packs.Registry
	Executor      Executor
	Enablements   EnabledTools
	Authenticator Authenticator
	Logger        *slog.Logger
	Version       string
}

// Server implements MCP-compatible HTTP endpoints for external clients.
type Server struct {
	registry    *packs.Registry
	executor    Executor
	enablements EnabledTools
	authn       Authenticator
	logger      *slog.Logger
	version     string
	sessions    *sessionStore
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if cfg.Enablements == nil {
		return nil, errors.New("enablements are required")
	}
	if cfg.Authenticator == nil {
		return nil, errors.New("authenticator is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	return &Server{
		registry:    cfg.Registry,
		executor:    cfg.Executor,
		enablements: cfg.Enablements,
		authn:       cfg.Authenticator,
		logger:      logger,
		version:     version,
		sessions:    newSessionStore(),
	}, nil
}

// RegisterRoutes mounts the MCP endpoint. Both /mcp (token in query or
// Authorization header) and /mcp/{token} are served.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.HandleFunc("/mcp", s.handleMCP)
	r.HandleFunc("/mcp/{token}", s.handleMCP)
}

// SessionCount returns the number of open MCP sessions.
func (s *Server) SessionCount() int {
	return s.sessions.count()
}

// handleMCP is the single MCP endpoint supporting POST, GET, and DELETE.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		// We don't support server-initiated SSE streams
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// requestToken finds the caller's token: path, then query, then Authorization header.
func requestToken(r *http.Request) string {
	if t := chi.URLParam(r, "token"); t != "" {
		return t
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	scheme, t, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(t)
	}
	return ""
}

// authenticate validates the request's token on every call, so revocation
// and deactivation take effect immediately.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*auth.AuthContext, bool) {
	raw := requestToken(r)
	if raw == "" {
		auth.WriteError(w, http.StatusUnauthorized, "authentication_error", "missing token")
		return nil, false
	}
	ac, err := s.authn.Authenticate(r.Context(), raw)
	switch {
	case err == nil:
		return ac, true
	case errors.Is(err, auth.ErrInactiveUser):
		auth.WriteError(w, http.StatusForbidden, "authorization_error", "inactive user")
	case errors.Is(err, auth.ErrRevokedToken):
		auth.WriteError(w, http.StatusUnauthorized, "authentication_error", "token revoked")
	case errors.Is(err, auth.ErrExpiredToken):
		auth.WriteError(w, http.StatusUnauthorized, "authentication_error", "token expired")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrMissingClaim):
		auth.WriteError(w, http.StatusUnauthorized, "authentication_error", "invalid token")
	default:
		s.logger.Error("mcp authentication failed", "token_prefix", Prefix(raw), "error", err)
		auth.WriteError(w, http.StatusInternalServerError, "internal_error", "authentication unavailable")
	}
	return nil, false
}

// handleDelete terminates a session. Only the session's user may do so.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	ac, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}

	sess, ok := s.sessions.touch(sessionID)
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if sess.userID != ac.UserID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	s.sessions.delete(sessionID)
	s.logger.Info("MCP session terminated", "session_id", sessionID, "user_id", ac.UserID)
	w.WriteHeader(http.StatusNoContent)
}

// handlePost processes JSON-RPC messages sent via HTTP POST.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	ac, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	sessionID := r.Header.Get("Mcp-Session-Id")
	protoVersion := r.Header.Get("Mcp-Protocol-Version")

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "failed to read request body", nil)
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendJSONRPCError(w, nil, JSONRPCInvalidRequest, "request body too large", nil)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "invalid JSON", nil)
		return
	}
	if req.JSONRPC != "2.0" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version", nil)
		return
	}

	isInitialize := req.Method == "initialize"
	isNotification := len(req.ID) == 0 || string(req.ID) == "null"

	if !isInitialize && protoVersion != "" && !supportedProtocolVersions[protoVersion] {
		http.Error(w, "Bad Request: unsupported MCP-Protocol-Version", http.StatusBadRequest)
		return
	}

	if !isInitialize {
		if sessionID == "" {
			http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
			return
		}
		sess, ok := s.sessions.touch(sessionID)
		if !ok {
			// Session expired or invalid - client must re-initialize
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		if sess.userID != ac.UserID {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	s.logger.Debug("MCP request",
		"method", req.Method,
		"is_notification", isNotification,
		"session_id", sessionID,
		"user_id", ac.UserID,
	)

	// Notifications get HTTP 202 with no body
	if isNotification {
		if !strings.HasPrefix(req.Method, "notifications/") {
			s.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(w, req, ac)
	case "ping":
		s.sendJSONRPCResult(w, req.ID, map[string]any{})
	case "tools/list":
		s.handleToolsList(w, r, req, ac)
	case "tools/call":
		s.handleToolsCall(w, r, req, ac)
	default:
		s.sendJSONRPCError(w, req.ID, JSONRPCMethodNotFound, "method not found", nil)
	}
}

// handleInitialize handles the MCP initialize handshake and creates a session.
func (s *Server) handleInitialize(w http.ResponseWriter, req JSONRPCRequest, ac *auth.AuthContext) {
	sess := s.sessions.create(latestProtocolVersion, ac.UserID)

	s.logger.Info("MCP session created",
		"session_id", sess.id,
		"user_id", ac.UserID,
		"auth_method", ac.Method,
	)

	w.Header().Set("Mcp-Session-Id", sess.id)
	s.sendJSONRPCResult(w, req.ID, map[string]any{
		"protocolVersion": latestProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{"listChanged": false},
		},
		"serverInfo": map[string]any{
			"name":    "toolgate",
			"version": s.version,
		},
	})
}

// handleToolsList returns the tools the user has enabled right now.
func (s *Server) handleToolsList(w http.ResponseWriter, r *http.Request, req JSONRPCRequest, ac *auth.AuthContext) {
	enabled, err := s.enablements.ListEnabledToolIDs(r.Context(), ac.UserID)
	if err != nil {
		s.logger.Error("listing enabled tools", "user_id", ac.UserID, "error", err)
		s.sendJSONRPCError(w, req.ID, JSONRPCInternalError, "failed to list tools", nil)
		return
	}

	result := MCPListToolsResult{Tools: []MCPToolInfo{}}
	for _, t := range s.registry.List() {
		if !t.EnabledIn(enabled) {
			continue
		}
		result.Tools = append(result.Tools, MCPToolInfo{
			Name:        t.QualifiedName(),
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	s.logger.Debug("tools/list", "user_id", ac.UserID, "count", len(result.Tools))
	s.sendJSONRPCResult(w, req.ID, result)
}

// handleToolsCall runs a tool through the execution path. Taxonomy errors
// are returned as isError results so the client model can read the kind.
func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request, req JSONRPCRequest, ac *auth.AuthContext) {
	var params MCPCallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "invalid params", nil)
			return
		}
	}
	if params.Name == "" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool name is required", nil)
		return
	}

	appID, toolName, ok := strings.Cut(params.Name, ".")
	if !ok || appID == "" || toolName == "" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool name must be <app>.<tool>", nil)
		return
	}

	res, err := s.executor.ExecuteByDescriptor(r.Context(), ac.UserID, appID, toolName, params.Arguments)
	if err != nil {
		s.sendJSONRPCResult(w, req.ID, errorResult(err))
		return
	}

	s.logger.Debug("tools/call complete",
		"tool_name", params.Name,
		"user_id", ac.UserID,
		"log_id", res.LogID,
	)
	s.sendJSONRPCResult(w, req.ID, MCPCallToolResult{
		Content: []MCPContent{{Type: "text", Text: string(res.Output)}},
	})
}

func errorResult(err error) MCPCallToolResult {
	e := execution.Classify(err)
	payload := map[string]any{"kind": e.Kind, "message": e.Message}
	if len(e.Fields) > 0 {
		payload["fields"] = e.Fields
	}
	if e.LogID != 0 {
		payload["log_id"] = e.LogID
	}
	text, _ := json.Marshal(map[string]any{"error": payload})
	return MCPCallToolResult{
		Content: []MCPContent{{Type: "text", Text: string(text)}},
		IsError: true,
	}
}

// sendJSONRPCResult sends a successful JSON-RPC response.
func (s *Server) sendJSONRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}

// sendJSONRPCError sends a JSON-RPC error response.
func (s *Server) sendJSONRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string, data any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC error response", "error", err)
	}
}
