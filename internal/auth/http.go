// ABOUTME: HTTP middleware authenticating API requests with a session JWT or an MCP token
// ABOUTME: Loads the user, rejects inactive accounts, and adds AuthContext to the request

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/toolgate/internal/store"
)

// UserLookup loads accounts by id.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*store.User, error)
}

// MCPTokenValidator resolves a raw MCP token to its owner.
// Implementations return ErrInvalidToken, ErrRevokedToken or ErrExpiredToken.
type MCPTokenValidator interface {
	ValidateToken(ctx context.Context, raw string) (userID int64, tokenID string, err error)
}

// Authenticator turns bearer tokens into an AuthContext.
type Authenticator struct {
	users    UserLookup
	sessions TokenVerifier
	mcp      MCPTokenValidator
	logger   *slog.Logger
}

// NewAuthenticator creates an Authenticator. mcp may be nil to accept session tokens only.
func NewAuthenticator(users UserLookup, sessions TokenVerifier, mcp MCPTokenValidator, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		users:    users,
		sessions: sessions,
		mcp:      mcp,
		logger:   logger,
	}
}

// looksLikeJWT reports whether raw has the three dot-separated JWS segments.
func looksLikeJWT(raw string) bool {
	return strings.Count(raw, ".") == 2
}

// Authenticate validates raw and returns the caller's identity.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (*AuthContext, error) {
	var (
		userID  int64
		tokenID string
		method  Method
		err     error
	)

	switch {
	case looksLikeJWT(raw):
		method = MethodSession
		userID, err = a.sessions.Verify(raw)
	case a.mcp != nil:
		method = MethodMCP
		userID, tokenID, err = a.mcp.ValidateToken(ctx, raw)
	default:
		err = ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	user, err := a.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown user", ErrInvalidToken)
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}

	return &AuthContext{
		UserID:  user.ID,
		Email:   user.Email,
		IsAdmin: user.IsAdmin,
		Method:  method,
		TokenID: tokenID,
	}, nil
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "invalid authorization header format"
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Middleware requires a valid bearer token on every request.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				WriteError(w, http.StatusUnauthorized, "authentication_error", errMsg)
				return
			}

			authCtx, err := a.Authenticate(r.Context(), token)
			if err != nil {
				a.writeAuthFailure(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// writeAuthFailure maps an Authenticate error onto a response.
func (a *Authenticator) writeAuthFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInactiveUser):
		WriteError(w, http.StatusForbidden, "authorization_error", "inactive user")
	case errors.Is(err, ErrExpiredToken):
		WriteError(w, http.StatusUnauthorized, "authentication_error", "token expired")
	case errors.Is(err, ErrRevokedToken):
		WriteError(w, http.StatusUnauthorized, "authentication_error", "token revoked")
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrMissingClaim):
		WriteError(w, http.StatusUnauthorized, "authentication_error", "could not validate credentials")
	default:
		a.logger.Error("authentication failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "internal_error", "authentication unavailable")
	}
}

// RequireAdminHTTP creates an HTTP middleware that requires the admin flag.
// Must be used after Middleware.
func RequireAdminHTTP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := FromContext(r.Context())
			if authCtx == nil {
				WriteError(w, http.StatusUnauthorized, "authentication_error", "not authenticated")
				return
			}

			if !authCtx.IsAdmin {
				WriteError(w, http.StatusForbidden, "authorization_error", "admin privileges required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireSession rejects requests authenticated with an MCP token.
// Account-changing routes are not reachable through an MCP URL.
func RequireSession() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := FromContext(r.Context())
			if authCtx == nil {
				WriteError(w, http.StatusUnauthorized, "authentication_error", "not authenticated")
				return
			}
			if authCtx.Method != MethodSession {
				WriteError(w, http.StatusForbidden, "authorization_error", "session token required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteError writes the standard JSON error body.
func WriteError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"kind": kind, "message": message},
	})
}
