// ABOUTME: chi router for the toolgate HTTP API under /api/v1 plus the MCP mount
// ABOUTME: Wires request logging, CORS, auth middleware, and per-route authorization

package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/2389/toolgate/internal/auth"
	"github.com/2389/toolgate/internal/execution"
	"github.com/2389/toolgate/internal/mcp"
	"github.com/2389/toolgate/internal/packs"
	"github.com/2389/toolgate/internal/store"
	"github.com/2389/toolgate/internal/vault"
)

// DefaultSessionTTL is the lifetime of tokens issued by POST /token.
const DefaultSessionTTL = 30 * time.Minute

// DefaultVerifyTimeout bounds the upstream check made by connect?verify=true.
const DefaultVerifyTimeout = 10 * time.Second

// RouteMounter registers extra routes at the root, outside /api/v1.
type RouteMounter interface {
	RegisterRoutes(r chi.Router)
}

// Config holds the API's collaborators.
type Config struct {
	Store         store.Store
	Vault         *vault.Vault
	Registry      *packs.Registry
	Executor      *execution.Service
	Tokens        *mcp.TokenService
	Authenticator *auth.Authenticator
	Sessions      *auth.JWTVerifier

	// MCP is mounted at the root when set.
	MCP RouteMounter

	// Ready overrides the readiness probe. By default only the store is pinged.
	Ready func(ctx context.Context) error

	// InFlight reports tool calls currently dispatched, for metrics.
	InFlight func() int64

	PublicURL           string
	SessionTTL          time.Duration
	VerifyTimeout       time.Duration
	DisableRegistration bool
	AllowedOrigins      []string
	Logger              *slog.Logger
}

// API serves the HTTP surface.
type API struct {
	store    store.Store
	vault    *vault.Vault
	registry *packs.Registry
	executor *execution.Service
	tokens   *mcp.TokenService
	authn    *auth.Authenticator
	sessions *auth.JWTVerifier
	mcp      RouteMounter
	ready    func(ctx context.Context) error
	inFlight func() int64

	publicURL           atomic.Value // string
	sessionTTL          time.Duration
	verifyTimeout       time.Duration
	disableRegistration bool
	allowedOrigins      []string
	logger              *slog.Logger

	startedAt time.Time
	requests  atomic.Int64
	active    atomic.Int64
	failures  atomic.Int64
}

// New validates cfg and builds an API.
func New(cfg Config) (*API, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("store is required")
	case cfg.Vault == nil:
		return nil, errors.New("vault is required")
	case cfg.Registry == nil:
		return nil, errors.New("registry is required")
	case cfg.Executor == nil:
		return nil, errors.New("executor is required")
	case cfg.Tokens == nil:
		return nil, errors.New("token service is required")
	case cfg.Authenticator == nil:
		return nil, errors.New("authenticator is required")
	case cfg.Sessions == nil:
		return nil, errors.New("session verifier is required")
	}

	a := &API{
		store:               cfg.Store,
		vault:               cfg.Vault,
		registry:            cfg.Registry,
		executor:            cfg.Executor,
		tokens:              cfg.Tokens,
		authn:               cfg.Authenticator,
		sessions:            cfg.Sessions,
		mcp:                 cfg.MCP,
		ready:               cfg.Ready,
		inFlight:            cfg.InFlight,
		sessionTTL:          cfg.SessionTTL,
		verifyTimeout:       cfg.VerifyTimeout,
		disableRegistration: cfg.DisableRegistration,
		allowedOrigins:      cfg.AllowedOrigins,
		logger:              cfg.Logger,
		startedAt:           time.Now(),
	}
	a.publicURL.Store(cfg.PublicURL)
	if a.sessionTTL <= 0 {
		a.sessionTTL = DefaultSessionTTL
	}
	if a.verifyTimeout <= 0 {
		a.verifyTimeout = DefaultVerifyTimeout
	}
	if len(a.allowedOrigins) == 0 {
		a.allowedOrigins = []string{"*"}
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.ready == nil {
		a.ready = a.store.Ping
	}
	return a, nil
}

// Handler returns the root handler: /api/v1 routes and, when configured, MCP.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Mcp-Session-Id", "Mcp-Protocol-Version"},
		ExposedHeaders:   []string{"Mcp-Session-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api/v1", a.routes)
	if a.mcp != nil {
		a.mcp.RegisterRoutes(r)
	}
	return r
}

func (a *API) routes(r chi.Router) {
	r.Post("/register", a.handleRegister)
	r.Post("/token", a.handleToken)

	r.Route("/health", func(r chi.Router) {
		r.Get("/liveness", a.handleLiveness)
		r.Get("/readiness", a.handleReadiness)
		r.Get("/metrics", a.handleMetrics)
	})

	// Session or MCP token.
	r.Group(func(r chi.Router) {
		r.Use(a.authn.Middleware())

		r.Get("/me", a.handleMe)
		r.Get("/check", a.handleCheck)

		r.Get("/apps", a.handleListApps)
		r.Get("/user/apps", a.handleUserApps)
		r.Get("/apps/{app}/tools", a.handleListAppTools)
		r.Get("/apps/{app}/tools/{tool}", a.handleGetAppTool)

		r.Get("/guess-tools", a.handleGuessTools)
		r.Get("/tools", a.handleListTools)
		r.Get("/tools/{id}", a.handleGetTool)
		r.Get("/user/tools", a.handleUserTools)

		r.Post("/execute", a.handleExecute)
		r.Post("/tools/{id}/execute", a.handleExecuteByID)
		r.Post("/execute/log/{id}/rate", a.handleRate)
		r.Get("/execute/logs", a.handleListLogs)
		r.Get("/execute/log/{id}", a.handleGetLog)

		r.Get("/dashboard/stats", a.handleDashboardStats)

		// Session only: account-changing routes are unreachable through an MCP URL.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireSession())

			r.Post("/apps/{app}/connect", a.handleConnect)
			r.Delete("/apps/{app}/connect", a.handleDisconnect)
			r.Put("/apps/{app}/enablement", a.handleAppEnablement)
			r.Put("/tools/{id}/enablement", a.handleToolEnablement)

			r.Get("/mcp-url", a.handleGetMCPURL)
			r.Post("/mcp-url/regenerate", a.handleRegenerateMCPURL)
			r.Delete("/mcp-url", a.handleRevokeMCPURL)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAdminHTTP())
				r.Get("/accounts", a.handleListAccounts)
				r.Patch("/users/{id}", a.handleUpdateUser)
				r.Delete("/users/{id}", a.handleDeleteUser)
			})
		})
	})
}

// requestLogger writes one line per request and feeds the metrics counters.
func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.requests.Add(1)
		a.active.Add(1)
		defer a.active.Add(-1)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				a.failures.Add(1)
			}
			a.logger.Info("http request",
				"method", r.Method,
				"path", logPath(r.URL.Path),
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// logPath keeps MCP tokens embedded in the path out of logs.
func logPath(p string) string {
	if tok, ok := strings.CutPrefix(p, "/mcp/"); ok && tok != "" {
		return "/mcp/" + mcp.Prefix(tok) + "..."
	}
	return p
}

// audit records an access-control change. Failures are logged, not returned.
func (a *API) audit(ctx context.Context, actor int64, action store.AuditAction, targetType, targetID string, detail map[string]any) {
	entry := &store.AuditEntry{
		ActorUserID: &actor,
		Action:      action,
		TargetType:  targetType,
		TargetID:    targetID,
		Detail:      detail,
	}
	if err := a.store.AppendAuditLog(context.WithoutCancel(ctx), entry); err != nil {
		a.logger.Error("failed to append audit entry", "action", action, "target_id", targetID, "error", err)
	}
}
