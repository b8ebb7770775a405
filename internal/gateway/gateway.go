// ABOUTME: Gateway orchestrator that wires the store, vault, registry, executor, MCP server, and HTTP API
// ABOUTME: Manages listener setup (TCP or tailnet), readiness probing, and graceful shutdown

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/toolgate/internal/adapters"
	"github.com/2389/toolgate/internal/adapters/github"
	"github.com/2389/toolgate/internal/adapters/matrix"
	"github.com/2389/toolgate/internal/adapters/slack"
	"github.com/2389/toolgate/internal/api"
	"github.com/2389/toolgate/internal/auth"
	"github.com/2389/toolgate/internal/config"
	"github.com/2389/toolgate/internal/execution"
	"github.com/2389/toolgate/internal/mcp"
	"github.com/2389/toolgate/internal/packs"
	"github.com/2389/toolgate/internal/store"
	"github.com/2389/toolgate/internal/vault"
)

// Gateway owns every long-lived component and the HTTP server in front of them.
type Gateway struct {
	config      *config.Config
	store       *store.SQLiteStore
	vault       *vault.Vault
	registry    *packs.Registry
	router      *packs.Router
	executor    *execution.Service
	tokens      *mcp.TokenService
	mcpServer   *mcp.Server
	api         *api.API
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// initStore opens the SQLite store, applying migrations.
func initStore(cfg *config.Config, logger *slog.Logger) (*store.SQLiteStore, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path, store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// enabledAdapters builds the app adapters named by the configuration.
func enabledAdapters(cfg *config.Config) []adapters.Adapter {
	list := []adapters.Adapter{
		github.New(github.Options{BaseURL: cfg.Apps.GitHub.BaseURL, Timeout: cfg.Apps.GitHub.Timeout}),
		slack.New(slack.Options{BaseURL: cfg.Apps.Slack.BaseURL, Timeout: cfg.Apps.Slack.Timeout}),
	}
	if cfg.Apps.Matrix.Enabled {
		list = append(list, matrix.New(matrix.Options{Timeout: cfg.Apps.Matrix.Timeout}))
	}
	return list
}

// registerApps registers the configured adapters plus the built-in app.
func registerApps(ctx context.Context, registry *packs.Registry, list []adapters.Adapter) error {
	for _, a := range list {
		if err := registry.Register(ctx, a); err != nil {
			return fmt.Errorf("registering app %s: %w", a.Info().ID, err)
		}
	}
	if err := registry.Register(ctx, packs.NewBuiltinAdapter(registry)); err != nil {
		return fmt.Errorf("registering built-in app: %w", err)
	}
	return nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, version string, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := initStore(cfg, logger.With("component", "store"))
	if err != nil {
		return nil, err
	}

	gw, err := build(cfg, version, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

func build(cfg *config.Config, version string, s *store.SQLiteStore, logger *slog.Logger) (*Gateway, error) {
	ctx := context.Background()

	v := vault.New(s, cfg.Vault.EncryptionKey, logger.With("component", "vault"))

	registry := packs.NewRegistry(s, logger.With("component", "registry"))
	if err := registerApps(ctx, registry, enabledAdapters(cfg)); err != nil {
		return nil, err
	}
	router := packs.NewRouter(packs.RouterConfig{
		Registry:       registry,
		Logger:         logger.With("component", "router"),
		Timeout:        cfg.Execution.Timeout,
		MaxConcurrency: cfg.Execution.MaxConcurrency,
		RatePerSecond:  cfg.Execution.RatePerSecond,
		Burst:          cfg.Execution.Burst,
	})

	executor := execution.NewService(execution.Config{
		Registry:    registry,
		Router:      router,
		Credentials: v,
		Enablements: s,
		Logs:        s,
		Logger:      logger.With("component", "execution"),
	})

	tokens := mcp.NewTokenService(mcp.TokenServiceConfig{
		Tokens:        s,
		Audit:         s,
		Cipher:        v.Cipher(),
		TTL:           cfg.MCP.TokenTTL,
		TouchInterval: cfg.MCP.TouchInterval,
		Logger:        logger.With("component", "mcp-tokens"),
	})

	sessions, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		tokens.Close()
		return nil, fmt.Errorf("creating session verifier: %w", err)
	}
	authn := auth.NewAuthenticator(s, sessions, tokens, logger.With("component", "auth"))

	mcpServer, err := mcp.NewServer(mcp.Config{
		Registry:      registry,
		Executor:      executor,
		Enablements:   s,
		Authenticator: authn,
		Logger:        logger.With("component", "mcp"),
		Version:       version,
	})
	if err != nil {
		tokens.Close()
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	gw := &Gateway{
		config:    cfg,
		store:     s,
		vault:     v,
		registry:  registry,
		router:    router,
		executor:  executor,
		tokens:    tokens,
		mcpServer: mcpServer,
		logger:    logger.With("component", "gateway"),
	}

	gw.api, err = api.New(api.Config{
		Store:               s,
		Vault:               v,
		Registry:            registry,
		Executor:            executor,
		Tokens:              tokens,
		Authenticator:       authn,
		Sessions:            sessions,
		MCP:                 mcpServer,
		Ready:               gw.Ready,
		InFlight:            router.InFlight,
		PublicURL:           cfg.Server.PublicURL,
		SessionTTL:          cfg.Auth.SessionTTL,
		DisableRegistration: !cfg.Auth.RegistrationAllowed(),
		AllowedOrigins:      cfg.CORS.AllowedOrigins,
		Logger:              logger.With("component", "api"),
	})
	if err != nil {
		tokens.Close()
		return nil, fmt.Errorf("creating API: %w", err)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.api.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	gw.logger.Info("gateway assembled",
		"apps", len(registry.Apps()),
		"tools", len(registry.List()),
		"registration", cfg.Auth.RegistrationAllowed(),
	)
	return gw, nil
}

// Handler returns the root HTTP handler (API and MCP endpoint).
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Ready runs the readiness checks concurrently and returns the first failure.
func (g *Gateway) Ready(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := g.store.Ping(ctx); err != nil {
			return fmt.Errorf("store: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		if len(g.registry.Apps()) == 0 {
			return errors.New("registry: no apps registered")
		}
		return nil
	})
	if ts := g.tsnetServer; ts != nil {
		eg.Go(func() error {
			lc, err := ts.LocalClient()
			if err != nil {
				return fmt.Errorf("tailscale: %w", err)
			}
			if _, err := lc.StatusWithoutPeers(ctx); err != nil {
				return fmt.Errorf("tailscale: %w", err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// setupTCPListener creates the standard TCP listener.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		_ = g.Close()
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		if ctx.Err() != nil {
			g.logger.Info("context canceled, initiating shutdown")
		}
		return g.gracefulShutdown()
	})
	return eg.Wait()
}

// gracefulShutdown performs shutdown with a fresh context and timeout,
// since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.Server.ShutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "toolgate", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and returns the HTTP listener.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	g.logTailscaleStatus(tsCfg.Hostname, status)
	g.updatePublicURLFromStatus(status)

	return g.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// updatePublicURLFromStatus points MCP URLs at the tailnet DNS name unless a public URL is configured.
func (g *Gateway) updatePublicURLFromStatus(status *ipnstate.Status) {
	if g.config.Server.PublicURL != "" || status.Self == nil || status.Self.DNSName == "" {
		return
	}
	u := tailnetURL(status.Self.DNSName, g.config.Tailscale.HTTPS)
	g.api.SetPublicURL(u)
	g.logger.Info("MCP URLs use the tailnet name", "public_url", u)
}

func tailnetURL(dnsName string, https bool) string {
	host := strings.TrimSuffix(dnsName, ".")
	if https {
		return "https://" + host
	}
	return "http://" + host
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown drains the HTTP server, waiting up to ctx for in-flight tool calls,
// then releases the tailnet node and the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway", "in_flight_tools", g.router.InFlight())

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = append(errs, g.Close())
	return errors.Join(errs...)
}

// Close releases resources without draining the HTTP server.
func (g *Gateway) Close() error {
	var errs []error
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	if g.tokens != nil {
		g.tokens.Close()
	}
	errs = appendCloseError(errs, "store close", g.store.Close())
	return errors.Join(errs...)
}
