// Package gateway orchestrates the toolgate server components.
//
// # Overview
//
// The gateway package is the central coordinator of the toolgate server.
// It owns the data store, credential vault, tool registry, execution router,
// MCP token service, MCP server, and HTTP API, and the listener they are
// served on.
//
// # Gateway Struct
//
//	type Gateway struct {
//	    config      *config.Config
//	    store       *store.SQLiteStore
//	    vault       *vault.Vault
//	    registry    *packs.Registry
//	    router      *packs.Router
//	    executor    *execution.Service
//	    tokens      *mcp.TokenService
//	    mcpServer   *mcp.Server
//	    api         *api.API
//	    httpServer  *http.Server
//	    tsnetServer *tsnet.Server
//	}
//
// # App Registration
//
// GitHub and Slack are always registered; Matrix joins when apps.matrix.enabled
// is set. The built-in toolgate app (guess_tools) is registered last. Each
// registration assigns or reuses the stable tool IDs stored in the database.
//
// # Listeners
//
// Without Tailscale the gateway listens on server.http_addr. With Tailscale
// enabled it joins the tailnet through tsnet and serves on :443 (HTTPS or
// Funnel) or :80. Once the node is up its MagicDNS name becomes the public URL
// used in MCP links, unless server.public_url is set.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, version, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // blocks until ctx is done, then shuts down
//
// Ready reports whether the store answers and the registry has tools; it
// backs GET /api/v1/health/readiness.
package gateway
