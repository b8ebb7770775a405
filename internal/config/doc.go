// Package config handles configuration loading for toolgate.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion, then defaults are applied and the result is validated.
//
// # Configuration File
//
// Locations (in order):
//
//  1. The --config flag
//  2. Path from TOOLGATE_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/toolgate/gateway.yaml (~/.config/toolgate/gateway.yaml)
//
// A file ending in .toml is decoded as TOML; anything else as YAML.
//
// TOOLGATE_DB_PATH overrides database.path and TOOLGATE_PUBLIC_URL overrides
// server.public_url after the file is read.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${TOOLGATE_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Durations
//
// Duration values use Go's time.ParseDuration syntax. An omitted duration takes
// its default; "0" is an explicit zero (mcp.token_ttl: "0" disables expiry).
//
//	server:
//	  read_header_timeout: "10s"
//	  shutdown_timeout: "5s"
//	auth:
//	  session_ttl: "30m"
//	mcp:
//	  token_ttl: "24h"
//	  touch_interval: "1m"
//	execution:
//	  timeout: "30s"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//	  public_url: "https://gate.example.com"  # base of MCP URLs
//
//	database:
//	  path: "/var/lib/toolgate/gateway.db"
//
//	auth:
//	  jwt_secret: "${TOOLGATE_JWT_SECRET}"  # at least 32 bytes
//	  allow_registration: true
//
//	vault:
//	  encryption_key: "${TOOLGATE_VAULT_KEY}"
//
//	execution:
//	  max_concurrency: 8    # per app
//	  rate_per_second: 0    # per app, 0 = unlimited
//	  burst: 8
//
//	apps:
//	  github: {base_url: "https://api.github.com", timeout: "15s"}
//	  slack:  {base_url: "https://slack.com/api", timeout: "15s"}
//	  matrix: {enabled: false}
//
//	tailscale:
//	  enabled: false
//	  hostname: "toolgate"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//	  funnel: false
//
//	cors:
//	  allowed_origins: ["*"]
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load(config.ResolvePath(flagValue))
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
