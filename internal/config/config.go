// ABOUTME: Configuration loading and parsing for toolgate
// ABOUTME: Supports YAML or TOML files with environment variable expansion, duration parsing, and defaults

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by Load and ResolvePath.
const (
	EnvConfigPath = "TOOLGATE_CONFIG"
	EnvDBPath     = "TOOLGATE_DB_PATH"
	EnvPublicURL  = "TOOLGATE_PUBLIC_URL"
)

// MinJWTSecretLength is the minimum HS256 secret size in bytes.
const MinJWTSecretLength = 32

// Config represents the complete toolgate configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Vault     VaultConfig     `yaml:"vault" toml:"vault"`
	MCP       MCPConfig       `yaml:"mcp" toml:"mcp"`
	Execution ExecutionConfig `yaml:"execution" toml:"execution"`
	Apps      AppsConfig      `yaml:"apps" toml:"apps"`
	CORS      CORSConfig      `yaml:"cors" toml:"cors"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// PublicURL is the externally reachable base used in MCP URLs.
	// If not set, it's derived from each request.
	PublicURL string `yaml:"public_url" toml:"public_url"`

	ReadHeaderTimeout time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeout   time.Duration `yaml:"-" toml:"-"`

	ReadHeaderTimeoutRaw string `yaml:"read_header_timeout" toml:"read_header_timeout"`
	ShutdownTimeoutRaw   string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds session authentication configuration
type AuthConfig struct {
	JWTSecret         string        `yaml:"jwt_secret" toml:"jwt_secret"`
	SessionTTL        time.Duration `yaml:"-" toml:"-"`
	SessionTTLRaw     string        `yaml:"session_ttl" toml:"session_ttl"`
	AllowRegistration *bool         `yaml:"allow_registration" toml:"allow_registration"`
}

// RegistrationAllowed reports whether self-service registration is open. Defaults to true.
func (a AuthConfig) RegistrationAllowed() bool {
	return a.AllowRegistration == nil || *a.AllowRegistration
}

// VaultConfig holds the credential vault encryption key
type VaultConfig struct {
	EncryptionKey string `yaml:"encryption_key" toml:"encryption_key"`
}

// MCPConfig holds MCP access token settings
type MCPConfig struct {
	TokenTTL         time.Duration `yaml:"-" toml:"-"` // zero disables expiry
	TouchInterval    time.Duration `yaml:"-" toml:"-"`
	TokenTTLRaw      string        `yaml:"token_ttl" toml:"token_ttl"`
	TouchIntervalRaw string        `yaml:"touch_interval" toml:"touch_interval"`
}

// ExecutionConfig bounds tool dispatch per app
type ExecutionConfig struct {
	Timeout        time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw     string        `yaml:"timeout" toml:"timeout"`
	MaxConcurrency int64         `yaml:"max_concurrency" toml:"max_concurrency"`
	RatePerSecond  float64       `yaml:"rate_per_second" toml:"rate_per_second"`
	Burst          int           `yaml:"burst" toml:"burst"`
}

// AppsConfig holds per-adapter upstream settings
type AppsConfig struct {
	GitHub AppConfig `yaml:"github" toml:"github"`
	Slack  AppConfig `yaml:"slack" toml:"slack"`
	Matrix AppConfig `yaml:"matrix" toml:"matrix"`
}

// AppConfig holds one adapter's upstream settings. Enabled is only consulted for
// adapters that are off by default.
type AppConfig struct {
	Enabled    bool          `yaml:"enabled" toml:"enabled"`
	BaseURL    string        `yaml:"base_url" toml:"base_url"`
	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// CORSConfig holds cross-origin settings for the HTTP API
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// ResolvePath picks the config file: the explicit flag value, then TOOLGATE_CONFIG,
// then $XDG_CONFIG_HOME/toolgate/gateway.yaml (~/.config when XDG_CONFIG_HOME is unset).
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(configHome(), "toolgate", "gateway.yaml")
}

func configHome() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config"
	}
	return filepath.Join(home, ".config")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func applyEnvOverrides(cfg *Config) {
	if p := os.Getenv(EnvDBPath); p != "" {
		cfg.Database.Path = p
	}
	if u := os.Getenv(EnvPublicURL); u != "" {
		cfg.Server.PublicURL = u
	}
}

// parseDurations converts the raw duration strings into time.Duration values.
// An empty string keeps the default; "0" is an explicit zero.
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
		def  time.Duration
	}{
		{"server.read_header_timeout", cfg.Server.ReadHeaderTimeoutRaw, &cfg.Server.ReadHeaderTimeout, 10 * time.Second},
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout, 5 * time.Second},
		{"auth.session_ttl", cfg.Auth.SessionTTLRaw, &cfg.Auth.SessionTTL, 30 * time.Minute},
		{"mcp.token_ttl", cfg.MCP.TokenTTLRaw, &cfg.MCP.TokenTTL, 24 * time.Hour},
		{"mcp.touch_interval", cfg.MCP.TouchIntervalRaw, &cfg.MCP.TouchInterval, time.Minute},
		{"execution.timeout", cfg.Execution.TimeoutRaw, &cfg.Execution.Timeout, 30 * time.Second},
		{"apps.github.timeout", cfg.Apps.GitHub.TimeoutRaw, &cfg.Apps.GitHub.Timeout, 15 * time.Second},
		{"apps.slack.timeout", cfg.Apps.Slack.TimeoutRaw, &cfg.Apps.Slack.Timeout, 15 * time.Second},
		{"apps.matrix.timeout", cfg.Apps.Matrix.TimeoutRaw, &cfg.Apps.Matrix.Timeout, 15 * time.Second},
	}

	for _, f := range fields {
		if f.raw == "" {
			*f.dst = f.def
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Execution.MaxConcurrency == 0 {
		cfg.Execution.MaxConcurrency = 8
	}
	if cfg.Execution.Burst == 0 {
		cfg.Execution.Burst = int(cfg.Execution.MaxConcurrency)
	}
	if cfg.Apps.GitHub.BaseURL == "" {
		cfg.Apps.GitHub.BaseURL = "https://api.github.com"
	}
	if cfg.Apps.Slack.BaseURL == "" {
		cfg.Apps.Slack.BaseURL = "https://slack.com/api"
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Tailscale.Funnel {
		cfg.Tailscale.HTTPS = true
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Server.PublicURL != "" {
		u, err := url.Parse(c.Server.PublicURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("server.public_url must be an absolute http(s) URL")
		}
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl must be positive")
	}

	if c.Vault.EncryptionKey == "" {
		return fmt.Errorf("vault.encryption_key is required")
	}

	if c.Execution.MaxConcurrency < 0 {
		return fmt.Errorf("execution.max_concurrency must not be negative")
	}
	if c.Execution.RatePerSecond < 0 {
		return fmt.Errorf("execution.rate_per_second must not be negative")
	}
	if c.Execution.Burst < 0 {
		return fmt.Errorf("execution.burst must not be negative")
	}
	if c.Execution.Timeout <= 0 {
		return fmt.Errorf("execution.timeout must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// Example renders a starter configuration with the given secrets and database path.
func Example(jwtSecret, encryptionKey, dbPath string) string {
	return fmt.Sprintf(exampleTemplate, dbPath, jwtSecret, encryptionKey)
}

const exampleTemplate = `# toolgate configuration
server:
  http_addr: "127.0.0.1:8080"
  # public_url: "https://gate.example.com"

database:
  path: %q

auth:
  jwt_secret: %q
  session_ttl: "30m"
  allow_registration: true

vault:
  encryption_key: %q

mcp:
  token_ttl: "24h"

execution:
  timeout: "30s"
  max_concurrency: 8

apps:
  matrix:
    enabled: false

tailscale:
  enabled: false
  hostname: "toolgate"

logging:
  level: "info"
  format: "text"
`
