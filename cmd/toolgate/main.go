// ABOUTME: Entry point for toolgate, the MCP tool gateway
// ABOUTME: Provides serve, init, bootstrap, health, and version commands

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/2389/toolgate/internal/auth"
	"github.com/2389/toolgate/internal/config"
	"github.com/2389/toolgate/internal/gateway"
	"github.com/2389/toolgate/internal/store"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const banner = `
  _              _             _
 | |_ ___   ___ | | __ _  __ _| |_ ___
 | __/ _ \ / _ \| |/ _' |/ _' | __/ _ \
 | || (_) | (_) | | (_| | (_| | ||  __/
  \__\___/ \___/|_|\__, |\__,_|\__\___|
                   |___/
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newApp(os.Stdout).Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "toolgate",
		Usage:   "Unified MCP gateway for GitHub, Slack, and Matrix tools",
		Version: version,
		Writer:  stdout,
		Commands: []*cli.Command{
			serveCommand(),
			initCommand(),
			bootstrapCommand(),
			healthCommand(),
			versionCommand(),
		},
	}
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "config file (default $TOOLGATE_CONFIG or $XDG_CONFIG_HOME/toolgate/gateway.yaml)",
	}
}

// getDataPath returns the toolgate data directory.
// Priority: XDG_DATA_HOME/toolgate > ~/.local/share/toolgate
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "toolgate")
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the gateway server",
		Flags: []cli.Flag{configFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runServe(ctx, cmd.Root().Writer, config.ResolvePath(cmd.String("config")))
		},
	}
}

func runServe(ctx context.Context, out io.Writer, configPath string) error {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	yellow := color.New(color.FgYellow)

	cyan.Fprint(out, banner)
	gray.Fprintf(out, "    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, out)

	printStep(out, "Config", configPath)
	printStep(out, "Database", cfg.Database.Path)
	if cfg.Tailscale.Enabled {
		var flags []string
		if cfg.Tailscale.Funnel {
			flags = append(flags, yellow.Sprint("[funnel]"))
		}
		if cfg.Tailscale.Ephemeral {
			flags = append(flags, gray.Sprint("(ephemeral)"))
		}
		printStep(out, "Tailscale", strings.TrimSpace(cyan.Sprint(cfg.Tailscale.Hostname)+" "+strings.Join(flags, " ")))
	} else {
		printStep(out, "HTTP", cfg.Server.HTTPAddr)
	}
	if cfg.Server.PublicURL != "" {
		printStep(out, "MCP", strings.TrimRight(cfg.Server.PublicURL, "/")+"/mcp")
	}
	fmt.Fprintln(out)

	logger.Info("starting toolgate", "config", configPath, "http_addr", cfg.Server.HTTPAddr, "version", version)

	gw, err := gateway.New(cfg, version, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Write a starter config file with fresh secrets",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{Name: "db-path", Usage: "SQLite database path (default $XDG_DATA_HOME/toolgate/gateway.db)"},
			&cli.BoolFlag{Name: "force", Usage: "overwrite an existing config file"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dbPath := cmd.String("db-path")
			if dbPath == "" {
				dbPath = filepath.Join(getDataPath(), "gateway.db")
			}
			return runInit(cmd.Root().Writer, config.ResolvePath(cmd.String("config")), dbPath, cmd.Bool("force"))
		},
	}
}

func randomSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func runInit(out io.Writer, configPath, dbPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	jwtSecret, err := randomSecret(32)
	if err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	vaultKey, err := randomSecret(32)
	if err != nil {
		return fmt.Errorf("generating vault key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	// The file holds secrets.
	if err := os.WriteFile(configPath, []byte(config.Example(jwtSecret, vaultKey, dbPath)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Fprintf(out, "  ✓ Created config: %s\n", configPath)
	fmt.Fprintf(out, "  Database: %s\n\n", dbPath)
	color.New(color.FgYellow).Fprintln(out, "  Next:")
	fmt.Fprintln(out, "    toolgate bootstrap --email you@example.com")
	fmt.Fprintln(out, "    toolgate serve")
	return nil
}

func bootstrapCommand() *cli.Command {
	return &cli.Command{
		Name:  "bootstrap",
		Usage: "Create the first admin account",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{Name: "email", Required: true, Usage: "admin email"},
			&cli.StringFlag{Name: "password", Usage: "admin password (generated when empty)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runBootstrap(ctx, cmd.Root().Writer, config.ResolvePath(cmd.String("config")), cmd.String("email"), cmd.String("password"))
		},
	}
}

// runBootstrap creates the first admin and writes a session token next to the config.
// It refuses to run once any account exists.
func runBootstrap(ctx context.Context, out io.Writer, configPath, email, password string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	generated := false
	if password == "" {
		if password, err = randomSecret(12); err != nil {
			return fmt.Errorf("generating password: %w", err)
		}
		generated = true
	}
	if errs := auth.ValidateRegistration(email, password); len(errs) > 0 {
		return fmt.Errorf("%s: %s", errs[0].Field, errs[0].Message)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	count, err := s.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("counting users: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("bootstrap already complete: %d account(s) exist", count)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	u := &store.User{Email: email, PasswordHash: hash, IsActive: true, IsAdmin: true}
	if err := s.CreateUser(ctx, u); err != nil {
		return fmt.Errorf("creating admin: %w", err)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(u.ID, cfg.Auth.SessionTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	green.Fprintf(out, "  ✓ Created admin: %s (id %d)\n", u.Email, u.ID)
	green.Fprintf(out, "  ✓ Saved session token: %s (expires in %s)\n", tokenPath, cfg.Auth.SessionTTL)
	if generated {
		fmt.Fprintln(out)
		cyan.Fprintln(out, "  Generated password (shown once):")
		fmt.Fprintf(out, "    %s\n", password)
	}
	return nil
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check gateway readiness",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{Name: "url", Usage: "gateway base URL (default from config)"},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			base := cmd.String("url")
			if base == "" {
				cfg, err := config.Load(config.ResolvePath(cmd.String("config")))
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
				base = healthBaseURL(cfg)
			}
			return runHealth(ctx, cmd.Root().Writer, base, cmd.Duration("timeout"))
		},
	}
}

func healthBaseURL(cfg *config.Config) string {
	if cfg.Server.PublicURL != "" {
		return cfg.Server.PublicURL
	}
	return "http://" + cfg.Server.HTTPAddr
}

func runHealth(ctx context.Context, out io.Writer, base string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := strings.TrimRight(base, "/") + "/api/v1/health/readiness"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New("unhealthy: status " + resp.Status)
	}
	fmt.Fprintln(out, "healthy")
	return nil
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the version",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Fprintf(cmd.Root().Writer, "toolgate %s\n", version)
			return nil
		},
	}
}
