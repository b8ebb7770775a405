// ABOUTME: Store interfaces and data types for toolgate persistence
// ABOUTME: Defines users, credentials, tool ids, enablements, MCP tokens, and execution logs

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned when registering an email that is already taken
var ErrEmailExists = errors.New("email already registered")

// ErrActiveTokenExists is returned when a user already holds an unrevoked MCP token
var ErrActiveTokenExists = errors.New("active mcp token already exists")

// User is an account that owns credentials, enablements, and execution logs.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	IsActive     bool
	IsAdmin      bool
	CreatedAt    time.Time
	UpdatedAt    *time.Time
}

// UserFlags carries an admin status update. Nil fields are left untouched.
type UserFlags struct {
	IsActive *bool
	IsAdmin  *bool
}

// Credential is a stored, encrypted secret for one (user, app) pair.
// Ciphertext is opaque to the store; the vault owns encryption.
type Credential struct {
	ID         int64
	UserID     int64
	AppID      string
	Kind       string
	Ciphertext string
	Metadata   map[string]string // non-secret display data (scope, team name)
	CreatedAt  time.Time
}

// ToolEnablement records whether a user allows a tool to be dispatched.
type ToolEnablement struct {
	UserID    int64
	ToolID    int64
	Enabled   bool
	UpdatedAt time.Time
}

// MCPToken is a persisted access artifact. The raw token is never stored;
// TokenHash is used for lookup and Ciphertext lets the owner see the URL again.
type MCPToken struct {
	ID          string
	UserID      int64
	TokenHash   string
	TokenPrefix string
	Ciphertext  string
	IssuedAt    time.Time
	ExpiresAt   *time.Time
	RevokedAt   *time.Time
	LastUsedAt  *time.Time
}

// Revoked reports whether the token has been revoked.
func (t *MCPToken) Revoked() bool {
	return t.RevokedAt != nil
}

// Expired reports whether the token is past its expiry at the given instant.
func (t *MCPToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// Outcome is the terminal state of an execution log.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeValidation   Outcome = "validation_error"
	OutcomeUnknownTool  Outcome = "unknown_tool"
	OutcomeToolDisabled Outcome = "tool_disabled"
	OutcomeNotConnected Outcome = "not_connected"
	OutcomeAdapterError Outcome = "adapter_error"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeCancelled    Outcome = "cancelled"
	OutcomeInternal     Outcome = "internal_error"
)

// ExecutionLog is the durable record of one tool invocation.
// Every field except Rating is written once.
type ExecutionLog struct {
	ID             int64
	UserID         int64
	ToolID         *int64 // nil when the tool could not be resolved
	AppID          string
	ToolName       string
	RequestPayload string
	ResultPayload  string
	Outcome        Outcome
	ErrorMessage   string
	UpstreamStatus int
	StartedAt      time.Time
	Duration       time.Duration
	Rating         *int
	RatedAt        *time.Time
}

// ExecutionLogFilter narrows ListExecutionLogs.
type ExecutionLogFilter struct {
	ToolID *int64
	Limit  int // default 50, max 500
}

// ExecutionStats summarizes a user's executions.
type ExecutionStats struct {
	Total    int
	Failures int
}

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context, skip, limit int) ([]*User, error)
	CountUsers(ctx context.Context) (int, error)
	UpdateUserFlags(ctx context.Context, id int64, flags UserFlags) (*User, error)
	DeactivateUser(ctx context.Context, id int64) error
	DeleteUser(ctx context.Context, id int64) error
}

// CredentialStore persists encrypted credentials.
type CredentialStore interface {
	UpsertCredential(ctx context.Context, c *Credential) error
	GetCredential(ctx context.Context, userID int64, appID string) (*Credential, error)
	ListCredentials(ctx context.Context, userID int64) ([]*Credential, error)
	DeleteCredential(ctx context.Context, userID int64, appID string) error
}

// ToolStore assigns stable numeric ids to tools and persists enablements.
type ToolStore interface {
	EnsureToolIDs(ctx context.Context, appID string, names []string) (map[string]int64, error)
	SetToolEnablement(ctx context.Context, userID, toolID int64, enabled bool) error
	SetToolEnablements(ctx context.Context, userID int64, toolIDs []int64, enabled bool) error
	IsToolEnabled(ctx context.Context, userID, toolID int64) (bool, error)
	ListEnabledToolIDs(ctx context.Context, userID int64) (map[int64]bool, error)
}

// TokenStore persists MCP access artifacts.
type TokenStore interface {
	RotateMCPToken(ctx context.Context, t *MCPToken) (revoked int, err error)
	CreateMCPToken(ctx context.Context, t *MCPToken) error
	GetMCPTokenByHash(ctx context.Context, hash string) (*MCPToken, error)
	GetActiveMCPToken(ctx context.Context, userID int64) (*MCPToken, error)
	RevokeMCPToken(ctx context.Context, id string) error
	RevokeUserMCPTokens(ctx context.Context, userID int64) (int, error)
	TouchMCPToken(ctx context.Context, id string, at time.Time) error
}

// ExecutionLogStore persists execution logs and ratings.
type ExecutionLogStore interface {
	AppendExecutionLog(ctx context.Context, l *ExecutionLog) error
	GetExecutionLog(ctx context.Context, userID, id int64) (*ExecutionLog, error)
	ListExecutionLogs(ctx context.Context, userID int64, f ExecutionLogFilter) ([]*ExecutionLog, error)
	RateExecutionLog(ctx context.Context, userID, id int64, rating int) error
	ExecutionStats(ctx context.Context, userID int64) (ExecutionStats, error)
}

// Store combines every persistence concern plus lifecycle.
type Store interface {
	UserStore
	CredentialStore
	ToolStore
	TokenStore
	ExecutionLogStore
	AuditStore
	Ping(ctx context.Context) error
	Close() error
}
