// ABOUTME: Execution Router: resolves a tool, checks credential and enablement, dispatches, and logs
// ABOUTME: Every attempt ends in exactly one terminal execution log, written even if the caller left

package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/2389/toolgate/internal/adapters"
	"github.com/2389/toolgate/internal/packs"
	"github.com/2389/toolgate/internal/store"
	"github.com/2389/toolgate/internal/vault"
)

// Credentials yields a user's credential for an app.
type Credentials interface {
	Fetch(ctx context.Context, userID int64, appID string) (*vault.Credential, error)
}

// Enablements answers whether a user allows a tool.
type Enablements interface {
	IsToolEnabled(ctx context.Context, userID, toolID int64) (bool, error)
}

// Config wires a Service.
type Config struct {
	Registry    *packs.Registry
	Router      *packs.Router
	Credentials Credentials
	Enablements Enablements
	Logs        store.ExecutionLogStore
	Logger      *slog.Logger
}

// Service executes tools on behalf of users.
type Service struct {
	registry    *packs.Registry
	router      *packs.Router
	credentials Credentials
	enablements Enablements
	logs        store.ExecutionLogStore
	logger      *slog.Logger

	executions atomic.Int64
	failures   atomic.Int64
}

// NewService creates a Service.
func NewService(cfg Config) *Service {
	return &Service{
		registry:    cfg.Registry,
		router:      cfg.Router,
		credentials: cfg.Credentials,
		enablements: cfg.Enablements,
		logs:        cfg.Logs,
		logger:      cfg.Logger,
	}
}

// Result is a successful execution.
type Result struct {
	LogID    int64
	Tool     *packs.Tool
	Output   json.RawMessage
	Duration time.Duration
}

// Counters are process-lifetime execution totals.
type Counters struct {
	Executions int64
	Failures   int64
}

// Counters returns the execution totals since start.
func (s *Service) Counters() Counters {
	return Counters{Executions: s.executions.Load(), Failures: s.failures.Load()}
}

// ExecuteByDescriptor runs appID/toolName for userID.
func (s *Service) ExecuteByDescriptor(ctx context.Context, userID int64, appID, toolName string, params json.RawMessage) (*Result, error) {
	tool, err := s.registry.GetByAppAndName(appID, toolName)
	return s.execute(ctx, userID, attempt{appID: appID, toolName: toolName, tool: tool, resolveErr: err}, params)
}

// ExecuteByID runs the tool with the given numeric id for userID.
func (s *Service) ExecuteByID(ctx context.Context, userID, toolID int64, params json.RawMessage) (*Result, error) {
	tool, err := s.registry.GetByID(toolID)
	return s.execute(ctx, userID, attempt{toolName: "#" + strconv.FormatInt(toolID, 10), tool: tool, resolveErr: err}, params)
}

type attempt struct {
	appID      string
	toolName   string
	tool       *packs.Tool
	resolveErr error
}

func (s *Service) execute(ctx context.Context, userID int64, a attempt, params json.RawMessage) (*Result, error) {
	start := time.Now()
	s.executions.Add(1)

	entry := &store.ExecutionLog{
		UserID:         userID,
		AppID:          a.appID,
		ToolName:       a.toolName,
		RequestPayload: payloadText(params),
		StartedAt:      start.UTC(),
	}
	if a.tool != nil {
		id := a.tool.ID
		entry.ToolID = &id
		entry.AppID = a.tool.AppID
		entry.ToolName = a.tool.Name
	}

	out, err := s.run(ctx, userID, a, params)
	entry.Duration = time.Since(start)

	if err != nil {
		e := Classify(err)
		s.failures.Add(1)
		entry.Outcome = e.Kind.outcome()
		entry.ErrorMessage = e.Message
		entry.UpstreamStatus = e.UpstreamStatus
		e.LogID = s.appendLog(ctx, entry)

		level := slog.LevelWarn
		if e.Kind == KindInternal {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "tool execution failed",
			"user_id", userID,
			"app_id", entry.AppID,
			"tool_name", entry.ToolName,
			"kind", e.Kind,
			"upstream_status", e.UpstreamStatus,
			"duration", entry.Duration,
			"log_id", e.LogID,
			"error", err,
		)
		return nil, e
	}

	entry.Outcome = store.OutcomeSuccess
	entry.ResultPayload = string(out)
	logID := s.appendLog(ctx, entry)

	s.logger.Info("tool executed",
		"user_id", userID,
		"app_id", entry.AppID,
		"tool_name", entry.ToolName,
		"duration", entry.Duration,
		"log_id", logID,
	)
	return &Result{LogID: logID, Tool: a.tool, Output: out, Duration: entry.Duration}, nil
}

// run performs the checks in order: resolve, credential, enablement, dispatch.
// The credential check comes first so a tool that needs auth reports
// not_connected whatever its enablement. AlwaysEnabled tools skip the
// enablement check.
func (s *Service) run(ctx context.Context, userID int64, a attempt, params json.RawMessage) (json.RawMessage, error) {
	if a.resolveErr != nil {
		return nil, a.resolveErr
	}
	tool := a.tool

	var cred *vault.Credential
	if tool.RequiresAuth {
		c, err := s.credentials.Fetch(ctx, userID, tool.AppID)
		if err != nil {
			return nil, err
		}
		cred = c
	}

	enabled := tool.AlwaysEnabled
	if !enabled {
		on, err := s.enablements.IsToolEnabled(ctx, userID, tool.ID)
		if err != nil {
			return nil, fmt.Errorf("checking enablement: %w", err)
		}
		enabled = on
	}
	if !enabled {
		return nil, &Error{
			Kind:    KindToolDisabled,
			Message: fmt.Sprintf("tool %s is disabled; enable it first", tool.QualifiedName()),
		}
	}

	return s.router.Dispatch(ctx, tool, cred, params)
}

// appendLog writes the terminal record. It ignores caller cancellation so a
// disconnect still leaves a log behind. Returns 0 if the write failed.
func (s *Service) appendLog(ctx context.Context, entry *store.ExecutionLog) int64 {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.logs.AppendExecutionLog(ctx, entry); err != nil {
		s.logger.Error("failed to write execution log",
			"user_id", entry.UserID,
			"app_id", entry.AppID,
			"tool_name", entry.ToolName,
			"outcome", entry.Outcome,
			"error", err,
		)
		return 0
	}
	return entry.ID
}

func payloadText(params json.RawMessage) string {
	if len(params) == 0 || string(params) == "null" {
		return "{}"
	}
	return string(params)
}

// Rate sets the caller's rating (1..5) on one of their logs. Rating again overwrites.
func (s *Service) Rate(ctx context.Context, userID, logID int64, rating int) error {
	if rating < 1 || rating > 5 {
		return &Error{
			Kind:    KindValidation,
			Message: "invalid rating",
			Fields:  []adapters.FieldError{{Field: "rating", Message: "must be between 1 and 5"}},
		}
	}
	err := s.logs.RateExecutionLog(ctx, userID, logID, rating)
	if errors.Is(err, store.ErrNotFound) {
		return &Error{Kind: KindNotFound, Message: fmt.Sprintf("execution log %d not found", logID), Err: err}
	}
	if err != nil {
		return Classify(err)
	}
	s.logger.Debug("execution rated", "user_id", userID, "log_id", logID, "rating", rating)
	return nil
}

// Log returns one of the caller's logs.
func (s *Service) Log(ctx context.Context, userID, logID int64) (*store.ExecutionLog, error) {
	l, err := s.logs.GetExecutionLog(ctx, userID, logID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &Error{Kind: KindNotFound, Message: fmt.Sprintf("execution log %d not found", logID), Err: err}
	}
	if err != nil {
		return nil, Classify(err)
	}
	return l, nil
}

// Logs returns the caller's recent logs, newest first.
func (s *Service) Logs(ctx context.Context, userID int64, f store.ExecutionLogFilter) ([]*store.ExecutionLog, error) {
	logs, err := s.logs.ListExecutionLogs(ctx, userID, f)
	if err != nil {
		return nil, Classify(err)
	}
	return logs, nil
}
