// ABOUTME: Audit log entity and store methods for tracking account and access changes
// ABOUTME: Records who did what to which resource for compliance and debugging

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditUpdateUser       AuditAction = "update_user"
	AuditDeactivateUser   AuditAction = "deactivate_user"
	AuditDeleteUser       AuditAction = "delete_user"
	AuditConnectApp       AuditAction = "connect_app"
	AuditDisconnectApp    AuditAction = "disconnect_app"
	AuditIssueMCPToken    AuditAction = "issue_mcp_token"
	AuditRevokeMCPToken   AuditAction = "revoke_mcp_token"
	AuditUpdateEnablement AuditAction = "update_enablement"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID          string         // UUID v4
	ActorUserID *int64         // nil for system actions
	Action      AuditAction    // what action was performed
	TargetType  string         // "user", "credential", "mcp_token", "tool"
	TargetID    string         // ID of the affected resource
	Timestamp   time.Time      // when it happened
	Detail      map[string]any // additional context
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	ActorUserID *int64
	Action      *AuditAction
	TargetType  *string
	TargetID    *string
	Limit       int // max results (default 100, max 1000)
}

// AuditStore records administrative and access-control changes.
type AuditStore interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// AppendAuditLog appends a new entry to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (audit_id, actor_user_id, action, target_type, target_id, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.ActorUserID,
		string(e.Action),
		e.TargetType,
		e.TargetID,
		formatTime(e.Timestamp),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"action", e.Action,
		"target", e.TargetType+"/"+e.TargetID,
	)
	return nil
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

const auditLogQuery = `
	SELECT audit_id, actor_user_id, action, target_type, target_id, ts, detail_json
	FROM audit_log
	WHERE (? IS NULL OR actor_user_id = ?)
	  AND (? IS NULL OR action = ?)
	  AND (? IS NULL OR target_type = ?)
	  AND (? IS NULL OR target_id = ?)
	ORDER BY ts DESC
	LIMIT ?
`

// ListAuditLog returns audit entries matching the filter, newest first.
func (s *SQLiteStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	var action *string
	if f.Action != nil {
		a := string(*f.Action)
		action = &a
	}

	rows, err := s.db.QueryContext(ctx, auditLogQuery,
		f.ActorUserID, f.ActorUserID,
		action, action,
		f.TargetType, f.TargetType,
		f.TargetID, f.TargetID,
		normalizeAuditLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []AuditEntry{}
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}

func scanAuditEntry(scanner rowScanner) (AuditEntry, error) {
	var e AuditEntry
	var actor sql.NullInt64
	var action, ts string
	var detailJSON sql.NullString

	if err := scanner.Scan(&e.ID, &actor, &action, &e.TargetType, &e.TargetID, &ts, &detailJSON); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}

	if actor.Valid {
		id := actor.Int64
		e.ActorUserID = &id
	}
	e.Action = AuditAction(action)

	var err error
	if e.Timestamp, err = parseTime(ts); err != nil {
		return e, fmt.Errorf("parsing timestamp: %w", err)
	}
	if detailJSON.Valid {
		if err := json.Unmarshal([]byte(detailJSON.String), &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshaling detail: %w", err)
		}
	}
	return e, nil
}
