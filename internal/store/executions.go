// ABOUTME: Append-only execution log with a single mutable rating column
// ABOUTME: Rating is a conditional UPDATE keyed by (id, user_id) so ownership is checked atomically

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const executionLogColumns = `id, user_id, tool_id, app_id, tool_name, request_payload, result_payload,
	outcome, error_message, upstream_status, started_at, duration_ms, rating, rated_at`

// AppendExecutionLog inserts a terminal execution record and sets l.ID.
func (s *SQLiteStore) AppendExecutionLog(ctx context.Context, l *ExecutionLog) error {
	if l.StartedAt.IsZero() {
		l.StartedAt = time.Now().UTC()
	}
	if l.RequestPayload == "" {
		l.RequestPayload = "{}"
	}

	var upstream any
	if l.UpstreamStatus != 0 {
		upstream = l.UpstreamStatus
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_logs (user_id, tool_id, app_id, tool_name, request_payload, result_payload,
			outcome, error_message, upstream_status, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		l.UserID,
		l.ToolID,
		l.AppID,
		l.ToolName,
		l.RequestPayload,
		nullString(l.ResultPayload),
		string(l.Outcome),
		nullString(l.ErrorMessage),
		upstream,
		formatTime(l.StartedAt),
		l.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("inserting execution log: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading execution log id: %w", err)
	}
	l.ID = id

	s.logger.Debug("appended execution log",
		"id", l.ID,
		"user_id", l.UserID,
		"tool", l.AppID+"."+l.ToolName,
		"outcome", l.Outcome,
	)
	return nil
}

// GetExecutionLog returns a log owned by userID. Logs of other users are ErrNotFound.
func (s *SQLiteStore) GetExecutionLog(ctx context.Context, userID, id int64) (*ExecutionLog, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionLogColumns+` FROM execution_logs WHERE id = ? AND user_id = ?`, id, userID)
	return scanExecutionLog(row)
}

// ListExecutionLogs returns the user's logs, newest first.
func (s *SQLiteStore) ListExecutionLogs(ctx context.Context, userID int64, f ExecutionLogFilter) ([]*ExecutionLog, error) {
	limit := f.Limit
	switch {
	case limit <= 0:
		limit = 50
	case limit > 500:
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+executionLogColumns+`
		FROM execution_logs
		WHERE user_id = ? AND (? IS NULL OR tool_id = ?)
		ORDER BY id DESC
		LIMIT ?
	`, userID, f.ToolID, f.ToolID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying execution logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	logs := []*ExecutionLog{}
	for rows.Next() {
		l, err := scanExecutionLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating execution logs: %w", err)
	}
	return logs, nil
}

// RateExecutionLog sets the rating on a log owned by userID, overwriting any prior rating.
// Returns ErrNotFound if the log does not exist or belongs to someone else.
func (s *SQLiteStore) RateExecutionLog(ctx context.Context, userID, id int64, rating int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE execution_logs SET rating = ?, rated_at = ? WHERE id = ? AND user_id = ?`,
		rating, formatTime(time.Now()), id, userID)
	if err != nil {
		return fmt.Errorf("rating execution log: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ExecutionStats counts the user's executions and failed ones.
func (s *SQLiteStore) ExecutionStats(ctx context.Context, userID int64) (ExecutionStats, error) {
	var st ExecutionStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN outcome != 'success' THEN 1 ELSE 0 END), 0)
		FROM execution_logs
		WHERE user_id = ?
	`, userID).Scan(&st.Total, &st.Failures)
	if err != nil {
		return st, fmt.Errorf("querying execution stats: %w", err)
	}
	return st, nil
}

func scanExecutionLog(row rowScanner) (*ExecutionLog, error) {
	var l ExecutionLog
	var toolID, upstream, rating sql.NullInt64
	var resultPayload, errorMessage, ratedAt sql.NullString
	var outcome, startedAt string
	var durationMS int64

	err := row.Scan(&l.ID, &l.UserID, &toolID, &l.AppID, &l.ToolName, &l.RequestPayload, &resultPayload,
		&outcome, &errorMessage, &upstream, &startedAt, &durationMS, &rating, &ratedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning execution log: %w", err)
	}

	if toolID.Valid {
		id := toolID.Int64
		l.ToolID = &id
	}
	if rating.Valid {
		r := int(rating.Int64)
		l.Rating = &r
	}
	l.ResultPayload = resultPayload.String
	l.ErrorMessage = errorMessage.String
	l.UpstreamStatus = int(upstream.Int64)
	l.Outcome = Outcome(outcome)
	l.Duration = time.Duration(durationMS) * time.Millisecond

	if l.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if l.RatedAt, err = parseTimePtr(ratedAt); err != nil {
		return nil, fmt.Errorf("parsing rated_at: %w", err)
	}
	return &l, nil
}
