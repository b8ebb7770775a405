// ABOUTME: Stable numeric tool ids and per-user tool enablement
// ABOUTME: Tool ids survive restarts so execution logs keep pointing at the same tool

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EnsureToolIDs returns the id for every (appID, name), allocating ids for new names.
// Existing ids are never reassigned.
func (s *SQLiteStore) EnsureToolIDs(ctx context.Context, appID string, names []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(names))
	now := formatTime(time.Now())

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, name := range names {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO tools (app_id, name, created_at) VALUES (?, ?, ?)`,
				appID, name, now); err != nil {
				return fmt.Errorf("allocating tool id for %s.%s: %w", appID, name, err)
			}
			var id int64
			if err := tx.QueryRowContext(ctx,
				`SELECT id FROM tools WHERE app_id = ? AND name = ?`, appID, name).Scan(&id); err != nil {
				return fmt.Errorf("reading tool id for %s.%s: %w", appID, name, err)
			}
			ids[name] = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// SetToolEnablement records whether userID allows toolID.
func (s *SQLiteStore) SetToolEnablement(ctx context.Context, userID, toolID int64, enabled bool) error {
	return s.SetToolEnablements(ctx, userID, []int64{toolID}, enabled)
}

// SetToolEnablements applies the same flag to several tools atomically.
func (s *SQLiteStore) SetToolEnablements(ctx context.Context, userID int64, toolIDs []int64, enabled bool) error {
	now := formatTime(time.Now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, toolID := range toolIDs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO tool_enablements (user_id, tool_id, enabled, updated_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT (user_id, tool_id) DO UPDATE SET
					enabled = excluded.enabled,
					updated_at = excluded.updated_at
			`, userID, toolID, boolToInt(enabled), now)
			if err != nil {
				if isConstraintViolation(err) {
					return ErrNotFound
				}
				return fmt.Errorf("setting enablement for tool %d: %w", toolID, err)
			}
		}
		return nil
	})
}

// IsToolEnabled reports the user's enablement for a tool. Missing rows mean disabled.
func (s *SQLiteStore) IsToolEnabled(ctx context.Context, userID, toolID int64) (bool, error) {
	var enabled int
	err := s.db.QueryRowContext(ctx,
		`SELECT enabled FROM tool_enablements WHERE user_id = ? AND tool_id = ?`,
		userID, toolID).Scan(&enabled)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying enablement: %w", err)
	}
	return enabled != 0, nil
}

// ListEnabledToolIDs returns the set of tool ids the user has enabled.
func (s *SQLiteStore) ListEnabledToolIDs(ctx context.Context, userID int64) (map[int64]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool_id FROM tool_enablements WHERE user_id = ? AND enabled = 1`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying enablements: %w", err)
	}
	defer func() { _ = rows.Close() }()

	enabled := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning enablement: %w", err)
		}
		enabled[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating enablements: %w", err)
	}
	return enabled, nil
}
