// ABOUTME: Encrypted credential rows, one per (user, app) pair
// ABOUTME: Upsert replaces the prior credential in a single statement so readers never see a partial write

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// UpsertCredential stores c for (c.UserID, c.AppID), superseding any prior credential.
// Sets c.ID and c.CreatedAt.
func (s *SQLiteStore) UpsertCredential(ctx context.Context, c *Credential) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	var metadataJSON *string
	if len(c.Metadata) > 0 {
		data, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling credential metadata: %w", err)
		}
		str := string(data)
		metadataJSON = &str
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO credentials (user_id, app_id, kind, ciphertext, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, app_id) DO UPDATE SET
			kind = excluded.kind,
			ciphertext = excluded.ciphertext,
			metadata_json = excluded.metadata_json,
			created_at = excluded.created_at
		RETURNING id
	`, c.UserID, c.AppID, c.Kind, c.Ciphertext, metadataJSON, formatTime(c.CreatedAt)).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("upserting credential: %w", err)
	}

	s.logger.Debug("stored credential", "user_id", c.UserID, "app_id", c.AppID, "kind", c.Kind)
	return nil
}

// GetCredential returns the active credential for (userID, appID).
// Returns ErrNotFound if none was stored.
func (s *SQLiteStore) GetCredential(ctx context.Context, userID int64, appID string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, app_id, kind, ciphertext, metadata_json, created_at
		FROM credentials
		WHERE user_id = ? AND app_id = ?
	`, userID, appID)
	return scanCredential(row)
}

// ListCredentials returns every credential the user holds, ordered by app.
func (s *SQLiteStore) ListCredentials(ctx context.Context, userID int64) ([]*Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, app_id, kind, ciphertext, metadata_json, created_at
		FROM credentials
		WHERE user_id = ?
		ORDER BY app_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	creds := []*Credential{}
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credentials: %w", err)
	}
	return creds, nil
}

// DeleteCredential removes the credential for (userID, appID).
// Returns ErrNotFound if there was nothing to remove.
func (s *SQLiteStore) DeleteCredential(ctx context.Context, userID int64, appID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE user_id = ? AND app_id = ?`, userID, appID)
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCredential(row rowScanner) (*Credential, error) {
	var c Credential
	var metadataJSON sql.NullString
	var createdAt string

	err := row.Scan(&c.ID, &c.UserID, &c.AppID, &c.Kind, &c.Ciphertext, &metadataJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning credential: %w", err)
	}

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &c.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling credential metadata: %w", err)
		}
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &c, nil
}
