// ABOUTME: Persistence for MCP access tokens (the token behind an MCP URL)
// ABOUTME: Rotation revokes the old token and inserts the new one inside a single transaction

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const mcpTokenColumns = `id, user_id, token_hash, token_prefix, ciphertext, issued_at, expires_at, revoked_at, last_used_at`

// RotateMCPToken revokes every unrevoked token of t.UserID and inserts t, atomically.
// Returns how many tokens were revoked.
func (s *SQLiteStore) RotateMCPToken(ctx context.Context, t *MCPToken) (int, error) {
	prepareMCPToken(t)

	var revoked int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE mcp_tokens SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL`,
			formatTime(t.IssuedAt), t.UserID)
		if err != nil {
			return fmt.Errorf("revoking previous tokens: %w", err)
		}
		n, _ := res.RowsAffected()
		revoked = int(n)
		return insertMCPToken(ctx, tx, t)
	})
	if err != nil {
		return 0, err
	}

	s.logger.Debug("rotated mcp token", "user_id", t.UserID, "token_id", t.ID, "revoked", revoked)
	return revoked, nil
}

// CreateMCPToken inserts t. Returns ErrActiveTokenExists if the user already
// holds an unrevoked token.
func (s *SQLiteStore) CreateMCPToken(ctx context.Context, t *MCPToken) error {
	prepareMCPToken(t)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertMCPToken(ctx, tx, t)
	})
}

// GetMCPTokenByHash looks a token up by the SHA-256 of its raw value.
func (s *SQLiteStore) GetMCPTokenByHash(ctx context.Context, hash string) (*MCPToken, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+mcpTokenColumns+` FROM mcp_tokens WHERE token_hash = ?`, hash)
	return scanMCPToken(row)
}

// GetActiveMCPToken returns the user's unrevoked token, which may be expired.
func (s *SQLiteStore) GetActiveMCPToken(ctx context.Context, userID int64) (*MCPToken, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+mcpTokenColumns+` FROM mcp_tokens WHERE user_id = ? AND revoked_at IS NULL`, userID)
	return scanMCPToken(row)
}

// RevokeMCPToken revokes a token by id. Revoking an already revoked token is a no-op.
func (s *SQLiteStore) RevokeMCPToken(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mcp_tokens SET revoked_at = COALESCE(revoked_at, ?) WHERE id = ?`,
		formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("revoking mcp token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeUserMCPTokens revokes every unrevoked token of a user.
func (s *SQLiteStore) RevokeUserMCPTokens(ctx context.Context, userID int64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mcp_tokens SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL`,
		formatTime(time.Now()), userID)
	if err != nil {
		return 0, fmt.Errorf("revoking mcp tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// TouchMCPToken records the last time a token was presented.
func (s *SQLiteStore) TouchMCPToken(ctx context.Context, id string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE mcp_tokens SET last_used_at = ? WHERE id = ?`, formatTime(at), id); err != nil {
		return fmt.Errorf("touching mcp token: %w", err)
	}
	return nil
}

func prepareMCPToken(t *MCPToken) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.IssuedAt.IsZero() {
		t.IssuedAt = time.Now().UTC()
	}
}

func insertMCPToken(ctx context.Context, tx *sql.Tx, t *MCPToken) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO mcp_tokens (id, user_id, token_hash, token_prefix, ciphertext, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.UserID, t.TokenHash, t.TokenPrefix, t.Ciphertext, formatTime(t.IssuedAt), formatTimePtr(t.ExpiresAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrActiveTokenExists
		}
		return fmt.Errorf("inserting mcp token: %w", err)
	}
	return nil
}

func scanMCPToken(row rowScanner) (*MCPToken, error) {
	var t MCPToken
	var issuedAt string
	var expiresAt, revokedAt, lastUsedAt sql.NullString

	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.TokenPrefix, &t.Ciphertext,
		&issuedAt, &expiresAt, &revokedAt, &lastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning mcp token: %w", err)
	}

	if t.IssuedAt, err = parseTime(issuedAt); err != nil {
		return nil, fmt.Errorf("parsing issued_at: %w", err)
	}
	if t.ExpiresAt, err = parseTimePtr(expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	if t.RevokedAt, err = parseTimePtr(revokedAt); err != nil {
		return nil, fmt.Errorf("parsing revoked_at: %w", err)
	}
	if t.LastUsedAt, err = parseTimePtr(lastUsedAt); err != nil {
		return nil, fmt.Errorf("parsing last_used_at: %w", err)
	}
	return &t, nil
}
