// ABOUTME: User account persistence for registration, login, and admin status updates
// ABOUTME: Deactivation cascades to credentials and MCP tokens in one transaction

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const userColumns = `id, email, password_hash, is_active, is_admin, created_at, updated_at`

// CreateUser inserts a new user and sets its ID.
// Returns ErrEmailExists if the email is already registered.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.Email = strings.TrimSpace(u.Email)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (email, password_hash, is_active, is_admin, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.Email, u.PasswordHash, boolToInt(u.IsActive), boolToInt(u.IsAdmin), formatTime(u.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading user id: %w", err)
	}
	u.ID = id

	s.logger.Debug("created user", "id", u.ID)
	return nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByEmail retrieves a user by email, case-insensitively.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, strings.TrimSpace(email))
	return scanUser(row)
}

// ListUsers returns users ordered by ID with offset pagination.
func (s *SQLiteStore) ListUsers(ctx context.Context, skip, limit int) ([]*User, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id LIMIT ? OFFSET ?`, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	users := []*User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// CountUsers returns the number of accounts.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// UpdateUserFlags applies an admin status update and returns the updated user.
// Setting IsActive to false invalidates the user's credentials and MCP tokens.
func (s *SQLiteStore) UpdateUserFlags(ctx context.Context, id int64, flags UserFlags) (*User, error) {
	now := time.Now().UTC()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE users SET
				is_active = COALESCE(?, is_active),
				is_admin = COALESCE(?, is_admin),
				updated_at = ?
			WHERE id = ?
		`, optionalBool(flags.IsActive), optionalBool(flags.IsAdmin), formatTime(now), id)
		if err != nil {
			return fmt.Errorf("updating user: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if flags.IsActive != nil && !*flags.IsActive {
			return invalidateUserTx(ctx, tx, id, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, id)
}

// DeactivateUser marks the user inactive and invalidates everything it owns
// except execution logs, which are kept for audit.
func (s *SQLiteStore) DeactivateUser(ctx context.Context, id int64) error {
	inactive := false
	_, err := s.UpdateUserFlags(ctx, id, UserFlags{IsActive: &inactive})
	return err
}

// DeleteUser erases the user row. Owned rows go with it via ON DELETE CASCADE.
func (s *SQLiteStore) DeleteUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.logger.Info("deleted user", "id", id)
	return nil
}

// invalidateUserTx drops credentials and revokes MCP tokens inside tx.
func invalidateUserTx(ctx context.Context, tx *sql.Tx, userID int64, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM credentials WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("dropping credentials: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE mcp_tokens SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL`,
		formatTime(now), userID); err != nil {
		return fmt.Errorf("revoking mcp tokens: %w", err)
	}
	return nil
}

func optionalBool(b *bool) any {
	if b == nil {
		return nil
	}
	return boolToInt(*b)
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var isActive, isAdmin int
	var createdAt string
	var updatedAt sql.NullString

	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &isActive, &isAdmin, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.IsActive = isActive != 0
	u.IsAdmin = isAdmin != 0
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if u.UpdatedAt, err = parseTimePtr(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &u, nil
}
