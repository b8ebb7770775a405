// ABOUTME: Tests for the Credential Vault against a real SQLite store
// ABOUTME: Covers supersession, not-connected errors, revocation, and at-rest encryption

package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolgate/internal/store"
)

func setupTestVault(t *testing.T) (*Vault, *store.SQLiteStore, int64) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	u := &store.User{Email: "v@example.com", PasswordHash: "x", IsActive: true}
	require.NoError(t, s.CreateUser(context.Background(), u))

	return New(s, "test-encryption-key", nil), s, u.ID
}

func githubCredential(token string) Credential {
	return Credential{
		AppID:    "github",
		Kind:     "oauth_token",
		Material: json.RawMessage(`{"access_token":"` + token + `","token_type":"bearer"}`),
		Metadata: map[string]string{"scope": "repo"},
	}
}

func TestVault_StoreThenFetch(t *testing.T) {
	v, _, uid := setupTestVault(t)
	ctx := context.Background()

	id, err := v.Store(ctx, uid, githubCredential("gho_first"))
	require.NoError(t, err)
	assert.NotZero(t, id)

	c, err := v.Fetch(ctx, uid, "github")
	require.NoError(t, err)

	var shape struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, c.Decode(&shape))
	assert.Equal(t, "gho_first", shape.AccessToken)
	assert.Equal(t, "repo", c.Metadata["scope"])
}

func TestVault_SecondStoreSupersedesFirst(t *testing.T) {
	v, _, uid := setupTestVault(t)
	ctx := context.Background()

	_, err := v.Store(ctx, uid, githubCredential("gho_one"))
	require.NoError(t, err)
	_, err = v.Store(ctx, uid, githubCredential("gho_two"))
	require.NoError(t, err)

	c, err := v.Fetch(ctx, uid, "github")
	require.NoError(t, err)
	assert.Contains(t, string(c.Material), "gho_two")
	assert.NotContains(t, string(c.Material), "gho_one")

	infos, err := v.List(ctx, uid)
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestVault_FetchNotConnected(t *testing.T) {
	v, _, uid := setupTestVault(t)

	_, err := v.Fetch(context.Background(), uid, "slack")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestVault_Revoke(t *testing.T) {
	v, _, uid := setupTestVault(t)
	ctx := context.Background()

	_, err := v.Store(ctx, uid, githubCredential("gho_x"))
	require.NoError(t, err)

	require.NoError(t, v.Revoke(ctx, uid, "github"))
	_, err = v.Fetch(ctx, uid, "github")
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.ErrorIs(t, v.Revoke(ctx, uid, "github"), ErrNotConnected)
}

func TestVault_MaterialEncryptedAtRest(t *testing.T) {
	v, s, uid := setupTestVault(t)
	ctx := context.Background()

	_, err := v.Store(ctx, uid, githubCredential("gho_plain_should_not_appear"))
	require.NoError(t, err)

	row, err := s.GetCredential(ctx, uid, "github")
	require.NoError(t, err)
	assert.NotContains(t, row.Ciphertext, "gho_plain_should_not_appear")

	other := New(s, "a-different-key", nil)
	_, err = other.Fetch(ctx, uid, "github")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestVault_StoreRejectsEmptyMaterial(t *testing.T) {
	v, _, uid := setupTestVault(t)

	_, err := v.Store(context.Background(), uid, Credential{AppID: "github", Kind: "oauth_token"})
	assert.Error(t, err)
}

func TestVault_Connected(t *testing.T) {
	v, _, uid := setupTestVault(t)
	ctx := context.Background()

	_, err := v.Store(ctx, uid, githubCredential("gho_x"))
	require.NoError(t, err)

	set, err := v.Connected(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"github": true}, set)
}

func TestCredential_LogValueOmitsMaterial(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	c := githubCredential("gho_leak")
	logger.Info("using credential", "credential", &c)

	assert.False(t, strings.Contains(buf.String(), "gho_leak"))
	assert.Contains(t, buf.String(), "app_id=github")
}
