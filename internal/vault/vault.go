// ABOUTME: Credential Vault: per-user, per-app encrypted credential storage
// ABOUTME: Secret material is sealed before it reaches the store and only opened for adapter calls

package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/toolgate/internal/store"
)

// ErrNotConnected is returned when the user never supplied a credential for the app.
var ErrNotConnected = errors.New("app not connected")

// Credential is a decrypted credential as handed to an adapter.
// Material is the app-specific JSON shape; adapters decode it themselves.
type Credential struct {
	ID        int64
	UserID    int64
	AppID     string
	Kind      string
	Material  json.RawMessage
	Metadata  map[string]string
	CreatedAt time.Time
}

// Decode unmarshals the secret material into v.
func (c *Credential) Decode(v any) error {
	if err := json.Unmarshal(c.Material, v); err != nil {
		return fmt.Errorf("decoding %s credential: %w", c.AppID, err)
	}
	return nil
}

// LogValue keeps secret material out of logs.
func (c *Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("user_id", c.UserID),
		slog.String("app_id", c.AppID),
		slog.String("kind", c.Kind),
	)
}

// Info describes a stored credential without its secret.
type Info struct {
	AppID     string            `json:"app_id"`
	Kind      string            `json:"kind"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Vault stores and fetches encrypted credentials.
type Vault struct {
	store  store.CredentialStore
	cipher *Cipher
	logger *slog.Logger
}

// New creates a Vault sealing with a key derived from encryptionKey.
func New(s store.CredentialStore, encryptionKey string, logger *slog.Logger) *Vault {
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{
		store:  s,
		cipher: NewCipher(encryptionKey),
		logger: logger,
	}
}

// Cipher exposes the vault's sealing key for other at-rest secrets.
func (v *Vault) Cipher() *Cipher {
	return v.cipher
}

// Store seals c.Material and saves it for (userID, c.AppID), superseding any prior credential.
func (v *Vault) Store(ctx context.Context, userID int64, c Credential) (int64, error) {
	if len(c.Material) == 0 {
		return 0, errors.New("credential material is empty")
	}
	sealed, err := Encrypt(c.Material, v.cipher.key)
	if err != nil {
		return 0, fmt.Errorf("sealing credential: %w", err)
	}

	row := &store.Credential{
		UserID:     userID,
		AppID:      c.AppID,
		Kind:       c.Kind,
		Ciphertext: sealed,
		Metadata:   c.Metadata,
	}
	if err := v.store.UpsertCredential(ctx, row); err != nil {
		return 0, err
	}

	v.logger.Info("credential stored", "user_id", userID, "app_id", c.AppID, "kind", c.Kind)
	return row.ID, nil
}

// Fetch returns the decrypted credential for (userID, appID).
// Returns ErrNotConnected if none exists.
func (v *Vault) Fetch(ctx context.Context, userID int64, appID string) (*Credential, error) {
	row, err := v.store.GetCredential(ctx, userID, appID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotConnected
	}
	if err != nil {
		return nil, fmt.Errorf("loading credential: %w", err)
	}

	material, err := Decrypt(row.Ciphertext, v.cipher.key)
	if err != nil {
		v.logger.Error("credential cannot be opened", "user_id", userID, "app_id", appID, "error", err)
		return nil, fmt.Errorf("opening credential: %w", err)
	}

	return &Credential{
		ID:        row.ID,
		UserID:    row.UserID,
		AppID:     row.AppID,
		Kind:      row.Kind,
		Material:  material,
		Metadata:  row.Metadata,
		CreatedAt: row.CreatedAt,
	}, nil
}

// Revoke deletes the credential for (userID, appID).
// Returns ErrNotConnected if there was none.
func (v *Vault) Revoke(ctx context.Context, userID int64, appID string) error {
	err := v.store.DeleteCredential(ctx, userID, appID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotConnected
	}
	if err != nil {
		return err
	}
	v.logger.Info("credential revoked", "user_id", userID, "app_id", appID)
	return nil
}

// List describes every connected app of the user.
func (v *Vault) List(ctx context.Context, userID int64) ([]Info, error) {
	rows, err := v.store.ListCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(rows))
	for _, r := range rows {
		out = append(out, Info{AppID: r.AppID, Kind: r.Kind, Metadata: r.Metadata, CreatedAt: r.CreatedAt})
	}
	return out, nil
}

// Connected reports the set of app ids the user holds credentials for.
func (v *Vault) Connected(ctx context.Context, userID int64) (map[string]bool, error) {
	infos, err := v.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(infos))
	for _, i := range infos {
		set[i.AppID] = true
	}
	return set, nil
}
