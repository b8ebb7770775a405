// ABOUTME: Access Token Service for MCP URLs: issue, return, rotate, revoke, and validate.
// ABOUTME: Raw tokens are never stored; lookups go by SHA-256 and the owner's copy is sealed.

package mcp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/toolgate/internal/auth"
	"github.com/2389/toolgate/internal/dedupe"
	"github.com/2389/toolgate/internal/store"
	"github.com/2389/toolgate/internal/vault"
)

// tokenBytes is the amount of randomness in a raw token.
const tokenBytes = 32

// prefixLen is how much of a token may appear in logs and listings.
const prefixLen = 8

// Issued is an MCP token as shown to its owner.
type Issued struct {
	Token     string
	TokenID   string
	Prefix    string
	IssuedAt  time.Time
	ExpiresAt *time.Time
}

// TokenServiceConfig wires a TokenService.
type TokenServiceConfig struct {
	Tokens        store.TokenStore
	Audit         store.AuditStore // optional
	Cipher        *vault.Cipher
	TTL           time.Duration // zero disables expiry
	TouchInterval time.Duration
	Logger        *slog.Logger
}

// TokenService manages MCP access tokens. It implements auth.MCPTokenValidator.
type TokenService struct {
	tokens  store.TokenStore
	audit   store.AuditStore
	cipher  *vault.Cipher
	ttl     time.Duration
	touches *dedupe.Cache
	logger  *slog.Logger
	now     func() time.Time

	locks sync.Map // user id -> *sync.Mutex
}

var _ auth.MCPTokenValidator = (*TokenService)(nil)

// NewTokenService creates a TokenService.
func NewTokenService(cfg TokenServiceConfig) *TokenService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.TouchInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &TokenService{
		tokens:  cfg.Tokens,
		audit:   cfg.Audit,
		cipher:  cfg.Cipher,
		ttl:     cfg.TTL,
		touches: dedupe.New(interval, 10000),
		logger:  logger,
		now:     time.Now,
	}
}

// Close stops background work.
func (s *TokenService) Close() {
	s.touches.Close()
}

func (s *TokenService) userLock(userID int64) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// HashToken returns the lookup key stored for raw.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Prefix returns the loggable part of a token.
func Prefix(raw string) string {
	if len(raw) <= prefixLen {
		return raw
	}
	return raw[:prefixLen]
}

func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Current returns the user's live token, issuing one if there is none or
// the existing one expired.
func (s *TokenService) Current(ctx context.Context, userID int64) (*Issued, error) {
	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := s.tokens.GetActiveMCPToken(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("loading mcp token: %w", err)
	case !existing.Expired(s.now()):
		raw, err := s.cipher.Open(existing.Ciphertext)
		if err == nil {
			return issuedFrom(existing, raw), nil
		}
		s.logger.Warn("stored mcp token cannot be opened; rotating",
			"user_id", userID,
			"token_prefix", existing.TokenPrefix,
			"error", err,
		)
	}
	return s.rotateLocked(ctx, userID)
}

// Regenerate issues a new token and revokes the previous one atomically.
func (s *TokenService) Regenerate(ctx context.Context, userID int64) (*Issued, error) {
	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()
	return s.rotateLocked(ctx, userID)
}

func (s *TokenService) rotateLocked(ctx context.Context, userID int64) (*Issued, error) {
	raw, err := generateToken()
	if err != nil {
		return nil, err
	}
	sealed, err := s.cipher.Seal(raw)
	if err != nil {
		return nil, fmt.Errorf("sealing mcp token: %w", err)
	}

	now := s.now().UTC()
	t := &store.MCPToken{
		UserID:      userID,
		TokenHash:   HashToken(raw),
		TokenPrefix: Prefix(raw),
		Ciphertext:  sealed,
		IssuedAt:    now,
	}
	if s.ttl > 0 {
		exp := now.Add(s.ttl)
		t.ExpiresAt = &exp
	}

	revoked, err := s.tokens.RotateMCPToken(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("rotating mcp token: %w", err)
	}

	s.logger.Info("mcp token issued",
		"user_id", userID,
		"token_id", t.ID,
		"token_prefix", t.TokenPrefix,
		"revoked_previous", revoked,
	)
	s.recordAudit(ctx, userID, store.AuditIssueMCPToken, t.ID, map[string]any{"revoked_previous": revoked})
	return issuedFrom(t, raw), nil
}

// Revoke revokes every live token of the user without issuing a new one.
// Returns the number revoked.
func (s *TokenService) Revoke(ctx context.Context, userID int64) (int, error) {
	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	n, err := s.tokens.RevokeUserMCPTokens(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoking mcp tokens: %w", err)
	}
	if n > 0 {
		s.logger.Info("mcp tokens revoked", "user_id", userID, "count", n)
		s.recordAudit(ctx, userID, store.AuditRevokeMCPToken, "", map[string]any{"count": n})
	}
	return n, nil
}

// RevokeByID revokes one token. Revoking an already revoked token is a no-op.
func (s *TokenService) RevokeByID(ctx context.Context, tokenID string) error {
	if err := s.tokens.RevokeMCPToken(ctx, tokenID); err != nil {
		return err
	}
	s.touches.Forget(tokenID)
	return nil
}

// ValidateToken resolves raw to its owner. It fails with auth.ErrInvalidToken,
// auth.ErrRevokedToken or auth.ErrExpiredToken.
func (s *TokenService) ValidateToken(ctx context.Context, raw string) (int64, string, error) {
	if raw == "" {
		return 0, "", auth.ErrInvalidToken
	}
	t, err := s.tokens.GetMCPTokenByHash(ctx, HashToken(raw))
	if errors.Is(err, store.ErrNotFound) {
		return 0, "", auth.ErrInvalidToken
	}
	if err != nil {
		return 0, "", fmt.Errorf("loading mcp token: %w", err)
	}

	now := s.now()
	if t.Revoked() {
		return 0, "", auth.ErrRevokedToken
	}
	if t.Expired(now) {
		return 0, "", auth.ErrExpiredToken
	}

	if s.touches.Allow(t.ID) {
		if err := s.tokens.TouchMCPToken(context.WithoutCancel(ctx), t.ID, now.UTC()); err != nil {
			s.logger.Warn("failed to record mcp token use", "token_prefix", t.TokenPrefix, "error", err)
		}
	}
	return t.UserID, t.ID, nil
}

func (s *TokenService) recordAudit(ctx context.Context, userID int64, action store.AuditAction, tokenID string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	actor := userID
	err := s.audit.AppendAuditLog(context.WithoutCancel(ctx), &store.AuditEntry{
		ActorUserID: &actor,
		Action:      action,
		TargetType:  "mcp_token",
		TargetID:    tokenID,
		Detail:      detail,
	})
	if err != nil {
		s.logger.Warn("failed to write audit entry", "action", action, "error", err)
	}
}

func issuedFrom(t *store.MCPToken, raw string) *Issued {
	return &Issued{
		Token:     raw,
		TokenID:   t.ID,
		Prefix:    t.TokenPrefix,
		IssuedAt:  t.IssuedAt,
		ExpiresAt: t.ExpiresAt,
	}
}
