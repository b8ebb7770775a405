// ABOUTME: Tests for audit log store operations
// ABOUTME: Covers Append and List with filtering for the audit_log table

package store

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditStore_Append(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	actor := int64(1)
	entry := &AuditEntry{
		ActorUserID: &actor,
		Action:      AuditDeactivateUser,
		TargetType:  "user",
		TargetID:    "7",
		Detail:      map[string]any{"reason": "left the team"},
	}

	err := store.AppendAuditLog(ctx, entry)
	require.NoError(t, err)

	// Should have generated ID and timestamp
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())
}

func TestAuditStore_List_NoFilter(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, action := range []AuditAction{AuditConnectApp, AuditIssueMCPToken, AuditRevokeMCPToken} {
		entry := &AuditEntry{
			Action:     action,
			TargetType: "user",
			TargetID:   strconv.Itoa(i),
			Timestamp:  base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, store.AppendAuditLog(ctx, entry))
	}

	entries, err := store.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	// Should be newest first
	assert.Equal(t, AuditRevokeMCPToken, entries[0].Action)
	assert.Nil(t, entries[0].ActorUserID, "system actions have no actor")
}

func TestAuditStore_List_Filters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	admin := int64(1)
	other := int64(2)
	require.NoError(t, store.AppendAuditLog(ctx, &AuditEntry{ActorUserID: &admin, Action: AuditUpdateUser, TargetType: "user", TargetID: "5"}))
	require.NoError(t, store.AppendAuditLog(ctx, &AuditEntry{ActorUserID: &other, Action: AuditConnectApp, TargetType: "credential", TargetID: "github"}))
	require.NoError(t, store.AppendAuditLog(ctx, &AuditEntry{ActorUserID: &admin, Action: AuditDeleteUser, TargetType: "user", TargetID: "6"}))

	byActor, err := store.ListAuditLog(ctx, AuditFilter{ActorUserID: &admin})
	require.NoError(t, err)
	assert.Len(t, byActor, 2)

	action := AuditConnectApp
	byAction, err := store.ListAuditLog(ctx, AuditFilter{Action: &action})
	require.NoError(t, err)
	require.Len(t, byAction, 1)
	assert.Equal(t, "github", byAction[0].TargetID)

	targetType, targetID := "user", "6"
	byTarget, err := store.ListAuditLog(ctx, AuditFilter{TargetType: &targetType, TargetID: &targetID})
	require.NoError(t, err)
	require.Len(t, byTarget, 1)
	assert.Equal(t, AuditDeleteUser, byTarget[0].Action)

	limited, err := store.ListAuditLog(ctx, AuditFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestNormalizeAuditLimit(t *testing.T) {
	assert.Equal(t, 100, normalizeAuditLimit(0))
	assert.Equal(t, 1000, normalizeAuditLimit(5000))
	assert.Equal(t, 25, normalizeAuditLimit(25))
}
