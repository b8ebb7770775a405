// ABOUTME: Tests for execution log persistence and ratings
// ABOUTME: Covers append, ownership checks, listing filters, rating overwrite, and stats

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionLogStore_AppendAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, store, "exec@example.com")
	ids, err := store.EnsureToolIDs(ctx, "github", []string{"get_user"})
	require.NoError(t, err)
	toolID := ids["get_user"]

	l := &ExecutionLog{
		UserID:         u.ID,
		ToolID:         &toolID,
		AppID:          "github",
		ToolName:       "get_user",
		RequestPayload: `{"username":"octocat"}`,
		ResultPayload:  `{"login":"octocat"}`,
		Outcome:        OutcomeSuccess,
		UpstreamStatus: 200,
		Duration:       1500 * time.Millisecond,
	}
	require.NoError(t, store.AppendExecutionLog(ctx, l))
	assert.NotZero(t, l.ID)

	got, err := store.GetExecutionLog(ctx, u.ID, l.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ToolID)
	assert.Equal(t, toolID, *got.ToolID)
	assert.Equal(t, `{"login":"octocat"}`, got.ResultPayload)
	assert.Equal(t, OutcomeSuccess, got.Outcome)
	assert.Equal(t, 200, got.UpstreamStatus)
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
	assert.Nil(t, got.Rating)
}

func TestExecutionLogStore_UnresolvedToolHasNoToolID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, store, "unknown-tool@example.com")

	l := &ExecutionLog{UserID: u.ID, AppID: "github", ToolName: "nope", Outcome: OutcomeUnknownTool, ErrorMessage: "unknown tool"}
	require.NoError(t, store.AppendExecutionLog(ctx, l))

	got, err := store.GetExecutionLog(ctx, u.ID, l.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ToolID)
	assert.Equal(t, "{}", got.RequestPayload)
	assert.Equal(t, "unknown tool", got.ErrorMessage)
}

func TestExecutionLogStore_OtherUsersLogIsNotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	owner := createTestUser(t, store, "owner@example.com")
	other := createTestUser(t, store, "other@example.com")

	l := &ExecutionLog{UserID: owner.ID, AppID: "slack", ToolName: "post_message", Outcome: OutcomeSuccess}
	require.NoError(t, store.AppendExecutionLog(ctx, l))

	_, err := store.GetExecutionLog(ctx, other.ID, l.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.RateExecutionLog(ctx, other.ID, l.ID, 5), ErrNotFound)
}

func TestExecutionLogStore_RateOverwrites(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, store, "rate@example.com")

	l := &ExecutionLog{UserID: u.ID, AppID: "slack", ToolName: "post_message", Outcome: OutcomeSuccess}
	require.NoError(t, store.AppendExecutionLog(ctx, l))

	require.NoError(t, store.RateExecutionLog(ctx, u.ID, l.ID, 2))
	require.NoError(t, store.RateExecutionLog(ctx, u.ID, l.ID, 4))
	require.NoError(t, store.RateExecutionLog(ctx, u.ID, l.ID, 4))

	got, err := store.GetExecutionLog(ctx, u.ID, l.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Rating)
	assert.Equal(t, 4, *got.Rating)
	assert.NotNil(t, got.RatedAt)
	assert.Equal(t, OutcomeSuccess, got.Outcome, "rating leaves the record untouched")

	assert.ErrorIs(t, store.RateExecutionLog(ctx, u.ID, 9999, 3), ErrNotFound)
}

func TestExecutionLogStore_RatingOutOfRangeRejected(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, store, "range@example.com")

	l := &ExecutionLog{UserID: u.ID, AppID: "slack", ToolName: "post_message", Outcome: OutcomeSuccess}
	require.NoError(t, store.AppendExecutionLog(ctx, l))

	assert.Error(t, store.RateExecutionLog(ctx, u.ID, l.ID, 6))
}

func TestExecutionLogStore_ListAndStats(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, store, "list@example.com")
	ids, err := store.EnsureToolIDs(ctx, "slack", []string{"post_message", "add_reaction"})
	require.NoError(t, err)
	post, react := ids["post_message"], ids["add_reaction"]

	entries := []*ExecutionLog{
		{UserID: u.ID, ToolID: &post, AppID: "slack", ToolName: "post_message", Outcome: OutcomeSuccess},
		{UserID: u.ID, ToolID: &react, AppID: "slack", ToolName: "add_reaction", Outcome: OutcomeAdapterError},
		{UserID: u.ID, ToolID: &post, AppID: "slack", ToolName: "post_message", Outcome: OutcomeTimeout},
	}
	for _, l := range entries {
		require.NoError(t, store.AppendExecutionLog(ctx, l))
	}

	logs, err := store.ListExecutionLogs(ctx, u.ID, ExecutionLogFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, entries[2].ID, logs[0].ID, "newest first")

	logs, err = store.ListExecutionLogs(ctx, u.ID, ExecutionLogFilter{ToolID: &post, Limit: 1})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, OutcomeTimeout, logs[0].Outcome)

	st, err := store.ExecutionStats(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.Failures)
}
