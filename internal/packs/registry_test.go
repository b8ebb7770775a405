// ABOUTME: Tests for the tool registry
// ABOUTME: Covers lookups, id stability, re-registration, and concurrent reads during swaps

package packs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolgate/internal/adapters"
	"github.com/2389/toolgate/internal/store"
)

func TestRegistry_RoundTrip(t *testing.T) {
	gh := sourceControlApp()
	r := newTestRegistry(t, gh)

	for _, d := range gh.defs {
		got, err := r.GetByAppAndName("github", d.Name)
		require.NoError(t, err)
		assert.Equal(t, d.Name, got.Name)
		assert.Equal(t, d.InputSchema, got.InputSchema)
		assert.Equal(t, d.Description, got.Description)

		byID, err := r.GetByID(got.ID)
		require.NoError(t, err)
		assert.Same(t, got, byID)
	}
}

func TestRegistry_NotFound(t *testing.T) {
	r := newTestRegistry(t, sourceControlApp())

	_, err := r.GetByAppAndName("github", "delete_everything")
	assert.ErrorIs(t, err, ErrToolNotFound)

	_, err = r.GetByAppAndName("jira", "list_issues")
	assert.ErrorIs(t, err, ErrUnknownApp)

	_, err = r.GetByID(999)
	assert.ErrorIs(t, err, ErrToolNotFound)

	_, err = r.ListByApp("jira")
	assert.ErrorIs(t, err, ErrUnknownApp)
}

func TestRegistry_ListOrdering(t *testing.T) {
	r := newTestRegistry(t, sourceControlApp(), messagingApp())

	all := r.List()
	require.Len(t, all, 7)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}

	slack, err := r.ListByApp("slack")
	require.NoError(t, err)
	names := make([]string, 0, len(slack))
	for _, tool := range slack {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"get_channel_history", "list_channels", "post_message", "reply_to_thread"}, names)

	apps := r.Apps()
	require.Len(t, apps, 2)
	assert.Equal(t, "github", apps[0].Info.ID)
}

func TestRegistry_ReregisterReplacesToolSet(t *testing.T) {
	r := newTestRegistry(t, sourceControlApp())
	before, err := r.GetByAppAndName("github", "list_issues")
	require.NoError(t, err)

	v2 := &fakeAdapter{id: "github", defs: []adapters.ToolDef{
		def("list_issues", "List open issues"),
		def("close_issue", "Close an issue"),
	}}
	require.NoError(t, r.Register(context.Background(), v2))

	after, err := r.GetByAppAndName("github", "list_issues")
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID, "ids are stable across re-registration")
	assert.Equal(t, "List open issues", after.Description)

	_, err = r.GetByAppAndName("github", "create_issue")
	assert.ErrorIs(t, err, ErrToolNotFound)
	assert.Len(t, r.List(), 2)
}

func TestRegistry_Unregister(t *testing.T) {
	r := newTestRegistry(t, sourceControlApp(), messagingApp())
	r.Unregister("slack")
	r.Unregister("slack")

	_, err := r.App("slack")
	assert.ErrorIs(t, err, ErrUnknownApp)
	assert.Len(t, r.List(), 3)
}

func TestRegistry_EmptyAppID(t *testing.T) {
	r := NewRegistry(nil, slog.Default())
	err := r.Register(context.Background(), &fakeAdapter{})
	assert.Error(t, err)
}

type failingIDs struct{}

func (failingIDs) EnsureToolIDs(context.Context, string, []string) (map[string]int64, error) {
	return nil, errors.New("db down")
}

func TestRegistry_AllocatorFailureKeepsSnapshot(t *testing.T) {
	r := NewRegistry(failingIDs{}, slog.Default())
	err := r.Register(context.Background(), sourceControlApp())
	require.Error(t, err)
	assert.Empty(t, r.Apps())
}

func TestRegistry_PersistentIDs(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	first := NewRegistry(s, slog.Default())
	require.NoError(t, first.Register(context.Background(), sourceControlApp()))
	want, err := first.GetByAppAndName("github", "create_issue")
	require.NoError(t, err)

	second := NewRegistry(s, slog.Default())
	require.NoError(t, second.Register(context.Background(), sourceControlApp()))
	got, err := second.GetByAppAndName("github", "create_issue")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
}

func TestRegistry_ConcurrentReadsDuringRegister(t *testing.T) {
	r := newTestRegistry(t, sourceControlApp(), messagingApp())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				tools, err := r.ListByApp("slack")
				if err != nil {
					t.Errorf("slack disappeared during re-registration: %v", err)
					return
				}
				if len(tools) != 4 {
					t.Errorf("observed partial tool set: %d tools", len(tools))
					return
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		if err := r.Register(context.Background(), messagingApp()); err != nil {
			t.Fatalf("re-register failed: %v", err)
		}
	}
	close(stop)
	wg.Wait()
}

func TestTool_QualifiedName(t *testing.T) {
	tool := &Tool{AppID: "slack", Name: "post_message"}
	assert.Equal(t, "slack.post_message", tool.QualifiedName())
}
