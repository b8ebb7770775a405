// ABOUTME: Tests for the execution service against a real SQLite store and vault
// ABOUTME: Covers check ordering, terminal logging for every outcome, and rating rules

package execution

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolgate/internal/adapters"
	"github.com/2389/toolgate/internal/packs"
	"github.com/2389/toolgate/internal/store"
	"github.com/2389/toolgate/internal/vault"
)

// testApp is a source-control style app whose handlers tests can swap.
type testApp struct {
	*adapters.Toolset
	list func(ctx context.Context) (any, error)
}

func newTestApp() *testApp {
	a := &testApp{list: func(context.Context) (any, error) {
		return map[string]any{"repositories": []string{"octo/hello"}}, nil
	}}
	a.Toolset = adapters.NewToolset("github",
		adapters.Tool{
			Def: adapters.ToolDef{
				Name:         "list_repositories",
				Description:  "List repositories",
				InputSchema:  adapters.Object(nil),
				RequiresAuth: true,
			},
			Handler: func(ctx context.Context, _ *vault.Credential, _ map[string]any) (any, error) {
				return a.list(ctx)
			},
		},
		adapters.Tool{
			Def: adapters.ToolDef{
				Name:        "create_issue",
				Description: "Create an issue",
				InputSchema: adapters.Object(map[string]adapters.Property{
					"title": adapters.Str("Issue title"),
				}, "title"),
				RequiresAuth: true,
			},
			Handler: func(_ context.Context, _ *vault.Credential, args map[string]any) (any, error) {
				return map[string]any{"title": args["title"]}, nil
			},
		},
		adapters.Tool{
			Def: adapters.ToolDef{
				Name:        "zen",
				Description: "Public wisdom",
				InputSchema: adapters.Object(nil),
			},
			Handler: func(context.Context, *vault.Credential, map[string]any) (any, error) {
				return "keep it simple", nil
			},
		},
	)
	return a
}

func (a *testApp) Info() adapters.AppInfo { return adapters.AppInfo{ID: "github", Name: "GitHub"} }

func (a *testApp) ParseCredential(body json.RawMessage) (vault.Credential, error) {
	return vault.Credential{AppID: "github", Kind: "oauth", Material: body}, nil
}

func (a *testApp) Verify(context.Context, *vault.Credential) error { return nil }

type fixture struct {
	svc   *Service
	store *store.SQLiteStore
	vault *vault.Vault
	reg   *packs.Registry
	app   *testApp
	user  int64
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "exec.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	logger := slog.Default()
	reg := packs.NewRegistry(s, logger)
	app := newTestApp()
	require.NoError(t, reg.Register(context.Background(), app))

	v := vault.New(s, "test-encryption-key", logger)
	u := &store.User{Email: "dev@example.com", PasswordHash: "x", IsActive: true}
	require.NoError(t, s.CreateUser(context.Background(), u))

	svc := NewService(Config{
		Registry:    reg,
		Router:      packs.NewRouter(packs.RouterConfig{Registry: reg, Logger: logger, Timeout: timeout}),
		Credentials: v,
		Enablements: s,
		Logs:        s,
		Logger:      logger,
	})
	return &fixture{svc: svc, store: s, vault: v, reg: reg, app: app, user: u.ID}
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()
	_, err := f.vault.Store(context.Background(), f.user, vault.Credential{AppID: "github", Kind: "oauth", Material: json.RawMessage(`{"access_token":"gho_x"}`)})
	require.NoError(t, err)
}

func (f *fixture) enable(t *testing.T, name string, on bool) {
	t.Helper()
	tool, err := f.reg.GetByAppAndName("github", name)
	require.NoError(t, err)
	require.NoError(t, f.store.SetToolEnablement(context.Background(), f.user, tool.ID, on))
}

func (f *fixture) logs(t *testing.T) []*store.ExecutionLog {
	t.Helper()
	logs, err := f.store.ListExecutionLogs(context.Background(), f.user, store.ExecutionLogFilter{})
	require.NoError(t, err)
	return logs
}

func requireKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, kind, e.Kind, e.Message)
	return e
}

func TestExecute_Success(t *testing.T) {
	f := newFixture(t, time.Second)
	f.connect(t)
	f.enable(t, "list_repositories", true)

	res, err := f.svc.ExecuteByDescriptor(context.Background(), f.user, "github", "list_repositories", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"repositories":["octo/hello"]}`, string(res.Output))
	assert.NotZero(t, res.LogID)

	logs := f.logs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, store.OutcomeSuccess, logs[0].Outcome)
	assert.Equal(t, res.LogID, logs[0].ID)
	assert.JSONEq(t, string(res.Output), logs[0].ResultPayload)
	assert.NotContains(t, logs[0].RequestPayload, "gho_x")
	assert.NotContains(t, logs[0].ResultPayload, "gho_x")
}

func TestExecute_NotConnectedRegardlessOfEnablement(t *testing.T) {
	for _, enabled := range []bool{true, false} {
		f := newFixture(t, time.Second)
		f.enable(t, "list_repositories", enabled)

		_, err := f.svc.ExecuteByDescriptor(context.Background(), f.user, "github", "list_repositories", nil)
		e := requireKind(t, err, KindNotConnected)
		assert.Equal(t, 404, e.Status())
		assert.True(t, errors.Is(err, vault.ErrNotConnected))

		logs := f.logs(t)
		require.Len(t, logs, 1)
		assert.Equal(t, store.OutcomeNotConnected, logs[0].Outcome)
	}
}

func TestExecute_DisabledTool(t *testing.T) {
	f := newFixture(t, time.Second)
	f.connect(t)

	_, err := f.svc.ExecuteByDescriptor(context.Background(), f.user, "github", "list_repositories", json.RawMessage(`{}`))
	e := requireKind(t, err, KindToolDisabled)
	assert.Equal(t, 403, e.Status())
	assert.NotZero(t, e.LogID)

	for _, l := range f.logs(t) {
		assert.NotEqual(t, store.OutcomeSuccess, l.Outcome)
	}
}

func TestExecute_BuiltinToolsSkipEnablement(t *testing.T) {
	f := newFixture(t, time.Second)
	require.NoError(t, f.reg.Register(context.Background(), packs.NewBuiltinAdapter(f.reg)))

	res, err := f.svc.ExecuteByDescriptor(context.Background(), f.user, packs.BuiltinAppID, "guess_tools",
		json.RawMessage(`{"description":"list repositories"}`))
	require.NoError(t, err)
	assert.Contains(t, string(res.Output), "list_repositories")

	logs := f.logs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, store.OutcomeSuccess, logs[0].Outcome)
	assert.Equal(t, packs.BuiltinAppID, logs[0].AppID)

	// Disabling does not apply to always-enabled tools.
	guess, err := f.reg.GetByAppAndName(packs.BuiltinAppID, "guess_tools")
	require.NoError(t, err)
	require.NoError(t, f.store.SetToolEnablement(context.Background(), f.user, guess.ID, false))
	_, err = f.svc.ExecuteByID(context.Background(), f.user, guess.ID, json.RawMessage(`{"description":"issues"}`))
	assert.NoError(t, err)
}

func TestExecute_NoAuthToolSkipsCredential(t *testing.T) {
	f := newFixture(t, time.Second)
	f.enable(t, "zen", true)

	res, err := f.svc.ExecuteByDescriptor(context.Background(), f.user, "github", "zen", nil)
	require.NoError(t, err)
	assert.Equal(t, `"keep it simple"`, string(res.Output))
}

func TestExecute_UnknownTool(t *testing.T) {
	f := newFixture(t, time.Second)

	_, err := f.svc.ExecuteByDescriptor(context.Background(), f.user, "github", "delete_repo", nil)
	requireKind(t, err, KindUnknownTool)

	_, err = f.svc.ExecuteByDescriptor(context.Background(), f.user, "jira", "list", nil)
	requireKind(t, err, KindUnknownTool)

	_, err = f.svc.ExecuteByID(context.Background(), f.user, 424242, nil)
	requireKind(t, err, KindUnknownTool)

	logs := f.logs(t)
	require.Len(t, logs, 3)
	for _, l := range logs {
		assert.Nil(t, l.ToolID)
		assert.Equal(t, store.OutcomeUnknownTool, l.Outcome)
	}
	assert.Equal(t, "#424242", logs[0].ToolName)
}

func TestExecute_ByID(t *testing.T) {
	f := newFixture(t, time.Second)
	f.connect(t)
	f.enable(t, "create_issue", true)
	tool, err := f.reg.GetByAppAndName("github", "create_issue")
	require.NoError(t, err)

	res, err := f.svc.ExecuteByID(context.Background(), f.user, tool.ID, json.RawMessage(`{"title":"bug"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"bug"}`, string(res.Output))

	logs := f.logs(t)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].ToolID)
	assert.Equal(t, tool.ID, *logs[0].ToolID)
	assert.Equal(t, "create_issue", logs[0].ToolName)
}

func TestExecute_ValidationError(t *testing.T) {
	f := newFixture(t, time.Second)
	f.connect(t)
	f.enable(t, "create_issue", true)

	_, err := f.svc.ExecuteByDescriptor(context.Background(), f.user, "github", "create_issue", json.RawMessage(`{}`))
	e := requireKind(t, err, KindValidation)
	assert.Equal(t, 422, e.Status())
	require.Len(t, e.Fields, 1)
	assert.Equal(t, "title", e.Fields[0].Field)
	assert.Equal(t, store.OutcomeValidation, f.logs(t)[0].Outcome)
}

func TestExecute_AdapterError(t *testing.T) {
	f := newFixture(t, time.Second)
	f.connect(t)
	f.enable(t, "list_repositories", true)
	f.app.list = func(context.Context) (any, error) {
		return nil, &adapters.AdapterError{App: "github", Status: 401, Message: "Bad credentials"}
	}

	_, err := f.svc.ExecuteByDescriptor(context.Background(), f.user, "github", "list_repositories", nil)
	e := requireKind(t, err, KindAdapter)
	assert.Equal(t, 502, e.Status())
	assert.Equal(t, 401, e.UpstreamStatus)

	l := f.logs(t)[0]
	assert.Equal(t, store.OutcomeAdapterError, l.Outcome)
	assert.Equal(t, 401, l.UpstreamStatus)
	assert.Contains(t, l.ErrorMessage, "Bad credentials")
}

func TestExecute_Timeout(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	f.connect(t)
	f.enable(t, "list_repositories", true)
	f.app.list = func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := f.svc.ExecuteByDescriptor(context.Background(), f.user, "github", "list_repositories", nil)
	e := requireKind(t, err, KindTimeout)
	assert.Equal(t, 504, e.Status())
	assert.Equal(t, store.OutcomeTimeout, f.logs(t)[0].Outcome)
}

func TestExecute_CallerCancellationIsLogged(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.connect(t)
	f.enable(t, "list_repositories", true)
	started := make(chan struct{})
	f.app.list = func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := f.svc.ExecuteByDescriptor(ctx, f.user, "github", "list_repositories", nil)
	e := requireKind(t, err, KindCancelled)
	assert.NotZero(t, e.LogID, "log is written after the caller is gone")
	assert.Equal(t, store.OutcomeCancelled, f.logs(t)[0].Outcome)
}

func TestRate(t *testing.T) {
	f := newFixture(t, time.Second)
	f.enable(t, "zen", true)
	res, err := f.svc.ExecuteByDescriptor(context.Background(), f.user, "github", "zen", nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.Rate(context.Background(), f.user, res.LogID, 2))
	require.NoError(t, f.svc.Rate(context.Background(), f.user, res.LogID, 5))

	l, err := f.svc.Log(context.Background(), f.user, res.LogID)
	require.NoError(t, err)
	require.NotNil(t, l.Rating)
	assert.Equal(t, 5, *l.Rating)
	assert.Len(t, f.logs(t), 1, "rating never adds a row")

	requireKind(t, f.svc.Rate(context.Background(), f.user, res.LogID, 0), KindValidation)
	requireKind(t, f.svc.Rate(context.Background(), f.user, res.LogID, 6), KindValidation)
	requireKind(t, f.svc.Rate(context.Background(), f.user, 9999, 3), KindNotFound)

	other := &store.User{Email: "other@example.com", PasswordHash: "x", IsActive: true}
	require.NoError(t, f.store.CreateUser(context.Background(), other))
	requireKind(t, f.svc.Rate(context.Background(), other.ID, res.LogID, 1), KindNotFound)
	_, err = f.svc.Log(context.Background(), other.ID, res.LogID)
	requireKind(t, err, KindNotFound)
}

func TestRate_Concurrent(t *testing.T) {
	f := newFixture(t, time.Second)
	f.enable(t, "zen", true)
	res, err := f.svc.ExecuteByDescriptor(context.Background(), f.user, "github", "zen", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for r := 1; r <= 5; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			if err := f.svc.Rate(context.Background(), f.user, res.LogID, r); err != nil {
				t.Errorf("rate %d: %v", r, err)
			}
		}(r)
	}
	wg.Wait()

	l, err := f.svc.Log(context.Background(), f.user, res.LogID)
	require.NoError(t, err)
	require.NotNil(t, l.Rating)
	assert.GreaterOrEqual(t, *l.Rating, 1)
	assert.LessOrEqual(t, *l.Rating, 5)
	assert.Len(t, f.logs(t), 1)
}

func TestCounters(t *testing.T) {
	f := newFixture(t, time.Second)
	f.enable(t, "zen", true)

	_, _ = f.svc.ExecuteByDescriptor(context.Background(), f.user, "github", "zen", nil)
	_, _ = f.svc.ExecuteByDescriptor(context.Background(), f.user, "github", "missing", nil)

	c := f.svc.Counters()
	assert.Equal(t, int64(2), c.Executions)
	assert.Equal(t, int64(1), c.Failures)
}
