// ABOUTME: Tests for the dispatch router including timeouts, cancellation, and concurrency bounds.
// ABOUTME: Uses fake adapters that block or fail on demand.

package packs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolgate/internal/adapters"
)

// setupRouterTest creates a registry holding app and a router over it.
func setupRouterTest(t *testing.T, app *fakeAdapter, cfg RouterConfig) (*Registry, *Router) {
	t.Helper()
	registry := newTestRegistry(t, app)
	cfg.Registry = registry
	cfg.Logger = slog.Default()
	return registry, NewRouter(cfg)
}

func TestRouterDispatch(t *testing.T) {
	t.Run("passes tool name and params to the adapter", func(t *testing.T) {
		var gotTool string
		var gotParams json.RawMessage
		app := &fakeAdapter{id: "echo", defs: []adapters.ToolDef{def("say", "Say something")},
			invoke: func(_ context.Context, tool string, params json.RawMessage) (json.RawMessage, error) {
				gotTool, gotParams = tool, params
				return json.RawMessage(`{"said":"hi"}`), nil
			}}
		registry, router := setupRouterTest(t, app, RouterConfig{})
		tool, err := registry.GetByAppAndName("echo", "say")
		require.NoError(t, err)

		out, err := router.Dispatch(context.Background(), tool, nil, json.RawMessage(`{"text":"hi"}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"said":"hi"}`, string(out))
		assert.Equal(t, "say", gotTool)
		assert.JSONEq(t, `{"text":"hi"}`, string(gotParams))
	})

	t.Run("adapter errors pass through", func(t *testing.T) {
		upstream := &adapters.AdapterError{App: "echo", Status: 500, Message: "boom"}
		app := &fakeAdapter{id: "echo", defs: []adapters.ToolDef{def("say", "Say something")},
			invoke: func(context.Context, string, json.RawMessage) (json.RawMessage, error) {
				return nil, upstream
			}}
		registry, router := setupRouterTest(t, app, RouterConfig{})
		tool, _ := registry.GetByAppAndName("echo", "say")

		_, err := router.Dispatch(context.Background(), tool, nil, nil)
		var aerr *adapters.AdapterError
		require.ErrorAs(t, err, &aerr)
		assert.Equal(t, 500, aerr.Status)
		assert.False(t, errors.Is(err, context.DeadlineExceeded))
	})

	t.Run("unregistered app", func(t *testing.T) {
		_, router := setupRouterTest(t, sourceControlApp(), RouterConfig{})
		_, err := router.Dispatch(context.Background(), &Tool{AppID: "gone", Name: "x"}, nil, nil)
		assert.ErrorIs(t, err, ErrUnknownApp)
	})
}

func blockingApp() *fakeAdapter {
	return &fakeAdapter{id: "slow", defs: []adapters.ToolDef{def("wait", "Wait forever")},
		invoke: func(ctx context.Context, _ string, _ json.RawMessage) (json.RawMessage, error) {
			<-ctx.Done()
			return nil, &adapters.AdapterError{App: "slow", Message: "request aborted", Err: ctx.Err()}
		}}
}

func TestRouterTimeout(t *testing.T) {
	registry, router := setupRouterTest(t, blockingApp(), RouterConfig{Timeout: 50 * time.Millisecond})
	tool, _ := registry.GetByAppAndName("slow", "wait")

	start := time.Now()
	_, err := router.Dispatch(context.Background(), tool, nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRouterToolTimeoutOverridesDefault(t *testing.T) {
	app := blockingApp()
	app.defs[0].Timeout = 20 * time.Millisecond
	registry, router := setupRouterTest(t, app, RouterConfig{Timeout: time.Minute})
	tool, _ := registry.GetByAppAndName("slow", "wait")

	assert.Equal(t, 20*time.Millisecond, router.Timeout(tool))
	_, err := router.Dispatch(context.Background(), tool, nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRouterCancellation(t *testing.T) {
	registry, router := setupRouterTest(t, blockingApp(), RouterConfig{Timeout: time.Minute})
	tool, _ := registry.GetByAppAndName("slow", "wait")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := router.Dispatch(ctx, tool, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRouterIgnoringAdapterStillReportsTimeout(t *testing.T) {
	// An adapter that returns its own error after the deadline still yields a timeout.
	app := &fakeAdapter{id: "slow", defs: []adapters.ToolDef{def("wait", "Wait")},
		invoke: func(ctx context.Context, _ string, _ json.RawMessage) (json.RawMessage, error) {
			<-ctx.Done()
			return nil, errors.New("connection reset")
		}}
	registry, router := setupRouterTest(t, app, RouterConfig{Timeout: 20 * time.Millisecond})
	tool, _ := registry.GetByAppAndName("slow", "wait")

	_, err := router.Dispatch(context.Background(), tool, nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRouterConcurrencyBound(t *testing.T) {
	var current, peak atomic.Int64
	release := make(chan struct{})
	app := &fakeAdapter{id: "busy", defs: []adapters.ToolDef{def("work", "Do work")},
		invoke: func(context.Context, string, json.RawMessage) (json.RawMessage, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			current.Add(-1)
			return json.RawMessage(`{}`), nil
		}}
	registry, router := setupRouterTest(t, app, RouterConfig{MaxConcurrency: 2, Timeout: 5 * time.Second})
	tool, _ := registry.GetByAppAndName("busy", "work")

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := router.Dispatch(context.Background(), tool, nil, nil); err != nil {
				t.Errorf("dispatch failed: %v", err)
			}
		}()
	}

	require.Eventually(t, func() bool { return current.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), router.InFlight())
	close(release)
	wg.Wait()

	assert.Equal(t, int64(2), peak.Load())
	assert.Equal(t, int64(0), router.InFlight())
}

func TestRouterRateLimitRespectsDeadline(t *testing.T) {
	app := &fakeAdapter{id: "limited", defs: []adapters.ToolDef{def("ping", "Ping")}}
	registry, router := setupRouterTest(t, app, RouterConfig{
		Timeout:       50 * time.Millisecond,
		RatePerSecond: 0.1,
		Burst:         1,
	})
	tool, _ := registry.GetByAppAndName("limited", "ping")

	_, err := router.Dispatch(context.Background(), tool, nil, nil)
	require.NoError(t, err, "first call uses the burst")

	_, err = router.Dispatch(context.Background(), tool, nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
