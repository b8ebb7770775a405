// ABOUTME: Dispatches tool calls to the owning app adapter.
// ABOUTME: Applies the per-call timeout, a per-app concurrency bound, and an optional per-app rate limit.

package packs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/2389/toolgate/internal/vault"
)

// DefaultTimeout is the default timeout for tool execution.
const DefaultTimeout = 30 * time.Second

// DefaultMaxConcurrency bounds in-flight calls per app when unset.
const DefaultMaxConcurrency = 8

// Router routes tool calls to the adapter that owns them.
type Router struct {
	registry *Registry
	logger   *slog.Logger
	timeout  time.Duration

	maxConcurrency int64
	ratePerSecond  float64
	burst          int

	mu    sync.Mutex
	lanes map[string]*lane

	inFlight atomic.Int64
}

// lane holds the per-app limits.
type lane struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter // nil when unlimited
}

// RouterConfig contains configuration options for the Router.
type RouterConfig struct {
	Registry       *Registry
	Logger         *slog.Logger
	Timeout        time.Duration
	MaxConcurrency int64   // per app
	RatePerSecond  float64 // per app; 0 disables rate limiting
	Burst          int     // defaults to MaxConcurrency
}

// NewRouter creates a new Router with the given configuration.
func NewRouter(cfg RouterConfig) *Router {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	maxc := cfg.MaxConcurrency
	if maxc <= 0 {
		maxc = DefaultMaxConcurrency
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(maxc)
	}

	return &Router{
		registry:       cfg.Registry,
		logger:         cfg.Logger,
		timeout:        timeout,
		maxConcurrency: maxc,
		ratePerSecond:  cfg.RatePerSecond,
		burst:          burst,
		lanes:          make(map[string]*lane),
	}
}

func (r *Router) lane(appID string) *lane {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.lanes[appID]
	if !ok {
		l = &lane{sem: semaphore.NewWeighted(r.maxConcurrency)}
		if r.ratePerSecond > 0 {
			l.limiter = rate.NewLimiter(rate.Limit(r.ratePerSecond), r.burst)
		}
		r.lanes[appID] = l
	}
	return l
}

// Timeout returns the timeout that applies to calls of tool.
func (r *Router) Timeout(tool *Tool) time.Duration {
	if tool.Timeout > 0 {
		return tool.Timeout
	}
	return r.timeout
}

// Dispatch invokes tool on its adapter. When the call fails because the
// timeout expired or ctx was cancelled, the returned error wraps
// context.DeadlineExceeded or context.Canceled respectively.
func (r *Router) Dispatch(ctx context.Context, tool *Tool, cred *vault.Credential, params json.RawMessage) (json.RawMessage, error) {
	app, err := r.registry.App(tool.AppID)
	if err != nil {
		return nil, err
	}

	timeout := r.Timeout(tool)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	l := r.lane(tool.AppID)
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for %s slot: %w", tool.AppID, ctx.Err())
	}
	defer l.sem.Release(1)

	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			// Wait fails early when the next token lands past the deadline.
			cause := ctx.Err()
			if cause == nil {
				cause = context.DeadlineExceeded
			}
			return nil, fmt.Errorf("waiting for %s rate limit: %w", tool.AppID, cause)
		}
	}

	r.inFlight.Add(1)
	defer r.inFlight.Add(-1)

	r.logger.Debug("→ dispatching to adapter",
		"app_id", tool.AppID,
		"tool_name", tool.Name,
		"timeout", timeout,
	)
	start := time.Now()
	out, err := app.Adapter.Invoke(ctx, tool.Name, cred, params)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		r.logger.Warn("adapter call failed",
			"app_id", tool.AppID,
			"tool_name", tool.Name,
			"duration", time.Since(start),
			"error", err,
		)
		return nil, err
	}

	r.logger.Debug("← adapter responded",
		"app_id", tool.AppID,
		"tool_name", tool.Name,
		"duration", time.Since(start),
	)
	return out, nil
}

// InFlight returns the number of adapter calls currently running.
func (r *Router) InFlight() int64 {
	return r.inFlight.Load()
}
