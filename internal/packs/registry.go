// ABOUTME: Thread-safe catalog of apps and the tools their adapters contribute.
// ABOUTME: Readers see immutable snapshots; registration swaps in a new one.

package packs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/toolgate/internal/adapters"
)

// ErrUnknownApp indicates no adapter is registered under the app id.
var ErrUnknownApp = errors.New("unknown app")

// ErrToolNotFound indicates the requested tool is not registered.
var ErrToolNotFound = errors.New("tool not found")

// Tool is a registered tool with its surrogate id.
type Tool struct {
	ID            int64           `json:"id"`
	AppID         string          `json:"app_id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	InputSchema   adapters.Schema `json:"input_schema"`
	RequiresAuth  bool            `json:"requires_auth"`
	AlwaysEnabled bool            `json:"always_enabled"`
	Timeout       time.Duration   `json:"-"`

	terms termSet
}

// EnabledIn reports whether the tool is usable given a user's enabled tool ids.
func (t *Tool) EnabledIn(enabled map[int64]bool) bool {
	return t.AlwaysEnabled || enabled[t.ID]
}

// QualifiedName is the app-prefixed name used on the MCP surface.
func (t *Tool) QualifiedName() string {
	return t.AppID + "." + t.Name
}

// App is a registered adapter and its tools, sorted by name.
type App struct {
	Info    adapters.AppInfo
	Adapter adapters.Adapter
	Tools   []*Tool

	byName map[string]*Tool
}

// snapshot is never mutated after it is published.
type snapshot struct {
	apps  map[string]*App
	byID  map[int64]*Tool
	tools []*Tool // sorted by id
}

// IDAllocator hands out stable numeric ids for (app, tool name) pairs.
type IDAllocator interface {
	EnsureToolIDs(ctx context.Context, appID string, names []string) (map[string]int64, error)
}

// Registry maintains the registered apps and their tools.
type Registry struct {
	mu     sync.Mutex // serializes writers
	snap   atomic.Pointer[snapshot]
	ids    IDAllocator
	logger *slog.Logger
}

// NewRegistry creates an empty Registry. A nil allocator numbers tools in memory.
func NewRegistry(ids IDAllocator, logger *slog.Logger) *Registry {
	if ids == nil {
		ids = &memoryIDs{next: 1, ids: make(map[string]int64)}
	}
	r := &Registry{ids: ids, logger: logger}
	r.snap.Store(&snapshot{apps: map[string]*App{}, byID: map[int64]*Tool{}})
	return r
}

// Register adds an adapter's tools. Registering the same app id again
// replaces that app's tool set.
func (r *Registry) Register(ctx context.Context, adapter adapters.Adapter) error {
	info := adapter.Info()
	if info.ID == "" {
		return errors.New("adapter has empty app id")
	}
	defs := adapter.Tools()

	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ids, err := r.ids.EnsureToolIDs(ctx, info.ID, names)
	if err != nil {
		return fmt.Errorf("allocating tool ids for %s: %w", info.ID, err)
	}

	app := &App{Info: info, Adapter: adapter, byName: make(map[string]*Tool, len(defs))}
	for _, d := range defs {
		id, ok := ids[d.Name]
		if !ok {
			return fmt.Errorf("no id allocated for %s.%s", info.ID, d.Name)
		}
		t := &Tool{
			ID:            id,
			AppID:         info.ID,
			Name:          d.Name,
			Description:   d.Description,
			InputSchema:   d.InputSchema,
			RequiresAuth:  d.RequiresAuth,
			AlwaysEnabled: d.AlwaysEnabled,
			Timeout:       d.Timeout,
		}
		t.terms = indexTool(t)
		app.Tools = append(app.Tools, t)
		app.byName[d.Name] = t
	}
	sort.Slice(app.Tools, func(i, j int) bool { return app.Tools[i].Name < app.Tools[j].Name })

	old := r.snap.Load()
	next := &snapshot{apps: make(map[string]*App, len(old.apps)+1)}
	for id, a := range old.apps {
		next.apps[id] = a
	}
	next.apps[info.ID] = app
	next.rebuild()
	r.snap.Store(next)

	r.logger.Info("=== APP REGISTERED ===",
		"app_id", info.ID,
		"tool_count", len(app.Tools),
		"total_apps", len(next.apps),
		"total_tools", len(next.tools),
	)
	return nil
}

// Unregister removes an app and all its tools.
func (r *Registry) Unregister(appID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.snap.Load()
	if _, ok := old.apps[appID]; !ok {
		return
	}
	next := &snapshot{apps: make(map[string]*App, len(old.apps))}
	for id, a := range old.apps {
		if id != appID {
			next.apps[id] = a
		}
	}
	next.rebuild()
	r.snap.Store(next)

	r.logger.Info("=== APP UNREGISTERED ===", "app_id", appID, "total_apps", len(next.apps))
}

func (s *snapshot) rebuild() {
	s.byID = make(map[int64]*Tool)
	s.tools = s.tools[:0]
	for _, a := range s.apps {
		for _, t := range a.Tools {
			s.byID[t.ID] = t
			s.tools = append(s.tools, t)
		}
	}
	sort.Slice(s.tools, func(i, j int) bool { return s.tools[i].ID < s.tools[j].ID })
}

// App returns a registered app.
func (r *Registry) App(appID string) (*App, error) {
	a, ok := r.snap.Load().apps[appID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApp, appID)
	}
	return a, nil
}

// Apps returns every registered app sorted by id.
func (r *Registry) Apps() []*App {
	s := r.snap.Load()
	apps := make([]*App, 0, len(s.apps))
	for _, a := range s.apps {
		apps = append(apps, a)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].Info.ID < apps[j].Info.ID })
	return apps
}

// GetByAppAndName finds a tool by app id and tool name.
func (r *Registry) GetByAppAndName(appID, name string) (*Tool, error) {
	a, err := r.App(appID)
	if err != nil {
		return nil, err
	}
	t, ok := a.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrToolNotFound, appID, name)
	}
	return t, nil
}

// GetByID finds a tool by its numeric id.
func (r *Registry) GetByID(id int64) (*Tool, error) {
	t, ok := r.snap.Load().byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrToolNotFound, id)
	}
	return t, nil
}

// List returns every tool ordered by id. The slice is shared; do not modify it.
func (r *Registry) List() []*Tool {
	return r.snap.Load().tools
}

// ListByApp returns an app's tools sorted by name.
func (r *Registry) ListByApp(appID string) ([]*Tool, error) {
	a, err := r.App(appID)
	if err != nil {
		return nil, err
	}
	return a.Tools, nil
}

// memoryIDs allocates ids without persistence, in first-seen order.
type memoryIDs struct {
	mu   sync.Mutex
	next int64
	ids  map[string]int64
}

func (m *memoryIDs) EnsureToolIDs(_ context.Context, appID string, names []string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]int64, len(names))
	for _, n := range names {
		key := appID + "\x00" + n
		id, ok := m.ids[key]
		if !ok {
			id = m.next
			m.next++
			m.ids[key] = id
		}
		out[n] = id
	}
	return out, nil
}
