// ABOUTME: Shared fixtures for packs tests
// ABOUTME: Provides a configurable fake adapter and a registry constructor

package packs

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/2389/toolgate/internal/adapters"
	"github.com/2389/toolgate/internal/vault"
)

// fakeAdapter serves the given tool definitions; invoke runs for every call.
type fakeAdapter struct {
	id     string
	defs   []adapters.ToolDef
	invoke func(ctx context.Context, tool string, params json.RawMessage) (json.RawMessage, error)
}

func (f *fakeAdapter) Info() adapters.AppInfo {
	return adapters.AppInfo{ID: f.id, Name: f.id}
}

func (f *fakeAdapter) Tools() []adapters.ToolDef { return f.defs }

func (f *fakeAdapter) ParseCredential(json.RawMessage) (vault.Credential, error) {
	return vault.Credential{AppID: f.id}, nil
}

func (f *fakeAdapter) Verify(context.Context, *vault.Credential) error { return nil }

func (f *fakeAdapter) Invoke(ctx context.Context, tool string, _ *vault.Credential, params json.RawMessage) (json.RawMessage, error) {
	if f.invoke == nil {
		return json.RawMessage(`{"ok":true}`), nil
	}
	return f.invoke(ctx, tool, params)
}

func def(name, desc string) adapters.ToolDef {
	return adapters.ToolDef{Name: name, Description: desc, InputSchema: adapters.Object(nil), RequiresAuth: true}
}

func newTestRegistry(t *testing.T, apps ...*fakeAdapter) *Registry {
	t.Helper()
	r := NewRegistry(nil, slog.Default())
	for _, a := range apps {
		if err := r.Register(context.Background(), a); err != nil {
			t.Fatalf("failed to register %s: %v", a.id, err)
		}
	}
	return r
}

func sourceControlApp() *fakeAdapter {
	return &fakeAdapter{id: "github", defs: []adapters.ToolDef{
		def("list_repositories", "List repositories the authenticated user can access"),
		def("list_issues", "List issues in a GitHub repository"),
		def("create_issue", "Create a new issue in a GitHub repository"),
	}}
}

func messagingApp() *fakeAdapter {
	return &fakeAdapter{id: "slack", defs: []adapters.ToolDef{
		def("list_channels", "List channels in the Slack workspace"),
		def("post_message", "Send a message to a Slack channel"),
		def("reply_to_thread", "Reply to a message thread in a Slack channel"),
		def("get_channel_history", "Get recent messages from a Slack channel"),
	}}
}
