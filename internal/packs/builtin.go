// ABOUTME: Built-in app whose tools execute in-process against the registry.
// ABOUTME: Lets MCP clients discover apps and guess tools without leaving the gateway.

package packs

import (
	"context"
	"encoding/json"

	"github.com/2389/toolgate/internal/adapters"
	"github.com/2389/toolgate/internal/vault"
)

// BuiltinAppID is the app id of the built-in tools.
const BuiltinAppID = "toolgate"

// BuiltinAdapter serves tools that need no upstream credential.
type BuiltinAdapter struct {
	*adapters.Toolset
	registry *Registry
}

var _ adapters.Adapter = (*BuiltinAdapter)(nil)

// NewBuiltinAdapter creates the built-in app over registry.
func NewBuiltinAdapter(registry *Registry) *BuiltinAdapter {
	b := &BuiltinAdapter{registry: registry}
	b.Toolset = adapters.NewToolset(BuiltinAppID,
		adapters.Tool{
			Def: adapters.ToolDef{
				Name:          "list_apps",
				Description:   "List the apps this gateway can call tools on",
				InputSchema:   adapters.Object(nil),
				AlwaysEnabled: true,
			},
			Handler: b.listApps,
		},
		adapters.Tool{
			Def: adapters.ToolDef{
				Name:        "guess_tools",
				Description: "Find gateway tools whose name or description matches a free-text description",
				InputSchema: adapters.Object(map[string]adapters.Property{
					"description": adapters.Str("What you want to do"),
					"limit":       adapters.Int("Maximum number of tools", 1, 50).WithDefault(5),
				}, "description"),
				AlwaysEnabled: true,
			},
			Handler: b.guessTools,
		},
	)
	return b
}

// Info returns the catalog entry.
func (b *BuiltinAdapter) Info() adapters.AppInfo {
	return adapters.AppInfo{
		ID:             BuiltinAppID,
		Name:           "Toolgate",
		Description:    "Gateway discovery tools",
		CredentialKind: "none",
	}
}

// ParseCredential always fails; built-in tools take no credential.
func (b *BuiltinAdapter) ParseCredential(json.RawMessage) (vault.Credential, error) {
	return vault.Credential{}, adapters.Invalid("body", "toolgate tools need no credential")
}

// Verify always succeeds.
func (b *BuiltinAdapter) Verify(context.Context, *vault.Credential) error {
	return nil
}

func (b *BuiltinAdapter) listApps(_ context.Context, _ *vault.Credential, _ map[string]any) (any, error) {
	type appSummary struct {
		adapters.AppInfo
		Tools []string `json:"tools"`
	}
	var out []appSummary
	for _, a := range b.registry.Apps() {
		s := appSummary{AppInfo: a.Info}
		for _, t := range a.Tools {
			s.Tools = append(s.Tools, t.Name)
		}
		out = append(out, s)
	}
	return map[string]any{"apps": out}, nil
}

func (b *BuiltinAdapter) guessTools(_ context.Context, _ *vault.Credential, args map[string]any) (any, error) {
	type guess struct {
		ID          int64   `json:"id"`
		Tool        string  `json:"tool"`
		Description string  `json:"description"`
		Score       float64 `json:"score"`
	}
	matches := b.registry.Guess(adapters.String(args, "description"), adapters.Integer(args, "limit"))
	out := make([]guess, 0, len(matches))
	for _, m := range matches {
		out = append(out, guess{ID: m.Tool.ID, Tool: m.Tool.QualifiedName(), Description: m.Tool.Description, Score: m.Score})
	}
	return map[string]any{"tools": out}, nil
}
