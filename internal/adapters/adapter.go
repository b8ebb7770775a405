// ABOUTME: App adapter contract: each integrated app contributes tools and invokes them with a user credential
// ABOUTME: Defines the error types adapters return and a Toolset that does lookup, validation, and dispatch

package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/2389/toolgate/internal/vault"
)

// ErrUnknownTool indicates the adapter has no tool with the requested name.
var ErrUnknownTool = errors.New("unknown tool")

// AppInfo describes an integrated app for catalogs.
type AppInfo struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	CredentialKind string `json:"credential_kind"`
}

// ToolDef is a tool as declared by its adapter.
type ToolDef struct {
	Name         string
	Description  string
	InputSchema  Schema
	RequiresAuth bool

	// AlwaysEnabled tools skip the per-user enablement check.
	AlwaysEnabled bool
	Timeout       time.Duration // zero means the router default
}

// Adapter is implemented once per integrated app.
type Adapter interface {
	// Info returns the app's catalog entry; Info().ID is the stable app id.
	Info() AppInfo

	// Tools returns the tools this adapter contributes.
	Tools() []ToolDef

	// ParseCredential validates an app-specific connect body and returns the
	// credential to store. Failures are *ValidationError.
	ParseCredential(body json.RawMessage) (vault.Credential, error)

	// Verify checks a credential against the upstream service.
	Verify(ctx context.Context, cred *vault.Credential) error

	// Invoke runs a tool. cred is nil for tools that do not require auth.
	Invoke(ctx context.Context, tool string, cred *vault.Credential, params json.RawMessage) (json.RawMessage, error)
}

// FieldError names one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports params that do not match a tool's schema.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	f := e.Fields[0]
	if len(e.Fields) == 1 {
		return fmt.Sprintf("validation failed: %s: %s", f.Field, f.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s (and %d more)", f.Field, f.Message, len(e.Fields)-1)
}

// Invalid builds a ValidationError for a single field.
func Invalid(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// AdapterError is an upstream failure. Status is the upstream HTTP status, or 0
// when the request never got a response.
type AdapterError struct {
	App     string
	Status  int
	Message string
	Err     error
}

func (e *AdapterError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: upstream status %d: %s", e.App, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.App, e.Message)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// Handler executes one tool with validated params.
type Handler func(ctx context.Context, cred *vault.Credential, params map[string]any) (any, error)

// Tool pairs a definition with its handler.
type Tool struct {
	Def     ToolDef
	Handler Handler
}

// Toolset dispatches tool calls by name. Adapters embed one.
type Toolset struct {
	app   string
	tools map[string]Tool
	defs  []ToolDef
}

// NewToolset builds a Toolset. Duplicate names panic since they are programming errors.
func NewToolset(app string, tools ...Tool) *Toolset {
	ts := &Toolset{app: app, tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if _, dup := ts.tools[t.Def.Name]; dup {
			panic(fmt.Sprintf("adapters: duplicate tool %s.%s", app, t.Def.Name))
		}
		ts.tools[t.Def.Name] = t
		ts.defs = append(ts.defs, t.Def)
	}
	sort.Slice(ts.defs, func(i, j int) bool { return ts.defs[i].Name < ts.defs[j].Name })
	return ts
}

// Tools returns the definitions sorted by name.
func (ts *Toolset) Tools() []ToolDef {
	out := make([]ToolDef, len(ts.defs))
	copy(out, ts.defs)
	return out
}

// Invoke looks the tool up, validates params against its schema, and runs it.
func (ts *Toolset) Invoke(ctx context.Context, tool string, cred *vault.Credential, params json.RawMessage) (json.RawMessage, error) {
	t, ok := ts.tools[tool]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownTool, ts.app, tool)
	}
	if t.Def.RequiresAuth && cred == nil {
		return nil, vault.ErrNotConnected
	}

	args, err := DecodeParams(params)
	if err != nil {
		return nil, err
	}
	args, err = t.Def.InputSchema.Validate(args)
	if err != nil {
		return nil, err
	}

	result, err := t.Handler(ctx, cred, args)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding %s.%s result: %w", ts.app, tool, err)
	}
	return out, nil
}

// DecodeParams parses a params object. Empty input is an empty object.
func DecodeParams(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, Invalid("params", "must be a JSON object")
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
