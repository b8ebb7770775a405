// ABOUTME: Messaging adapter for the Slack Web API
// ABOUTME: Channel, message, thread, reaction, and user tools; an ok:false body is an upstream error

package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/2389/toolgate/internal/adapters"
	"github.com/2389/toolgate/internal/vault"
)

const (
	// AppID is the stable id of this adapter.
	AppID = "slack"

	// DefaultBaseURL is the Slack Web API root.
	DefaultBaseURL = "https://slack.com/api"
)

// Credential is the Slack connect body and stored secret.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope,omitempty"`
	TeamID       string `json:"team_id,omitempty"`
	TeamName     string `json:"team_name,omitempty"`
}

var credentialSchema = adapters.Object(map[string]adapters.Property{
	"access_token":  adapters.Str("Slack bot or user token"),
	"refresh_token": adapters.Str("Refresh token for rotating installs"),
	"token_type":    adapters.Str("Token type").WithDefault("bearer"),
	"scope":         adapters.Str("Granted scopes"),
	"team_id":       adapters.Str("Workspace id"),
	"team_name":     adapters.Str("Workspace name"),
}, "access_token")

// Options configures the adapter.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Adapter implements adapters.Adapter for Slack.
type Adapter struct {
	*adapters.Toolset
	client *adapters.Client
}

var _ adapters.Adapter = (*Adapter)(nil)

// New creates a Slack adapter.
func New(opts Options) *Adapter {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	a := &Adapter{client: adapters.NewClient(AppID, opts.BaseURL, opts.Timeout, opts.HTTPClient)}
	a.Toolset = adapters.NewToolset(AppID, a.tools()...)
	return a
}

// Info returns the catalog entry.
func (a *Adapter) Info() adapters.AppInfo {
	return adapters.AppInfo{
		ID:             AppID,
		Name:           "Slack",
		Description:    "Channels, messages, threads, and people in a Slack workspace",
		CredentialKind: "oauth_token",
	}
}

// ParseCredential validates a connect body.
func (a *Adapter) ParseCredential(body json.RawMessage) (vault.Credential, error) {
	args, err := adapters.DecodeParams(body)
	if err != nil {
		return vault.Credential{}, err
	}
	args, err = credentialSchema.Validate(args)
	if err != nil {
		return vault.Credential{}, err
	}

	c := Credential{
		AccessToken:  adapters.String(args, "access_token"),
		RefreshToken: adapters.String(args, "refresh_token"),
		TokenType:    adapters.String(args, "token_type"),
		Scope:        adapters.String(args, "scope"),
		TeamID:       adapters.String(args, "team_id"),
		TeamName:     adapters.String(args, "team_name"),
	}
	if c.AccessToken == "" {
		return vault.Credential{}, adapters.Invalid("access_token", "must not be empty")
	}
	material, err := json.Marshal(c)
	if err != nil {
		return vault.Credential{}, err
	}

	meta := map[string]string{"token_type": c.TokenType}
	for k, v := range map[string]string{"scope": c.Scope, "team_id": c.TeamID, "team_name": c.TeamName} {
		if v != "" {
			meta[k] = v
		}
	}
	return vault.Credential{AppID: AppID, Kind: "oauth_token", Material: material, Metadata: meta}, nil
}

// Verify calls auth.test with the credential.
func (a *Adapter) Verify(ctx context.Context, cred *vault.Credential) error {
	_, err := a.call(ctx, cred, http.MethodPost, "auth.test", nil, nil)
	return err
}

// call invokes a Web API method. GET methods take query, POST methods take a JSON body.
func (a *Adapter) call(ctx context.Context, cred *vault.Credential, httpMethod, method string, query url.Values, body map[string]any) (map[string]any, error) {
	if cred == nil {
		return nil, vault.ErrNotConnected
	}
	var c Credential
	if err := cred.Decode(&c); err != nil {
		return nil, err
	}

	req := adapters.Request{Method: httpMethod, Path: "/" + method, Query: query}
	if body != nil {
		req.JSON = body
	}

	var out map[string]any
	status, err := a.client.Do(ctx, c.AccessToken, req, &out)
	if err != nil {
		return nil, err
	}
	if ok, _ := out["ok"].(bool); !ok {
		msg, _ := out["error"].(string)
		if msg == "" {
			msg = "slack api returned ok=false"
		}
		return nil, &adapters.AdapterError{App: AppID, Status: status, Message: msg}
	}
	return out, nil
}

func (a *Adapter) get(method string, query func(args map[string]any) url.Values) adapters.Handler {
	return func(ctx context.Context, cred *vault.Credential, args map[string]any) (any, error) {
		return a.call(ctx, cred, http.MethodGet, method, query(args), nil)
	}
}

func (a *Adapter) post(method string, body func(args map[string]any) map[string]any) adapters.Handler {
	return func(ctx context.Context, cred *vault.Credential, args map[string]any) (any, error) {
		return a.call(ctx, cred, http.MethodPost, method, nil, body(args))
	}
}

// withCursor adds limit and an optional pagination cursor.
func withCursor(args map[string]any, q url.Values) url.Values {
	q.Set("limit", strconv.Itoa(adapters.Integer(args, "limit")))
	if c := adapters.String(args, "cursor"); c != "" {
		q.Set("cursor", c)
	}
	return q
}

var (
	channelProp = adapters.Str("Channel id, e.g. C0123456789")
	cursorProp  = adapters.Str("Pagination cursor from response_metadata.next_cursor")
)

func (a *Adapter) tools() []adapters.Tool {
	return []adapters.Tool{
		{
			Def: adapters.ToolDef{
				Name:        "list_channels",
				Description: "List channels in the Slack workspace",
				InputSchema: adapters.Object(map[string]adapters.Property{
					"types":            adapters.Str("Comma-separated channel types").WithDefault("public_channel"),
					"exclude_archived": adapters.Bool("Skip archived channels").WithDefault(true),
					"limit":            adapters.Int("Maximum channels to return", 1, 1000).WithDefault(100),
					"cursor":           cursorProp,
				}),
				RequiresAuth: true,
			},
			Handler: a.get("conversations.list", func(args map[string]any) url.Values {
				q := url.Values{}
				q.Set("types", adapters.String(args, "types"))
				q.Set("exclude_archived", strconv.FormatBool(adapters.Boolean(args, "exclude_archived")))
				return withCursor(args, q)
			}),
		},
		{
			Def: adapters.ToolDef{
				Name:        "post_message",
				Description: "Send a message to a Slack channel",
				InputSchema: adapters.Object(map[string]adapters.Property{
					"channel": channelProp,
					"text":    adapters.Str("Message text"),
				}, "channel", "text"),
				RequiresAuth: true,
			},
			Handler: a.post("chat.postMessage", func(args map[string]any) map[string]any {
				return map[string]any{"channel": adapters.String(args, "channel"), "text": adapters.String(args, "text")}
			}),
		},
		{
			Def: adapters.ToolDef{
				Name:        "reply_to_thread",
				Description: "Reply to a message thread in a Slack channel",
				InputSchema: adapters.Object(map[string]adapters.Property{
					"channel":   channelProp,
					"thread_ts": adapters.Str("Timestamp of the parent message"),
					"text":      adapters.Str("Reply text"),
				}, "channel", "thread_ts", "text"),
				RequiresAuth: true,
			},
			Handler: a.post("chat.postMessage", func(args map[string]any) map[string]any {
				return map[string]any{
					"channel":   adapters.String(args, "channel"),
					"thread_ts": adapters.String(args, "thread_ts"),
					"text":      adapters.String(args, "text"),
				}
			}),
		},
		{
			Def: adapters.ToolDef{
				Name:        "add_reaction",
				Description: "Add an emoji reaction to a Slack message",
				InputSchema: adapters.Object(map[string]adapters.Property{
					"channel":   channelProp,
					"timestamp": adapters.Str("Timestamp of the message to react to"),
					"reaction":  adapters.Str("Emoji name without colons, e.g. thumbsup"),
				}, "channel", "timestamp", "reaction"),
				RequiresAuth: true,
			},
			Handler: a.post("reactions.add", func(args map[string]any) map[string]any {
				return map[string]any{
					"channel":   adapters.String(args, "channel"),
					"timestamp": adapters.String(args, "timestamp"),
					"name":      adapters.String(args, "reaction"),
				}
			}),
		},
		{
			Def: adapters.ToolDef{
				Name:        "get_channel_history",
				Description: "Get recent messages from a Slack channel",
				InputSchema: adapters.Object(map[string]adapters.Property{
					"channel": channelProp,
					"limit":   adapters.Int("Number of messages", 1, 1000).WithDefault(10),
					"cursor":  cursorProp,
				}, "channel"),
				RequiresAuth: true,
			},
			Handler: a.get("conversations.history", func(args map[string]any) url.Values {
				q := url.Values{}
				q.Set("channel", adapters.String(args, "channel"))
				return withCursor(args, q)
			}),
		},
		{
			Def: adapters.ToolDef{
				Name:        "get_thread_replies",
				Description: "Get all replies in a Slack message thread",
				InputSchema: adapters.Object(map[string]adapters.Property{
					"channel":   channelProp,
					"thread_ts": adapters.Str("Timestamp of the parent message"),
					"limit":     adapters.Int("Number of replies", 1, 1000).WithDefault(100),
					"cursor":    cursorProp,
				}, "channel", "thread_ts"),
				RequiresAuth: true,
			},
			Handler: a.get("conversations.replies", func(args map[string]any) url.Values {
				q := url.Values{}
				q.Set("channel", adapters.String(args, "channel"))
				q.Set("ts", adapters.String(args, "thread_ts"))
				return withCursor(args, q)
			}),
		},
		{
			Def: adapters.ToolDef{
				Name:        "get_users",
				Description: "List users in the Slack workspace",
				InputSchema: adapters.Object(map[string]adapters.Property{
					"limit":  adapters.Int("Maximum users to return", 1, 1000).WithDefault(100),
					"cursor": cursorProp,
				}),
				RequiresAuth: true,
			},
			Handler: a.get("users.list", func(args map[string]any) url.Values {
				return withCursor(args, url.Values{})
			}),
		},
		{
			Def: adapters.ToolDef{
				Name:        "get_user_profile",
				Description: "Get the profile of a Slack user",
				InputSchema: adapters.Object(map[string]adapters.Property{
					"user": adapters.Str("User id, e.g. U0123456789"),
				}, "user"),
				RequiresAuth: true,
			},
			Handler: a.get("users.profile.get", func(args map[string]any) url.Values {
				return url.Values{"user": {adapters.String(args, "user")}}
			}),
		},
	}
}
