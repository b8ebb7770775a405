// ABOUTME: Messaging adapter for Matrix homeservers using mautrix
// ABOUTME: Each call builds a client from the user's homeserver, user id, and access token

package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/2389/toolgate/internal/adapters"
	"github.com/2389/toolgate/internal/vault"
)

// AppID is the stable id of this adapter.
const AppID = "matrix"

// Credential is the Matrix connect body and stored secret.
type Credential struct {
	Homeserver  string `json:"homeserver"`
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
}

var credentialSchema = adapters.Object(map[string]adapters.Property{
	"homeserver":   adapters.Str("Homeserver base URL, e.g. https://matrix.org"),
	"user_id":      adapters.Str("Full Matrix user id, e.g. @bot:example.org"),
	"access_token": adapters.Str("Access token for the user"),
}, "homeserver", "user_id", "access_token")

// Options configures the adapter.
type Options struct {
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Adapter implements adapters.Adapter for Matrix.
type Adapter struct {
	*adapters.Toolset
	httpClient *http.Client
}

var _ adapters.Adapter = (*Adapter)(nil)

// New creates a Matrix adapter.
func New(opts Options) *Adapter {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	a := &Adapter{httpClient: hc}
	a.Toolset = adapters.NewToolset(AppID, a.tools()...)
	return a
}

// Info returns the catalog entry.
func (a *Adapter) Info() adapters.AppInfo {
	return adapters.AppInfo{
		ID:             AppID,
		Name:           "Matrix",
		Description:    "Rooms and messages on a Matrix homeserver",
		CredentialKind: "access_token",
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
		Homeserver:  adapters.String(args, "homeserver"),
		UserID:      adapters.String(args, "user_id"),
		AccessToken: adapters.String(args, "access_token"),
	}
	if u, err := url.Parse(c.Homeserver); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return vault.Credential{}, adapters.Invalid("homeserver", "must be an http(s) URL")
	}
	if _, _, err := id.UserID(c.UserID).Parse(); err != nil {
		return vault.Credential{}, adapters.Invalid("user_id", "must look like @user:server")
	}

	material, err := json.Marshal(c)
	if err != nil {
		return vault.Credential{}, err
	}
	meta := map[string]string{"homeserver": c.Homeserver, "user_id": c.UserID}
	return vault.Credential{AppID: AppID, Kind: "access_token", Material: material, Metadata: meta}, nil
}

// Verify checks that the token belongs to the declared user.
func (a *Adapter) Verify(ctx context.Context, cred *vault.Credential) error {
	cli, c, err := a.client(cred)
	if err != nil {
		return err
	}
	resp, err := cli.Whoami(ctx)
	if err != nil {
		return upstreamError(err)
	}
	if resp.UserID.String() != c.UserID {
		return &adapters.AdapterError{App: AppID, Message: fmt.Sprintf("token belongs to %s", resp.UserID)}
	}
	return nil
}

func (a *Adapter) client(cred *vault.Credential) (*mautrix.Client, *Credential, error) {
	if cred == nil {
		return nil, nil, vault.ErrNotConnected
	}
	var c Credential
	if err := cred.Decode(&c); err != nil {
		return nil, nil, err
	}
	cli, err := mautrix.NewClient(c.Homeserver, id.UserID(c.UserID), c.AccessToken)
	if err != nil {
		return nil, nil, fmt.Errorf("creating matrix client: %w", err)
	}
	cli.Client = a.httpClient
	return cli, &c, nil
}

// upstreamError converts a mautrix failure into an AdapterError.
func upstreamError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	aerr := &adapters.AdapterError{App: AppID, Message: "matrix request failed", Err: err}
	var httpErr mautrix.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Response != nil {
			aerr.Status = httpErr.Response.StatusCode
		}
		if httpErr.RespError != nil && httpErr.RespError.Err != "" {
			aerr.Message = httpErr.RespError.Err
		}
	}
	return aerr
}

func (a *Adapter) tools() []adapters.Tool {
	return []adapters.Tool{
		{
			Def: adapters.ToolDef{
				Name:         "whoami",
				Description:  "Show which Matrix account the connected token belongs to",
				InputSchema:  adapters.Object(nil),
				RequiresAuth: true,
			},
			Handler: func(ctx context.Context, cred *vault.Credential, _ map[string]any) (any, error) {
				cli, _, err := a.client(cred)
				if err != nil {
					return nil, err
				}
				resp, err := cli.Whoami(ctx)
				if err != nil {
					return nil, upstreamError(err)
				}
				return map[string]string{"user_id": resp.UserID.String(), "device_id": resp.DeviceID.String()}, nil
			},
		},
		{
			Def: adapters.ToolDef{
				Name:         "list_rooms",
				Description:  "List Matrix rooms the account has joined",
				InputSchema:  adapters.Object(nil),
				RequiresAuth: true,
			},
			Handler: func(ctx context.Context, cred *vault.Credential, _ map[string]any) (any, error) {
				cli, _, err := a.client(cred)
				if err != nil {
					return nil, err
				}
				resp, err := cli.JoinedRooms(ctx)
				if err != nil {
					return nil, upstreamError(err)
				}
				rooms := make([]string, 0, len(resp.JoinedRooms))
				for _, r := range resp.JoinedRooms {
					rooms = append(rooms, r.String())
				}
				return map[string]any{"rooms": rooms}, nil
			},
		},
		{
			Def: adapters.ToolDef{
				Name:        "send_message",
				Description: "Send a text message to a Matrix room",
				InputSchema: adapters.Object(map[string]adapters.Property{
					"room_id": adapters.Str("Room id, e.g. !abc:example.org"),
					"text":    adapters.Str("Message text"),
				}, "room_id", "text"),
				RequiresAuth: true,
			},
			Handler: func(ctx context.Context, cred *vault.Credential, args map[string]any) (any, error) {
				cli, _, err := a.client(cred)
				if err != nil {
					return nil, err
				}
				resp, err := cli.SendText(ctx, id.RoomID(adapters.String(args, "room_id")), adapters.String(args, "text"))
				if err != nil {
					return nil, upstreamError(err)
				}
				return map[string]string{"event_id": resp.EventID.String()}, nil
			},
		},
		{
			Def: adapters.ToolDef{
				Name:        "get_display_name",
				Description: "Get the display name of a Matrix user",
				InputSchema: adapters.Object(map[string]adapters.Property{
					"user_id": adapters.Str("User id; omit for the connected account"),
				}),
				RequiresAuth: true,
			},
			Handler: func(ctx context.Context, cred *vault.Credential, args map[string]any) (any, error) {
				cli, c, err := a.client(cred)
				if err != nil {
					return nil, err
				}
				who := adapters.String(args, "user_id")
				if who == "" {
					who = c.UserID
				}
				resp, err := cli.GetDisplayName(ctx, id.UserID(who))
				if err != nil {
					return nil, upstreamError(err)
				}
				return map[string]string{"user_id": who, "display_name": resp.DisplayName}, nil
			},
		},
	}
}
