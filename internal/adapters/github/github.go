// ABOUTME: Source-control adapter for the GitHub REST API
// ABOUTME: Repository, issue, and pull request tools authenticated with the user's OAuth token

package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/2389/toolgate/internal/adapters"
	"github.com/2389/toolgate/internal/vault"
)

const (
	// AppID is the stable id of this adapter.
	AppID = "github"

	// DefaultBaseURL is the public GitHub API.
	DefaultBaseURL = "https://api.github.com"

	apiVersionHeader = "2022-11-28"
)

// Credential is the GitHub connect body and stored secret.
type Credential struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope,omitempty"`
}

var credentialSchema = adapters.Object(map[string]adapters.Property{
	"access_token": adapters.Str("GitHub OAuth or personal access token"),
	"token_type":   adapters.Str("Token type").WithDefault("bearer"),
	"scope":        adapters.Str("Granted scopes"),
}, "access_token")

// Options configures the adapter.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Adapter implements adapters.Adapter for GitHub.
type Adapter struct {
	*adapters.Toolset
	client *adapters.Client
}

var _ adapters.Adapter = (*Adapter)(nil)

// New creates a GitHub adapter.
func New(opts Options) *Adapter {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	client := adapters.NewClient(AppID, opts.BaseURL, opts.Timeout, opts.HTTPClient)
	client.SetHeader("Accept", "application/vnd.github+json")
	client.SetHeader("X-GitHub-Api-Version", apiVersionHeader)
	client.SetHeader("User-Agent", "toolgate")

	a := &Adapter{client: client}
	a.Toolset = adapters.NewToolset(AppID, a.tools()...)
	return a
}

// Info returns the catalog entry.
func (a *Adapter) Info() adapters.AppInfo {
	return adapters.AppInfo{
		ID:             AppID,
		Name:           "GitHub",
		Description:    "Repositories, issues, and pull requests on GitHub",
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
		AccessToken: adapters.String(args, "access_token"),
		TokenType:   adapters.String(args, "token_type"),
		Scope:       adapters.String(args, "scope"),
	}
	if c.AccessToken == "" {
		return vault.Credential{}, adapters.Invalid("access_token", "must not be empty")
	}
	material, err := json.Marshal(c)
	if err != nil {
		return vault.Credential{}, err
	}

	meta := map[string]string{"token_type": c.TokenType}
	if c.Scope != "" {
		meta["scope"] = c.Scope
	}
	return vault.Credential{AppID: AppID, Kind: "oauth_token", Material: material, Metadata: meta}, nil
}

// Verify calls GET /user with the credential.
func (a *Adapter) Verify(ctx context.Context, cred *vault.Credential) error {
	token, err := accessToken(cred)
	if err != nil {
		return err
	}
	_, err = a.client.Do(ctx, token, adapters.Request{Path: "/user"}, nil)
	return err
}

func accessToken(cred *vault.Credential) (string, error) {
	if cred == nil {
		return "", vault.ErrNotConnected
	}
	var c Credential
	if err := cred.Decode(&c); err != nil {
		return "", err
	}
	if c.AccessToken == "" {
		return "", fmt.Errorf("github credential has no access token")
	}
	return c.AccessToken, nil
}

// call performs an authenticated call and returns the upstream JSON untouched.
func (a *Adapter) call(ctx context.Context, cred *vault.Credential, req adapters.Request) (any, error) {
	token, err := accessToken(cred)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	if _, err := a.client.Do(ctx, token, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func repoPath(args map[string]any, suffix string) string {
	return "/repos/" + url.PathEscape(adapters.String(args, "owner")) + "/" +
		url.PathEscape(adapters.String(args, "repo")) + suffix
}

func pageQuery(args map[string]any) url.Values {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(adapters.Integer(args, "per_page")))
	q.Set("page", strconv.Itoa(adapters.Integer(args, "page")))
	return q
}

var (
	ownerProp   = adapters.Str("Repository owner (user or organization)")
	repoProp    = adapters.Str("Repository name")
	perPageProp = adapters.Int("Results per page", 1, 100).WithDefault(30)
	pageProp    = adapters.Int("Page number", 1, 10000).WithDefault(1)
	stateProp   = adapters.Str("Filter by state").OneOf("open", "closed", "all").WithDefault("open")
)

func (a *Adapter) tools() []adapters.Tool {
	return []adapters.Tool{
		{
			Def: adapters.ToolDef{
				Name:        "get_user",
				Description: "Get the authenticated GitHub user profile, or a user by username",
				InputSchema: adapters.Object(map[string]adapters.Property{
					"username": adapters.Str("Username to look up; omit for the authenticated user"),
				}),
				RequiresAuth: true,
			},
			Handler: func(ctx context.Context, cred *vault.Credential, args map[string]any) (any, error) {
				path := "/user"
				if u := adapters.String(args, "username"); u != "" {
					path = "/users/" + url.PathEscape(u)
				}
				return a.call(ctx, cred, adapters.Request{Path: path})
			},
		},
		{
			Def: adapters.ToolDef{
				Name:        "list_repositories",
				Description: "List repositories the authenticated user can access",
				InputSchema: adapters.Object(map[string]adapters.Property{
					"visibility": adapters.Str("Repository visibility").OneOf("all", "public", "private").WithDefault("all"),
					"sort":       adapters.Str("Sort field").OneOf("created", "updated", "pushed", "full_name").WithDefault("updated"),
					"per_page":   perPageProp,
					"page":       pageProp,
				}),
				RequiresAuth: true,
			},
			Handler: func(ctx context.Context, cred *vault.Credential, args map[string]any) (any, error) {
				q := pageQuery(args)
				q.Set("visibility", adapters.String(args, "visibility"))
				q.Set("sort", adapters.String(args, "sort"))
				return a.call(ctx, cred, adapters.Request{Path: "/user/repos", Query: q})
			},
		},
		{
			Def: adapters.ToolDef{
				Name:        "get_repository",
				Description: "Get details of a GitHub repository",
				InputSchema: adapters.Object(map[string]adapters.Property{
					"owner": ownerProp,
					"repo":  repoProp,
				}, "owner", "repo"),
				RequiresAuth: true,
			},
			Handler: func(ctx context.Context, cred *vault.Credential, args map[string]any) (any, error) {
				return a.call(ctx, cred, adapters.Request{Path: repoPath(args, "")})
			},
		},
		{
			Def: adapters.ToolDef{
				Name:        "list_issues",
				Description: "List issues in a GitHub repository",
				InputSchema: adapters.Object(map[string]adapters.Property{
					"owner":    ownerProp,
					"repo":     repoProp,
					"state":    stateProp,
					"labels":   adapters.Str("Comma-separated label names"),
					"per_page": perPageProp,
					"page":     pageProp,
				}, "owner", "repo"),
				RequiresAuth: true,
			},
			Handler: func(ctx context.Context, cred *vault.Credential, args map[string]any) (any, error) {
				q := pageQuery(args)
				q.Set("state", adapters.String(args, "state"))
				if l := adapters.String(args, "labels"); l != "" {
					q.Set("labels", l)
				}
				return a.call(ctx, cred, adapters.Request{Path: repoPath(args, "/issues"), Query: q})
			},
		},
		{
			Def: adapters.ToolDef{
				Name:        "create_issue",
				Description: "Create a new issue in a GitHub repository",
				InputSchema: adapters.Object(map[string]adapters.Property{
					"owner":     ownerProp,
					"repo":      repoProp,
					"title":     adapters.Str("Issue title"),
					"body":      adapters.Str("Issue body in markdown"),
					"labels":    adapters.StrList("Labels to apply"),
					"assignees": adapters.StrList("Usernames to assign"),
				}, "owner", "repo", "title"),
				RequiresAuth: true,
			},
			Handler: func(ctx context.Context, cred *vault.Credential, args map[string]any) (any, error) {
				body := map[string]any{"title": adapters.String(args, "title")}
				if b := adapters.String(args, "body"); b != "" {
					body["body"] = b
				}
				if adapters.Has(args, "labels") {
					body["labels"] = adapters.Strings(args, "labels")
				}
				if adapters.Has(args, "assignees") {
					body["assignees"] = adapters.Strings(args, "assignees")
				}
				return a.call(ctx, cred, adapters.Request{Method: http.MethodPost, Path: repoPath(args, "/issues"), JSON: body})
			},
		},
		{
			Def: adapters.ToolDef{
				Name:        "list_pull_requests",
				Description: "List pull requests in a GitHub repository",
				InputSchema: adapters.Object(map[string]adapters.Property{
					"owner":    ownerProp,
					"repo":     repoProp,
					"state":    stateProp,
					"per_page": perPageProp,
					"page":     pageProp,
				}, "owner", "repo"),
				RequiresAuth: true,
			},
			Handler: func(ctx context.Context, cred *vault.Credential, args map[string]any) (any, error) {
				q := pageQuery(args)
				q.Set("state", adapters.String(args, "state"))
				return a.call(ctx, cred, adapters.Request{Path: repoPath(args, "/pulls"), Query: q})
			},
		},
		{
			Def: adapters.ToolDef{
				Name:        "create_pull_request",
				Description: "Open a pull request merging a head branch into a base branch",
				InputSchema: adapters.Object(map[string]adapters.Property{
					"owner": ownerProp,
					"repo":  repoProp,
					"title": adapters.Str("Pull request title"),
					"head":  adapters.Str("Branch containing the changes"),
					"base":  adapters.Str("Branch to merge into"),
					"body":  adapters.Str("Pull request description"),
					"draft": adapters.Bool("Open as a draft").WithDefault(false),
				}, "owner", "repo", "title", "head", "base"),
				RequiresAuth: true,
			},
			Handler: func(ctx context.Context, cred *vault.Credential, args map[string]any) (any, error) {
				body := map[string]any{
					"title": adapters.String(args, "title"),
					"head":  adapters.String(args, "head"),
					"base":  adapters.String(args, "base"),
					"draft": adapters.Boolean(args, "draft"),
				}
				if b := adapters.String(args, "body"); b != "" {
					body["body"] = b
				}
				return a.call(ctx, cred, adapters.Request{Method: http.MethodPost, Path: repoPath(args, "/pulls"), JSON: body})
			},
		},
	}
}
