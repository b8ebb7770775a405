// ABOUTME: Upstream HTTP helper shared by REST adapters
// ABOUTME: Injects the user's access token through an oauth2 static token source and maps failures to AdapterError

package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// maxResponseBytes bounds how much of an upstream body is read.
const maxResponseBytes = 4 << 20

// Request is one upstream call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	JSON   any        // encoded as the request body when set
	Form   url.Values // encoded as the request body when set and JSON is nil
}

// Client talks to one upstream REST API on behalf of a user.
type Client struct {
	app     string
	baseURL string
	headers map[string]string
	timeout time.Duration
	base    *http.Client
}

// NewClient creates a Client. base may be nil to use http.DefaultClient.
func NewClient(app, baseURL string, timeout time.Duration, base *http.Client) *Client {
	if base == nil {
		base = http.DefaultClient
	}
	return &Client{
		app:     app,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		headers: map[string]string{"Accept": "application/json"},
		timeout: timeout,
		base:    base,
	}
}

// SetHeader adds a header sent with every request.
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// BaseURL returns the upstream root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// httpClient returns a client that authenticates as accessToken.
func (c *Client) httpClient(ctx context.Context, accessToken string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.base)
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	hc.Timeout = c.timeout
	return hc
}

// Do performs req with accessToken and decodes a JSON response into out.
// It returns the upstream status. Non-2xx statuses become *AdapterError.
func (c *Client) Do(ctx context.Context, accessToken string, req Request, out any) (int, error) {
	u := c.baseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var body io.Reader
	var contentType string
	switch {
	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return 0, fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json; charset=utf-8"
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient(ctx, accessToken).Do(httpReq)
	if err != nil {
		return 0, &AdapterError{App: c.app, Message: "upstream request failed", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, &AdapterError{App: c.app, Status: resp.StatusCode, Message: "reading upstream response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &AdapterError{App: c.app, Status: resp.StatusCode, Message: upstreamMessage(data, resp.Status)}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, &AdapterError{App: c.app, Status: resp.StatusCode, Message: "malformed upstream response", Err: err}
		}
	}
	return resp.StatusCode, nil
}

// upstreamMessage pulls a human message out of an error body.
func upstreamMessage(body []byte, fallback string) string {
	var parsed struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if s, ok := parsed.Error.(string); ok && s != "" {
			return s
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return fallback
	}
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	return text
}
