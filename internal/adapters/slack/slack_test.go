// ABOUTME: Tests for the Slack adapter against an httptest fake of the Web API
// ABOUTME: Covers ok:false handling, request shaping, and credential parsing

package slack

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolgate/internal/adapters"
	"github.com/2389/toolgate/internal/vault"
)

func newFakeSlack(t *testing.T, routes map[string]http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))
		h, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL, HTTPClient: srv.Client()})
}

func testCredential(t *testing.T) *vault.Credential {
	t.Helper()
	c, err := New(Options{}).ParseCredential(json.RawMessage(`{"access_token":"xoxb-test","team_name":"Acme"}`))
	require.NoError(t, err)
	return &c
}

func TestAdapter_DeclaresTools(t *testing.T) {
	var names []string
	for _, def := range New(Options{}).Tools() {
		names = append(names, def.Name)
	}
	assert.ElementsMatch(t, []string{
		"list_channels", "post_message", "reply_to_thread", "add_reaction",
		"get_channel_history", "get_thread_replies", "get_users", "get_user_profile",
	}, names)
}

func TestAdapter_PostMessage(t *testing.T) {
	a := newFakeSlack(t, map[string]http.HandlerFunc{
		"/chat.postMessage": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"channel":"C1","text":"hello"}`, string(body))
			_, _ = w.Write([]byte(`{"ok":true,"ts":"123.456"}`))
		},
	})

	out, err := a.Invoke(context.Background(), "post_message", testCredential(t), json.RawMessage(`{"channel":"C1","text":"hello"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true,"ts":"123.456"}`, string(out))
}

func TestAdapter_AddReactionMapsName(t *testing.T) {
	a := newFakeSlack(t, map[string]http.HandlerFunc{
		"/reactions.add": func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "thumbsup", body["name"])
			_, _ = w.Write([]byte(`{"ok":true}`))
		},
	})

	_, err := a.Invoke(context.Background(), "add_reaction", testCredential(t),
		json.RawMessage(`{"channel":"C1","timestamp":"1.2","reaction":"thumbsup"}`))
	require.NoError(t, err)
}

func TestAdapter_OkFalseIsAdapterError(t *testing.T) {
	a := newFakeSlack(t, map[string]http.HandlerFunc{
		"/conversations.history": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "C404", r.URL.Query().Get("channel"))
			assert.Equal(t, "10", r.URL.Query().Get("limit"))
			_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
		},
	})

	_, err := a.Invoke(context.Background(), "get_channel_history", testCredential(t), json.RawMessage(`{"channel":"C404"}`))
	var aerr *adapters.AdapterError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, "channel_not_found", aerr.Message)
	assert.Equal(t, http.StatusOK, aerr.Status)
}

func TestAdapter_ListChannelsQuery(t *testing.T) {
	a := newFakeSlack(t, map[string]http.HandlerFunc{
		"/conversations.list": func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "public_channel", q.Get("types"))
			assert.Equal(t, "true", q.Get("exclude_archived"))
			assert.Equal(t, "abc", q.Get("cursor"))
			_, _ = w.Write([]byte(`{"ok":true,"channels":[]}`))
		},
	})

	_, err := a.Invoke(context.Background(), "list_channels", testCredential(t), json.RawMessage(`{"cursor":"abc"}`))
	require.NoError(t, err)
}

func TestAdapter_Verify(t *testing.T) {
	a := newFakeSlack(t, map[string]http.HandlerFunc{
		"/auth.test": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"ok":false,"error":"invalid_auth"}`))
		},
	})

	err := a.Verify(context.Background(), testCredential(t))
	var aerr *adapters.AdapterError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, "invalid_auth", aerr.Message)
}

func TestAdapter_ParseCredentialMetadata(t *testing.T) {
	c := testCredential(t)
	assert.Equal(t, "Acme", c.Metadata["team_name"])
	assert.Equal(t, "bearer", c.Metadata["token_type"])
	_, hasScope := c.Metadata["scope"]
	assert.False(t, hasScope)
	assert.NotContains(t, c.Metadata, "access_token")
}

func TestAdapter_MissingParams(t *testing.T) {
	_, err := New(Options{}).Invoke(context.Background(), "reply_to_thread", testCredential(t), json.RawMessage(`{"channel":"C1"}`))
	var verr *adapters.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Fields, 2)
}

func TestAdapter_ReplyToThread(t *testing.T) {
	a := newFakeSlack(t, map[string]http.HandlerFunc{
		"/chat.postMessage": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"channel":"C1","thread_ts":"111.222","text":"on it"}`, string(body))
			_, _ = w.Write([]byte(`{"ok":true,"ts":"111.333"}`))
		},
	})

	out, err := a.Invoke(context.Background(), "reply_to_thread", testCredential(t),
		json.RawMessage(`{"channel":"C1","thread_ts":"111.222","text":"on it"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true,"ts":"111.333"}`, string(out))
}

func TestAdapter_GetChannelHistory(t *testing.T) {
	a := newFakeSlack(t, map[string]http.HandlerFunc{
		"/conversations.history": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			q := r.URL.Query()
			assert.Equal(t, "C1", q.Get("channel"))
			assert.Equal(t, "25", q.Get("limit"))
			assert.Equal(t, "next", q.Get("cursor"))
			_, _ = w.Write([]byte(`{"ok":true,"messages":[{"ts":"1.0","text":"hi"}]}`))
		},
	})

	out, err := a.Invoke(context.Background(), "get_channel_history", testCredential(t),
		json.RawMessage(`{"channel":"C1","limit":25,"cursor":"next"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true,"messages":[{"ts":"1.0","text":"hi"}]}`, string(out))
}

func TestAdapter_GetThreadReplies(t *testing.T) {
	a := newFakeSlack(t, map[string]http.HandlerFunc{
		"/conversations.replies": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			q := r.URL.Query()
			assert.Equal(t, "C1", q.Get("channel"))
			assert.Equal(t, "111.222", q.Get("ts"))
			assert.Equal(t, "100", q.Get("limit"))
			assert.Empty(t, q.Get("cursor"))
			_, _ = w.Write([]byte(`{"ok":true,"messages":[{"ts":"111.222"},{"ts":"111.333"}]}`))
		},
	})

	out, err := a.Invoke(context.Background(), "get_thread_replies", testCredential(t),
		json.RawMessage(`{"channel":"C1","thread_ts":"111.222"}`))
	require.NoError(t, err)
	assert.Contains(t, string(out), "111.333")
}

func TestAdapter_GetUsers(t *testing.T) {
	a := newFakeSlack(t, map[string]http.HandlerFunc{
		"/users.list": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "2", r.URL.Query().Get("limit"))
			_, _ = w.Write([]byte(`{"ok":true,"members":[{"id":"U1","name":"ada"},{"id":"U2","name":"grace"}]}`))
		},
	})

	out, err := a.Invoke(context.Background(), "get_users", testCredential(t), json.RawMessage(`{"limit":2}`))
	require.NoError(t, err)
	var resp struct {
		Members []struct {
			ID string `json:"id"`
		} `json:"members"`
	}
	require.NoError(t, json.Unmarshal(out, &resp))
	require.Len(t, resp.Members, 2)
	assert.Equal(t, "U2", resp.Members[1].ID)
}

func TestAdapter_GetUserProfile(t *testing.T) {
	a := newFakeSlack(t, map[string]http.HandlerFunc{
		"/users.profile.get": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "U1", r.URL.Query().Get("user"))
			_, _ = w.Write([]byte(`{"ok":true,"profile":{"real_name":"Ada Lovelace"}}`))
		},
	})

	out, err := a.Invoke(context.Background(), "get_user_profile", testCredential(t), json.RawMessage(`{"user":"U1"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true,"profile":{"real_name":"Ada Lovelace"}}`, string(out))
}
