// ABOUTME: Tests for the Matrix adapter against an httptest fake homeserver
// ABOUTME: Covers credential parsing, verification, and each declared tool

package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolgate/internal/adapters"
	"github.com/2389/toolgate/internal/vault"
)

const testUser = "@bot:example.org"

type fakeHomeserver struct {
	*httptest.Server
	sent []map[string]any
}

func newFakeHomeserver(t *testing.T) *fakeHomeserver {
	t.Helper()
	f := &fakeHomeserver{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer syt-test" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"errcode":"M_UNKNOWN_TOKEN","error":"Unknown token"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		p := r.URL.Path
		switch {
		case p == "/_matrix/client/v3/account/whoami":
			_, _ = w.Write([]byte(`{"user_id":"` + testUser + `","device_id":"DEV1"}`))
		case p == "/_matrix/client/v3/joined_rooms":
			_, _ = w.Write([]byte(`{"joined_rooms":["!a:example.org","!b:example.org"]}`))
		case strings.HasPrefix(p, "/_matrix/client/v3/rooms/!forbidden"):
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errcode":"M_FORBIDDEN","error":"not in room"}`))
		case strings.HasPrefix(p, "/_matrix/client/v3/rooms/") && strings.Contains(p, "/send/m.room.message/"):
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.sent = append(f.sent, body)
			_, _ = w.Write([]byte(`{"event_id":"$ev1"}`))
		case strings.HasPrefix(p, "/_matrix/client/v3/profile/") && strings.HasSuffix(p, "/displayname"):
			_, _ = w.Write([]byte(`{"displayname":"Bot"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errcode":"M_UNRECOGNIZED","error":"unrecognized"}`))
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func credentialFor(t *testing.T, a *Adapter, homeserver, token string) *vault.Credential {
	t.Helper()
	body, _ := json.Marshal(Credential{Homeserver: homeserver, UserID: testUser, AccessToken: token})
	c, err := a.ParseCredential(body)
	require.NoError(t, err)
	return &c
}

func TestAdapter_DeclaresTools(t *testing.T) {
	var names []string
	for _, def := range New(Options{}).Tools() {
		names = append(names, def.Name)
		assert.True(t, def.RequiresAuth)
	}
	assert.ElementsMatch(t, []string{"whoami", "list_rooms", "send_message", "get_display_name"}, names)
}

func TestAdapter_ParseCredential(t *testing.T) {
	a := New(Options{})

	c := credentialFor(t, a, "https://matrix.example.org", "syt-test")
	assert.Equal(t, AppID, c.AppID)
	assert.Equal(t, testUser, c.Metadata["user_id"])

	var decoded Credential
	require.NoError(t, c.Decode(&decoded))
	assert.Equal(t, "syt-test", decoded.AccessToken)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing token", `{"homeserver":"https://m.org","user_id":"@a:m.org"}`, "access_token"},
		{"bad homeserver", `{"homeserver":"matrix.org","user_id":"@a:m.org","access_token":"x"}`, "homeserver"},
		{"bad user id", `{"homeserver":"https://m.org","user_id":"alice","access_token":"x"}`, "user_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.ParseCredential(json.RawMessage(tt.body))
			var verr *adapters.ValidationError
			require.ErrorAs(t, err, &verr)
			require.NotEmpty(t, verr.Fields)
			assert.Equal(t, tt.field, verr.Fields[0].Field)
		})
	}
}

func TestAdapter_Verify(t *testing.T) {
	hs := newFakeHomeserver(t)
	a := New(Options{HTTPClient: hs.Client()})

	require.NoError(t, a.Verify(context.Background(), credentialFor(t, a, hs.URL, "syt-test")))

	err := a.Verify(context.Background(), credentialFor(t, a, hs.URL, "wrong"))
	var aerr *adapters.AdapterError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, AppID, aerr.App)
}

func TestAdapter_ListRoomsAndSend(t *testing.T) {
	hs := newFakeHomeserver(t)
	a := New(Options{HTTPClient: hs.Client()})
	cred := credentialFor(t, a, hs.URL, "syt-test")
	ctx := context.Background()

	out, err := a.Invoke(ctx, "list_rooms", cred, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"rooms":["!a:example.org","!b:example.org"]}`, string(out))

	out, err = a.Invoke(ctx, "send_message", cred, json.RawMessage(`{"room_id":"!a:example.org","text":"hello"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event_id":"$ev1"}`, string(out))
	require.Len(t, hs.sent, 1)
	assert.Equal(t, "hello", hs.sent[0]["body"])
	assert.Equal(t, "m.text", hs.sent[0]["msgtype"])
}

func TestAdapter_DisplayNameDefaultsToSelf(t *testing.T) {
	hs := newFakeHomeserver(t)
	a := New(Options{HTTPClient: hs.Client()})

	out, err := a.Invoke(context.Background(), "get_display_name", credentialFor(t, a, hs.URL, "syt-test"), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_id":"`+testUser+`","display_name":"Bot"}`, string(out))
}

func TestAdapter_UpstreamFailure(t *testing.T) {
	hs := newFakeHomeserver(t)
	a := New(Options{HTTPClient: hs.Client()})

	_, err := a.Invoke(context.Background(), "send_message", credentialFor(t, a, hs.URL, "syt-test"),
		json.RawMessage(`{"room_id":"!forbidden:example.org","text":"x"}`))
	var aerr *adapters.AdapterError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, AppID, aerr.App)
}

func TestAdapter_RequiresCredential(t *testing.T) {
	_, err := New(Options{}).Invoke(context.Background(), "whoami", nil, nil)
	assert.True(t, errors.Is(err, vault.ErrNotConnected))
}
