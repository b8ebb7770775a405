// ABOUTME: Tests for free-text tool guessing
// ABOUTME: Covers ranking, determinism, tie-breaking, and term normalization

package packs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolgate/internal/adapters"
)

func TestGuess_MessagingAboveSourceControl(t *testing.T) {
	r := newTestRegistry(t, sourceControlApp(), messagingApp())

	matches := r.Guess("send a message to a channel", 0)
	require.NotEmpty(t, matches)
	assert.Equal(t, "slack.post_message", matches[0].Tool.QualifiedName())

	for _, m := range matches {
		assert.NotEqual(t, "github", m.Tool.AppID, "source-control tools share no terms with the query")
	}
}

func TestGuess_Repositories(t *testing.T) {
	r := newTestRegistry(t, sourceControlApp(), messagingApp())

	matches := r.Guess("list my repos", 1)
	require.Len(t, matches, 1)
	assert.Equal(t, "list_repositories", matches[0].Tool.Name)
}

func TestGuess_Deterministic(t *testing.T) {
	r := newTestRegistry(t, sourceControlApp(), messagingApp())

	first := r.Guess("list issues in a repository", 0)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, r.Guess("list issues in a repository", 0))
	}
}

func TestGuess_TiesBrokenByLowerID(t *testing.T) {
	twins := &fakeAdapter{id: "twins", defs: []adapters.ToolDef{
		def("beta", "frobnicate widgets"),
		def("alpha", "frobnicate widgets"),
	}}
	r := newTestRegistry(t, twins)

	matches := r.Guess("frobnicate", 0)
	require.Len(t, matches, 2)
	assert.Equal(t, matches[0].Score, matches[1].Score)
	assert.Less(t, matches[0].Tool.ID, matches[1].Tool.ID)
}

func TestGuess_EmptyOrNoMatch(t *testing.T) {
	r := newTestRegistry(t, sourceControlApp())

	assert.Empty(t, r.Guess("", 0))
	assert.Empty(t, r.Guess("the a of", 0), "stopwords only")
	assert.Empty(t, r.Guess("quantum teleportation", 0))
}

func TestGuess_ScoreBounds(t *testing.T) {
	r := newTestRegistry(t, messagingApp())

	for _, m := range r.Guess("post message", 0) {
		assert.Greater(t, m.Score, 0.0)
		assert.LessOrEqual(t, m.Score, 1.0)
	}
}

func TestTerms(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Send a Message", []string{"post", "message"}},
		{"list_pull_requests", []string{"list", "pull", "request"}},
		{"repositories", []string{"repository"}},
		{"class", []string{"class"}},
		{"get-thread-replies!", []string{"get", "thread", "thread"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, terms(tt.in))
		})
	}
}
