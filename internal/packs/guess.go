// ABOUTME: Deterministic tool guessing by free-text description.
// ABOUTME: Scores term overlap with tool names and descriptions; ties go to the lower id.

package packs

import (
	"sort"
	"strings"
	"unicode"
)

const (
	nameWeight = 2
	descWeight = 1
)

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "to": true, "of": true, "in": true, "on": true,
	"for": true, "and": true, "or": true, "with": true, "from": true, "by": true, "at": true,
	"my": true, "me": true, "i": true, "is": true, "it": true, "this": true, "that": true,
	"into": true, "all": true, "any": true, "some": true, "please": true,
}

// synonyms fold related verbs and nouns onto one term.
var synonyms = map[string]string{
	"send":         "post",
	"write":        "post",
	"msg":          "message",
	"repo":         "repository",
	"pr":           "pull",
	"ticket":       "issue",
	"bug":          "issue",
	"fetch":        "get",
	"show":         "get",
	"read":         "get",
	"find":         "list",
	"emoji":        "reaction",
	"react":        "reaction",
	"reply":        "thread",
	"conversation": "channel",
}

// termSet maps a term to its best weight within one tool.
type termSet map[string]int

// Match is a guessed tool with its score.
type Match struct {
	Tool  *Tool   `json:"tool"`
	Score float64 `json:"score"`
}

func indexTool(t *Tool) termSet {
	ts := termSet{}
	for _, term := range terms(t.Description) {
		ts[term] = descWeight
	}
	for _, term := range terms(t.AppID) {
		ts[term] = descWeight
	}
	for _, term := range terms(t.Name) {
		ts[term] = nameWeight
	}
	return ts
}

// terms splits text into normalized search terms.
func terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if stopwords[f] {
			continue
		}
		f = stem(f)
		if s, ok := synonyms[f]; ok {
			f = s
		}
		out = append(out, f)
	}
	return out
}

func stem(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		return w[:len(w)-1]
	}
	return w
}

// Guess ranks tools by how well their name and description match text.
// Only tools with a positive score are returned; limit <= 0 means no limit.
func (r *Registry) Guess(text string, limit int) []Match {
	query := map[string]bool{}
	for _, term := range terms(text) {
		query[term] = true
	}
	if len(query) == 0 {
		return nil
	}

	var matches []Match
	for _, t := range r.List() {
		total := 0
		for term := range query {
			total += t.terms[term]
		}
		if total == 0 {
			continue
		}
		matches = append(matches, Match{
			Tool:  t,
			Score: float64(total) / float64(nameWeight*len(query)),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Tool.ID < matches[j].Tool.ID
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
