package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRetriever(url string) *Retriever {
	return New(Config{
		BaseURL:        url,
		APIKey:         "test",
		Timeout:        2 * time.Second,
		TopK:           3,
		ScoreThreshold: 0.7,
		Enabled:        true,
	})
}

func matchesResponse(matches ...map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"matches": matches})
	}
}

func match(id string, score float64, text string) map[string]any {
	return map[string]any{"id": id, "score": score, "metadata": map[string]any{"text": text}}
}

func TestSearchFiltersByThresholdAndSorts(t *testing.T) {
	srv := httptest.NewServer(matchesResponse(
		match("low", 0.5, "irrelevant"),
		match("mid", 0.8, "somewhat relevant"),
		match("high", 0.95, "very relevant"),
	))
	defer srv.Close()

	r := newTestRetriever(srv.URL)
	matches, err := r.Search(context.Background(), "query")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "high", matches[0].ID)
	assert.Equal(t, "mid", matches[1].ID)
}

func TestGetContextPacksWholeFragments(t *testing.T) {
	srv := httptest.NewServer(matchesResponse(
		match("a", 0.9, "aaaaa"),      // 5 chars
		match("b", 0.8, "bbbbbbbbbb"), // 10 chars, would overflow
		match("c", 0.75, "ccc"),       // skipped too: packing stops at first overflow
	))
	defer srv.Close()

	r := newTestRetriever(srv.URL)
	got := r.GetContext(context.Background(), "query", 12)
	assert.Equal(t, "aaaaa", got)
}

func TestGetContextJoinsWithNewline(t *testing.T) {
	srv := httptest.NewServer(matchesResponse(
		match("a", 0.9, "first"),
		match("b", 0.8, "second"),
	))
	defer srv.Close()

	r := newTestRetriever(srv.URL)
	got := r.GetContext(context.Background(), "query", 100)
	assert.Equal(t, "first\nsecond", got)
}

func TestGetContextSwallowsProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := newTestRetriever(srv.URL)
	assert.Equal(t, "", r.GetContext(context.Background(), "query", 100))
}

func TestGetContextDisabled(t *testing.T) {
	r := New(Config{Enabled: false})
	assert.Equal(t, "", r.GetContext(context.Background(), "query", 100))
}

func TestGetContextNoMatchesAboveThreshold(t *testing.T) {
	srv := httptest.NewServer(matchesResponse(match("low", 0.1, "noise")))
	defer srv.Close()

	r := newTestRetriever(srv.URL)
	assert.Equal(t, "", r.GetContext(context.Background(), "query", 100))
}
