// Package rag retrieves grounding context from an external
// similarity-search index. Retrieval is best-effort: any provider failure
// yields no context rather than failing the surrounding task.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Match is a scored fragment returned by the similarity index
type Match struct {
	ID       string `json:"id"`
	Score    float64 `json:"score"`
	Metadata struct {
		Text string `json:"text"`
	} `json:"metadata"`
}

// Config holds similarity-search provider settings
type Config struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	TopK           int
	ScoreThreshold float64
	Enabled        bool
}

// Retriever queries the similarity index and assembles context strings
type Retriever struct {
	httpClient *http.Client
	cfg        Config
}

func New(cfg Config) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Retriever{
		httpClient: &http.Client{Timeout: timeout},
		cfg:        cfg,
	}
}

// Enabled reports whether context retrieval is configured on
func (r *Retriever) Enabled() bool {
	return r.cfg.Enabled
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchResponse struct {
	Matches []Match `json:"matches"`
}

// Search returns the matches at or above the score threshold, best first
func (r *Retriever) Search(ctx context.Context, query string) ([]Match, error) {
	body, err := json.Marshal(searchRequest{Query: query, TopK: r.cfg.TopK})
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("similarity search returned HTTP %d", resp.StatusCode)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	matches := make([]Match, 0, len(sr.Matches))
	for _, m := range sr.Matches {
		if m.Score >= r.cfg.ScoreThreshold {
			matches = append(matches, m)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches, nil
}

// GetContext assembles a context string for the query: fragments in
// descending score order, each included whole or not at all, stopping
// before the cumulative length would exceed maxLength. Returns "" when
// nothing relevant is found or the provider is unavailable.
func (r *Retriever) GetContext(ctx context.Context, query string, maxLength int) string {
	if !r.cfg.Enabled {
		return ""
	}

	matches, err := r.Search(ctx, query)
	if err != nil {
		log.Warn().Err(err).Msg("Context retrieval failed, proceeding without context")
		return ""
	}
	if len(matches) == 0 {
		return ""
	}

	var parts []string
	total := 0
	for _, m := range matches {
		text := m.Metadata.Text
		if text == "" {
			continue
		}
		if total+len(text) > maxLength {
			break
		}
		parts = append(parts, text)
		total += len(text)
	}
	return strings.Join(parts, "\n")
}
