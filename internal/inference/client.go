// Package inference is a pure adapter around the external UltraSafe NLP
// API: one operation per task kind, a fixed attempt budget, no caching and
// no business logic.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/nlpgrid/nlp-service/internal/nlp"
)

// ExhaustedError is returned when all attempts against the provider failed
type ExhaustedError struct {
	Endpoint   string
	Attempts   int
	LastStatus int
	LastErr    error
}

func (e *ExhaustedError) Error() string {
	msg := fmt.Sprintf("inference call %s failed after %d attempts", e.Endpoint, e.Attempts)
	if e.LastStatus != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.LastStatus)
	}
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }

// ProtocolError is returned when the provider answered but the body could
// not be interpreted. Not retried: the provider is reachable but broken.
type ProtocolError struct {
	Endpoint string
	Reason   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("inference protocol error on %s: %s", e.Endpoint, e.Reason)
}

// Config holds provider connection settings
type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64
}

// Client calls the UltraSafe API with a per-attempt timeout and a
// client-side throttle to respect the provider's rate limits
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	attempts   int
	limiter    *rate.Limiter
}

func New(cfg Config) *Client {
	attempts := cfg.MaxRetries
	if attempts <= 0 {
		attempts = 3
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		attempts:   attempts,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
}

type classifyRequest struct {
	Text       string   `json:"text"`
	Categories []string `json:"categories"`
	Context    string   `json:"context,omitempty"`
}

// Classify assigns the text to one of the given categories
func (c *Client) Classify(ctx context.Context, text string, categories []string, contextText string) (*nlp.ClassificationResult, error) {
	var result nlp.ClassificationResult
	err := c.post(ctx, "classify", classifyRequest{Text: text, Categories: categories, Context: contextText}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

type extractRequest struct {
	Text        string   `json:"text"`
	EntityTypes []string `json:"entity_types"`
	Context     string   `json:"context,omitempty"`
}

// ExtractEntities finds spans of the given entity types in the text
func (c *Client) ExtractEntities(ctx context.Context, text string, entityTypes []string, contextText string) (*nlp.EntityExtractionResult, error) {
	var result nlp.EntityExtractionResult
	err := c.post(ctx, "extract-entities", extractRequest{Text: text, EntityTypes: entityTypes, Context: contextText}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

type summarizeRequest struct {
	Text      string `json:"text"`
	MaxLength int    `json:"max_length"`
	Context   string `json:"context,omitempty"`
}

// Summarize produces a summary of at most maxLength characters
func (c *Client) Summarize(ctx context.Context, text string, maxLength int, contextText string) (*nlp.SummarizationResult, error) {
	var result nlp.SummarizationResult
	err := c.post(ctx, "summarize", summarizeRequest{Text: text, MaxLength: maxLength, Context: contextText}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

type sentimentRequest struct {
	Text    string `json:"text"`
	Context string `json:"context,omitempty"`
}

// AnalyzeSentiment scores the sentiment of the text
func (c *Client) AnalyzeSentiment(ctx context.Context, text string, contextText string) (*nlp.SentimentResult, error) {
	var result nlp.SentimentResult
	err := c.post(ctx, "analyze-sentiment", sentimentRequest{Text: text, Context: contextText}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// post runs the request/response cycle with the fixed attempt budget.
// Transport errors and non-2xx responses consume attempts; a readable 2xx
// with an undecodable body is a protocol error and is not retried.
func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", endpoint, err)
	}
	url := fmt.Sprintf("%s/%s", c.baseURL, endpoint)

	var lastStatus int
	var lastErr error

	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("inference throttle: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build %s request: %w", endpoint, err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("endpoint", endpoint).Int("attempt", attempt).
				Msg("Inference request failed")
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastStatus = resp.StatusCode
			lastErr = nil
			log.Warn().Int("status", resp.StatusCode).Str("endpoint", endpoint).
				Int("attempt", attempt).Msg("Inference provider returned error status")
			continue
		}

		if readErr != nil {
			return &ProtocolError{Endpoint: endpoint, Reason: "truncated response body: " + readErr.Error()}
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return &ProtocolError{Endpoint: endpoint, Reason: "malformed response body: " + err.Error()}
		}
		return nil
	}

	return &ExhaustedError{
		Endpoint:   endpoint,
		Attempts:   c.attempts,
		LastStatus: lastStatus,
		LastErr:    lastErr,
	}
}
