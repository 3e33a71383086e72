package nlp

import (
	"encoding/json"
	"fmt"
)

const (
	// DefaultContextLength caps retrieved context when the caller does not specify one
	DefaultContextLength = 1000

	// DefaultSummaryLength is the default max_length for summarization
	DefaultSummaryLength = 150
)

// ErrInvalidParameters is returned when kind-specific required fields are
// missing or malformed. Rejected before any persistence.
type ErrInvalidParameters struct {
	Kind   Kind
	Reason string
}

func (e *ErrInvalidParameters) Error() string {
	return fmt.Sprintf("invalid parameters for %s: %s", e.Kind, e.Reason)
}

// Params is the kind-specific parameter payload of a task. Each kind has
// its own concrete type; loosely-typed external requests are converted via
// DecodeParams at the orchestration boundary.
type Params interface {
	Kind() Kind
	Validate() error

	// Context returns whether retrieved context should be fetched and the
	// maximum context length in characters.
	Context() (bool, int)

	// fingerprint returns the fields that contribute to the input
	// fingerprint. Retrieval settings are excluded: they shape the prompt,
	// not the requested operation.
	fingerprint() any
}

// RetrievalOptions are shared by every kind
type RetrievalOptions struct {
	UseRAG        bool `json:"use_rag,omitempty"`
	ContextLength int  `json:"context_length,omitempty"`
}

func (o RetrievalOptions) Context() (bool, int) {
	n := o.ContextLength
	if n <= 0 {
		n = DefaultContextLength
	}
	return o.UseRAG, n
}

// ClassificationParams are parameters for classification tasks
type ClassificationParams struct {
	Categories []string `json:"categories"`
	RetrievalOptions
}

func (p ClassificationParams) Kind() Kind { return KindClassification }

func (p ClassificationParams) Validate() error {
	if len(p.Categories) == 0 {
		return &ErrInvalidParameters{Kind: KindClassification, Reason: "categories must not be empty"}
	}
	return nil
}

func (p ClassificationParams) fingerprint() any {
	return struct {
		Categories []string `json:"categories"`
	}{p.Categories}
}

// EntityExtractionParams are parameters for entity extraction tasks
type EntityExtractionParams struct {
	EntityTypes []string `json:"entity_types"`
	RetrievalOptions
}

func (p EntityExtractionParams) Kind() Kind { return KindEntityExtraction }

func (p EntityExtractionParams) Validate() error {
	if len(p.EntityTypes) == 0 {
		return &ErrInvalidParameters{Kind: KindEntityExtraction, Reason: "entity_types must not be empty"}
	}
	return nil
}

func (p EntityExtractionParams) fingerprint() any {
	return struct {
		EntityTypes []string `json:"entity_types"`
	}{p.EntityTypes}
}

// SummarizationParams are parameters for summarization tasks
type SummarizationParams struct {
	MaxLength int `json:"max_length"`
	RetrievalOptions
}

func (p SummarizationParams) Kind() Kind { return KindSummarization }

func (p SummarizationParams) Validate() error {
	if p.MaxLength < 0 {
		return &ErrInvalidParameters{Kind: KindSummarization, Reason: "max_length must not be negative"}
	}
	return nil
}

// EffectiveMaxLength returns the configured max length or the default
func (p SummarizationParams) EffectiveMaxLength() int {
	if p.MaxLength <= 0 {
		return DefaultSummaryLength
	}
	return p.MaxLength
}

func (p SummarizationParams) fingerprint() any {
	return struct {
		MaxLength int `json:"max_length"`
	}{p.EffectiveMaxLength()}
}

// SentimentParams are parameters for sentiment analysis tasks
type SentimentParams struct {
	RetrievalOptions
}

func (p SentimentParams) Kind() Kind { return KindSentimentAnalysis }

func (p SentimentParams) Validate() error { return nil }

func (p SentimentParams) fingerprint() any {
	return struct{}{}
}

// DecodeParams converts a loosely-typed parameter payload into the typed
// variant for the given kind and validates it.
func DecodeParams(kind Kind, raw json.RawMessage) (Params, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	var p Params
	switch kind {
	case KindClassification:
		var cp ClassificationParams
		if err := json.Unmarshal(raw, &cp); err != nil {
			return nil, &ErrInvalidParameters{Kind: kind, Reason: err.Error()}
		}
		p = cp
	case KindEntityExtraction:
		var ep EntityExtractionParams
		if err := json.Unmarshal(raw, &ep); err != nil {
			return nil, &ErrInvalidParameters{Kind: kind, Reason: err.Error()}
		}
		p = ep
	case KindSummarization:
		var sp SummarizationParams
		if err := json.Unmarshal(raw, &sp); err != nil {
			return nil, &ErrInvalidParameters{Kind: kind, Reason: err.Error()}
		}
		p = sp
	case KindSentimentAnalysis:
		var sp SentimentParams
		if err := json.Unmarshal(raw, &sp); err != nil {
			return nil, &ErrInvalidParameters{Kind: kind, Reason: err.Error()}
		}
		p = sp
	default:
		return nil, &ErrInvalidTaskKind{Kind: string(kind)}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// EncodeParams serializes typed parameters for persistence
func EncodeParams(p Params) (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode parameters: %w", err)
	}
	return data, nil
}
