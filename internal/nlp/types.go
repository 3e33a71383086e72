package nlp

import "fmt"

// Kind identifies an NLP operation
type Kind string

const (
	KindClassification    Kind = "classification"
	KindEntityExtraction  Kind = "entity_extraction"
	KindSummarization     Kind = "summarization"
	KindSentimentAnalysis Kind = "sentiment_analysis"
)

// ErrInvalidTaskKind is returned for task kinds the service does not support
type ErrInvalidTaskKind struct {
	Kind string
}

func (e *ErrInvalidTaskKind) Error() string {
	return fmt.Sprintf("invalid task kind: %q", e.Kind)
}

// ParseKind validates a raw kind string
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindClassification, KindEntityExtraction, KindSummarization, KindSentimentAnalysis:
		return Kind(s), nil
	}
	return "", &ErrInvalidTaskKind{Kind: s}
}

// Kinds returns all supported task kinds
func Kinds() []Kind {
	return []Kind{KindClassification, KindEntityExtraction, KindSummarization, KindSentimentAnalysis}
}

// Status is the lifecycle state of a task or batch job
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further automatic transition occurs from s
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Lifecycle event names delivered to webhook subscribers
const (
	EventTaskCompleted  = "task.completed"
	EventTaskFailed     = "task.failed"
	EventBatchCompleted = "batch.completed"
	EventBatchFailed    = "batch.failed"
)

// ClassificationResult is the structured output of a classification task
type ClassificationResult struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// Entity is a single extracted span
type Entity struct {
	Text       string  `json:"text"`
	Type       string  `json:"type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
}

// EntityExtractionResult is the structured output of an entity extraction task
type EntityExtractionResult struct {
	Entities []Entity `json:"entities"`
}

// SummarizationResult is the structured output of a summarization task
type SummarizationResult struct {
	Summary          string  `json:"summary"`
	OriginalLength   int     `json:"original_length"`
	SummaryLength    int     `json:"summary_length"`
	CompressionRatio float64 `json:"compression_ratio"`
}

// SentimentResult is the structured output of a sentiment analysis task
type SentimentResult struct {
	Sentiment  string  `json:"sentiment"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}
