package database

import (
	"encoding/json"
	"time"

	"github.com/nlpgrid/nlp-service/internal/nlp"
)

// Task is a persisted NLP operation. Result and Error are mutually
// exclusive; both are nil while the task is pending or processing.
type Task struct {
	ID               string          `json:"id"`
	Kind             nlp.Kind        `json:"task_type"`
	Status           nlp.Status      `json:"status"`
	InputText        string          `json:"input_text"`
	InputFingerprint string          `json:"input_fingerprint"`
	Parameters       json.RawMessage `json:"parameters,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`
	Error            *string         `json:"error,omitempty"`
	FromCache        bool            `json:"from_cache,omitempty"`
	BatchJobID       *string         `json:"batch_job_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        *time.Time      `json:"updated_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	ProcessingTime   *float64        `json:"processing_time,omitempty"`
}

// BatchJob is a collection of tasks submitted together. Results maps task
// id to the task result or error once the job is terminal.
type BatchJob struct {
	ID             string          `json:"id"`
	Status         nlp.Status      `json:"status"`
	TotalTasks     int             `json:"total_tasks"`
	CompletedTasks int             `json:"completed_tasks"`
	FailedTasks    int             `json:"failed_tasks"`
	Results        json.RawMessage `json:"results,omitempty"`
	Error          *string         `json:"error,omitempty"`
	WebhookID      *string         `json:"webhook_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      *time.Time      `json:"updated_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	ProcessingTime *float64        `json:"processing_time,omitempty"`
}

// Webhook is a registered notification subscriber. Secret is set at
// creation and never re-exposed through the API.
type Webhook struct {
	ID            string     `json:"id"`
	URL           string     `json:"url"`
	Events        []string   `json:"events"`
	Description   *string    `json:"description,omitempty"`
	Secret        string     `json:"-"`
	IsActive      bool       `json:"is_active"`
	FailureCount  int        `json:"failure_count"`
	LastTriggered *time.Time `json:"last_triggered,omitempty"`
	LastStatus    *int       `json:"last_status,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

// SubscribesTo reports whether the webhook wants the given event
func (w *Webhook) SubscribesTo(event string) bool {
	for _, e := range w.Events {
		if e == event || e == "*" {
			return true
		}
	}
	return false
}
