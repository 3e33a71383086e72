package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookStore persists Webhook records. Failure bookkeeping is done with
// single-statement read-modify-writes so concurrent deliveries to the same
// webhook never lose increments.
type WebhookStore struct {
	pool *pgxpool.Pool
}

func NewWebhookStore(pool *pgxpool.Pool) *WebhookStore {
	return &WebhookStore{pool: pool}
}

const webhookColumns = `id, url, events, description, secret, is_active, failure_count,
	last_triggered, last_status, created_at, updated_at`

func scanWebhook(row pgx.Row) (*Webhook, error) {
	var w Webhook
	var events json.RawMessage
	err := row.Scan(
		&w.ID, &w.URL, &events, &w.Description, &w.Secret, &w.IsActive, &w.FailureCount,
		&w.LastTriggered, &w.LastStatus, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan webhook: %w", err)
	}
	if err := json.Unmarshal(events, &w.Events); err != nil {
		return nil, fmt.Errorf("failed to decode webhook events: %w", err)
	}
	return &w, nil
}

// Create inserts a new active webhook with the given server-generated secret
func (s *WebhookStore) Create(ctx context.Context, url string, events []string, description *string, secret string) (*Webhook, error) {
	id := uuid.NewString()
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook events: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO webhooks (id, url, events, description, secret)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+webhookColumns+`
	`, id, url, eventsJSON, description, secret)
	return scanWebhook(row)
}

// Get returns the webhook with the given id
func (s *WebhookStore) Get(ctx context.Context, id string) (*Webhook, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id)
	return scanWebhook(row)
}

// List returns all registered webhooks
func (s *WebhookStore) List(ctx context.Context) ([]*Webhook, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+webhookColumns+` FROM webhooks ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	webhooks := make([]*Webhook, 0)
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

// ListActiveForEvent returns active webhooks subscribed to the given event
func (s *WebhookStore) ListActiveForEvent(ctx context.Context, event string) ([]*Webhook, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+webhookColumns+` FROM webhooks
		WHERE is_active AND (events ? $1 OR events ? '*')
		ORDER BY created_at
	`, event)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks for event %s: %w", event, err)
	}
	defer rows.Close()

	webhooks := make([]*Webhook, 0)
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

// Delete removes a webhook. Returns ErrNotFound if it does not exist.
func (s *WebhookStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordSuccess resets the consecutive-failure counter after a delivery
// reached the subscriber
func (s *WebhookStore) RecordSuccess(ctx context.Context, id string, status int, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhooks
		SET failure_count = 0, last_triggered = $2, last_status = $3, updated_at = NOW()
		WHERE id = $1
	`, id, at, status)
	if err != nil {
		return fmt.Errorf("failed to record webhook success: %w", err)
	}
	return nil
}

// RecordFailure atomically increments the consecutive-failure counter and
// deactivates the webhook once it reaches maxFailures. Returns the new
// counter value and whether the webhook is still active, so two concurrent
// deliveries cannot both increment past the threshold unobserved.
func (s *WebhookStore) RecordFailure(ctx context.Context, id string, status *int, maxFailures int) (int, bool, error) {
	var failureCount int
	var isActive bool
	err := s.pool.QueryRow(ctx, `
		UPDATE webhooks
		SET failure_count = failure_count + 1,
			is_active = is_active AND (failure_count + 1 < $2),
			last_status = $3,
			updated_at = NOW()
		WHERE id = $1
		RETURNING failure_count, is_active
	`, id, maxFailures, status).Scan(&failureCount, &isActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, ErrNotFound
		}
		return 0, false, fmt.Errorf("failed to record webhook failure: %w", err)
	}
	return failureCount, isActive, nil
}

// Reactivate re-enables a deactivated webhook and clears its failure count.
// Explicit operator action, never automatic.
func (s *WebhookStore) Reactivate(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhooks SET is_active = TRUE, failure_count = 0, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to reactivate webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// NewWebhookID generates a webhook identifier
func NewWebhookID() string {
	return uuid.NewString()
}
