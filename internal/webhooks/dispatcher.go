// Package webhooks delivers signed lifecycle-event notifications to
// registered subscriber URLs with bounded retries and automatic
// suspension of chronically failing subscribers.
package webhooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nlpgrid/nlp-service/internal/database"
	"github.com/nlpgrid/nlp-service/internal/queue"
	"github.com/nlpgrid/nlp-service/internal/telemetry"
)

// UserAgent identifies the service on outbound deliveries
const UserAgent = "NLP-Pipeline-Service/1.0"

var (
	// ErrNotFound means the webhook id resolves to nothing; no network
	// call is made.
	ErrNotFound = errors.New("webhook not found")

	// ErrInactive means the webhook is suspended; no network call is
	// made. Reactivation is an explicit operator action.
	ErrInactive = errors.New("webhook is inactive")
)

// DeliveryError reports a delivery that did not reach the subscriber
type DeliveryError struct {
	WebhookID   string
	Attempts    int
	LastStatus  int
	Deactivated bool
}

func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("webhook %s delivery failed after %d attempts", e.WebhookID, e.Attempts)
	if e.LastStatus != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.LastStatus)
	}
	if e.Deactivated {
		msg += "; webhook deactivated"
	}
	return msg
}

// Store is the webhook persistence the dispatcher needs. Implemented by
// database.WebhookStore.
type Store interface {
	Get(ctx context.Context, id string) (*database.Webhook, error)
	ListActiveForEvent(ctx context.Context, event string) ([]*database.Webhook, error)
	RecordSuccess(ctx context.Context, id string, status int, at time.Time) error
	RecordFailure(ctx context.Context, id string, status *int, maxFailures int) (int, bool, error)
}

// Config holds delivery settings
type Config struct {
	MaxRetries  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	MaxFailures int
}

// Enqueuer hands published deliveries to the background queue.
// Satisfied by queue.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, operation, recordID string, payload any) (string, error)
}

// Delivery is the queued form of one pending notification.
type Delivery struct {
	Event   string  `json:"event"`
	Payload Payload `json:"payload"`
}

// Dispatcher delivers signed notifications. Each Notify call owns its own
// retry schedule; callers run deliveries on separate goroutines so one
// webhook's retry delay never stalls another's.
type Dispatcher struct {
	store      Store
	httpClient *http.Client
	cfg        Config
	queue      Enqueuer
}

// UseQueue routes Publish fan-out through the background queue instead
// of in-process goroutines, so retry delays run on workers.
func (d *Dispatcher) UseQueue(q Enqueuer) {
	d.queue = q
}

func NewDispatcher(store Store, cfg Config) *Dispatcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	return &Dispatcher{
		store:      store,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
	}
}

// Notify delivers one event to one subscriber. The call is final: on
// exhaustion or deactivation the caller must not retry.
func (d *Dispatcher) Notify(ctx context.Context, webhookID, event string, payload Payload) error {
	webhook, err := d.store.Get(ctx, webhookID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			log.Error().Str("webhook_id", webhookID).Msg("Webhook not found")
			return ErrNotFound
		}
		return fmt.Errorf("failed to load webhook %s: %w", webhookID, err)
	}
	if !webhook.IsActive {
		log.Warn().Str("webhook_id", webhookID).Msg("Webhook is inactive, skipping delivery")
		return ErrInactive
	}

	body, err := CanonicalBody(payload)
	if err != nil {
		return err
	}
	signature := Sign(body, webhook.Secret)

	var lastStatus int
	for attempt := 1; attempt <= d.cfg.MaxRetries; attempt++ {
		status, ok := d.attempt(ctx, webhook.URL, webhookID, body, signature)

		if ok {
			if err := d.store.RecordSuccess(ctx, webhookID, status, time.Now().UTC()); err != nil {
				return err
			}
			log.Info().Str("webhook_id", webhookID).Str("event", event).
				Int("status_code", status).Msg("Webhook delivered")
			telemetry.WebhookDeliveries.WithLabelValues("delivered").Inc()
			return nil
		}

		var statusPtr *int
		if status != 0 {
			lastStatus = status
			statusPtr = &status
		}

		failureCount, active, err := d.store.RecordFailure(ctx, webhookID, statusPtr, d.cfg.MaxFailures)
		if err != nil {
			return err
		}
		log.Error().Str("webhook_id", webhookID).Str("event", event).
			Int("attempt", attempt).Int("failure_count", failureCount).
			Msg("Webhook delivery attempt failed")

		// Deactivation takes priority over remaining attempts
		if !active {
			log.Warn().Str("webhook_id", webhookID).Int("failure_count", failureCount).
				Msg("Webhook deactivated after repeated failures")
			telemetry.WebhookDeliveries.WithLabelValues("deactivated").Inc()
			return &DeliveryError{WebhookID: webhookID, Attempts: attempt, LastStatus: lastStatus, Deactivated: true}
		}

		if attempt < d.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.cfg.RetryDelay):
			}
		}
	}

	telemetry.WebhookDeliveries.WithLabelValues("exhausted").Inc()
	return &DeliveryError{WebhookID: webhookID, Attempts: d.cfg.MaxRetries, LastStatus: lastStatus}
}

// Publish delivers an event to every active subscriber of that event.
// With a queue attached each delivery becomes a send_webhook item;
// otherwise deliveries run on in-process goroutines. Individual failures
// are already persisted as webhook state, so they are logged rather than
// returned.
func (d *Dispatcher) Publish(ctx context.Context, event string, payload Payload) {
	subscribers, err := d.store.ListActiveForEvent(ctx, event)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("Failed to list webhook subscribers")
		return
	}

	for _, webhook := range subscribers {
		if d.queue != nil {
			work := Delivery{Event: event, Payload: payload}
			if _, err := d.queue.Enqueue(ctx, queue.OpSendWebhook, webhook.ID, work); err != nil {
				log.Error().Err(err).Str("webhook_id", webhook.ID).Str("event", event).
					Msg("Failed to enqueue webhook delivery")
			}
			continue
		}
		go func(id string) {
			if err := d.Notify(ctx, id, event, payload); err != nil {
				log.Error().Err(err).Str("webhook_id", id).Str("event", event).
					Msg("Webhook delivery failed")
			}
		}(webhook.ID)
	}
}

// attempt performs a single delivery attempt. Returns the HTTP status (0
// for transport-level failures) and whether it counts as a success.
func (d *Dispatcher) attempt(ctx context.Context, url, webhookID string, body []byte, signature string) (int, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("X-Webhook-ID", webhookID)
	req.Header.Set("X-Webhook-Signature", signature)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, false
	}
	resp.Body.Close()

	return resp.StatusCode, resp.StatusCode >= 200 && resp.StatusCode < 300
}
