package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlpgrid/nlp-service/internal/database"
	"github.com/nlpgrid/nlp-service/internal/queue"
)

// fakeStore is an in-memory Store with the same atomicity guarantees as
// the SQL implementation
type fakeStore struct {
	mu       sync.Mutex
	webhooks map[string]*database.Webhook
}

func newFakeStore(webhooks ...*database.Webhook) *fakeStore {
	s := &fakeStore{webhooks: make(map[string]*database.Webhook)}
	for _, w := range webhooks {
		s.webhooks[w.ID] = w
	}
	return s
}

func (s *fakeStore) Get(_ context.Context, id string) (*database.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.webhooks[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *w
	return &copied, nil
}

func (s *fakeStore) ListActiveForEvent(_ context.Context, event string) ([]*database.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.Webhook
	for _, w := range s.webhooks {
		if w.IsActive && w.SubscribesTo(event) {
			copied := *w
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeStore) RecordSuccess(_ context.Context, id string, status int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.webhooks[id]
	w.FailureCount = 0
	w.LastStatus = &status
	w.LastTriggered = &at
	return nil
}

func (s *fakeStore) RecordFailure(_ context.Context, id string, status *int, maxFailures int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.webhooks[id]
	if !ok {
		return 0, false, database.ErrNotFound
	}
	w.FailureCount++
	if w.FailureCount >= maxFailures {
		w.IsActive = false
	}
	if status != nil {
		w.LastStatus = status
	}
	return w.FailureCount, w.IsActive, nil
}

func testConfig() Config {
	return Config{
		MaxRetries:  3,
		RetryDelay:  10 * time.Millisecond,
		Timeout:     2 * time.Second,
		MaxFailures: 3,
	}
}

func activeWebhook(id, url string) *database.Webhook {
	return &database.Webhook{
		ID:       id,
		URL:      url,
		Events:   []string{"task.completed", "task.failed"},
		Secret:   "test-secret",
		IsActive: true,
	}
}

func TestNotifyUnknownWebhook(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	d := NewDispatcher(newFakeStore(), testConfig())
	err := d.Notify(context.Background(), "nope", "task.completed", Payload{"event": "task.completed"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))
}

func TestNotifyInactiveWebhookMakesNoCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	hook := activeWebhook("wh-1", srv.URL)
	hook.IsActive = false

	d := NewDispatcher(newFakeStore(hook), testConfig())
	err := d.Notify(context.Background(), "wh-1", "task.completed", Payload{"event": "task.completed"})
	assert.ErrorIs(t, err, ErrInactive)
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))
}

func TestNotifySuccessSignsAndResets(t *testing.T) {
	var gotBody []byte
	var gotSig, gotID, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotID = r.Header.Get("X-Webhook-ID")
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook := activeWebhook("wh-1", srv.URL)
	hook.FailureCount = 2 // prior failures must reset on success
	store := newFakeStore(hook)

	d := NewDispatcher(store, testConfig())
	err := d.Notify(context.Background(), "wh-1", "task.completed", Payload{
		"event":   "task.completed",
		"task_id": "t-1",
		"result":  map[string]any{"category": "positive", "confidence": 0.95},
	})
	require.NoError(t, err)

	// Signature round-trip over the exact delivered body
	assert.True(t, VerifySignature(gotBody, "test-secret", gotSig))
	assert.Equal(t, "wh-1", gotID)
	assert.Equal(t, UserAgent, gotUA)

	stored, _ := store.Get(context.Background(), "wh-1")
	assert.Equal(t, 0, stored.FailureCount)
	require.NotNil(t, stored.LastStatus)
	assert.Equal(t, http.StatusOK, *stored.LastStatus)
	assert.NotNil(t, stored.LastTriggered)
}

func TestNotifyDeactivatesAtThreshold(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newFakeStore(activeWebhook("wh-1", srv.URL))
	d := NewDispatcher(store, testConfig())

	err := d.Notify(context.Background(), "wh-1", "task.failed", Payload{"event": "task.failed"})
	require.Error(t, err)

	var deliveryErr *DeliveryError
	require.ErrorAs(t, err, &deliveryErr)
	assert.True(t, deliveryErr.Deactivated)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))

	stored, _ := store.Get(context.Background(), "wh-1")
	assert.False(t, stored.IsActive)
	assert.Equal(t, 3, stored.FailureCount)

	// Further deliveries are rejected without a network call
	err = d.Notify(context.Background(), "wh-1", "task.failed", Payload{"event": "task.failed"})
	assert.ErrorIs(t, err, ErrInactive)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestNotifyExhaustsWithoutDeactivation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxFailures = 10
	store := newFakeStore(activeWebhook("wh-1", srv.URL))
	d := NewDispatcher(store, cfg)

	err := d.Notify(context.Background(), "wh-1", "task.completed", Payload{"event": "task.completed"})
	require.Error(t, err)

	var deliveryErr *DeliveryError
	require.ErrorAs(t, err, &deliveryErr)
	assert.False(t, deliveryErr.Deactivated)
	assert.Equal(t, 3, deliveryErr.Attempts)
	assert.Equal(t, http.StatusBadGateway, deliveryErr.LastStatus)

	stored, _ := store.Get(context.Background(), "wh-1")
	assert.True(t, stored.IsActive)
	assert.Equal(t, 3, stored.FailureCount)
}

type recordingQueue struct {
	mu    sync.Mutex
	items []queue.Item
}

func (q *recordingQueue) Enqueue(_ context.Context, operation, recordID string, payload any) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	q.items = append(q.items, queue.Item{Operation: operation, RecordID: recordID, Payload: encoded})
	return "item-1", nil
}

func TestPublishEnqueuesForSubscribers(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	subscribed := activeWebhook("wh-1", srv.URL)
	other := activeWebhook("wh-2", srv.URL)
	other.Events = []string{"batch.completed"}
	store := newFakeStore(subscribed, other)

	d := NewDispatcher(store, testConfig())
	q := &recordingQueue{}
	d.UseQueue(q)

	d.Publish(context.Background(), "task.completed", Payload{"event": "task.completed", "task_id": "t-1"})

	q.mu.Lock()
	defer q.mu.Unlock()
	require.Len(t, q.items, 1)
	item := q.items[0]
	assert.Equal(t, queue.OpSendWebhook, item.Operation)
	assert.Equal(t, "wh-1", item.RecordID)

	var work Delivery
	require.NoError(t, json.Unmarshal(item.Payload, &work))
	assert.Equal(t, "task.completed", work.Event)
	assert.Equal(t, "t-1", work.Payload["task_id"])

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestSignatureDeterministicOverSortedKeys(t *testing.T) {
	a, err := CanonicalBody(Payload{"b": 1, "a": "x", "event": "task.completed"})
	require.NoError(t, err)
	b, err := CanonicalBody(Payload{"event": "task.completed", "a": "x", "b": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, Sign(a, "s"), Sign(b, "s"))
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("https://example.com/hook"))
	assert.NoError(t, ValidateURL("http://example.com/hook"))
	assert.Error(t, ValidateURL("ftp://example.com/hook"))
	assert.Error(t, ValidateURL("not a url"))
	assert.Error(t, ValidateURL("/relative/path"))
}

func TestGenerateSecret(t *testing.T) {
	s1, err := GenerateSecret()
	require.NoError(t, err)
	s2, err := GenerateSecret()
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)
	assert.GreaterOrEqual(t, len(s1), 32)
}
