// Package webhooks implements the at-least-once, HMAC-signed event
// dispatcher: an in-process delivery queue backed by a durable
// delivery log in the metadata store.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/repub/registry/pkg/activity"
	"github.com/repub/registry/pkg/metastore"
)

// EventType identifies the kind of event a webhook subscribes to.
type EventType string

const (
	EventPackagePublished    EventType = "package.published"
	EventPackageDownloaded   EventType = "package.downloaded"
	EventPackageRetracted    EventType = "package.retracted"
	EventPackageUnretracted  EventType = "package.unretracted"
	EventPackageDiscontinued EventType = "package.discontinued"
	EventPackageDeleted      EventType = "package.deleted"
	EventWildcard            EventType = "*"
)

// Store is the subset of metastore.Store the dispatcher depends on.
type Store interface {
	CreateWebhook(ctx context.Context, w metastore.Webhook) (*metastore.Webhook, error)
	GetWebhook(ctx context.Context, id string) (*metastore.Webhook, error)
	ListWebhooks(ctx context.Context) ([]metastore.Webhook, error)
	ListActiveWebhooksForEvent(ctx context.Context, eventType string) ([]metastore.Webhook, error)
	UpdateWebhook(ctx context.Context, w metastore.Webhook) error
	DeleteWebhook(ctx context.Context, id string) error
	RecordWebhookDelivery(ctx context.Context, d metastore.WebhookDelivery) error
}

// FailureThreshold is the number of consecutive delivery failures
// after which a webhook is auto-disabled.
const FailureThreshold = 20

// deliveryJob is one attempt to deliver an event to one webhook.
type deliveryJob struct {
	webhook   metastore.Webhook
	eventType EventType
	payload   map[string]interface{}
	attempt   int
}

// Dispatcher queues and delivers webhook events.
type Dispatcher struct {
	store    Store
	activity *activity.Log
	client   *http.Client
	limiter  *RateLimiter
	policy   *RetryPolicy
	queue    chan deliveryJob
	workers  int
	stop     chan struct{}
}

// NewDispatcher builds a Dispatcher. workers controls how many
// deliveries run concurrently; queueSize bounds how many pending
// deliveries (including scheduled retries) may be buffered at once.
func NewDispatcher(store Store, log *activity.Log, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	return &Dispatcher{
		store:    store,
		activity: log,
		client:   &http.Client{Timeout: 70 * time.Second},
		limiter:  NewRateLimiter(100, time.Minute),
		policy:   NewRetryPolicy(),
		queue:    make(chan deliveryJob, queueSize),
		workers:  workers,
		stop:     make(chan struct{}),
	}
}

// Start launches the worker pool. It returns immediately; workers run
// until ctx is canceled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		go d.worker(ctx)
	}
}

// Stop signals all workers to exit after their current job.
func (d *Dispatcher) Stop() {
	close(d.stop)
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case job := <-d.queue:
			d.attempt(ctx, job)
		}
	}
}

// Dispatch enqueues event for every active webhook subscribed to
// eventType (or to the wildcard). It never blocks on delivery; it
// returns once every matching webhook has a job queued.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType EventType, payload map[string]interface{}) error {
	hooks, err := d.store.ListActiveWebhooksForEvent(ctx, string(eventType))
	if err != nil {
		return fmt.Errorf("failed to list webhooks for event %s: %w", eventType, err)
	}
	for _, h := range hooks {
		job := deliveryJob{webhook: h, eventType: eventType, payload: payload, attempt: 1}
		select {
		case d.queue <- job:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// attempt performs one delivery attempt and, on failure, schedules a
// retry per the backoff schedule until attempts are exhausted.
func (d *Dispatcher) attempt(ctx context.Context, job deliveryJob) {
	if !d.limiter.Allow(job.webhook.ID) {
		d.scheduleRetry(ctx, job)
		return
	}

	body, deliveryID := d.buildBody(job)
	start := time.Now()
	statusCode, sendErr := d.send(ctx, job.webhook, job.eventType, deliveryID, body)
	duration := time.Since(start)

	success := sendErr == nil && statusCode >= 200 && statusCode < 300
	delivery := metastore.WebhookDelivery{
		WebhookID:   job.webhook.ID,
		EventType:   string(job.eventType),
		DeliveredAt: time.Now().UTC(),
		StatusCode:  statusCode,
		DurationMS:  duration.Milliseconds(),
		Success:     success,
	}
	if sendErr != nil {
		msg := sendErr.Error()
		delivery.Error = &msg
	}
	if err := d.store.RecordWebhookDelivery(ctx, delivery); err != nil {
		fmt.Printf("[webhooks] failed to record delivery for %s: %v\n", job.webhook.ID, err)
	}

	if success {
		d.onSuccess(ctx, job.webhook)
		return
	}

	d.onFailure(ctx, job.webhook)
	d.scheduleRetry(ctx, job)
}

func (d *Dispatcher) scheduleRetry(ctx context.Context, job deliveryJob) {
	if !d.policy.ShouldRetry(job.attempt) {
		return
	}
	delay := d.policy.Delay(job.attempt)
	next := job
	next.attempt++
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			select {
			case d.queue <- next:
			case <-ctx.Done():
			}
		}
	}()
}

func (d *Dispatcher) onSuccess(ctx context.Context, w metastore.Webhook) {
	if w.FailureCount == 0 {
		now := time.Now().UTC()
		w.LastTriggeredAt = &now
		_ = d.store.UpdateWebhook(ctx, w)
		return
	}
	w.FailureCount = 0
	now := time.Now().UTC()
	w.LastTriggeredAt = &now
	_ = d.store.UpdateWebhook(ctx, w)
}

func (d *Dispatcher) onFailure(ctx context.Context, w metastore.Webhook) {
	// The job carries the webhook as it was at dispatch time; re-read it
	// so every failed attempt, retries included, adds to the stored count.
	if cur, err := d.store.GetWebhook(ctx, w.ID); err == nil {
		w = *cur
	}
	w.FailureCount++
	disable := w.FailureCount >= FailureThreshold
	if disable {
		w.IsActive = false
	}
	if err := d.store.UpdateWebhook(ctx, w); err != nil {
		fmt.Printf("[webhooks] failed to update failure count for %s: %v\n", w.ID, err)
	}
	if disable && d.activity != nil {
		_ = d.activity.Record(ctx, activity.Entry{
			Type:       activity.TypeWebhookAutoDisabled,
			ActorType:  activity.ActorSystem,
			TargetType: "webhook",
			TargetID:   w.ID,
			Metadata:   map[string]interface{}{"failure_count": w.FailureCount},
		})
	}
}

// buildBody flattens {"event": eventType, ...payload} into the wire
// body and returns it alongside a fresh delivery id.
func (d *Dispatcher) buildBody(job deliveryJob) ([]byte, string) {
	deliveryID := uuid.NewString()
	flat := make(map[string]interface{}, len(job.payload)+1)
	for k, v := range job.payload {
		flat[k] = v
	}
	flat["event"] = string(job.eventType)
	body, _ := json.Marshal(flat)
	return body, deliveryID
}

func (d *Dispatcher) send(ctx context.Context, w metastore.Webhook, eventType EventType, deliveryID string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Repub-Event", string(eventType))
	req.Header.Set("X-Repub-Delivery-Id", deliveryID)
	if w.Secret != "" {
		req.Header.Set("X-Repub-Signature", Sign(body, w.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// Sign returns the X-Repub-Signature header value for body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches body under secret.
func VerifySignature(body []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}

// CreateWebhook registers a new webhook.
func (d *Dispatcher) CreateWebhook(ctx context.Context, w metastore.Webhook) (*metastore.Webhook, error) {
	w.IsActive = true
	return d.store.CreateWebhook(ctx, w)
}

// UpdateWebhook updates an existing webhook's configuration.
func (d *Dispatcher) UpdateWebhook(ctx context.Context, w metastore.Webhook) error {
	return d.store.UpdateWebhook(ctx, w)
}

// DeleteWebhook removes a webhook.
func (d *Dispatcher) DeleteWebhook(ctx context.Context, id string) error {
	return d.store.DeleteWebhook(ctx, id)
}

// ListWebhooks returns every registered webhook.
func (d *Dispatcher) ListWebhooks(ctx context.Context) ([]metastore.Webhook, error) {
	return d.store.ListWebhooks(ctx)
}

// GetWebhook retrieves a webhook by id.
func (d *Dispatcher) GetWebhook(ctx context.Context, id string) (*metastore.Webhook, error) {
	return d.store.GetWebhook(ctx, id)
}

// TestDelivery sends a synthetic event to a single webhook, bypassing
// subscription matching, and blocks for the first attempt's result.
func (d *Dispatcher) TestDelivery(ctx context.Context, webhookID string) error {
	w, err := d.store.GetWebhook(ctx, webhookID)
	if err != nil {
		return err
	}
	job := deliveryJob{
		webhook:   *w,
		eventType: "webhook.test",
		payload:   map[string]interface{}{"message": "this is a test delivery"},
		attempt:   1,
	}
	body, deliveryID := d.buildBody(job)
	statusCode, sendErr := d.send(ctx, *w, job.eventType, deliveryID, body)
	success := sendErr == nil && statusCode >= 200 && statusCode < 300
	delivery := metastore.WebhookDelivery{
		WebhookID:   w.ID,
		EventType:   string(job.eventType),
		DeliveredAt: time.Now().UTC(),
		StatusCode:  statusCode,
		Success:     success,
	}
	if sendErr != nil {
		msg := sendErr.Error()
		delivery.Error = &msg
	}
	_ = d.store.RecordWebhookDelivery(ctx, delivery)
	if !success {
		if sendErr != nil {
			return sendErr
		}
		return fmt.Errorf("webhook returned non-2xx status: %d", statusCode)
	}
	return nil
}
