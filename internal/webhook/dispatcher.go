// Package webhook implements the outbound webhook dispatcher: HMAC-SHA256
// signed HTTP POST delivery with durable, exponential-backoff retry
// tracked via WebhookDelivery rows so delivery survives process restarts.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"ragcore/internal/domain"
	"ragcore/internal/observability"
	"ragcore/internal/ragerr"
	"ragcore/internal/storage"
)

// RetryPolicy controls delivery retry scheduling.
type RetryPolicy struct {
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy matches the documented delivery contract: 60s base,
// 1h cap, 5 attempts before a delivery is marked permanently failed.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{BaseBackoff: 60 * time.Second, MaxBackoff: time.Hour, MaxAttempts: 5}
}

// Dispatcher enqueues deliveries for subscribed webhooks and drives them
// through a worker pool with HMAC signing and retry.
type Dispatcher struct {
	relational      storage.Relational
	client          *http.Client
	policy          RetryPolicy
	maxWorkers      int
	signatureHeader string
}

// New creates a Dispatcher. maxWorkers bounds how many deliveries RunDue
// attempts concurrently in one pass. signatureHeader names the HTTP
// header the HMAC signature is sent under; it defaults to X-Signature.
func New(relational storage.Relational, policy RetryPolicy, maxWorkers int, signatureHeader string) *Dispatcher {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	if signatureHeader == "" {
		signatureHeader = "X-Signature"
	}
	return &Dispatcher{
		relational:      relational,
		client:          observability.NewHTTPClient(&http.Client{Timeout: 15 * time.Second}),
		policy:          policy,
		maxWorkers:      maxWorkers,
		signatureHeader: signatureHeader,
	}
}

// EventPayload is the JSON body sent to subscribers. DeliveryID lets a
// receiver deduplicate retried deliveries of the same logical event; it
// matches the WebhookDelivery row's ID and the X-Delivery-Id header.
type EventPayload struct {
	Event      domain.WebhookEvent `json:"event"`
	Data       any                 `json:"data"`
	Timestamp  time.Time           `json:"timestamp"`
	DeliveryID string              `json:"delivery_id"`
	Metadata   map[string]string   `json:"metadata,omitempty"`
}

// Enqueue creates one pending WebhookDelivery for every active Webhook
// subscribed to event, for tenantID. Each delivery gets its own UUIDv4
// delivery ID, embedded in both its payload body and its WebhookDelivery
// row, since the payload must be delivery-specific rather than shared
// across subscribers.
func (d *Dispatcher) Enqueue(ctx context.Context, tenantID string, event domain.WebhookEvent, data any) error {
	hooks, err := d.relational.ListWebhooksForEvent(ctx, tenantID, event)
	if err != nil {
		return err
	}
	if len(hooks) == 0 {
		return nil
	}

	for _, hook := range hooks {
		if !hook.Active {
			continue
		}
		deliveryID := uuid.NewString()
		metadata := map[string]string{"webhook_id": hook.ID, "tenant_id": tenantID}
		payload, err := json.Marshal(EventPayload{
			Event:      event,
			Data:       data,
			Timestamp:  time.Now().UTC(),
			DeliveryID: deliveryID,
			Metadata:   metadata,
		})
		if err != nil {
			return ragerr.Wrap(ragerr.Internal, "webhook_payload_marshal", err)
		}

		delivery := domain.WebhookDelivery{
			ID:          deliveryID,
			WebhookID:   hook.ID,
			Event:       event,
			Payload:     payload,
			Metadata:    metadata,
			Status:      domain.DeliveryPending,
			NextAttempt: time.Now().UTC(),
			CreatedAt:   time.Now().UTC(),
		}
		if err := d.relational.CreateDelivery(ctx, delivery); err != nil {
			return err
		}
	}
	return nil
}

// RunDue fetches every delivery due at or before now, attempts each one,
// and reschedules or terminates it according to the retry policy. Callers
// (a ticker loop in the process entrypoint) invoke this periodically.
func (d *Dispatcher) RunDue(ctx context.Context, limit int) (int, error) {
	due, err := d.relational.ListDueDeliveries(ctx, time.Now().UTC(), limit)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.maxWorkers)
	for _, delivery := range due {
		delivery := delivery
		g.Go(func() error {
			d.attempt(gctx, delivery)
			return nil
		})
	}
	_ = g.Wait()
	return len(due), nil
}

func (d *Dispatcher) attempt(ctx context.Context, delivery domain.WebhookDelivery) {
	hook, err := d.relational.GetWebhook(ctx, delivery.WebhookID)
	if err != nil {
		delivery.Status = domain.DeliveryFailed
		delivery.LastError = err.Error()
		_ = d.relational.UpdateDelivery(ctx, delivery)
		return
	}

	delivery.Attempts++
	if err := d.deliver(ctx, hook, delivery); err != nil {
		delivery.LastError = err.Error()
		if delivery.Attempts >= d.policy.MaxAttempts {
			delivery.Status = domain.DeliveryFailed
			log.Warn().Str("webhook_id", hook.ID).Int("attempts", delivery.Attempts).Msg("webhook: delivery permanently failed")
		} else {
			delivery.Status = domain.DeliveryPending
			delivery.NextAttempt = time.Now().UTC().Add(backoffFor(delivery.Attempts, d.policy))
		}
	} else {
		delivery.Status = domain.DeliveryDelivered
		delivery.LastError = ""
	}

	if err := d.relational.UpdateDelivery(ctx, delivery); err != nil {
		log.Error().Err(err).Str("delivery_id", delivery.ID).Msg("webhook: failed to persist delivery state")
	}
}

func (d *Dispatcher) deliver(ctx context.Context, hook domain.Webhook, delivery domain.WebhookDelivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return ragerr.Wrap(ragerr.Internal, "webhook_build_request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event", string(delivery.Event))
	req.Header.Set("X-Delivery-Id", delivery.ID)

	if hook.Secret != "" {
		mac := hmac.New(sha256.New, []byte(hook.Secret))
		mac.Write(delivery.Payload)
		req.Header.Set(d.signatureHeader, "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return ragerr.Wrap(ragerr.ExternalServiceError, "webhook_http", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// backoffFor computes the delay before the next attempt: base * 2^(n-1),
// capped at MaxBackoff, plus a small random jitter so many deliveries
// queued by the same event don't all retry in the same instant.
func backoffFor(attempts int, policy RetryPolicy) time.Duration {
	backoff := policy.BaseBackoff
	for i := 1; i < attempts; i++ {
		backoff *= 2
		if backoff >= policy.MaxBackoff {
			backoff = policy.MaxBackoff
			break
		}
	}
	return backoff + jitter()
}

// jitter returns a random delay in [0.1s, 0.5s).
func jitter() time.Duration {
	return 100*time.Millisecond + time.Duration(rand.Int63n(int64(400*time.Millisecond)))
}
