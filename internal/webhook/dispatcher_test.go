package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ragcore/internal/domain"
	"ragcore/internal/storage/relmemory"
)

func TestEnqueueCreatesOnePendingDeliveryPerSubscribedActiveWebhook(t *testing.T) {
	store := relmemory.New()
	ctx := context.Background()

	require.NoError(t, store.CreateWebhook(ctx, domain.Webhook{
		ID: "wh-1", TenantID: "tenant-a", URL: "http://example.invalid/hook",
		Events: []domain.WebhookEvent{domain.EventTrainingCompleted}, Active: true,
	}))
	require.NoError(t, store.CreateWebhook(ctx, domain.Webhook{
		ID: "wh-2", TenantID: "tenant-a", URL: "http://example.invalid/other",
		Events: []domain.WebhookEvent{domain.EventDocumentIngested}, Active: true,
	}))
	require.NoError(t, store.CreateWebhook(ctx, domain.Webhook{
		ID: "wh-3", TenantID: "tenant-a", URL: "http://example.invalid/inactive",
		Events: []domain.WebhookEvent{domain.EventTrainingCompleted}, Active: false,
	}))

	d := New(store, DefaultRetryPolicy(), 4, "")
	require.NoError(t, d.Enqueue(ctx, "tenant-a", domain.EventTrainingCompleted, map[string]string{"kb_id": "kb-1"}))

	due, err := store.ListDueDeliveries(ctx, time.Now().UTC().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "wh-1", due[0].WebhookID)
	require.Equal(t, domain.DeliveryPending, due[0].Status)
}

func TestRunDueSignsPayloadAndMarksDelivered(t *testing.T) {
	secret := "super-secret"
	var gotSig, gotEvent string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotEvent = r.Header.Get("X-Event")
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		gotBody = buf
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := relmemory.New()
	ctx := context.Background()
	require.NoError(t, store.CreateWebhook(ctx, domain.Webhook{
		ID: "wh-1", TenantID: "tenant-a", URL: server.URL, Secret: secret,
		Events: []domain.WebhookEvent{domain.EventTrainingCompleted}, Active: true,
	}))

	d := New(store, DefaultRetryPolicy(), 4, "")
	require.NoError(t, d.Enqueue(ctx, "tenant-a", domain.EventTrainingCompleted, map[string]string{"kb_id": "kb-1"}))

	n, err := d.RunDue(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Equal(t, "training.completed", gotEvent)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	require.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), gotSig)

	due, err := store.ListDueDeliveries(ctx, time.Now().UTC().Add(time.Second), 10)
	require.NoError(t, err)
	require.Empty(t, due)
}

func TestRunDueReschedulesWithBackoffOnFailureAndFailsPermanentlyAfterMaxAttempts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store := relmemory.New()
	ctx := context.Background()
	require.NoError(t, store.CreateWebhook(ctx, domain.Webhook{
		ID: "wh-1", TenantID: "tenant-a", URL: server.URL,
		Events: []domain.WebhookEvent{domain.EventTrainingFailed}, Active: true,
	}))

	policy := RetryPolicy{BaseBackoff: time.Minute, MaxBackoff: time.Hour, MaxAttempts: 2}
	d := New(store, policy, 4, "")
	require.NoError(t, d.Enqueue(ctx, "tenant-a", domain.EventTrainingFailed, nil))

	n, err := d.RunDue(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	due, err := store.ListDueDeliveries(ctx, time.Now().UTC().Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, domain.DeliveryPending, due[0].Status)
	require.Equal(t, 1, due[0].Attempts)
	require.True(t, due[0].NextAttempt.After(time.Now().UTC().Add(30*time.Second)))

	// Make the rescheduled delivery due now so the next pass attempts it.
	due[0].NextAttempt = time.Now().UTC()
	require.NoError(t, store.UpdateDelivery(ctx, due[0]))

	n, err = d.RunDue(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	due, err = store.ListDueDeliveries(ctx, time.Now().UTC().Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, due)
}

func TestBackoffForDoublesUntilCapPlusJitter(t *testing.T) {
	policy := RetryPolicy{BaseBackoff: time.Minute, MaxBackoff: 10 * time.Minute, MaxAttempts: 5}
	requireWithinJitter := func(base time.Duration, got time.Duration) {
		t.Helper()
		require.GreaterOrEqual(t, got, base+100*time.Millisecond)
		require.Less(t, got, base+500*time.Millisecond)
	}
	requireWithinJitter(time.Minute, backoffFor(1, policy))
	requireWithinJitter(2*time.Minute, backoffFor(2, policy))
	requireWithinJitter(4*time.Minute, backoffFor(3, policy))
	requireWithinJitter(8*time.Minute, backoffFor(4, policy))
	requireWithinJitter(10*time.Minute, backoffFor(5, policy))
}

func TestEnqueueEmbedsDeliveryIDAndMetadataInPayload(t *testing.T) {
	store := relmemory.New()
	ctx := context.Background()
	require.NoError(t, store.CreateWebhook(ctx, domain.Webhook{
		ID: "wh-1", TenantID: "tenant-a", URL: "http://example.invalid/hook",
		Events: []domain.WebhookEvent{domain.EventTrainingCompleted}, Active: true,
	}))

	d := New(store, DefaultRetryPolicy(), 4, "")
	require.NoError(t, d.Enqueue(ctx, "tenant-a", domain.EventTrainingCompleted, map[string]string{"kb_id": "kb-1"}))

	due, err := store.ListDueDeliveries(ctx, time.Now().UTC().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.NotEmpty(t, due[0].ID)
	require.Equal(t, "wh-1", due[0].Metadata["webhook_id"])

	var payload EventPayload
	require.NoError(t, json.Unmarshal(due[0].Payload, &payload))
	require.Equal(t, due[0].ID, payload.DeliveryID)
	require.Equal(t, "wh-1", payload.Metadata["webhook_id"])
}
