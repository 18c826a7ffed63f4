package events

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishSyncDeliversToAllSubscribers(t *testing.T) {
	bus := New()
	var calls int32

	bus.Subscribe(TopicKBStatusChanged, func(ctx context.Context, ev Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	bus.Subscribe(TopicKBStatusChanged, func(ctx context.Context, ev Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	errs := bus.PublishSync(context.Background(), Event{Topic: TopicKBStatusChanged, Payload: "kb-1"})
	require.Empty(t, errs)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestUnsubscribeStopsFutureDelivery(t *testing.T) {
	bus := New()
	var calls int32

	unsub := bus.Subscribe(TopicDocumentIngested, func(ctx context.Context, ev Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	bus.PublishSync(context.Background(), Event{Topic: TopicDocumentIngested})
	unsub()
	bus.PublishSync(context.Background(), Event{Topic: TopicDocumentIngested})

	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestPublishSyncCollectsHandlerErrors(t *testing.T) {
	bus := New()
	boom := require.New(t)

	bus.Subscribe(TopicWebhookDue, func(ctx context.Context, ev Event) error {
		return context.DeadlineExceeded
	})
	errs := bus.PublishSync(context.Background(), Event{Topic: TopicWebhookDue})
	boom.Len(errs, 1)
}

func TestPublishOnUnregisteredTopicIsNoop(t *testing.T) {
	bus := New()
	require.NotPanics(t, func() {
		bus.Publish(context.Background(), Event{Topic: TopicChatMessageCreated})
	})
}
