// Package events implements an in-process publish/subscribe bus for domain
// events; the HTTP layer publishes document ingestion and knowledge-base
// status changes to it. The only subscriber the server wires up is the
// optional Kafka bridge, which forwards events for durable cross-process
// delivery when configured.
package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Topic names an event category.
type Topic string

const (
	TopicKBStatusChanged    Topic = "kb.status_changed"
	TopicDocumentIngested   Topic = "document.ingested"
	TopicTrainingProgress   Topic = "training.progress"
	TopicWebhookDue         Topic = "webhook.due"
	TopicChatMessageCreated Topic = "chat.message_created"
)

// Event is the envelope carried on every topic. Payload is left as `any`
// so each topic can define its own concrete struct without events needing
// to know about domain types.
type Event struct {
	Topic   Topic
	Payload any
}

// Handler processes one event. A returned error is logged but never
// aborts delivery to the remaining subscribers on the topic.
type Handler func(ctx context.Context, ev Event) error

// Bus is an in-process, fan-out publish/subscribe dispatcher. Subscribers
// on a topic run concurrently and independently; a slow or failing
// subscriber never blocks or breaks another.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Topic][]Handler
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[Topic][]Handler)}
}

// Subscribe registers handler to run for every event published on topic.
// Returns an unsubscribe func.
func (b *Bus) Subscribe(topic Topic, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers[topic] = append(b.subscribers[topic], handler)
	idx := len(b.subscribers[topic]) - 1

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		handlers := b.subscribers[topic]
		if idx < len(handlers) {
			handlers[idx] = nil
		}
	}
}

// Publish dispatches ev to every live subscriber on ev.Topic, each in its
// own goroutine, and returns immediately without waiting for completion.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[ev.Topic]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if h == nil {
			continue
		}
		go func(h Handler) {
			if err := h(ctx, ev); err != nil {
				log.Error().Err(err).Str("topic", string(ev.Topic)).Msg("events: subscriber handler failed")
			}
		}(h)
	}
}

// PublishSync is like Publish but waits for every subscriber to finish,
// useful in tests and for the webhook dispatcher's due-event fanout where
// callers need delivery rows created before returning.
func (b *Bus) PublishSync(ctx context.Context, ev Event) []error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[ev.Topic]...)
	b.mu.RUnlock()

	var wg sync.WaitGroup
	errs := make([]error, len(handlers))
	for i, h := range handlers {
		if h == nil {
			continue
		}
		wg.Add(1)
		go func(i int, h Handler) {
			defer wg.Done()
			errs[i] = h(ctx, ev)
		}(i, h)
	}
	wg.Wait()

	out := errs[:0]
	for _, e := range errs {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}
