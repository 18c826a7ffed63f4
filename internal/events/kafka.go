package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ragcore/internal/ragerr"
)

// KafkaConfig configures the durable cross-process transport. Disabled by
// default -- most deployments only need the in-process Bus.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// KafkaPublisher mirrors in-process Bus events onto a Kafka topic so other
// services (analytics, audit, a second API replica) can consume the same
// event stream durably.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher builds a publisher, or returns nil when cfg.Enabled is
// false -- callers must nil-check before use, matching the rest of the
// optional-transport constructors in this module.
func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	if !cfg.Enabled {
		return nil
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.Topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

type wireEvent struct {
	Topic     Topic           `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Publish writes ev to Kafka, keyed by topic so a single consumer group can
// partition by event category.
func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	if p == nil || p.writer == nil {
		return nil
	}
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return ragerr.Wrap(ragerr.Internal, "kafka_event_marshal", err)
	}
	wire := wireEvent{Topic: ev.Topic, Payload: payload, Timestamp: time.Now().UTC()}
	data, err := json.Marshal(wire)
	if err != nil {
		return ragerr.Wrap(ragerr.Internal, "kafka_event_wrap", err)
	}
	msg := kafka.Message{Key: []byte(ev.Topic), Value: data, Time: time.Now()}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return ragerr.Wrap(ragerr.ExternalServiceError, "kafka_write", err)
	}
	return nil
}

// Close shuts down the underlying writer.
func (p *KafkaPublisher) Close() {
	if p == nil || p.writer == nil {
		return
	}
	if err := p.writer.Close(); err != nil {
		log.Warn().Err(err).Msg("events: kafka writer close failed")
	}
}

// BridgeToKafka subscribes to every topic named in topics on bus and
// mirrors each event to pub, logging (not failing) publish errors so a
// down Kafka broker never disrupts in-process delivery.
func BridgeToKafka(bus *Bus, pub *KafkaPublisher, topics ...Topic) func() {
	if pub == nil {
		return func() {}
	}
	var unsubs []func()
	for _, topic := range topics {
		unsub := bus.Subscribe(topic, func(ctx context.Context, ev Event) error {
			if err := pub.Publish(ctx, ev); err != nil {
				log.Warn().Err(err).Str("topic", string(ev.Topic)).Msg("events: kafka bridge publish failed")
			}
			return nil
		})
		unsubs = append(unsubs, unsub)
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
