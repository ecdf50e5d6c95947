// Package event publishes auth lifecycle events.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/dtroode/authkeeper/internal/logger"
	"github.com/dtroode/authkeeper/internal/model"
)

const source = "authkeeper"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic keyed by user id.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *logger.Logger
}

var _ model.EventPublisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string, logger *logger.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}

	return &KafkaPublisher{
		writer: w,
		topic:  topic,
		logger: logger,
	}
}

// Publish sends the event synchronously.
func (p *KafkaPublisher) Publish(ctx context.Context, e model.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(e.UserID.String()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "source", Value: []byte(source)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", p.topic, err)
	}

	p.logger.Debug("Event publisher: event published",
		"topic", p.topic,
		"event_type", string(e.Type),
		"event_id", e.ID.String())

	return nil
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Noop drops every event. Used when no brokers are configured.
type Noop struct{}

var _ model.EventPublisher = Noop{}

// Publish does nothing.
func (Noop) Publish(context.Context, model.Event) error {
	return nil
}
