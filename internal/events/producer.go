// Package events publishes task and chat activity to Kafka. The producer
// is optional: when disabled it swallows events, and publish failures are
// logged but never surfaced to request handlers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"taskdeck/internal/config"
)

// EventType identifies what happened.
type EventType string

const (
	TaskCreatedEvent   EventType = "task_created"
	TaskUpdatedEvent   EventType = "task_updated"
	TaskCompletedEvent EventType = "task_completed"
	TaskDeletedEvent   EventType = "task_deleted"
	ChatTurnEvent      EventType = "chat_turn"
)

// Event is the activity record written to the topic.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	UserID    string                 `json:"user_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Producer writes activity events. A nil or disabled Producer is safe to
// call; every method becomes a no-op.
type Producer struct {
	writer *kafka.Writer
	source string
	log    *logrus.Logger
}

// NewProducer builds a producer from config. Returns a disabled producer
// when cfg.Enable is false.
func NewProducer(cfg config.EventsConfig, source string, log *logrus.Logger) *Producer {
	p := &Producer{source: source, log: log}
	if !cfg.Enable {
		return p
	}

	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: time.Second,
		Async:        true,
		RequiredAcks: kafka.RequireOne,
	}
	return p
}

// Enabled reports whether events will actually be written.
func (p *Producer) Enabled() bool { return p != nil && p.writer != nil }

// Publish writes a single event. Failures are logged, not returned: an
// activity feed outage must never fail a task operation.
func (p *Producer) Publish(ctx context.Context, eventType EventType, userID string, data map[string]interface{}) {
	if !p.Enabled() {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    p.source,
		UserID:    userID,
		Data:      data,
	}
	value, err := json.Marshal(event)
	if err != nil {
		p.log.WithError(err).Warn("failed to marshal activity event")
		return
	}

	message := kafka.Message{
		Key:   []byte(string(event.Type)),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "source", Value: []byte(p.source)},
			{Key: "type", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, message); err != nil {
		p.log.WithError(err).WithField("type", event.Type).Warn("failed to publish activity event")
	}
}

// TaskEvent publishes a task lifecycle event with the task id attached.
func (p *Producer) TaskEvent(ctx context.Context, eventType EventType, userID string, taskID int64) {
	p.Publish(ctx, eventType, userID, map[string]interface{}{"task_id": taskID})
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	if !p.Enabled() {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}
