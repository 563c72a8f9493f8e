package services

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"keepsafe-portal/models"
)

// BookingEventMessage is the payload published for each booking event
type BookingEventMessage struct {
	EventID     uuid.UUID  `json:"eventId"`
	ActionID    uuid.UUID  `json:"actionId"`
	CustomerID  uuid.UUID  `json:"customerId"`
	Kind        string     `json:"kind"`
	Source      string     `json:"source"`
	ActionType  string     `json:"actionType"`
	ScheduledAt time.Time  `json:"scheduledAt"`
	ActorUserID *uuid.UUID `json:"actorUserId,omitempty"`
	OccurredAt  time.Time  `json:"occurredAt"`
}

// NewBookingEventMessage builds the published form of a booking event
func NewBookingEventMessage(ev *models.BookingEvent, action *models.Action) BookingEventMessage {
	return BookingEventMessage{
		EventID:     ev.ID,
		ActionID:    ev.ActionID,
		CustomerID:  ev.CustomerID,
		Kind:        ev.Kind,
		Source:      ev.Source,
		ActionType:  action.Type,
		ScheduledAt: action.ScheduledAt,
		ActorUserID: ev.ActorUserID,
		OccurredAt:  ev.CreatedAt,
	}
}

// EventPublisher fans booking events out to downstream consumers
type EventPublisher interface {
	Publish(ctx context.Context, msg BookingEventMessage) error
	Close() error
}

// MessageWriter is the part of kafka.Writer the publisher uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes booking events to a Kafka topic keyed by action ID
type KafkaPublisher struct {
	writer MessageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return NewKafkaPublisherWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	})
}

func NewKafkaPublisherWithWriter(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg BookingEventMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.ActionID.String()),
		Value: value,
	}); err != nil {
		return fmt.Errorf("failed to publish booking event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher logs events instead of publishing them
type LogPublisher struct {
	Logger *zap.Logger
}

func (p LogPublisher) Publish(_ context.Context, msg BookingEventMessage) error {
	p.Logger.Info("Booking event",
		zap.String("kind", msg.Kind),
		zap.String("action_id", msg.ActionID.String()),
		zap.String("source", msg.Source))
	return nil
}

func (p LogPublisher) Close() error { return nil }
