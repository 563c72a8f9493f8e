package services

import (
	"context"
	"errors"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keepsafe-portal/models"
)

type capturingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *capturingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return w.err
}

func (w *capturingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	action := &models.Action{ID: uuid.New(), CustomerID: uuid.New(), Type: models.ActionPickup, ScheduledAt: at}
	ev := &models.BookingEvent{
		ID:         uuid.New(),
		ActionID:   action.ID,
		CustomerID: action.CustomerID,
		Kind:       models.EventCreated,
		Source:     models.SourceWebhook,
		CreatedAt:  at.Add(-48 * time.Hour),
	}

	w := &capturingWriter{}
	pub := NewKafkaPublisherWithWriter(w)
	require.NoError(t, pub.Publish(ctx, NewBookingEventMessage(ev, action)))

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, action.ID.String(), string(msg.Key))

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, ev.ID.String(), body["eventId"])
	assert.Equal(t, action.ID.String(), body["actionId"])
	assert.Equal(t, models.EventCreated, body["kind"])
	assert.Equal(t, models.SourceWebhook, body["source"])
	assert.Equal(t, models.ActionPickup, body["actionType"])
	assert.Equal(t, "2026-03-14T15:00:00Z", body["scheduledAt"])
	assert.NotContains(t, body, "actorUserId")

	require.NoError(t, pub.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	w := &capturingWriter{err: errors.New("broker unavailable")}
	pub := NewKafkaPublisherWithWriter(w)
	err := pub.Publish(context.Background(), BookingEventMessage{ActionID: uuid.New(), Kind: models.EventCanceled})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish booking event")
}
