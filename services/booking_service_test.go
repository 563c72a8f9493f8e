package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"keepsafe-portal/models"
)

func newTestBookingService(t *testing.T, opts ...BookingOption) (*BookingService, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	opts = append([]BookingOption{
		WithPublisher(pub),
		WithBookingLogger(zaptest.NewLogger(t)),
	}, opts...)
	return NewBookingService(newTestDB(t), opts...), pub
}

func TestActionTypeFromEventName(t *testing.T) {
	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"Storage Pickup", models.ActionPickup, true},
		{"Pick-up (large items)", models.ActionPickup, true},
		{"Redelivery", models.ActionRedelivery, true},
		{"Deliver my items", models.ActionRedelivery, true},
		{"Empty Container Delivery", models.ActionContainerDelivery, true},
		{"Container pickup", models.ActionPickup, true},
		{"Container redelivery", models.ActionContainerDelivery, true},
		{"Intro call", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ActionTypeFromEventName(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBookingService_RecordScheduled(t *testing.T) {
	ctx := context.Background()

	t.Run("creates action and created event", func(t *testing.T) {
		svc, pub := newTestBookingService(t)
		_, customer := seedCustomer(t, svc.db, "jane@example.com")
		start := time.Now().Add(72 * time.Hour).UTC().Truncate(time.Second)

		action, created, err := svc.RecordScheduled(ctx, ScheduledBooking{
			Email:     "Jane@Example.com ",
			EventURI:  "https://api.calendly.com/scheduled_events/abc",
			EventName: "Storage Pickup",
			StartTime: start,
		})

		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, customer.ID, action.CustomerID)
		assert.Equal(t, models.ActionPickup, action.Type)
		assert.Equal(t, models.ActionScheduled, action.Status)
		assert.True(t, start.Equal(action.ScheduledAt))

		var events []models.BookingEvent
		require.NoError(t, svc.db.Where("action_id = ?", action.ID).Find(&events).Error)
		require.Len(t, events, 1)
		assert.Equal(t, models.EventCreated, events[0].Kind)
		assert.Equal(t, models.SourceWebhook, events[0].Source)
		assert.Equal(t, []string{models.EventCreated}, pub.kinds())
	})

	t.Run("is idempotent per event uri", func(t *testing.T) {
		svc, pub := newTestBookingService(t)
		seedCustomer(t, svc.db, "jane@example.com")
		sb := ScheduledBooking{
			Email:     "jane@example.com",
			EventURI:  "https://api.calendly.com/scheduled_events/dup",
			EventName: "Redelivery",
			StartTime: time.Now().Add(48 * time.Hour),
		}

		first, created, err := svc.RecordScheduled(ctx, sb)
		require.NoError(t, err)
		require.True(t, created)

		second, created, err := svc.RecordScheduled(ctx, sb)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)

		var count int64
		svc.db.Model(&models.Action{}).Count(&count)
		assert.EqualValues(t, 1, count)
		assert.Len(t, pub.kinds(), 1)
	})

	t.Run("unknown customer", func(t *testing.T) {
		svc, _ := newTestBookingService(t)

		_, _, err := svc.RecordScheduled(ctx, ScheduledBooking{
			Email:     "nobody@example.com",
			EventURI:  "https://api.calendly.com/scheduled_events/x",
			EventName: "Pickup",
			StartTime: time.Now(),
		})
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("unknown event type", func(t *testing.T) {
		svc, _ := newTestBookingService(t)
		seedCustomer(t, svc.db, "jane@example.com")

		_, _, err := svc.RecordScheduled(ctx, ScheduledBooking{
			Email:     "jane@example.com",
			EventURI:  "https://api.calendly.com/scheduled_events/y",
			EventName: "Consultation",
			StartTime: time.Now(),
		})
		assert.True(t, errors.Is(err, ErrValidation))
	})
}

func TestBookingService_Cancel(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	t.Run("cancels with scheduler and releases items", func(t *testing.T) {
		sched := &fakeScheduler{}
		svc, pub := newTestBookingService(t, WithScheduler(sched), WithCancelCutoff(24*time.Hour), WithClock(clock))
		user, customer := seedCustomer(t, svc.db, "jane@example.com")
		item := seedItem(t, svc.db, customer.ID, "Skis", models.ItemPending)
		action := seedAction(t, svc.db, customer.ID, models.ActionPickup, now.Add(48*time.Hour))
		attachItems(t, svc.db, action.ID, item)

		got, err := svc.Cancel(ctx, customer.ID, action.ID, user.ID, "plans changed")

		require.NoError(t, err)
		assert.Equal(t, models.ActionCanceled, got.Status)
		assert.Equal(t, "plans changed", got.CancelReason)
		assert.Equal(t, []string{action.CalendlyEventURI}, sched.canceled)
		assert.Equal(t, []string{models.EventCanceled}, pub.kinds())

		var links int64
		svc.db.Table("action_items").Where("action_id = ?", action.ID).Count(&links)
		assert.Zero(t, links)

		var stored models.Action
		require.NoError(t, svc.db.First(&stored, "id = ?", action.ID).Error)
		assert.Equal(t, models.ActionCanceled, stored.Status)
		require.NotNil(t, stored.CanceledAt)
	})

	t.Run("too close to the appointment", func(t *testing.T) {
		sched := &fakeScheduler{}
		svc, _ := newTestBookingService(t, WithScheduler(sched), WithCancelCutoff(24*time.Hour), WithClock(clock))
		user, customer := seedCustomer(t, svc.db, "jane@example.com")
		action := seedAction(t, svc.db, customer.ID, models.ActionPickup, now.Add(6*time.Hour))

		_, err := svc.Cancel(ctx, customer.ID, action.ID, user.ID, "")

		assert.True(t, errors.Is(err, ErrInvalidState))
		assert.Empty(t, sched.canceled)
	})

	t.Run("other customer's booking is not found", func(t *testing.T) {
		svc, _ := newTestBookingService(t, WithClock(clock))
		_, owner := seedCustomer(t, svc.db, "owner@example.com")
		intruder, other := seedCustomer(t, svc.db, "other@example.com")
		action := seedAction(t, svc.db, owner.ID, models.ActionPickup, now.Add(72*time.Hour))

		_, err := svc.Cancel(ctx, other.ID, action.ID, intruder.ID, "")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("already canceled", func(t *testing.T) {
		svc, _ := newTestBookingService(t, WithClock(clock))
		user, customer := seedCustomer(t, svc.db, "jane@example.com")
		action := seedAction(t, svc.db, customer.ID, models.ActionPickup, now.Add(72*time.Hour))
		require.NoError(t, svc.db.Model(action).Update("status", models.ActionCanceled).Error)

		_, err := svc.Cancel(ctx, customer.ID, action.ID, user.ID, "")
		assert.True(t, errors.Is(err, ErrInvalidState))
	})

	t.Run("scheduler failure keeps the booking", func(t *testing.T) {
		sched := &fakeScheduler{err: errors.New("calendly down")}
		svc, pub := newTestBookingService(t, WithScheduler(sched), WithClock(clock))
		user, customer := seedCustomer(t, svc.db, "jane@example.com")
		action := seedAction(t, svc.db, customer.ID, models.ActionPickup, now.Add(72*time.Hour))

		_, err := svc.Cancel(ctx, customer.ID, action.ID, user.ID, "")
		require.Error(t, err)

		var stored models.Action
		require.NoError(t, svc.db.First(&stored, "id = ?", action.ID).Error)
		assert.Equal(t, models.ActionScheduled, stored.Status)
		assert.Empty(t, pub.kinds())
	})
}

func TestBookingService_RecordCanceledByScheduler(t *testing.T) {
	ctx := context.Background()
	svc, pub := newTestBookingService(t)
	_, customer := seedCustomer(t, svc.db, "jane@example.com")
	action := seedAction(t, svc.db, customer.ID, models.ActionRedelivery, time.Now().Add(time.Hour))

	got, err := svc.RecordCanceledByScheduler(ctx, action.CalendlyEventURI, "host canceled")
	require.NoError(t, err)
	assert.Equal(t, models.ActionCanceled, got.Status)

	// a repeat is a no-op
	got, err = svc.RecordCanceledByScheduler(ctx, action.CalendlyEventURI, "host canceled")
	require.NoError(t, err)
	assert.Equal(t, models.ActionCanceled, got.Status)
	assert.Equal(t, []string{models.EventCanceled}, pub.kinds())

	_, err = svc.RecordCanceledByScheduler(ctx, "https://api.calendly.com/scheduled_events/missing", "")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBookingService_UpdateItems(t *testing.T) {
	ctx := context.Background()
	at := time.Now().Add(72 * time.Hour)

	t.Run("pickup takes pending items", func(t *testing.T) {
		svc, pub := newTestBookingService(t)
		user, customer := seedCustomer(t, svc.db, "jane@example.com")
		a := seedItem(t, svc.db, customer.ID, "Bike", models.ItemPending)
		b := seedItem(t, svc.db, customer.ID, "Tent", models.ItemPending)
		action := seedAction(t, svc.db, customer.ID, models.ActionPickup, at)

		got, err := svc.UpdateItems(ctx, customer.ID, action.ID, user.ID, []uuid.UUID{a.ID, b.ID, a.ID})
		require.NoError(t, err)
		assert.Len(t, got.Items, 2)

		// replace the selection
		got, err = svc.UpdateItems(ctx, customer.ID, action.ID, user.ID, []uuid.UUID{b.ID})
		require.NoError(t, err)
		require.Len(t, got.Items, 1)
		assert.Equal(t, b.ID, got.Items[0].ID)

		var links int64
		svc.db.Table("action_items").Where("action_id = ?", action.ID).Count(&links)
		assert.EqualValues(t, 1, links)
		assert.Equal(t, []string{models.EventItemsUpdated, models.EventItemsUpdated}, pub.kinds())
	})

	t.Run("pickup rejects stored items", func(t *testing.T) {
		svc, _ := newTestBookingService(t)
		user, customer := seedCustomer(t, svc.db, "jane@example.com")
		stored := seedItem(t, svc.db, customer.ID, "Sofa", models.ItemStored)
		action := seedAction(t, svc.db, customer.ID, models.ActionPickup, at)

		_, err := svc.UpdateItems(ctx, customer.ID, action.ID, user.ID, []uuid.UUID{stored.ID})
		assert.True(t, errors.Is(err, ErrValidation))
	})

	t.Run("redelivery takes stored items", func(t *testing.T) {
		svc, _ := newTestBookingService(t)
		user, customer := seedCustomer(t, svc.db, "jane@example.com")
		stored := seedItem(t, svc.db, customer.ID, "Sofa", models.ItemStored)
		action := seedAction(t, svc.db, customer.ID, models.ActionRedelivery, at)

		got, err := svc.UpdateItems(ctx, customer.ID, action.ID, user.ID, []uuid.UUID{stored.ID})
		require.NoError(t, err)
		assert.Len(t, got.Items, 1)
	})

	t.Run("container delivery carries no items", func(t *testing.T) {
		svc, _ := newTestBookingService(t)
		user, customer := seedCustomer(t, svc.db, "jane@example.com")
		item := seedItem(t, svc.db, customer.ID, "Box", models.ItemPending)
		action := seedAction(t, svc.db, customer.ID, models.ActionContainerDelivery, at)

		_, err := svc.UpdateItems(ctx, customer.ID, action.ID, user.ID, []uuid.UUID{item.ID})
		assert.True(t, errors.Is(err, ErrValidation))

		_, err = svc.UpdateItems(ctx, customer.ID, action.ID, user.ID, nil)
		assert.NoError(t, err)
	})

	t.Run("items of another customer", func(t *testing.T) {
		svc, _ := newTestBookingService(t)
		user, customer := seedCustomer(t, svc.db, "jane@example.com")
		_, other := seedCustomer(t, svc.db, "other@example.com")
		foreign := seedItem(t, svc.db, other.ID, "Piano", models.ItemPending)
		action := seedAction(t, svc.db, customer.ID, models.ActionPickup, at)

		_, err := svc.UpdateItems(ctx, customer.ID, action.ID, user.ID, []uuid.UUID{foreign.ID})
		assert.True(t, errors.Is(err, ErrValidation))
	})

	t.Run("item already on another booking", func(t *testing.T) {
		svc, _ := newTestBookingService(t)
		user, customer := seedCustomer(t, svc.db, "jane@example.com")
		item := seedItem(t, svc.db, customer.ID, "Bike", models.ItemPending)
		first := seedAction(t, svc.db, customer.ID, models.ActionPickup, at)
		second := seedAction(t, svc.db, customer.ID, models.ActionPickup, at.Add(24*time.Hour))
		attachItems(t, svc.db, first.ID, item)

		_, err := svc.UpdateItems(ctx, customer.ID, second.ID, user.ID, []uuid.UUID{item.ID})
		assert.True(t, errors.Is(err, ErrConflict))
	})
}

func TestBookingService_Complete(t *testing.T) {
	ctx := context.Background()

	t.Run("pickup stores items", func(t *testing.T) {
		svc, pub := newTestBookingService(t)
		_, customer := seedCustomer(t, svc.db, "jane@example.com")
		staff := models.User{Email: "ops@example.com", Role: models.RoleStaff}
		require.NoError(t, svc.db.Create(&staff).Error)
		item := seedItem(t, svc.db, customer.ID, "Bike", models.ItemPending)
		action := seedAction(t, svc.db, customer.ID, models.ActionPickup, time.Now())
		attachItems(t, svc.db, action.ID, item)

		got, err := svc.Complete(ctx, action.ID, staff.ID, "2 boxes")
		require.NoError(t, err)
		assert.Equal(t, models.ActionCompleted, got.Status)
		require.NotNil(t, got.CompletedByUserID)
		assert.Equal(t, staff.ID, *got.CompletedByUserID)

		var stored models.InventoryItem
		require.NoError(t, svc.db.First(&stored, "id = ?", item.ID).Error)
		assert.Equal(t, models.ItemStored, stored.Status)
		assert.Equal(t, []string{models.EventCompleted}, pub.kinds())

		_, err = svc.Complete(ctx, action.ID, staff.ID, "")
		assert.True(t, errors.Is(err, ErrInvalidState))
	})

	t.Run("redelivery returns items", func(t *testing.T) {
		svc, _ := newTestBookingService(t)
		_, customer := seedCustomer(t, svc.db, "jane@example.com")
		item := seedItem(t, svc.db, customer.ID, "Sofa", models.ItemStored)
		action := seedAction(t, svc.db, customer.ID, models.ActionRedelivery, time.Now())
		attachItems(t, svc.db, action.ID, item)

		_, err := svc.Complete(ctx, action.ID, uuid.New(), "")
		require.NoError(t, err)

		var stored models.InventoryItem
		require.NoError(t, svc.db.First(&stored, "id = ?", item.ID).Error)
		assert.Equal(t, models.ItemReturned, stored.Status)
	})

	t.Run("unknown action", func(t *testing.T) {
		svc, _ := newTestBookingService(t)
		_, err := svc.Complete(ctx, uuid.New(), uuid.New(), "")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestBookingService_Queries(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestBookingService(t)
	_, customer := seedCustomer(t, svc.db, "jane@example.com")
	_, other := seedCustomer(t, svc.db, "other@example.com")
	base := time.Now().Add(24 * time.Hour).UTC()

	early := seedAction(t, svc.db, customer.ID, models.ActionPickup, base)
	late := seedAction(t, svc.db, customer.ID, models.ActionRedelivery, base.Add(48*time.Hour))
	seedAction(t, svc.db, other.ID, models.ActionPickup, base.Add(time.Hour))

	t.Run("list for customer, newest appointment first", func(t *testing.T) {
		actions, err := svc.ListForCustomer(ctx, customer.ID, "")
		require.NoError(t, err)
		require.Len(t, actions, 2)
		assert.Equal(t, late.ID, actions[0].ID)
		assert.Equal(t, early.ID, actions[1].ID)
	})

	t.Run("find by event uri", func(t *testing.T) {
		got, err := svc.FindForConfirmation(ctx, customer.ID, early.CalendlyEventURI, time.Time{})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, early.ID, got.ID)
	})

	t.Run("event uri of another customer is a miss", func(t *testing.T) {
		got, err := svc.FindForConfirmation(ctx, other.ID, early.CalendlyEventURI, time.Time{})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("find newest since", func(t *testing.T) {
		got, err := svc.FindForConfirmation(ctx, customer.ID, "", time.Now().Add(-time.Hour))
		require.NoError(t, err)
		require.NotNil(t, got)

		got, err = svc.FindForConfirmation(ctx, customer.ID, "", time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("staff list filters and orders ascending", func(t *testing.T) {
		actions, err := svc.ListAll(ctx, StaffActionFilter{Type: models.ActionPickup})
		require.NoError(t, err)
		require.Len(t, actions, 2)
		assert.Equal(t, early.ID, actions[0].ID)
		require.NotNil(t, actions[0].Customer)

		to := base.Add(2 * time.Hour)
		actions, err = svc.ListAll(ctx, StaffActionFilter{To: &to})
		require.NoError(t, err)
		assert.Len(t, actions, 2)
	})
}
