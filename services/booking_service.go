package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"keepsafe-portal/models"
)

// ScheduledBooking is a booking reported by the scheduler's webhook
type ScheduledBooking struct {
	Email      string
	EventURI   string
	InviteeURI string
	EventName  string
	StartTime  time.Time
	EndTime    *time.Time
	Notes      string
}

// StaffActionFilter narrows the operations list
type StaffActionFilter struct {
	Status string
	Type   string
	From   *time.Time
	To     *time.Time
}

// BookingService owns the lifecycle of actions and their booking events
type BookingService struct {
	db           *gorm.DB
	scheduler    SchedulingAPI
	publisher    EventPublisher
	cache        *QueryCache
	cancelCutoff time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

type BookingOption func(*BookingService)

func WithScheduler(s SchedulingAPI) BookingOption {
	return func(b *BookingService) { b.scheduler = s }
}

func WithPublisher(p EventPublisher) BookingOption {
	return func(b *BookingService) { b.publisher = p }
}

func WithQueryCache(c *QueryCache) BookingOption {
	return func(b *BookingService) { b.cache = c }
}

func WithCancelCutoff(d time.Duration) BookingOption {
	return func(b *BookingService) { b.cancelCutoff = d }
}

func WithBookingLogger(l *zap.Logger) BookingOption {
	return func(b *BookingService) { b.logger = l }
}

func WithClock(now func() time.Time) BookingOption {
	return func(b *BookingService) { b.now = now }
}

func NewBookingService(db *gorm.DB, opts ...BookingOption) *BookingService {
	b := &BookingService{
		db:     db,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.publisher == nil {
		b.publisher = LogPublisher{Logger: b.logger}
	}
	return b
}

// ActionTypeFromEventName maps a scheduler event name to an action type.
// Pickup wins over container, container wins over delivery.
func ActionTypeFromEventName(name string) (string, bool) {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "pickup"), strings.Contains(n, "pick-up"), strings.Contains(n, "pick up"):
		return models.ActionPickup, true
	case strings.Contains(n, "container"):
		return models.ActionContainerDelivery, true
	case strings.Contains(n, "deliver"):
		return models.ActionRedelivery, true
	}
	return "", false
}

// RecordScheduled stores a booking made in the scheduling widget. The boolean
// is false when the event had already been recorded.
func (b *BookingService) RecordScheduled(ctx context.Context, sb ScheduledBooking) (*models.Action, bool, error) {
	if sb.EventURI == "" {
		return nil, false, fmt.Errorf("%w: event uri is required", ErrValidation)
	}

	var existing models.Action
	err := b.db.WithContext(ctx).Where("calendly_event_uri = ?", sb.EventURI).First(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	actionType, ok := ActionTypeFromEventName(sb.EventName)
	if !ok {
		return nil, false, fmt.Errorf("%w: unknown event type %q", ErrValidation, sb.EventName)
	}

	var customer models.Customer
	if err := b.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(sb.Email))).
		First(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, fmt.Errorf("%w: no customer for %s", ErrNotFound, sb.Email)
		}
		return nil, false, err
	}

	action := models.Action{
		CustomerID:         customer.ID,
		Type:               actionType,
		Status:             models.ActionScheduled,
		ScheduledAt:        sb.StartTime.UTC(),
		EventName:          sb.EventName,
		Notes:              sb.Notes,
		CalendlyEventURI:   sb.EventURI,
		CalendlyInviteeURI: sb.InviteeURI,
	}
	if sb.EndTime != nil {
		end := sb.EndTime.UTC()
		action.EndsAt = &end
	}

	var event models.BookingEvent
	err = b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&action).Error; err != nil {
			return err
		}
		event = models.BookingEvent{
			ActionID:   action.ID,
			CustomerID: customer.ID,
			Kind:       models.EventCreated,
			Source:     models.SourceWebhook,
			Detail:     sb.EventName,
		}
		return tx.Create(&event).Error
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to record booking: %w", err)
	}

	b.logger.Info("Booking recorded",
		zap.String("action_id", action.ID.String()),
		zap.String("type", action.Type),
		zap.String("customer_id", customer.ID.String()))
	b.afterChange(ctx, &event, &action)
	return &action, true, nil
}

// RecordCanceledByScheduler applies a cancellation made on the scheduler side
func (b *BookingService) RecordCanceledByScheduler(ctx context.Context, eventURI, reason string) (*models.Action, error) {
	var action models.Action
	if err := b.db.WithContext(ctx).Where("calendly_event_uri = ?", eventURI).First(&action).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if action.Status != models.ActionScheduled {
		return &action, nil
	}

	event, err := b.markCanceled(ctx, &action, reason, models.SourceWebhook, nil)
	if err != nil {
		return nil, err
	}
	b.afterChange(ctx, event, &action)
	return &action, nil
}

// Cancel cancels a customer's booking with the scheduler and locally
func (b *BookingService) Cancel(ctx context.Context, customerID, actionID, actorID uuid.UUID, reason string) (*models.Action, error) {
	action, err := b.customerAction(ctx, customerID, actionID)
	if err != nil {
		return nil, err
	}
	if action.Status != models.ActionScheduled {
		return nil, fmt.Errorf("%w: booking is %s", ErrInvalidState, action.Status)
	}
	if b.now().After(action.ScheduledAt.Add(-b.cancelCutoff)) {
		return nil, fmt.Errorf("%w: bookings can no longer be canceled this close to the appointment", ErrInvalidState)
	}

	if action.CalendlyEventURI != "" {
		if b.scheduler == nil {
			b.logger.Warn("Scheduler not configured, canceling locally only",
				zap.String("action_id", action.ID.String()))
		} else if err := b.scheduler.CancelEvent(ctx, action.CalendlyEventURI, reason); err != nil {
			return nil, fmt.Errorf("failed to cancel with scheduler: %w", err)
		}
	}

	event, err := b.markCanceled(ctx, action, reason, models.SourcePortal, &actorID)
	if err != nil {
		return nil, err
	}
	b.afterChange(ctx, event, action)
	return action, nil
}

func (b *BookingService) markCanceled(ctx context.Context, action *models.Action, reason, source string, actor *uuid.UUID) (*models.BookingEvent, error) {
	now := b.now().UTC()
	var event models.BookingEvent
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Action{}).
			Where("id = ? AND status = ?", action.ID, models.ActionScheduled).
			Updates(map[string]interface{}{
				"status":        models.ActionCanceled,
				"canceled_at":   now,
				"cancel_reason": reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: booking changed concurrently", ErrConflict)
		}
		// items held for a canceled booking are released
		if err := tx.Exec("DELETE FROM action_items WHERE action_id = ?", action.ID).Error; err != nil {
			return err
		}
		event = models.BookingEvent{
			ActionID:    action.ID,
			CustomerID:  action.CustomerID,
			Kind:        models.EventCanceled,
			Source:      source,
			ActorUserID: actor,
			Detail:      reason,
		}
		return tx.Create(&event).Error
	})
	if err != nil {
		return nil, err
	}
	action.Status = models.ActionCanceled
	action.CanceledAt = &now
	action.CancelReason = reason
	action.Items = nil
	return &event, nil
}

// UpdateItems replaces the items attached to a scheduled booking
func (b *BookingService) UpdateItems(ctx context.Context, customerID, actionID, actorID uuid.UUID, itemIDs []uuid.UUID) (*models.Action, error) {
	action, err := b.customerAction(ctx, customerID, actionID)
	if err != nil {
		return nil, err
	}
	if action.Status != models.ActionScheduled {
		return nil, fmt.Errorf("%w: booking is %s", ErrInvalidState, action.Status)
	}

	ids := dedupeIDs(itemIDs)
	if action.Type == models.ActionContainerDelivery && len(ids) > 0 {
		return nil, fmt.Errorf("%w: container deliveries do not carry items", ErrValidation)
	}

	var items []models.InventoryItem
	if len(ids) > 0 {
		if err := b.db.WithContext(ctx).
			Where("id IN ? AND customer_id = ?", ids, customerID).
			Find(&items).Error; err != nil {
			return nil, err
		}
		if len(items) != len(ids) {
			return nil, fmt.Errorf("%w: unknown items in selection", ErrValidation)
		}
		for _, item := range items {
			if !models.AcceptsItemStatus(action.Type, item.Status) {
				return nil, fmt.Errorf("%w: %q is %s and cannot be added to a %s",
					ErrValidation, item.Label, item.Status, action.Type)
			}
		}

		var taken int64
		if err := b.db.WithContext(ctx).Table("action_items").
			Joins("JOIN actions ON actions.id = action_items.action_id").
			Where("action_items.inventory_item_id IN ? AND actions.status = ? AND actions.id <> ?",
				ids, models.ActionScheduled, action.ID).
			Count(&taken).Error; err != nil {
			return nil, err
		}
		if taken > 0 {
			return nil, fmt.Errorf("%w: some items are already on another booking", ErrConflict)
		}
	}

	var event models.BookingEvent
	err = b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM action_items WHERE action_id = ?", action.ID).Error; err != nil {
			return err
		}
		for _, item := range items {
			if err := tx.Exec("INSERT INTO action_items (action_id, inventory_item_id) VALUES (?, ?)",
				action.ID, item.ID).Error; err != nil {
				return err
			}
		}
		event = models.BookingEvent{
			ActionID:    action.ID,
			CustomerID:  action.CustomerID,
			Kind:        models.EventItemsUpdated,
			Source:      models.SourcePortal,
			ActorUserID: &actorID,
			Detail:      fmt.Sprintf("%d items selected", len(items)),
		}
		return tx.Create(&event).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update booking items: %w", err)
	}

	action.Items = items
	b.afterChange(ctx, &event, action)
	return action, nil
}

// Complete marks a booking as done and moves its items to their new state
func (b *BookingService) Complete(ctx context.Context, actionID, staffID uuid.UUID, notes string) (*models.Action, error) {
	var action models.Action
	if err := b.db.WithContext(ctx).Preload("Items").First(&action, "id = ?", actionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if action.Status != models.ActionScheduled {
		return nil, fmt.Errorf("%w: booking is %s", ErrInvalidState, action.Status)
	}

	var newItemStatus string
	switch action.Type {
	case models.ActionPickup:
		newItemStatus = models.ItemStored
	case models.ActionRedelivery:
		newItemStatus = models.ItemReturned
	}

	now := b.now().UTC()
	var event models.BookingEvent
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":               models.ActionCompleted,
			"completed_at":         now,
			"completed_by_user_id": staffID,
		}
		if notes != "" {
			updates["notes"] = strings.TrimSpace(action.Notes + "\n" + notes)
		}
		res := tx.Model(&models.Action{}).
			Where("id = ? AND status = ?", action.ID, models.ActionScheduled).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: booking changed concurrently", ErrConflict)
		}

		if newItemStatus != "" && len(action.Items) > 0 {
			ids := make([]uuid.UUID, len(action.Items))
			for i, item := range action.Items {
				ids[i] = item.ID
			}
			if err := tx.Model(&models.InventoryItem{}).Where("id IN ?", ids).
				Update("status", newItemStatus).Error; err != nil {
				return err
			}
		}

		event = models.BookingEvent{
			ActionID:    action.ID,
			CustomerID:  action.CustomerID,
			Kind:        models.EventCompleted,
			Source:      models.SourceStaff,
			ActorUserID: &staffID,
			Detail:      notes,
		}
		return tx.Create(&event).Error
	})
	if err != nil {
		return nil, err
	}

	action.Status = models.ActionCompleted
	action.CompletedAt = &now
	action.CompletedByUserID = &staffID
	if newItemStatus != "" {
		for i := range action.Items {
			action.Items[i].Status = newItemStatus
		}
	}
	b.logger.Info("Booking completed",
		zap.String("action_id", action.ID.String()),
		zap.String("staff_id", staffID.String()))
	b.afterChange(ctx, &event, &action)
	return &action, nil
}

// ListForCustomer returns a customer's bookings, newest appointment first
func (b *BookingService) ListForCustomer(ctx context.Context, customerID uuid.UUID, status string) ([]models.Action, error) {
	q := b.db.WithContext(ctx).
		Preload("Items").
		Preload("Events", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("customer_id = ?", customerID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var actions []models.Action
	if err := q.Order("scheduled_at DESC").Find(&actions).Error; err != nil {
		return nil, err
	}
	return actions, nil
}

// FindForConfirmation looks for the booking a customer just made. With an
// event URI it matches exactly, otherwise it takes the newest booking created
// at or after since. A miss returns nil, nil.
func (b *BookingService) FindForConfirmation(ctx context.Context, customerID uuid.UUID, eventURI string, since time.Time) (*models.Action, error) {
	q := b.db.WithContext(ctx).Preload("Items").Where("customer_id = ?", customerID)
	if eventURI != "" {
		q = q.Where("calendly_event_uri = ?", eventURI)
	} else {
		q = q.Where("created_at >= ?", since).Order("created_at DESC")
	}
	var action models.Action
	if err := q.First(&action).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &action, nil
}

// ListAll is the staff operations view
func (b *BookingService) ListAll(ctx context.Context, f StaffActionFilter) ([]models.Action, error) {
	q := b.db.WithContext(ctx).Preload("Customer").Preload("Items")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.From != nil {
		q = q.Where("scheduled_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("scheduled_at < ?", *f.To)
	}
	var actions []models.Action
	if err := q.Order("scheduled_at ASC").Find(&actions).Error; err != nil {
		return nil, err
	}
	return actions, nil
}

// Get loads one action with everything attached
func (b *BookingService) Get(ctx context.Context, actionID uuid.UUID) (*models.Action, error) {
	var action models.Action
	err := b.db.WithContext(ctx).
		Preload("Customer").
		Preload("Items").
		Preload("Events", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&action, "id = ?", actionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &action, nil
}

func (b *BookingService) customerAction(ctx context.Context, customerID, actionID uuid.UUID) (*models.Action, error) {
	var action models.Action
	if err := b.db.WithContext(ctx).Preload("Items").
		Where("id = ? AND customer_id = ?", actionID, customerID).
		First(&action).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &action, nil
}

// afterChange publishes the event and drops the customer's cached queries.
// Neither failure undoes the committed change.
func (b *BookingService) afterChange(ctx context.Context, event *models.BookingEvent, action *models.Action) {
	if err := b.publisher.Publish(ctx, NewBookingEventMessage(event, action)); err != nil {
		b.logger.Error("Failed to publish booking event",
			zap.String("event_id", event.ID.String()),
			zap.String("kind", event.Kind),
			zap.Error(err))
	}
	b.cache.Invalidate(ctx, action.CustomerID)
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
