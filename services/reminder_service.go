// services/reminder_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"keepsafe-portal/models"
	"keepsafe-portal/utils"
)

// ReminderService texts customers the day before a scheduled pickup or
// delivery
type ReminderService struct {
	db       *gorm.DB
	notifier Notifier
	spec     string
	cron     *cron.Cron
	logger   *zap.Logger
	now      func() time.Time
}

func NewReminderService(db *gorm.DB, notifier Notifier, spec string, logger *zap.Logger) *ReminderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if spec == "" {
		spec = "0 9 * * *"
	}
	return &ReminderService{
		db:       db,
		notifier: notifier,
		spec:     spec,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *ReminderService) StartScheduler() error {
	c := cron.New()
	if _, err := c.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		s.SendReminders(ctx)
	}); err != nil {
		return fmt.Errorf("invalid reminder schedule %q: %w", s.spec, err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("Reminder scheduler started", zap.String("schedule", s.spec))
	return nil
}

// Stop waits for a running reminder pass to finish
func (s *ReminderService) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// SendReminders notifies every customer with an action scheduled tomorrow.
// Actions that already have a sent reminder are skipped, so a rerun on the
// same day does not double-text anyone.
func (s *ReminderService) SendReminders(ctx context.Context) (sent, failed int) {
	start := utils.BeginningOfDay(s.now()).AddDate(0, 0, 1)
	end := start.AddDate(0, 0, 1)

	var actions []models.Action
	err := s.db.WithContext(ctx).
		Preload("Customer").
		Where("status = ? AND scheduled_at >= ? AND scheduled_at < ?", models.ActionScheduled, start, end).
		Where("id NOT IN (?)", s.db.Model(&models.ReminderLog{}).Select("action_id").Where("status = ?", models.ReminderSent)).
		Order("scheduled_at ASC").
		Find(&actions).Error
	if err != nil {
		s.logger.Error("Failed to fetch actions for reminders", zap.Error(err))
		return 0, 0
	}

	for i := range actions {
		action := &actions[i]
		if action.Customer == nil || action.Customer.Phone == "" {
			continue
		}
		if s.remind(ctx, action) {
			sent++
		} else {
			failed++
		}
	}

	s.logger.Info("Reminder pass completed", zap.Int("sent", sent), zap.Int("failed", failed))
	return sent, failed
}

func (s *ReminderService) remind(ctx context.Context, action *models.Action) bool {
	message := ReminderMessage(action)

	status := models.ReminderSent
	errorMsg := ""
	if err := s.notifier.SendSMS(ctx, action.Customer.Phone, message); err != nil {
		s.logger.Warn("Failed to send reminder",
			zap.String("action_id", action.ID.String()),
			zap.Error(err))
		status = models.ReminderFailed
		errorMsg = err.Error()
	}

	reminderLog := models.ReminderLog{
		ActionID:     action.ID,
		CustomerID:   action.CustomerID,
		Message:      message,
		Status:       status,
		ErrorMessage: errorMsg,
		Channel:      "sms",
		SentAt:       s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&reminderLog).Error; err != nil {
		s.logger.Error("Failed to log reminder", zap.String("action_id", action.ID.String()), zap.Error(err))
	}
	return status == models.ReminderSent
}

// ReminderMessage renders the reminder text for an action
func ReminderMessage(action *models.Action) string {
	name := "there"
	if action.Customer != nil && action.Customer.Name != "" {
		name = action.Customer.Name
	}
	what := "appointment"
	switch action.Type {
	case models.ActionPickup:
		what = "pickup"
	case models.ActionRedelivery:
		what = "delivery"
	case models.ActionContainerDelivery:
		what = "container delivery"
	}
	return fmt.Sprintf("Hi %s, a reminder that your %s is scheduled for %s. Reply or visit the portal to make changes.",
		name, what, action.ScheduledAt.Format("Mon Jan 2 at 3:04 PM"))
}

// RemindersFor returns the reminder history of one action
func (s *ReminderService) RemindersFor(ctx context.Context, actionID uuid.UUID) ([]models.ReminderLog, error) {
	var logs []models.ReminderLog
	err := s.db.WithContext(ctx).Where("action_id = ?", actionID).Order("sent_at DESC").Find(&logs).Error
	return logs, err
}
