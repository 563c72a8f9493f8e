package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"keepsafe-portal/models"
)

// newTestDB opens a private in-memory SQLite database with the full schema
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func seedCustomer(t *testing.T, db *gorm.DB, email string) (*models.User, *models.Customer) {
	t.Helper()
	user := models.User{Email: email, Role: models.RoleCustomer, IsActive: true}
	require.NoError(t, db.Create(&user).Error)
	customer := models.Customer{UserID: user.ID, Email: email, Name: "Test Customer", Phone: "+15555550100"}
	require.NoError(t, db.Create(&customer).Error)
	return &user, &customer
}

func seedItem(t *testing.T, db *gorm.DB, customerID uuid.UUID, label, status string) *models.InventoryItem {
	t.Helper()
	item := models.InventoryItem{CustomerID: customerID, Label: label, Status: status}
	require.NoError(t, db.Create(&item).Error)
	return &item
}

func seedAction(t *testing.T, db *gorm.DB, customerID uuid.UUID, actionType string, at time.Time) *models.Action {
	t.Helper()
	action := models.Action{
		CustomerID:       customerID,
		Type:             actionType,
		Status:           models.ActionScheduled,
		ScheduledAt:      at.UTC(),
		CalendlyEventURI: "https://api.calendly.com/scheduled_events/" + uuid.NewString(),
	}
	require.NoError(t, db.Create(&action).Error)
	return &action
}

func attachItems(t *testing.T, db *gorm.DB, actionID uuid.UUID, items ...*models.InventoryItem) {
	t.Helper()
	for _, item := range items {
		require.NoError(t, db.Exec("INSERT INTO action_items (action_id, inventory_item_id) VALUES (?, ?)", actionID, item.ID).Error)
	}
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []BookingEventMessage
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, msg BookingEventMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.messages))
	for i, m := range p.messages {
		out[i] = m.Kind
	}
	return out
}

type fakeScheduler struct {
	canceled []string
	err      error
}

func (f *fakeScheduler) CancelEvent(_ context.Context, eventURI, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.canceled = append(f.canceled, eventURI)
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	links map[string]string
	sms   []string
	err   error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{links: map[string]string{}}
}

func (n *fakeNotifier) SendLoginLink(_ context.Context, email, link string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.links[email] = link
	return n.err
}

func (n *fakeNotifier) SendSMS(_ context.Context, to, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sms = append(n.sms, to+": "+body)
	return nil
}
