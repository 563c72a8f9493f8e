package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	EventCreated      = "created"
	EventCanceled     = "canceled"
	EventItemsUpdated = "items_updated"
	EventCompleted    = "completed"
)

const (
	SourceWebhook = "webhook"
	SourcePortal  = "portal"
	SourceStaff   = "staff"
)

// BookingEvent is an audit row for a lifecycle transition of an action
type BookingEvent struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ActionID    uuid.UUID  `gorm:"type:uuid;index;not null" json:"actionId"`
	CustomerID  uuid.UUID  `gorm:"type:uuid;index;not null" json:"customerId"`
	Kind        string     `gorm:"type:varchar(20);not null" json:"kind"`
	Source      string     `gorm:"type:varchar(20);not null" json:"source"`
	ActorUserID *uuid.UUID `gorm:"type:uuid" json:"actorUserId,omitempty"`
	Detail      string     `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt   time.Time  `gorm:"index" json:"createdAt"`
}

func (e *BookingEvent) BeforeCreate(tx *gorm.DB) (err error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return
}
