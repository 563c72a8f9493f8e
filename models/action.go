package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ActionPickup            = "pickup"
	ActionRedelivery        = "redelivery"
	ActionContainerDelivery = "container_delivery"
)

const (
	ActionScheduled = "scheduled"
	ActionCanceled  = "canceled"
	ActionCompleted = "completed"
)

// Action is a scheduled pickup, redelivery or container delivery appointment
type Action struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CustomerID uuid.UUID `gorm:"type:uuid;index;not null" json:"customerId"`

	Type        string     `gorm:"type:varchar(30);not null" json:"type"`
	Status      string     `gorm:"type:varchar(20);index;not null;default:'scheduled'" json:"status"`
	ScheduledAt time.Time  `gorm:"index;not null" json:"scheduledAt"`
	EndsAt      *time.Time `json:"endsAt,omitempty"`
	EventName   string     `json:"eventName"`
	Notes       string     `gorm:"type:text" json:"notes,omitempty"`

	CalendlyEventURI   string `gorm:"uniqueIndex" json:"calendlyEventUri,omitempty"`
	CalendlyInviteeURI string `json:"calendlyInviteeUri,omitempty"`

	CanceledAt        *time.Time `json:"canceledAt,omitempty"`
	CancelReason      string     `json:"cancelReason,omitempty"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	CompletedByUserID *uuid.UUID `gorm:"type:uuid" json:"completedByUserId,omitempty"`

	Customer *Customer       `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	Items    []InventoryItem `gorm:"many2many:action_items;" json:"items"`
	Events   []BookingEvent  `gorm:"foreignKey:ActionID" json:"events,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (a *Action) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = ActionScheduled
	}
	return
}

// ValidActionType reports whether t is a known action type
func ValidActionType(t string) bool {
	switch t {
	case ActionPickup, ActionRedelivery, ActionContainerDelivery:
		return true
	}
	return false
}

// AcceptsItemStatus reports which item status an action of this type can carry.
// Pickups collect items still at home, redeliveries bring stored items back.
func AcceptsItemStatus(actionType, itemStatus string) bool {
	switch actionType {
	case ActionPickup:
		return itemStatus == ItemPending
	case ActionRedelivery:
		return itemStatus == ItemStored
	}
	return false
}
