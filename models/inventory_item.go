package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	ItemPending        = "pending" // still at the customer's home
	ItemStored         = "stored"
	ItemOutForDelivery = "out_for_delivery"
	ItemReturned       = "returned"
)

// InventoryItem is a customer belonging tracked by the service
type InventoryItem struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CustomerID uuid.UUID `gorm:"type:uuid;index;not null" json:"customerId"`

	Label       string  `gorm:"size:100;not null" json:"label"`
	Description string  `gorm:"type:text" json:"description"`
	Category    string  `gorm:"size:50" json:"category"`
	LengthIn    float64 `json:"lengthIn"`
	WidthIn     float64 `json:"widthIn"`
	HeightIn    float64 `json:"heightIn"`
	WeightLb    float64 `json:"weightLb"`

	DeclaredValue decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"declaredValue"`
	Status        string          `gorm:"type:varchar(20);index;not null;default:'pending'" json:"status"`

	Photos []ItemPhoto `gorm:"foreignKey:ItemID" json:"photos"`

	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (i *InventoryItem) BeforeCreate(tx *gorm.DB) (err error) {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	if i.Status == "" {
		i.Status = ItemPending
	}
	return
}

// ItemPhoto is an uploaded picture of an inventory item. The object itself
// lives in the photo bucket under StorageKey.
type ItemPhoto struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ItemID      uuid.UUID `gorm:"type:uuid;index;not null" json:"itemId"`
	StorageKey  string    `gorm:"not null;uniqueIndex" json:"storageKey"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	Position    int       `json:"position"`

	URL          string     `gorm:"-" json:"url,omitempty"`
	URLExpiresAt *time.Time `gorm:"-" json:"urlExpiresAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

func (p *ItemPhoto) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return
}
