package models

import "gorm.io/gorm"

// AutoMigrate creates or updates every table the portal owns
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&LoginToken{},
		&Customer{},
		&InventoryItem{},
		&ItemPhoto{},
		&Action{},
		&BookingEvent{},
		&WaitlistEntry{},
		&ReminderLog{},
	)
}
