package db

import (
	"fmt"

	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every gorm model Signalbox persists. Users come first so
// the messages foreign key has a target.
func AllModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Message{},
		&models.Campaign{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
