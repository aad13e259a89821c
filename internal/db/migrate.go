package db

import (
	"fmt"

	"github.com/zulandar/netmaker/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model that owns a table.
func AllModels() []interface{} {
	return []interface{}{
		&models.ContentItem{},
		&models.Ticket{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
