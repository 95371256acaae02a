package bootstrap

import (
	"fmt"

	"gorm.io/gorm"

	"paybridge/internal/models"
)

// Migrate ensures the payment and outbox tables exist.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	return nil
}

func allModels() []interface{} {
	return []interface{}{
		&models.Payment{},
		// Queue-backed notifications
		&models.NotifyJob{},
		&models.NotifyJobItem{},
	}
}
