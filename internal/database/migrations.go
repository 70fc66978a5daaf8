package database

import (
	"log"

	"gorm.io/gorm"
)

// cleanupDuplicateIdempotencyKeys clears repeated idempotency keys before the unique
// index is added. This runs BEFORE AutoMigrate to prevent constraint violations.
func cleanupDuplicateIdempotencyKeys(db *gorm.DB) error {
	if !db.Migrator().HasTable("inventory_items") {
		return nil
	}
	if !db.Migrator().HasColumn("inventory_items", "idempotency_key") {
		return nil
	}

	// Keep the key on the oldest row; later duplicates lose it but stay in inventory
	result := db.Exec(`
		UPDATE inventory_items
		SET idempotency_key = NULL
		WHERE idempotency_key IS NOT NULL
		AND id NOT IN (
			SELECT MIN(id)
			FROM inventory_items
			WHERE idempotency_key IS NOT NULL
			GROUP BY idempotency_key
		)
	`)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected > 0 {
		log.Printf("Cleared %d duplicate inventory idempotency keys", result.RowsAffected)
	}

	return nil
}

// RunMigrations runs any custom data migrations after schema changes
func RunMigrations(db *gorm.DB) error {
	return migrateDefaults(db)
}

// migrateDefaults backfills columns that older rows may have left empty.
// Safe to run multiple times.
func migrateDefaults(db *gorm.DB) error {
	if db.Migrator().HasColumn("inventory_items", "language") {
		if err := db.Exec(`UPDATE inventory_items SET language = 'English' WHERE language IS NULL OR language = ''`).Error; err != nil {
			log.Printf("Warning: failed to backfill inventory language: %v", err)
		}
	}

	if db.Migrator().HasColumn("inventory_items", "condition") {
		if err := db.Exec(`UPDATE inventory_items SET condition = 'NM' WHERE condition IS NULL OR condition = ''`).Error; err != nil {
			log.Printf("Warning: failed to backfill inventory condition: %v", err)
		}
	}

	// Empty-string keys would collide on the unique index
	if db.Migrator().HasColumn("inventory_items", "idempotency_key") {
		if err := db.Exec(`UPDATE inventory_items SET idempotency_key = NULL WHERE idempotency_key = ''`).Error; err != nil {
			log.Printf("Warning: failed to clear empty idempotency keys: %v", err)
		}
	}

	return nil
}
