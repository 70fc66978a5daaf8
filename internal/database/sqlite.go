package database

import (
	"log"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/codyseavey/card-desk/internal/models"
)

// Open connects to the SQLite database at dbPath and migrates the schema.
// The returned handle is passed explicitly to every service that needs it.
func Open(dbPath string) (*gorm.DB, error) {
	return open(dbPath, logger.Default.LogMode(logger.Warn))
}

// OpenInMemory returns a private in-memory database, used by tests
func OpenInMemory() (*gorm.DB, error) {
	return open("file::memory:", logger.Default.LogMode(logger.Silent))
}

func open(dsn string, l logger.Interface) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: l,
	})
	if err != nil {
		return nil, err
	}

	// SQLite allows one writer; a single connection also keeps in-memory
	// databases alive for the whole process.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	log.Println("Database connected successfully")

	if err := cleanupDuplicateIdempotencyKeys(db); err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&models.InventoryItem{}); err != nil {
		return nil, err
	}

	if err := RunMigrations(db); err != nil {
		return nil, err
	}

	log.Println("Database migration completed")
	return db, nil
}
