// Package testing provides test utilities and database setup for testing the publish pipeline
package testing

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/amirphl/signage-publisher/models"
	"github.com/amirphl/signage-publisher/utils"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB represents a test database instance
type TestDB struct {
	DB  *gorm.DB
	Dir string
}

// SetupTestDB creates a fresh sqlite database in a temporary directory and migrates every model
func SetupTestDB() (*TestDB, error) {
	dir, err := os.MkdirTemp("", "signage-test-")
	if err != nil {
		return nil, fmt.Errorf("failed to create test directory: %w", err)
	}

	dsn := filepath.Join(dir, "test.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        utils.UTCNow,
	})
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to open test database: %w", err)
	}

	// One connection keeps sqlite writers from contending; transactions carry their own handle.
	sqlDB, err := db.DB()
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(models.All()...); err != nil {
		sqlDB.Close()
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to migrate test database: %w", err)
	}

	return &TestDB{DB: db, Dir: dir}, nil
}

// Cleanup closes the connection and removes the database files
func (tdb *TestDB) Cleanup() error {
	if tdb.DB != nil {
		if sqlDB, err := tdb.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
	if tdb.Dir == "" {
		return nil
	}
	return os.RemoveAll(tdb.Dir)
}

// ClearAllTables removes all data from tables while preserving structure
func (tdb *TestDB) ClearAllTables() error {
	tables := []string{
		"publish_traces",
		"publish_queue_items",
		"upload_jobs",
		"ad_assets",
		"placements",
		"screens",
		"locations",
	}
	for _, table := range tables {
		if err := tdb.DB.Exec(fmt.Sprintf("DELETE FROM %s", table)).Error; err != nil {
			return fmt.Errorf("failed to clear table %s: %w", table, err)
		}
	}
	return nil
}

// TestWithDB is a helper function that sets up a test database, runs the test function, and cleans up
func TestWithDB(testFunc func(*TestDB) error) error {
	testDB, err := SetupTestDB()
	if err != nil {
		return fmt.Errorf("failed to setup test database: %w", err)
	}
	defer func() {
		if cleanupErr := testDB.Cleanup(); cleanupErr != nil {
			log.Printf("Warning: failed to cleanup test database: %v", cleanupErr)
		}
	}()

	return testFunc(testDB)
}

// CreateTestContext creates a context for testing
func CreateTestContext() context.Context {
	return context.Background()
}
