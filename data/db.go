package data

import (
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the history database and migrates its tables.
// Supported drivers are "postgres" and "mysql", in any case.
func Open(driver, dsn string) (*gorm.DB, error) {
	dialector, err := dialectorFor(driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialector.Name(), err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Migrate creates or updates the detection, yield prediction and activity tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&DetectionRecord{}, &YieldRecord{}, &ActivityRecord{}); err != nil {
		return fmt.Errorf("failed to migrate history tables: %w", err)
	}
	return nil
}

var (
	_ HistoryStore = (*Repository)(nil)
	_ HistoryStore = (*MemoryHistory)(nil)
)

// Repository is the gorm-backed HistoryStore.
type Repository struct {
	*DetectionRepository
	*YieldRepository
	*ActivityRepository
}

// NewRepository caps each table at maxRetained rows.
func NewRepository(db *gorm.DB, maxRetained int) *Repository {
	return &Repository{
		DetectionRepository: NewDetectionRepository(db, maxRetained),
		YieldRepository:     NewYieldRepository(db, maxRetained),
		ActivityRepository:  NewActivityRepository(db, maxRetained),
	}
}
