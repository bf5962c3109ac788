package database

import (
	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lifeboat/internal/types"
	"os"
	"path/filepath"
)

func Open(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create state directory: "+dir)
		}
	}

	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open DB: "+path)
	}

	// sqlite allows a single writer; engines write from many goroutines
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&types.Backup{},
		&types.RestoreOperation{},
		&types.BackupSchedule{},
		&types.SystemUpdate{}); err != nil {
		return nil, err
	}

	return db, nil
}
