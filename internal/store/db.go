package store

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"chatgate/internal/consent"
	"chatgate/internal/convlog"
	"chatgate/internal/stats"
)

// Connect opens the MySQL pool and migrates the schema.
func Connect(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "store: open mysql")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "store: pool handle")
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(
		&convlog.Conversation{},
		&convlog.Message{},
		&convlog.Feedback{},
		&consent.Consent{},
		&stats.DailyStat{},
	); err != nil {
		return nil, errors.Wrap(err, "store: migrate")
	}
	return db, nil
}
