// Package store provides the persistent preference store for playback
// sessions, backed by SQLite through GORM.
package store

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gnus-inc/audioplayers/internal/config"
)

// DB wraps a GORM connection.
type DB struct {
	*gorm.DB
	logger *slog.Logger
}

// Open opens the SQLite database and runs migrations.
func Open(cfg config.DatabaseConfig, log *slog.Logger) (*DB, error) {
	if log == nil {
		log = slog.Default()
	}

	db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{
		Logger:                 gormLogger(cfg.LogLevel),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.AutoMigrate(&PlayerPrefs{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &DB{DB: db, logger: log.With(slog.String("component", "store"))}, nil
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func gormLogger(level string) gormlogger.Interface {
	var l gormlogger.LogLevel
	switch level {
	case "silent":
		l = gormlogger.Silent
	case "error":
		l = gormlogger.Error
	case "info":
		l = gormlogger.Info
	default:
		l = gormlogger.Warn
	}
	return gormlogger.Default.LogMode(l)
}

// newULID generates a lexicographically sortable row identifier.
func newULID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}
