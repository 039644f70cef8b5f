package repository

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

type DatabaseOptions struct {
	Driver       string
	URL          string
	LogLevel     string
	MaxIdleConns int
	MaxOpenConns int
}

var gormLogLevels = map[string]gormLogger.LogLevel{
	"silent": gormLogger.Silent,
	"error":  gormLogger.Error,
	"warn":   gormLogger.Warn,
	"info":   gormLogger.Info,
}

// OpenDatabase connects with Postgres, or SQLite when Driver is "sqlite".
// Errors are translated so duplicate keys surface as gorm.ErrDuplicatedKey.
func OpenDatabase(opts DatabaseOptions) (*gorm.DB, error) {
	level, ok := gormLogLevels[strings.ToLower(opts.LogLevel)]
	if !ok {
		level = gormLogger.Warn
	}
	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var dialector gorm.Dialector
	switch strings.ToLower(opts.Driver) {
	case "sqlite":
		dsn := opts.URL
		if dsn == "" {
			dsn = "cascprep.db"
		}
		dialector = sqlite.Open(dsn)
	case "", "postgres":
		if opts.URL == "" {
			return nil, errors.New("database url is not configured")
		}
		dialector = postgres.Open(opts.URL)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	return db, nil
}
