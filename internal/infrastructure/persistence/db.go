package persistence

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cnrmurphy/sentinel/internal/infrastructure/config"
	"github.com/cnrmurphy/sentinel/internal/infrastructure/persistence/models"
)

// maxOpenConns bounds the shared connection pool. All store mutation is
// serialized by the database; application code holds no locks.
const maxOpenConns = 5

// NewDBConnection opens the durable store and migrates its schema.
func NewDBConnection(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Type {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)

	// AutoMigrate adds missing tables, columns, and indexes; columns
	// introduced after initial release (topic) appear on first start
	// against an old database file.
	if err := db.AutoMigrate(&models.AgentModel{}, &models.EventModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}
