package store

import (
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mysticorb/mysticorb-server/internal/achievement"
	"github.com/mysticorb/mysticorb-server/internal/auth"
	"github.com/mysticorb/mysticorb-server/internal/ledger"
	"github.com/mysticorb/mysticorb-server/internal/referral"
	"github.com/mysticorb/mysticorb-server/internal/service"
)

// Store provides SQL persistence via GORM.
type Store struct {
	db *gorm.DB
}

// NewStore opens the database and auto-migrates schemas.
func NewStore(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	// Configure connection pool for PostgreSQL
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate auto-migrates every model in the schema. Shared with the
// sqlite-backed test helpers.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&auth.User{},
		&ledger.Account{},
		&ledger.Transaction{},
		&referral.Redemption{},
		&achievement.Unlock{},
		&service.Reading{},
		&service.SpreadUse{},
	)
}

// DB returns the underlying GORM database instance.
func (s *Store) DB() *gorm.DB {
	return s.db
}
