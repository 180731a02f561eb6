package storage

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store wraps the gorm connection shared by the event store, snapshot
// recorder, reconciliation service, circuit breaker, and config KV bucket.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to the configured SQL backend (sqlite by default, swappable
// to mysql/postgres drivers in production by changing dsn/driver) and
// migrates every model this package owns.
func Open(logger *zap.Logger, dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&EventRecord{},
		&PositionSnapshotRecord{},
		&ReconciliationRunRecord{},
		&ReconciliationDriftRecord{},
		&TruthConfidenceRecord{},
		&CircuitBreakerStateRecord{},
		&ConfigKV{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// DB returns the underlying gorm handle for package-specific queries.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying DB: %w", err)
	}
	return sqlDB.Close()
}

func gormLogger(log *zap.Logger) logger.Interface {
	if log == nil {
		return logger.Default.LogMode(logger.Silent)
	}
	return logger.Default.LogMode(logger.Error)
}
