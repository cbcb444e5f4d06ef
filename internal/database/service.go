package database

import (
	"context"
	"database/sql"
	"time"

	"dbvault/internal/errors"
	"dbvault/internal/logging"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// DatabaseService defines the interface for database operations
type DatabaseService interface {
	Connect(ctx context.Context, config Config) (*sql.DB, error)
	TestConnection(ctx context.Context, db *sql.DB) error
	Close(db *sql.DB) error
}

// Service implements the DatabaseService interface
type Service struct {
	logger       *logging.Logger
	retryHandler *errors.RetryHandler
	openDB       func(driver, dsn string) (*sql.DB, error)
}

// NewServiceWithLogger creates a new database service with a custom logger
func NewServiceWithLogger(logger *logging.Logger) *Service {
	return &Service{
		logger:       logger,
		retryHandler: errors.NewDefaultRetryHandler(),
		openDB:       sql.Open,
	}
}

// Connect validates the configuration, opens a pooled connection and pings it.
// Connection establishment is the only step that is retried.
func (s *Service) Connect(ctx context.Context, config Config) (*sql.DB, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.SetDefaults()

	startTime := time.Now()
	s.logger.WithField("dsn", logging.SanitizeDSN(config.DSN())).Info("Attempting database connection")

	ctx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	var db *sql.DB
	err := s.retryHandler.Retry(ctx, func() error {
		var connectErr error

		db, connectErr = s.openDB("postgres", config.DSN())
		if connectErr != nil {
			return errors.WrapError(connectErr, "failed to open database connection")
		}

		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if testErr := s.TestConnection(ctx, db); testErr != nil {
			db.Close()
			return testErr
		}

		return nil
	})

	s.logger.LogDatabaseConnection(config.DSN(), err == nil, time.Since(startTime), err)

	if err != nil {
		return nil, err
	}

	return db, nil
}

// TestConnection verifies that the database connection is working
func (s *Service) TestConnection(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.NewConfigurationError("database connection is nil", nil)
	}

	if err := db.PingContext(ctx); err != nil {
		return errors.WrapError(err, "failed to ping database")
	}

	s.logger.Debug("Database connection test successful")
	return nil
}

// Close gracefully closes the database connection
func (s *Service) Close(db *sql.DB) error {
	if db == nil {
		return nil
	}

	s.logger.Debug("Closing database connection")
	if err := db.Close(); err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to close database connection")
		return errors.WrapError(err, "failed to close database connection")
	}

	return nil
}
