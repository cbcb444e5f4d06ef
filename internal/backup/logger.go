package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"dbvault/internal/logging"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AuditLogger records backup and restore operations with a correlation ID.
// When an audit file is configured every event is also appended to it as a
// JSON line.
type AuditLogger struct {
	logger        *logging.Logger
	auditLogger   *logrus.Logger
	auditFile     io.Closer
	correlationID string
}

// AuditLoggerConfig holds configuration for audit logging
type AuditLoggerConfig struct {
	Logger        *logging.Logger
	AuditLogFile  string
	CorrelationID string
}

// NewAuditLogger creates an audit logger, opening the audit file if one is set
func NewAuditLogger(config AuditLoggerConfig) (*AuditLogger, error) {
	correlationID := config.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	logger := config.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	al := &AuditLogger{
		logger:        logger,
		correlationID: correlationID,
	}

	if config.AuditLogFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.AuditLogFile), 0755); err != nil {
			return nil, fmt.Errorf("failed to create audit log directory: %w", err)
		}

		auditFile, err := os.OpenFile(config.AuditLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %w", err)
		}

		auditLogger := logrus.New()
		auditLogger.SetOutput(auditFile)
		auditLogger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
		auditLogger.SetLevel(logrus.InfoLevel)

		al.auditLogger = auditLogger
		al.auditFile = auditFile
	}

	return al, nil
}

// GetCorrelationID returns the current correlation ID
func (al *AuditLogger) GetCorrelationID() string {
	return al.correlationID
}

// WithCorrelationID creates a new logger with a different correlation ID
func (al *AuditLogger) WithCorrelationID(correlationID string) *AuditLogger {
	return &AuditLogger{
		logger:        al.logger,
		auditLogger:   al.auditLogger,
		auditFile:     al.auditFile,
		correlationID: correlationID,
	}
}

// LogOperationStart records the start of an operation and returns a function
// that records its outcome. Details passed to the returned function are merged
// into the completion entry.
func (al *AuditLogger) LogOperationStart(ctx context.Context, operation string, details map[string]interface{}) func(error, map[string]interface{}) {
	startTime := time.Now()

	al.record(ctx, operation, "started", details)

	return func(err error, extra map[string]interface{}) {
		merged := make(map[string]interface{}, len(details)+len(extra)+2)
		for k, v := range details {
			merged[k] = v
		}
		for k, v := range extra {
			merged[k] = v
		}
		merged["duration"] = time.Since(startTime).String()

		if err != nil {
			merged["error"] = err.Error()
			al.record(ctx, operation, "failed", merged)
			return
		}
		al.record(ctx, operation, "completed", merged)
	}
}

func (al *AuditLogger) record(ctx context.Context, operation, result string, details map[string]interface{}) {
	fields := logrus.Fields{
		"correlation_id": al.correlationID,
		"operation":      operation,
		"status":         result,
	}
	if requestID := logging.GetRequestIDFromContext(ctx); requestID != "" {
		fields["request_id"] = requestID
	}
	for k, v := range details {
		fields[k] = v
	}

	entry := al.logger.WithFields(fields)
	switch result {
	case "failed":
		entry.Error("Backup operation failed")
	case "started":
		entry.Debug("Backup operation started")
	default:
		entry.Info("Backup operation completed")
	}

	if al.auditLogger != nil {
		al.auditLogger.WithFields(logrus.Fields{
			"correlation_id": al.correlationID,
			"operation":      operation,
			"result":         result,
			"details":        details,
		}).Info("audit")
	}
}

// Close closes the audit file
func (al *AuditLogger) Close() error {
	if al.auditFile == nil {
		return nil
	}
	return al.auditFile.Close()
}
