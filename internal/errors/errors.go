package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/lib/pq"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeConfiguration represents a missing or invalid required setting
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeToolUnavailable represents a native binary that is missing or failed
	ErrorTypeToolUnavailable ErrorType = "tool_unavailable"
	// ErrorTypeSerialization represents a value the literal serializer did not anticipate
	ErrorTypeSerialization ErrorType = "serialization"
	// ErrorTypeQuery represents a failed query or transaction during dump or restore
	ErrorTypeQuery ErrorType = "query"
	// ErrorTypeNotFound represents an artifact that could not be resolved
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConfirmationRequired represents a destructive operation without force
	ErrorTypeConfirmationRequired ErrorType = "confirmation_required"
	// ErrorTypeFilesystem represents file and directory errors
	ErrorTypeFilesystem ErrorType = "filesystem"
	// ErrorTypeArchive represents malformed or corrupted archives
	ErrorTypeArchive ErrorType = "archive"
	// ErrorTypeConnection represents database connection errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypePermission represents permission/access errors
	ErrorTypePermission ErrorType = "permission"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInterruption represents user interruption
	ErrorTypeInterruption ErrorType = "interruption"
	// ErrorTypeUnknown represents unknown errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// AppError represents an application-specific error with context
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
	UserMessage string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// GetUserMessage returns a user-friendly error message
func (e *AppError) GetUserMessage() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// IsRecoverable returns whether the error is recoverable
func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithUserMessage sets the message shown on the command line
func (e *AppError) WithUserMessage(msg string) *AppError {
	e.UserMessage = msg
	return e
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		Context:     make(map[string]interface{}),
		Recoverable: false,
	}
}

// NewRecoverableError creates a new recoverable error
func NewRecoverableError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		Context:     make(map[string]interface{}),
		Recoverable: true,
	}
}

// Taxonomy constructors

func NewConfigurationError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeConfiguration, message, cause)
}

// NewToolUnavailableError is recoverable: callers fall back to the built-in engine.
func NewToolUnavailableError(tool string, cause error) *AppError {
	return NewRecoverableError(ErrorTypeToolUnavailable,
		fmt.Sprintf("native tool %s is unavailable", tool), cause).
		WithContext("tool", tool)
}

func NewSerializationError(message string, cause error) *AppError {
	return NewRecoverableError(ErrorTypeSerialization, message, cause)
}

func NewQueryError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeQuery, message, cause)
}

func NewNotFoundError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, cause)
}

func NewConfirmationRequiredError(operation string) *AppError {
	return NewAppError(ErrorTypeConfirmationRequired,
		fmt.Sprintf("%s is destructive and requires --force", operation), nil).
		WithContext("operation", operation)
}

func NewFilesystemError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeFilesystem, message, cause)
}

func NewArchiveError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeArchive, message, cause)
}

// ErrorClassifier provides methods to classify and handle different types of errors
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError analyzes an error and returns an AppError with appropriate classification
func (ec *ErrorClassifier) ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if pgErr := ec.classifyPostgresError(err); pgErr != nil {
		return pgErr
	}

	if toolErr := ec.classifyToolError(err); toolErr != nil {
		return toolErr
	}

	if netErr := ec.classifyNetworkError(err); netErr != nil {
		return netErr
	}

	if ctxErr := ec.classifyContextError(err); ctxErr != nil {
		return ctxErr
	}

	if fsErr := ec.classifyFileSystemError(err); fsErr != nil {
		return fsErr
	}

	return NewAppError(ErrorTypeUnknown, "An unexpected error occurred", err)
}

// classifyPostgresError classifies PostgreSQL errors by SQLSTATE
func (ec *ErrorClassifier) classifyPostgresError(err error) *AppError {
	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		code := string(pgErr.Code)
		switch {
		case pgErr.Code.Class() == "28":
			return NewAppError(ErrorTypePermission,
				"Database authentication failed - check the connection string credentials", err).
				WithContext("sqlstate", code)
		case code == "3D000":
			return NewAppError(ErrorTypeConfiguration,
				"Database does not exist", err).
				WithContext("sqlstate", code)
		case code == "42501":
			return NewAppError(ErrorTypePermission,
				"Insufficient privilege", err).
				WithContext("sqlstate", code)
		case code == "42P01":
			return NewAppError(ErrorTypeQuery,
				"Table does not exist", err).
				WithContext("sqlstate", code)
		case pgErr.Code.Class() == "08":
			return NewRecoverableError(ErrorTypeConnection,
				"Cannot connect to PostgreSQL server", err).
				WithContext("sqlstate", code)
		case code == "57P01" || code == "57P03":
			return NewRecoverableError(ErrorTypeConnection,
				"PostgreSQL server is shutting down or not accepting connections", err).
				WithContext("sqlstate", code)
		default:
			return NewAppError(ErrorTypeQuery,
				fmt.Sprintf("PostgreSQL error: %s", pgErr.Message), err).
				WithContext("sqlstate", code)
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		return NewAppError(ErrorTypeQuery, "No rows found", err)
	}
	if errors.Is(err, sql.ErrTxDone) {
		return NewAppError(ErrorTypeQuery, "Transaction has already been committed or rolled back", err)
	}
	if errors.Is(err, sql.ErrConnDone) {
		return NewRecoverableError(ErrorTypeConnection, "Database connection is closed", err)
	}

	return nil
}

// classifyToolError classifies failures to locate or start a native binary
func (ec *ErrorClassifier) classifyToolError(err error) *AppError {
	if errors.Is(err, exec.ErrNotFound) {
		return NewRecoverableError(ErrorTypeToolUnavailable, "Native tool not found in PATH", err)
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return NewRecoverableError(ErrorTypeToolUnavailable,
			fmt.Sprintf("Native tool %s could not be started", execErr.Name), err)
	}
	return nil
}

// classifyNetworkError classifies network-related errors
func (ec *ErrorClassifier) classifyNetworkError(err error) *AppError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewRecoverableError(ErrorTypeTimeout,
			"Network operation timed out", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return NewRecoverableError(ErrorTypeConnection,
				"Failed to establish network connection", err)
		case "read", "write":
			return NewRecoverableError(ErrorTypeConnection,
				"Network I/O error", err)
		}
	}

	return nil
}

// classifyContextError classifies context-related errors
func (ec *ErrorClassifier) classifyContextError(err error) *AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewRecoverableError(ErrorTypeTimeout,
			"Operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewAppError(ErrorTypeInterruption,
			"Operation was canceled", err)
	}

	return nil
}

// classifyFileSystemError classifies file system errors
func (ec *ErrorClassifier) classifyFileSystemError(err error) *AppError {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch pathErr.Err {
		case syscall.ENOENT:
			return NewAppError(ErrorTypeNotFound,
				fmt.Sprintf("File or directory not found: %s", pathErr.Path), err)
		case syscall.EACCES:
			return NewAppError(ErrorTypePermission,
				fmt.Sprintf("Permission denied: %s", pathErr.Path), err)
		case syscall.ENOSPC:
			return NewAppError(ErrorTypeFilesystem,
				"No space left on device", err)
		default:
			return NewAppError(ErrorTypeFilesystem,
				fmt.Sprintf("Filesystem error on %s", pathErr.Path), err)
		}
	}

	return nil
}

// RetryConfig holds configuration for retry operations
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryHandler provides retry functionality for operations
type RetryHandler struct {
	config     RetryConfig
	classifier *ErrorClassifier
}

// NewRetryHandler creates a new retry handler
func NewRetryHandler(config RetryConfig) *RetryHandler {
	return &RetryHandler{
		config:     config,
		classifier: NewErrorClassifier(),
	}
}

// NewDefaultRetryHandler creates a retry handler with default configuration
func NewDefaultRetryHandler() *RetryHandler {
	return NewRetryHandler(DefaultRetryConfig())
}

// Retry executes a function with retry logic for recoverable errors
func (rh *RetryHandler) Retry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 1; attempt <= rh.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return NewAppError(ErrorTypeInterruption, "Operation canceled", ctx.Err())
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err
		appErr := rh.classifier.ClassifyError(err)

		if !appErr.IsRecoverable() {
			return appErr
		}

		if attempt == rh.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return NewAppError(ErrorTypeInterruption, "Operation canceled during retry", ctx.Err())
		case <-time.After(rh.calculateDelay(attempt)):
		}
	}

	return rh.classifier.ClassifyError(lastErr).
		WithContext("attempts", rh.config.MaxAttempts)
}

// calculateDelay calculates the delay for a given attempt using exponential backoff
func (rh *RetryHandler) calculateDelay(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= rh.config.Multiplier
	}

	delay := time.Duration(float64(rh.config.BaseDelay) * multiplier)

	if delay > rh.config.MaxDelay {
		delay = rh.config.MaxDelay
	}

	return delay
}

// IsRecoverableError checks if an error is recoverable
func IsRecoverableError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.IsRecoverable()
	}
	return false
}

// GetErrorType returns the error type of an error
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether any AppError in the chain has the given type
func IsType(err error, errorType ErrorType) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Type == errorType {
			return true
		}
		err = appErr.Cause
	}
	return false
}

func IsConfigurationError(err error) bool { return IsType(err, ErrorTypeConfiguration) }

func IsToolUnavailable(err error) bool { return IsType(err, ErrorTypeToolUnavailable) }

func IsNotFound(err error) bool { return IsType(err, ErrorTypeNotFound) }

func IsConfirmationRequired(err error) bool { return IsType(err, ErrorTypeConfirmationRequired) }

// FormatUserError formats an error for display to users
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		msg := appErr.GetUserMessage()
		if hint := hintFor(appErr); hint != "" {
			msg += "\n" + hint
		}
		return msg
	}

	return err.Error()
}

func hintFor(e *AppError) string {
	switch e.Type {
	case ErrorTypeConfiguration:
		if e.Context["setting"] == "database.url" {
			return "Set database.url in the config file, --database-url or DATABASE_URL."
		}
		return ""
	case ErrorTypeConfirmationRequired:
		return "Re-run with --force to confirm. A safety backup is taken before anything is overwritten."
	case ErrorTypeNotFound:
		return "Pass an explicit artifact path or create a backup first."
	default:
		return ""
	}
}

// WrapError wraps an existing error with additional context
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		wrapped := NewAppError(appErr.Type, message, err)
		wrapped.Recoverable = appErr.Recoverable
		return wrapped
	}

	classifier := NewErrorClassifier()
	classifiedErr := classifier.ClassifyError(err)
	if strings.TrimSpace(message) != "" {
		classifiedErr.Message = message
	}
	return classifiedErr
}
