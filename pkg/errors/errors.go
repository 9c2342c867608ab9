package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a unique error code for categorizing errors
type ErrorCode string

const (
	// Connection errors (1xxx)
	ErrCodeConnectionFailed     ErrorCode = "SPE1001"
	ErrCodeConnectionTimeout    ErrorCode = "SPE1002"
	ErrCodeAuthenticationFailed ErrorCode = "SPE1003"
	ErrCodeNetworkUnavailable   ErrorCode = "SPE1004"

	// Configuration errors (2xxx)
	ErrCodeConfigNotFound ErrorCode = "SPE2001"
	ErrCodeConfigInvalid  ErrorCode = "SPE2002"
	ErrCodeConfigMissing  ErrorCode = "SPE2003"
	ErrCodeSecretLookup   ErrorCode = "SPE2004"

	// Quality evaluation errors (3xxx)
	ErrCodeCheckInvalid  ErrorCode = "SPE3001"
	ErrCodeCheckFailed   ErrorCode = "SPE3002"
	ErrCodeCheckPanicked ErrorCode = "SPE3003"
	ErrCodeRunInProgress ErrorCode = "SPE3004"
	ErrCodeWatermark     ErrorCode = "SPE3005"

	// SQL execution errors (4xxx)
	ErrCodeSQLSyntax         ErrorCode = "SPE4001"
	ErrCodeSQLPermission     ErrorCode = "SPE4002"
	ErrCodeSQLTimeout        ErrorCode = "SPE4003"
	ErrCodeSQLTransaction    ErrorCode = "SPE4004"
	ErrCodeSQLObjectNotFound ErrorCode = "SPE4005"
	ErrCodeSQLExecution      ErrorCode = "SPE4006"
	ErrCodeInvalidIdentifier ErrorCode = "SPE4007"

	// Alerting errors (5xxx)
	ErrCodeAlertDetect ErrorCode = "SPE5001"
	ErrCodeAlertInsert ErrorCode = "SPE5002"
	ErrCodeDedupCache  ErrorCode = "SPE5003"

	// Ingestion errors (6xxx)
	ErrCodeUpstreamAPI    ErrorCode = "SPE6001"
	ErrCodeUpstreamDecode ErrorCode = "SPE6002"
	ErrCodeRawAppend      ErrorCode = "SPE6003"

	// Validation errors (7xxx)
	ErrCodeValidationFailed ErrorCode = "SPE7001"
	ErrCodeInvalidInput     ErrorCode = "SPE7002"

	// System errors (9xxx)
	ErrCodeInternal           ErrorCode = "SPE9001"
	ErrCodeTimeout            ErrorCode = "SPE9002"
	ErrCodeResourceExhausted  ErrorCode = "SPE9003"
	ErrCodeServiceUnavailable ErrorCode = "SPE9004"
	ErrCodeMigration          ErrorCode = "SPE9005"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "CRITICAL" // System failure, requires immediate attention
	SeverityError    ErrorSeverity = "ERROR"    // Operation failed, but system continues
	SeverityWarning  ErrorSeverity = "WARNING"  // Operation succeeded with issues
	SeverityInfo     ErrorSeverity = "INFO"
)

// AppError represents a structured application error with context
type AppError struct {
	Code        ErrorCode
	Message     string
	Severity    ErrorSeverity
	Context     map[string]interface{}
	Cause       error
	Stack       string
	Timestamp   time.Time
	Recoverable bool
	Suggestions []string
}

// Error implements the error interface
func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[%s] %s: %s", e.Code, e.Severity, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\nCaused by: %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\nSuggestions:")
		for i, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  %d. %s", i+1, suggestion))
		}
	}

	return b.String()
}

// Summary returns the message and cause on one line, without suggestions.
// It is what ends up in persisted log rows.
func (e *AppError) Summary() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the cause of the error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:        code,
		Message:     message,
		Severity:    SeverityError,
		Context:     make(map[string]interface{}),
		Stack:       captureStack(),
		Timestamp:   time.Now(),
		Recoverable: false,
	}
}

// Wrap wraps an existing error with AppError
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	appErr := New(code, message)
	appErr.Cause = err

	// If wrapping another AppError, inherit some properties
	var ae *AppError
	if errors.As(err, &ae) {
		for k, v := range ae.Context {
			appErr.Context[k] = v
		}
	}

	return appErr
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithSeverity sets the error severity
func (e *AppError) WithSeverity(severity ErrorSeverity) *AppError {
	e.Severity = severity
	return e
}

// WithSuggestions adds recovery suggestions
func (e *AppError) WithSuggestions(suggestions ...string) *AppError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// AsRecoverable marks the error as recoverable
func (e *AppError) AsRecoverable() *AppError {
	e.Recoverable = true
	return e
}

// captureStack captures the current stack trace
func captureStack() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])

	var b strings.Builder
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			b.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}

	return b.String()
}

// Common error constructors

// ConnectionError creates a connection-related error
func ConnectionError(message string, cause error) *AppError {
	return Wrap(cause, ErrCodeConnectionFailed, message).
		WithSeverity(SeverityError).
		WithSuggestions(
			"Check your network connection",
			"Verify the Snowflake account identifier",
			"Check firewall settings",
		)
}

// ConfigError creates a configuration-related error
func ConfigError(message string, field string) *AppError {
	return New(ErrCodeConfigInvalid, message).
		WithContext("field", field).
		WithSuggestions(
			fmt.Sprintf("Check the '%s' configuration value", field),
			"Run 'snowpulse setup' to reconfigure",
		)
}

// SQLError creates an SQL execution error
func SQLError(message string, query string, cause error) *AppError {
	err := New(ErrCodeSQLExecution, message)
	causeText := ""
	if cause != nil {
		err = Wrap(cause, ErrCodeSQLExecution, message)
		causeText = strings.ToLower(cause.Error())
	}
	err.WithContext("query", truncateString(query, 200))

	switch {
	case strings.Contains(causeText, "syntax error"):
		err.Code = ErrCodeSQLSyntax
	case strings.Contains(causeText, "does not exist") || strings.Contains(causeText, "not found"):
		err.Code = ErrCodeSQLObjectNotFound
		_ = err.WithSuggestions(
			"Verify the object exists in the target database/schema",
			"Run 'snowpulse migrate up' to create the log tables",
		)
	case strings.Contains(causeText, "insufficient privileges") || strings.Contains(causeText, "access denied"):
		err.Code = ErrCodeSQLPermission
		_ = err.WithSuggestions(
			"Verify the role has the required privileges",
		)
	case strings.Contains(causeText, "timeout") || strings.Contains(causeText, "deadline exceeded"):
		err.Code = ErrCodeSQLTimeout
		_ = err.WithSuggestions(
			"Increase snowflake.timeout",
			"Check the warehouse size and queue",
		)
	}

	return err
}

// ValidationError creates a validation error
func ValidationError(field string, value interface{}, reason string) *AppError {
	return New(ErrCodeValidationFailed, fmt.Sprintf("Validation failed for %s: %s", field, reason)).
		WithContext("field", field).
		WithContext("value", value).
		WithSeverity(SeverityWarning)
}

// IsRecoverable checks if an error is recoverable
func IsRecoverable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Recoverable
	}
	return false
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Summarize returns a single-line description of err suitable for storage.
func Summarize(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Summary()
	}
	return err.Error()
}

// truncateString truncates a string to maxLen characters
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
