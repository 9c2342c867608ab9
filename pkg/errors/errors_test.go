package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestAppError(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "basic error",
			err:      New(ErrCodeConnectionFailed, "Connection failed"),
			expected: "[SPE1001] ERROR: Connection failed",
		},
		{
			name: "error with suggestions",
			err: New(ErrCodeConnectionFailed, "Connection failed").
				WithSuggestions("Check network", "Verify credentials"),
			expected: "[SPE1001] ERROR: Connection failed\nSuggestions:\n  1. Check network\n  2. Verify credentials",
		},
		{
			name: "error with context",
			err: New(ErrCodeConnectionFailed, "Connection failed").
				WithContext("account", "xy12345").
				WithContext("port", 443),
			expected: "[SPE1001] ERROR: Connection failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != ErrCodeConnectionFailed {
				t.Errorf("Expected code %s, got %s", ErrCodeConnectionFailed, tt.err.Code)
			}
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestErrorWrapping(t *testing.T) {
	baseErr := fmt.Errorf("database connection refused")

	appErr := Wrap(baseErr, ErrCodeConnectionFailed, "Failed to connect to Snowflake")

	if appErr.Cause != baseErr {
		t.Error("Wrapped error should contain original error as cause")
	}
	if appErr.Code != ErrCodeConnectionFailed {
		t.Errorf("Expected code %s, got %s", ErrCodeConnectionFailed, appErr.Code)
	}
	if !errors.Is(appErr, baseErr) {
		t.Error("errors.Is should reach the cause")
	}
	if Wrap(nil, ErrCodeInternal, "nothing") != nil {
		t.Error("Wrapping nil should return nil")
	}

	inner := New(ErrCodeCheckFailed, "inner").WithContext("table", "RAW.RAW_NEWS")
	outer := Wrap(fmt.Errorf("run: %w", inner), ErrCodeInternal, "outer")
	if outer.Context["table"] != "RAW.RAW_NEWS" {
		t.Error("Context should be inherited from a wrapped AppError")
	}
	if GetErrorCode(fmt.Errorf("wrapped: %w", inner)) != ErrCodeCheckFailed {
		t.Error("GetErrorCode should look through fmt wrapping")
	}
}

func TestSQLErrorClassification(t *testing.T) {
	tests := []struct {
		name  string
		cause error
		code  ErrorCode
	}{
		{"syntax", fmt.Errorf("001003 (42000): SQL compilation error: syntax error line 1"), ErrCodeSQLSyntax},
		{"missing object", fmt.Errorf("Object 'RAW.RAW_NEWS' does not exist or not authorized"), ErrCodeSQLObjectNotFound},
		{"permission", fmt.Errorf("Insufficient privileges to operate on table"), ErrCodeSQLPermission},
		{"timeout", context.DeadlineExceeded, ErrCodeSQLTimeout},
		{"generic", fmt.Errorf("boom"), ErrCodeSQLExecution},
		{"nil cause", nil, ErrCodeSQLExecution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SQLError("query failed", "SELECT 1", tt.cause)
			if err.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, err.Code)
			}
			if err.Context["query"] != "SELECT 1" {
				t.Errorf("Expected query in context, got %v", err.Context["query"])
			}
		})
	}

	long := strings.Repeat("x", 300)
	err := SQLError("query failed", long, nil)
	if q := err.Context["query"].(string); len(q) != 203 {
		t.Errorf("Expected truncated query of 203 chars, got %d", len(q))
	}
}

func TestSummarize(t *testing.T) {
	if Summarize(nil) != "" {
		t.Error("Summarize(nil) should be empty")
	}

	plain := fmt.Errorf("plain failure")
	if Summarize(plain) != "plain failure" {
		t.Errorf("Unexpected summary %q", Summarize(plain))
	}

	appErr := Wrap(fmt.Errorf("connection reset"), ErrCodeCheckFailed, "FRESHNESS on RAW.RAW_NEWS").
		WithSuggestions("Check the warehouse")
	got := Summarize(fmt.Errorf("check: %w", appErr))
	if got != "FRESHNESS on RAW.RAW_NEWS: connection reset" {
		t.Errorf("Unexpected summary %q", got)
	}
	if strings.Contains(got, "\n") {
		t.Error("Summary should be a single line")
	}
}

func TestRetryLogic(t *testing.T) {
	attempts := 0
	maxAttempts := 3
	var retried []int

	config := &RetryConfig{
		MaxRetries:   maxAttempts - 1,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
		RetryableError: func(err error) bool {
			return true
		},
		OnRetry: func(attempt int, _ time.Duration, _ error) {
			retried = append(retried, attempt)
		},
	}

	ctx := context.Background()

	err := Retry(ctx, config, func(ctx context.Context) error {
		attempts++
		if attempts < maxAttempts {
			return fmt.Errorf("temporary error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected success after retries, got error: %v", err)
	}
	if attempts != maxAttempts {
		t.Errorf("Expected %d attempts, got %d", maxAttempts, attempts)
	}
	if len(retried) != maxAttempts-1 {
		t.Errorf("Expected %d retry callbacks, got %d", maxAttempts-1, len(retried))
	}

	attempts = 0
	err = Retry(ctx, config, func(ctx context.Context) error {
		attempts++
		return fmt.Errorf("permanent error")
	})

	if err == nil {
		t.Error("Expected error after max retries")
	}
	if GetErrorCode(err) != ErrCodeResourceExhausted {
		t.Errorf("Expected %s, got %s", ErrCodeResourceExhausted, GetErrorCode(err))
	}
	if attempts != maxAttempts {
		t.Errorf("Expected %d attempts, got %d", maxAttempts, attempts)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), func(ctx context.Context) error {
		attempts++
		return New(ErrCodeAuthenticationFailed, "bad credentials")
	})

	if attempts != 1 {
		t.Errorf("Expected a single attempt, got %d", attempts)
	}
	if GetErrorCode(err) != ErrCodeAuthenticationFailed {
		t.Errorf("Expected original error, got %v", err)
	}
}

func TestRetryRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := &RetryConfig{
		MaxRetries:     5,
		InitialDelay:   time.Second,
		Multiplier:     1,
		RetryableError: func(error) bool { return true },
		OnRetry:        func(int, time.Duration, error) { cancel() },
	}

	err := Retry(ctx, config, func(ctx context.Context) error {
		return fmt.Errorf("unavailable")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestCalculateDelay(t *testing.T) {
	config := &RetryConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{5, time.Second},
	}

	for _, tt := range tests {
		if got := calculateDelay(tt.attempt, config); got != tt.want {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.want, got)
		}
	}

	config.Jitter = true
	got := calculateDelay(1, config)
	if got < 200*time.Millisecond || got > 260*time.Millisecond {
		t.Errorf("Jittered delay out of range: %v", got)
	}
}

func TestCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, 50*time.Millisecond)
	ctx := context.Background()

	if cb.GetState() != "closed" {
		t.Errorf("Expected closed state, got %s", cb.GetState())
	}

	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, func() error {
			return fmt.Errorf("failure")
		})
	}

	if cb.GetState() != "open" {
		t.Errorf("Expected open state after failures, got %s", cb.GetState())
	}

	err := cb.Execute(ctx, func() error {
		return nil
	})
	if err == nil {
		t.Error("Expected circuit breaker to reject call when open")
	}
	if GetErrorCode(err) != ErrCodeServiceUnavailable {
		t.Errorf("Expected %s, got %s", ErrCodeServiceUnavailable, GetErrorCode(err))
	}

	time.Sleep(60 * time.Millisecond)

	err = cb.Execute(ctx, func() error {
		return nil
	})
	if err != nil {
		t.Errorf("Expected success in half-open state, got error: %v", err)
	}
	if cb.GetState() != "closed" {
		t.Errorf("Expected closed state after success, got %s", cb.GetState())
	}
}

func TestErrorCodes(t *testing.T) {
	codes := []ErrorCode{
		ErrCodeConnectionFailed,
		ErrCodeConfigInvalid,
		ErrCodeCheckFailed,
		ErrCodeSQLSyntax,
		ErrCodeAlertInsert,
		ErrCodeUpstreamAPI,
		ErrCodeValidationFailed,
		ErrCodeInternal,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		if !strings.HasPrefix(string(code), "SPE") {
			t.Errorf("Error code %s should start with SPE", code)
		}
		if seen[code] {
			t.Errorf("Duplicate error code %s", code)
		}
		seen[code] = true
	}
}

func TestErrorSeverity(t *testing.T) {
	err := New(ErrCodeInternal, "test")
	if err.Severity != SeverityError {
		t.Errorf("Expected default severity ERROR, got %s", err.Severity)
	}

	err = err.WithSeverity(SeverityCritical)
	if err.Severity != SeverityCritical {
		t.Errorf("Expected severity CRITICAL, got %s", err.Severity)
	}

	v := ValidationError("threshold", -1, "must be positive")
	if v.Severity != SeverityWarning {
		t.Errorf("Expected validation severity WARNING, got %s", v.Severity)
	}
	if !IsRecoverable(New(ErrCodeTimeout, "slow").AsRecoverable()) {
		t.Error("Expected recoverable error")
	}
	if IsRecoverable(fmt.Errorf("plain")) {
		t.Error("Plain errors are not recoverable")
	}
}
