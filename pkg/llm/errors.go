package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies a generation-service failure for retry eligibility.
// The values double as the persisted job error codes.
type ErrorType string

const (
	ErrorTypeRateLimit ErrorType = "RATE_LIMIT" // retryable after backoff
	ErrorTypeAPIKey    ErrorType = "API_KEY"    // config error, not retryable
	ErrorTypeNetwork   ErrorType = "NETWORK"    // transient, retryable
	ErrorTypeUnknown   ErrorType = "UNKNOWN"    // not retryable, default
)

// Error is a structured generation-service error.
type Error struct {
	Type       ErrorType // Classification of the error
	Message    string    // Human-readable message
	Retryable  bool      // Whether the operation can be retried
	Cause      error     // Underlying error
	StatusCode int       // HTTP status code if applicable
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	parts = append(parts, string(e.Type))
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new structured generation error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// ClassifyError categorizes an error from a generation-service call into a
// structured Error. Provider SDKs do not expose a stable error taxonomy, so
// classification falls back to status codes and message matching.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var genErr *Error
	if errors.As(err, &genErr) {
		return genErr
	}

	errStr := err.Error()
	lower := strings.ToLower(errStr)

	statusCode := 0
	for _, code := range []int{400, 401, 403, 404, 429, 500, 502, 503, 504} {
		if strings.Contains(errStr, fmt.Sprintf("%d", code)) {
			statusCode = code
			break
		}
	}

	// Rate limiting: retryable after backoff.
	if statusCode == 429 || strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "quota exceeded") {
		e := NewError(ErrorTypeRateLimit, "rate limited", true, err)
		e.StatusCode = statusCode
		return e
	}

	// Authentication / key configuration: retrying cannot help.
	if statusCode == 401 || statusCode == 403 ||
		strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid api key") ||
		strings.Contains(lower, "incorrect api key") {
		e := NewError(ErrorTypeAPIKey, "authentication failed", false, err)
		e.StatusCode = statusCode
		return e
	}

	// Timeouts and transport failures: retryable. A hard wall-clock timeout
	// on a generation call lands here, not in a fatal state.
	if errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "deadline exceeded") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "eof") {
		e := NewError(ErrorTypeNetwork, "transport failure", true, err)
		e.StatusCode = statusCode
		return e
	}

	// 5xx server errors behave like transient network failures.
	if statusCode >= 500 {
		e := NewError(ErrorTypeNetwork, "server error", true, err)
		e.StatusCode = statusCode
		return e
	}

	e := NewError(ErrorTypeUnknown, "generation error", false, err)
	e.StatusCode = statusCode
	return e
}

// IsRetryable returns true if the error is a retryable generation error.
func IsRetryable(err error) bool {
	var genErr *Error
	if errors.As(err, &genErr) {
		return genErr.Retryable
	}
	return false
}

// GetErrorType extracts the ErrorType from an error.
func GetErrorType(err error) ErrorType {
	var genErr *Error
	if errors.As(err, &genErr) {
		return genErr.Type
	}
	return ErrorTypeUnknown
}
