package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the category of an extraction error.
type ErrorType int

// Error type constants categorize errors for proper handling and retry logic.
const (
	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeConfig indicates missing or invalid configuration, raised before any network call.
	ErrorTypeConfig
	// ErrorTypeNetwork indicates a transport failure (connection reset, timeout, DNS).
	ErrorTypeNetwork
	// ErrorTypeRateLimit indicates the exchange answered HTTP 429.
	ErrorTypeRateLimit
	// ErrorTypeServerError indicates a 5xx answer from the exchange.
	ErrorTypeServerError
	// ErrorTypeMalformedPayload indicates an empty or undecodable response body.
	ErrorTypeMalformedPayload
	// ErrorTypeAPI indicates the exchange reported an error inside a 200 payload.
	ErrorTypeAPI
	// ErrorTypeBadRequest indicates a non-retryable 4xx answer.
	ErrorTypeBadRequest
)

// String returns the string representation of the error type.
func (t ErrorType) String() string {
	return [...]string{
		"UNKNOWN",
		"CONFIG",
		"NETWORK",
		"RATE_LIMIT",
		"SERVER_ERROR",
		"MALFORMED_PAYLOAD",
		"API",
		"BAD_REQUEST",
	}[t]
}

// Sentinel errors for common error conditions.
var (
	// ErrNoCredentials is returned when a private endpoint is used without an API key.
	ErrNoCredentials = errors.New("no credentials configured")
	// ErrInvalidConfig is returned when configuration fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrUnknownResource is returned for a resource name outside the fixed set.
	ErrUnknownResource = errors.New("unknown resource")
	// ErrSinkClosed is returned when writing to a closed sink.
	ErrSinkClosed = errors.New("sink is closed")
)

// ExchangeError represents a structured error raised while talking to the exchange.
type ExchangeError struct {
	// Type categorizes the error for programmatic handling.
	Type ErrorType `json:"type"`
	// StatusCode is the HTTP status code, zero when no response was received.
	StatusCode int `json:"status_code"`
	// Code is a stable machine-readable identifier.
	Code string `json:"code"`
	// Message is the human-readable error description.
	Message string `json:"message"`
	// Path is the endpoint that produced the error.
	Path string `json:"path,omitempty"`
	// Timestamp is when the error occurred.
	Timestamp time.Time `json:"timestamp"`

	Err error `json:"-"`
}

// Error implements the error interface for ExchangeError.
func (e *ExchangeError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("[kraken-futures] %s (%d) %s: %s", e.Type, e.StatusCode, e.Path, msg)
	}
	if e.Path != "" {
		return fmt.Sprintf("[kraken-futures] %s %s: %s", e.Type, e.Path, msg)
	}
	return fmt.Sprintf("[kraken-futures] %s: %s", e.Type, msg)
}

// Unwrap returns the underlying cause.
func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// WithCode sets the error code and returns the error for chaining.
func (e *ExchangeError) WithCode(code ErrorCode) *ExchangeError {
	e.Code = string(code)
	return e
}

// WithCause sets the underlying cause and returns the error for chaining.
func (e *ExchangeError) WithCause(err error) *ExchangeError {
	e.Err = err
	return e
}

// NewExchangeError creates a new ExchangeError with the specified details.
// The timestamp is automatically set to the current time.
func NewExchangeError(errorType ErrorType, statusCode int, path, message string) *ExchangeError {
	return &ExchangeError{
		Type:       errorType,
		StatusCode: statusCode,
		Message:    message,
		Path:       path,
		Timestamp:  time.Now(),
	}
}

// NewConfigError creates a configuration error wrapping cause.
func NewConfigError(message string, cause error) *ExchangeError {
	return NewExchangeError(ErrorTypeConfig, 0, "", message).
		WithCode(ErrCodeInvalidConfig).
		WithCause(cause)
}

// FetchError is the terminal failure of one logical request after all retries.
type FetchError struct {
	Path     string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s after %d attempts: %v", e.Path, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func errorType(err error) (ErrorType, bool) {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr.Type, true
	}
	return ErrorTypeUnknown, false
}

// IsConfigError reports whether err stems from missing or invalid configuration.
func IsConfigError(err error) bool {
	if errors.Is(err, ErrNoCredentials) || errors.Is(err, ErrInvalidConfig) {
		return true
	}
	t, ok := errorType(err)
	return ok && t == ErrorTypeConfig
}

// IsRetryable reports whether err is transient: network failures, 429, 5xx and malformed payloads.
func IsRetryable(err error) bool {
	t, ok := errorType(err)
	if !ok {
		return false
	}
	switch t {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError, ErrorTypeMalformedPayload:
		return true
	}
	return false
}

// IsRateLimitError returns true if the error is a rate limit violation.
func IsRateLimitError(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrorTypeRateLimit
}

// IsAPIError returns true if the exchange reported an error payload.
func IsAPIError(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrorTypeAPI
}

// IsFetchError returns true if err is a retry-exhausted fetch failure.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
