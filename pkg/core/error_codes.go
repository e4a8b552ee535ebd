package core

import "errors"

// ErrorCode is a stable, machine-readable identifier attached to an ExchangeError.
type ErrorCode string

const (
	ErrCodeNetwork          ErrorCode = "NETWORK_ERROR"
	ErrCodeRateLimit        ErrorCode = "RATE_LIMIT"
	ErrCodeServerError      ErrorCode = "SERVER_ERROR"
	ErrCodeBadRequest       ErrorCode = "BAD_REQUEST"
	ErrCodeEmptyPayload     ErrorCode = "EMPTY_PAYLOAD"
	ErrCodeMalformedPayload ErrorCode = "MALFORMED_PAYLOAD"
	ErrCodeAPIError         ErrorCode = "API_ERROR"
	ErrCodePermission       ErrorCode = "PERMISSION_DENIED"

	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeNoCredentials ErrorCode = "NO_CREDENTIALS"
)

// IsErrorCode checks if the error matches the specified error code.
func IsErrorCode(err error, code ErrorCode) bool {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return ErrorCode(exErr.Code) == code
	}
	return false
}
