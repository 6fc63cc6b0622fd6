package provider

import (
	"errors"
	"fmt"
)

// ErrorCode classifies provider failures.
type ErrorCode string

const (
	// ErrCodeAuthFailed indicates invalid or expired credentials.
	ErrCodeAuthFailed ErrorCode = "AUTH_FAILED"
	// ErrCodeRateLimited indicates too many requests.
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
	// ErrCodeQuotaExceeded indicates the usage quota is exhausted.
	ErrCodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"
	// ErrCodeServiceUnavailable indicates a temporary vendor outage.
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	// ErrCodeModelNotFound indicates the requested model does not exist.
	ErrCodeModelNotFound ErrorCode = "MODEL_NOT_FOUND"
	// ErrCodeNetworkError indicates a connectivity failure.
	ErrCodeNetworkError ErrorCode = "NETWORK_ERROR"
	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeInvalidRequest indicates a malformed request.
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	// ErrCodeUnknown is the fallback for unclassified errors.
	ErrCodeUnknown ErrorCode = "UNKNOWN"
)

// Error is a structured provider failure. Rate-limit and timeout conditions
// carry their own codes so callers can distinguish them from ordinary errors.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Provider   string    `json:"provider"`
	Retryable  bool      `json:"retryable"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds until retry is allowed
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Code, e.Message)
}

// Throttled reports whether the failure is a rate-limit or timeout condition.
func (e *Error) Throttled() bool {
	return e.Code == ErrCodeRateLimited || e.Code == ErrCodeTimeout
}

// NewError creates a structured provider error.
func NewError(code ErrorCode, provider, message string, retryable bool) *Error {
	return &Error{Code: code, Message: message, Provider: provider, Retryable: retryable}
}

// IsRetryable reports whether err is a transient provider failure that a
// bounded backoff retry may recover from. Billing and auth conditions are
// never retryable.
func IsRetryable(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.Code {
	case ErrCodeAuthFailed, ErrCodeQuotaExceeded, ErrCodeInvalidRequest, ErrCodeModelNotFound:
		return false
	case ErrCodeRateLimited, ErrCodeTimeout, ErrCodeNetworkError, ErrCodeServiceUnavailable:
		return true
	default:
		return pe.Retryable
	}
}

// IsThrottled reports whether err is a rate-limit or timeout error.
func IsThrottled(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Throttled()
}
