package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrorCode represents a unified error code across all adapters.
type ErrorCode string

const (
	ErrCredentialsInvalid ErrorCode = "CREDENTIALS_INVALID"
	ErrInvokeError        ErrorCode = "INVOKE_ERROR"
	ErrBadRequest         ErrorCode = "BAD_REQUEST"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrQuotaExceeded      ErrorCode = "QUOTA_EXCEEDED"
	ErrServerUnavailable  ErrorCode = "SERVER_UNAVAILABLE"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrSignatureInvalid   ErrorCode = "SIGNATURE_INVALID"
	ErrDispatchError      ErrorCode = "DISPATCH_ERROR"
	ErrSubscriptionError  ErrorCode = "SUBSCRIPTION_ERROR"
	ErrUnsubscribeError   ErrorCode = "UNSUBSCRIBE_ERROR"
	ErrOAuthError         ErrorCode = "OAUTH_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the vendor adapter name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// CodeOf extracts the error code from an error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// MapHTTPStatus maps a vendor HTTP status code to a unified *Error. Quota and
// credit exhaustion messages on 400/403 are distinguished from plain invalid
// requests because the host surfaces them differently.
func MapHTTPStatus(status int, msg string, provider string) *Error {
	lower := strings.ToLower(msg)
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		if strings.Contains(lower, "quota") || strings.Contains(lower, "credit") {
			return &Error{Code: ErrQuotaExceeded, Message: msg, HTTPStatus: status, Provider: provider}
		}
		return &Error{Code: ErrCredentialsInvalid, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusTooManyRequests:
		return &Error{Code: ErrRateLimited, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	case http.StatusNotFound:
		return &Error{Code: ErrNotFound, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusBadRequest:
		if strings.Contains(lower, "quota") || strings.Contains(lower, "credit") {
			return &Error{Code: ErrQuotaExceeded, Message: msg, HTTPStatus: status, Provider: provider}
		}
		return &Error{Code: ErrBadRequest, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return &Error{Code: ErrServerUnavailable, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	default:
		return &Error{Code: ErrInvokeError, Message: msg, HTTPStatus: status, Retryable: status >= 500, Provider: provider}
	}
}

// ReadErrorMessage extracts a human-readable message from a vendor error body.
// It understands the common `{"error": {"message": ...}}` and
// `{"message": ...}` envelopes and falls back to the raw body.
func ReadErrorMessage(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil {
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	return strings.TrimSpace(string(data))
}
