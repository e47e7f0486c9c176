package agent

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized is returned when the sender is not on the allow-list.
var ErrUnauthorized = errors.New("unauthorized sender")

// ErrorType classifies completion API failures.
type ErrorType int8

const (
	// ErrorTypeRateLimit represents 429 and quota errors.
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient represents 5xx, timeouts and dropped connections.
	ErrorTypeTransient
	// ErrorTypeAuth represents rejected credentials.
	ErrorTypeAuth
	// ErrorTypeBadRequest represents requests the API will never accept.
	ErrorTypeBadRequest
	// ErrorTypeUnknown is the default for unclassified errors.
	ErrorTypeUnknown
)

// String returns the string representation of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadRequest:
		return "bad_request"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// LLMError is a classified completion API error.
type LLMError struct {
	Err        error
	Message    string
	Provider   string
	Type       ErrorType
	StatusCode int
}

// Error implements the error interface.
func (e *LLMError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s error (%s, status %d): %s", e.Provider, e.Type, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s error (%s): %s", e.Provider, e.Type, msg)
}

// Unwrap returns the underlying error.
func (e *LLMError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the request may succeed if sent again later.
func (e *LLMError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeTransient:
		return true
	default:
		return false
	}
}

// TypeForStatus maps an HTTP status code to an ErrorType.
func TypeForStatus(code int) ErrorType {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrorTypeAuth
	case code == http.StatusRequestTimeout || code >= 500:
		return ErrorTypeTransient
	case code >= 400:
		return ErrorTypeBadRequest
	default:
		return ErrorTypeUnknown
	}
}

// newStatusError wraps err with a type derived from its HTTP status.
func newStatusError(provider string, code int, err error) *LLMError {
	return &LLMError{Err: err, Provider: provider, Type: TypeForStatus(code), StatusCode: code}
}
