package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeNetwork represents connection, timeout and 5xx errors
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeAuth represents login or credential failures
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeParsing represents a page whose expected structure could not be located
	ErrorTypeParsing ErrorType = "parsing"
	// ErrorTypeNotFound represents a missing page (404)
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeRateLimit represents rate limiting errors
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeSend represents notification transport failures
	ErrorTypeSend ErrorType = "send"
	// ErrorTypeStore represents unreadable or unwritable fingerprint state
	ErrorTypeStore ErrorType = "store"
	// ErrorTypeConfiguration represents configuration errors
	ErrorTypeConfiguration ErrorType = "configuration"
)

// WatchError represents an error raised while checking one source
type WatchError struct {
	Type    ErrorType
	Source  string
	Message string
	Err     error
	Time    time.Time
}

// Error implements the error interface
func (e *WatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, e.Source, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Source, e.Message)
}

// Unwrap returns the underlying error
func (e *WatchError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is retryable
func (e *WatchError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeNetwork:
		return true
	default:
		return false
	}
}

// New creates a new WatchError
func New(errType ErrorType, source, message string, err error) *WatchError {
	return &WatchError{
		Type:    errType,
		Source:  source,
		Message: message,
		Err:     err,
		Time:    time.Now(),
	}
}

// NewNetwork creates a new network error
func NewNetwork(source, message string, err error) *WatchError {
	return New(ErrorTypeNetwork, source, message, err)
}

// NewAuth creates a new authentication error
func NewAuth(source, message string, err error) *WatchError {
	return New(ErrorTypeAuth, source, message, err)
}

// NewParsing creates a new parsing error
func NewParsing(source, message string, err error) *WatchError {
	return New(ErrorTypeParsing, source, message, err)
}

// NewNotFound creates a new not-found error
func NewNotFound(source, message string) *WatchError {
	return New(ErrorTypeNotFound, source, message, nil)
}

// NewRateLimit creates a new rate limit error
func NewRateLimit(source string, duration time.Duration) *WatchError {
	message := fmt.Sprintf("rate limited for %v", duration)
	return New(ErrorTypeRateLimit, source, message, nil)
}

// NewSend creates a new notification error
func NewSend(source, message string, err error) *WatchError {
	return New(ErrorTypeSend, source, message, err)
}

// NewStore creates a new store error
func NewStore(message string, err error) *WatchError {
	return New(ErrorTypeStore, "", message, err)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(message string, err error) *WatchError {
	return New(ErrorTypeConfiguration, "", message, err)
}

// IsRetryable reports whether err, or any error it wraps, is a retryable WatchError.
func IsRetryable(err error) bool {
	var we *WatchError
	if stderrors.As(err, &we) {
		return we.IsRetryable()
	}
	return false
}

// TypeOf returns the ErrorType of the first WatchError in err's chain, or "".
func TypeOf(err error) ErrorType {
	var we *WatchError
	if stderrors.As(err, &we) {
		return we.Type
	}
	return ""
}

// Is reports whether err carries a WatchError of the given type.
func Is(err error, errType ErrorType) bool {
	return TypeOf(err) == errType
}
