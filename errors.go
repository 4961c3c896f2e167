package broker

import (
	"errors"
	"fmt"
)

// Error represents a broker error with categorization.
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable reason, safe to return to the caller
	Message string

	// Err is the underlying error (if any)
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code, so that
// errors.Is(err, ErrPermissionDenied) matches any permission failure.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Error codes for broker operations.
const (
	ErrCodeNoData                = "NO_DATA"
	ErrCodeValidation            = "VALIDATION_ERROR"
	ErrCodeConfiguration         = "CONFIGURATION_ERROR"
	ErrCodeDatabase              = "DATABASE_ERROR"
	ErrCodeDelivery              = "DELIVERY_ERROR"
	ErrCodePermissionDenied      = "PERMISSION_DENIED"
	ErrCodeTopicNotFound         = "TOPIC_NOT_FOUND"
	ErrCodeDuplicateTopic        = "DUPLICATE_TOPIC"
	ErrCodeNotFound              = "NOT_FOUND"
	ErrCodeDuplicateSubscription = "DUPLICATE_SUBSCRIPTION"
	ErrCodeRateLimitExceeded     = "RATE_LIMIT_EXCEEDED"
	ErrCodeAddressNotAllowed     = "ADDRESS_NOT_ALLOWED"
	ErrCodeQueueDepthExceeded    = "QUEUE_DEPTH_EXCEEDED"
	ErrCodeInvalidPattern        = "INVALID_PATTERN"
)

// Sentinel errors for errors.Is. Returned errors carry a specific message
// but compare equal to the sentinel of their code.
var (
	// ErrNoData is returned by repositories when a query returns no results.
	ErrNoData = &Error{Code: ErrCodeNoData, Message: "no data found"}

	ErrValidation            = &Error{Code: ErrCodeValidation, Message: "validation failed"}
	ErrPermissionDenied      = &Error{Code: ErrCodePermissionDenied, Message: "permission denied"}
	ErrTopicNotFound         = &Error{Code: ErrCodeTopicNotFound, Message: "topic not found"}
	ErrDuplicateTopic        = &Error{Code: ErrCodeDuplicateTopic, Message: "topic already exists"}
	ErrNotFound              = &Error{Code: ErrCodeNotFound, Message: "not found"}
	ErrDuplicateSubscription = &Error{Code: ErrCodeDuplicateSubscription, Message: "subscription already exists"}
	ErrRateLimitExceeded     = &Error{Code: ErrCodeRateLimitExceeded, Message: "rate limit exceeded"}
	ErrAddressNotAllowed     = &Error{Code: ErrCodeAddressNotAllowed, Message: "address not allowed"}
	ErrQueueDepthExceeded    = &Error{Code: ErrCodeQueueDepthExceeded, Message: "queue depth exceeded"}
	ErrInvalidPattern        = &Error{Code: ErrCodeInvalidPattern, Message: "invalid pattern"}
)

// NewError creates a new Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// NewErrorWithCause creates a new Error wrapping an underlying error.
func NewErrorWithCause(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// Code returns the code of the first *Error in err's chain, or "".
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	return Code(err) == code
}

// IsNoData checks if an error is ErrNoData.
func IsNoData(err error) bool {
	return HasCode(err, ErrCodeNoData)
}
