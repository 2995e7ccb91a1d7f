package models

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrKeyNotFound         = errors.New("api key not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrUnauthorized        = errors.New("invalid admin credentials")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrKeyExists           = errors.New("api key already exists")
	ErrUnknownEndpoint     = errors.New("unknown endpoint")
)

// InsufficientCreditsError carries the balance observed when a deduction was
// rejected. It matches ErrInsufficientCredits with errors.Is.
type InsufficientCreditsError struct {
	Balance int64
	Cost    int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: balance %d, cost %d", e.Balance, e.Cost)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// ErrorCode is the machine readable code sent to HTTP callers
type ErrorCode string

const (
	ErrorCodeMissingAPIKey       ErrorCode = "MISSING_API_KEY"
	ErrorCodeKeyNotFound         ErrorCode = "KEY_NOT_FOUND"
	ErrorCodeInsufficientCredits ErrorCode = "INSUFFICIENT_CREDITS"
	ErrorCodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrorCodeInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrorCodeRateLimitExceeded   ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrorCodeInternalError       ErrorCode = "INTERNAL_ERROR"
)

// HTTPStatus returns the status code used for each error code
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrorCodeMissingAPIKey, ErrorCodeKeyNotFound, ErrorCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrorCodeInsufficientCredits:
		return http.StatusPaymentRequired
	case ErrorCodeInvalidRequest:
		return http.StatusBadRequest
	case ErrorCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// CodeFor maps a core error to its response code
func CodeFor(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrKeyNotFound):
		return ErrorCodeKeyNotFound
	case errors.Is(err, ErrInsufficientCredits):
		return ErrorCodeInsufficientCredits
	case errors.Is(err, ErrUnauthorized):
		return ErrorCodeUnauthorized
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrUnknownEndpoint):
		return ErrorCodeInvalidRequest
	default:
		return ErrorCodeInternalError
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error     ErrorDetail `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorDetail provides error details
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Balance *int64    `json:"balance,omitempty"`
	Cost    *int64    `json:"cost,omitempty"`
}

// NewErrorResponse builds the response body for err
func NewErrorResponse(err error) *ErrorResponse {
	code := CodeFor(err)
	detail := ErrorDetail{Code: code, Message: err.Error()}

	var ice *InsufficientCreditsError
	if errors.As(err, &ice) {
		detail.Balance = &ice.Balance
		detail.Cost = &ice.Cost
	}
	if code == ErrorCodeUnauthorized {
		// same body whatever part of the credential was wrong
		detail.Message = ErrUnauthorized.Error()
	}
	if code == ErrorCodeInternalError {
		detail.Message = "internal error"
	}

	return &ErrorResponse{Error: detail, Timestamp: time.Now().UTC()}
}
