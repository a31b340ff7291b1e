package shared

import (
	"errors"

	"github.com/samber/oops"
)

// Domain error codes
const (
	ErrCodeInvalidInput     = 1001
	ErrCodeNotFound         = 1002
	ErrCodeAlreadyExists    = 1003
	ErrCodeInvalidOperation = 1004
	ErrCodeForbidden        = 1005

	// Deal specific errors (2000-2999)
	ErrCodeInvalidStatusTransition = 2001
	ErrCodeDealClosed              = 2002

	// Navigation specific errors (3000-3999)
	ErrCodeRouteUnavailable    = 3001
	ErrCodeSessionNotFound     = 3002
	ErrCodeNoRouteSelected     = 3003
	ErrCodeInvalidRouteIndex   = 3004
	ErrCodePermissionDenied    = 3005
	ErrCodePositionUnavailable = 3006
	ErrCodePositionTimeout     = 3007
)

var codeNames = map[int]string{
	ErrCodeInvalidInput:            "INVALID_INPUT",
	ErrCodeNotFound:                "NOT_FOUND",
	ErrCodeAlreadyExists:           "ALREADY_EXISTS",
	ErrCodeInvalidOperation:        "INVALID_OPERATION",
	ErrCodeForbidden:               "FORBIDDEN",
	ErrCodeInvalidStatusTransition: "INVALID_STATUS_TRANSITION",
	ErrCodeDealClosed:              "DEAL_CLOSED",
	ErrCodeRouteUnavailable:        "ROUTE_UNAVAILABLE",
	ErrCodeSessionNotFound:         "SESSION_NOT_FOUND",
	ErrCodeNoRouteSelected:         "NO_ROUTE_SELECTED",
	ErrCodeInvalidRouteIndex:       "INVALID_ROUTE_INDEX",
	ErrCodePermissionDenied:        "PERMISSION_DENIED",
	ErrCodePositionUnavailable:     "POSITION_UNAVAILABLE",
	ErrCodePositionTimeout:         "TIMEOUT",
}

// NewDomainError creates a new domain error using oops
func NewDomainError(code int, message string) error {
	return oops.
		Code(codeToString(code)).
		In("domain").
		With("error_code", code).
		Errorf("%s", message)
}

// NewDomainErrorf creates a new domain error with formatted message
func NewDomainErrorf(code int, format string, args ...interface{}) error {
	return oops.
		Code(codeToString(code)).
		In("domain").
		With("error_code", code).
		Errorf(format, args...)
}

// WrapDomainError wraps an existing error with domain context
func WrapDomainError(err error, code int, message string) error {
	return oops.
		Code(codeToString(code)).
		In("domain").
		With("error_code", code).
		Wrapf(err, "%s", message)
}

func codeToString(code int) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return "UNKNOWN_ERROR"
}

// ErrorCode extracts the domain error code, or 0 for foreign errors
func ErrorCode(err error) int {
	var oopsErr oops.OopsError
	if !errors.As(err, &oopsErr) {
		return 0
	}
	if code, ok := oopsErr.Context()["error_code"].(int); ok {
		return code
	}
	return 0
}

// CodeName returns the stable string name of a domain error code
func CodeName(code int) string {
	return codeToString(code)
}

// HasCode reports whether err carries the given domain error code
func HasCode(err error, code int) bool {
	return err != nil && ErrorCode(err) == code
}

// Common domain error builders
func ErrInvalidInput(msg string) error {
	return NewDomainError(ErrCodeInvalidInput, msg)
}

func ErrNotFound(resource string) error {
	return NewDomainErrorf(ErrCodeNotFound, "%s not found", resource)
}

func ErrAlreadyExists(resource string) error {
	return NewDomainErrorf(ErrCodeAlreadyExists, "%s already exists", resource)
}

func ErrInvalidOperation(operation string) error {
	return NewDomainErrorf(ErrCodeInvalidOperation, "Invalid operation: %s", operation)
}

func ErrForbidden(action string) error {
	return NewDomainErrorf(ErrCodeForbidden, "Not allowed to %s", action)
}

// ErrRouteUnavailable is the single recoverable routing failure
func ErrRouteUnavailable(cause error) error {
	if cause == nil {
		return NewDomainError(ErrCodeRouteUnavailable, "Route unavailable")
	}
	return WrapDomainError(cause, ErrCodeRouteUnavailable, "Route unavailable")
}

func ErrSessionNotFound(dealID string) error {
	return NewDomainErrorf(ErrCodeSessionNotFound, "No active navigation for deal %s", dealID)
}
