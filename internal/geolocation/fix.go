// Package geolocation turns a device position feed into a cancellable
// subscription of fixes and recoverable errors.
package geolocation

import (
	"fmt"
	"time"

	"github.com/danghamo/haulnav/pkg/geo"
)

// Fix is one position report from the device
type Fix struct {
	Coords     geo.Coordinate `json:"coords"`
	SpeedKmh   float64        `json:"speed_kmh"`
	HeadingDeg float64        `json:"heading_deg,omitempty"`
	AccuracyM  float64        `json:"accuracy_m,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// ErrorCode classifies device position failures
type ErrorCode string

const (
	PermissionDenied    ErrorCode = "permission_denied"
	PositionUnavailable ErrorCode = "position_unavailable"
	Timeout             ErrorCode = "timeout"
)

// ParseErrorCode maps a reported code, defaulting to PositionUnavailable
func ParseErrorCode(s string) ErrorCode {
	switch ErrorCode(s) {
	case PermissionDenied, Timeout:
		return ErrorCode(s)
	}
	return PositionUnavailable
}

// Error is a recoverable position failure. It never ends a session.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// NewError creates a position error
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("geolocation: %s", e.Code)
	}
	return fmt.Sprintf("geolocation: %s: %s", e.Code, e.Message)
}
