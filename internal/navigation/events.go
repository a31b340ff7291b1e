package navigation

import (
	"time"
)

// EventKind names a navigation event delivered to the carrier
type EventKind string

const (
	EventStepAnnounced EventKind = "step_announced"
	EventProximity     EventKind = "proximity"
	EventArrived       EventKind = "arrived"
	EventPositionError EventKind = "position_error"
	EventCancelled     EventKind = "cancelled"
)

// Event is a user-visible navigation notification
type Event struct {
	Kind        EventKind `json:"kind"`
	DealID      string    `json:"deal_id"`
	SessionID   string    `json:"session_id"`
	StepIndex   *int      `json:"step_index,omitempty"`
	ThresholdKm float64   `json:"threshold_km,omitempty"`
	DistanceM   float64   `json:"distance_m,omitempty"`
	Text        string    `json:"text,omitempty"`
	ErrorCode   string    `json:"error_code,omitempty"`
	Redirect    string    `json:"redirect,omitempty"`
	At          time.Time `json:"at"`
}
