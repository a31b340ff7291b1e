package cqrs

import (
	"time"
)

// DealStatusChangedEvent is published after every deal transition
type DealStatusChangedEvent struct {
	DealID    string    `json:"deal_id"`
	ClientID  string    `json:"client_id"`
	CarrierID string    `json:"carrier_id,omitempty"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	ChangedBy string    `json:"changed_by"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// DealCancelledEvent interrupts any navigation running for the deal
type DealCancelledEvent struct {
	DealID      string    `json:"deal_id"`
	ClientID    string    `json:"client_id"`
	CarrierID   string    `json:"carrier_id,omitempty"`
	CancelledBy string    `json:"cancelled_by"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	RequestID   string    `json:"request_id"`
}

// PositionRecordedEvent is published for every stored position sample
type PositionRecordedEvent struct {
	DealID    string    `json:"deal_id"`
	ClientID  string    `json:"client_id,omitempty"`
	CarrierID string    `json:"carrier_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	SpeedKmh  float64   `json:"speed_kmh"`
	Heading   float64   `json:"heading,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	StreamID  string    `json:"stream_id"`
}

// SSENotificationEvent represents an event to send SSE notifications
type SSENotificationEvent struct {
	Type        string      `json:"type"`
	TargetUsers []string    `json:"target_users,omitempty"` // UserIDs for array targeting (empty for broadcast)
	Method      string      `json:"method"`
	Params      interface{} `json:"params"`
	Timestamp   time.Time   `json:"timestamp"`
	RequestID   string      `json:"request_id"`
}

// Event types for different notification patterns
const (
	SSENotificationTypeBroadcast = "broadcast" // Send to all users
	SSENotificationTypeUsers     = "users"     // Send to specific list of users
)
