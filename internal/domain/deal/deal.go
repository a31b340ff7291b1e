package deal

import (
	"strings"
	"time"

	"github.com/danghamo/haulnav/internal/domain/shared"
	"github.com/danghamo/haulnav/pkg/geo"
)

// ID identifies a deal
type ID shared.ID

// NewID creates a new deal ID
func NewID() ID {
	return ID(shared.NewID())
}

// String returns string representation
func (id ID) String() string {
	return string(id)
}

// Status is the deal lifecycle state
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusInTransit Status = "in_transit"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Deal is an agreed shipment between a client and a carrier
type Deal struct {
	ID              ID              `json:"id"`
	ClientID        string          `json:"client_id"`
	CarrierID       string          `json:"carrier_id,omitempty"`
	PickupAddress   string          `json:"pickup_address"`
	DeliveryAddress string          `json:"delivery_address"`
	PickupCoords    *geo.Coordinate `json:"pickup_coords,omitempty"`
	DeliveryCoords  *geo.Coordinate `json:"delivery_coords,omitempty"`
	Status          Status          `json:"status"`
	CancelledBy     string          `json:"cancelled_by,omitempty"`
	CancelReason    string          `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewDeal creates a pending deal for a client
func NewDeal(clientID, pickupAddress, deliveryAddress string, pickup, delivery *geo.Coordinate) (*Deal, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, shared.ErrInvalidInput("client id is required")
	}
	if strings.TrimSpace(pickupAddress) == "" && pickup == nil {
		return nil, shared.ErrInvalidInput("pickup address or coordinates are required")
	}
	if strings.TrimSpace(deliveryAddress) == "" && delivery == nil {
		return nil, shared.ErrInvalidInput("delivery address or coordinates are required")
	}
	for _, c := range []*geo.Coordinate{pickup, delivery} {
		if c == nil {
			continue
		}
		if err := c.Validate(); err != nil {
			return nil, shared.WrapDomainError(err, shared.ErrCodeInvalidInput, "invalid coordinates")
		}
	}

	now := time.Now()
	return &Deal{
		ID:              NewID(),
		ClientID:        clientID,
		PickupAddress:   strings.TrimSpace(pickupAddress),
		DeliveryAddress: strings.TrimSpace(deliveryAddress),
		PickupCoords:    pickup,
		DeliveryCoords:  delivery,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// IsParticipant reports whether the user is the client or the carrier
func (d *Deal) IsParticipant(userID string) bool {
	return userID != "" && (d.ClientID == userID || d.CarrierID == userID)
}

// Accept assigns a carrier to a pending deal
func (d *Deal) Accept(carrierID string) error {
	if carrierID == "" {
		return shared.ErrInvalidInput("carrier id is required")
	}
	if carrierID == d.ClientID {
		return shared.ErrInvalidOperation("client cannot carry own deal")
	}
	if err := d.transition(StatusPending, StatusAccepted); err != nil {
		return err
	}
	d.CarrierID = carrierID
	return nil
}

// StartTransit marks the deal as being delivered. Repeated calls are no-ops.
func (d *Deal) StartTransit() error {
	if d.Status == StatusInTransit {
		return nil
	}
	return d.transition(StatusAccepted, StatusInTransit)
}

// Complete marks the deal as delivered
func (d *Deal) Complete() error {
	if d.Status == StatusAccepted {
		return d.transition(StatusAccepted, StatusDelivered)
	}
	return d.transition(StatusInTransit, StatusDelivered)
}

// Cancel closes the deal on behalf of a participant
func (d *Deal) Cancel(by, reason string) error {
	if d.Status.IsTerminal() {
		return shared.NewDomainErrorf(shared.ErrCodeDealClosed, "deal %s is already %s", d.ID, d.Status)
	}
	d.Status = StatusCancelled
	d.CancelledBy = by
	d.CancelReason = reason
	d.UpdatedAt = time.Now()
	return nil
}

func (d *Deal) transition(from, to Status) error {
	if d.Status.IsTerminal() {
		return shared.NewDomainErrorf(shared.ErrCodeDealClosed, "deal %s is already %s", d.ID, d.Status)
	}
	if d.Status != from {
		return shared.NewDomainErrorf(shared.ErrCodeInvalidStatusTransition,
			"cannot move deal from %s to %s", d.Status, to)
	}
	d.Status = to
	d.UpdatedAt = time.Now()
	return nil
}
