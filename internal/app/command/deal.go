package command

import (
	"github.com/danghamo/haulnav/pkg/geo"
)

// Deal command types
const (
	CreateDealType   = "deal.create"
	AcceptDealType   = "deal.accept"
	StartTransitType = "deal.start_transit"
	CompleteDealType = "deal.complete"
	CancelDealType   = "deal.cancel"
)

// CreateDealCommand opens a pending deal. The command ID becomes the deal ID.
type CreateDealCommand struct {
	BaseCommand
	ClientID        string          `json:"client_id" validate:"required"`
	PickupAddress   string          `json:"pickup_address"`
	DeliveryAddress string          `json:"delivery_address"`
	Pickup          *geo.Coordinate `json:"pickup,omitempty"`
	Delivery        *geo.Coordinate `json:"delivery,omitempty"`
}

// NewCreateDealCommand creates a new create deal command
func NewCreateDealCommand(clientID, pickupAddress, deliveryAddress string, pickup, delivery *geo.Coordinate) CreateDealCommand {
	base := NewBaseCommand(CreateDealType, "")
	base.AggrID = base.ID
	return CreateDealCommand{
		BaseCommand:     base,
		ClientID:        clientID,
		PickupAddress:   pickupAddress,
		DeliveryAddress: deliveryAddress,
		Pickup:          pickup,
		Delivery:        delivery,
	}
}

// AcceptDealCommand assigns a carrier
type AcceptDealCommand struct {
	BaseCommand
	DealID    string `json:"deal_id" validate:"required"`
	CarrierID string `json:"carrier_id" validate:"required"`
}

// NewAcceptDealCommand creates a new accept deal command
func NewAcceptDealCommand(dealID, carrierID string) AcceptDealCommand {
	return AcceptDealCommand{
		BaseCommand: NewBaseCommand(AcceptDealType, dealID),
		DealID:      dealID,
		CarrierID:   carrierID,
	}
}

// StartTransitCommand marks the deal as on the road
type StartTransitCommand struct {
	BaseCommand
	DealID    string `json:"deal_id" validate:"required"`
	CarrierID string `json:"carrier_id" validate:"required"`
}

// NewStartTransitCommand creates a new start transit command
func NewStartTransitCommand(dealID, carrierID string) StartTransitCommand {
	return StartTransitCommand{
		BaseCommand: NewBaseCommand(StartTransitType, dealID),
		DealID:      dealID,
		CarrierID:   carrierID,
	}
}

// CompleteDealCommand marks the deal as delivered
type CompleteDealCommand struct {
	BaseCommand
	DealID string `json:"deal_id" validate:"required"`
	UserID string `json:"user_id" validate:"required"`
}

// NewCompleteDealCommand creates a new complete deal command
func NewCompleteDealCommand(dealID, userID string) CompleteDealCommand {
	return CompleteDealCommand{
		BaseCommand: NewBaseCommand(CompleteDealType, dealID),
		DealID:      dealID,
		UserID:      userID,
	}
}

// CancelDealCommand cancels the deal on behalf of a participant
type CancelDealCommand struct {
	BaseCommand
	DealID string `json:"deal_id" validate:"required"`
	UserID string `json:"user_id" validate:"required"`
	Reason string `json:"reason" validate:"max=500"`
}

// NewCancelDealCommand creates a new cancel deal command
func NewCancelDealCommand(dealID, userID, reason string) CancelDealCommand {
	return CancelDealCommand{
		BaseCommand: NewBaseCommand(CancelDealType, dealID),
		DealID:      dealID,
		UserID:      userID,
		Reason:      reason,
	}
}
