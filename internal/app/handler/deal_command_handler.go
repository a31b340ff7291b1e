package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/danghamo/haulnav/internal/app/command"
	"github.com/danghamo/haulnav/internal/cqrs"
	"github.com/danghamo/haulnav/internal/domain/deal"
	"github.com/danghamo/haulnav/internal/domain/shared"
	"github.com/danghamo/haulnav/pkg/logger"
)

var validate = validator.New()

// DealCommandHandler handles deal commands and publishes the resulting events
type DealCommandHandler struct {
	dealRepo  deal.Repository
	publisher cqrs.EventPublisher
	logger    *logger.Logger
}

// NewDealCommandHandler creates a new deal command handler
func NewDealCommandHandler(dealRepo deal.Repository, publisher cqrs.EventPublisher, log *logger.Logger) *DealCommandHandler {
	return &DealCommandHandler{
		dealRepo:  dealRepo,
		publisher: publisher,
		logger:    log.WithComponent("deal-command-handler"),
	}
}

// Handle handles deal commands
func (h *DealCommandHandler) Handle(ctx context.Context, cmd command.Command) error {
	if err := validate.Struct(cmd); err != nil {
		return shared.WrapDomainError(err, shared.ErrCodeInvalidInput, "invalid command")
	}

	switch c := cmd.(type) {
	case command.CreateDealCommand:
		return h.handleCreateDeal(ctx, c)
	case command.AcceptDealCommand:
		return h.handleAcceptDeal(ctx, c)
	case command.StartTransitCommand:
		return h.handleStartTransit(ctx, c)
	case command.CompleteDealCommand:
		return h.handleCompleteDeal(ctx, c)
	case command.CancelDealCommand:
		return h.handleCancelDeal(ctx, c)
	default:
		return fmt.Errorf("unknown command type: %T", cmd)
	}
}

func (h *DealCommandHandler) handleCreateDeal(ctx context.Context, cmd command.CreateDealCommand) error {
	id := deal.ID(cmd.AggregateID())

	var created *deal.Deal
	err := h.dealRepo.FindOneAndInsert(ctx, id, func() (*deal.Deal, error) {
		d, err := deal.NewDeal(cmd.ClientID, cmd.PickupAddress, cmd.DeliveryAddress, cmd.Pickup, cmd.Delivery)
		if err != nil {
			return nil, err
		}
		d.ID = id
		created = d
		return d, nil
	})
	if err != nil {
		return err
	}

	h.publishStatus(ctx, created, "", cmd.ClientID, cmd.CommandID())
	return nil
}

func (h *DealCommandHandler) handleAcceptDeal(ctx context.Context, cmd command.AcceptDealCommand) error {
	return h.transition(ctx, cmd.DealID, cmd.CarrierID, cmd.CommandID(), func(d *deal.Deal) error {
		return d.Accept(cmd.CarrierID)
	})
}

func (h *DealCommandHandler) handleStartTransit(ctx context.Context, cmd command.StartTransitCommand) error {
	return h.transition(ctx, cmd.DealID, cmd.CarrierID, cmd.CommandID(), func(d *deal.Deal) error {
		if d.CarrierID != cmd.CarrierID {
			return shared.ErrForbidden("drive a deal assigned to another carrier")
		}
		return d.StartTransit()
	})
}

func (h *DealCommandHandler) handleCompleteDeal(ctx context.Context, cmd command.CompleteDealCommand) error {
	return h.transition(ctx, cmd.DealID, cmd.UserID, cmd.CommandID(), func(d *deal.Deal) error {
		if !d.IsParticipant(cmd.UserID) {
			return shared.ErrForbidden("complete this deal")
		}
		return d.Complete()
	})
}

func (h *DealCommandHandler) handleCancelDeal(ctx context.Context, cmd command.CancelDealCommand) error {
	var cancelled *deal.Deal
	var from deal.Status

	err := h.dealRepo.FindOneAndUpdate(ctx, deal.ID(cmd.DealID), func(d *deal.Deal) (*deal.Deal, error) {
		if d == nil {
			return nil, shared.ErrNotFound("deal")
		}
		if !d.IsParticipant(cmd.UserID) {
			return nil, shared.ErrForbidden("cancel this deal")
		}
		from = d.Status
		if err := d.Cancel(cmd.UserID, cmd.Reason); err != nil {
			return nil, err
		}
		cancelled = d
		return d, nil
	})
	if err != nil {
		return err
	}

	h.publishStatus(ctx, cancelled, from, cmd.UserID, cmd.CommandID())

	event := &cqrs.DealCancelledEvent{
		DealID:      cancelled.ID.String(),
		ClientID:    cancelled.ClientID,
		CarrierID:   cancelled.CarrierID,
		CancelledBy: cmd.UserID,
		Reason:      cmd.Reason,
		Timestamp:   time.Now(),
		RequestID:   cmd.CommandID(),
	}
	if err := h.publish(ctx, event); err != nil {
		// The deal is already cancelled; a lost event only delays the interrupt
		h.logger.Error("Failed to publish deal cancelled event",
			zap.String("dealId", event.DealID),
			zap.Error(err))
	}
	return nil
}

// transition applies a status change and publishes DealStatusChangedEvent
func (h *DealCommandHandler) transition(ctx context.Context, dealID, userID, requestID string, apply func(*deal.Deal) error) error {
	var updated *deal.Deal
	var from deal.Status

	err := h.dealRepo.FindOneAndUpdate(ctx, deal.ID(dealID), func(d *deal.Deal) (*deal.Deal, error) {
		if d == nil {
			return nil, shared.ErrNotFound("deal")
		}
		from = d.Status
		if err := apply(d); err != nil {
			return nil, err
		}
		updated = d
		return d, nil
	})
	if err != nil {
		return err
	}

	if from != updated.Status {
		h.publishStatus(ctx, updated, from, userID, requestID)
	}
	return nil
}

func (h *DealCommandHandler) publishStatus(ctx context.Context, d *deal.Deal, from deal.Status, by, requestID string) {
	event := &cqrs.DealStatusChangedEvent{
		DealID:    d.ID.String(),
		ClientID:  d.ClientID,
		CarrierID: d.CarrierID,
		From:      string(from),
		To:        string(d.Status),
		ChangedBy: by,
		Timestamp: time.Now(),
		RequestID: requestID,
	}
	if err := h.publish(ctx, event); err != nil {
		h.logger.Warn("Failed to publish deal status event",
			zap.String("dealId", event.DealID),
			zap.String("status", event.To),
			zap.Error(err))
	}
}

func (h *DealCommandHandler) publish(ctx context.Context, event interface{}) error {
	if h.publisher == nil {
		return nil
	}
	return h.publisher.Publish(ctx, event)
}
