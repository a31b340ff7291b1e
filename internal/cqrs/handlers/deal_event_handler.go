package handlers

import (
	"context"

	"go.uber.org/zap"

	cqrsevents "github.com/danghamo/haulnav/internal/cqrs"
	"github.com/danghamo/haulnav/pkg/logger"
)

// NavigationInterrupter stops navigation for a cancelled deal. Satisfied by
// *service.NavigationService.
type NavigationInterrupter interface {
	HandleDealCancelled(dealID, reason string) bool
}

// DealEventHandler reacts to deal lifecycle events on every server instance
type DealEventHandler struct {
	navigation NavigationInterrupter
	logger     *logger.Logger
}

// NewDealEventHandler creates a new deal event handler
func NewDealEventHandler(navigation NavigationInterrupter, logger *logger.Logger) *DealEventHandler {
	return &DealEventHandler{
		navigation: navigation,
		logger:     logger.WithComponent("deal-event-handler"),
	}
}

// HandleDealCancelledEvent interrupts the navigation of the cancelled deal if
// it runs on this server
func (h *DealEventHandler) HandleDealCancelledEvent(ctx context.Context, event *cqrsevents.DealCancelledEvent) error {
	interrupted := h.navigation.HandleDealCancelled(event.DealID, event.Reason)

	h.logger.Debug("Deal cancelled event handled",
		zap.String("dealId", event.DealID),
		zap.String("cancelledBy", event.CancelledBy),
		zap.Bool("interrupted", interrupted),
		zap.String("requestId", event.RequestID))
	return nil
}
