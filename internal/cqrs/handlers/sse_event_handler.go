package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/haulnav/internal/api/jsonrpcx"
	cqrsevents "github.com/danghamo/haulnav/internal/cqrs"
	"github.com/danghamo/haulnav/pkg/logger"
)

// Notification methods produced from bus events
const (
	MethodTrackingPosition = "tracking.position"
	MethodDealStatus       = "deal.status.changed"
)

// SSEBroadcaster interface for broadcasting SSE messages
type SSEBroadcaster interface {
	BroadcastToUsers(targetUsers []string, notification jsonrpcx.Notification)
	BroadcastToAll(notification jsonrpcx.Notification)
}

// SSEEventHandler handles events and converts them to SSE notifications for
// the users connected to this server
type SSEEventHandler struct {
	sseBroadcaster SSEBroadcaster
	logger         *logger.Logger
}

// NewSSEEventHandler creates a new SSE event handler
func NewSSEEventHandler(sseBroadcaster SSEBroadcaster, logger *logger.Logger) *SSEEventHandler {
	return &SSEEventHandler{
		sseBroadcaster: sseBroadcaster,
		logger:         logger.WithComponent("sse-event-handler"),
	}
}

// HandlePositionRecordedEvent pushes a stored position to both participants
func (h *SSEEventHandler) HandlePositionRecordedEvent(ctx context.Context, event *cqrsevents.PositionRecordedEvent) error {
	h.logger.Debug("Handling position recorded event",
		zap.String("dealId", event.DealID),
		zap.String("streamId", event.StreamID))

	notification := jsonrpcx.NewNotification(MethodTrackingPosition, map[string]interface{}{
		"deal_id":    event.DealID,
		"carrier_id": event.CarrierID,
		"latitude":   event.Latitude,
		"longitude":  event.Longitude,
		"speed_kmh":  event.SpeedKmh,
		"heading":    event.Heading,
		"timestamp":  event.Timestamp.Format(time.RFC3339Nano),
		"stream_id":  event.StreamID,
	})

	h.sseBroadcaster.BroadcastToUsers(participants(event.ClientID, event.CarrierID), notification)
	return nil
}

// HandleDealStatusChangedEvent tells both participants about a transition
func (h *SSEEventHandler) HandleDealStatusChangedEvent(ctx context.Context, event *cqrsevents.DealStatusChangedEvent) error {
	h.logger.Debug("Handling deal status changed event",
		zap.String("dealId", event.DealID),
		zap.String("from", event.From),
		zap.String("to", event.To),
		zap.String("requestId", event.RequestID))

	notification := jsonrpcx.NewNotification(MethodDealStatus, map[string]interface{}{
		"deal_id":    event.DealID,
		"from":       event.From,
		"to":         event.To,
		"changed_by": event.ChangedBy,
		"timestamp":  event.Timestamp.Format(time.RFC3339),
	})

	h.sseBroadcaster.BroadcastToUsers(participants(event.ClientID, event.CarrierID), notification)
	return nil
}

// HandleSSENotificationEvent handles SSENotificationEvent for distributed SSE messaging
func (h *SSEEventHandler) HandleSSENotificationEvent(ctx context.Context, event *cqrsevents.SSENotificationEvent) error {
	h.logger.Debug("Handling SSE notification event",
		zap.String("type", event.Type),
		zap.Strings("targetUsers", event.TargetUsers),
		zap.String("method", event.Method),
		zap.String("requestId", event.RequestID))

	notification := jsonrpcx.NewNotification(event.Method, event.Params)

	switch event.Type {
	case cqrsevents.SSENotificationTypeUsers:
		// Only users connected to this server receive it
		if len(event.TargetUsers) > 0 {
			h.sseBroadcaster.BroadcastToUsers(event.TargetUsers, notification)
		}
	case cqrsevents.SSENotificationTypeBroadcast:
		h.sseBroadcaster.BroadcastToAll(notification)
	default:
		h.logger.Warn("Unknown SSE notification type", zap.String("type", event.Type))
	}

	return nil
}

func participants(clientID, carrierID string) []string {
	users := make([]string, 0, 2)
	for _, id := range []string{clientID, carrierID} {
		if id != "" {
			users = append(users, id)
		}
	}
	return users
}
