package cqrs

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventPublisher interface for publishing events
type EventPublisher interface {
	Publish(ctx context.Context, event interface{}) error
}

// SSEBroadcastHelper turns notifications into SSENotificationEvents so every
// server instance can deliver them to its locally connected users
type SSEBroadcastHelper struct {
	eventPublisher EventPublisher
}

// NewSSEBroadcastHelper creates a new SSE broadcast helper
func NewSSEBroadcastHelper(eventPublisher EventPublisher) *SSEBroadcastHelper {
	return &SSEBroadcastHelper{
		eventPublisher: eventPublisher,
	}
}

// BroadcastToAll broadcasts a message to all connected users across all servers
func (h *SSEBroadcastHelper) BroadcastToAll(ctx context.Context, method string, params interface{}) error {
	return h.eventPublisher.Publish(ctx, newNotificationEvent(SSENotificationTypeBroadcast, nil, method, params))
}

// BroadcastToUsers broadcasts a message to specific users across all servers
func (h *SSEBroadcastHelper) BroadcastToUsers(ctx context.Context, userIDs []string, method string, params interface{}) error {
	targets := compactUsers(userIDs)
	if len(targets) == 0 {
		return nil
	}
	return h.eventPublisher.Publish(ctx, newNotificationEvent(SSENotificationTypeUsers, targets, method, params))
}

func newNotificationEvent(kind string, users []string, method string, params interface{}) *SSENotificationEvent {
	return &SSENotificationEvent{
		Type:        kind,
		TargetUsers: users,
		Method:      method,
		Params:      params,
		Timestamp:   time.Now(),
		RequestID:   uuid.New().String(),
	}
}

// compactUsers drops empty and repeated ids, keeping order
func compactUsers(userIDs []string) []string {
	if len(userIDs) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(userIDs))
	out := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
