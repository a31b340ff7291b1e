package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/haulnav/internal/navigation"
	"github.com/danghamo/haulnav/pkg/logger"
)

// Notification methods delivered to the carrier device over SSE
const (
	MethodSpeak       = "navigation.speech.speak"
	MethodSpeechClear = "navigation.speech.cancel"
	MethodEvent       = "navigation.event"
	MethodExit        = "navigation.exit"
)

const publishTimeout = 2 * time.Second

// UserNotifier delivers JSON-RPC notifications to users on any server instance.
// Satisfied by *cqrs.SSEBroadcastHelper.
type UserNotifier interface {
	BroadcastToUsers(ctx context.Context, userIDs []string, method string, params interface{}) error
}

// userChannel pushes notifications for one deal to fixed users. Delivery
// failures are logged and dropped so the navigator loop never blocks on
// the bus.
type userChannel struct {
	ctx      context.Context
	notifier UserNotifier
	dealID   string
	users    []string
	logger   *logger.Logger
}

func (c *userChannel) send(method string, params interface{}) {
	c.sendTo(c.users, method, params)
}

func (c *userChannel) sendTo(users []string, method string, params interface{}) {
	ctx, cancel := context.WithTimeout(c.ctx, publishTimeout)
	defer cancel()

	if err := c.notifier.BroadcastToUsers(ctx, users, method, params); err != nil {
		c.logger.Warn("Failed to deliver navigation notification",
			zap.String("method", method),
			zap.Error(err))
	}
}

// Publish implements mapview.Publisher
func (c *userChannel) Publish(method string, params any) {
	c.send(method, params)
}

// speechChannel implements navigation.Announcer on top of SSE
type speechChannel struct {
	*userChannel
}

func (s speechChannel) Speak(text string) {
	s.send(MethodSpeak, map[string]string{"deal_id": s.dealID, "text": text})
}

func (s speechChannel) Cancel() {
	s.send(MethodSpeechClear, map[string]string{"deal_id": s.dealID})
}

// eventChannel implements navigation.Notifier. The client watching the deal
// also hears about proximity and arrival.
type eventChannel struct {
	*userChannel
	clientID string
}

func (e eventChannel) Notify(event navigation.Event) {
	e.send(MethodEvent, event)

	switch event.Kind {
	case navigation.EventProximity, navigation.EventArrived:
		if e.clientID != "" {
			e.sendTo([]string{e.clientID}, MethodEvent, event)
		}
	case navigation.EventCancelled:
		e.send(MethodExit, map[string]string{
			"deal_id":  event.DealID,
			"redirect": event.Redirect,
			"text":     event.Text,
		})
	}
}
